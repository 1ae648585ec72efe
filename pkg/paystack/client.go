package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// Observer receives the outcome of every API call. status is 0 on transport errors.
type Observer func(operation string, status int, elapsed time.Duration)

// Client is a minimal Paystack REST client covering transactions and subscriptions.
type Client struct {
	httpClient *http.Client
	baseURL    string
	secretKey  string
	logger     *slog.Logger
	observe    Observer
	maxRetries int
	backoff    BackoffStrategy
	breaker    *CircuitBreaker
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its timeout is kept as is.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// WithObserver registers a callback for call latency and status.
func WithObserver(o Observer) Option {
	return func(cl *Client) { cl.observe = o }
}

// WithRetry retries transport errors, 429 and 5xx answers up to maxRetries
// extra times, waiting according to backoff. A nil backoff uses DefaultBackoff.
func WithRetry(maxRetries int, backoff BackoffStrategy) Option {
	return func(cl *Client) {
		cl.maxRetries = max(maxRetries, 0)
		if backoff != nil {
			cl.backoff = backoff
		}
	}
}

// WithCircuitBreaker guards every call with cb. A nil cb disables the breaker.
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(cl *Client) { cl.breaker = cb }
}

// NewClient creates a Paystack client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: secret key is required", ErrInvalidConfig)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.paystack.co"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:  cfg.SecretKey,
		logger:     slog.Default(),
		maxRetries: max(cfg.MaxRetries, 0),
		backoff:    DefaultBackoff(),
	}
	if cfg.CircuitFailures > 0 {
		c.breaker = NewCircuitBreaker(cfg.CircuitFailures, 1, cfg.CircuitRecovery)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// InitializeTransactionRequest starts a hosted checkout bound to a plan.
type InitializeTransactionRequest struct {
	Email       string              `json:"email"`
	Plan        string              `json:"plan,omitempty"`
	Amount      int64               `json:"amount"`
	Currency    string              `json:"currency,omitempty"`
	Reference   string              `json:"reference"`
	CallbackURL string              `json:"callback_url,omitempty"`
	Metadata    TransactionMetadata `json:"metadata"`
}

// TransactionMetadata travels with the charge and comes back in webhooks.
type TransactionMetadata struct {
	TenantID         string   `json:"tenant_id"`
	PlanID           string   `json:"plan_id,omitempty"`
	UnpaidInvoiceIDs []string `json:"unpaid_invoice_ids"`
	CancelAction     string   `json:"cancel_action,omitempty"`
}

// Authorization is the hosted checkout returned by transaction initialization.
type Authorization struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// InitializeTransaction calls POST /transaction/initialize.
func (c *Client) InitializeTransaction(ctx context.Context, req InitializeTransactionRequest) (*Authorization, error) {
	var auth Authorization
	if err := c.post(ctx, "transaction.initialize", "/transaction/initialize", req, &auth); err != nil {
		return nil, err
	}
	if auth.AuthorizationURL == "" {
		return nil, fmt.Errorf("%w: %w: authorization_url is missing", ErrProvider, ErrInvalidResponse)
	}
	return &auth, nil
}

// SubscriptionUpdate is the answer to a plan change. Link is set when the
// provider asks the customer to complete a follow-up step.
type SubscriptionUpdate struct {
	Link             string `json:"link"`
	AuthorizationURL string `json:"authorization_url"`
}

// FollowUpURL returns the URL the customer should visit, if any.
func (u *SubscriptionUpdate) FollowUpURL() string {
	if u == nil {
		return ""
	}
	if u.AuthorizationURL != "" {
		return u.AuthorizationURL
	}
	return u.Link
}

// UpdateSubscription calls POST /subscription/update to move code onto plan.
func (c *Client) UpdateSubscription(ctx context.Context, code, plan string) (*SubscriptionUpdate, error) {
	var upd SubscriptionUpdate
	body := map[string]string{"code": code, "plan": plan}
	if err := c.post(ctx, "subscription.update", "/subscription/update", body, &upd); err != nil {
		return nil, err
	}
	return &upd, nil
}

// DisableSubscription calls POST /subscription/disable.
func (c *Client) DisableSubscription(ctx context.Context, code, token string) error {
	body := map[string]string{"code": code, "token": token}
	return c.post(ctx, "subscription.disable", "/subscription/disable", body, nil)
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// post sends in to path and decodes the data field into out. Retryable
// failures are attempted again while ctx and the retry budget allow.
func (c *Client) post(ctx context.Context, op, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("paystack %s: marshal request: %w", op, err)
	}

	for attempt := 0; ; attempt++ {
		if c.breaker != nil && !c.breaker.Allow() {
			c.logger.WarnContext(ctx, "paystack circuit open, request not sent",
				logger.Component("paystack"),
				slog.String("operation", op))
			return fmt.Errorf("%w: %s: %w", ErrProvider, op, ErrCircuitOpen)
		}

		retryable, err := c.do(ctx, op, path, payload, out)
		if c.breaker != nil {
			if retryable {
				c.breaker.RecordFailure()
			} else {
				c.breaker.RecordSuccess()
			}
		}
		if err == nil || !retryable || attempt >= c.maxRetries {
			return err
		}

		delay := c.backoff.NextInterval(attempt + 1)
		c.logger.WarnContext(ctx, "retrying paystack request",
			logger.Component("paystack"),
			slog.String("operation", op),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}

// do performs one attempt. retryable is true for transport errors, 429 and 5xx.
func (c *Client) do(ctx context.Context, op, path string, payload []byte, out any) (retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("paystack %s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record(op, 0, start)
		c.logger.ErrorContext(ctx, "paystack request failed",
			logger.Component("paystack"),
			slog.String("operation", op),
			logger.Error(err))
		return ctx.Err() == nil, fmt.Errorf("%w: %s: %w", ErrProvider, op, err)
	}
	defer resp.Body.Close()
	c.record(op, resp.StatusCode, start)

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return true, fmt.Errorf("%w: %s: read response: %w", ErrProvider, op, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := newAPIError(op, resp.StatusCode, body)
		c.logger.ErrorContext(ctx, "paystack returned an error",
			logger.Component("paystack"),
			slog.String("operation", op),
			logger.StatusCode(resp.StatusCode),
			slog.String("error_message", apiErr.Message),
			slog.String("body", apiErr.Body))
		return apiErr.Temporary(), apiErr
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return false, fmt.Errorf("%w: %s: %w: %w", ErrProvider, op, ErrInvalidResponse, err)
	}
	if !env.Status {
		apiErr := newAPIError(op, resp.StatusCode, body)
		c.logger.ErrorContext(ctx, "paystack rejected the request",
			logger.Component("paystack"),
			slog.String("operation", op),
			slog.String("error_message", apiErr.Message))
		return false, apiErr
	}
	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return false, fmt.Errorf("%w: %s: %w: %w", ErrProvider, op, ErrInvalidResponse, err)
		}
	}
	return false, nil
}

func (c *Client) record(op string, status int, start time.Time) {
	if c.observe != nil {
		c.observe(op, status, time.Since(start))
	}
}
