package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/audit"
	"github.com/dmitrymomot/billingkit/pkg/paystack"
	"github.com/dmitrymomot/billingkit/pkg/queue"
	"github.com/dmitrymomot/billingkit/pkg/webhook"
)

// Provider is the subset of the payment provider API used by the service.
type Provider interface {
	InitializeTransaction(ctx context.Context, req paystack.InitializeTransactionRequest) (*paystack.Authorization, error)
	UpdateSubscription(ctx context.Context, code, plan string) (*paystack.SubscriptionUpdate, error)
	DisableSubscription(ctx context.Context, code, token string) error
}

// SignatureVerifier authenticates webhook bodies.
type SignatureVerifier interface {
	Verify(payload []byte, signature string) error
}

var (
	_ Provider          = (*paystack.Client)(nil)
	_ SignatureVerifier = (*webhook.Verifier)(nil)
)

// Service owns the tenant billing state machine.
type Service struct {
	catalogue *Catalogue
	store     Store
	provider  Provider
	verifier  SignatureVerifier
	enqueuer  *queue.Enqueuer
	recorder  *audit.Recorder
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time

	cycleLength    time.Duration
	webhookTimeout time.Duration
	queueName      string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithRecorder sets how audit entries pick up request scoped fields.
func WithRecorder(r *audit.Recorder) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithConfig applies cycle length, webhook timeout and queue name from cfg.
func WithConfig(cfg Config) ServiceOption {
	return func(s *Service) {
		if cfg.CycleLength > 0 {
			s.cycleLength = cfg.CycleLength
		}
		if cfg.WebhookTimeout > 0 {
			s.webhookTimeout = cfg.WebhookTimeout
		}
		if cfg.Queue != "" {
			s.queueName = cfg.Queue
		}
	}
}

// NewService wires the billing service. Every dependency is required.
func NewService(catalogue *Catalogue, store Store, provider Provider, verifier SignatureVerifier, opts ...ServiceOption) (*Service, error) {
	switch {
	case catalogue == nil:
		return nil, fmt.Errorf("billing: catalogue is required")
	case store == nil:
		return nil, fmt.Errorf("billing: store is required")
	case provider == nil:
		return nil, fmt.Errorf("billing: provider is required")
	case verifier == nil:
		return nil, fmt.Errorf("billing: signature verifier is required")
	}

	s := &Service{
		catalogue:      catalogue,
		store:          store,
		provider:       provider,
		verifier:       verifier,
		recorder:       audit.NewRecorder(),
		logger:         slog.Default(),
		now:            time.Now,
		cycleLength:    30 * 24 * time.Hour,
		webhookTimeout: 15 * time.Second,
		queueName:      "billing",
	}
	for _, opt := range opts {
		opt(s)
	}

	// The enqueuer is only used through Using(tx.Outbox()), so its own repository never writes.
	enq, err := queue.NewEnqueuer(discardRepository{}, queue.WithDefaultQueue(s.queueName))
	if err != nil {
		return nil, err
	}
	s.enqueuer = enq
	return s, nil
}

// Catalogue returns the plan catalogue.
func (s *Service) Catalogue() *Catalogue { return s.catalogue }

type discardRepository struct{}

func (discardRepository) CreateTask(context.Context, *queue.Task) error {
	return fmt.Errorf("billing: tasks must be enqueued through a transaction outbox")
}

// enqueueAudit enqueues an audit entry in tx.
func (s *Service) enqueueAudit(ctx context.Context, tx Tx, tenantID uuid.UUID, action string, prev, curr *Record, opts ...audit.EntryOption) error {
	opts = append([]audit.EntryOption{
		audit.WithResource("tenant_billing", tenantID.String()),
		audit.WithChange(prev.snapshot(), curr.snapshot()),
	}, opts...)
	entry, err := s.recorder.Entry(ctx, tenantID.String(), action, opts...)
	if err != nil {
		return fmt.Errorf("build audit entry: %w", err)
	}
	if err := s.enqueuer.Using(tx.Outbox()).Enqueue(ctx, entry); err != nil {
		return fmt.Errorf("enqueue audit entry: %w", err)
	}
	return nil
}

// notify enqueues a merchant notification in tx. Records without a billing email are skipped.
func (s *Service) notify(ctx context.Context, tx Tx, kind NotificationKind, rec *Record) error {
	if rec == nil || rec.BillingEmail == "" {
		return nil
	}
	task := NotificationTask{
		TenantID:     rec.TenantID.String(),
		Kind:         kind,
		Email:        rec.BillingEmail,
		Plan:         string(rec.PlanCode),
		CycleResetAt: rec.CycleResetAt,
	}
	if err := s.enqueuer.Using(tx.Outbox()).Enqueue(ctx, task); err != nil {
		return fmt.Errorf("enqueue %s notification: %w", kind, err)
	}
	return nil
}
