package paystack

import "time"

// Config holds Paystack API settings. The secret key also signs webhooks.
type Config struct {
	SecretKey string        `env:"PAYSTACK_SECRET_KEY,required"`
	BaseURL   string        `env:"PAYSTACK_BASE_URL" envDefault:"https://api.paystack.co"`
	Timeout   time.Duration `env:"PAYSTACK_TIMEOUT" envDefault:"20s"`

	// MaxRetries is the number of extra attempts after a transport error, 429 or 5xx.
	MaxRetries int `env:"PAYSTACK_MAX_RETRIES" envDefault:"2"`
	// CircuitFailures opens the circuit after that many consecutive failures. Zero disables it.
	CircuitFailures int           `env:"PAYSTACK_CIRCUIT_FAILURES" envDefault:"5"`
	CircuitRecovery time.Duration `env:"PAYSTACK_CIRCUIT_RECOVERY" envDefault:"30s"`
}
