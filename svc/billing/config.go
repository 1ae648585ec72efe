package billing

import "time"

// Config holds billing service settings.
type Config struct {
	CataloguePath  string        `env:"BILLING_CATALOGUE_PATH"`
	WebhookTimeout time.Duration `env:"BILLING_WEBHOOK_TIMEOUT" envDefault:"15s"`
	SweepInterval  time.Duration `env:"BILLING_SWEEP_INTERVAL" envDefault:"5m"`
	SweepLockTTL   time.Duration `env:"BILLING_SWEEP_LOCK_TTL" envDefault:"2m"`
	CycleLength    time.Duration `env:"BILLING_CYCLE_LENGTH" envDefault:"720h"`
	Queue          string        `env:"BILLING_QUEUE" envDefault:"billing"`
}
