package admission

import "time"

// Config holds the tunables for the admission subsystem. Every value is
// injectable; nothing is hardcoded in the components themselves.
type Config struct {
	MinWorkers                 int           `env:"ADMISSION_MIN_WORKERS" envDefault:"1"`
	MaxWorkersPerTenant        int           `env:"ADMISSION_MAX_WORKERS_PER_TENANT" envDefault:"5"`
	RequestsPerWorkerThreshold int           `env:"ADMISSION_REQUESTS_PER_WORKER" envDefault:"10"`
	BaseBackoff                time.Duration `env:"ADMISSION_BASE_BACKOFF" envDefault:"2s"`
	MaxBackoff                 time.Duration `env:"ADMISSION_MAX_BACKOFF" envDefault:"60s"`
	MaxRetries                 int           `env:"ADMISSION_MAX_RETRIES" envDefault:"3"`
	ScaleInterval              time.Duration `env:"ADMISSION_SCALE_INTERVAL" envDefault:"30s"`
	PollInterval               time.Duration `env:"ADMISSION_POLL_INTERVAL" envDefault:"1s"`
	ExecuteTimeout             time.Duration `env:"ADMISSION_EXECUTE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout            time.Duration `env:"ADMISSION_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	ResultTTL                  time.Duration `env:"ADMISSION_RESULT_TTL" envDefault:"10m"`
	IdleTenantTTL              time.Duration `env:"ADMISSION_IDLE_TENANT_TTL" envDefault:"5m"`

	// TenantRatePerSecond caps how fast each tenant's workers pull work,
	// protecting the upstream quota. Zero disables the limiter.
	TenantRatePerSecond float64 `env:"ADMISSION_TENANT_RATE" envDefault:"0"`
}

// DefaultConfig returns the configuration defaults used when no
// environment overrides are loaded.
func DefaultConfig() Config {
	return Config{
		MinWorkers:                 1,
		MaxWorkersPerTenant:        5,
		RequestsPerWorkerThreshold: 10,
		BaseBackoff:                DefaultBaseBackoff,
		MaxBackoff:                 DefaultMaxBackoff,
		MaxRetries:                 DefaultMaxRetries,
		ScaleInterval:              30 * time.Second,
		PollInterval:               time.Second,
		ExecuteTimeout:             30 * time.Second,
		ShutdownTimeout:            30 * time.Second,
		ResultTTL:                  DefaultResultTTL,
		IdleTenantTTL:              5 * time.Minute,
	}
}

// withDefaults fills zero-valued fields so a partially populated Config
// behaves predictably.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MinWorkers <= 0 {
		c.MinWorkers = def.MinWorkers
	}
	if c.MaxWorkersPerTenant <= 0 {
		c.MaxWorkersPerTenant = def.MaxWorkersPerTenant
	}
	if c.RequestsPerWorkerThreshold <= 0 {
		c.RequestsPerWorkerThreshold = def.RequestsPerWorkerThreshold
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = def.BaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.ScaleInterval <= 0 {
		c.ScaleInterval = def.ScaleInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.ExecuteTimeout <= 0 {
		c.ExecuteTimeout = def.ExecuteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = def.ResultTTL
	}
	if c.IdleTenantTTL <= 0 {
		c.IdleTenantTTL = def.IdleTenantTTL
	}
	return c
}
