package config

import "time"

// AppConfig is the top-level YAML structure.
type AppConfig struct {
	Version      string              `yaml:"version"`
	Server       ServerConf          `yaml:"server"`
	Engine       EngineConf          `yaml:"engine"`
	Store        StoreConf           `yaml:"store"`
	Allocation   AllocationConf      `yaml:"allocation"`
	Sanitize     SanitizeConf        `yaml:"sanitize"`
	Companies    map[string][]string `yaml:"companies"` // canonical name → aliases
	Invalidation InvalidationConf    `yaml:"invalidation"`
	Health       HealthConf          `yaml:"health"`
	Archive      ArchiveConf         `yaml:"archive"`
}

// ServerConf holds HTTP listener settings. Not hot-reloadable.
type ServerConf struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
}

// EngineConf tunes envelope processing.
type EngineConf struct {
	ProcessTimeoutMs int `yaml:"process_timeout_ms"`
	// Livemode, when set, ignores envelopes from the other Stripe mode.
	Livemode *bool `yaml:"livemode"`
}

// StoreConf selects the ledger backend.
type StoreConf struct {
	Driver                 string `yaml:"driver"` // postgres | memory
	SeedFixture            bool   `yaml:"seed_fixture"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMs      int    `yaml:"conn_max_lifetime_ms"`
	EnvelopeReclaimAfterMs int    `yaml:"envelope_reclaim_after_ms"`
}

// AllocationConf holds the donation split percentages.
type AllocationConf struct {
	SavingsPercent float64 `yaml:"savings_percent"`
	FeePercent     float64 `yaml:"fee_percent"`
}

// SanitizeConf bounds donor-supplied free text.
type SanitizeConf struct {
	DonorNameMax int      `yaml:"donor_name_max"`
	MessageMax   int      `yaml:"message_max"`
	Denylist     []string `yaml:"denylist"`
}

// InvalidationConf sizes the post-commit notifier.
type InvalidationConf struct {
	Workers        int    `yaml:"workers"`
	QueueDepth     int    `yaml:"queue_depth"`
	TimeoutMs      int    `yaml:"timeout_ms"`
	PageCacheSize  int    `yaml:"page_cache_size"`
	PageCacheTTLMs int    `yaml:"page_cache_ttl_ms"`
	RevalidateURL  string `yaml:"revalidate_url"`
}

// HealthConf sets the probe's classification thresholds.
type HealthConf struct {
	StaleAfterMs     int `yaml:"stale_after_ms"`
	FailedDegradedAt int `yaml:"failed_degraded_at"`
	FailedDownAt     int `yaml:"failed_down_at"`
	QueueDegradedAt  int `yaml:"queue_degraded_at"`
	CheckTimeoutMs   int `yaml:"check_timeout_ms"`
}

// ArchiveConf points the monthly export at an S3 bucket.
type ArchiveConf struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

// Ms converts a millisecond setting to a Duration.
func Ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
