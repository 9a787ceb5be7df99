package config

import (
	"fmt"
	"strings"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Validate checks the config for:
//   - Percentages outside 0–100
//   - Unknown store driver, or fixture seeding on a durable store
//   - Non-positive limits and inverted health thresholds
//   - Empty company names or aliases
func Validate(cfg *AppConfig) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if p := cfg.Allocation.SavingsPercent; p < 0 || p > 100 {
		add("allocation.savings_percent: %v not in [0,100]", p)
	}
	if p := cfg.Allocation.FeePercent; p < 0 || p > 100 {
		add("allocation.fee_percent: %v not in [0,100]", p)
	}

	switch cfg.Store.Driver {
	case DriverPostgres:
		if cfg.Store.SeedFixture {
			add("store.seed_fixture: only valid with driver %q", DriverMemory)
		}
	case DriverMemory:
	default:
		add("store.driver: unknown driver %q (want %s or %s)", cfg.Store.Driver, DriverPostgres, DriverMemory)
	}

	if cfg.Sanitize.DonorNameMax < 1 {
		add("sanitize.donor_name_max: must be positive")
	}
	if cfg.Sanitize.MessageMax < 1 {
		add("sanitize.message_max: must be positive")
	}
	for i, w := range cfg.Sanitize.Denylist {
		if strings.TrimSpace(w) == "" {
			add("sanitize.denylist[%d]: empty entry", i)
		}
	}

	for canon, aliases := range cfg.Companies {
		if strings.TrimSpace(canon) == "" {
			add("companies: empty canonical name")
			continue
		}
		for j, a := range aliases {
			if strings.TrimSpace(a) == "" {
				add("companies[%s][%d]: empty alias", canon, j)
			}
		}
	}

	if cfg.Invalidation.Workers < 1 {
		add("invalidation.workers: must be positive")
	}
	if cfg.Invalidation.QueueDepth < 1 {
		add("invalidation.queue_depth: must be positive")
	}
	if u := cfg.Invalidation.RevalidateURL; u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		add("invalidation.revalidate_url: %q is not an http(s) URL", u)
	}

	if cfg.Health.FailedDownAt < cfg.Health.FailedDegradedAt {
		add("health.failed_down_at (%d) below failed_degraded_at (%d)", cfg.Health.FailedDownAt, cfg.Health.FailedDegradedAt)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
