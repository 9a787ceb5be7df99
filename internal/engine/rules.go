package engine

import (
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/donationledger/internal/config"
	"github.com/gyaneshwarpardhi/donationledger/internal/normalize"
)

// BuildRules compiles the hot-reloadable config sections into normalization
// rules. Alias collisions are rejected so a reload never silently changes
// which company a donation is attributed to.
func BuildRules(cfg *config.AppConfig) (*normalize.Rules, error) {
	if c := normalize.Conflicts(cfg.Companies); len(c) > 0 {
		return nil, fmt.Errorf("company aliases claimed twice: %s", strings.Join(c, "; "))
	}
	return &normalize.Rules{
		SavingsPercent: cfg.Allocation.SavingsPercent,
		FeePercent:     cfg.Allocation.FeePercent,
		Companies:      normalize.NewCompanyTable(cfg.Companies),
		Sanitizer: normalize.NewSanitizer(normalize.SanitizeConfig{
			DonorNameMax: cfg.Sanitize.DonorNameMax,
			MessageMax:   cfg.Sanitize.MessageMax,
			Denylist:     cfg.Sanitize.Denylist,
		}),
	}, nil
}
