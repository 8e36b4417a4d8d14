// Package providers собирает набор адаптеров трекинга из конфига.
package providers

import (
	"log/slog"

	"github.com/BearBump/ParcelSync/config"
	"github.com/BearBump/ParcelSync/internal/integrations/carrier"
	"github.com/BearBump/ParcelSync/internal/integrations/carrier/fake"
	"github.com/BearBump/ParcelSync/internal/integrations/carrier/familymart"
	"github.com/BearBump/ParcelSync/internal/integrations/carrier/okmart"
	"github.com/BearBump/ParcelSync/internal/integrations/carrier/parceltw"
	"github.com/BearBump/ParcelSync/internal/integrations/carrier/shopee"
	"github.com/BearBump/ParcelSync/internal/integrations/carrier/tracktw"
	"github.com/BearBump/ParcelSync/internal/integrations/carrier/tracktwweb"
	"github.com/BearBump/ParcelSync/internal/services/coordinator"
)

// Deps: общие зависимости агрегатора; nil означает in-memory кэш и без лимита.
type Deps struct {
	RelationCache tracktw.RelationCache
	RateLimiter   tracktw.RateLimiter
}

// NewTrackTW returns nil when no token is configured.
func NewTrackTW(cfg config.TrackingConfig, deps Deps) *tracktw.Client {
	if cfg.TrackTWToken == "" {
		return nil
	}
	c := tracktw.New(cfg.TrackTWBaseURL, cfg.TrackTWToken).WithRelationCache(deps.RelationCache)
	if deps.RateLimiter != nil && cfg.TrackTWRateLimit > 0 {
		c = c.WithRateLimit(deps.RateLimiter, int64(cfg.TrackTWRateLimit))
	}
	return c
}

// Build returns providers in dispatch order. With nothing configured it falls
// back to the offline fake so the process still answers.
func Build(cfg config.TrackingConfig, deps Deps) []carrier.Provider {
	if cfg.UseFakeProvider {
		return []carrier.Provider{fake.New()}
	}

	var out []carrier.Provider
	if c := NewTrackTW(cfg, deps); c != nil {
		out = append(out, c)
	}
	if cfg.ParcelTWBaseURL != "" {
		out = append(out, parceltw.New(cfg.ParcelTWBaseURL))
	}
	if cfg.EnableScrapers {
		out = append(out,
			familymart.New(""),
			okmart.New(""),
			shopee.New(""),
			tracktwweb.New(""),
		)
	}
	if len(out) == 0 {
		slog.Warn("no tracking providers configured, using fake provider")
		return []carrier.Provider{fake.New()}
	}
	return coordinator.DefaultOrder(out)
}

func Names(ps []carrier.Provider) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Name())
	}
	return out
}
