// Package coordinator routes tracking queries to the first provider that
// claims the carrier and fans batch queries out concurrently.
package coordinator

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/BearBump/ParcelSync/internal/integrations/carrier"
	"github.com/BearBump/ParcelSync/internal/metrics"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type Outcome struct {
	Result models.TrackingResult
	Err    error
}

type Coordinator struct {
	providers []carrier.Provider
	limit     int
	metrics   *metrics.Metrics
}

// New keeps providers in the given order; that order is the dispatch priority.
func New(providers ...carrier.Provider) *Coordinator {
	return &Coordinator{providers: providers}
}

// WithConcurrency ограничивает TrackAll; 0: без ограничения.
func (c *Coordinator) WithConcurrency(n int) *Coordinator {
	c.limit = n
	return c
}

func (c *Coordinator) WithMetrics(m *metrics.Metrics) *Coordinator {
	c.metrics = m
	return c
}

// methodRank: API-провайдеры раньше скрейпинговых.
var methodRank = map[string]int{
	"tracktw":    0,
	"parceltw":   1,
	"familymart": 2,
	"okmart":     2,
	"shopee":     2,
	"tracktwweb": 3,
	"fake":       4,
}

// DefaultOrder sorts providers API-backed first, scraping after. Unknown
// providers go last; ties keep the input order.
func DefaultOrder(providers []carrier.Provider) []carrier.Provider {
	out := append([]carrier.Provider(nil), providers...)
	rank := func(p carrier.Provider) int {
		if r, ok := methodRank[p.Name()]; ok {
			return r
		}
		return len(methodRank)
	}
	sort.SliceStable(out, func(i, j int) bool { return rank(out[i]) < rank(out[j]) })
	return out
}

func (c *Coordinator) Providers() []carrier.Provider { return c.providers }

func (c *Coordinator) providerFor(cr models.Carrier) carrier.Provider {
	for _, p := range c.providers {
		if carrier.Supports(p, cr) {
			return p
		}
	}
	return nil
}

func (c *Coordinator) CanTrack(cr models.Carrier) bool {
	return c.providerFor(cr) != nil
}

// Track dispatches to the first capable provider. With no capable provider it
// returns a pending result and no error.
func (c *Coordinator) Track(ctx context.Context, number string, cr models.Carrier) (models.TrackingResult, error) {
	p := c.providerFor(cr)
	if p == nil {
		return models.TrackingResult{
			TrackingNumber: number,
			Carrier:        cr,
			CurrentStatus:  models.StatusPending,
		}, nil
	}

	start := time.Now()
	res, err := p.Track(ctx, number, cr)
	result := "ok"
	if err != nil {
		result = string(carrier.KindOf(err))
		if result == "" {
			result = "error"
		}
	}
	c.metrics.ObserveProviderCall(p.Name(), result, time.Since(start))
	return res, err
}

// SeedRelation hands a stored relation handle to every provider that keeps
// one. Seeding is best-effort: on failure the provider imports again.
func (c *Coordinator) SeedRelation(ctx context.Context, number, relationID string) {
	if relationID == "" {
		return
	}
	for _, p := range c.providers {
		seeder, ok := p.(carrier.RelationSeeder)
		if !ok {
			continue
		}
		if err := seeder.SetRelation(ctx, number, relationID); err != nil {
			slog.Warn("seed relation", "provider", p.Name(), "tracking_number", number, "error", err.Error())
		}
	}
}

// TrackAll queries every package concurrently. One failure never cancels the
// others; each package gets its own Outcome.
func (c *Coordinator) TrackAll(ctx context.Context, pkgs []*models.Package) map[uuid.UUID]Outcome {
	out := make(map[uuid.UUID]Outcome, len(pkgs))
	results := make([]Outcome, len(pkgs))

	// горутины не возвращают ошибку, поэтому контекст группы не отменяется
	var g errgroup.Group
	if c.limit > 0 {
		g.SetLimit(c.limit)
	}
	for i, p := range pkgs {
		i, p := i, p
		g.Go(func() error {
			c.SeedRelation(ctx, p.TrackingNumber, p.ExternalRelationID)
			res, err := c.Track(ctx, p.TrackingNumber, p.Carrier)
			if err != nil {
				slog.Warn("track package", "package_id", p.ID.String(), "tracking_number", p.TrackingNumber, "error", err.Error())
			}
			results[i] = Outcome{Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, p := range pkgs {
		out[p.ID] = results[i]
	}
	return out
}
