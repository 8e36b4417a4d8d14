// Package poller is the server-side fleet sweep: every cycle it walks all
// users and their active packages, asks the aggregator for the latest
// checkpoint and writes only what changed.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/ParcelSync/internal/broker/messages"
	"github.com/BearBump/ParcelSync/internal/integrations/carrier"
	"github.com/BearBump/ParcelSync/internal/integrations/carrier/tracktw"
	"github.com/BearBump/ParcelSync/internal/metrics"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/normalizer"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const DefaultCallDelay = 100 * time.Millisecond

// ErrCycleAborted wraps the aggregator error that stopped a cycle.
var ErrCycleAborted = errors.New("poll cycle aborted")

type Store interface {
	ListUsers(ctx context.Context) ([]string, error)
	ListActivePackages(ctx context.Context, userID string) ([]*models.SyncRecord, error)
	UpdateStatus(ctx context.Context, userID string, id uuid.UUID, status models.Status, storeName, description string, at time.Time) error
}

type Aggregator interface {
	GetTracking(ctx context.Context, relationID string) (*tracktw.TrackingResponse, error)
}

type Producer interface {
	PublishChange(ctx context.Context, m messages.PackageChanged) error
}

type Poller struct {
	store    Store
	agg      Aggregator
	producer Producer
	metrics  *metrics.Metrics

	planner   *Planner
	callDelay time.Duration
	limiter   *rate.Limiter
	now       func() time.Time

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalCycles         atomic.Int64
	abortedCycles       atomic.Int64
	totalChecked        atomic.Int64
	totalUpdated        atomic.Int64
	totalErrors         atomic.Int64
	running             atomic.Bool
	lastErrorMu         sync.Mutex
	lastError           string
	lastReport          *CycleReport
}

func New(store Store, agg Aggregator, producer Producer) *Poller {
	p := &Poller{
		store:             store,
		agg:               agg,
		producer:          producer,
		planner:           NewPlanner(DefaultPlannerConfig(), nil),
		now:               time.Now,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
	p.setCallDelay(DefaultCallDelay)
	return p
}

func (p *Poller) setCallDelay(d time.Duration) {
	p.callDelay = d
	if d <= 0 {
		p.limiter = rate.NewLimiter(rate.Inf, 1)
		return
	}
	p.limiter = rate.NewLimiter(rate.Every(d), 1)
}

// WithSettings задаёт паузу между циклами (interval) и между запросами к агрегатору (callDelay).
func (p *Poller) WithSettings(interval, callDelay time.Duration) *Poller {
	if interval > 0 {
		cfg := p.planner.cfg
		cfg.Interval = interval
		p.planner = NewPlanner(cfg, p.planner.r)
	}
	if callDelay > 0 {
		p.setCallDelay(callDelay)
	}
	return p
}

func (p *Poller) WithPlanner(cfg PlannerConfig) *Poller {
	p.planner = NewPlanner(cfg, nil)
	return p
}

func (p *Poller) WithMetrics(m *metrics.Metrics) *Poller {
	p.metrics = m
	return p
}

// Trigger forces an immediate poll cycle (best-effort, non-blocking).
func (p *Poller) Trigger() {
	p.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

type CycleReport struct {
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Users      int       `json:"users"`
	Checked    int       `json:"checked"`
	Updated    int       `json:"updated"`
	Unchanged  int       `json:"unchanged"`
	Skipped    int       `json:"skipped"`
	NotFound   int       `json:"notFound"`
	Failed     int       `json:"failed"`
	Aborted    bool      `json:"aborted"`
}

type Stats struct {
	StartedAt     time.Time    `json:"startedAt"`
	Interval      string       `json:"interval"`
	Running       bool         `json:"running"`
	LastCycleAt   *time.Time   `json:"lastCycleAt,omitempty"`
	LastTriggerAt *time.Time   `json:"lastTriggerAt,omitempty"`
	TotalCycles   int64        `json:"totalCycles"`
	AbortedCycles int64        `json:"abortedCycles"`
	TotalChecked  int64        `json:"totalChecked"`
	TotalUpdated  int64        `json:"totalUpdated"`
	TotalErrors   int64        `json:"totalErrors"`
	LastError     string       `json:"lastError,omitempty"`
	LastReport    *CycleReport `json:"lastReport,omitempty"`
}

func (p *Poller) Stats() Stats {
	st := Stats{
		StartedAt:     time.Unix(0, p.startedAtUnixNano).UTC(),
		Interval:      p.planner.Interval().String(),
		Running:       p.running.Load(),
		TotalCycles:   p.totalCycles.Load(),
		AbortedCycles: p.abortedCycles.Load(),
		TotalChecked:  p.totalChecked.Load(),
		TotalUpdated:  p.totalUpdated.Load(),
		TotalErrors:   p.totalErrors.Load(),
	}
	if n := p.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := p.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	if p.lastReport != nil {
		r := *p.lastReport
		st.LastReport = &r
	}
	p.lastErrorMu.Unlock()
	return st
}

func (p *Poller) setLastError(err error) {
	p.lastErrorMu.Lock()
	p.lastError = err.Error()
	p.lastErrorMu.Unlock()
}

// Run sweeps immediately, then after every planner delay or Trigger, until
// ctx ends.
func (p *Poller) Run(ctx context.Context) error {
	aborts := 0
	for {
		if _, err := p.RunOnce(ctx); errors.Is(err, ErrCycleAborted) {
			aborts++
		} else {
			aborts = 0
		}

		t := time.NewTimer(p.planner.NextDelay(aborts))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		case <-p.triggerCh:
			t.Stop()
		}
	}
}

// RunOnce processes users and their packages one by one. A systemic
// aggregator error (429, 401) stops the whole cycle.
func (p *Poller) RunOnce(ctx context.Context) (CycleReport, error) {
	rep := CycleReport{StartedAt: p.now().UTC()}
	p.lastCycleUnixNano.Store(rep.StartedAt.UnixNano())
	p.running.Store(true)
	defer p.running.Store(false)

	err := p.sweep(ctx, &rep)
	rep.FinishedAt = p.now().UTC()
	p.totalCycles.Add(1)

	result := "ok"
	switch {
	case errors.Is(err, ErrCycleAborted):
		rep.Aborted = true
		result = "aborted"
		p.abortedCycles.Add(1)
	case err != nil && ctx.Err() != nil:
		result = "cancelled"
	case err != nil:
		result = "error"
	}
	if err != nil && ctx.Err() == nil {
		p.setLastError(err)
		slog.Error("poll cycle", "error", err.Error())
	}
	p.metrics.PollCycle(result)

	p.lastErrorMu.Lock()
	p.lastReport = &rep
	p.lastErrorMu.Unlock()

	slog.Info("poll cycle done",
		"users", rep.Users, "checked", rep.Checked, "updated", rep.Updated,
		"unchanged", rep.Unchanged, "skipped", rep.Skipped, "not_found", rep.NotFound,
		"failed", rep.Failed, "aborted", rep.Aborted,
		"took", rep.FinishedAt.Sub(rep.StartedAt).String())
	return rep, err
}

func (p *Poller) sweep(ctx context.Context, rep *CycleReport) error {
	users, err := p.store.ListUsers(ctx)
	if err != nil {
		return errors.Wrap(err, "list users")
	}
	for _, userID := range users {
		pkgs, err := p.store.ListActivePackages(ctx, userID)
		if err != nil {
			p.totalErrors.Add(1)
			slog.Error("list active packages", "user_id", userID, "error", err.Error())
			continue
		}
		rep.Users++
		for _, rec := range pkgs {
			if !rec.IsActive() {
				continue
			}
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
			if err := p.processOne(ctx, userID, rec, rep); err != nil {
				return err
			}
		}
	}
	return nil
}

// processOne возвращает ошибку только если цикл надо остановить.
func (p *Poller) processOne(ctx context.Context, userID string, rec *models.SyncRecord, rep *CycleReport) error {
	rep.Checked++
	p.totalChecked.Add(1)

	resp, err := p.agg.GetTracking(ctx, rec.ExternalRelationID)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return ctx.Err()
	case carrier.IsSystemic(err):
		p.metrics.PollPackage("aborted")
		return fmt.Errorf("%w: %w", ErrCycleAborted, err)
	case carrier.IsKind(err, carrier.KindNotFound):
		rep.NotFound++
		p.metrics.PollPackage("not_found")
		slog.Warn("relation not found", "user_id", userID, "package_id", rec.ID.String(), "relation_id", rec.ExternalRelationID)
		return nil
	default:
		rep.Failed++
		p.totalErrors.Add(1)
		p.setLastError(err)
		p.metrics.PollPackage("failed")
		slog.Error("get tracking", "user_id", userID, "package_id", rec.ID.String(), "error", err.Error())
		return nil
	}

	latest, ok := resp.Latest()
	if !ok {
		rep.Skipped++
		p.metrics.PollPackage("skipped")
		return nil
	}
	status := latest.Canonical()
	store := normalizer.ExtractBracketLocation(latest.Status)
	if status == rec.Status && (store == "" || store == rec.StoreName) {
		rep.Unchanged++
		p.metrics.PollPackage("unchanged")
		return nil
	}

	now := p.now().UTC()
	if err := p.store.UpdateStatus(ctx, userID, rec.ID, status, store, latest.Status, now); err != nil {
		rep.Failed++
		p.totalErrors.Add(1)
		p.setLastError(err)
		p.metrics.PollPackage("failed")
		slog.Error("update status", "user_id", userID, "package_id", rec.ID.String(), "error", err.Error())
		return nil
	}
	rep.Updated++
	p.totalUpdated.Add(1)
	p.metrics.PollPackage("updated")

	change := messages.PackageChanged{
		UserID:         userID,
		PackageID:      rec.ID,
		TrackingNumber: rec.TrackingNumber,
		Origin:         messages.OriginPoller,
		ChangedAt:      now,
		PreviousStatus: rec.Status,
		Fields: messages.PackageFields{
			Status:            &status,
			LatestDescription: &latest.Status,
			LastUpdated:       &now,
		},
	}
	if store != "" {
		change.Fields.StoreName = &store
	}
	p.publish(ctx, change)
	return nil
}

func (p *Poller) publish(ctx context.Context, m messages.PackageChanged) {
	if p.producer == nil {
		return
	}
	// Kafka может быть не готова сразу после старта, поэтому несколько попыток.
	var err error
	for i := 0; i < 3; i++ {
		if err = p.producer.PublishChange(ctx, m); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(150*(i+1)) * time.Millisecond):
		}
	}
	slog.Error("publish package change", "package_id", m.PackageID.String(), "error", err.Error())
}
