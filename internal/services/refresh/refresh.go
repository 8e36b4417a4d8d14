// Package refresh re-queries packages through the coordinator and writes the
// results into the local store.
//
// At most one query per tracking number is in flight; a second request for
// the same number is dropped as skipped. Batch refreshes run on a bounded
// worker pool and report monotonic progress.
package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/ParcelSync/internal/metrics"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	DefaultMaxConcurrency = 3
	DefaultBatchTimeout   = 10 * time.Second
	DefaultStaleAfter     = 5 * time.Minute
)

type Outcome string

const (
	OutcomeRefreshed Outcome = "refreshed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

type Tracker interface {
	CanTrack(c models.Carrier) bool
	Track(ctx context.Context, number string, c models.Carrier) (models.TrackingResult, error)
}

// RelationSeeder is implemented by trackers that can reuse a relation handle
// already stored on the package instead of importing the number again.
type RelationSeeder interface {
	SeedRelation(ctx context.Context, number, relationID string)
}

// LocalStore: запись под блокировкой пакета (см. localstore.Store.Update).
type LocalStore interface {
	Update(ctx context.Context, id uuid.UUID, fn func(cur *models.Package) (*models.Package, error)) (*models.Package, error)
}

// Syncer получает обновлённый пакет для отправки в облако.
type Syncer interface {
	Push(ctx context.Context, p *models.Package) error
}

type ProgressFunc func(completed, total int)

type Summary struct {
	Total     int
	Refreshed int
	Skipped   int
	Cancelled int
	Failed    int
	Errors    map[uuid.UUID]error
	TimedOut  bool
}

func (s *Summary) add(id uuid.UUID, o Outcome, err error) {
	switch o {
	case OutcomeRefreshed:
		s.Refreshed++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeCancelled:
		s.Cancelled++
	case OutcomeFailed:
		s.Failed++
		if s.Errors == nil {
			s.Errors = map[uuid.UUID]error{}
		}
		s.Errors[id] = err
	}
}

type Orchestrator struct {
	tracker Tracker
	store   LocalStore
	syncer  Syncer
	metrics *metrics.Metrics
	now     func() time.Time

	progress ProgressFunc

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func New(tracker Tracker, store LocalStore, syncer Syncer) *Orchestrator {
	return &Orchestrator{
		tracker:  tracker,
		store:    store,
		syncer:   syncer,
		now:      time.Now,
		inFlight: map[string]struct{}{},
	}
}

func (o *Orchestrator) WithMetrics(m *metrics.Metrics) *Orchestrator {
	o.metrics = m
	return o
}

func (o *Orchestrator) WithProgress(fn ProgressFunc) *Orchestrator {
	o.progress = fn
	return o
}

// IsStale: пакет давно не обновлялся и его стоит перезапросить.
func (o *Orchestrator) IsStale(p *models.Package, threshold time.Duration) bool {
	if threshold <= 0 {
		threshold = DefaultStaleAfter
	}
	return o.now().Sub(p.LastUpdated) > threshold
}

func (o *Orchestrator) InFlight(number string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inFlight[number]
	return ok
}

func (o *Orchestrator) acquire(number string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[number]; busy {
		return false
	}
	o.inFlight[number] = struct{}{}
	return true
}

func (o *Orchestrator) release(number string) {
	o.mu.Lock()
	delete(o.inFlight, number)
	o.mu.Unlock()
}

// RefreshOne queries one package and applies the result. The error is non-nil
// only for OutcomeFailed; cancellation is reported as OutcomeCancelled.
func (o *Orchestrator) RefreshOne(ctx context.Context, p *models.Package) (Outcome, error) {
	out, err := o.refreshOne(ctx, p)
	o.metrics.RefreshOutcome(string(out))
	return out, err
}

func (o *Orchestrator) refreshOne(ctx context.Context, p *models.Package) (Outcome, error) {
	if p.IsCompleted() {
		return OutcomeSkipped, nil
	}
	if !o.tracker.CanTrack(p.Carrier) {
		return OutcomeSkipped, nil
	}
	if !o.acquire(p.TrackingNumber) {
		return OutcomeSkipped, nil
	}
	defer o.release(p.TrackingNumber)

	if ctx.Err() != nil {
		return OutcomeCancelled, nil
	}

	if seeder, ok := o.tracker.(RelationSeeder); ok && p.ExternalRelationID != "" {
		seeder.SeedRelation(ctx, p.TrackingNumber, p.ExternalRelationID)
	}

	res, err := o.tracker.Track(ctx, p.TrackingNumber, p.Carrier)
	if isCancellation(ctx, err) {
		return OutcomeCancelled, nil
	}
	if err != nil {
		slog.Warn("refresh package", "package_id", p.ID.String(), "tracking_number", p.TrackingNumber, "error", err.Error())
		return OutcomeFailed, err
	}

	// отменённая задача ничего не пишет
	if ctx.Err() != nil {
		return OutcomeCancelled, nil
	}

	updated, err := o.store.Update(ctx, p.ID, func(cur *models.Package) (*models.Package, error) {
		// пакет удалили, пока шёл запрос: не воскрешаем
		if cur == nil {
			return nil, nil
		}
		cur.ApplyResult(res, o.now())
		return cur, nil
	})
	if err != nil {
		if isCancellation(ctx, err) {
			return OutcomeCancelled, nil
		}
		slog.Error("refresh write", "package_id", p.ID.String(), "error", err.Error())
		return OutcomeFailed, errors.Wrap(err, "write local store")
	}
	if updated == nil {
		return OutcomeSkipped, nil
	}

	if o.syncer != nil {
		err := o.syncer.Push(ctx, updated)
		switch {
		case err == nil, isCancellation(ctx, err):
		case errors.Is(err, models.ErrPackageDeleted):
			return OutcomeSkipped, nil
		default:
			// облако догонит на следующем цикле
			slog.Warn("refresh push", "package_id", p.ID.String(), "error", err.Error())
		}
	}
	return OutcomeRefreshed, nil
}

// RefreshAll refreshes pkgs on at most maxConcurrency workers. Item order is
// not guaranteed; the progress sequence is.
func (o *Orchestrator) RefreshAll(ctx context.Context, pkgs []*models.Package, maxConcurrency int) Summary {
	b := o.newBatch(len(pkgs))
	o.runBatch(ctx, b, pkgs, maxConcurrency)
	return b.snapshot()
}

// RefreshAllWithTimeout returns as soon as the batch finishes or the timeout
// fires. On timeout the batch context is cancelled and items still running are
// abandoned; they observe the cancellation before writing.
func (o *Orchestrator) RefreshAllWithTimeout(ctx context.Context, pkgs []*models.Package, maxConcurrency int, timeout time.Duration) Summary {
	if timeout <= 0 {
		timeout = DefaultBatchTimeout
	}
	ctx, cancel := context.WithCancel(ctx)

	b := o.newBatch(len(pkgs))
	done := make(chan struct{})
	go func() {
		defer close(done)
		o.runBatch(ctx, b, pkgs, maxConcurrency)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		cancel()
		return b.snapshot()
	case <-timer.C:
		cancel()
		s := b.snapshot()
		s.TimedOut = true
		slog.Info("refresh batch timed out", "total", s.Total, "refreshed", s.Refreshed, "timeout", timeout.String())
		return s
	case <-ctx.Done():
		cancel()
		return b.snapshot()
	}
}

type batch struct {
	mu        sync.Mutex
	summary   Summary
	completed int
	progress  ProgressFunc
}

func (o *Orchestrator) newBatch(total int) *batch {
	return &batch{summary: Summary{Total: total}, progress: o.progress}
}

// done публикует прогресс под тем же мьютексом, поэтому последовательность монотонна.
func (b *batch) done(id uuid.UUID, out Outcome, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.summary.add(id, out, err)
	b.completed++
	if b.progress != nil {
		b.progress(b.completed, b.summary.Total)
	}
}

func (b *batch) snapshot() Summary {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.summary
	if len(b.summary.Errors) > 0 {
		s.Errors = make(map[uuid.UUID]error, len(b.summary.Errors))
		for k, v := range b.summary.Errors {
			s.Errors[k] = v
		}
	}
	return s
}

func (o *Orchestrator) runBatch(ctx context.Context, b *batch, pkgs []*models.Package, maxConcurrency int) {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	jobs := make(chan *models.Package)
	var wg sync.WaitGroup
	for i := 0; i < maxConcurrency && i < len(pkgs); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				out, err := o.RefreshOne(ctx, p)
				b.done(p.ID, out, err)
			}
		}()
	}
	for _, p := range pkgs {
		jobs <- p
	}
	close(jobs)
	wg.Wait()
}

func isCancellation(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return ctx.Err() != nil
}
