// Package syncengine keeps one user's local package store and the shared cloud
// store in step.
//
// Push writes a package and its events to the cloud in one batch and marks the
// tracking number as a recent local write. Pull applies change-feed records:
// echoes of our own recent writes are dropped, tombstones delete the local
// copy, and a remote version is accepted when it is newer without regressing
// status, or when its status has progressed further. A tombstone is final: no
// push, refresh or reconcile brings the package back.
package syncengine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/ParcelSync/internal/broker/messages"
	"github.com/BearBump/ParcelSync/internal/metrics"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	DefaultEchoWindow    = 5 * time.Second
	DefaultPruneInterval = 30 * time.Second
)

type LocalStore interface {
	Update(ctx context.Context, id uuid.UUID, fn func(cur *models.Package) (*models.Package, error)) (*models.Package, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*models.Package, error)
	ListIDs(ctx context.Context) ([]uuid.UUID, error)
}

// CloudStore: облачное хранилище, единственный источник истины.
type CloudStore interface {
	UpsertPackage(ctx context.Context, rec *models.SyncRecord) error
	SoftDelete(ctx context.Context, userID string, id uuid.UUID, at time.Time) error
	GetPackage(ctx context.Context, userID string, id uuid.UUID) (*models.SyncRecord, error)
	ListEvents(ctx context.Context, userID string, id uuid.UUID) ([]models.TrackingEvent, error)
	ListPackageIDs(ctx context.Context, userID string) ([]uuid.UUID, error)
	ListDeletedPackageIDs(ctx context.Context, userID string) ([]uuid.UUID, error)
}

type Publisher interface {
	PublishChange(ctx context.Context, m messages.PackageChanged) error
}

// ChangeFeed delivers package.changed records until ctx ends.
type ChangeFeed interface {
	ConsumeChanges(ctx context.Context, handler func(ctx context.Context, m messages.PackageChanged) error) error
}

type Engine struct {
	userID   string
	deviceID string

	local     LocalStore
	cloud     CloudStore
	publisher Publisher
	metrics   *metrics.Metrics

	window time.Duration
	now    func() time.Time

	mu           sync.Mutex
	recentWrites map[string]time.Time

	pushed, applied, created, deleted, echoes, rejected atomic.Int64

	errMu   sync.Mutex
	lastErr string
}

func New(userID, deviceID string, local LocalStore, cloud CloudStore) *Engine {
	return &Engine{
		userID:       userID,
		deviceID:     deviceID,
		local:        local,
		cloud:        cloud,
		window:       DefaultEchoWindow,
		now:          time.Now,
		recentWrites: map[string]time.Time{},
	}
}

func (e *Engine) WithPublisher(p Publisher) *Engine {
	e.publisher = p
	return e
}

func (e *Engine) WithMetrics(m *metrics.Metrics) *Engine {
	e.metrics = m
	return e
}

func (e *Engine) WithEchoWindow(d time.Duration) *Engine {
	if d > 0 {
		e.window = d
	}
	return e
}

// --- echo window ---

func (e *Engine) markLocalWrite(number string) {
	e.mu.Lock()
	e.recentWrites[number] = e.now()
	e.mu.Unlock()
}

func (e *Engine) isEcho(number string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	at, ok := e.recentWrites[number]
	return ok && e.now().Sub(at) < e.window
}

// PruneEchoWindow drops expired entries and returns how many remain.
func (e *Engine) PruneEchoWindow() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	for n, at := range e.recentWrites {
		if now.Sub(at) >= e.window {
			delete(e.recentWrites, n)
		}
	}
	return len(e.recentWrites)
}

// --- push ---

// Push uploads the package with its full event set. Cloud events missing
// locally are removed in the same batch. A package tombstoned in the cloud is
// removed locally instead and Push returns models.ErrPackageDeleted.
func (e *Engine) Push(ctx context.Context, p *models.Package) error {
	e.markLocalWrite(p.TrackingNumber)

	var prev models.Status
	if cur, err := e.cloud.GetPackage(ctx, e.userID, p.ID); err == nil && cur != nil {
		if cur.IsDeleted {
			return e.dropTombstoned(ctx, p.ID)
		}
		prev = cur.Status
	}

	rec := &models.SyncRecord{Package: *p.Clone(), UserID: e.userID}
	if err := e.cloud.UpsertPackage(ctx, rec); err != nil {
		if errors.Is(err, models.ErrPackageDeleted) {
			return e.dropTombstoned(ctx, p.ID)
		}
		e.setLastError(err)
		return errors.Wrap(err, "upsert package")
	}
	e.pushed.Add(1)

	e.publish(ctx, messages.PackageChanged{
		UserID:         e.userID,
		PackageID:      p.ID,
		TrackingNumber: p.TrackingNumber,
		Origin:         e.deviceID,
		ChangedAt:      e.now().UTC(),
		PreviousStatus: prev,
		Fields:         messages.FieldsFromPackage(p),
	})
	return nil
}

// SoftDelete tombstones the cloud document and removes the local copy.
func (e *Engine) SoftDelete(ctx context.Context, p *models.Package) error {
	e.markLocalWrite(p.TrackingNumber)

	if err := e.cloud.SoftDelete(ctx, e.userID, p.ID, e.now().UTC()); err != nil {
		e.setLastError(err)
		return errors.Wrap(err, "soft delete")
	}
	if err := e.local.Delete(ctx, p.ID); err != nil {
		return errors.Wrap(err, "delete local")
	}
	e.publish(ctx, messages.PackageChanged{
		UserID:         e.userID,
		PackageID:      p.ID,
		TrackingNumber: p.TrackingNumber,
		Origin:         e.deviceID,
		ChangedAt:      e.now().UTC(),
		IsDeleted:      true,
	})
	return nil
}

// dropTombstoned удаляет локальную копию пакета, удалённого на другом устройстве.
func (e *Engine) dropTombstoned(ctx context.Context, id uuid.UUID) error {
	if err := e.local.Delete(ctx, id); err != nil {
		return errors.Wrap(err, "delete local")
	}
	e.deleted.Add(1)
	e.metrics.SyncChange("deleted")
	return models.ErrPackageDeleted
}

func (e *Engine) publish(ctx context.Context, m messages.PackageChanged) {
	if e.publisher == nil {
		return
	}
	// остальные устройства догонят при следующей сверке
	if err := e.publisher.PublishChange(ctx, m); err != nil {
		slog.Warn("publish package change", "tracking_number", m.TrackingNumber, "error", err.Error())
	}
}

// --- pull ---

func (e *Engine) HandleChange(ctx context.Context, m messages.PackageChanged) error {
	return e.HandleBatch(ctx, []messages.PackageChanged{m})
}

// HandleBatch applies changes in delivery order. Changes for the same package
// are folded in memory and written once.
func (e *Engine) HandleBatch(ctx context.Context, batch []messages.PackageChanged) error {
	var order []uuid.UUID
	groups := map[uuid.UUID][]messages.PackageChanged{}
	for _, m := range batch {
		if m.UserID != "" && m.UserID != e.userID {
			continue
		}
		if e.isEcho(m.TrackingNumber) {
			e.echoes.Add(1)
			e.metrics.SyncChange("echo")
			continue
		}
		if _, ok := groups[m.PackageID]; !ok {
			order = append(order, m.PackageID)
		}
		groups[m.PackageID] = append(groups[m.PackageID], m)
	}

	var firstErr error
	for _, id := range order {
		if err := e.applyGroup(ctx, id, groups[id]); err != nil {
			e.setLastError(err)
			slog.Error("apply remote change", "package_id", id.String(), "error", err.Error())
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (e *Engine) applyGroup(ctx context.Context, id uuid.UUID, changes []messages.PackageChanged) error {
	last := changes[len(changes)-1]
	if last.IsDeleted {
		if err := e.local.Delete(ctx, id); err != nil {
			return errors.Wrap(err, "delete local")
		}
		e.deleted.Add(1)
		e.metrics.SyncChange("deleted")
		return nil
	}

	var needEvents, created, tombstoned bool
	_, err := e.local.Update(ctx, id, func(cur *models.Package) (*models.Package, error) {
		needEvents, created, tombstoned = false, cur == nil, false
		if cur == nil {
			// изменение несёт только часть полей, пакет создаётся из облачной записи
			rec, err := e.cloud.GetPackage(ctx, e.userID, id)
			if err != nil {
				return nil, errors.Wrap(err, "get remote package")
			}
			if rec.IsDeleted {
				tombstoned = true
				return nil, nil
			}
			cur = rec.Package.Clone()
			cur.ID = id
		}
		changed := created
		for _, m := range changes {
			if m.IsDeleted {
				continue
			}
			if !Accept(cur, m.Fields) {
				if !created {
					e.rejected.Add(1)
				}
				continue
			}
			m.Fields.ApplyTo(cur)
			changed = true
		}
		if !changed {
			return nil, nil
		}
		needEvents = true

		events, err := e.cloud.ListEvents(ctx, e.userID, id)
		if err != nil {
			return nil, errors.Wrap(err, "list remote events")
		}
		cur.Events = models.MergeEvents(cur.Events, events)
		return cur, nil
	})
	if err != nil {
		return err
	}

	switch {
	case tombstoned:
		e.metrics.SyncChange("deleted")
	case created:
		e.created.Add(1)
		e.metrics.SyncChange("created")
	case needEvents:
		e.applied.Add(1)
		e.metrics.SyncChange("applied")
	default:
		e.metrics.SyncChange("rejected")
	}
	return nil
}

// Accept decides whether remote fields win over the local copy: a newer
// timestamp that does not move status backwards, or a status that has
// progressed further regardless of timestamp.
func Accept(local *models.Package, remote messages.PackageFields) bool {
	if remote.Status != nil && remote.Status.ProgressedBeyond(local.Status) {
		return true
	}
	if remote.LastUpdated == nil || !remote.LastUpdated.After(local.LastUpdated) {
		return false
	}
	return remote.Status == nil || !local.Status.ProgressedBeyond(*remote.Status)
}

// --- reconcile ---

type ReconcileReport struct {
	Uploaded   int
	Downloaded int
	Deleted    int
	Failed     int
}

// InitialReconcile uploads local-only packages, downloads remote-only ones and
// drops local copies of packages tombstoned while this device was offline.
func (e *Engine) InitialReconcile(ctx context.Context) (ReconcileReport, error) {
	var rep ReconcileReport

	localPkgs, err := e.local.List(ctx)
	if err != nil {
		return rep, errors.Wrap(err, "list local")
	}
	remoteIDs, err := e.cloud.ListPackageIDs(ctx, e.userID)
	if err != nil {
		return rep, errors.Wrap(err, "list remote")
	}
	deletedIDs, err := e.cloud.ListDeletedPackageIDs(ctx, e.userID)
	if err != nil {
		return rep, errors.Wrap(err, "list remote tombstones")
	}

	remote := make(map[uuid.UUID]struct{}, len(remoteIDs))
	for _, id := range remoteIDs {
		remote[id] = struct{}{}
	}
	tombstones := make(map[uuid.UUID]struct{}, len(deletedIDs))
	for _, id := range deletedIDs {
		tombstones[id] = struct{}{}
	}
	localSet := make(map[uuid.UUID]struct{}, len(localPkgs))
	for _, p := range localPkgs {
		localSet[p.ID] = struct{}{}
		if _, ok := remote[p.ID]; ok {
			continue
		}
		if _, ok := tombstones[p.ID]; ok {
			if err := e.dropTombstoned(ctx, p.ID); !errors.Is(err, models.ErrPackageDeleted) {
				rep.Failed++
				slog.Warn("reconcile delete", "package_id", p.ID.String(), "error", err.Error())
				continue
			}
			rep.Deleted++
			continue
		}
		if err := e.Push(ctx, p); err != nil {
			if errors.Is(err, models.ErrPackageDeleted) {
				rep.Deleted++
				continue
			}
			rep.Failed++
			slog.Warn("reconcile upload", "package_id", p.ID.String(), "error", err.Error())
			continue
		}
		rep.Uploaded++
	}

	for _, id := range remoteIDs {
		if _, ok := localSet[id]; ok {
			continue
		}
		if err := e.download(ctx, id); err != nil {
			rep.Failed++
			slog.Warn("reconcile download", "package_id", id.String(), "error", err.Error())
			continue
		}
		rep.Downloaded++
	}

	slog.Info("initial reconcile", "user_id", e.userID, "uploaded", rep.Uploaded, "downloaded", rep.Downloaded, "deleted", rep.Deleted, "failed", rep.Failed)
	return rep, nil
}

func (e *Engine) download(ctx context.Context, id uuid.UUID) error {
	rec, err := e.cloud.GetPackage(ctx, e.userID, id)
	if err != nil {
		return errors.Wrap(err, "get remote package")
	}
	if rec.IsDeleted {
		return nil
	}
	events, err := e.cloud.ListEvents(ctx, e.userID, id)
	if err != nil {
		return errors.Wrap(err, "list remote events")
	}
	_, err = e.local.Update(ctx, id, func(*models.Package) (*models.Package, error) {
		p := rec.Package.Clone()
		p.Events = models.MergeEvents(nil, events)
		return p, nil
	})
	return err
}

// --- run ---

// Run keeps the change-feed subscription open and prunes the echo window
// until ctx ends.
func (e *Engine) Run(ctx context.Context, feed ChangeFeed) error {
	go func() {
		t := time.NewTicker(DefaultPruneInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				e.PruneEchoWindow()
			}
		}
	}()

	err := feed.ConsumeChanges(ctx, func(ctx context.Context, m messages.PackageChanged) error {
		// ошибка применения не должна останавливать подписку
		_ = e.HandleChange(ctx, m)
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

type Stats struct {
	UserID      string `json:"user_id"`
	DeviceID    string `json:"device_id"`
	Pushed      int64  `json:"pushed"`
	Applied     int64  `json:"applied"`
	Created     int64  `json:"created"`
	Deleted     int64  `json:"deleted"`
	Echoes      int64  `json:"echoes_suppressed"`
	Rejected    int64  `json:"rejected"`
	EchoPending int    `json:"echo_window_entries"`
	LastError   string `json:"last_error,omitempty"`
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	pending := len(e.recentWrites)
	e.mu.Unlock()

	e.errMu.Lock()
	lastErr := e.lastErr
	e.errMu.Unlock()

	return Stats{
		UserID:      e.userID,
		DeviceID:    e.deviceID,
		Pushed:      e.pushed.Load(),
		Applied:     e.applied.Load(),
		Created:     e.created.Load(),
		Deleted:     e.deleted.Load(),
		Echoes:      e.echoes.Load(),
		Rejected:    e.rejected.Load(),
		EchoPending: pending,
		LastError:   lastErr,
	}
}

func (e *Engine) setLastError(err error) {
	e.errMu.Lock()
	e.lastErr = err.Error()
	e.errMu.Unlock()
}
