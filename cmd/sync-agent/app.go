package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/ParcelSync/config"
	"github.com/BearBump/ParcelSync/internal/broker/kafka"
	"github.com/BearBump/ParcelSync/internal/broker/messages"
	"github.com/BearBump/ParcelSync/internal/cache/rediscache"
	"github.com/BearBump/ParcelSync/internal/integrations/carrier"
	"github.com/BearBump/ParcelSync/internal/integrations/carrier/providers"
	"github.com/BearBump/ParcelSync/internal/metrics"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/services/coordinator"
	"github.com/BearBump/ParcelSync/internal/services/refresh"
	"github.com/BearBump/ParcelSync/internal/services/syncengine"
	"github.com/BearBump/ParcelSync/internal/storage/localstore"
	"github.com/BearBump/ParcelSync/internal/storage/pgstore"
	"golang.org/x/sync/errgroup"
)

const defaultRefreshInterval = 15 * time.Minute

// deviceStore: локальная база устройства.
type deviceStore interface {
	syncengine.LocalStore
	refresh.LocalStore
}

type changeFeed interface {
	syncengine.ChangeFeed
	Close() error
}

type syncFactories struct {
	newLocal     func(cfg *config.Config) (deviceStore, func(), error)
	newCloud     func(ctx context.Context, cfg *config.Config) (syncengine.CloudStore, func(), error)
	newPublisher func(cfg *config.Config) syncengine.Publisher
	newFeed      func(cfg *config.Config) changeFeed
	newProviders func(cfg *config.Config) []carrier.Provider
}

func defaultSyncFactories() syncFactories {
	return syncFactories{
		newLocal: func(cfg *config.Config) (deviceStore, func(), error) {
			dsn := cfg.Sync.LocalDSN
			if dsn == "" {
				dsn = "parcelsync.db"
			}
			st, err := localstore.Open(dsn)
			if err != nil {
				return nil, nil, err
			}
			return st, func() { _ = st.Close() }, nil
		},
		newCloud: func(ctx context.Context, cfg *config.Config) (syncengine.CloudStore, func(), error) {
			st, err := pgstore.New(ctx, cfg.Database.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newPublisher: func(cfg *config.Config) syncengine.Publisher {
			return kafka.NewProducer(cfg.Kafka.Brokers(), topicName(cfg))
		},
		newFeed: func(cfg *config.Config) changeFeed {
			// у каждого устройства своя группа: изменения нужны всем устройствам
			prefix := cfg.Kafka.SyncConsumerGroupPrefix
			if prefix == "" {
				prefix = "sync-"
			}
			return kafka.NewConsumer(cfg.Kafka.Brokers(), topicName(cfg), prefix+cfg.Sync.DeviceID)
		},
		newProviders: func(cfg *config.Config) []carrier.Provider {
			return providers.Build(cfg.Tracking, providers.Deps{
				RelationCache: rediscache.New(cfg.Redis.Addr()),
				RateLimiter:   rediscache.NewRateLimiter(cfg.Redis.Addr()),
			})
		},
	}
}

func topicName(cfg *config.Config) string {
	if cfg.Kafka.PackageChangedTopicName != "" {
		return cfg.Kafka.PackageChangedTopicName
	}
	return messages.TopicPackageChanged
}

// agent периодически обновляет активные посылки устройства.
type agent struct {
	local          syncengine.LocalStore
	engine         *syncengine.Engine
	orch           *refresh.Orchestrator
	interval       time.Duration
	maxConcurrency int
	batchTimeout   time.Duration

	triggerCh chan struct{}

	mu   sync.Mutex
	last *refreshReport
}

type refreshReport struct {
	FinishedAt time.Time         `json:"finishedAt"`
	Total      int               `json:"total"`
	Refreshed  int               `json:"refreshed"`
	Skipped    int               `json:"skipped"`
	Cancelled  int               `json:"cancelled"`
	Failed     int               `json:"failed"`
	TimedOut   bool              `json:"timedOut"`
	Errors     map[string]string `json:"errors,omitempty"`
}

func newReport(s refresh.Summary, at time.Time) *refreshReport {
	r := &refreshReport{
		FinishedAt: at.UTC(),
		Total:      s.Total,
		Refreshed:  s.Refreshed,
		Skipped:    s.Skipped,
		Cancelled:  s.Cancelled,
		Failed:     s.Failed,
		TimedOut:   s.TimedOut,
	}
	for id, err := range s.Errors {
		if r.Errors == nil {
			r.Errors = map[string]string{}
		}
		r.Errors[id.String()] = err.Error()
	}
	return r
}

func (a *agent) Trigger() {
	select {
	case a.triggerCh <- struct{}{}:
	default:
	}
}

func (a *agent) LastRefresh() *refreshReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return nil
	}
	r := *a.last
	return &r
}

// dueForRefresh: не архивные и не завершённые посылки, давно не обновлявшиеся.
func (a *agent) dueForRefresh(pkgs []*models.Package) []*models.Package {
	var out []*models.Package
	for _, p := range pkgs {
		if p.IsArchived || p.IsCompleted() {
			continue
		}
		if !a.orch.IsStale(p, refresh.DefaultStaleAfter) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (a *agent) refreshOnce(ctx context.Context) (refresh.Summary, error) {
	pkgs, err := a.local.List(ctx)
	if err != nil {
		return refresh.Summary{}, err
	}
	due := a.dueForRefresh(pkgs)
	s := a.orch.RefreshAllWithTimeout(ctx, due, a.maxConcurrency, a.batchTimeout)

	a.mu.Lock()
	a.last = newReport(s, time.Now())
	a.mu.Unlock()

	slog.Info("refresh cycle", "total", s.Total, "refreshed", s.Refreshed, "failed", s.Failed, "timed_out", s.TimedOut)
	return s, nil
}

func (a *agent) runRefreshLoop(ctx context.Context) error {
	for {
		if _, err := a.refreshOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Error("refresh cycle", "error", err.Error())
		}
		t := time.NewTimer(a.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		case <-a.triggerCh:
			t.Stop()
		}
	}
}

// RunSyncAgent reconciles once, then keeps the change feed, the periodic
// refresh and the ops HTTP server running until ctx ends.
func RunSyncAgent(ctx context.Context, cfg *config.Config, f syncFactories) error {
	if cfg.Sync.UserID == "" || cfg.Sync.DeviceID == "" {
		return fmt.Errorf("sync.user_id and sync.device_id are required")
	}

	local, closeLocal, err := f.newLocal(cfg)
	if err != nil {
		return err
	}
	if closeLocal != nil {
		defer closeLocal()
	}
	cloud, closeCloud, err := f.newCloud(ctx, cfg)
	if err != nil {
		return err
	}
	if closeCloud != nil {
		defer closeCloud()
	}
	feed := f.newFeed(cfg)
	defer func() { _ = feed.Close() }()

	m := metrics.New()

	engine := syncengine.New(cfg.Sync.UserID, cfg.Sync.DeviceID, local, cloud).
		WithPublisher(f.newPublisher(cfg)).
		WithEchoWindow(time.Duration(cfg.Sync.EchoWindowMillis) * time.Millisecond).
		WithMetrics(m)

	coord := coordinator.New(f.newProviders(cfg)...).
		WithConcurrency(cfg.Tracking.MaxConcurrency).
		WithMetrics(m)

	maxConcurrency := cfg.Tracking.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = refresh.DefaultMaxConcurrency
	}
	interval := time.Duration(cfg.Sync.RefreshIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = defaultRefreshInterval
	}

	a := &agent{
		local:          local,
		engine:         engine,
		orch:           refresh.New(coord, local, engine).WithMetrics(m),
		interval:       interval,
		maxConcurrency: maxConcurrency,
		batchTimeout:   time.Duration(cfg.Tracking.BatchTimeoutSeconds) * time.Second,
		triggerCh:      make(chan struct{}, 1),
	}

	if _, err := engine.InitialReconcile(ctx); err != nil {
		// без сверки продолжаем: лента изменений догонит
		slog.Error("initial reconcile", "error", err.Error())
	}

	httpAddr := cfg.Sync.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8083"
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := engine.Run(gctx, feed); err != nil {
			return err
		}
		return gctx.Err()
	})
	g.Go(func() error { return a.runRefreshLoop(gctx) })
	g.Go(func() error {
		return runAgentHTTPServer(gctx, agentHTTPOpts{httpAddr: httpAddr, agent: a, metrics: m})
	})
	return g.Wait()
}
