package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/ParcelSync/config"
	"github.com/BearBump/ParcelSync/internal/broker/kafka"
	"github.com/BearBump/ParcelSync/internal/broker/messages"
	"github.com/BearBump/ParcelSync/internal/cache/rediscache"
	"github.com/BearBump/ParcelSync/internal/integrations/carrier/providers"
	"github.com/BearBump/ParcelSync/internal/metrics"
	"github.com/BearBump/ParcelSync/internal/push"
	"github.com/BearBump/ParcelSync/internal/push/snspush"
	"github.com/BearBump/ParcelSync/internal/services/notifier"
	"github.com/BearBump/ParcelSync/internal/services/poller"
	"github.com/BearBump/ParcelSync/internal/storage/pgstore"
	"golang.org/x/sync/errgroup"
)

// workerStore - облачное хранилище целиком, его читают поллер, уведомления и дайджест.
type workerStore interface {
	poller.Store
	notifier.Store
	notifier.DigestStore
	Ping(ctx context.Context) error
}

type changeConsumer interface {
	ConsumeChanges(ctx context.Context, handler func(ctx context.Context, m messages.PackageChanged) error) error
	Close() error
}

type workerFactories struct {
	newStorage    func(ctx context.Context, cfg *config.Config) (st workerStore, closeFn func(), err error)
	newProducer   func(cfg *config.Config) poller.Producer
	newConsumer   func(cfg *config.Config) changeConsumer
	newAggregator func(cfg *config.Config) (poller.Aggregator, error)
	newSender     func(ctx context.Context, cfg *config.Config) (push.Sender, error)
	newLocker     func(cfg *config.Config) notifier.Locker
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(ctx context.Context, cfg *config.Config) (workerStore, func(), error) {
			st, err := pgstore.New(ctx, cfg.Database.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) poller.Producer {
			return kafka.NewProducer(cfg.Kafka.Brokers(), topicName(cfg))
		},
		newConsumer: func(cfg *config.Config) changeConsumer {
			group := cfg.Kafka.NotifierConsumerGroup
			if group == "" {
				group = "change-notifier"
			}
			return kafka.NewConsumer(cfg.Kafka.Brokers(), topicName(cfg), group)
		},
		newAggregator: func(cfg *config.Config) (poller.Aggregator, error) {
			rc := rediscache.New(cfg.Redis.Addr())
			if cfg.Tracking.RelationTTLHours > 0 {
				rc = rc.WithRelationTTL(time.Duration(cfg.Tracking.RelationTTLHours) * time.Hour)
			}
			c := providers.NewTrackTW(cfg.Tracking, providers.Deps{
				RelationCache: rc,
				RateLimiter:   rediscache.NewRateLimiter(cfg.Redis.Addr()),
			})
			if c == nil {
				return nil, fmt.Errorf("tracking.tracktw_token is required for the fleet poller")
			}
			return c, nil
		},
		newSender: func(ctx context.Context, cfg *config.Config) (push.Sender, error) {
			return snspush.New(ctx, cfg.AWS.Region, cfg.AWS.SNSEndpoint)
		},
		newLocker: func(cfg *config.Config) notifier.Locker {
			return rediscache.New(cfg.Redis.Addr())
		},
	}
}

func topicName(cfg *config.Config) string {
	if cfg.Kafka.PackageChangedTopicName != "" {
		return cfg.Kafka.PackageChangedTopicName
	}
	return messages.TopicPackageChanged
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func plannerConfig(cfg config.WorkerConfig) poller.PlannerConfig {
	pc := poller.DefaultPlannerConfig()
	if cfg.PollIntervalSeconds > 0 {
		pc.Interval = seconds(cfg.PollIntervalSeconds)
	}
	if cfg.Backoff1Seconds > 0 {
		pc.Backoff1 = seconds(cfg.Backoff1Seconds)
	}
	if cfg.Backoff2Seconds > 0 {
		pc.Backoff2 = seconds(cfg.Backoff2Seconds)
	}
	if cfg.Backoff3Seconds > 0 {
		pc.Backoff3 = seconds(cfg.Backoff3Seconds)
	}
	if cfg.Backoff4Seconds > 0 {
		pc.Backoff4 = seconds(cfg.Backoff4Seconds)
	}
	return pc
}

// RunTrackWorker runs the poller, the change notifier, the daily digest and
// the ops HTTP server until ctx ends or one of them fails.
func RunTrackWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	st, closeFn, err := f.newStorage(ctx, cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	agg, err := f.newAggregator(cfg)
	if err != nil {
		return err
	}
	sender, err := f.newSender(ctx, cfg)
	if err != nil {
		return err
	}
	consumer := f.newConsumer(cfg)
	defer func() { _ = consumer.Close() }()

	m := metrics.New()

	p := poller.New(st, agg, f.newProducer(cfg)).
		WithPlanner(plannerConfig(cfg.Worker)).
		WithSettings(0, time.Duration(cfg.Worker.CallDelayMillis)*time.Millisecond).
		WithMetrics(m)

	cn := notifier.NewChangeNotifier(st, sender).
		WithLockTTL(seconds(cfg.Worker.NotifyLockSeconds)).
		WithMetrics(m)
	if f.newLocker != nil {
		if l := f.newLocker(cfg); l != nil {
			cn = cn.WithLocker(l)
		}
	}

	digestHour := cfg.Worker.DigestHour
	if digestHour == 0 {
		digestHour = notifier.DefaultDigestHour
	}
	digest := notifier.NewDailyDigest(st, sender).WithHour(digestHour).WithMetrics(m)

	httpAddr := cfg.Worker.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8082"
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(gctx) })
	g.Go(func() error {
		slog.Info("change notifier started", "topic", topicName(cfg))
		return consumer.ConsumeChanges(gctx, cn.Consume)
	})
	if !cfg.Worker.DisableDigest {
		g.Go(func() error { return digest.Run(gctx) })
	}
	g.Go(func() error {
		return runWorkerHTTPServer(gctx, workerHTTPOpts{
			httpAddr: httpAddr,
			poller:   p,
			notifier: cn,
			ready:    st.Ping,
			metrics:  m,
			cfg:      cfg,
		})
	})
	return g.Wait()
}
