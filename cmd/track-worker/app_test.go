package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/ParcelSync/config"
	"github.com/BearBump/ParcelSync/internal/broker/messages"
	"github.com/BearBump/ParcelSync/internal/integrations/carrier/tracktw"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/push"
	"github.com/BearBump/ParcelSync/internal/services/notifier"
	"github.com/BearBump/ParcelSync/internal/services/poller"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type emptyStore struct{}

func (emptyStore) ListUsers(ctx context.Context) ([]string, error) { return nil, nil }
func (emptyStore) ListActivePackages(ctx context.Context, userID string) ([]*models.SyncRecord, error) {
	return nil, nil
}
func (emptyStore) UpdateStatus(ctx context.Context, userID string, id uuid.UUID, status models.Status, storeName, description string, at time.Time) error {
	return nil
}
func (emptyStore) GetPackage(ctx context.Context, userID string, id uuid.UUID) (*models.SyncRecord, error) {
	return nil, nil
}
func (emptyStore) GetUser(ctx context.Context, id string) (*models.UserProfile, error) { return nil, nil }
func (emptyStore) MarkNotified(ctx context.Context, userID string, id uuid.UUID, status models.Status) (bool, error) {
	return false, nil
}
func (emptyStore) RemoveDeviceTokens(ctx context.Context, userID string, tokens []string) (int64, error) {
	return 0, nil
}
func (emptyStore) ListArrivedPackages(ctx context.Context, userID string) ([]*models.SyncRecord, error) {
	return nil, nil
}
func (emptyStore) Ping(ctx context.Context) error { return nil }

type noopProducer struct{}

func (noopProducer) PublishChange(ctx context.Context, m messages.PackageChanged) error { return nil }

type idleConsumer struct{ closed bool }

func (c *idleConsumer) ConsumeChanges(ctx context.Context, handler func(ctx context.Context, m messages.PackageChanged) error) error {
	<-ctx.Done()
	return ctx.Err()
}
func (c *idleConsumer) Close() error { c.closed = true; return nil }

type noAggregator struct{}

func (noAggregator) GetTracking(ctx context.Context, relationID string) (*tracktw.TrackingResponse, error) {
	return &tracktw.TrackingResponse{}, nil
}

type noopSender struct{}

func (noopSender) Send(ctx context.Context, token string, m push.Message) error { return nil }

func testFactories(closed *bool, cons *idleConsumer) workerFactories {
	return workerFactories{
		newStorage: func(ctx context.Context, cfg *config.Config) (workerStore, func(), error) {
			return emptyStore{}, func() { *closed = true }, nil
		},
		newProducer: func(cfg *config.Config) poller.Producer { return noopProducer{} },
		newConsumer: func(cfg *config.Config) changeConsumer { return cons },
		newAggregator: func(cfg *config.Config) (poller.Aggregator, error) {
			return noAggregator{}, nil
		},
		newSender: func(ctx context.Context, cfg *config.Config) (push.Sender, error) { return noopSender{}, nil },
		newLocker: func(cfg *config.Config) notifier.Locker { return nil },
	}
}

func TestRunTrackWorker_ContextCanceled(t *testing.T) {
	closed := false
	cons := &idleConsumer{}

	cfg := &config.Config{Worker: config.WorkerConfig{HTTPAddr: "127.0.0.1:0"}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunTrackWorker(ctx, cfg, testFactories(&closed, cons))
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, closed)
	require.True(t, cons.closed)
}

func TestDefaultWorkerFactories_AggregatorNeedsToken(t *testing.T) {
	f := defaultWorkerFactories()
	_, err := f.newAggregator(&config.Config{})
	require.Error(t, err)

	agg, err := f.newAggregator(&config.Config{
		Tracking: config.TrackingConfig{TrackTWToken: "tok"},
		Redis:    config.RedisConfig{Host: "localhost", Port: 6379},
	})
	require.NoError(t, err)
	_, ok := agg.(*tracktw.Client)
	require.True(t, ok)
}

func TestDefaultWorkerFactories_NonNil(t *testing.T) {
	f := defaultWorkerFactories()
	cfg := &config.Config{
		Kafka: config.KafkaConfig{Host: "localhost", Port: 9092},
		Redis: config.RedisConfig{Host: "localhost", Port: 6379},
	}
	require.NotNil(t, f.newProducer(cfg))
	require.NotNil(t, f.newConsumer(cfg))
	require.NotNil(t, f.newLocker(cfg))
}

func TestPlannerConfig_Overrides(t *testing.T) {
	pc := plannerConfig(config.WorkerConfig{PollIntervalSeconds: 60, Backoff3Seconds: 7200})
	def := poller.DefaultPlannerConfig()
	require.Equal(t, time.Minute, pc.Interval)
	require.Equal(t, def.Backoff1, pc.Backoff1)
	require.Equal(t, 2*time.Hour, pc.Backoff3)
}

func TestWorkerRouter(t *testing.T) {
	p := poller.New(emptyStore{}, noAggregator{}, noopProducer{})
	cn := notifier.NewChangeNotifier(emptyStore{}, noopSender{})
	r := newWorkerRouter(workerHTTPOpts{
		poller:   p,
		notifier: cn,
		cfg:      &config.Config{Worker: config.WorkerConfig{PollIntervalSeconds: 900, Backoff1Seconds: 900}},
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/trigger", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"triggered":true}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var st workerStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.NotNil(t, st.Poller.LastTriggerAt)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/config", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var cfgOut map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfgOut))
	require.Equal(t, float64(900), cfgOut["pollIntervalSeconds"])
	require.Equal(t, "package.changed", cfgOut["topic"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
