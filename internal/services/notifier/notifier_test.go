package notifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/ParcelSync/internal/broker/messages"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/push"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	pkgs    map[uuid.UUID]*models.SyncRecord
	users   map[string]*models.UserProfile
	removed []string
}

func newMemStore() *memStore {
	return &memStore{pkgs: map[uuid.UUID]*models.SyncRecord{}, users: map[string]*models.UserProfile{}}
}

func (s *memStore) GetPackage(_ context.Context, _ string, id uuid.UUID) (*models.SyncRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.pkgs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) GetUser(_ context.Context, id string) (*models.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *u
	cp.Devices = append([]models.DeviceToken(nil), u.Devices...)
	return &cp, nil
}

func (s *memStore) MarkNotified(_ context.Context, _ string, id uuid.UUID, status models.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.pkgs[id]
	if rec.LastNotifiedStatus == status {
		return false, nil
	}
	rec.LastNotifiedStatus = status
	return true, nil
}

func (s *memStore) RemoveDeviceTokens(_ context.Context, userID string, tokens []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, tokens...)
	u := s.users[userID]
	drop := map[string]bool{}
	for _, t := range tokens {
		drop[t] = true
	}
	var keep []models.DeviceToken
	for _, d := range u.Devices {
		if !drop[d.Token] {
			keep = append(keep, d)
		}
	}
	n := int64(len(u.Devices) - len(keep))
	u.Devices = keep
	return n, nil
}

func (s *memStore) ListUsers(context.Context) ([]string, error) {
	var out []string
	for id := range s.users {
		out = append(out, id)
	}
	return out, nil
}

func (s *memStore) ListArrivedPackages(_ context.Context, userID string) ([]*models.SyncRecord, error) {
	var out []*models.SyncRecord
	for _, rec := range s.pkgs {
		if rec.UserID == userID && rec.Status == models.StatusArrivedAtStore {
			out = append(out, rec)
		}
	}
	return out, nil
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, token string, msg push.Message) error {
	return m.Called(token, msg).Error(0)
}

func allOn() models.NotificationSettings {
	return models.NotificationSettings{Enabled: true, ArrivalNotification: true, ShippedNotification: true, PickupReminder: true}
}

func seed(s *memStore, status models.Status, devices ...models.DeviceToken) *models.SyncRecord {
	p := models.NewPackage("TW123456789012", models.CarrierSevenEleven, time.Now())
	p.Status = status
	p.CustomName = "藍牙耳機"
	p.StoreName = "中和福美店"
	rec := &models.SyncRecord{Package: *p, UserID: "u1"}
	s.pkgs[p.ID] = rec
	s.users["u1"] = &models.UserProfile{ID: "u1", Language: "zh-Hant", Settings: allOn(), Devices: devices}
	return rec
}

func change(rec *models.SyncRecord, prev, next models.Status) messages.PackageChanged {
	return messages.PackageChanged{
		UserID:         rec.UserID,
		PackageID:      rec.ID,
		TrackingNumber: rec.TrackingNumber,
		Origin:         messages.OriginPoller,
		PreviousStatus: prev,
		Fields:         messages.PackageFields{Status: &next},
	}
}

func TestNotificationStatus(t *testing.T) {
	require.Equal(t, models.StatusShipped, NotificationStatus(models.StatusPending, models.StatusInTransit))
	require.Equal(t, models.StatusInTransit, NotificationStatus(models.StatusShipped, models.StatusInTransit))
	require.Equal(t, models.StatusArrivedAtStore, NotificationStatus(models.StatusInTransit, models.StatusArrivedAtStore))
	require.Equal(t, models.StatusShipped, NotificationStatus(models.StatusPending, models.StatusShipped))
	require.Empty(t, NotificationStatus(models.StatusArrivedAtStore, models.StatusDelivered))
	require.Empty(t, NotificationStatus(models.StatusShipped, models.StatusReturned))
}

func TestChangeNotifier_DedupOnRepeatedStatus(t *testing.T) {
	store := newMemStore()
	rec := seed(store, models.StatusArrivedAtStore, models.DeviceToken{DeviceID: "d1", Token: "tok-1", Category: models.NotifyAll})

	sender := &mockSender{}
	sender.On("Send", "tok-1", mock.MatchedBy(func(m push.Message) bool {
		return m.Title == "包裹已到達，請盡快取貨" &&
			m.Body == "藍牙耳機 已送達 中和福美店，請記得取貨" &&
			m.Data["status"] == "arrivedAtStore" &&
			m.Data["packageId"] == rec.ID.String()
	})).Return(nil).Once()

	n := NewChangeNotifier(store, sender)
	ctx := context.Background()

	res, err := n.HandleStatusChange(ctx, change(rec, models.StatusInTransit, models.StatusArrivedAtStore))
	require.NoError(t, err)
	require.Equal(t, ResultSent, res)

	res, err = n.HandleStatusChange(ctx, change(rec, models.StatusInTransit, models.StatusArrivedAtStore))
	require.NoError(t, err)
	require.Equal(t, ResultDuplicate, res)

	sender.AssertExpectations(t)
	require.Equal(t, int64(1), n.Stats().Sent)
	require.Equal(t, models.StatusArrivedAtStore, store.pkgs[rec.ID].LastNotifiedStatus)
}

func TestChangeNotifier_PendingToInTransitSentAsShipped(t *testing.T) {
	store := newMemStore()
	rec := seed(store, models.StatusInTransit,
		models.DeviceToken{DeviceID: "d1", Token: "tok-ship", Category: models.NotifyShipped},
		models.DeviceToken{DeviceID: "d2", Token: "tok-arrival", Category: models.NotifyArrival},
	)
	store.users["u1"].Language = "en-US"

	sender := &mockSender{}
	sender.On("Send", "tok-ship", mock.MatchedBy(func(m push.Message) bool {
		return m.Title == "Package Shipped" && m.Data["status"] == "inTransit"
	})).Return(nil).Once()

	res, err := NewChangeNotifier(store, sender).HandleStatusChange(context.Background(),
		change(rec, models.StatusPending, models.StatusInTransit))
	require.NoError(t, err)
	require.Equal(t, ResultSent, res)
	sender.AssertExpectations(t)
	sender.AssertNotCalled(t, "Send", "tok-arrival", mock.Anything)
}

func TestChangeNotifier_PrunesInvalidTokens(t *testing.T) {
	store := newMemStore()
	rec := seed(store, models.StatusShipped,
		models.DeviceToken{DeviceID: "d1", Token: "tok-dead"},
		models.DeviceToken{DeviceID: "d2", Token: "tok-live"},
	)

	sender := &mockSender{}
	sender.On("Send", "tok-dead", mock.Anything).Return(errors.Wrap(push.ErrInvalidToken, "disabled")).Once()
	sender.On("Send", "tok-live", mock.Anything).Return(nil).Once()

	n := NewChangeNotifier(store, sender)
	res, err := n.HandleStatusChange(context.Background(), change(rec, models.StatusPending, models.StatusShipped))
	require.NoError(t, err)
	require.Equal(t, ResultSent, res)
	require.Equal(t, []string{"tok-dead"}, store.removed)
	require.Len(t, store.users["u1"].Devices, 1)
	require.Equal(t, int64(1), n.Stats().Pruned)
}

func TestChangeNotifier_NoSuccessfulSendKeepsDedupKey(t *testing.T) {
	store := newMemStore()
	rec := seed(store, models.StatusShipped, models.DeviceToken{DeviceID: "d1", Token: "tok-1"})

	sender := &mockSender{}
	sender.On("Send", "tok-1", mock.Anything).Return(errors.New("throttled")).Once()

	res, err := NewChangeNotifier(store, sender).HandleStatusChange(context.Background(),
		change(rec, models.StatusPending, models.StatusShipped))
	require.NoError(t, err)
	require.Equal(t, ResultSendFailed, res)
	require.Empty(t, store.pkgs[rec.ID].LastNotifiedStatus)
}

func TestChangeNotifier_Filters(t *testing.T) {
	store := newMemStore()
	rec := seed(store, models.StatusArrivedAtStore, models.DeviceToken{DeviceID: "d1", Token: "tok-1"})
	sender := &mockSender{}
	n := NewChangeNotifier(store, sender)
	ctx := context.Background()

	// терминальные статусы не уведомляются
	res, err := n.HandleStatusChange(ctx, change(rec, models.StatusArrivedAtStore, models.StatusDelivered))
	require.NoError(t, err)
	require.Equal(t, ResultIgnored, res)

	// статус не менялся
	res, _ = n.HandleStatusChange(ctx, change(rec, models.StatusArrivedAtStore, models.StatusArrivedAtStore))
	require.Equal(t, ResultIgnored, res)

	// пакет уже в другом статусе
	res, _ = n.HandleStatusChange(ctx, change(rec, models.StatusPending, models.StatusShipped))
	require.Equal(t, ResultStale, res)

	store.users["u1"].Settings.ArrivalNotification = false
	res, _ = n.HandleStatusChange(ctx, change(rec, models.StatusInTransit, models.StatusArrivedAtStore))
	require.Equal(t, ResultDisabled, res)

	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

type denyLocker struct{}

func (denyLocker) AcquireNotify(context.Context, string, string, time.Duration) (bool, error) {
	return false, nil
}

func TestChangeNotifier_LockHeldElsewhere(t *testing.T) {
	store := newMemStore()
	rec := seed(store, models.StatusArrivedAtStore, models.DeviceToken{DeviceID: "d1", Token: "tok-1"})
	sender := &mockSender{}

	res, err := NewChangeNotifier(store, sender).WithLocker(denyLocker{}).
		HandleStatusChange(context.Background(), change(rec, models.StatusInTransit, models.StatusArrivedAtStore))
	require.NoError(t, err)
	require.Equal(t, ResultDuplicate, res)
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestNormalizeLang(t *testing.T) {
	cases := map[string]Lang{
		"":           LangZhHant,
		"zh-Hant-TW": LangZhHant,
		"zh-Hans-CN": LangZhHans,
		"zh":         LangZhHant,
		"en-GB":      LangEn,
		"ja":         LangZhHant,
	}
	for in, want := range cases {
		require.Equal(t, want, NormalizeLang(in), in)
	}
}

func TestStatusText_NoLocation(t *testing.T) {
	title, body, ok := StatusText(models.StatusArrivedAtStore, LangZhHans, "耳机", "")
	require.True(t, ok)
	require.Equal(t, "包裹已到达，请尽快取货", title)
	require.Equal(t, "耳机 已送达，请尽快取货", body)

	_, _, ok = StatusText(models.StatusDelivered, LangEn, "x", "")
	require.False(t, ok)
}
