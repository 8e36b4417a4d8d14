package notifier

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/push"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestDailyDigest_NextRun(t *testing.T) {
	d := NewDailyDigest(newMemStore(), &mockSender{})

	// 01:00 UTC = 09:00 Taipei -> сегодня в 10:00
	next := d.NextRun(time.Date(2025, 3, 1, 1, 0, 0, 0, time.UTC))
	require.Equal(t, time.Date(2025, 3, 1, 2, 0, 0, 0, time.UTC), next.UTC())

	// ровно 10:00 Taipei -> завтра
	next = d.NextRun(time.Date(2025, 3, 1, 2, 0, 0, 0, time.UTC))
	require.Equal(t, time.Date(2025, 3, 2, 2, 0, 0, 0, time.UTC), next.UTC())
}

func TestDailyDigest_SingleAndMultiple(t *testing.T) {
	store := newMemStore()
	rec := seed(store, models.StatusArrivedAtStore, models.DeviceToken{DeviceID: "d1", Token: "tok-1", Category: models.NotifyShipped})

	sender := &mockSender{}
	sender.On("Send", "tok-1", mock.MatchedBy(func(m push.Message) bool {
		return m.Title == "別讓包裹等太久" && m.Body == "藍牙耳機 在 中和福美店 等你取貨" && m.Data["count"] == "1"
	})).Return(nil).Once()

	d := NewDailyDigest(store, sender)
	rep, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Sent)

	second := *rec
	second.ID = [16]byte{1}
	second.Status = models.StatusArrivedAtStore
	store.pkgs[second.ID] = &second
	archived := *rec
	archived.ID = [16]byte{2}
	archived.IsArchived = true
	store.pkgs[archived.ID] = &archived

	sender.On("Send", "tok-1", mock.MatchedBy(func(m push.Message) bool {
		return m.Body == "你有 2 個包裹待取貨" && m.Data["type"] == "dailyReminder"
	})).Return(nil).Once()

	rep, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Sent)
	sender.AssertExpectations(t)
}

func TestDailyDigest_SkipsDisabledAndEmpty(t *testing.T) {
	store := newMemStore()
	seed(store, models.StatusInTransit, models.DeviceToken{DeviceID: "d1", Token: "tok-1"})
	sender := &mockSender{}
	d := NewDailyDigest(store, sender)

	rep, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, rep.Sent)
	require.Equal(t, 1, rep.Skipped)

	store.users["u1"].Settings.PickupReminder = false
	rep, _ = d.RunOnce(context.Background())
	require.Equal(t, 1, rep.Skipped)
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}
