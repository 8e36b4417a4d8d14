package localstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func samplePackage() *models.Package {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := models.NewPackage("TW123456789012", models.CarrierSevenEleven, now)
	p.CustomName = "耳機"
	p.Amount = decimal.NewNullDecimal(decimal.RequireFromString("1299.50"))
	p.ApplyResult(models.TrackingResult{
		CurrentStatus: models.StatusInTransit,
		Events: []models.TrackingEvent{
			models.NewTrackingEvent(p.TrackingNumber, now, models.StatusInTransit, "包裹配送中", ""),
			models.NewTrackingEvent(p.TrackingNumber, now.Add(-time.Hour), models.StatusShipped, "賣家已寄出", ""),
		},
	}, now)
	return p
}

func TestStore_PutGetRoundtrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	p := samplePackage()

	require.NoError(t, s.Put(ctx, p))

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, p.TrackingNumber, got.TrackingNumber)
	require.Equal(t, models.StatusInTransit, got.Status)
	require.Len(t, got.Events, 2)
	require.Equal(t, p.Events[0].ID, got.Events[0].ID)
	require.True(t, p.Amount.Decimal.Equal(got.Amount.Decimal))

	byNumber, err := s.FindByTrackingNumber(ctx, p.TrackingNumber)
	require.NoError(t, err)
	require.Equal(t, p.ID, byNumber.ID)
}

func TestStore_PutReplacesEvents(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	p := samplePackage()
	require.NoError(t, s.Put(ctx, p))

	p.Events = p.Events[:1]
	require.NoError(t, s.Put(ctx, p))

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Events, 1)
}

func TestStore_DeleteRemovesEvents(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	p := samplePackage()
	require.NoError(t, s.Put(ctx, p))

	require.NoError(t, s.Delete(ctx, p.ID))
	_, err := s.Get(ctx, p.ID)
	require.ErrorIs(t, err, ErrNotFound)

	var n int64
	require.NoError(t, s.db.Model(&eventRow{}).Where("package_id = ?", p.ID.String()).Count(&n).Error)
	require.Zero(t, n)
}

func TestStore_UpdateSerialized(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	p := samplePackage()
	p.Notes = ""
	require.NoError(t, s.Put(ctx, p))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, p.ID, func(cur *models.Package) (*models.Package, error) {
				cur.Notes += "x"
				return cur, nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Notes, 10)
}

func TestStore_UpdateAbsent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	id := uuid.New()

	got, err := s.Update(ctx, id, func(cur *models.Package) (*models.Package, error) {
		require.Nil(t, cur)
		return nil, nil
	})
	require.NoError(t, err)
	require.Nil(t, got)

	ids, err := s.ListIDs(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)
}
