package messages

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/stretchr/testify/require"
)

func TestPackageFields_ApplyOnlyPresent(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := models.NewPackage("TW1", models.CarrierSevenEleven, now)
	p.CustomName = "鍵盤"
	p.Notes = "門口"

	status := models.StatusArrivedAtStore
	store := "福美門市"
	PackageFields{Status: &status, StoreName: &store}.ApplyTo(p)

	require.Equal(t, models.StatusArrivedAtStore, p.Status)
	require.Equal(t, "福美門市", p.StoreName)
	require.Equal(t, "鍵盤", p.CustomName)
	require.Equal(t, "門口", p.Notes)
}

func TestPackageChanged_PartialPayloadOmitsFields(t *testing.T) {
	status := models.StatusShipped
	m := PackageChanged{UserID: "u1", TrackingNumber: "TW1", PreviousStatus: models.StatusPending, Fields: PackageFields{Status: &status}}
	require.True(t, m.StatusChanged())

	b, err := json.Marshal(m)
	require.NoError(t, err)
	require.NotContains(t, string(b), "custom_name")

	var back PackageChanged
	require.NoError(t, json.Unmarshal(b, &back))
	require.Nil(t, back.Fields.CustomName)
	require.Equal(t, models.StatusShipped, *back.Fields.Status)
}
