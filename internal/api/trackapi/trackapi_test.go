package trackapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BearBump/ParcelSync/internal/integrations/carrier"
	"github.com/BearBump/ParcelSync/internal/integrations/carrier/fake"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/services/coordinator"
	"github.com/stretchr/testify/require"
)

func newAPI(p carrier.Provider) http.Handler {
	return New(coordinator.New(p)).Routes()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestClassify(t *testing.T) {
	h := newAPI(fake.New(models.CarrierSevenEleven))

	rec := do(t, h, http.MethodPost, "/classify", ClassifyRequest{TrackingNumber: "tw 1234-5678-9012"})
	require.Equal(t, http.StatusOK, rec.Code)

	var out ClassifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "TW123456789012", out.TrackingNumber)
	require.True(t, out.Plausible)
	require.NotEmpty(t, out.Candidates)
	require.Equal(t, models.CarrierSevenEleven, out.Candidates[0].Carrier)
}

func TestClassify_Validation(t *testing.T) {
	h := newAPI(fake.New())

	rec := do(t, h, http.MethodPost, "/classify", ClassifyRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/classify", bytes.NewBufferString("{"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrack_DetectsCarrier(t *testing.T) {
	h := newAPI(fake.New(models.CarrierSevenEleven))

	rec := do(t, h, http.MethodPost, "/track", TrackRequest{TrackingNumber: "TW123456789012"})
	require.Equal(t, http.StatusOK, rec.Code)

	var out TrackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, string(models.CarrierSevenEleven), out.Carrier)
	require.NotEmpty(t, out.Events)
	require.Equal(t, out.Events[0].Status, out.Status)
}

func TestTrack_NoProviderIsPending(t *testing.T) {
	h := newAPI(fake.New(models.CarrierSevenEleven))

	rec := do(t, h, http.MethodPost, "/track", TrackRequest{TrackingNumber: "1234567890", Carrier: "hct"})
	require.Equal(t, http.StatusOK, rec.Code)

	var out TrackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, string(models.StatusPending), out.Status)
	require.Empty(t, out.Events)
}

func TestTrack_Errors(t *testing.T) {
	h := newAPI(fake.New(models.CarrierSevenEleven))
	rec := do(t, h, http.MethodPost, "/track", TrackRequest{TrackingNumber: "TW123456789012", Carrier: "nope"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	notFound := fake.New(models.CarrierSevenEleven).WithError(carrier.NewError(carrier.KindNotFound, "gone", nil))
	rec = do(t, newAPI(notFound), http.MethodPost, "/track", TrackRequest{TrackingNumber: "TW123456789012"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	var e ErrorDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	require.Equal(t, string(carrier.KindNotFound), e.Kind)

	limited := fake.New(models.CarrierSevenEleven).WithError(carrier.NewError(carrier.KindRateLimited, "slow down", nil))
	rec = do(t, newAPI(limited), http.MethodPost, "/track", TrackRequest{TrackingNumber: "TW123456789012"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRefresh_PerItemResults(t *testing.T) {
	p := fake.New(models.CarrierSevenEleven)
	h := newAPI(p)

	rec := do(t, h, http.MethodPost, "/refresh", RefreshRequest{Items: []TrackRequest{
		{TrackingNumber: "TW123456789012"},
		{TrackingNumber: "??"},
		{TrackingNumber: "TW999999999999", Carrier: "sevenEleven"},
	}})
	require.Equal(t, http.StatusOK, rec.Code)

	var out RefreshResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Results, 3)
	require.Nil(t, out.Results[0].Error)
	require.Equal(t, "TW123456789012", out.Results[0].TrackingNumber)
	require.NotNil(t, out.Results[1].Error)
	require.Equal(t, string(carrier.KindInvalidTrackingNumber), out.Results[1].Error.Kind)
	require.Equal(t, "TW999999999999", out.Results[2].TrackingNumber)
	require.Equal(t, int64(2), p.Calls())
}

func TestRefresh_Validation(t *testing.T) {
	rec := do(t, newAPI(fake.New()), http.MethodPost, "/refresh", RefreshRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListCarriers(t *testing.T) {
	rec := do(t, newAPI(fake.New(models.CarrierSevenEleven)), http.MethodGet, "/carriers?lang=en", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out []CarrierDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	tracked := map[string]bool{}
	for _, c := range out {
		tracked[c.Carrier] = c.Tracked
	}
	require.True(t, tracked[string(models.CarrierSevenEleven)])
	require.False(t, tracked[string(models.CarrierHCT)])
}
