package tracktw

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/ParcelSync/internal/integrations/carrier"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/stretchr/testify/require"
)

const trackingJSON = `{
  "id": "rel-1",
  "tracking_number": "TW123456789012",
  "carrier_id": "9a980809-8865-4741-9f0a-3daaaa7d9e19",
  "package_history": [
    {"package_id":"p1","time":1740825000,"status":"[中和福美 - 智取店] 包裹已到店","checkpoint_status":"transit","created_at":"2025-03-01"},
    {"package_id":"p1","time":1740738600,"status":"賣家已出貨","checkpoint_status":"transit","created_at":"2025-02-28"}
  ],
  "carrier": {"id":"9a980809-8865-4741-9f0a-3daaaa7d9e19","name":"7-11"}
}`

func newServer(t *testing.T, imports *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/package/import":
			imports.Add(1)
			var body importRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, models.CarrierSevenEleven.AggregatorID(), body.CarrierID)
			require.Equal(t, "inactive", body.NotifyState)
			_, _ = w.Write([]byte(`{"TW123456789012":"rel-1"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/package/tracking/rel-1":
			_, _ = w.Write([]byte(trackingJSON))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestClient_Track_ImportsOnceAndMaps(t *testing.T) {
	var imports atomic.Int32
	srv := newServer(t, &imports)
	defer srv.Close()

	c := New(srv.URL, "tok")
	ctx := context.Background()

	res, err := c.Track(ctx, "TW123456789012", models.CarrierSevenEleven)
	require.NoError(t, err)
	require.Equal(t, models.StatusArrivedAtStore, res.CurrentStatus)
	require.Equal(t, "rel-1", res.RelationID)
	require.Equal(t, "中和福美 - 智取店", res.StoreName)
	require.Len(t, res.Events, 2)
	require.Equal(t, "中和福美 - 智取店", res.Events[0].Location)
	require.Equal(t, models.StatusShipped, res.Events[1].Status)
	require.WithinDuration(t, time.Unix(1740825000, 0), res.Events[0].Timestamp, time.Second)

	_, err = c.Track(ctx, "TW123456789012", models.CarrierSevenEleven)
	require.NoError(t, err)
	require.Equal(t, int32(1), imports.Load())
}

func TestClient_Track_Unsupported(t *testing.T) {
	c := New("http://127.0.0.1:0", "tok")
	_, err := c.Track(context.Background(), "LP1234567890123456", models.CarrierCainiao)
	require.ErrorIs(t, err, carrier.ErrUnsupportedCarrier)
}

func TestClient_StatusMapping(t *testing.T) {
	cases := map[int]carrier.Kind{
		http.StatusUnauthorized:    carrier.KindUnauthorized,
		http.StatusFound:           carrier.KindUnauthorized,
		http.StatusNotFound:        carrier.KindNotFound,
		http.StatusTooManyRequests: carrier.KindRateLimited,
		http.StatusBadGateway:      carrier.KindServer,
	}
	for code, kind := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if code == http.StatusFound {
				w.Header().Set("Location", "/login")
			}
			w.WriteHeader(code)
		}))
		c := New(srv.URL, "tok")
		_, err := c.GetTracking(context.Background(), "rel")
		require.Equal(t, kind, carrier.KindOf(err), "code %d", code)
		srv.Close()
	}
}

func TestClient_DecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "tok").GetTracking(context.Background(), "rel")
	require.ErrorIs(t, err, carrier.ErrParsing)
}

func TestClient_NoToken(t *testing.T) {
	_, err := New("http://127.0.0.1:0", "").GetProfile(context.Background())
	require.ErrorIs(t, err, carrier.ErrUnauthorized)
}

type denyRL struct{}

func (denyRL) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	return false, limit + 1, nil
}

func TestClient_LocalRateLimit(t *testing.T) {
	c := New("http://127.0.0.1:0", "tok").WithRateLimit(denyRL{}, 10)
	_, err := c.GetTracking(context.Background(), "rel")
	require.ErrorIs(t, err, carrier.ErrRateLimited)
}

func TestClient_ListAndState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/package/all/inbox":
			require.Equal(t, "2", r.URL.Query().Get("page"))
			_, _ = w.Write([]byte(`{"current_page":2,"data":[{"id":"rel-9","package":{"id":"p","tracking_number":"X","carrier_id":"c","carrier":{"id":"c","name":"n"}}}],"last_page":2,"per_page":50,"total":51}`))
		case "/package/state/rel-9/archive":
			require.Equal(t, http.MethodPatch, r.Method)
			_, _ = w.Write([]byte(`{"success":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	list, err := c.ListPackages(context.Background(), "inbox", 2, 0)
	require.NoError(t, err)
	require.Len(t, list.Data, 1)
	require.Equal(t, "rel-9", list.Data[0].ID)

	ok, err := c.SetPackageState(context.Background(), "rel-9", "archive")
	require.NoError(t, err)
	require.True(t, ok)
}
