package familymart

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/ParcelSync/internal/integrations/carrier"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/stretchr/testify/require"
)

func TestClient_Track(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, detailPath, r.URL.Path)
		require.Equal(t, "application/json; charset=UTF-8", r.Header.Get("Content-Type"))

		var body detailRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "AB1234567890", body.ECOrderNo)
		require.Equal(t, "AB1234567890", body.OrderNo)

		_, _ = w.Write([]byte(`{"d":"[{\"ProcessStatusName\":\"貨件配達取件店舖\",\"OrderDateTime\":\"2025/03/01 14:30:00\",\"StName\":\"全家中和店\"}]"}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL).Track(context.Background(), "AB1234567890", models.CarrierFamilyMart)
	require.NoError(t, err)
	require.Equal(t, models.StatusArrivedAtStore, res.CurrentStatus)
	require.Equal(t, "全家中和店", res.StoreName)
	require.Len(t, res.Events, 1)
	require.Equal(t, "全家中和店", res.Events[0].Location)

	want := time.Date(2025, 3, 1, 14, 30, 0, 0, carrier.TaipeiTZ)
	require.True(t, want.Equal(res.Events[0].Timestamp))
}

func TestClient_Track_EmptyList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"d":"[]"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Track(context.Background(), "AB1234567890", models.CarrierFamilyMart)
	require.ErrorIs(t, err, carrier.ErrNotFound)
}

func TestClient_Track_Errors(t *testing.T) {
	t.Run("garbage", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>maintenance</html>`))
		}))
		defer srv.Close()
		_, err := New(srv.URL).Track(context.Background(), "AB1", models.CarrierFamilyMart)
		require.ErrorIs(t, err, carrier.ErrParsing)
	})

	t.Run("http status", func(t *testing.T) {
		cases := map[int]carrier.Kind{
			http.StatusInternalServerError: carrier.KindServer,
			http.StatusTooManyRequests:     carrier.KindRateLimited,
			http.StatusUnauthorized:        carrier.KindUnauthorized,
		}
		for code, kind := range cases {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(code)
			}))
			_, err := New(srv.URL).Track(context.Background(), "AB1", models.CarrierFamilyMart)
			require.Equal(t, kind, carrier.KindOf(err), "code %d", code)
			srv.Close()
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := New("http://127.0.0.1:0").Track(context.Background(), "AB1", models.CarrierSevenEleven)
		require.ErrorIs(t, err, carrier.ErrUnsupportedCarrier)
	})

	t.Run("network", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		url := srv.URL
		srv.Close()
		_, err := New(url).Track(context.Background(), "AB1", models.CarrierFamilyMart)
		require.ErrorIs(t, err, carrier.ErrNetwork)
	})
}

func TestStatusTable(t *testing.T) {
	cases := map[string]models.Status{
		"已完成取件":   models.StatusDelivered,
		"貨件配送中":   models.StatusInTransit,
		"門市已收件":   models.StatusShipped,
		"訂單處理中??": models.StatusPending,
	}
	for text, want := range cases {
		require.Equal(t, want, statusTable.Classify(text, false), text)
	}
}
