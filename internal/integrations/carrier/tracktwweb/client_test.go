package tracktwweb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/ParcelSync/internal/integrations/carrier"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/stretchr/testify/require"
)

const timelinePage = `<html><body><ul>
<li class="timeline-item"><span>2025/03/01 14:30</span><p>中和福美店 可取貨</p></li>
<li class="timeline-item"><span>02/28 09:05</span><p>包裹轉運中</p></li>
</ul></body></html>`

func TestClient_Track_Timeline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/"+models.CarrierSevenEleven.AggregatorID()+"/TW123456789012", r.URL.Path)
		require.Equal(t, "zh-TW,zh;q=0.9", r.Header.Get("Accept-Language"))
		_, _ = w.Write([]byte(timelinePage))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.now = func() time.Time { return time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC) }

	res, err := c.Track(context.Background(), "TW123456789012", models.CarrierSevenEleven)
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	require.Equal(t, models.StatusArrivedAtStore, res.CurrentStatus)
	require.Equal(t, "中和福美店", res.StoreName)
	require.Equal(t, models.StatusInTransit, res.Events[1].Status)

	want := time.Date(2025, 2, 28, 9, 5, 0, 0, carrier.TaipeiTZ)
	require.True(t, want.Equal(res.Events[1].Timestamp))
}

func TestClient_Track_BasicStatusFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><p>目前狀態：可取貨</p></html>`))
	}))
	defer srv.Close()

	res, err := New(srv.URL).Track(context.Background(), "TW123456789012", models.CarrierSevenEleven)
	require.NoError(t, err)
	require.Equal(t, models.StatusArrivedAtStore, res.CurrentStatus)
	require.Len(t, res.Events, 1)
}

func TestClient_Track_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<p>找不到此包裹</p>`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Track(context.Background(), "TW123456789012", models.CarrierSevenEleven)
	require.ErrorIs(t, err, carrier.ErrNotFound)
}

func TestClient_Track_Unsupported(t *testing.T) {
	_, err := New("http://127.0.0.1:0").Track(context.Background(), "X", models.CarrierYanwen)
	require.ErrorIs(t, err, carrier.ErrUnsupportedCarrier)
}

func TestStripTagsAndLocation(t *testing.T) {
	text := stripTags("<td>  已送達 <b>板橋營業所</b>\n</td>")
	require.Equal(t, "已送達 板橋營業所", text)
	require.Equal(t, "板橋營業所", extractLocation(text))
}

func TestClient_Track_HTTPStatus(t *testing.T) {
	cases := map[int]carrier.Kind{
		http.StatusTooManyRequests: carrier.KindRateLimited,
		http.StatusNotFound:        carrier.KindNotFound,
		http.StatusBadGateway:      carrier.KindServer,
	}
	for code, kind := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		_, err := New(srv.URL).Track(context.Background(), "TW123456789012", models.CarrierSevenEleven)
		require.Equal(t, kind, carrier.KindOf(err), "code %d", code)
		srv.Close()
	}
}
