// Package shopee queries the SPX (Shopee Xpress) tracking search. Requests
// carry a signed composite parameter: number|unix|sha256(number+unix+salt).
package shopee

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/ParcelSync/internal/integrations/carrier"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/normalizer"
	"github.com/pkg/errors"
)

const (
	DefaultBaseURL = "https://spx.tw"
	searchPath     = "/api/v2/fleet_order/tracking/search"
	signSalt       = "0ebfffe63d2a481cf57fe7d5ebdc9fd6"
)

type Client struct {
	baseURL string
	httpc   *http.Client
	now     func() time.Time
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   carrier.DefaultHTTPClient(),
		now:     time.Now,
	}
}

func (c *Client) Name() string { return "shopee" }

func (c *Client) SupportedCarriers() []models.Carrier {
	return []models.Carrier{models.CarrierShopee}
}

type trackingRecord struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type searchResponse struct {
	Retcode int `json:"retcode"`
	Data    *struct {
		TrackingList []trackingRecord `json:"tracking_list"`
	} `json:"data"`
}

// Sign builds the composite sls_tracking_number value.
func Sign(number string, ts int64) string {
	unix := strconv.FormatInt(ts, 10)
	sum := sha256.Sum256([]byte(number + unix + signSalt))
	return number + "|" + unix + "|" + hex.EncodeToString(sum[:])
}

func (c *Client) Track(ctx context.Context, number string, cr models.Carrier) (models.TrackingResult, error) {
	if err := carrier.CheckSupported(c, cr); err != nil {
		return models.TrackingResult{}, err
	}

	q := url.Values{}
	q.Set("sls_tracking_number", Sign(number, c.now().Unix()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+searchPath+"?"+q.Encode(), nil)
	if err != nil {
		return models.TrackingResult{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("Cookie", "fms_language=tw")
	req.Header.Set("User-Agent", carrier.UserAgent)
	req.Header.Set("Referer", DefaultBaseURL)

	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return models.TrackingResult{}, ctx.Err()
		}
		return models.TrackingResult{}, carrier.NetworkError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.TrackingResult{}, carrier.NetworkError(err)
	}
	if err := carrier.FromHTTPStatus(resp.StatusCode, raw); err != nil {
		return models.TrackingResult{}, err
	}

	var sr searchResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return models.TrackingResult{}, carrier.ParsingError(errors.Wrap(err, "decode"))
	}
	if sr.Data == nil {
		return models.TrackingResult{}, carrier.ParsingError(errors.New("missing data"))
	}
	if len(sr.Data.TrackingList) == 0 {
		return models.TrackingResult{}, carrier.NewError(carrier.KindNotFound, number, nil)
	}
	return toResult(number, sr.Data.TrackingList, raw), nil
}

func toResult(number string, list []trackingRecord, raw []byte) models.TrackingResult {
	res := models.TrackingResult{
		TrackingNumber: number,
		Carrier:        models.CarrierShopee,
		RawResponse:    string(raw),
	}
	for _, r := range list {
		res.Events = append(res.Events, models.NewTrackingEvent(
			number,
			time.Unix(r.Timestamp, 0).UTC(),
			normalizer.FromVendorCode(r.Status, r.Message),
			r.Message,
			normalizer.ExtractBracketLocation(r.Message),
		))
	}
	// первая запись: самая свежая
	res.CurrentStatus = res.Events[0].Status
	res.StoreName = res.Events[0].Location
	return res
}
