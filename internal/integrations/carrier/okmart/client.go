// Package okmart scrapes the OK Mart tracking page. The lookup is two-step:
// a short-lived validation code is read from a cookie and echoed back on the
// result request.
package okmart

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/BearBump/ParcelSync/internal/integrations/carrier"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/normalizer"
	"github.com/pkg/errors"
)

const DefaultBaseURL = "https://ecservice.okmart.com.tw"

var validCodeRe = regexp.MustCompile(`ValidCode=([A-Za-z0-9]{5})`)

var notFoundMarkers = []string{"查無此筆資料", "查詢失敗"}

// Описание события: нормализованная фраза, а не сырой HTML.
var statusPhrases = []struct {
	status      models.Status
	keywords    []string
	description string
}{
	{models.StatusArrivedAtStore, []string{"已到店", "待取件"}, "已到店待取件"},
	{models.StatusDelivered, []string{"已取件", "取件完成"}, "已取件完成"},
	{models.StatusInTransit, []string{"配送中", "運送中"}, "配送中"},
	{models.StatusShipped, []string{"已寄件"}, "已寄件"},
}

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

func (c *Client) Name() string { return "okmart" }

func (c *Client) SupportedCarriers() []models.Carrier {
	return []models.Carrier{models.CarrierOKMart}
}

func (c *Client) Track(ctx context.Context, number string, cr models.Carrier) (models.TrackingResult, error) {
	if err := carrier.CheckSupported(c, cr); err != nil {
		return models.TrackingResult{}, err
	}

	code, err := c.validationCode(ctx, number)
	if err != nil {
		return models.TrackingResult{}, err
	}

	q := url.Values{}
	q.Set("inputOdNo", number)
	q.Set("inputCode1", code)
	_, body, err := c.get(ctx, "/Tracking/Result?"+q.Encode())
	if err != nil {
		return models.TrackingResult{}, err
	}
	html := string(body)
	for _, m := range notFoundMarkers {
		if strings.Contains(html, m) {
			return models.TrackingResult{}, carrier.NewError(carrier.KindNotFound, number, nil)
		}
	}
	return c.parseResult(number, html), nil
}

// validationCode, шаг 1: код приходит в Set-Cookie.
func (c *Client) validationCode(ctx context.Context, number string) (string, error) {
	resp, _, err := c.get(ctx, "/Tracking/ValidateNumber.ashx?inputOdNo="+url.QueryEscape(number))
	if err != nil {
		return "", err
	}
	for _, h := range resp.Header.Values("Set-Cookie") {
		if m := validCodeRe.FindStringSubmatch(h); len(m) == 2 {
			return m[1], nil
		}
	}
	return "", carrier.ParsingError(errors.New("validation code not found"))
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("User-Agent", carrier.UserAgent)

	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, carrier.NetworkError(err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, carrier.NetworkError(err)
	}
	if err := carrier.FromHTTPStatus(resp.StatusCode, b); err != nil {
		return nil, nil, err
	}
	return resp, b, nil
}

func (c *Client) parseResult(number, html string) models.TrackingResult {
	status := models.StatusPending
	description := ""
	for _, p := range statusPhrases {
		if containsAny(html, p.keywords) {
			status, description = p.status, p.description
			break
		}
	}
	if description == "" {
		status = normalizer.Normalize(html, false)
	}

	store := storeName(html)
	res := models.TrackingResult{
		TrackingNumber: number,
		Carrier:        models.CarrierOKMart,
		CurrentStatus:  status,
		StoreName:      store,
		RawResponse:    html,
	}
	if description != "" {
		// страница показывает только текущее состояние, без времени
		res.Events = []models.TrackingEvent{
			models.NewTrackingEvent(number, carrier.SnapshotTime(c.now()), status, description, store),
		}
	}
	return res
}

// storeName: текст после "取件門市" до ближайшего тега.
func storeName(html string) string {
	i := strings.Index(html, "取件門市")
	if i < 0 {
		return ""
	}
	rest := html[i+len("取件門市"):]
	if j := strings.Index(rest, "<"); j >= 0 {
		rest = rest[:j]
	}
	rest = strings.NewReplacer("：", "", ":", "").Replace(rest)
	return strings.TrimSpace(rest)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
