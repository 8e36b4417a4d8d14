// Package tracktw is the aggregator adapter for the Track.TW REST API.
//
// Tracking is a two-phase protocol: a tracking number is first imported under
// a carrier UUID, which yields a relation handle; the handle is then used to
// fetch checkpoint history. Handles are cached so a refresh does not re-import.
package tracktw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/ParcelSync/internal/integrations/carrier"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/pkg/errors"
)

const DefaultBaseURL = "https://track.tw/api/v1"

// RelationCache хранит tracking number -> relation id.
type RelationCache interface {
	GetRelation(ctx context.Context, trackingNumber string) (string, bool, error)
	SetRelation(ctx context.Context, trackingNumber, relationID string) error
}

// RateLimiter: общий лимит на запросы к агрегатору (например, Redis INCR).
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Client struct {
	baseURL string
	token   string
	httpc   *http.Client

	cache RelationCache

	rl          RateLimiter
	rlPerMinute int64
}

func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   noRedirectClient(),
		cache:   NewMemoryRelationCache(),
	}
}

// 302 на логин означает протухший токен, поэтому редиректы не проходим.
func noRedirectClient() *http.Client {
	hc := carrier.DefaultHTTPClient()
	hc.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return hc
}

func (c *Client) WithRelationCache(rc RelationCache) *Client {
	if rc != nil {
		c.cache = rc
	}
	return c
}

func (c *Client) WithRateLimit(rl RateLimiter, perMinute int64) *Client {
	c.rl = rl
	c.rlPerMinute = perMinute
	return c
}

func (c *Client) Name() string { return "tracktw" }

// SupportedCarriers: все перевозчики, у которых есть UUID агрегатора.
func (c *Client) SupportedCarriers() []models.Carrier {
	var out []models.Carrier
	for _, cr := range models.AllCarriers() {
		if cr.AggregatorID() != "" {
			out = append(out, cr)
		}
	}
	return out
}

func (c *Client) Track(ctx context.Context, number string, cr models.Carrier) (models.TrackingResult, error) {
	if err := carrier.CheckSupported(c, cr); err != nil {
		return models.TrackingResult{}, err
	}
	relationID, err := c.EnsureRelation(ctx, cr, number)
	if err != nil {
		return models.TrackingResult{}, err
	}
	resp, err := c.GetTracking(ctx, relationID)
	if err != nil {
		return models.TrackingResult{}, err
	}
	return resp.ToResult(number, cr, relationID), nil
}

// EnsureRelation is get-or-create for the relation handle. The cache is an
// optimization only: a repeated import of the same number returns the same handle.
func (c *Client) EnsureRelation(ctx context.Context, cr models.Carrier, number string) (string, error) {
	if id, ok, err := c.cache.GetRelation(ctx, number); err != nil {
		slog.Warn("relation cache get", "tracking_number", number, "error", err.Error())
	} else if ok {
		return id, nil
	}

	ids, err := c.Import(ctx, cr, []string{number})
	if err != nil {
		return "", err
	}
	id, ok := ids[number]
	if !ok || id == "" {
		return "", carrier.NewError(carrier.KindInvalidResponse, "import returned no relation for "+number, nil)
	}
	if err := c.cache.SetRelation(ctx, number, id); err != nil {
		slog.Warn("relation cache set", "tracking_number", number, "error", err.Error())
	}
	return id, nil
}

// SetRelation заполняет кэш handle-ом, полученным извне (например, из облака).
func (c *Client) SetRelation(ctx context.Context, number, relationID string) error {
	return c.cache.SetRelation(ctx, number, relationID)
}

func (c *Client) Import(ctx context.Context, cr models.Carrier, numbers []string) (map[string]string, error) {
	carrierID := cr.AggregatorID()
	if carrierID == "" {
		return nil, carrier.NewError(carrier.KindUnsupportedCarrier, string(cr), nil)
	}
	body, err := json.Marshal(importRequest{
		CarrierID:      carrierID,
		TrackingNumber: numbers,
		NotifyState:    "inactive",
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal import")
	}
	out := map[string]string{}
	if err := c.do(ctx, http.MethodPost, "/package/import", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetTracking(ctx context.Context, relationID string) (*TrackingResponse, error) {
	var out TrackingResponse
	if err := c.do(ctx, http.MethodGet, "/package/tracking/"+url.PathEscape(relationID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetProfile(ctx context.Context) (*UserProfile, error) {
	var out UserProfile
	if err := c.do(ctx, http.MethodGet, "/user/profile", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AvailableCarriers(ctx context.Context) ([]Carrier, error) {
	var out []Carrier
	if err := c.do(ctx, http.MethodGet, "/carrier/available", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListPackages(ctx context.Context, folder string, page, size int) (*PackageList, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}
	var out PackageList
	path := fmt.Sprintf("/package/all/%s?page=%d&size=%d", url.PathEscape(folder), page, size)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetPackageState, action = archive | delete.
func (c *Client) SetPackageState(ctx context.Context, relationID, action string) (bool, error) {
	var out stateResponse
	path := fmt.Sprintf("/package/state/%s/%s", url.PathEscape(relationID), url.PathEscape(action))
	if err := c.do(ctx, http.MethodPatch, path, nil, &out); err != nil {
		return false, err
	}
	return out.Success, nil
}

func (c *Client) throttle(ctx context.Context) error {
	if c.rl == nil || c.rlPerMinute <= 0 {
		return nil
	}
	key := "rl:tracktw:" + time.Now().UTC().Format("200601021504")
	allowed, n, err := c.rl.Allow(ctx, key, c.rlPerMinute, 70*time.Second)
	if err != nil {
		// лимитер недоступен: не блокируем трекинг
		slog.Warn("tracktw rate limiter", "error", err.Error())
		return nil
	}
	if !allowed {
		return carrier.NewError(carrier.KindRateLimited, fmt.Sprintf("local budget exhausted (%d)", n), nil)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	if c.token == "" {
		return carrier.NewError(carrier.KindUnauthorized, "token is not configured", nil)
	}
	if err := c.throttle(ctx); err != nil {
		return err
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return carrier.NetworkError(err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return carrier.NetworkError(err)
	}
	if err := carrier.FromHTTPStatus(resp.StatusCode, b); err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return carrier.ParsingError(errors.Wrap(err, "decode"))
	}
	return nil
}

type memoryRelationCache struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewMemoryRelationCache() RelationCache {
	return &memoryRelationCache{m: map[string]string{}}
}

func (m *memoryRelationCache) GetRelation(_ context.Context, number string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.m[number]
	return id, ok, nil
}

func (m *memoryRelationCache) SetRelation(_ context.Context, number, relationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[number] = relationID
	return nil
}
