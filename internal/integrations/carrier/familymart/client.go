// Package familymart scrapes the FamilyMart e-commerce order lookup.
package familymart

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BearBump/ParcelSync/internal/integrations/carrier"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/normalizer"
	"github.com/pkg/errors"
)

const DefaultBaseURL = "https://ecfme.fme.com.tw"

const detailPath = "/FMEDCFPWebV2_II/list.aspx/GetOrderDetail"

var statusTable = normalizer.KeywordTable{
	{Status: models.StatusArrivedAtStore, Keywords: []string{"貨件配達取件店舖", "到店"}},
	{Status: models.StatusDelivered, Keywords: []string{"已完成取件", "取件完成"}},
	{Status: models.StatusInTransit, Keywords: []string{"配送中", "配達中", "運送中", "轉運"}},
	{Status: models.StatusShipped, Keywords: []string{"已收件", "寄件"}},
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

func (c *Client) Name() string { return "familymart" }

func (c *Client) SupportedCarriers() []models.Carrier {
	return []models.Carrier{models.CarrierFamilyMart}
}

type detailRequest struct {
	ECOrderNo   string `json:"EC_ORDER_NO"`
	OrderNo     string `json:"ORDER_NO"`
	RcvUserName string `json:"RCV_USER_NAME"`
}

type orderDetail struct {
	ProcessStatusName string `json:"ProcessStatusName"`
	OrderDateTime     string `json:"OrderDateTime"`
	StName            string `json:"StName"`
}

func (c *Client) Track(ctx context.Context, number string, cr models.Carrier) (models.TrackingResult, error) {
	if err := carrier.CheckSupported(c, cr); err != nil {
		return models.TrackingResult{}, err
	}

	body, err := json.Marshal(detailRequest{ECOrderNo: number, OrderNo: number})
	if err != nil {
		return models.TrackingResult{}, errors.Wrap(err, "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+detailPath, bytes.NewReader(body))
	if err != nil {
		return models.TrackingResult{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("User-Agent", carrier.UserAgent)

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

	items, err := parseDetail(raw)
	if err != nil {
		return models.TrackingResult{}, carrier.ParsingError(err)
	}
	if len(items) == 0 {
		return models.TrackingResult{}, carrier.NewError(carrier.KindNotFound, number, nil)
	}
	return c.toResult(number, items[0], raw), nil
}

// parseDetail: ответ вида {"d":"[{...}]"}, внутренний JSON экранирован.
func parseDetail(raw []byte) ([]orderDetail, error) {
	cleaned := strings.ReplaceAll(string(raw), `\`, "")
	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start < 0 || end < start {
		return nil, errors.New("no order list in payload")
	}
	var items []orderDetail
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &items); err != nil {
		return nil, errors.Wrap(err, "decode order list")
	}
	return items, nil
}

func (c *Client) toResult(number string, d orderDetail, raw []byte) models.TrackingResult {
	status := statusTable.Classify(d.ProcessStatusName, false)
	ts, ok := carrier.ParseLocalTime(d.OrderDateTime)
	if !ok {
		ts = carrier.SnapshotTime(c.now())
	}
	store := strings.TrimSpace(d.StName)

	return models.TrackingResult{
		TrackingNumber: number,
		Carrier:        models.CarrierFamilyMart,
		CurrentStatus:  status,
		Events: []models.TrackingEvent{
			models.NewTrackingEvent(number, ts, status, d.ProcessStatusName, store),
		},
		StoreName:   store,
		RawResponse: string(raw),
	}
}
