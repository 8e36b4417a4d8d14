// Package parceltw talks to a self-hosted parcel lookup backend that wraps the
// convenience-store sites (including the 7-ELEVEN captcha flow) behind one
// JSON endpoint.
package parceltw

import (
	"context"
	"encoding/json"
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

var platforms = map[models.Carrier]string{
	models.CarrierSevenEleven: "seven_eleven",
	models.CarrierFamilyMart:  "family_mart",
	models.CarrierOKMart:      "okmart",
	models.CarrierShopee:      "shopee",
}

var shippingDateRe = regexp.MustCompile(`(\d{4}/\d{2}/\d{2}\s+\d{2}:\d{2})`)

type Client struct {
	baseURL string
	httpc   *http.Client
	now     func() time.Time
}

// New: распознавание капчи 7-11 на бэкенде бывает долгим, таймаут 30s.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
		now:     time.Now,
	}
}

func (c *Client) Name() string { return "parceltw" }

func (c *Client) SupportedCarriers() []models.Carrier {
	return []models.Carrier{
		models.CarrierSevenEleven, models.CarrierFamilyMart, models.CarrierOKMart, models.CarrierShopee,
	}
}

type trackResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		Status      string          `json:"status"`
		IsDelivered bool            `json:"is_delivered"`
		Platform    string          `json:"platform"`
		Time        string          `json:"time"`
		RawData     json.RawMessage `json:"raw_data"`
	} `json:"data"`
}

type sevenElevenRaw struct {
	Result struct {
		Shipping []string `json:"shipping"`
		Info     struct {
			StoreName   string `json:"store_name"`
			ServiceType string `json:"servicetype"`
			Deadline    string `json:"deadline"`
		} `json:"info"`
	} `json:"result"`
}

type familyMartRaw struct {
	List []struct {
		StatusD      string `json:"STATUS_D"`
		OrderDateR   string `json:"ORDER_DATE_R"`
		RcvStoreName string `json:"RCV_STORE_NAME"`
		OrderDateRtn string `json:"ORDER_DATE_RTN"`
	} `json:"List"`
}

type trackingListRaw struct {
	TrackingList []struct {
		Status    string `json:"status"`
		Message   string `json:"message"`
		Timestamp int64  `json:"timestamp"`
		Time      string `json:"time"`
	} `json:"tracking_list"`
}

func (c *Client) Track(ctx context.Context, number string, cr models.Carrier) (models.TrackingResult, error) {
	platform, ok := platforms[cr]
	if !ok {
		return models.TrackingResult{}, carrier.NewError(carrier.KindUnsupportedCarrier, string(cr), nil)
	}

	q := url.Values{}
	q.Set("order_id", number)
	q.Set("platform", platform)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/track?"+q.Encode(), nil)
	if err != nil {
		return models.TrackingResult{}, errors.Wrap(err, "new request")
	}

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
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return models.TrackingResult{}, carrier.NewError(carrier.KindNotFound, number, nil)
	case resp.StatusCode == http.StatusServiceUnavailable:
		return models.TrackingResult{}, carrier.NewError(carrier.KindParsing, "captcha recognition failed", nil)
	case resp.StatusCode/100 != 2:
		return models.TrackingResult{}, carrier.NewError(carrier.KindInvalidResponse, resp.Status, nil)
	}

	var tr trackResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return models.TrackingResult{}, carrier.ParsingError(errors.Wrap(err, "decode"))
	}
	if !tr.Success || tr.Data == nil {
		return models.TrackingResult{}, carrier.ParsingError(errors.New("unexpected response shape"))
	}

	d := tr.Data
	res := models.TrackingResult{
		TrackingNumber: number,
		Carrier:        cr,
		CurrentStatus:  normalizer.Normalize(d.Status, d.IsDelivered),
		RawResponse:    string(raw),
	}
	if len(d.RawData) > 0 {
		if err := c.parseRaw(number, d.Platform, d.RawData, &res); err != nil {
			return models.TrackingResult{}, carrier.ParsingError(err)
		}
	}

	if len(res.Events) == 0 {
		ts, ok := carrier.ParseLocalTime(d.Time)
		if !ok {
			ts = carrier.SnapshotTime(c.now())
		}
		res.Events = []models.TrackingEvent{
			models.NewTrackingEvent(number, ts, res.CurrentStatus, d.Status, ""),
		}
	}
	models.SortEventsNewestFirst(res.Events)
	return res, nil
}

func (c *Client) parseRaw(number, platform string, raw json.RawMessage, res *models.TrackingResult) error {
	switch platform {
	case "seven_eleven":
		var v sevenElevenRaw
		if err := json.Unmarshal(raw, &v); err != nil {
			return errors.Wrap(err, "decode seven_eleven")
		}
		info := v.Result.Info
		res.StoreName, res.ServiceType, res.PickupDeadline = info.StoreName, info.ServiceType, info.Deadline
		for _, item := range v.Result.Shipping {
			desc, ts := c.splitShippingLine(item)
			delivered := strings.Contains(desc, "取件成功") || strings.Contains(desc, "成功取件")
			loc := ""
			if strings.Contains(desc, "配達") || strings.Contains(desc, "到店") {
				loc = info.StoreName
			}
			res.Events = append(res.Events, models.NewTrackingEvent(
				number, ts, normalizer.Normalize(desc, delivered), desc, loc,
			))
		}

	case "family_mart":
		var v familyMartRaw
		if err := json.Unmarshal(raw, &v); err != nil {
			return errors.Wrap(err, "decode family_mart")
		}
		for _, item := range v.List {
			ts, ok := carrier.ParseLocalTime(item.OrderDateR)
			if !ok {
				ts = carrier.SnapshotTime(c.now())
			}
			loc := ""
			if strings.Contains(item.StatusD, "配達") || strings.Contains(item.StatusD, "到店") {
				loc = item.RcvStoreName
			}
			res.Events = append(res.Events, models.NewTrackingEvent(
				number, ts, normalizer.Normalize(item.StatusD, strings.Contains(item.StatusD, "完成取件")), item.StatusD, loc,
			))
		}
		if len(v.List) > 0 {
			res.StoreName = v.List[0].RcvStoreName
			res.PickupDeadline = v.List[0].OrderDateRtn
		}

	case "shopee", "okmart":
		var v trackingListRaw
		if err := json.Unmarshal(raw, &v); err != nil {
			return errors.Wrap(err, "decode tracking_list")
		}
		for _, item := range v.TrackingList {
			msg := item.Message
			if msg == "" {
				msg = item.Status
			}
			ts := carrier.SnapshotTime(c.now())
			if item.Timestamp > 0 {
				ts = time.Unix(item.Timestamp, 0).UTC()
			} else if t, ok := carrier.ParseLocalTime(item.Time); ok {
				ts = t
			}
			var status models.Status
			if platform == "shopee" {
				status = normalizer.FromVendorCode(item.Status, msg)
			} else {
				status = normalizer.Normalize(msg, strings.Contains(msg, "取件") && strings.Contains(msg, "成功"))
			}
			res.Events = append(res.Events, models.NewTrackingEvent(number, ts, status, msg, ""))
		}
	}
	return nil
}

// splitShippingLine: "已完成包裹成功取件2026/01/30 12:06" -> описание и время.
func (c *Client) splitShippingLine(item string) (string, time.Time) {
	m := shippingDateRe.FindString(item)
	if m == "" {
		return strings.TrimSpace(item), carrier.SnapshotTime(c.now())
	}
	desc := strings.TrimSpace(strings.Replace(item, m, "", 1))
	ts, ok := carrier.ParseLocalTime(m)
	if !ok {
		ts = carrier.SnapshotTime(c.now())
	}
	return desc, ts
}
