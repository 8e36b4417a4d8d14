// Package tracktwweb scrapes the aggregator's public tracking page. It needs
// no token and serves as a fallback when the REST adapter is not configured.
package tracktwweb

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/ParcelSync/internal/integrations/carrier"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/normalizer"
	"github.com/pkg/errors"
)

const DefaultBaseURL = "https://track.tw/carrier"

var notFoundMarkers = []string{"找不到此包裹", "查無資料", "No tracking"}

// Первый паттерн, давший хотя бы один блок, выигрывает.
var blockPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<div[^>]*class="[^"]*tracking[^"]*"[^>]*>[\s\S]*?</div>`),
	regexp.MustCompile(`(?i)<li[^>]*class="[^"]*timeline[^"]*"[^>]*>[\s\S]*?</li>`),
	regexp.MustCompile(`(?i)<tr[^>]*>[\s\S]*?</tr>`),
}

var (
	fullDateRe  = regexp.MustCompile(`(\d{4})[/-](\d{1,2})[/-](\d{1,2})\s*(\d{1,2}):(\d{2})`)
	shortDateRe = regexp.MustCompile(`(\d{1,2})[/-](\d{1,2})\s*(\d{1,2}):(\d{2})`)
	tagRe       = regexp.MustCompile(`<[^>]+>`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

var locationRes = []*regexp.Regexp{
	regexp.MustCompile(`(\S+店)`),
	regexp.MustCompile(`(\S+門市)`),
	regexp.MustCompile(`(\S+營業所)`),
}

var eventTable = normalizer.KeywordTable{
	{Status: models.StatusDelivered, Keywords: []string{"已取件", "已領取", "完成取貨"}},
	{Status: models.StatusArrivedAtStore, Keywords: []string{"到店", "可取貨", "待取"}},
	{Status: models.StatusInTransit, Keywords: []string{"配送中", "外出配送", "運送中", "轉運", "抵達"}},
	{Status: models.StatusShipped, Keywords: []string{"已寄出", "已收件", "已攬收"}},
}

// Запасной вариант, когда на странице нет блоков событий.
var basicStatuses = []struct {
	keyword string
	status  models.Status
}{
	{"已取件", models.StatusDelivered},
	{"已領取", models.StatusDelivered},
	{"已送達", models.StatusDelivered},
	{"可取貨", models.StatusArrivedAtStore},
	{"已到店", models.StatusArrivedAtStore},
	{"待取件", models.StatusArrivedAtStore},
	{"配送中", models.StatusInTransit},
	{"運送中", models.StatusInTransit},
	{"已出貨", models.StatusShipped},
	{"已寄出", models.StatusShipped},
	{"已收件", models.StatusShipped},
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

func (c *Client) Name() string { return "tracktwweb" }

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

	u := c.baseURL + "/" + cr.AggregatorID() + "/" + url.PathEscape(number)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return models.TrackingResult{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("User-Agent", carrier.UserAgent)
	req.Header.Set("Accept-Language", "zh-TW,zh;q=0.9")

	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return models.TrackingResult{}, ctx.Err()
		}
		return models.TrackingResult{}, carrier.NetworkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.TrackingResult{}, carrier.NetworkError(err)
	}
	if err := carrier.FromHTTPStatus(resp.StatusCode, body); err != nil {
		return models.TrackingResult{}, err
	}
	return c.parsePage(number, cr, string(body))
}

func (c *Client) parsePage(number string, cr models.Carrier, html string) (models.TrackingResult, error) {
	for _, m := range notFoundMarkers {
		if strings.Contains(html, m) {
			return models.TrackingResult{}, carrier.NewError(carrier.KindNotFound, number, nil)
		}
	}

	res := models.TrackingResult{
		TrackingNumber: number,
		Carrier:        cr,
		CurrentStatus:  models.StatusPending,
		RawResponse:    html,
	}
	now := c.now()
	for _, block := range eventBlocks(html) {
		text := stripTags(block)
		if text == "" {
			continue
		}
		ts, ok := extractDate(block, now)
		if !ok {
			ts = carrier.SnapshotTime(now)
		}
		res.Events = append(res.Events, models.NewTrackingEvent(
			number, ts, eventTable.Classify(text, false), text, extractLocation(text),
		))
	}

	if len(res.Events) == 0 {
		for _, b := range basicStatuses {
			if strings.Contains(html, b.keyword) {
				res.Events = append(res.Events, models.NewTrackingEvent(
					number, carrier.SnapshotTime(now), b.status, b.keyword, "",
				))
				break
			}
		}
	}

	// страница показывает события от новых к старым
	if len(res.Events) > 0 {
		res.CurrentStatus = res.Events[0].Status
		res.StoreName = res.Events[0].Location
	}
	return res, nil
}

func eventBlocks(html string) []string {
	for _, re := range blockPatterns {
		if blocks := re.FindAllString(html, -1); len(blocks) > 0 {
			return blocks
		}
	}
	return nil
}

func stripTags(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// extractDate понимает "2025/03/01 14:30" и "03/01 14:30" (год берётся текущий).
func extractDate(s string, now time.Time) (time.Time, bool) {
	if m := fullDateRe.FindStringSubmatch(s); m != nil {
		return buildTime(atoi(m[1]), atoi(m[2]), atoi(m[3]), atoi(m[4]), atoi(m[5]))
	}
	if m := shortDateRe.FindStringSubmatch(s); m != nil {
		year := now.In(carrier.TaipeiTZ).Year()
		return buildTime(year, atoi(m[1]), atoi(m[2]), atoi(m[3]), atoi(m[4]))
	}
	return time.Time{}, false
}

func buildTime(y, mo, d, h, mi int) (time.Time, bool) {
	if mo < 1 || mo > 12 || d < 1 || d > 31 || h > 23 || mi > 59 {
		return time.Time{}, false
	}
	return time.Date(y, time.Month(mo), d, h, mi, 0, 0, carrier.TaipeiTZ).UTC(), true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func extractLocation(text string) string {
	for _, re := range locationRes {
		if m := re.FindStringSubmatch(text); len(m) == 2 {
			return m[1]
		}
	}
	return ""
}
