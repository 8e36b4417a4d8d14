// Package normalizer maps carrier vocabularies onto the canonical status set.
// Every function here is pure and total: unknown input degrades to pending.
package normalizer

import (
	"regexp"
	"strings"

	"github.com/BearBump/ParcelSync/internal/models"
)

// KeywordGroup: набор подстрок, означающих один статус.
type KeywordGroup struct {
	Status   models.Status
	Keywords []string
}

// KeywordTable is checked group by group; the first group with a hit wins.
type KeywordTable []KeywordGroup

func (t KeywordTable) Match(text string) (models.Status, bool) {
	low := strings.ToLower(text)
	for _, g := range t {
		for _, kw := range g.Keywords {
			if strings.Contains(low, kw) {
				return g.Status, true
			}
		}
	}
	return "", false
}

// Classify falls back to Normalize when the table has no hit.
func (t KeywordTable) Classify(text string, delivered bool) models.Status {
	if delivered {
		return models.StatusDelivered
	}
	if s, ok := t.Match(text); ok {
		return s
	}
	return Normalize(text, false)
}

// Порядок групп задаёт tie-break: "退回" + "轉運" должно дать returned.
var freeTextGroups = KeywordTable{
	{models.StatusReturned, []string{"退回", "退貨", "逾期", "到期未取", "未取退", "返回", "return"}},
	{models.StatusArrivedAtStore, []string{"到店", "待取", "可取貨", "配達", "已到貨", "ready for pickup"}},
	{models.StatusInTransit, []string{"配送中", "運送中", "轉運", "理貨", "物流中心", "前往", "transit", "out for delivery"}},
	{models.StatusShipped, []string{"已寄出", "已收件", "寄件", "出貨", "訂單成立", "賣家", "shipped", "picked up"}},
}

// Подстатусы для checkpoint_status=transit у агрегатора.
var transitGroups = KeywordTable{
	{models.StatusPending, []string{"將於", "等待出貨", "等待寄件", "準備出貨", "訂單成立", "訂單處理"}},
	{models.StatusArrivedAtStore, []string{"到店", "到門市", "待取", "可取貨", "配達", "已到達", "已送達"}},
	{models.StatusInTransit, []string{"配送中", "運送中", "轉運", "理貨", "抵達", "派送", "投遞"}},
	{models.StatusShipped, []string{"寄件", "出貨", "已收件", "已攬收"}},
}

var vendorCodes = map[string]models.Status{
	"SP_Ready_Collection":     models.StatusArrivedAtStore,
	"SP_Collection_Collected": models.StatusDelivered,
	"SP_In_Transit":           models.StatusInTransit,
	"SP_Sorting":              models.StatusInTransit,
	"SP_Out_for_Delivery":     models.StatusInTransit,
	"SOC_Received":            models.StatusInTransit,
	"SP_Picked_Up":            models.StatusShipped,
	"SP_Info_Received":        models.StatusShipped,
	"Created":                 models.StatusShipped,
	"SP_Returned":             models.StatusReturned,
	"SP_Return":               models.StatusReturned,
	"Returned":                models.StatusReturned,
	"Return":                  models.StatusReturned,
}

// Normalize classifies free-text status. An explicit delivered flag from the
// provider wins over any text.
func Normalize(text string, delivered bool) models.Status {
	if delivered {
		return models.StatusDelivered
	}
	if s, ok := freeTextGroups.Match(text); ok {
		return s
	}
	return models.StatusPending
}

// FromCheckpoint maps the aggregator's checkpoint code plus description.
func FromCheckpoint(code, description string) models.Status {
	switch code {
	case "delivered":
		return models.StatusDelivered
	case "exception":
		return models.StatusReturned
	case "pending":
		return models.StatusPending
	case "transit":
		if s, ok := transitGroups.Match(description); ok {
			return s
		}
		return models.StatusInTransit
	default:
		return models.StatusPending
	}
}

// FromVendorCode: коды статусов Shopee, неизвестные коды уходят в Normalize.
func FromVendorCode(code, description string) models.Status {
	if s, ok := vendorCodes[code]; ok {
		return s
	}
	return Normalize(description, false)
}

var bracketRe = regexp.MustCompile(`\[([^\]]+)\]`)

// ExtractBracketLocation: "[中和福美 - 智取店] 買家取件成功" -> "中和福美 - 智取店".
func ExtractBracketLocation(text string) string {
	m := bracketRe.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}
