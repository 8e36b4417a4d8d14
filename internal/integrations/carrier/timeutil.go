package carrier

import (
	"strings"
	"time"
)

// TaipeiTZ: все даты перевозчиков приходят в локальном времени Тайваня.
var TaipeiTZ = time.FixedZone("Asia/Taipei", 8*60*60)

var localLayouts = []string{
	"2006/01/02 15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04",
	"2006-01-02 15:04",
	"2006/1/2 15:04",
	time.RFC3339,
}

// ParseLocalTime tries the common carrier layouts in Taipei time.
func ParseLocalTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, TaipeiTZ); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// SnapshotTime stamps events from providers that report only a current state
// without a checkpoint time. The value is stable for one Taipei calendar day,
// so repeated polls of an unchanged state map onto the same event ID.
func SnapshotTime(now time.Time) time.Time {
	local := now.In(TaipeiTZ)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, TaipeiTZ).UTC()
}
