package notifier

import (
	"fmt"
	"strings"

	"github.com/BearBump/ParcelSync/internal/models"
)

type Lang string

const (
	LangZhHant Lang = "zh-Hant"
	LangZhHans Lang = "zh-Hans"
	LangEn     Lang = "en"
)

// NormalizeLang сводит язык профиля к поддерживаемым; по умолчанию zh-Hant.
func NormalizeLang(language string) Lang {
	switch {
	case strings.HasPrefix(language, "zh-Hant"):
		return LangZhHant
	case strings.HasPrefix(language, "zh-Hans"):
		return LangZhHans
	case strings.HasPrefix(language, "zh"):
		return LangZhHant
	case strings.HasPrefix(language, "en"):
		return LangEn
	default:
		return LangZhHant
	}
}

type statusTemplate struct {
	title string
	body  func(name, location string) string
}

var statusTemplates = map[models.Status]map[Lang]statusTemplate{
	models.StatusShipped: {
		LangZhHant: {"包裹已出貨", func(name, _ string) string { return name + " 已寄出" }},
		LangZhHans: {"包裹已发货", func(name, _ string) string { return name + " 已寄出" }},
		LangEn:     {"Package Shipped", func(name, _ string) string { return name + " has been shipped" }},
	},
	models.StatusInTransit: {
		LangZhHant: {"包裹運送中", func(name, _ string) string { return name + " 正在運送中" }},
		LangZhHans: {"包裹运送中", func(name, _ string) string { return name + " 正在运送中" }},
		LangEn:     {"Package In Transit", func(name, _ string) string { return name + " is on its way" }},
	},
	models.StatusArrivedAtStore: {
		LangZhHant: {"包裹已到達，請盡快取貨", func(name, loc string) string {
			if loc != "" {
				return fmt.Sprintf("%s 已送達 %s，請記得取貨", name, loc)
			}
			return name + " 已送達，請盡快取貨"
		}},
		LangZhHans: {"包裹已到达，请尽快取货", func(name, loc string) string {
			if loc != "" {
				return fmt.Sprintf("%s 已送达 %s，请记得取货", name, loc)
			}
			return name + " 已送达，请尽快取货"
		}},
		LangEn: {"Package Arrived - Pick Up Now", func(name, loc string) string {
			if loc != "" {
				return fmt.Sprintf("%s is ready at %s. Please pick it up soon", name, loc)
			}
			return name + " is ready for pickup"
		}},
	},
}

// StatusText returns the push text for a status, ok=false when the status has
// no template.
func StatusText(status models.Status, lang Lang, name, location string) (title, body string, ok bool) {
	t, ok := statusTemplates[status][lang]
	if !ok {
		return "", "", false
	}
	return t.title, t.body(name, location), true
}

type digestTemplate struct {
	singleTitle   string
	single        func(name, location string) string
	multipleTitle string
	multiple      func(count int) string
}

var digestTemplates = map[Lang]digestTemplate{
	LangZhHant: {
		singleTitle:   "別讓包裹等太久",
		single:        func(name, loc string) string { return fmt.Sprintf("%s 在 %s 等你取貨", name, loc) },
		multipleTitle: "別讓包裹等太久",
		multiple:      func(n int) string { return fmt.Sprintf("你有 %d 個包裹待取貨", n) },
	},
	LangZhHans: {
		singleTitle:   "别让包裹等太久",
		single:        func(name, loc string) string { return fmt.Sprintf("%s 在 %s 等你取货", name, loc) },
		multipleTitle: "别让包裹等太久",
		multiple:      func(n int) string { return fmt.Sprintf("你有 %d 个包裹待取货", n) },
	},
	LangEn: {
		singleTitle:   "Don't keep your package waiting",
		single:        func(name, loc string) string { return fmt.Sprintf("%s is waiting at %s", name, loc) },
		multipleTitle: "Don't keep your packages waiting",
		multiple:      func(n int) string { return fmt.Sprintf("You have %d packages to pick up", n) },
	},
}

type pickupItem struct {
	name     string
	location string
}

// digestText: один пакет называется по имени, несколько только считаются.
func digestText(lang Lang, items []pickupItem) (title, body string) {
	t, ok := digestTemplates[lang]
	if !ok {
		t = digestTemplates[LangZhHant]
	}
	if len(items) == 1 {
		return t.singleTitle, t.single(items[0].name, items[0].location)
	}
	return t.multipleTitle, t.multiple(len(items))
}
