package fake

import (
	"context"
	"hash/fnv"
	"sync/atomic"
	"time"

	"github.com/BearBump/ParcelSync/internal/models"
)

// Provider: офлайн "перевозчик" для демо и тестов.
// Статус детерминирован по (carrier, number): часть номеров сразу доставлена.
type Provider struct {
	carriers []models.Carrier
	delay    time.Duration
	err      error
	calls    atomic.Int64
}

// New claims the given carriers, or every carrier when none are given.
func New(carriers ...models.Carrier) *Provider {
	if len(carriers) == 0 {
		carriers = models.AllCarriers()
	}
	return &Provider{carriers: carriers}
}

// WithDelay имитирует сетевую задержку, уважая ctx.
func (p *Provider) WithDelay(d time.Duration) *Provider {
	p.delay = d
	return p
}

func (p *Provider) WithError(err error) *Provider {
	p.err = err
	return p
}

func (p *Provider) Calls() int64 { return p.calls.Load() }

func (p *Provider) Name() string { return "fake" }

func (p *Provider) SupportedCarriers() []models.Carrier { return p.carriers }

var progression = []struct {
	status models.Status
	text   string
}{
	{models.StatusShipped, "賣家已寄出"},
	{models.StatusInTransit, "包裹配送中"},
	{models.StatusArrivedAtStore, "[測試門市] 包裹已到店"},
	{models.StatusDelivered, "買家已取件"},
}

// epoch: фиксированная точка отсчёта, чтобы ID событий не менялись между вызовами.
var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func (p *Provider) Track(ctx context.Context, number string, c models.Carrier) (models.TrackingResult, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return models.TrackingResult{}, ctx.Err()
		case <-time.After(p.delay):
		}
	}
	if p.err != nil {
		return models.TrackingResult{}, p.err
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(c))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(number))
	v := h.Sum32()

	// 20% номеров считаем доставленными, остальные где-то в пути
	steps := int(v%3) + 1
	if v%5 == 0 {
		steps = len(progression)
	}

	start := epoch.Add(time.Duration(v%1000) * time.Hour)
	res := models.TrackingResult{TrackingNumber: number, Carrier: c}
	for i := steps - 1; i >= 0; i-- {
		ts := start.Add(time.Duration(i) * 6 * time.Hour)
		loc := ""
		if progression[i].status == models.StatusArrivedAtStore {
			loc = "測試門市"
		}
		res.Events = append(res.Events, models.NewTrackingEvent(number, ts, progression[i].status, progression[i].text, loc))
	}
	res.CurrentStatus = res.Events[0].Status
	return res, nil
}
