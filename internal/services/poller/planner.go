package poller

import (
	"math/rand"
	"time"
)

type Rand interface {
	Int63n(n int64) int64
}

// PlannerConfig задаёт паузу между циклами опроса.
type PlannerConfig struct {
	Interval time.Duration // default: 15 minutes
	Jitter   time.Duration // default: 0

	// паузы после подряд прерванных циклов (429/401 от агрегатора)
	Backoff1 time.Duration // default: 15 minutes
	Backoff2 time.Duration // default: 30 minutes
	Backoff3 time.Duration // default: 60 minutes
	Backoff4 time.Duration // default: 120 minutes
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Interval: 15 * time.Minute,

		Backoff1: 15 * time.Minute,
		Backoff2: 30 * time.Minute,
		Backoff3: 60 * time.Minute,
		Backoff4: 120 * time.Minute,
	}
}

type Planner struct {
	cfg PlannerConfig
	r   Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

func (p *Planner) Interval() time.Duration { return p.cfg.Interval }

// NextDelay returns the pause before the next cycle given how many cycles in
// a row were aborted by systemic aggregator errors.
func (p *Planner) NextDelay(consecutiveAborts int) time.Duration {
	var d time.Duration
	switch {
	case consecutiveAborts <= 0:
		d = p.cfg.Interval
	case consecutiveAborts == 1:
		d = p.cfg.Backoff1
	case consecutiveAborts == 2:
		d = p.cfg.Backoff2
	case consecutiveAborts == 3:
		d = p.cfg.Backoff3
	default:
		d = p.cfg.Backoff4
	}
	if p.cfg.Jitter > 0 {
		d += time.Duration(p.r.Int63n(int64(p.cfg.Jitter) + 1))
	}
	return d
}
