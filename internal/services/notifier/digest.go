package notifier

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/BearBump/ParcelSync/internal/integrations/carrier"
	"github.com/BearBump/ParcelSync/internal/metrics"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/push"
	"github.com/pkg/errors"
)

const DefaultDigestHour = 10

type DigestStore interface {
	ListUsers(ctx context.Context) ([]string, error)
	GetUser(ctx context.Context, id string) (*models.UserProfile, error)
	ListArrivedPackages(ctx context.Context, userID string) ([]*models.SyncRecord, error)
	RemoveDeviceTokens(ctx context.Context, userID string, tokens []string) (int64, error)
}

// DailyDigest раз в день собирает посылки, ждущие в магазине, в один push.
type DailyDigest struct {
	store   DigestStore
	sender  push.Sender
	metrics *metrics.Metrics
	hour    int
	now     func() time.Time
}

func NewDailyDigest(store DigestStore, sender push.Sender) *DailyDigest {
	return &DailyDigest{store: store, sender: sender, hour: DefaultDigestHour, now: time.Now}
}

func (d *DailyDigest) WithHour(h int) *DailyDigest {
	if h >= 0 && h < 24 {
		d.hour = h
	}
	return d
}

func (d *DailyDigest) WithMetrics(m *metrics.Metrics) *DailyDigest {
	d.metrics = m
	return d
}

// NextRun returns the next hh:00 in Asia/Taipei strictly after now.
func (d *DailyDigest) NextRun(now time.Time) time.Time {
	local := now.In(carrier.TaipeiTZ)
	next := time.Date(local.Year(), local.Month(), local.Day(), d.hour, 0, 0, 0, carrier.TaipeiTZ)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (d *DailyDigest) Run(ctx context.Context) error {
	for {
		wait := d.NextRun(d.now()).Sub(d.now())
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Error("daily digest", "error", err.Error())
		}
	}
}

type DigestReport struct {
	Users   int   `json:"users"`
	Sent    int   `json:"sent"`
	Skipped int   `json:"skipped"`
	Pruned  int64 `json:"prunedTokens"`
}

func (d *DailyDigest) RunOnce(ctx context.Context) (DigestReport, error) {
	var rep DigestReport
	users, err := d.store.ListUsers(ctx)
	if err != nil {
		return rep, errors.Wrap(err, "list users")
	}
	rep.Users = len(users)

	for _, id := range users {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		sent, pruned, err := d.remindUser(ctx, id)
		rep.Pruned += pruned
		switch {
		case err != nil:
			slog.Error("daily digest user", "user_id", id, "error", err.Error())
			rep.Skipped++
		case sent:
			rep.Sent++
		default:
			rep.Skipped++
		}
	}
	slog.Info("daily digest done", "users", rep.Users, "sent", rep.Sent, "skipped", rep.Skipped, "pruned", rep.Pruned)
	return rep, nil
}

func (d *DailyDigest) remindUser(ctx context.Context, userID string) (bool, int64, error) {
	user, err := d.store.GetUser(ctx, userID)
	if err != nil {
		return false, 0, errors.Wrap(err, "get user")
	}
	var tokens []string
	for _, dev := range user.Devices {
		if dev.Token != "" {
			tokens = append(tokens, dev.Token)
		}
	}
	if len(tokens) == 0 || !user.Settings.Enabled || !user.Settings.PickupReminder {
		return false, 0, nil
	}

	pkgs, err := d.store.ListArrivedPackages(ctx, userID)
	if err != nil {
		return false, 0, errors.Wrap(err, "list arrived packages")
	}
	var items []pickupItem
	for _, p := range pkgs {
		if p.IsDeleted || p.IsArchived {
			continue
		}
		items = append(items, pickupItem{name: p.DisplayName(), location: p.PickupPlace()})
	}
	if len(items) == 0 {
		return false, 0, nil
	}

	title, body := digestText(NormalizeLang(user.Language), items)
	msg := push.Message{
		Title: title,
		Body:  body,
		Data:  map[string]string{"type": "dailyReminder", "count": strconv.Itoa(len(items))},
	}
	delivered, invalid := sendAll(ctx, d.sender, tokens, msg, d.metrics, "digest", func(error) {})
	pruned := pruneTokens(ctx, d.store, userID, invalid)
	return delivered > 0, pruned, nil
}
