// Package notifier turns stored status changes into pushes.
//
// ChangeNotifier reacts to package.changed records, DailyDigest reminds users
// about parcels waiting at a store. Both fan out to every device of the user
// and prune tokens the push backend rejects.
package notifier

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/ParcelSync/internal/broker/messages"
	"github.com/BearBump/ParcelSync/internal/metrics"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/push"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const DefaultLockTTL = 2 * time.Minute

type Store interface {
	GetPackage(ctx context.Context, userID string, id uuid.UUID) (*models.SyncRecord, error)
	GetUser(ctx context.Context, id string) (*models.UserProfile, error)
	MarkNotified(ctx context.Context, userID string, id uuid.UUID, status models.Status) (bool, error)
	RemoveDeviceTokens(ctx context.Context, userID string, tokens []string) (int64, error)
}

// Locker: опциональная распределённая блокировка (Redis SETNX).
type Locker interface {
	AcquireNotify(ctx context.Context, packageID, status string, ttl time.Duration) (bool, error)
}

type Result string

const (
	ResultSent       Result = "sent"
	ResultIgnored    Result = "ignored"
	ResultDuplicate  Result = "duplicate"
	ResultDisabled   Result = "disabled"
	ResultNoDevices  Result = "no_devices"
	ResultStale      Result = "stale"
	ResultSendFailed Result = "send_failed"
)

type ChangeNotifier struct {
	store   Store
	sender  push.Sender
	locker  Locker
	metrics *metrics.Metrics
	lockTTL time.Duration

	sent, suppressed, failed, pruned atomic.Int64

	errMu   sync.Mutex
	lastErr string
}

func NewChangeNotifier(store Store, sender push.Sender) *ChangeNotifier {
	return &ChangeNotifier{store: store, sender: sender, lockTTL: DefaultLockTTL}
}

func (n *ChangeNotifier) WithLocker(l Locker) *ChangeNotifier {
	n.locker = l
	return n
}

func (n *ChangeNotifier) WithLockTTL(d time.Duration) *ChangeNotifier {
	if d > 0 {
		n.lockTTL = d
	}
	return n
}

func (n *ChangeNotifier) WithMetrics(m *metrics.Metrics) *ChangeNotifier {
	n.metrics = m
	return n
}

// NotificationStatus maps a transition to the template to send, "" when the
// transition is not notified. pending -> inTransit is announced as shipped,
// for carriers that never report the shipped checkpoint.
func NotificationStatus(prev, next models.Status) models.Status {
	switch next {
	case models.StatusShipped, models.StatusArrivedAtStore:
		return next
	case models.StatusInTransit:
		if prev == models.StatusPending {
			return models.StatusShipped
		}
		return next
	default:
		return ""
	}
}

func settingAllows(s models.NotificationSettings, status models.Status) bool {
	if !s.Enabled {
		return false
	}
	if status == models.StatusArrivedAtStore {
		return s.ArrivalNotification
	}
	return s.ShippedNotification
}

// HandleStatusChange sends at most one push per (package, status). The
// stored lastNotifiedStatus is the dedup key; it is moved only after at least
// one device accepted the push.
func (n *ChangeNotifier) HandleStatusChange(ctx context.Context, m messages.PackageChanged) (Result, error) {
	if m.IsDeleted || !m.StatusChanged() {
		return ResultIgnored, nil
	}
	newStatus := *m.Fields.Status
	kind := NotificationStatus(m.PreviousStatus, newStatus)
	if kind == "" {
		return ResultIgnored, nil
	}

	rec, err := n.store.GetPackage(ctx, m.UserID, m.PackageID)
	if err != nil {
		return "", errors.Wrap(err, "get package")
	}
	if rec.IsDeleted || rec.Status != newStatus {
		// пакет уже ушёл дальше, эту запись обработает следующее изменение
		return n.done(ResultStale), nil
	}
	if rec.LastNotifiedStatus == newStatus {
		n.suppressed.Add(1)
		return n.done(ResultDuplicate), nil
	}

	user, err := n.store.GetUser(ctx, m.UserID)
	if err != nil {
		return "", errors.Wrap(err, "get user")
	}
	if !settingAllows(user.Settings, kind) {
		return n.done(ResultDisabled), nil
	}

	var tokens []string
	for _, d := range user.Devices {
		if d.Token != "" && d.Category.Accepts(kind) {
			tokens = append(tokens, d.Token)
		}
	}
	if len(tokens) == 0 {
		return n.done(ResultNoDevices), nil
	}

	if n.locker != nil {
		ok, err := n.locker.AcquireNotify(ctx, m.PackageID.String(), string(newStatus), n.lockTTL)
		if err != nil {
			slog.Warn("notify lock", "package_id", m.PackageID.String(), "error", err.Error())
		} else if !ok {
			n.suppressed.Add(1)
			return n.done(ResultDuplicate), nil
		}
	}

	title, body, _ := StatusText(kind, NormalizeLang(user.Language), rec.DisplayName(), rec.PickupPlace())
	msg := push.Message{
		Title: title,
		Body:  body,
		Data: map[string]string{
			"packageId":      rec.ID.String(),
			"trackingNumber": rec.TrackingNumber,
			"status":         string(newStatus),
		},
	}

	delivered := n.fanOut(ctx, m.UserID, tokens, msg, "status")
	if delivered == 0 {
		return n.done(ResultSendFailed), nil
	}

	moved, err := n.store.MarkNotified(ctx, m.UserID, m.PackageID, newStatus)
	if err != nil {
		return ResultSent, errors.Wrap(err, "mark notified")
	}
	if !moved {
		slog.Warn("last notified status already set", "package_id", m.PackageID.String(), "status", string(newStatus))
	}
	slog.Info("status push sent",
		"user_id", m.UserID, "package_id", m.PackageID.String(),
		"status", string(newStatus), "as", string(kind), "devices", delivered)
	return n.done(ResultSent), nil
}

// fanOut sends one push per token and prunes rejected tokens. Returns the
// number of accepted sends.
func (n *ChangeNotifier) fanOut(ctx context.Context, userID string, tokens []string, msg push.Message, kind string) int {
	delivered, invalid := sendAll(ctx, n.sender, tokens, msg, n.metrics, kind, n.setLastError)
	n.sent.Add(int64(delivered))
	n.failed.Add(int64(len(tokens) - delivered))
	n.pruned.Add(pruneTokens(ctx, n.store, userID, invalid))
	return delivered
}

func (n *ChangeNotifier) done(r Result) Result {
	n.metrics.Push("status", string(r))
	return r
}

func (n *ChangeNotifier) setLastError(err error) {
	n.errMu.Lock()
	n.lastErr = err.Error()
	n.errMu.Unlock()
}

type Stats struct {
	Sent       int64  `json:"sent"`
	Suppressed int64  `json:"suppressed"`
	Failed     int64  `json:"failed"`
	Pruned     int64  `json:"prunedTokens"`
	LastError  string `json:"lastError,omitempty"`
}

func (n *ChangeNotifier) Stats() Stats {
	n.errMu.Lock()
	defer n.errMu.Unlock()
	return Stats{
		Sent:       n.sent.Load(),
		Suppressed: n.suppressed.Load(),
		Failed:     n.failed.Load(),
		Pruned:     n.pruned.Load(),
		LastError:  n.lastErr,
	}
}

func sendAll(ctx context.Context, sender push.Sender, tokens []string, msg push.Message, m *metrics.Metrics, kind string, onErr func(error)) (int, []string) {
	delivered := 0
	var invalid []string
	for _, tok := range tokens {
		err := sender.Send(ctx, tok, msg)
		switch {
		case err == nil:
			delivered++
			m.Push(kind+"_send", "ok")
		case errors.Is(err, push.ErrInvalidToken):
			invalid = append(invalid, tok)
			m.Push(kind+"_send", "invalid_token")
		default:
			onErr(err)
			m.Push(kind+"_send", "error")
			slog.Error("push send", "kind", kind, "error", err.Error())
		}
	}
	return delivered, invalid
}

type tokenPruner interface {
	RemoveDeviceTokens(ctx context.Context, userID string, tokens []string) (int64, error)
}

func pruneTokens(ctx context.Context, store tokenPruner, userID string, tokens []string) int64 {
	if len(tokens) == 0 {
		return 0
	}
	n, err := store.RemoveDeviceTokens(ctx, userID, tokens)
	if err != nil {
		slog.Error("remove invalid tokens", "user_id", userID, "error", err.Error())
		return 0
	}
	slog.Info("removed invalid tokens", "user_id", userID, "count", n)
	return n
}

// Consume подходит как обработчик для kafka ConsumeChanges; ошибки логируются, чтение продолжается.
func (n *ChangeNotifier) Consume(ctx context.Context, m messages.PackageChanged) error {
	if _, err := n.HandleStatusChange(ctx, m); err != nil {
		n.setLastError(err)
		slog.Error("handle status change", "package_id", m.PackageID.String(), "error", err.Error())
	}
	return nil
}
