package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "select users")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan user")
		}
		out = append(out, id)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// GetUser loads the profile with every registered device.
func (s *Storage) GetUser(ctx context.Context, id string) (*models.UserProfile, error) {
	u := models.UserProfile{ID: id}
	err := s.db.QueryRow(ctx, `
SELECT language, notifications_enabled, arrival_notification, shipped_notification, pickup_reminder
FROM users WHERE id = $1
`, id).Scan(&u.Language, &u.Settings.Enabled, &u.Settings.ArrivalNotification, &u.Settings.ShippedNotification, &u.Settings.PickupReminder)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select user")
	}

	rows, err := s.db.Query(ctx, `
SELECT device_id, token, category, last_active
FROM user_devices WHERE user_id = $1 ORDER BY device_id
`, id)
	if err != nil {
		return nil, errors.Wrap(err, "select devices")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			d   models.DeviceToken
			cat string
		)
		if err := rows.Scan(&d.DeviceID, &d.Token, &cat, &d.LastActive); err != nil {
			return nil, errors.Wrap(err, "scan device")
		}
		d.Category = models.NotificationCategory(cat)
		u.Devices = append(u.Devices, d)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return &u, nil
}

func (s *Storage) UpsertUser(ctx context.Context, u *models.UserProfile) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO users (id, language, notifications_enabled, arrival_notification, shipped_notification, pickup_reminder)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET
  language = EXCLUDED.language,
  notifications_enabled = EXCLUDED.notifications_enabled,
  arrival_notification = EXCLUDED.arrival_notification,
  shipped_notification = EXCLUDED.shipped_notification,
  pickup_reminder = EXCLUDED.pickup_reminder,
  updated_at = now()
`, u.ID, u.Language, u.Settings.Enabled, u.Settings.ArrivalNotification, u.Settings.ShippedNotification, u.Settings.PickupReminder)
	if err != nil {
		return errors.Wrap(err, "upsert user")
	}
	return nil
}

func (s *Storage) UpsertDevice(ctx context.Context, userID string, d models.DeviceToken) error {
	if d.Category == "" {
		d.Category = models.NotifyAll
	}
	if d.LastActive.IsZero() {
		d.LastActive = time.Now()
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO user_devices (user_id, device_id, token, category, last_active)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (user_id, device_id) DO UPDATE SET
  token = EXCLUDED.token,
  category = EXCLUDED.category,
  last_active = EXCLUDED.last_active
`, userID, d.DeviceID, d.Token, string(d.Category), d.LastActive.UTC())
	if err != nil {
		return errors.Wrap(err, "upsert device")
	}
	return nil
}

// RemoveDeviceTokens drops devices whose push token was rejected.
func (s *Storage) RemoveDeviceTokens(ctx context.Context, userID string, tokens []string) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM user_devices WHERE user_id = $1 AND token = ANY($2::text[])`, userID, tokens)
	if err != nil {
		return 0, errors.Wrap(err, "delete devices")
	}
	return tag.RowsAffected(), nil
}
