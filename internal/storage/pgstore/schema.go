package pgstore

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  language TEXT NOT NULL DEFAULT '',
  notifications_enabled BOOLEAN NOT NULL DEFAULT TRUE,
  arrival_notification BOOLEAN NOT NULL DEFAULT TRUE,
  shipped_notification BOOLEAN NOT NULL DEFAULT TRUE,
  pickup_reminder BOOLEAN NOT NULL DEFAULT TRUE,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`
CREATE TABLE IF NOT EXISTS user_devices (
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  device_id TEXT NOT NULL,
  token TEXT NOT NULL,
  category TEXT NOT NULL DEFAULT 'all',
  last_active TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (user_id, device_id)
)`,
		`
CREATE TABLE IF NOT EXISTS packages (
  user_id TEXT NOT NULL,
  id TEXT NOT NULL,
  tracking_number TEXT NOT NULL,
  carrier TEXT NOT NULL,
  status TEXT NOT NULL,
  external_relation_id TEXT NOT NULL DEFAULT '',
  last_updated TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  is_archived BOOLEAN NOT NULL DEFAULT FALSE,
  custom_name TEXT NOT NULL DEFAULT '',
  pickup_code TEXT NOT NULL DEFAULT '',
  pickup_location TEXT NOT NULL DEFAULT '',
  user_pickup_location TEXT NOT NULL DEFAULT '',
  store_name TEXT NOT NULL DEFAULT '',
  latest_description TEXT NOT NULL DEFAULT '',
  service_type TEXT NOT NULL DEFAULT '',
  pickup_deadline TEXT NOT NULL DEFAULT '',
  payment_method TEXT NOT NULL DEFAULT '',
  amount NUMERIC NULL,
  purchase_platform TEXT NOT NULL DEFAULT '',
  notes TEXT NOT NULL DEFAULT '',
  is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
  deleted_at TIMESTAMPTZ NULL,
  last_notified_status TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (user_id, id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_packages_user_status ON packages(user_id, status) WHERE NOT is_deleted`,
		`
CREATE TABLE IF NOT EXISTS package_events (
  user_id TEXT NOT NULL,
  package_id TEXT NOT NULL,
  id TEXT NOT NULL,
  event_time TIMESTAMPTZ NOT NULL,
  status TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  location TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (user_id, package_id, id),
  FOREIGN KEY (user_id, package_id) REFERENCES packages(user_id, id) ON DELETE CASCADE
)`,
		`CREATE INDEX IF NOT EXISTS idx_package_events_time ON package_events(user_id, package_id, event_time DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
