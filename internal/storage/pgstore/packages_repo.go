package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const packageColumns = `
  user_id, id, tracking_number, carrier, status, external_relation_id,
  last_updated, created_at, is_archived, custom_name, pickup_code,
  pickup_location, user_pickup_location, store_name, latest_description,
  service_type, pickup_deadline, payment_method, amount::text,
  purchase_platform, notes, is_deleted, deleted_at, last_notified_status`

// UpsertPackage writes the package and replaces its event set in one
// transaction: events absent from rec are deleted, new ones inserted.
// LastNotifiedStatus is owned by the notifier and never overwritten here.
// A tombstoned row is never revived: the call fails with
// models.ErrPackageDeleted and nothing is written.
func (s *Storage) UpsertPackage(ctx context.Context, rec *models.SyncRecord) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var amount *string
	if rec.Amount.Valid {
		v := rec.Amount.Decimal.String()
		amount = &v
	}

	tag, err := tx.Exec(ctx, `
INSERT INTO packages (
  user_id, id, tracking_number, carrier, status, external_relation_id,
  last_updated, created_at, is_archived, custom_name, pickup_code,
  pickup_location, user_pickup_location, store_name, latest_description,
  service_type, pickup_deadline, payment_method, amount,
  purchase_platform, notes, is_deleted, deleted_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19::numeric,$20,$21,FALSE,NULL)
ON CONFLICT (user_id, id) DO UPDATE SET
  tracking_number = EXCLUDED.tracking_number,
  carrier = EXCLUDED.carrier,
  status = EXCLUDED.status,
  external_relation_id = EXCLUDED.external_relation_id,
  last_updated = EXCLUDED.last_updated,
  is_archived = EXCLUDED.is_archived,
  custom_name = EXCLUDED.custom_name,
  pickup_code = EXCLUDED.pickup_code,
  pickup_location = EXCLUDED.pickup_location,
  user_pickup_location = EXCLUDED.user_pickup_location,
  store_name = EXCLUDED.store_name,
  latest_description = EXCLUDED.latest_description,
  service_type = EXCLUDED.service_type,
  pickup_deadline = EXCLUDED.pickup_deadline,
  payment_method = EXCLUDED.payment_method,
  amount = EXCLUDED.amount,
  purchase_platform = EXCLUDED.purchase_platform,
  notes = EXCLUDED.notes
WHERE NOT packages.is_deleted
`,
		rec.UserID, rec.ID.String(), rec.TrackingNumber, string(rec.Carrier), string(rec.Status), rec.ExternalRelationID,
		rec.LastUpdated.UTC(), rec.CreatedAt.UTC(), rec.IsArchived, rec.CustomName, rec.PickupCode,
		rec.PickupLocation, rec.UserPickupLocation, rec.StoreName, rec.LatestDescription,
		rec.ServiceType, rec.PickupDeadline, rec.PaymentMethod, amount,
		rec.PurchasePlatform, rec.Notes,
	)
	if err != nil {
		return errors.Wrap(err, "upsert package")
	}
	// конфликт с надгробием: строка не обновлена, события не трогаем
	if tag.RowsAffected() == 0 {
		return models.ErrPackageDeleted
	}

	keep := make([]string, 0, len(rec.Events))
	for _, e := range rec.Events {
		keep = append(keep, e.ID.String())
	}
	if _, err := tx.Exec(ctx, `
DELETE FROM package_events
WHERE user_id = $1 AND package_id = $2 AND NOT (id = ANY($3::text[]))
`, rec.UserID, rec.ID.String(), keep); err != nil {
		return errors.Wrap(err, "delete stale events")
	}

	for _, e := range rec.Events {
		_, err := tx.Exec(ctx, `
INSERT INTO package_events (user_id, package_id, id, event_time, status, description, location)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (user_id, package_id, id) DO UPDATE SET
  status = EXCLUDED.status,
  location = EXCLUDED.location
`, rec.UserID, rec.ID.String(), e.ID.String(), e.Timestamp.UTC(), string(e.Status), e.Description, e.Location)
		if err != nil {
			return errors.Wrap(err, "insert package event")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func (s *Storage) SoftDelete(ctx context.Context, userID string, id uuid.UUID, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
UPDATE packages SET is_deleted = TRUE, deleted_at = $3
WHERE user_id = $1 AND id = $2
`, userID, id.String(), at.UTC())
	if err != nil {
		return errors.Wrap(err, "soft delete")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPackage returns the record without events; tombstoned records included.
func (s *Storage) GetPackage(ctx context.Context, userID string, id uuid.UUID) (*models.SyncRecord, error) {
	row := s.db.QueryRow(ctx, `SELECT `+packageColumns+` FROM packages WHERE user_id = $1 AND id = $2`, userID, id.String())
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select package")
	}
	return rec, nil
}

func (s *Storage) ListEvents(ctx context.Context, userID string, id uuid.UUID) ([]models.TrackingEvent, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, event_time, status, description, location
FROM package_events
WHERE user_id = $1 AND package_id = $2
ORDER BY event_time DESC
`, userID, id.String())
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	var out []models.TrackingEvent
	for rows.Next() {
		var (
			e      models.TrackingEvent
			rawID  string
			status string
		)
		if err := rows.Scan(&rawID, &e.Timestamp, &status, &e.Description, &e.Location); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		if e.ID, err = uuid.Parse(rawID); err != nil {
			return nil, errors.Wrap(err, "parse event id")
		}
		e.Status = models.ParseStatus(status)
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) ListPackageIDs(ctx context.Context, userID string) ([]uuid.UUID, error) {
	return s.listIDs(ctx, `SELECT id FROM packages WHERE user_id = $1 AND NOT is_deleted`, userID)
}

// ListDeletedPackageIDs returns tombstones, so a device that was offline
// during the delete can drop its copy.
func (s *Storage) ListDeletedPackageIDs(ctx context.Context, userID string) ([]uuid.UUID, error) {
	return s.listIDs(ctx, `SELECT id FROM packages WHERE user_id = $1 AND is_deleted`, userID)
}

func (s *Storage) listIDs(ctx context.Context, q string, args ...any) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select package ids")
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Wrap(err, "scan package id")
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, errors.Wrap(err, "parse package id")
		}
		out = append(out, id)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ListActivePackages возвращает то, что опрашивает поллер: не в архиве, не удалено,
// не в терминальном статусе и с handle агрегатора.
func (s *Storage) ListActivePackages(ctx context.Context, userID string) ([]*models.SyncRecord, error) {
	return s.listRecords(ctx, `
SELECT `+packageColumns+`
FROM packages
WHERE user_id = $1
  AND NOT is_archived
  AND NOT is_deleted
  AND status NOT IN ('delivered', 'returned')
  AND external_relation_id <> ''
ORDER BY last_updated
`, userID)
}

// ListArrivedPackages: посылки, ждущие в магазине, для ежедневного напоминания.
func (s *Storage) ListArrivedPackages(ctx context.Context, userID string) ([]*models.SyncRecord, error) {
	return s.listRecords(ctx, `
SELECT `+packageColumns+`
FROM packages
WHERE user_id = $1 AND NOT is_archived AND NOT is_deleted AND status = 'arrivedAtStore'
ORDER BY last_updated
`, userID)
}

// UpdateStatus is the poller's narrow write: status, store name, latest
// description and timestamp only.
func (s *Storage) UpdateStatus(ctx context.Context, userID string, id uuid.UUID, status models.Status, storeName, description string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
UPDATE packages
SET
  status = $3,
  store_name = CASE WHEN $4 = '' THEN store_name ELSE $4 END,
  latest_description = $5,
  last_updated = $6
WHERE user_id = $1 AND id = $2 AND NOT is_deleted
`, userID, id.String(), string(status), storeName, description, at.UTC())
	if err != nil {
		return errors.Wrap(err, "update status")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkNotified is a compare-and-set on last_notified_status: it returns true
// only for the caller that moved the value to status.
func (s *Storage) MarkNotified(ctx context.Context, userID string, id uuid.UUID, status models.Status) (bool, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE packages SET last_notified_status = $3
WHERE user_id = $1 AND id = $2 AND last_notified_status IS DISTINCT FROM $3
`, userID, id.String(), string(status))
	if err != nil {
		return false, errors.Wrap(err, "mark notified")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Storage) listRecords(ctx context.Context, q string, args ...any) ([]*models.SyncRecord, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select packages")
	}
	defer rows.Close()

	var out []*models.SyncRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan package")
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func scanRecord(row pgx.Row) (*models.SyncRecord, error) {
	var (
		rec                             models.SyncRecord
		rawID, carrier, status, lastNtf string
		amount                          *string
	)
	err := row.Scan(
		&rec.UserID, &rawID, &rec.TrackingNumber, &carrier, &status, &rec.ExternalRelationID,
		&rec.LastUpdated, &rec.CreatedAt, &rec.IsArchived, &rec.CustomName, &rec.PickupCode,
		&rec.PickupLocation, &rec.UserPickupLocation, &rec.StoreName, &rec.LatestDescription,
		&rec.ServiceType, &rec.PickupDeadline, &rec.PaymentMethod, &amount,
		&rec.PurchasePlatform, &rec.Notes, &rec.IsDeleted, &rec.DeletedAt, &lastNtf,
	)
	if err != nil {
		return nil, err
	}
	if rec.ID, err = uuid.Parse(rawID); err != nil {
		return nil, errors.Wrap(err, "parse package id")
	}
	rec.Carrier = models.Carrier(carrier)
	rec.Status = models.ParseStatus(status)
	if lastNtf != "" {
		rec.LastNotifiedStatus = models.ParseStatus(lastNtf)
	}
	if amount != nil {
		d, err := decimal.NewFromString(*amount)
		if err != nil {
			return nil, errors.Wrap(err, "parse amount")
		}
		rec.Amount = decimal.NewNullDecimal(d)
	}
	rec.LastUpdated = rec.LastUpdated.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}
