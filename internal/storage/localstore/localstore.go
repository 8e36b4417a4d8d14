// Package localstore is the device-side package store on SQLite.
//
// Every write to one package goes through a per-package lock, so the refresh
// path and the sync pull path never lose each other's updates.
package localstore

import (
	"context"

	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("package not found")

type Store struct {
	db    *gorm.DB
	locks *keyedMutex
}

// Open: dsn вида "file:parcels.db" или ":memory:".
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// для :memory: у каждого соединения своя база
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	return NewWithDB(db)
}

func NewWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&packageRow{}, &eventRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate")
	}
	return &Store{db: db, locks: newKeyedMutex()}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*models.Package, error) {
	return get(s.db.WithContext(ctx), id)
}

func get(db *gorm.DB, id uuid.UUID) (*models.Package, error) {
	var row packageRow
	err := db.Preload("Events").First(&row, "id = ?", id.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select package")
	}
	return fromRow(row)
}

func (s *Store) FindByTrackingNumber(ctx context.Context, number string) (*models.Package, error) {
	var row packageRow
	err := s.db.WithContext(ctx).Preload("Events").First(&row, "tracking_number = ?", number).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select package")
	}
	return fromRow(row)
}

func (s *Store) List(ctx context.Context) ([]*models.Package, error) {
	var rows []packageRow
	if err := s.db.WithContext(ctx).Preload("Events").Order("created_at").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "select packages")
	}
	out := make([]*models.Package, 0, len(rows))
	for _, r := range rows {
		p, err := fromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&packageRow{}).Pluck("id", &ids).Error; err != nil {
		return nil, errors.Wrap(err, "select ids")
	}
	out := make([]uuid.UUID, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, errors.Wrap(err, "parse id")
		}
		out = append(out, id)
	}
	return out, nil
}

// Put заменяет пакет вместе со всей историей.
func (s *Store) Put(ctx context.Context, p *models.Package) error {
	unlock := s.locks.Lock(p.ID.String())
	defer unlock()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return save(tx, p)
	})
}

// Update runs fn on the current copy (nil when absent) under the package lock
// and persists what fn returns. A nil return leaves the store unchanged.
func (s *Store) Update(ctx context.Context, id uuid.UUID, fn func(cur *models.Package) (*models.Package, error)) (*models.Package, error) {
	unlock := s.locks.Lock(id.String())
	defer unlock()

	var out *models.Package
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := get(tx, id)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		next, err := fn(cur)
		if err != nil || next == nil {
			out = cur
			return err
		}
		next.ID = id
		if err := save(tx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete удаляет сначала события, потом сам пакет.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	unlock := s.locks.Lock(id.String())
	defer unlock()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("package_id = ?", id.String()).Delete(&eventRow{}).Error; err != nil {
			return errors.Wrap(err, "delete events")
		}
		if err := tx.Where("id = ?", id.String()).Delete(&packageRow{}).Error; err != nil {
			return errors.Wrap(err, "delete package")
		}
		return nil
	})
}

func save(tx *gorm.DB, p *models.Package) error {
	row := toRow(p)
	events := row.Events
	row.Events = nil

	if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return errors.Wrap(err, "upsert package")
	}
	if err := tx.Where("package_id = ?", row.ID).Delete(&eventRow{}).Error; err != nil {
		return errors.Wrap(err, "delete events")
	}
	if len(events) == 0 {
		return nil
	}
	if err := tx.Create(&events).Error; err != nil {
		return errors.Wrap(err, "insert events")
	}
	return nil
}
