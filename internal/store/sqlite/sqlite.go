// Package sqlite implements the store contract on SQLite via GORM.
package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"famcal/internal/model"
	"famcal/internal/store"
)

// Store is the SQLite-backed implementation of store.Store.
type Store struct {
	dataDir string
	db      *gorm.DB
}

// New creates a SQLite store rooted at dataDir. The database file is
// created on Init.
func New(dataDir string) (*Store, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data dir is required for sqlite store")
	}
	return &Store{dataDir: dataDir}, nil
}

// Init opens the database and runs AutoMigrate for the event and
// mapping tables.
func (s *Store) Init(ctx context.Context) error {
	if err := os.MkdirAll(s.dataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(s.dataDir, "famcal.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	s.db = db

	if err := db.WithContext(ctx).AutoMigrate(
		&model.CanonicalEvent{},
		&model.SyncMapping{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) UpsertEvent(ctx context.Context, ev *model.CanonicalEvent) error {
	return s.db.WithContext(ctx).Save(ev).Error
}

func (s *Store) GetEvent(ctx context.Context, uid string) (*model.CanonicalEvent, error) {
	var ev model.CanonicalEvent
	result := s.db.WithContext(ctx).First(&ev, "uid = ?", uid)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &ev, nil
}

func (s *Store) DeleteEvent(ctx context.Context, uid string) error {
	result := s.db.WithContext(ctx).Delete(&model.CanonicalEvent{}, "uid = ?", uid)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context) ([]*model.CanonicalEvent, error) {
	var events []*model.CanonicalEvent
	result := s.db.WithContext(ctx).Order("start, uid").Find(&events)
	if result.Error != nil {
		return nil, result.Error
	}
	return events, nil
}

func (s *Store) ListEventsByState(ctx context.Context, states ...model.EventState) ([]*model.CanonicalEvent, error) {
	var events []*model.CanonicalEvent
	result := s.db.WithContext(ctx).
		Where("state IN ?", states).
		Order("start, uid").
		Find(&events)
	if result.Error != nil {
		return nil, result.Error
	}
	return events, nil
}

// SetState performs the compare-and-swap transition in a single UPDATE
// guarded by the expected current state; zero rows affected means the
// uid is unknown or another writer already moved it.
func (s *Store) SetState(ctx context.Context, uid string, from, to model.EventState) error {
	result := s.db.WithContext(ctx).
		Model(&model.CanonicalEvent{}).
		Where("uid = ? AND state = ?", uid, from).
		Update("state", to)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).
			Model(&model.CanonicalEvent{}).
			Where("uid = ?", uid).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return store.ErrNotFound
		}
		return store.ErrStaleState
	}
	return nil
}

func (s *Store) PutMapping(ctx context.Context, m *model.SyncMapping) error {
	return s.db.WithContext(ctx).Save(m).Error
}

func (s *Store) GetMapping(ctx context.Context, uid string) (*model.SyncMapping, error) {
	var m model.SyncMapping
	result := s.db.WithContext(ctx).First(&m, "uid = ?", uid)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &m, nil
}

func (s *Store) DeleteMapping(ctx context.Context, uid string) error {
	return s.db.WithContext(ctx).Delete(&model.SyncMapping{}, "uid = ?", uid).Error
}

func (s *Store) ListMappings(ctx context.Context) ([]*model.SyncMapping, error) {
	var mappings []*model.SyncMapping
	result := s.db.WithContext(ctx).Order("uid").Find(&mappings)
	if result.Error != nil {
		return nil, result.Error
	}
	return mappings, nil
}
