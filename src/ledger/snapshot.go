package ledger

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pmexecutor/src/database"
	"pmexecutor/src/model"
)

// SnapshotStore persists the last known account snapshot so a restart does
// not begin with an empty balance view. A single row is kept.
type SnapshotStore struct {
	db *gorm.DB
}

// NewSnapshotStore creates a store backed by the main database.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (s *SnapshotStore) WithDB(db *gorm.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Save upserts the snapshot row.
func (s *SnapshotStore) Save(ctx context.Context, snap model.AccountSnapshot) error {
	record, err := model.NewSnapshotRecord(snap)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&record).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "SnapshotStore",
			"op":   "Save",
		}).WithError(err).Error("Failed to persist account snapshot")

		return err
	}

	return nil
}

// Load returns the persisted snapshot. ErrNotFound when none was saved yet.
func (s *SnapshotStore) Load(ctx context.Context) (model.AccountSnapshot, error) {
	var record model.AccountSnapshotRecord

	err := s.db.WithContext(ctx).First(&record, 1).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.AccountSnapshot{}, ErrNotFound
		}
		return model.AccountSnapshot{}, err
	}

	return record.Snapshot()
}
