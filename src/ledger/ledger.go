package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"pmexecutor/src/database"
	"pmexecutor/src/model"
)

// ErrAlreadyReserved is returned by Reserve when a record for the intent
// already exists; the existing record accompanies it.
var ErrAlreadyReserved = errors.New("intent already reserved")

// ErrNotFound is returned by Get for unknown intent IDs.
var ErrNotFound = errors.New("order record not found")

// ErrInvalidTransition is returned by Update when the requested status move
// is not forward-only.
var ErrInvalidTransition = errors.New("invalid status transition")

// Ledger is the durable idempotency store keyed by intent_id. Reserve is the
// single mutual-exclusion point of the pipeline: the unique constraint on
// intent_id guarantees that exactly one concurrent caller wins the insert and
// proceeds to submission, all others receive the existing record.
type Ledger struct {
	db *gorm.DB
}

// NewLedger creates a ledger backed by the main read/write database.
func NewLedger() *Ledger {
	logger.WithField("component", "Ledger").
		Info("Creating new Ledger with MainDB")

	return &Ledger{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (l *Ledger) WithDB(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Reserve atomically creates the pending record for an intent. When a record
// already exists it is returned together with ErrAlreadyReserved and the
// caller must not submit again for this intent.
func (l *Ledger) Reserve(ctx context.Context, intent model.OrderIntent) (*model.OrderRecord, error) {
	record := &model.OrderRecord{
		IntentID: intent.IntentID,
		MarketID: intent.MarketID,
		TokenID:  intent.TokenID,
		Side:     intent.Side,
		Size:     intent.Size,
		Price:    intent.Price,
		Status:   model.OrderStatusPending,
	}

	logger.WithFields(map[string]interface{}{
		"repo":      "Ledger",
		"op":        "Reserve",
		"intent_id": intent.IntentID,
		"market_id": intent.MarketID,
		"side":      intent.Side,
	}).Debug("Reserving intent")

	err := l.db.WithContext(ctx).Create(record).Error
	if err == nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "Ledger",
			"op":        "Reserve",
			"intent_id": intent.IntentID,
			"record_id": record.ID,
		}).Info("Intent reserved")

		return record, nil
	}

	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		logger.WithFields(map[string]interface{}{
			"repo":      "Ledger",
			"op":        "Reserve",
			"intent_id": intent.IntentID,
		}).WithError(err).Error("Failed to reserve intent")

		return nil, err
	}

	existing, getErr := l.Get(ctx, intent.IntentID)
	if getErr != nil {
		return nil, getErr
	}

	logger.WithFields(map[string]interface{}{
		"repo":      "Ledger",
		"op":        "Reserve",
		"intent_id": intent.IntentID,
		"status":    existing.Status,
	}).Info("Intent already reserved, returning existing record")

	return existing, ErrAlreadyReserved
}

// Get fetches the record for an intent ID.
func (l *Ledger) Get(ctx context.Context, intentID string) (*model.OrderRecord, error) {
	var record model.OrderRecord

	err := l.db.WithContext(ctx).
		Where("intent_id = ?", intentID).
		First(&record).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}

		logger.WithFields(map[string]interface{}{
			"repo":      "Ledger",
			"op":        "Get",
			"intent_id": intentID,
		}).WithError(err).Error("Failed to fetch order record")

		return nil, err
	}

	return &record, nil
}

// FindLatest returns the latest records ordered from newest to oldest.
func (l *Ledger) FindLatest(ctx context.Context, limit int) ([]model.OrderRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	var records []model.OrderRecord

	err := l.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&records).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "Ledger",
			"op":    "FindLatest",
			"limit": limit,
		}).WithError(err).Error("Failed to fetch latest records")

		return nil, err
	}

	return records, nil
}

// GetByExchangeID fetches the record carrying an exchange order ID.
func (l *Ledger) GetByExchangeID(ctx context.Context, exchangeOrderID string) (*model.OrderRecord, error) {
	var record model.OrderRecord

	err := l.db.WithContext(ctx).
		Where("exchange_order_id = ?", exchangeOrderID).
		First(&record).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &record, nil
}

// StatusUpdate carries the mutable fields of an Update call.
type StatusUpdate struct {
	Status          string
	ExchangeOrderID string
	StatusReason    string
	FilledSize      decimal.Decimal
	RetryCount      *int
}

// Update moves a record to a new status, enforcing forward-only transitions
// inside a transaction so concurrent executor/reconciler updates cannot
// interleave. The refreshed record is returned.
func (l *Ledger) Update(ctx context.Context, intentID string, update StatusUpdate) (*model.OrderRecord, error) {
	logger.WithFields(map[string]interface{}{
		"repo":      "Ledger",
		"op":        "Update",
		"intent_id": intentID,
		"status":    update.Status,
	}).Debug("Updating order record")

	var record model.OrderRecord

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("intent_id = ?", intentID).First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if !model.CanTransition(record.Status, update.Status) {
			logger.WithFields(map[string]interface{}{
				"repo":      "Ledger",
				"op":        "Update",
				"intent_id": intentID,
				"from":      record.Status,
				"to":        update.Status,
			}).Warn("Rejected invalid status transition")

			return ErrInvalidTransition
		}

		now := time.Now().UTC()
		record.Status = update.Status
		record.LastCheckedAt = &now

		if update.ExchangeOrderID != "" {
			record.ExchangeOrderID = update.ExchangeOrderID
		}
		if update.StatusReason != "" {
			record.StatusReason = update.StatusReason
		}
		if update.FilledSize.IsPositive() {
			record.FilledSize = update.FilledSize
		}
		if update.RetryCount != nil {
			record.RetryCount = *update.RetryCount
		}

		return tx.Save(&record).Error
	})

	if err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":      "Ledger",
		"op":        "Update",
		"intent_id": intentID,
		"status":    record.Status,
	}).Info("Order record updated")

	return &record, nil
}

// Touch refreshes LastCheckedAt without changing status. Used when a
// reconciliation pass confirmed the current state.
func (l *Ledger) Touch(ctx context.Context, intentID string) error {
	return l.db.WithContext(ctx).
		Model(&model.OrderRecord{}).
		Where("intent_id = ?", intentID).
		Update("last_checked_at", time.Now().UTC()).Error
}

// FindNonTerminal returns every record whose exchange-side outcome may still
// change, oldest first. These are the reconciler's work queue.
func (l *Ledger) FindNonTerminal(ctx context.Context) ([]model.OrderRecord, error) {
	var records []model.OrderRecord

	err := l.db.WithContext(ctx).
		Where("status IN ?", []string{
			model.OrderStatusPending,
			model.OrderStatusSubmitted,
			model.OrderStatusAcknowledged,
			model.OrderStatusUnknown,
		}).
		Order("id ASC").
		Find(&records).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "Ledger",
			"op":   "FindNonTerminal",
		}).WithError(err).Error("Failed to fetch non-terminal records")

		return nil, err
	}

	return records, nil
}

// FindUnreconciledTerminal returns terminal records not yet folded into a
// reconciliation pass. Their fills are replayed against the authoritative
// snapshot before being archived.
func (l *Ledger) FindUnreconciledTerminal(ctx context.Context) ([]model.OrderRecord, error) {
	var records []model.OrderRecord

	err := l.db.WithContext(ctx).
		Where("reconciled = ? AND archived = ? AND status IN ?", false, false, []string{
			model.OrderStatusFilled,
			model.OrderStatusPartiallyFilled,
			model.OrderStatusRejected,
			model.OrderStatusFailed,
		}).
		Order("id ASC").
		Find(&records).Error

	if err != nil {
		return nil, err
	}

	return records, nil
}

// FindUnresolvedByMarket returns the market's submitted/unknown records,
// oldest first. They must be resolved before a new submission for the market
// is allowed.
func (l *Ledger) FindUnresolvedByMarket(ctx context.Context, marketID string) ([]model.OrderRecord, error) {
	var records []model.OrderRecord

	err := l.db.WithContext(ctx).
		Where("market_id = ? AND status IN ?", marketID, []string{
			model.OrderStatusSubmitted,
			model.OrderStatusUnknown,
		}).
		Order("id ASC").
		Find(&records).Error

	if err != nil {
		return nil, err
	}

	return records, nil
}

// Archive marks a reconciled terminal record as archived, completing the
// intent lifecycle.
func (l *Ledger) Archive(ctx context.Context, intentID string) error {
	err := l.db.WithContext(ctx).
		Model(&model.OrderRecord{}).
		Where("intent_id = ?", intentID).
		Updates(map[string]interface{}{"reconciled": true, "archived": true}).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "Ledger",
			"op":        "Archive",
			"intent_id": intentID,
		}).WithError(err).Error("Failed to archive record")

		return err
	}

	return nil
}

// MarkReconciled flags a terminal record as folded into a reconciliation
// pass without archiving it yet.
func (l *Ledger) MarkReconciled(ctx context.Context, intentID string) error {
	return l.db.WithContext(ctx).
		Model(&model.OrderRecord{}).
		Where("intent_id = ?", intentID).
		Update("reconciled", true).Error
}
