package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order record statuses. Transitions only move forward:
// pending -> submitted -> acknowledged|rejected|failed -> filled|partially_filled.
// unknown is reachable from any non-terminal status when the gateway outcome
// is ambiguous, and must be resolved by reconciliation before the intent is
// acted on again.
const (
	OrderStatusPending         = "pending"
	OrderStatusSubmitted       = "submitted"
	OrderStatusAcknowledged    = "acknowledged"
	OrderStatusFilled          = "filled"
	OrderStatusPartiallyFilled = "partially_filled"
	OrderStatusRejected        = "rejected"
	OrderStatusFailed          = "failed"
	OrderStatusUnknown         = "unknown"
)

// OrderIntent is a deduplicated unit of trading decision: one intent maps to
// at most one exchange order. The IntentID is derived deterministically from
// the signal's market, decision window and direction, so re-delivered signals
// for the same window collapse onto the same intent.
type OrderIntent struct {
	IntentID  string
	MarketID  string
	TokenID   string
	Side      string
	Size      decimal.Decimal
	Price     decimal.Decimal
	Market    bool // market order, Price ignored
	CreatedAt time.Time
}

// OrderRecord is the ledger row tracking an intent's last known exchange-side
// state. Owned by the idempotency ledger; mutated only by the executor and
// the reconciler.
type OrderRecord struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	IntentID        string          `gorm:"size:120;not null;uniqueIndex" json:"intent_id"`
	MarketID        string          `gorm:"size:120;index" json:"market_id"`
	TokenID         string          `gorm:"size:120" json:"token_id"`
	Side            string          `gorm:"size:10;not null" json:"side"`
	Size            decimal.Decimal `gorm:"type:numeric" json:"size"`
	Price           decimal.Decimal `gorm:"type:numeric" json:"price"`
	ExchangeOrderID string          `gorm:"size:120;index" json:"exchange_order_id,omitempty"`
	Status          string          `gorm:"size:50;not null;default:pending" json:"status"`
	StatusReason    string          `gorm:"size:255" json:"status_reason,omitempty"`
	FilledSize      decimal.Decimal `gorm:"type:numeric" json:"filled_size"`
	RetryCount      int             `json:"retry_count"`
	Reconciled      bool            `gorm:"index" json:"reconciled"`
	Archived        bool            `gorm:"index" json:"archived"`
	LastCheckedAt   *time.Time      `json:"last_checked_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// TableName controls the exact table name for ledger rows.
func (OrderRecord) TableName() string {
	return "order_records"
}

// IsTerminal reports whether the record reached a state that can no longer
// change on the exchange side.
func IsTerminal(status string) bool {
	switch status {
	case OrderStatusFilled, OrderStatusPartiallyFilled, OrderStatusRejected, OrderStatusFailed:
		return true
	}
	return false
}

// NeedsResolution reports whether the record's true outcome is not known
// locally and must be confirmed against the exchange before any further
// action on the same intent.
func NeedsResolution(status string) bool {
	return status == OrderStatusSubmitted || status == OrderStatusUnknown
}

var forwardTransitions = map[string]map[string]bool{
	OrderStatusPending: {
		OrderStatusSubmitted: true,
		OrderStatusRejected:  true,
		OrderStatusFailed:    true,
		OrderStatusUnknown:   true,
	},
	OrderStatusSubmitted: {
		OrderStatusAcknowledged:    true,
		OrderStatusFilled:          true,
		OrderStatusPartiallyFilled: true,
		OrderStatusRejected:        true,
		OrderStatusFailed:          true,
		OrderStatusUnknown:         true,
	},
	OrderStatusAcknowledged: {
		OrderStatusFilled:          true,
		OrderStatusPartiallyFilled: true,
		OrderStatusRejected:        true,
		OrderStatusFailed:          true,
		OrderStatusUnknown:         true,
	},
	OrderStatusUnknown: {
		OrderStatusAcknowledged:    true,
		OrderStatusFilled:          true,
		OrderStatusPartiallyFilled: true,
		OrderStatusRejected:        true,
		OrderStatusFailed:          true,
	},
}

// CanTransition validates a forward-only status move.
func CanTransition(from, to string) bool {
	if from == to {
		return false
	}
	allowed, ok := forwardTransitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}
