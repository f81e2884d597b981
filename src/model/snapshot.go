package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// AccountSnapshot is an exchange-authoritative view of balances and open
// positions, stamped with the exchange time it was taken. Local copies are
// caches: readers must check staleness themselves before using one for a
// risk decision.
type AccountSnapshot struct {
	Balances  map[string]decimal.Decimal `json:"balances"`  // currency -> amount
	Positions map[string]decimal.Decimal `json:"positions"` // market id -> size
	AsOf      time.Time                  `json:"as_of"`
}

// Balance returns the balance for a currency, zero when absent.
func (s AccountSnapshot) Balance(currency string) decimal.Decimal {
	if amt, ok := s.Balances[currency]; ok {
		return amt
	}
	return decimal.Zero
}

// Position returns the position size for a market, zero when absent.
func (s AccountSnapshot) Position(marketID string) decimal.Decimal {
	if size, ok := s.Positions[marketID]; ok {
		return size
	}
	return decimal.Zero
}

// Stale reports whether the snapshot is older than the given window at time now.
func (s AccountSnapshot) Stale(now time.Time, window time.Duration) bool {
	return s.AsOf.IsZero() || now.Sub(s.AsOf) > window
}

// AccountSnapshotRecord persists the last known snapshot so it survives a
// process restart. A single row is kept and overwritten on each sync.
type AccountSnapshotRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Balances  string    `gorm:"type:text" json:"balances"`
	Positions string    `gorm:"type:text" json:"positions"`
	AsOf      time.Time `json:"as_of"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName controls the exact table name for snapshot rows.
func (AccountSnapshotRecord) TableName() string {
	return "account_snapshots"
}

// Snapshot decodes the persisted row back into an AccountSnapshot.
func (r AccountSnapshotRecord) Snapshot() (AccountSnapshot, error) {
	snap := AccountSnapshot{AsOf: r.AsOf}

	if r.Balances != "" {
		if err := json.Unmarshal([]byte(r.Balances), &snap.Balances); err != nil {
			return AccountSnapshot{}, err
		}
	}
	if r.Positions != "" {
		if err := json.Unmarshal([]byte(r.Positions), &snap.Positions); err != nil {
			return AccountSnapshot{}, err
		}
	}

	return snap, nil
}

// NewSnapshotRecord encodes a snapshot for persistence.
func NewSnapshotRecord(snap AccountSnapshot) (AccountSnapshotRecord, error) {
	balances, err := json.Marshal(snap.Balances)
	if err != nil {
		return AccountSnapshotRecord{}, err
	}
	positions, err := json.Marshal(snap.Positions)
	if err != nil {
		return AccountSnapshotRecord{}, err
	}

	return AccountSnapshotRecord{
		ID:        1,
		Balances:  string(balances),
		Positions: string(positions),
		AsOf:      snap.AsOf,
	}, nil
}
