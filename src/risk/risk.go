package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pmexecutor/src/model"
)

// Limits caps exposure before an order ever reaches the gateway. Violations
// are local policy refusals: terminal, alerted, and never submitted.
type Limits struct {
	// MaxPosition caps the absolute position size per market.
	MaxPosition decimal.Decimal
	// MaxOrderSize caps a single order's notional in quote currency.
	MaxOrderSize decimal.Decimal
	// MinOrderSize is the exchange minimum; smaller orders are refused
	// locally rather than bounced by the venue.
	MinOrderSize decimal.Decimal
	// QuoteCurrency is the balance the order spends from.
	QuoteCurrency string
	// SnapshotStaleness bounds how old an account snapshot may be when a
	// risk decision is taken against it.
	SnapshotStaleness time.Duration
}

// DefaultLimits mirror the venue's 15-minute market constraints: 5 USDC
// minimum, 500 USDC cap per order.
func DefaultLimits() Limits {
	return Limits{
		MaxPosition:       decimal.NewFromInt(1000),
		MaxOrderSize:      decimal.NewFromInt(500),
		MinOrderSize:      decimal.NewFromInt(5),
		QuoteCurrency:     "USDC",
		SnapshotStaleness: 10 * time.Minute,
	}
}

// LimitError reports which limit refused the order.
type LimitError struct {
	Limit  string
	Reason string
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("risk limit %s: %s", e.Limit, e.Reason)
}

// CheckOrder validates an intent against the limits using the given account
// snapshot. The caller is responsible for having refreshed the snapshot
// within the staleness window first.
func CheckOrder(intent model.OrderIntent, snapshot model.AccountSnapshot, limits Limits) error {
	if intent.Size.LessThanOrEqual(decimal.Zero) {
		return &LimitError{Limit: "size", Reason: "order size must be positive"}
	}

	if limits.MinOrderSize.IsPositive() && intent.Size.LessThan(limits.MinOrderSize) {
		return &LimitError{
			Limit:  "min_order_size",
			Reason: fmt.Sprintf("size %s below minimum %s", intent.Size, limits.MinOrderSize),
		}
	}

	if limits.MaxOrderSize.IsPositive() && intent.Size.GreaterThan(limits.MaxOrderSize) {
		return &LimitError{
			Limit:  "max_order_size",
			Reason: fmt.Sprintf("size %s exceeds cap %s", intent.Size, limits.MaxOrderSize),
		}
	}

	if limits.MaxPosition.IsPositive() && intent.Side == model.SideBuy {
		projected := snapshot.Position(intent.MarketID).Add(intent.Size)
		if projected.GreaterThan(limits.MaxPosition) {
			return &LimitError{
				Limit:  "max_position",
				Reason: fmt.Sprintf("projected position %s exceeds max %s", projected, limits.MaxPosition),
			}
		}
	}

	if intent.Side == model.SideBuy && !intent.Market {
		cost := intent.Size.Mul(intent.Price)
		if cost.GreaterThan(snapshot.Balance(limits.QuoteCurrency)) {
			return &LimitError{
				Limit:  "balance",
				Reason: fmt.Sprintf("cost %s exceeds %s balance %s", cost, limits.QuoteCurrency, snapshot.Balance(limits.QuoteCurrency)),
			}
		}
	}

	return nil
}

// ClampSize reduces a desired order size to what the limits and current
// balance allow. Returns zero when even the minimum cannot be met.
func ClampSize(desired decimal.Decimal, snapshot model.AccountSnapshot, limits Limits) decimal.Decimal {
	size := desired

	if limits.MaxOrderSize.IsPositive() && size.GreaterThan(limits.MaxOrderSize) {
		size = limits.MaxOrderSize
	}

	balance := snapshot.Balance(limits.QuoteCurrency).Floor()
	if size.GreaterThan(balance) {
		size = balance
	}

	if limits.MinOrderSize.IsPositive() && size.LessThan(limits.MinOrderSize) {
		return decimal.Zero
	}

	return size
}
