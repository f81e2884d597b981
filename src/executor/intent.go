package executor

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pmexecutor/src/gateway"
	"pmexecutor/src/model"
)

// DeriveIntentID builds the deterministic intent ID for a decision: the
// market slug (which embeds symbol and window timestamp) plus direction.
// Duplicate or re-delivered signals for the same window collapse onto the
// same ID, which is the primary defense against double-ordering.
func DeriveIntentID(marketSlug, direction string) string {
	return fmt.Sprintf("%s-%s", marketSlug, direction)
}

// buildIntent turns a signal plus resolved market tokens into an immutable
// order intent.
func buildIntent(signal model.Signal, window time.Time, tokens gateway.MarketTokens, size, price decimal.Decimal) model.OrderIntent {
	slug := gateway.MarketSlug(signal.MarketID, window)

	side := model.SideBuy
	if signal.Direction == model.DirectionSell {
		side = model.SideSell
	}

	return model.OrderIntent{
		IntentID:  DeriveIntentID(slug, signal.Direction),
		MarketID:  slug,
		TokenID:   tokens.TokenFor(side),
		Side:      side,
		Size:      size,
		Price:     price,
		CreatedAt: time.Now().UTC(),
	}
}
