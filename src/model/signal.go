package model

import "time"

const (
	DirectionBuy  = "buy"
	DirectionSell = "sell"
	DirectionHold = "hold"
)

// Signal is a trading decision produced by the external detection model.
// Signals are consumed once and are not persisted by the core.
type Signal struct {
	MarketID    string    `json:"market_id"`
	Direction   string    `json:"direction"`
	Confidence  float64   `json:"confidence"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Valid reports whether the signal carries a recognized direction and market.
func (s Signal) Valid() bool {
	if s.MarketID == "" {
		return false
	}
	switch s.Direction {
	case DirectionBuy, DirectionSell, DirectionHold:
		return true
	}
	return false
}
