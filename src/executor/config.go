package executor

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// WindowMinutes is the market interval; intents bucket onto the next
	// window boundary.
	WindowMinutes int `envconfig:"WINDOW_MINUTES" default:"15"`

	// OrderPrice is the limit price for up/down entries, in USDC.
	OrderPrice float64 `envconfig:"ORDER_PRICE" default:"0.5"`

	// FixedOrderSize, when positive, overrides balance-derived sizing.
	FixedOrderSize float64 `envconfig:"FIXED_ORDER_SIZE" default:"0"`

	SnapshotStaleness    time.Duration `envconfig:"SNAPSHOT_STALENESS" default:"10m"`
	SnapshotSyncInterval time.Duration `envconfig:"SNAPSHOT_SYNC_INTERVAL" default:"5m"`

	MaxSubmitAttempts int           `envconfig:"MAX_SUBMIT_ATTEMPTS" default:"4"`
	RetryBackoffBase  time.Duration `envconfig:"RETRY_BACKOFF_BASE" default:"1s"`
	RetryBackoffMax   time.Duration `envconfig:"RETRY_BACKOFF_MAX" default:"30s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
