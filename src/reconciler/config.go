package reconciler

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Interval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"1m"`

	// BalanceTolerance is the largest unexplained USDC delta accepted
	// without raising an anomaly. Fees and rounding live below it.
	BalanceTolerance float64 `envconfig:"RECONCILE_BALANCE_TOLERANCE" default:"0.05"`

	// PositionTolerance is the largest unexplained per-market position
	// delta accepted without raising an anomaly.
	PositionTolerance float64 `envconfig:"RECONCILE_POSITION_TOLERANCE" default:"0.01"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
