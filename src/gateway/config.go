package gateway

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	CLOBBaseURL  string `envconfig:"CLOB_BASE_URL" default:"https://clob.polymarket.com"`
	GammaBaseURL string `envconfig:"GAMMA_BASE_URL" default:"https://gamma-api.polymarket.com"`
	DataBaseURL  string `envconfig:"DATA_BASE_URL" default:"https://data-api.polymarket.com"`
	WSBaseURL    string `envconfig:"WS_BASE_URL" default:"wss://ws-subscriptions-clob.polymarket.com"`

	APIKey        string `envconfig:"PM_API_KEY"`
	APISecret     string `envconfig:"PM_API_SECRET"`
	APIPassphrase string `envconfig:"PM_API_PASSPHRASE"`
	FunderAddress string `envconfig:"PM_FUNDER_ADDRESS"`

	// When set, the key/secret/passphrase above are stored encrypted under
	// EXCHANGE_CREDENTIALS_KEY and decrypted on client construction.
	CredentialsEncrypted bool `envconfig:"PM_CREDENTIALS_ENCRYPTED" default:"false"`

	RequestTimeout time.Duration `envconfig:"GATEWAY_REQUEST_TIMEOUT" default:"15s"`

	// Order endpoints are never auto-retried; these bound the read-only
	// endpoints (status, balances, market lookup) where retry is safe.
	ReadRetryCount    int           `envconfig:"GATEWAY_READ_RETRY_COUNT" default:"2"`
	ReadRetryWaitTime time.Duration `envconfig:"GATEWAY_READ_RETRY_WAIT" default:"500ms"`
	ReadRetryMaxWait  time.Duration `envconfig:"GATEWAY_READ_RETRY_MAX_WAIT" default:"4s"`

	OrderRatePerSecond   float64 `envconfig:"GATEWAY_ORDER_RATE" default:"5"`
	AccountRatePerSecond float64 `envconfig:"GATEWAY_ACCOUNT_RATE" default:"10"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
