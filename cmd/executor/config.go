package executor

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AlertWebhookURL     string        `envconfig:"ALERT_WEBHOOK_URL" default:""`
	AlertWebhookTimeout time.Duration `envconfig:"ALERT_WEBHOOK_TIMEOUT" default:"5s"`
	AlertBufferSize     int           `envconfig:"ALERT_BUFFER_SIZE" default:"128"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
