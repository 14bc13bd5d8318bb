package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN      string `env:"DATABASE_DSN,required=true"`
	RedisURL         string `env:"REDIS_URL,required=true"`
	ExpoPushURL      string `env:"EXPO_PUSH_URL,default=https://exp.host"`
	UserDirectoryURL string `env:"USER_DIRECTORY_URL,required=true"`

	// MaxPerSecond caps how many recipients may be forwarded to the gateway
	// within any one-second window.
	MaxPerSecond      int `env:"MAX_PER_SECOND,default=600"`
	MaxTaskRetries    int `env:"MAX_TASK_RETRIES,default=5"`
	MaxReceiptRetries int `env:"MAX_RECEIPT_RETRIES,default=3"`

	// ReceiptInitialDelay is how long after a send the first receipt check
	// runs; gateways rarely have receipts available sooner.
	ReceiptInitialDelay time.Duration `env:"RECEIPT_INITIAL_DELAY,default=15m"`
	ReconcileInterval   time.Duration `env:"RECONCILE_INTERVAL,default=30m"`
	ReceiptRetention    time.Duration `env:"RECEIPT_RETENTION,default=24h"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
