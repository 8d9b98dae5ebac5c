// Package config содержит логику чтения конфигурации сервиса.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress     string `env:"RUN_ADDRESS"`
	DatabaseURI    string `env:"DATABASE_URI"`
	GatewayAddress string `env:"PAYMENT_GATEWAY_ADDRESS"`
	GatewaySecret  string `env:"PAYMENT_GATEWAY_SECRET"`
	AuthSecret     string `env:"AUTH_SECRET"`

	// Параметры ценообразования. Денежные значения в центах.
	TaxRate                 float64 `env:"TAX_RATE" envDefault:"0.2"`
	ShippingFeeCents        int64   `env:"SHIPPING_FEE_CENTS" envDefault:"1500"`
	FreeShippingCents       int64   `env:"FREE_SHIPPING_THRESHOLD_CENTS" envDefault:"50000"`
	DealerFreeShippingCents int64   `env:"DEALER_FREE_SHIPPING_THRESHOLD_CENTS" envDefault:"20000"`
	CashOnDeliveryCapCents  int64   `env:"CASH_ON_DELIVERY_CAP_CENTS" envDefault:"100000"`
	DefaultCurrency         string  `env:"DEFAULT_CURRENCY" envDefault:"EUR"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envGatewayAddress := cfg.GatewayAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.GatewayAddress, "g", "", "payment gateway address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envGatewayAddress != "" {
		cfg.GatewayAddress = envGatewayAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if cfg.TaxRate < 0 || cfg.TaxRate > 1 {
		return nil, fmt.Errorf("tax rate must be within [0,1], got %v", cfg.TaxRate)
	}

	return cfg, nil
}
