// Package config содержит логику чтения конфигурации движка продаж.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации движка продаж.
type Config struct {
	RunAddress        string        `env:"RUN_ADDRESS"`
	DatabaseURI       string        `env:"DATABASE_URI"`
	RedisAddr         string        `env:"REDIS_ADDR"`
	KafkaBrokers      string        `env:"KAFKA_BROKERS"`
	AuthSecret        string        `env:"AUTH_SECRET"`
	Currency          string        `env:"CURRENCY"`
	PriceTolerance    int64         `env:"PRICE_TOLERANCE"`
	IdempotencyWindow time.Duration `env:"IDEMPOTENCY_WINDOW"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных
// окружения. Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRedisAddr := cfg.RedisAddr
	envKafkaBrokers := cfg.KafkaBrokers
	envAuthSecret := cfg.AuthSecret
	envCurrency := cfg.Currency
	envTolerance := cfg.PriceTolerance
	envWindow := cfg.IdempotencyWindow

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisAddr, "r", "", "redis address for the idempotency cache")
	flag.StringVar(&cfg.KafkaBrokers, "k", "", "comma-separated kafka broker list for sale events")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret key for actor token verification")
	flag.StringVar(&cfg.Currency, "c", "NGN", "ISO 4217 code of the currency all amounts are in")
	flag.Int64Var(&cfg.PriceTolerance, "t", 0, "allowed divergence between submitted and catalog price, minor units")
	flag.DurationVar(&cfg.IdempotencyWindow, "w", 24*time.Hour, "window within which a repeated request replays the prior result")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisAddr != "" {
		cfg.RedisAddr = envRedisAddr
	}
	if envKafkaBrokers != "" {
		cfg.KafkaBrokers = envKafkaBrokers
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envCurrency != "" {
		cfg.Currency = envCurrency
	}
	if _, ok := os.LookupEnv("PRICE_TOLERANCE"); ok {
		cfg.PriceTolerance = envTolerance
	}
	if _, ok := os.LookupEnv("IDEMPOTENCY_WINDOW"); ok {
		cfg.IdempotencyWindow = envWindow
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.Currency == "" {
		cfg.Currency = "NGN"
	}

	return cfg, nil
}

// Brokers возвращает список брокеров Kafka из строки конфигурации.
func (c *Config) Brokers() []string {
	if c.KafkaBrokers == "" {
		return nil
	}

	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
