package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Every field has a default so the binary runs locally on the in-memory store
// with straight-line routing and no external services.
type ServerConfig struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisGeoKey   string `env:"REDIS_GEO_KEY" envDefault:"drivers_geo"`

	KafkaBrokers      []string      `env:"KAFKA_BROKERS" envSeparator:","`
	LocationTopic     string        `env:"KAFKA_TOPIC" envDefault:"driver-locations"`
	RideEventsTopic   string        `env:"KAFKA_RIDE_EVENTS_TOPIC" envDefault:"ride-events"`
	KafkaBatchTimeout time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"10ms"`

	PGDSN         string `env:"PG_DSN"`
	SQLitePath    string `env:"SQLITE_PATH"`
	RunMigrations bool   `env:"MIGRATE" envDefault:"false"`

	DispatchRadiusKm  float64       `env:"DISPATCH_RADIUS_KM" envDefault:"2"`
	DispatchWorkers   int           `env:"DISPATCH_WORKERS" envDefault:"4"`
	DispatchQueueSize int           `env:"DISPATCH_QUEUE_SIZE" envDefault:"1024"`
	TransitionTimeout time.Duration `env:"RIDE_TRANSITION_TIMEOUT" envDefault:"3s"`

	GoogleMapsAPIKey string        `env:"GOOGLE_MAPS_API_KEY"`
	OSRMEndpoint     string        `env:"OSRM_ENDPOINT"`
	DefaultSpeedMps  float64       `env:"ROUTE_DEFAULT_SPEED_MPS" envDefault:"8"`
	RouteCacheTTL    time.Duration `env:"ROUTE_CACHE_TTL" envDefault:"5m"`
	FareCurrency     string        `env:"FARE_CURRENCY" envDefault:"INR"`

	JWTSecret string `env:"JWT_SECRET"`

	StripeAPIKey        string `env:"STRIPE_API_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`

	WSSendBuffer int `env:"WS_SEND_BUFFER" envDefault:"32"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`
}

// ConsumerConfig configures the Kafka to Redis location consumer.
type ConsumerConfig struct {
	KafkaBrokers  []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	LocationTopic string        `env:"KAFKA_TOPIC" envDefault:"driver-locations"`
	GroupID       string        `env:"KAFKA_GROUP_ID" envDefault:"driver-location-consumer"`
	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisGeoKey   string        `env:"REDIS_GEO_KEY" envDefault:"drivers_geo"`
	RetryAttempts int           `env:"CONSUMER_RETRY_ATTEMPTS" envDefault:"3"`
	RetryDelay    time.Duration `env:"CONSUMER_RETRY_DELAY" envDefault:"200ms"`
	LogLevel      string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFile       string        `env:"LOG_FILE"`
}

// loadDotenv reads .env (or ENV_FILE) if present. Variables already set win.
func loadDotenv() error {
	path := os.Getenv("ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func LoadServerConfig() (ServerConfig, error) {
	if err := loadDotenv(); err != nil {
		return ServerConfig{}, err
	}
	cfg, err := env.ParseAs[ServerConfig]()
	if err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.KafkaBrokers = trimAll(cfg.KafkaBrokers)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.FareCurrency = strings.ToUpper(cfg.FareCurrency)
	return cfg, cfg.Validate()
}

// Validate reports every invalid field at once.
func (c ServerConfig) Validate() error {
	var errs []error
	if c.DispatchRadiusKm <= 0 {
		errs = append(errs, errors.New("DISPATCH_RADIUS_KM must be > 0"))
	}
	if c.DispatchWorkers <= 0 {
		errs = append(errs, errors.New("DISPATCH_WORKERS must be > 0"))
	}
	if c.DispatchQueueSize <= 0 {
		errs = append(errs, errors.New("DISPATCH_QUEUE_SIZE must be > 0"))
	}
	if c.TransitionTimeout <= 0 {
		errs = append(errs, errors.New("RIDE_TRANSITION_TIMEOUT must be > 0"))
	}
	if c.KafkaBatchTimeout <= 0 {
		errs = append(errs, errors.New("KAFKA_BATCH_TIMEOUT must be > 0"))
	}
	if c.DefaultSpeedMps <= 0 {
		errs = append(errs, errors.New("ROUTE_DEFAULT_SPEED_MPS must be > 0"))
	}
	if c.WSSendBuffer <= 0 {
		errs = append(errs, errors.New("WS_SEND_BUFFER must be > 0"))
	}
	if len(c.FareCurrency) != 3 {
		errs = append(errs, fmt.Errorf("FARE_CURRENCY must be an ISO 4217 code, got %q", c.FareCurrency))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.PGDSN != "" && c.SQLitePath != "" {
		errs = append(errs, errors.New("PG_DSN and SQLITE_PATH are mutually exclusive"))
	}
	if (c.StripeAPIKey == "") != (c.StripeWebhookSecret == "") {
		errs = append(errs, errors.New("STRIPE_API_KEY and STRIPE_WEBHOOK_SECRET must be set together"))
	}
	return errors.Join(errs...)
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	if err := loadDotenv(); err != nil {
		return ConsumerConfig{}, err
	}
	cfg, err := env.ParseAs[ConsumerConfig]()
	if err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.KafkaBrokers = trimAll(cfg.KafkaBrokers)
	var errs []error
	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required"))
	}
	if cfg.RetryAttempts <= 0 {
		errs = append(errs, errors.New("CONSUMER_RETRY_ATTEMPTS must be > 0"))
	}
	return cfg, errors.Join(errs...)
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
