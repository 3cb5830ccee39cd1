package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	Database DatabaseConfig
	Upstream UpstreamConfig
	Trip     TripConfig
	Events   EventsConfig
	API      APIConfig
	Metrics  MetricsConfig
	Logging  LoggingConfig
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// UpstreamConfig for the live bus information feed
type UpstreamConfig struct {
	BaseURL    string
	ServiceKey string
	Timeout    time.Duration
}

// TripConfig holds the timings that drive the trip state machine
type TripConfig struct {
	ArrivalPollInterval     time.Duration // waiting-for-bus sampling period
	DestinationPollInterval time.Duration // on-board position sampling period
	DestinationFirstCheck   time.Duration // initial delay before the first position check
	DwellTime               time.Duration // auto-advance timeout on arrival screens
}

type EventsConfig struct {
	NATSURL     string // empty disables event publishing
	LogSubjects bool
}

type APIConfig struct {
	ListenAddr string
}

type MetricsConfig struct {
	Addr string // empty disables the metrics server
}

type LoggingConfig struct {
	Level    string
	FilePath string
}

func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "blindroute"),
		},
		Upstream: UpstreamConfig{
			BaseURL:    getEnv("BUS_API_URL", "http://ws.bus.go.kr/api/rest"),
			ServiceKey: getEnv("BUS_API_KEY", ""),
			Timeout:    getDurationEnv("BUS_API_TIMEOUT", 10*time.Second),
		},
		Trip: TripConfig{
			ArrivalPollInterval:     getDurationEnv("ARRIVAL_POLL_INTERVAL", 2*time.Second),
			DestinationPollInterval: getDurationEnv("DESTINATION_POLL_INTERVAL", 12*time.Second),
			DestinationFirstCheck:   getDurationEnv("DESTINATION_FIRST_CHECK", time.Second),
			DwellTime:               getDurationEnv("ARRIVAL_DWELL_TIME", 10*time.Second),
		},
		Events: EventsConfig{
			NATSURL:     getEnv("NATS_URL", ""),
			LogSubjects: getEnv("LOG_NATS_SUBJECTS", "") != "",
		},
		API: APIConfig{
			ListenAddr: getEnv("API_LISTEN_ADDR", ":8090"),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ""),
		},
		Logging: LoggingConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			FilePath: getEnv("LOG_FILE", "blindroute.log"),
		},
	}

	return cfg, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.DBName)
}

func (c *DatabaseConfig) Validate() error {
	if c.Host == "" || c.Port == "" {
		return fmt.Errorf("database host and port must be set")
	}
	if c.DBName == "" {
		return fmt.Errorf("database name must be set")
	}
	return nil
}

func (c *UpstreamConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("upstream base URL must be set")
	}
	if c.ServiceKey == "" {
		return fmt.Errorf("upstream service key must be set")
	}
	return nil
}

func (c *TripConfig) Validate() error {
	if c.ArrivalPollInterval <= 0 || c.DestinationPollInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.DestinationFirstCheck >= c.DestinationPollInterval {
		return fmt.Errorf("first position check delay must be shorter than the poll interval")
	}
	if c.DwellTime <= 0 {
		return fmt.Errorf("dwell time must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
