package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Storage backends.
const (
	StorageS3    = "s3"
	StorageLocal = "local"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr           string
	LogLevel           string
	LogFormat          string
	ShutdownTimeout    time.Duration
	CORSAllowedOrigins []string

	SessionTTL time.Duration

	// HydroShare credentials exchange. A zero timeout leaves deadlines to callers.
	HydroShareCredentialsURL string
	HydroShareTimeout        time.Duration

	// Dataset storage.
	StorageBackend  string
	S3Endpoint      string
	S3Region        string
	LocalDataDir    string
	CatalogFile     string
	SchemaCacheSize int
	ReadBufferSize  int

	DownloadConcurrency int

	// Optional download audit events.
	KafkaEnabled       bool
	KafkaBrokers       []string
	KafkaDownloadTopic string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	sessionTTL, err := parseDuration("SESSION_TTL", "8h", false)
	if err != nil {
		return nil, err
	}
	hsTimeout, err := parseDuration("HYDROSHARE_TIMEOUT", "0s", true)
	if err != nil {
		return nil, err
	}
	cacheSize, err := parseInt("SCHEMA_CACHE_SIZE", 128, 0)
	if err != nil {
		return nil, err
	}
	concurrency, err := parseInt("DOWNLOAD_CONCURRENCY", 4, 1)
	if err != nil {
		return nil, err
	}
	readBuffer, err := parseInt("PARQUET_READ_BUFFER", 1<<20, 4096)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		CORSAllowedOrigins: splitList(sharedcfg.EnvOrDefault("CORS_ALLOWED_ORIGINS", "*")),

		SessionTTL: sessionTTL,

		HydroShareCredentialsURL: sharedcfg.EnvOrDefault("HYDROSHARE_CREDENTIALS_URL", "https://www.hydroshare.org/hsapi/user/service/accounts/s3/"),
		HydroShareTimeout:        hsTimeout,

		StorageBackend:  strings.ToLower(sharedcfg.EnvOrDefault("STORAGE_BACKEND", StorageS3)),
		S3Endpoint:      sharedcfg.EnvOrDefault("S3_ENDPOINT", "https://s3.hydroshare.org"),
		S3Region:        sharedcfg.EnvOrDefault("S3_REGION", "us-east-1"),
		LocalDataDir:    os.Getenv("LOCAL_DATA_DIR"),
		CatalogFile:     os.Getenv("CATALOG_FILE"),
		SchemaCacheSize: cacheSize,
		ReadBufferSize:  readBuffer,

		DownloadConcurrency: concurrency,

		KafkaEnabled:       os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaDownloadTopic: sharedcfg.EnvOrDefault("KAFKA_DOWNLOAD_TOPIC", "streams-downloads"),
	}

	switch cfg.StorageBackend {
	case StorageS3:
	case StorageLocal:
		if cfg.LocalDataDir == "" {
			return nil, errors.New("LOCAL_DATA_DIR is required when STORAGE_BACKEND is local")
		}
	default:
		return nil, fmt.Errorf("invalid STORAGE_BACKEND %q: want s3 or local", cfg.StorageBackend)
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
		}
		if cfg.KafkaDownloadTopic == "" {
			return nil, errors.New("KAFKA_DOWNLOAD_TOPIC is required when KAFKA_ENABLED is true")
		}
	}

	return cfg, nil
}

func parseDuration(name, def string, allowZero bool) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(name, def))
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return d, nil
}

func parseInt(name string, def, minValue int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < minValue {
		return 0, fmt.Errorf("invalid %s: must be an integer >= %d", name, minValue)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
