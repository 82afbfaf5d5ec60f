// Package app wires configuration into a ready streams.Service.
package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/streams-data-service/internal/adapter/hydroshare"
	kafkaadapter "github.com/couchcryptid/streams-data-service/internal/adapter/kafka"
	"github.com/couchcryptid/streams-data-service/internal/adapter/localfs"
	"github.com/couchcryptid/streams-data-service/internal/adapter/parquet"
	"github.com/couchcryptid/streams-data-service/internal/adapter/s3"
	"github.com/couchcryptid/streams-data-service/internal/config"
	"github.com/couchcryptid/streams-data-service/internal/domain"
	"github.com/couchcryptid/streams-data-service/internal/observability"
	"github.com/couchcryptid/streams-data-service/internal/session"
	"github.com/couchcryptid/streams-data-service/internal/streams"
)

// App holds the service and the resources that must be released on shutdown.
type App struct {
	Service *streams.Service
	closers []func() error
}

// New builds the service graph described by cfg.
func New(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*App, error) {
	catalog, err := config.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		return nil, err
	}

	sources, err := NewSourceFactory(cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &App{}
	opts := streams.Options{
		Concurrency:     cfg.DownloadConcurrency,
		SchemaCacheSize: cfg.SchemaCacheSize,
	}
	if cfg.KafkaEnabled {
		writer := kafkaadapter.NewWriter(cfg, logger)
		opts.Publisher = writer
		a.closers = append(a.closers, writer.Close)
		logger.Info("download events enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaDownloadTopic)
	} else {
		logger.Info("download events disabled")
	}

	a.Service = streams.New(
		catalog,
		hydroshare.NewClient(cfg.HydroShareCredentialsURL, cfg.HydroShareTimeout, metrics, logger),
		session.NewStore(cfg.SessionTTL, nil),
		sources,
		opts,
		logger,
		metrics,
	)
	return a, nil
}

// NewSourceFactory returns a factory producing parquet readers over the
// configured storage backend.
func NewSourceFactory(cfg *config.Config, logger *slog.Logger) (streams.SourceFactory, error) {
	readOpts := parquet.Options{ReadBufferSize: cfg.ReadBufferSize}

	switch cfg.StorageBackend {
	case config.StorageLocal:
		store := localfs.NewStore(cfg.LocalDataDir)
		logger.Info("reading datasets from local directory", "dir", cfg.LocalDataDir)
		return func(domain.StorageCredentials) streams.DatasetSource {
			return parquet.NewReader(store, readOpts, logger)
		}, nil
	case config.StorageS3:
		s3cfg := s3.Config{Endpoint: cfg.S3Endpoint, Region: cfg.S3Region}
		logger.Info("reading datasets from object storage", "endpoint", cfg.S3Endpoint)
		return func(creds domain.StorageCredentials) streams.DatasetSource {
			return parquet.NewReader(s3.NewStore(s3cfg, creds), readOpts, logger)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}
}

// Close releases publisher connections.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
