// Package streams implements the STREAMS download service: login against
// HydroShare, session management, and assembly of filtered per-gauge CSV
// extracts into a zip archive.
package streams

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/streams-data-service/internal/domain"
	"github.com/couchcryptid/streams-data-service/internal/observability"
	"github.com/couchcryptid/streams-data-service/internal/session"
)

// CredentialResolver exchanges a HydroShare login for storage credentials.
type CredentialResolver interface {
	Resolve(ctx context.Context, username, password string) (domain.StorageCredentials, error)
}

// DatasetSource reads datasets with one user's credentials.
type DatasetSource interface {
	Read(ctx context.Context, path string, pred domain.Predicate, columns []string) (*domain.Table, error)
	ColumnType(ctx context.Context, path, column string) (domain.ColumnType, error)
}

// SourceFactory builds a DatasetSource scoped to a session's credentials.
type SourceFactory func(creds domain.StorageCredentials) DatasetSource

// EventPublisher records successful downloads.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.DownloadEvent) error
}

// Options tunes a Service. Zero values are usable.
type Options struct {
	// Concurrency bounds parallel reads within one download; below 1 means sequential.
	Concurrency int
	// SchemaCacheSize bounds the time column type cache; 0 disables it.
	SchemaCacheSize int
	// Publisher is optional.
	Publisher EventPublisher
	Clock     clockwork.Clock
}

// Service is the transport-facing API.
type Service struct {
	catalog     *domain.Catalog
	resolver    CredentialResolver
	sessions    *session.Store
	sources     SourceFactory
	publisher   EventPublisher
	schemas     *schemaCache
	clock       clockwork.Clock
	concurrency int
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
}

// New creates a Service.
func New(catalog *domain.Catalog, resolver CredentialResolver, sessions *session.Store, sources SourceFactory, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Service {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Service{
		catalog:     catalog,
		resolver:    resolver,
		sessions:    sessions,
		sources:     sources,
		publisher:   opts.Publisher,
		schemas:     newSchemaCache(opts.SchemaCacheSize, metrics),
		clock:       opts.Clock,
		concurrency: opts.Concurrency,
		logger:      logger,
		metrics:     metrics,
	}
}

// SetReady flips the readiness probe.
func (s *Service) SetReady(ready bool) {
	s.ready.Store(ready)
	if ready {
		s.metrics.ServiceReady.Set(1)
	} else {
		s.metrics.ServiceReady.Set(0)
	}
}

// CheckReadiness returns nil while the service accepts requests.
func (s *Service) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("service is not accepting requests")
	}
	return nil
}

// Login resolves storage credentials for the user and opens a session.
func (s *Service) Login(ctx context.Context, username, password string) (domain.Session, error) {
	if username == "" || password == "" {
		s.metrics.Logins.WithLabelValues(domain.KindBadRequest.String()).Inc()
		return domain.Session{}, fmt.Errorf("%w: username and password are required", domain.ErrInvalidRequest)
	}

	creds, err := s.resolver.Resolve(ctx, username, password)
	if err != nil {
		s.metrics.Logins.WithLabelValues(domain.Classify(err).String()).Inc()
		s.logger.Warn("login failed", "username", username, "error", err)
		return domain.Session{}, err
	}

	sess := s.sessions.Create(username, creds)
	s.metrics.Logins.WithLabelValues("success").Inc()
	s.metrics.ActiveSessions.Set(float64(s.sessions.Len()))
	s.logger.Info("login succeeded", "username", username, "expires_at", sess.ExpiresAt)
	return sess, nil
}

// Logout ends a session. Unknown tokens are ignored.
func (s *Service) Logout(token string) {
	s.sessions.Destroy(token)
	s.metrics.ActiveSessions.Set(float64(s.sessions.Len()))
}

// CatalogOptions lists what a download may select.
type CatalogOptions struct {
	WaterQualityVariables map[string][]string `json:"water_quality_variables"`
	OtherDatasets         []string            `json:"other_datasets"`
	SessionTTLHours       float64             `json:"session_ttl_hours"`
}

// Options returns the selectable variables and datasets.
func (s *Service) Options() CatalogOptions {
	vars := make(map[string][]string)
	for _, v := range s.catalog.VariableGroups() {
		vars[v.Label] = v.Columns
	}
	return CatalogOptions{
		WaterQualityVariables: vars,
		OtherDatasets:         s.catalog.DatasetLabels(),
		SessionTTLHours:       s.sessions.TTL().Hours(),
	}
}

// DownloadRequest selects what goes into an archive.
type DownloadRequest struct {
	Gauges                []string
	Start                 time.Time
	End                   time.Time
	WaterQualityVariables []string
	Datasets              []string
}

// job is one (gauge, dataset) extract.
type job struct {
	gauge   string
	label   string
	dataset domain.Dataset
	columns []string
}

// BuildDownload assembles the archive for a request. All labels are checked
// before any read; any read failure aborts the whole archive.
func (s *Service) BuildDownload(ctx context.Context, token string, req DownloadRequest) ([]byte, error) {
	start := s.clock.Now()
	archive, event, err := s.buildDownload(ctx, token, req)
	if err != nil {
		s.metrics.Downloads.WithLabelValues(domain.Classify(err).String()).Inc()
		s.logger.Warn("download failed", "gauges", len(req.Gauges), "error", err)
		return nil, err
	}

	s.metrics.Downloads.WithLabelValues("success").Inc()
	s.metrics.DownloadDuration.Observe(s.clock.Since(start).Seconds())
	s.metrics.ArchiveBytes.Observe(float64(len(archive)))
	s.logger.Info("download built",
		"username", event.Username,
		"gauges", len(req.Gauges),
		"entries", event.Entries,
		"bytes", len(archive),
	)

	s.publish(ctx, event)
	return archive, nil
}

func (s *Service) buildDownload(ctx context.Context, token string, req DownloadRequest) ([]byte, domain.DownloadEvent, error) {
	if len(req.Gauges) == 0 {
		return nil, domain.DownloadEvent{}, fmt.Errorf("%w: at least one gauge is required", domain.ErrInvalidRequest)
	}
	if req.End.Before(req.Start) {
		return nil, domain.DownloadEvent{}, fmt.Errorf("%w: end_date must be greater than or equal to start_date", domain.ErrInvalidRequest)
	}

	sess, err := s.sessions.Get(token)
	if err != nil {
		return nil, domain.DownloadEvent{}, err
	}

	wqColumns, err := s.catalog.WaterQualityColumns(req.WaterQualityVariables)
	if err != nil {
		return nil, domain.DownloadEvent{}, err
	}
	datasets, err := s.catalog.ResolveDatasets(req.Datasets)
	if err != nil {
		return nil, domain.DownloadEvent{}, err
	}

	jobs := planJobs(req.Gauges, s.catalog.WaterQuality(), wqColumns, datasets)
	entries, err := s.runJobs(ctx, s.sources(sess.Credentials), jobs, req.Start.UTC(), req.End.UTC())
	if err != nil {
		return nil, domain.DownloadEvent{}, err
	}

	now := s.clock.Now()
	archive, err := writeArchive(entries, now)
	if err != nil {
		return nil, domain.DownloadEvent{}, err
	}

	event := domain.DownloadEvent{
		ID:                    uuid.NewString(),
		Username:              sess.Username,
		Gauges:                req.Gauges,
		Start:                 req.Start.UTC(),
		End:                   req.End.UTC(),
		WaterQualityVariables: req.WaterQualityVariables,
		Datasets:              req.Datasets,
		Entries:               len(entries),
		ArchiveBytes:          len(archive),
		CreatedAt:             now.UTC(),
	}
	return archive, event, nil
}

// planJobs orders extracts by gauge, water quality first, then datasets in
// request order. Water quality is skipped when only the time column is selected.
func planJobs(gauges []string, waterQuality domain.Dataset, wqColumns []string, datasets []domain.Dataset) []job {
	jobs := make([]job, 0, len(gauges)*(len(datasets)+1))
	for _, gauge := range gauges {
		if len(wqColumns) > 1 {
			jobs = append(jobs, job{gauge: gauge, label: domain.WaterQualityLabel, dataset: waterQuality, columns: wqColumns})
		}
		for _, ds := range datasets {
			jobs = append(jobs, job{gauge: gauge, label: ds.Label, dataset: ds})
		}
	}
	return jobs
}

// runJobs reads every job with bounded concurrency and returns the entries
// in job order. The first failure cancels the rest.
func (s *Service) runJobs(ctx context.Context, src DatasetSource, jobs []job, start, end time.Time) ([]archiveEntry, error) {
	entries := make([]archiveEntry, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := s.runJob(gctx, src, j, start, end)
			if err != nil {
				return err
			}
			entries[i] = archiveEntry{name: domain.EntryName(j.gauge, j.label), data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Service) runJob(ctx context.Context, src DatasetSource, j job, start, end time.Time) ([]byte, error) {
	lo, hi := s.timeFilter(ctx, src, j.dataset, start, end)
	pred := domain.GaugeRangePredicate(j.gauge, j.dataset.TimeColumn, lo, hi)

	began := s.clock.Now()
	table, err := src.Read(ctx, j.dataset.Path, pred, j.columns)
	s.metrics.DatasetReadDuration.WithLabelValues(j.label).Observe(s.clock.Since(began).Seconds())
	if err != nil {
		s.metrics.DatasetReads.WithLabelValues(j.label, "error").Inc()
		return nil, err
	}
	s.metrics.DatasetReads.WithLabelValues(j.label, "success").Inc()

	var buf bytes.Buffer
	if err := table.WriteCSV(&buf); err != nil {
		return nil, fmt.Errorf("render %s for %s: %w", j.label, j.gauge, err)
	}
	s.logger.Debug("extract ready", "gauge", j.gauge, "dataset", j.label, "rows", len(table.Rows))
	return buf.Bytes(), nil
}

func (s *Service) publish(ctx context.Context, event domain.DownloadEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.metrics.EventsPublished.WithLabelValues("error").Inc()
		s.logger.Warn("publish download event failed", "id", event.ID, "error", err)
		return
	}
	s.metrics.EventsPublished.WithLabelValues("success").Inc()
}
