package streams_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/klauspost/compress/zip"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/streams-data-service/internal/domain"
	"github.com/couchcryptid/streams-data-service/internal/observability"
	"github.com/couchcryptid/streams-data-service/internal/session"
	"github.com/couchcryptid/streams-data-service/internal/streams"
)

// --- fakes ---

type fakeResolver struct {
	creds domain.StorageCredentials
	err   error
	calls int
}

func (f *fakeResolver) Resolve(_ context.Context, _, _ string) (domain.StorageCredentials, error) {
	f.calls++
	return f.creds, f.err
}

type readCall struct {
	path    string
	pred    domain.Predicate
	columns []string
}

// fakeSource filters in-memory tables the way the Parquet reader does.
type fakeSource struct {
	mu       sync.Mutex
	tables   map[string]*domain.Table
	types    map[string]domain.ColumnType
	typeErr  error
	readErrs map[string]error
	reads    []readCall
	inspects int
	onRead   func()
}

func (f *fakeSource) Read(_ context.Context, path string, pred domain.Predicate, columns []string) (*domain.Table, error) {
	f.mu.Lock()
	f.reads = append(f.reads, readCall{path: path, pred: pred, columns: columns})
	f.mu.Unlock()
	if f.onRead != nil {
		f.onRead()
	}

	if err := f.readErrs[path]; err != nil {
		return nil, &domain.DatasetReadError{Path: path, Err: err}
	}
	src, ok := f.tables[path]
	if !ok {
		return nil, &domain.DatasetReadError{Path: path, Err: errors.New("not found")}
	}
	if len(columns) == 0 {
		columns = src.Columns
	}

	out := &domain.Table{Columns: columns}
	for _, row := range src.Rows {
		match := true
		for _, c := range pred {
			if !c.Matches(row[src.ColumnIndex(c.Column)]) {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		projected := make([]any, len(columns))
		for i, col := range columns {
			projected[i] = row[src.ColumnIndex(col)]
		}
		out.Rows = append(out.Rows, projected)
	}
	return out, nil
}

func (f *fakeSource) ColumnType(_ context.Context, path, column string) (domain.ColumnType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inspects++
	if f.typeErr != nil {
		return domain.ColumnOther, f.typeErr
	}
	return f.types[path+"|"+column], nil
}

func (f *fakeSource) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.reads))
	for i, r := range f.reads {
		out[i] = r.path
	}
	return out
}

type fakePublisher struct {
	events []domain.DownloadEvent
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, event domain.DownloadEvent) error {
	f.events = append(f.events, event)
	return f.err
}

// --- fixtures ---

func ts(s string) time.Time {
	t, err := time.Parse(time.DateTime, s)
	if err != nil {
		panic(err)
	}
	return t
}

func testCatalog(t *testing.T) *domain.Catalog {
	t.Helper()
	c, err := domain.NewCatalog(
		domain.Dataset{Label: domain.WaterQualityLabel, Path: "wq.parquet", TimeColumn: "DateTime"},
		domain.Dataset{Label: "gauges", Path: "gauges.parquet"},
		[]domain.Dataset{
			{Label: "Streamflow", Path: "flow.parquet", TimeColumn: "DateTime"},
			{Label: "Land Use/Cover", Path: "lulc.parquet", TimeColumn: "year", Semantics: domain.TimeYear},
			{Label: "Grab Samples", Path: "grab.parquet", TimeColumn: "DateTime"},
		},
		[]domain.VariableGroup{
			{Label: "pH", Columns: []string{"pH", "Flag_pH"}},
			{Label: "Water Temperature", Columns: []string{"WTemp_C", "Flag_WTemp_C"}},
		},
	)
	require.NoError(t, err)
	return c
}

func testSource() *fakeSource {
	return &fakeSource{
		tables: map[string]*domain.Table{
			"wq.parquet": {
				Columns: []string{"gauge", "DateTime", "pH", "Flag_pH", "WTemp_C", "Flag_WTemp_C"},
				Rows: [][]any{
					{"USGS-01234567", ts("2020-03-01 00:00:00"), 7.1, "A", 12.0, "A"},
					{"USGS-01234567", ts("2021-03-01 00:00:00"), 7.3, "A", 13.0, "A"},
					{"USGS-07654321", ts("2020-03-01 00:00:00"), 6.9, "P", 11.0, "A"},
				},
			},
			"flow.parquet": {
				Columns: []string{"gauge", "DateTime", "Flow_cms"},
				Rows: [][]any{
					{"USGS-01234567", ts("2020-06-01 00:00:00"), 1.5},
					{"USGS-07654321", ts("2020-06-01 00:00:00"), 2.5},
				},
			},
			"lulc.parquet": {
				Columns: []string{"gauge", "year", "urban"},
				Rows: [][]any{
					{"USGS-01234567", "2019", 10.0},
					{"USGS-01234567", "2020", 11.0},
				},
			},
			"grab.parquet": {
				Columns: []string{"gauge", "DateTime", "TN"},
				Rows:    [][]any{{"USGS-01234567", ts("2020-07-01 00:00:00"), 0.4}},
			},
		},
		types: map[string]domain.ColumnType{"lulc.parquet|year": domain.ColumnString},
	}
}

type harness struct {
	svc      *streams.Service
	src      *fakeSource
	resolver *fakeResolver
	sessions *session.Store
	clock    *clockwork.FakeClock
	metrics  *observability.Metrics
	logs     *bytes.Buffer
	token    string
}

func newHarness(t *testing.T, opts streams.Options) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(ts("2024-05-01 12:00:00"))
	src := testSource()
	resolver := &fakeResolver{creds: domain.StorageCredentials{AccessKey: "AK", SecretKey: "SK"}}
	sessions := session.NewStore(8*time.Hour, clock)
	opts.Clock = clock
	metrics := observability.NewMetricsForTesting()
	logs := &bytes.Buffer{}

	svc := streams.New(testCatalog(t), resolver, sessions,
		func(domain.StorageCredentials) streams.DatasetSource { return src },
		opts,
		slog.New(slog.NewTextHandler(logs, nil)),
		metrics,
	)

	sess, err := svc.Login(context.Background(), "alice", "pw")
	require.NoError(t, err)

	return &harness{svc: svc, src: src, resolver: resolver, sessions: sessions, clock: clock, metrics: metrics, logs: logs, token: sess.Token}
}

func readArchive(t *testing.T, data []byte) (names []string, files map[string][][]string) {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	files = make(map[string][][]string)
	for _, f := range zr.File {
		assert.Equal(t, zip.Deflate, f.Method)
		rc, err := f.Open()
		require.NoError(t, err)
		records, err := csv.NewReader(rc).ReadAll()
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		names = append(names, f.Name)
		files[f.Name] = records
	}
	return names, files
}

// --- tests ---

func TestService_Login(t *testing.T) {
	h := newHarness(t, streams.Options{})

	sess, err := h.sessions.Get(h.token)
	require.NoError(t, err)
	assert.Equal(t, "alice", sess.Username)
	assert.Equal(t, "AK", sess.Credentials.AccessKey)
	assert.Equal(t, h.clock.Now().Add(8*time.Hour), sess.ExpiresAt)
}

func TestService_Login_ResolverFailure(t *testing.T) {
	h := newHarness(t, streams.Options{})
	h.resolver.err = domain.ErrInvalidCredentials

	_, err := h.svc.Login(context.Background(), "bob", "bad")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	assert.Equal(t, 1, h.sessions.Len())
}

func TestService_Login_ResolverFailureLoggedOnce(t *testing.T) {
	h := newHarness(t, streams.Options{})
	h.resolver.err = domain.ErrInvalidCredentials

	_, err := h.svc.Login(context.Background(), "bob", "bad")
	require.Error(t, err)
	assert.Equal(t, 1, strings.Count(h.logs.String(), "login failed"))
}

func TestService_Login_MissingFields(t *testing.T) {
	h := newHarness(t, streams.Options{})
	calls := h.resolver.calls

	_, err := h.svc.Login(context.Background(), "", "pw")
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Equal(t, calls, h.resolver.calls)
}

func TestService_Logout(t *testing.T) {
	h := newHarness(t, streams.Options{})

	h.svc.Logout(h.token)
	h.svc.Logout(h.token)

	_, err := h.svc.BuildDownload(context.Background(), h.token, streams.DownloadRequest{
		Gauges: []string{"USGS-01234567"}, Start: ts("2020-01-01 00:00:00"), End: ts("2020-12-31 00:00:00"),
		Datasets: []string{"Streamflow"},
	})
	require.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)
	assert.Equal(t, domain.KindUnauthenticated, domain.Classify(err))
}

func TestService_Options(t *testing.T) {
	h := newHarness(t, streams.Options{})

	opts := h.svc.Options()
	assert.Equal(t, []string{"Streamflow", "Land Use/Cover", "Grab Samples"}, opts.OtherDatasets)
	assert.Equal(t, []string{"pH", "Flag_pH"}, opts.WaterQualityVariables["pH"])
	assert.InDelta(t, 8.0, opts.SessionTTLHours, 1e-9)
}

func TestService_BuildDownload_ZeroVariablesOneDataset(t *testing.T) {
	h := newHarness(t, streams.Options{})

	data, err := h.svc.BuildDownload(context.Background(), h.token, streams.DownloadRequest{
		Gauges:   []string{"USGS-01234567"},
		Start:    ts("2020-01-01 00:00:00"),
		End:      ts("2020-12-31 00:00:00"),
		Datasets: []string{"Streamflow"},
	})
	require.NoError(t, err)

	names, files := readArchive(t, data)
	assert.Equal(t, []string{"01234567-streamflow.csv"}, names)
	assert.Equal(t, [][]string{
		{"gauge", "DateTime", "Flow_cms"},
		{"USGS-01234567", "2020-06-01 00:00:00", "1.5"},
	}, files["01234567-streamflow.csv"])
	assert.Equal(t, []string{"flow.parquet"}, h.src.paths())
}

func TestService_BuildDownload_EntryOrderAndProjection(t *testing.T) {
	h := newHarness(t, streams.Options{Concurrency: 4})

	data, err := h.svc.BuildDownload(context.Background(), h.token, streams.DownloadRequest{
		Gauges:                []string{"USGS-01234567", "USGS-07654321"},
		Start:                 ts("2020-01-01 00:00:00"),
		End:                   ts("2020-12-31 00:00:00"),
		WaterQualityVariables: []string{"Water Temperature", "pH"},
		Datasets:              []string{"Grab Samples", "Streamflow"},
	})
	require.NoError(t, err)

	names, files := readArchive(t, data)
	assert.Equal(t, []string{
		"01234567-water_quality.csv",
		"01234567-grab-samples.csv",
		"01234567-streamflow.csv",
		"07654321-water_quality.csv",
		"07654321-grab-samples.csv",
		"07654321-streamflow.csv",
	}, names)

	wq := files["01234567-water_quality.csv"]
	assert.Equal(t, []string{"DateTime", "WTemp_C", "Flag_WTemp_C", "pH", "Flag_pH"}, wq[0])
	require.Len(t, wq, 2)
	assert.Equal(t, "12.0", wq[1][1])

	// Header only when nothing matches.
	assert.Len(t, files["07654321-grab-samples.csv"], 1)
}

func TestService_BuildDownload_YearDatasetUsesStoredRepresentation(t *testing.T) {
	h := newHarness(t, streams.Options{SchemaCacheSize: 8})

	req := streams.DownloadRequest{
		Gauges:   []string{"USGS-01234567"},
		Start:    ts("2020-01-01 00:00:00"),
		End:      ts("2020-12-31 00:00:00"),
		Datasets: []string{"Land Use/Cover"},
	}
	data, err := h.svc.BuildDownload(context.Background(), h.token, req)
	require.NoError(t, err)

	_, files := readArchive(t, data)
	rows := files["01234567-land-use-cover.csv"]
	require.Len(t, rows, 2)
	assert.Equal(t, "2020", rows[1][1])

	_, err = h.svc.BuildDownload(context.Background(), h.token, req)
	require.NoError(t, err)
	assert.Equal(t, 1, h.src.inspects, "second download should hit the schema cache")
}

func TestService_BuildDownload_SchemaFailureFallsBackToEmptyResult(t *testing.T) {
	h := newHarness(t, streams.Options{})
	h.src.typeErr = errors.New("footer unreadable")

	data, err := h.svc.BuildDownload(context.Background(), h.token, streams.DownloadRequest{
		Gauges:   []string{"USGS-01234567"},
		Start:    ts("2020-01-01 00:00:00"),
		End:      ts("2020-12-31 00:00:00"),
		Datasets: []string{"Land Use/Cover"},
	})
	require.NoError(t, err)

	_, files := readArchive(t, data)
	assert.Equal(t, [][]string{{"gauge", "year", "urban"}}, files["01234567-land-use-cover.csv"])

	reads := h.src.reads
	require.Len(t, reads, 1)
	assert.Equal(t, domain.LiteralTimestamp, reads[0].pred[1].Value.Kind)
}

func TestService_BuildDownload_FailureReturnsNoArchive(t *testing.T) {
	pub := &fakePublisher{}
	h := newHarness(t, streams.Options{Publisher: pub})
	h.src.readErrs = map[string]error{"lulc.parquet": errors.New("connection reset")}

	data, err := h.svc.BuildDownload(context.Background(), h.token, streams.DownloadRequest{
		Gauges:   []string{"USGS-01234567"},
		Start:    ts("2020-01-01 00:00:00"),
		End:      ts("2020-12-31 00:00:00"),
		Datasets: []string{"Streamflow", "Land Use/Cover", "Grab Samples"},
	})
	require.Error(t, err)
	assert.Nil(t, data)

	var readErr *domain.DatasetReadError
	require.ErrorAs(t, err, &readErr)
	assert.Equal(t, "lulc.parquet", readErr.Path)
	assert.Equal(t, domain.KindInternal, domain.Classify(err))
	assert.NotContains(t, h.src.paths(), "grab.parquet")
	assert.Empty(t, pub.events)
}

func TestService_BuildDownload_UnknownLabelsRejectedBeforeReads(t *testing.T) {
	h := newHarness(t, streams.Options{})

	_, err := h.svc.BuildDownload(context.Background(), h.token, streams.DownloadRequest{
		Gauges:                []string{"USGS-01234567"},
		Start:                 ts("2020-01-01 00:00:00"),
		End:                   ts("2020-12-31 00:00:00"),
		WaterQualityVariables: []string{"pH"},
		Datasets:              []string{"Streamflow", "Snowpack"},
	})
	require.ErrorIs(t, err, domain.ErrUnknownSelection)
	assert.Contains(t, err.Error(), "Snowpack")
	assert.Empty(t, h.src.paths())

	_, err = h.svc.BuildDownload(context.Background(), h.token, streams.DownloadRequest{
		Gauges:                []string{"USGS-01234567"},
		Start:                 ts("2020-01-01 00:00:00"),
		End:                   ts("2020-12-31 00:00:00"),
		WaterQualityVariables: []string{"Salinity"},
	})
	require.ErrorIs(t, err, domain.ErrUnknownSelection)
	assert.Equal(t, domain.KindBadRequest, domain.Classify(err))
	assert.Empty(t, h.src.paths())
}

func TestService_BuildDownload_InvalidRequest(t *testing.T) {
	h := newHarness(t, streams.Options{})

	_, err := h.svc.BuildDownload(context.Background(), h.token, streams.DownloadRequest{
		Start: ts("2020-01-01 00:00:00"), End: ts("2020-12-31 00:00:00"),
	})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = h.svc.BuildDownload(context.Background(), h.token, streams.DownloadRequest{
		Gauges: []string{"USGS-01234567"}, Start: ts("2020-12-31 00:00:00"), End: ts("2020-01-01 00:00:00"),
	})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Equal(t, domain.KindBadRequest, domain.Classify(err))
}

func TestService_BuildDownload_ExpiredSession(t *testing.T) {
	h := newHarness(t, streams.Options{})
	h.clock.Advance(8*time.Hour + time.Nanosecond)

	_, err := h.svc.BuildDownload(context.Background(), h.token, streams.DownloadRequest{
		Gauges: []string{"USGS-01234567"}, Start: ts("2020-01-01 00:00:00"), End: ts("2020-12-31 00:00:00"),
	})
	require.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)

	_, err = h.svc.BuildDownload(context.Background(), "", streams.DownloadRequest{
		Gauges: []string{"USGS-01234567"}, Start: ts("2020-01-01 00:00:00"), End: ts("2020-12-31 00:00:00"),
	})
	require.ErrorIs(t, err, domain.ErrMissingToken)
}

func TestService_BuildDownload_PublishesEvent(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	h := newHarness(t, streams.Options{Publisher: pub})

	data, err := h.svc.BuildDownload(context.Background(), h.token, streams.DownloadRequest{
		Gauges:                []string{"USGS-01234567"},
		Start:                 ts("2020-01-01 00:00:00"),
		End:                   ts("2020-12-31 00:00:00"),
		WaterQualityVariables: []string{"pH"},
		Datasets:              []string{"Streamflow"},
	})
	require.NoError(t, err, "publish failures never fail a download")

	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	assert.Equal(t, "alice", ev.Username)
	assert.Equal(t, 2, ev.Entries)
	assert.Equal(t, len(data), ev.ArchiveBytes)
	assert.Equal(t, []string{"pH"}, ev.WaterQualityVariables)
	assert.NotEmpty(t, ev.ID)
}

func TestService_BuildDownload_ReadDurationUsesClock(t *testing.T) {
	h := newHarness(t, streams.Options{})
	h.src.onRead = func() { h.clock.Advance(2 * time.Second) }

	_, err := h.svc.BuildDownload(context.Background(), h.token, streams.DownloadRequest{
		Gauges:   []string{"USGS-01234567"},
		Start:    ts("2020-01-01 00:00:00"),
		End:      ts("2020-12-31 00:00:00"),
		Datasets: []string{"Streamflow"},
	})
	require.NoError(t, err)

	const want = `
# HELP streams_dataset_read_duration_seconds Duration of one filtered dataset read.
# TYPE streams_dataset_read_duration_seconds histogram
streams_dataset_read_duration_seconds_bucket{dataset="Streamflow",le="0.05"} 0
streams_dataset_read_duration_seconds_bucket{dataset="Streamflow",le="0.1"} 0
streams_dataset_read_duration_seconds_bucket{dataset="Streamflow",le="0.25"} 0
streams_dataset_read_duration_seconds_bucket{dataset="Streamflow",le="0.5"} 0
streams_dataset_read_duration_seconds_bucket{dataset="Streamflow",le="1"} 0
streams_dataset_read_duration_seconds_bucket{dataset="Streamflow",le="2.5"} 1
streams_dataset_read_duration_seconds_bucket{dataset="Streamflow",le="5"} 1
streams_dataset_read_duration_seconds_bucket{dataset="Streamflow",le="10"} 1
streams_dataset_read_duration_seconds_bucket{dataset="Streamflow",le="30"} 1
streams_dataset_read_duration_seconds_bucket{dataset="Streamflow",le="+Inf"} 1
streams_dataset_read_duration_seconds_sum{dataset="Streamflow"} 2
streams_dataset_read_duration_seconds_count{dataset="Streamflow"} 1
`
	require.NoError(t, testutil.CollectAndCompare(h.metrics.DatasetReadDuration, strings.NewReader(want)))
}

func TestService_Readiness(t *testing.T) {
	h := newHarness(t, streams.Options{})
	require.Error(t, h.svc.CheckReadiness(context.Background()))

	h.svc.SetReady(true)
	require.NoError(t, h.svc.CheckReadiness(context.Background()))

	h.svc.SetReady(false)
	require.Error(t, h.svc.CheckReadiness(context.Background()))
}

func TestService_Gauges(t *testing.T) {
	h := newHarness(t, streams.Options{})
	h.src.tables["gauges.parquet"] = &domain.Table{
		Columns: []string{"gauge", "latitude", "longitude", "geometry", "name"},
		Rows: [][]any{
			{"USGS-01234567", 40.1, -105.2, "POINT", "Boulder Creek"},
			{"USGS-07654321", nil, -100.0, "POINT", "No coords"},
			{"USGS-00000001", 35.0, -90.0, "POINT", nil},
		},
	}

	fc, err := h.svc.Gauges(context.Background(), h.token, 5000)
	require.NoError(t, err)
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 2)
	assert.Equal(t, [2]float64{-105.2, 40.1}, fc.Features[0].Geometry.Coordinates)
	assert.Equal(t, map[string]any{"gauge": "USGS-01234567", "name": "Boulder Creek"}, fc.Features[0].Properties)
	assert.Nil(t, fc.Features[1].Properties["name"])

	fc, err = h.svc.Gauges(context.Background(), h.token, 1)
	require.NoError(t, err)
	assert.Len(t, fc.Features, 1)

	_, err = h.svc.Gauges(context.Background(), "nope", 10)
	require.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)
}

func TestService_Gauges_MissingCoordinateColumns(t *testing.T) {
	h := newHarness(t, streams.Options{})
	h.src.tables["gauges.parquet"] = &domain.Table{Columns: []string{"gauge"}}

	_, err := h.svc.Gauges(context.Background(), h.token, 10)
	require.Error(t, err)
	assert.Equal(t, domain.KindInternal, domain.Classify(err))
}
