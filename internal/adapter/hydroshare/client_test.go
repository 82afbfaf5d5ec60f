package hydroshare

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/streams-data-service/internal/domain"
	"github.com/couchcryptid/streams-data-service/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUser          = "alice"
	testPassword      = "s3cret"
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

func testClient(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    baseURL,
		metrics:    observability.NewMetricsForTesting(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// fakeHydroShare answers GET and POST with canned statuses and bodies and
// counts calls per method.
type fakeHydroShare struct {
	getStatus  int
	getBody    string
	postStatus int
	postBody   string
	gets       atomic.Int32
	posts      atomic.Int32
}

func (f *fakeHydroShare) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, testUser, user)
		assert.Equal(t, testPassword, pass)

		w.Header().Set(headerContentType, contentTypeJSON)
		switch r.Method {
		case http.MethodGet:
			f.gets.Add(1)
			w.WriteHeader(f.getStatus)
			_, _ = w.Write([]byte(f.getBody))
		case http.MethodPost:
			f.posts.Add(1)
			w.WriteHeader(f.postStatus)
			_, _ = w.Write([]byte(f.postBody))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Resolve_GetSuccess(t *testing.T) {
	fake := &fakeHydroShare{getStatus: http.StatusOK, getBody: `{"access_key":"AK","secret_key":"SK"}`}
	srv := fake.server(t)

	creds, err := testClient(srv.URL).Resolve(context.Background(), testUser, testPassword)
	require.NoError(t, err)

	assert.Equal(t, domain.StorageCredentials{AccessKey: "AK", SecretKey: "SK"}, creds)
	assert.Equal(t, int32(1), fake.gets.Load())
	assert.Equal(t, int32(0), fake.posts.Load())
}

func TestClient_Resolve_GetRejectedSkipsCreate(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		fake := &fakeHydroShare{getStatus: status, getBody: `{"detail":"nope"}`}
		srv := fake.server(t)

		_, err := testClient(srv.URL).Resolve(context.Background(), testUser, testPassword)
		require.ErrorIs(t, err, domain.ErrInvalidCredentials)
		assert.Equal(t, int32(0), fake.posts.Load())
	}
}

func TestClient_Resolve_CreatesWhenLookupHasNoSecret(t *testing.T) {
	fake := &fakeHydroShare{
		getStatus:  http.StatusOK,
		getBody:    `{"service_accounts":[{"access_key":"AK"}]}`,
		postStatus: http.StatusCreated,
		postBody:   `{"key":"NEWAK","secret":"NEWSK"}`,
	}
	srv := fake.server(t)

	creds, err := testClient(srv.URL).Resolve(context.Background(), testUser, testPassword)
	require.NoError(t, err)

	assert.Equal(t, "NEWAK", creds.AccessKey)
	assert.Equal(t, "NEWSK", creds.SecretKey)
	assert.Equal(t, int32(1), fake.gets.Load())
	assert.Equal(t, int32(1), fake.posts.Load())
}

func TestClient_Resolve_CreateReturnsNestedShape(t *testing.T) {
	fake := &fakeHydroShare{
		getStatus:  http.StatusOK,
		getBody:    `{}`,
		postStatus: http.StatusOK,
		postBody:   `{"data":{"credentials":{"access_key":"AK","secret_access_key":"SK"}}}`,
	}
	srv := fake.server(t)

	creds, err := testClient(srv.URL).Resolve(context.Background(), testUser, testPassword)
	require.NoError(t, err)
	assert.Equal(t, domain.StorageCredentials{AccessKey: "AK", SecretKey: "SK"}, creds)
}

func TestClient_Resolve_CreateMalformed(t *testing.T) {
	fake := &fakeHydroShare{
		getStatus:  http.StatusOK,
		getBody:    `{}`,
		postStatus: http.StatusCreated,
		postBody:   `{"status":"ok"}`,
	}
	srv := fake.server(t)

	_, err := testClient(srv.URL).Resolve(context.Background(), testUser, testPassword)
	require.ErrorIs(t, err, domain.ErrMalformedCredentialResponse)
	assert.Equal(t, domain.KindUnauthenticated, domain.Classify(err))
}

func TestClient_Resolve_CreateRejected(t *testing.T) {
	fake := &fakeHydroShare{getStatus: http.StatusOK, getBody: `[]`, postStatus: http.StatusForbidden}
	srv := fake.server(t)

	_, err := testClient(srv.URL).Resolve(context.Background(), testUser, testPassword)
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestClient_Resolve_CreateUnexpectedStatus(t *testing.T) {
	fake := &fakeHydroShare{getStatus: http.StatusOK, getBody: `{}`, postStatus: http.StatusBadGateway}
	srv := fake.server(t)

	_, err := testClient(srv.URL).Resolve(context.Background(), testUser, testPassword)
	require.ErrorIs(t, err, domain.ErrAuth)
	assert.Contains(t, err.Error(), "502")
}

func TestClient_Resolve_GetUnexpectedStatusIsFatal(t *testing.T) {
	fake := &fakeHydroShare{getStatus: http.StatusInternalServerError, getBody: `oops`}
	srv := fake.server(t)

	_, err := testClient(srv.URL).Resolve(context.Background(), testUser, testPassword)
	require.ErrorIs(t, err, domain.ErrAuth)
	assert.Contains(t, err.Error(), "500")
	assert.Equal(t, int32(0), fake.posts.Load())
}

func TestClient_Resolve_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := testClient(url).Resolve(context.Background(), testUser, testPassword)
	require.ErrorIs(t, err, domain.ErrAuth)
	assert.Equal(t, domain.KindUnauthenticated, domain.Classify(err))
}

func TestClient_Resolve_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}

	_, err := c.Resolve(context.Background(), testUser, testPassword)
	require.ErrorIs(t, err, domain.ErrAuth)
}

func TestClient_Resolve_ContextCanceled(t *testing.T) {
	fake := &fakeHydroShare{getStatus: http.StatusOK, getBody: `{"access_key":"AK","secret_key":"SK"}`}
	srv := fake.server(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testClient(srv.URL).Resolve(ctx, testUser, testPassword)
	require.ErrorIs(t, err, domain.ErrAuth)
	assert.Equal(t, int32(0), fake.gets.Load())
}

func TestNewClient_DefaultURL(t *testing.T) {
	c := NewClient("", 0, observability.NewMetricsForTesting(), slog.Default())
	assert.Equal(t, DefaultCredentialsURL, c.baseURL)
	assert.Zero(t, c.httpClient.Timeout)
}
