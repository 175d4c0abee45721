package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/damon-houk/subtrack-client/internal/domain/entity"
	"github.com/damon-houk/subtrack-client/internal/infrastructure/db"
	"github.com/damon-houk/subtrack-client/internal/infrastructure/logger"
	"github.com/damon-houk/subtrack-client/internal/infrastructure/middleware"
	"github.com/damon-houk/subtrack-client/internal/infrastructure/session"
	"github.com/damon-houk/subtrack-client/internal/metrics"
	"github.com/damon-houk/subtrack-client/internal/mocks"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUser = &entity.User{ID: "1", Email: "ana@example.com", Role: "user"}

type fixture struct {
	backend *mocks.Backend
	store   *session.CredentialStore
	gateway *Gateway
	metrics *metrics.Metrics
	expired atomic.Int32
}

func setup(t *testing.T) *fixture {
	t.Helper()

	backend := mocks.NewBackend()
	t.Cleanup(backend.Close)

	kv, err := db.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	log := logger.NewNopLogger()
	m := metrics.NewMetrics(nil)
	store := session.NewCredentialStore(kv, log)
	coord := session.NewRefreshCoordinator(backend.URL(), nil, store, log, m)

	f := &fixture{
		backend: backend,
		store:   store,
		metrics: m,
		gateway: NewGateway(backend.URL(), store, coord, WithLogger(log), WithMetrics(m)),
	}
	f.gateway.OnUnauthorized(func() { f.expired.Add(1) })
	return f
}

func (f *fixture) login(t *testing.T, access, refresh string) {
	t.Helper()
	require.NoError(t, f.store.SetSession(access, testUser, refresh))
}

func TestGatewayAttachesCredentials(t *testing.T) {
	f := setup(t)
	f.login(t, "acc-1", "ref-1")
	f.backend.AcceptAccess("acc-1")

	subs, err := Call[[]entity.Subscription](context.Background(), f.gateway, http.MethodGet, "/subscriptions", nil)
	require.NoError(t, err)
	require.NotNil(t, subs)
	assert.Len(t, *subs, 2)

	reqs := f.backend.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Bearer acc-1", reqs[0].Header.Get("Authorization"))
	assert.Equal(t, "application/json", reqs[0].Header.Get("Content-Type"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RequestsTotal.WithLabelValues("GET", "200")))
}

func TestGatewayWithoutCredentials(t *testing.T) {
	f := setup(t)

	err := f.gateway.Get(context.Background(), "/subscriptions", nil)
	assert.ErrorIs(t, err, ErrUnauthorized)

	reqs := f.backend.Requests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Header.Get("Authorization"))
	assert.Equal(t, int32(0), f.backend.RefreshCalls.Load())
	assert.Equal(t, int32(1), f.expired.Load())
}

func TestGatewayTypedResults(t *testing.T) {
	f := setup(t)
	f.login(t, "acc-1", "")
	f.backend.AcceptAccess("acc-1")
	ctx := context.Background()

	created, err := Call[entity.Subscription](ctx, f.gateway, http.MethodPost, "/subscriptions",
		entity.Subscription{Name: "Music", Amount: 4.99, Currency: "GBP"})
	require.NoError(t, err)
	assert.Equal(t, 3, created.ID)
	assert.Equal(t, "Music", created.Name)

	deleted, err := Call[entity.Subscription](ctx, f.gateway, http.MethodDelete, "/subscriptions/3", nil)
	assert.NoError(t, err)
	assert.Nil(t, deleted)

	var out map[string]interface{}
	assert.NoError(t, f.gateway.Delete(ctx, "/subscriptions/1", &out))
	assert.Nil(t, out)

	err = f.gateway.Delete(ctx, "/subscriptions/3", nil)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestGatewayBackendFailures(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		path    string
		status  int
		message string
		raw     string
	}{
		{"Known message is translated", "/fail/404?message=Subscription%20not%20found", 404, "That subscription no longer exists.", "Subscription not found"},
		{"Unknown message passes through", "/fail/409?message=Name%20taken", 409, "Name taken", "Name taken"},
		{"Blank message falls back", "/fail/500?message=%20", 500, GenericFailureMessage, " "},
		{"Missing field falls back", "/fail/422?empty=1", 422, GenericFailureMessage, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.gateway.Get(ctx, tt.path, nil)

			var apiErr *Error
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.message, apiErr.Message)
			assert.Equal(t, tt.message, err.Error())
			assert.Equal(t, strings.TrimSpace(tt.raw), strings.TrimSpace(apiErr.Raw))
			assert.NotErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestGatewayTransportFailure(t *testing.T) {
	f := setup(t)
	f.backend.Close()

	err := f.gateway.Get(context.Background(), "/subscriptions", nil)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestGatewayRefreshesAndReplays(t *testing.T) {
	f := setup(t)
	f.login(t, "acc-old", "ref-1")
	f.backend.AcceptRefresh("ref-1", mocks.RefreshGrant{Access: "acc-new", Refresh: "ref-2", User: testUser})

	var subs []entity.Subscription
	require.NoError(t, f.gateway.Get(context.Background(), "/subscriptions", &subs))

	assert.Len(t, subs, 2)
	assert.Equal(t, int32(1), f.backend.RefreshCalls.Load())
	assert.Equal(t, "acc-new", f.store.GetAccess())
	assert.Equal(t, "ref-2", f.store.GetRefresh())
	assert.Equal(t, int32(0), f.expired.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReplaysTotal))

	reqs := f.backend.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "Bearer acc-old", reqs[0].Header.Get("Authorization"))
	assert.Equal(t, "/auth/refresh", reqs[1].URL.Path)
	assert.Equal(t, "Bearer acc-new", reqs[2].Header.Get("Authorization"))
}

func TestGatewayAttemptsShareRequestID(t *testing.T) {
	f := setup(t)
	f.login(t, "acc-old", "ref-1")
	f.backend.AcceptRefresh("ref-1", mocks.RefreshGrant{Access: "acc-new", Refresh: "ref-2", User: testUser})

	require.NoError(t, f.gateway.Get(context.Background(), "/subscriptions", nil))

	reqs := f.backend.Requests()
	require.Len(t, reqs, 3)
	id := reqs[0].Header.Get(middleware.RequestIDHeader)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, reqs[1].Header.Get(middleware.RequestIDHeader), "refresh")
	assert.Equal(t, id, reqs[2].Header.Get(middleware.RequestIDHeader), "replay")

	// a caller-supplied id is kept
	ctx := middleware.WithRequestID(context.Background(), "req-42")
	require.NoError(t, f.gateway.Get(ctx, "/subscriptions", nil))
	reqs = f.backend.Requests()
	assert.Equal(t, "req-42", reqs[len(reqs)-1].Header.Get(middleware.RequestIDHeader))
}

func TestGatewayCallerCancelDuringRefreshKeepsSession(t *testing.T) {
	f := setup(t)
	f.login(t, "acc-old", "ref-1")
	f.backend.AcceptRefresh("ref-1", mocks.RefreshGrant{Access: "acc-new", Refresh: "ref-2", User: testUser})
	release := f.backend.HoldRefresh()

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error, 1)
	go func() {
		cancelled <- f.gateway.Get(ctx, "/subscriptions", nil)
	}()

	require.Eventually(t, func() bool { return f.backend.RefreshCalls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	other := make(chan error, 1)
	go func() {
		other <- f.gateway.Get(context.Background(), "/subscriptions", nil)
	}()

	cancel()
	err := <-cancelled
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(0), f.expired.Load())
	assert.True(t, f.store.IsAuthenticated())

	release()
	assert.NoError(t, <-other)
	assert.Equal(t, "acc-new", f.store.GetAccess())
	assert.Equal(t, int32(1), f.backend.RefreshCalls.Load())
	assert.Equal(t, int32(0), f.expired.Load())
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.ExpiredSessions))
}

func TestGatewayRetriesOnlyOnce(t *testing.T) {
	f := setup(t)
	f.login(t, "acc-old", "ref-1")
	f.backend.AcceptRefresh("ref-1", mocks.RefreshGrant{Access: "acc-new", Refresh: "ref-2", User: testUser})

	err := f.gateway.Get(context.Background(), "/always-unauthorized", nil)

	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, UnauthorizedMessage, err.Error())
	assert.Equal(t, int32(1), f.backend.RefreshCalls.Load())
	assert.Equal(t, int32(2), f.backend.UnauthorizedCalls.Load())
	assert.False(t, f.store.IsAuthenticated())
	assert.Equal(t, int32(1), f.expired.Load())
}

func TestGatewayNoRefreshTokenExpiresImmediately(t *testing.T) {
	f := setup(t)
	f.login(t, "acc-old", "")

	err := f.gateway.Get(context.Background(), "/subscriptions", nil)

	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(0), f.backend.RefreshCalls.Load())
	assert.False(t, f.store.IsAuthenticated())
	assert.Nil(t, f.store.GetUser())
	assert.Equal(t, int32(1), f.expired.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ExpiredSessions))
}

func TestGatewayRefreshFailureExpiresSession(t *testing.T) {
	f := setup(t)
	f.login(t, "acc-old", "ref-1")
	f.backend.FailRefresh(http.StatusUnauthorized)

	err := f.gateway.Get(context.Background(), "/subscriptions", nil)

	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(1), f.backend.RefreshCalls.Load())
	assert.False(t, f.store.IsAuthenticated())
	assert.Equal(t, int32(1), f.expired.Load())
}

func TestGatewayNeverRefreshesTheRefreshEndpoint(t *testing.T) {
	f := setup(t)
	f.login(t, "acc-old", "ref-unknown")

	err := f.gateway.Post(context.Background(), "/auth/refresh", map[string]string{"refresh_token": "ref-unknown"}, nil)

	assert.ErrorIs(t, err, ErrUnauthorized)
	// only the direct call reached the endpoint
	assert.Equal(t, int32(1), f.backend.RefreshCalls.Load())
}

func TestGatewayConcurrentCallsShareOneRefresh(t *testing.T) {
	f := setup(t)
	f.login(t, "acc-old", "ref-1")
	f.backend.AcceptRefresh("ref-1", mocks.RefreshGrant{Access: "acc-new", Refresh: "ref-2", User: testUser})
	release := f.backend.HoldRefresh()

	const callers = 16
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var subs []entity.Subscription
			errs[i] = f.gateway.Get(context.Background(), "/subscriptions", &subs)
		}(i)
	}

	require.Eventually(t, func() bool { return f.backend.RefreshCalls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	// give the other callers time to collect their 401 and join the flight
	time.Sleep(50 * time.Millisecond)
	release()
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "caller %d", i)
	}
	assert.Equal(t, int32(1), f.backend.RefreshCalls.Load())
	assert.Equal(t, int32(0), f.expired.Load())
	assert.Equal(t, "acc-new", f.store.GetAccess())
}

func TestGatewayUpload(t *testing.T) {
	f := setup(t)
	f.login(t, "acc-old", "ref-1")
	f.backend.AcceptRefresh("ref-1", mocks.RefreshGrant{Access: "acc-new", Refresh: "ref-1", User: testUser})

	form := UploadForm{
		Fields: map[string]string{"subscription_id": "2"},
		Files:  []UploadFile{{Field: "file", Filename: "invoice.pdf", Data: []byte("%PDF-1.4")}},
	}

	var out struct {
		SubscriptionID string   `json:"subscription_id"`
		Files          []string `json:"files"`
	}
	require.NoError(t, f.gateway.Upload(context.Background(), "/uploads", form, &out))

	// the replay after refresh carried the full multipart body
	assert.Equal(t, "2", out.SubscriptionID)
	assert.Equal(t, []string{"invoice.pdf"}, out.Files)
	assert.Equal(t, int32(1), f.backend.RefreshCalls.Load())

	reqs := f.backend.Requests()
	last := reqs[len(reqs)-1]
	assert.True(t, strings.HasPrefix(last.Header.Get("Content-Type"), "multipart/form-data"))
	assert.Equal(t, "Bearer acc-new", last.Header.Get("Authorization"))
}

func TestIsRefreshPath(t *testing.T) {
	assert.True(t, isRefreshPath("/auth/refresh"))
	assert.True(t, isRefreshPath("/auth/refresh/"))
	assert.True(t, isRefreshPath("/auth/refresh?x=1"))
	assert.False(t, isRefreshPath("/auth/refresh-all"))
	assert.False(t, isRefreshPath("/subscriptions"))
}

func TestTranslator(t *testing.T) {
	tr := Translator{"Forbidden": "Nope."}
	assert.Equal(t, "Nope.", tr.Translate(" Forbidden "))
	assert.Equal(t, "Other", tr.Translate("Other"))
	assert.Equal(t, GenericFailureMessage, tr.Translate(""))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "boom", errorMessage([]byte(`{"error":"boom"}`)))
	assert.Equal(t, "fallback", errorMessage([]byte(`{"error":{"code":1},"message":"fallback"}`)))
	assert.Equal(t, "", errorMessage([]byte(`<html>oops</html>`)))
}
