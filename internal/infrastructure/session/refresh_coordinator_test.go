package session

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/damon-houk/subtrack-client/internal/domain/entity"
	"github.com/damon-houk/subtrack-client/internal/infrastructure/logger"
	"github.com/damon-houk/subtrack-client/internal/infrastructure/middleware"
	"github.com/damon-houk/subtrack-client/internal/metrics"
	"github.com/damon-houk/subtrack-client/internal/mocks"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUser = &entity.User{ID: "1", Email: "ana@example.com", Role: "user"}

func setupCoordinator(t *testing.T) (*RefreshCoordinator, *CredentialStore, *mocks.Backend, *metrics.Metrics) {
	t.Helper()
	backend := mocks.NewBackend()
	t.Cleanup(backend.Close)

	store := NewCredentialStore(newKV(t), logger.NewNopLogger())
	m := metrics.NewMetrics(nil)
	coord := NewRefreshCoordinator(backend.URL(), nil, store, logger.NewNopLogger(), m)
	return coord, store, backend, m
}

func TestRefreshSuccess(t *testing.T) {
	coord, store, backend, m := setupCoordinator(t)
	require.NoError(t, store.SetSession("acc-old", testUser, "ref-1"))
	backend.AcceptRefresh("ref-1", mocks.RefreshGrant{Access: "acc-new", Refresh: "ref-2", User: testUser})

	ok := coord.Refresh(context.Background(), "acc-old")

	assert.True(t, ok)
	assert.Equal(t, "acc-new", store.GetAccess())
	assert.Equal(t, "ref-2", store.GetRefresh())
	assert.Equal(t, testUser, store.GetUser())
	assert.Equal(t, int32(1), backend.RefreshCalls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RefreshTotal.WithLabelValues(metrics.RefreshSucceeded)))
}

func TestRefreshCarriesRequestID(t *testing.T) {
	coord, store, backend, _ := setupCoordinator(t)
	require.NoError(t, store.SetSession("acc-old", testUser, "ref-1"))
	backend.AcceptRefresh("ref-1", mocks.RefreshGrant{Access: "acc-new", User: testUser})

	ctx := middleware.WithRequestID(context.Background(), "req-7")
	require.True(t, coord.Refresh(ctx, "acc-old"))

	reqs := backend.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "req-7", reqs[0].Header.Get(middleware.RequestIDHeader))
}

func TestRefreshAcceptsLegacyTokenField(t *testing.T) {
	coord, store, backend, _ := setupCoordinator(t)
	require.NoError(t, store.SetSession("acc-old", testUser, "ref-1"))
	backend.AcceptRefresh("ref-1", mocks.RefreshGrant{Access: "acc-legacy", User: testUser, UseLegacyField: true})

	assert.True(t, coord.Refresh(context.Background(), "acc-old"))
	assert.Equal(t, "acc-legacy", store.GetAccess())
	// no refresh credential was issued, so none is retained
	assert.Empty(t, store.GetRefresh())
}

func TestRefreshWithoutRefreshTokenFailsFast(t *testing.T) {
	coord, store, backend, m := setupCoordinator(t)
	require.NoError(t, store.SetSession("acc-old", testUser, ""))

	assert.False(t, coord.Refresh(context.Background(), "acc-old"))
	assert.Equal(t, int32(0), backend.RefreshCalls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RefreshTotal.WithLabelValues(metrics.RefreshSkipped)))
}

func TestRefreshRejected(t *testing.T) {
	coord, store, backend, m := setupCoordinator(t)
	require.NoError(t, store.SetSession("acc-old", testUser, "ref-1"))
	backend.AcceptRefresh("ref-1", mocks.RefreshGrant{Access: "acc-new", User: testUser})
	backend.FailRefresh(http.StatusForbidden)

	assert.False(t, coord.Refresh(context.Background(), "acc-old"))
	assert.False(t, store.IsAuthenticated())
	assert.Empty(t, store.GetRefresh())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RefreshTotal.WithLabelValues(metrics.RefreshFailed)))
}

func TestRefreshMalformedResponse(t *testing.T) {
	coord, store, backend, _ := setupCoordinator(t)
	require.NoError(t, store.SetSession("acc-old", testUser, "ref-1"))
	backend.AcceptRefresh("ref-1", mocks.RefreshGrant{Access: "acc-new"})

	assert.False(t, coord.Refresh(context.Background(), "acc-old"))
	assert.False(t, store.IsAuthenticated())
}

func TestConcurrentRefreshIsSingleFlight(t *testing.T) {
	coord, store, backend, _ := setupCoordinator(t)
	require.NoError(t, store.SetSession("acc-old", testUser, "ref-1"))
	backend.AcceptRefresh("ref-1", mocks.RefreshGrant{Access: "acc-new", Refresh: "ref-2", User: testUser})
	release := backend.HoldRefresh()

	const callers = 20
	results := make([]bool, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = coord.Refresh(context.Background(), "acc-old")
		}(i)
	}

	require.Eventually(t, func() bool { return backend.RefreshCalls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	release()
	wg.Wait()

	assert.Equal(t, int32(1), backend.RefreshCalls.Load())
	for i, ok := range results {
		assert.True(t, ok, "caller %d", i)
	}
	assert.Equal(t, "acc-new", store.GetAccess())
}

func TestConcurrentRefreshSharesFailure(t *testing.T) {
	coord, store, backend, _ := setupCoordinator(t)
	require.NoError(t, store.SetSession("acc-old", testUser, "ref-1"))
	backend.FailRefresh(http.StatusUnauthorized)
	release := backend.HoldRefresh()

	const callers = 10
	results := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		go func() { results <- coord.Refresh(context.Background(), "acc-old") }()
	}

	require.Eventually(t, func() bool { return backend.RefreshCalls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	release()

	for i := 0; i < callers; i++ {
		assert.False(t, <-results)
	}
	// late callers find the session cleared and never reach the network
	assert.Equal(t, int32(1), backend.RefreshCalls.Load())
}

func TestRefreshSkipsWhenAlreadyRotated(t *testing.T) {
	coord, store, backend, _ := setupCoordinator(t)
	require.NoError(t, store.SetSession("acc-new", testUser, "ref-2"))

	assert.True(t, coord.Refresh(context.Background(), "acc-old"))
	assert.Equal(t, int32(0), backend.RefreshCalls.Load())
}

func TestRefreshStartsNewAttemptAfterSettling(t *testing.T) {
	coord, store, backend, _ := setupCoordinator(t)
	require.NoError(t, store.SetSession("acc-1", testUser, "ref-1"))
	backend.AcceptRefresh("ref-1", mocks.RefreshGrant{Access: "acc-2", Refresh: "ref-1", User: testUser})

	assert.True(t, coord.Refresh(context.Background(), "acc-1"))
	assert.True(t, coord.Refresh(context.Background(), ""))
	assert.Equal(t, int32(2), backend.RefreshCalls.Load())
}

func TestRefreshCallerCancellation(t *testing.T) {
	coord, store, backend, _ := setupCoordinator(t)
	require.NoError(t, store.SetSession("acc-old", testUser, "ref-1"))
	backend.AcceptRefresh("ref-1", mocks.RefreshGrant{Access: "acc-new", Refresh: "ref-2", User: testUser})
	release := backend.HoldRefresh()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() { done <- coord.Refresh(ctx, "acc-old") }()

	require.Eventually(t, func() bool { return backend.RefreshCalls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.False(t, <-done)

	// the shared refresh keeps going for everyone else
	other := make(chan bool, 1)
	go func() { other <- coord.Refresh(context.Background(), "acc-old") }()
	release()

	assert.True(t, <-other)
	assert.Equal(t, "acc-new", store.GetAccess())
	assert.Equal(t, int32(1), backend.RefreshCalls.Load())
}

func TestAuthResponseNormalize(t *testing.T) {
	sess, err := AuthResponse{AccessToken: " a ", Token: "b", User: testUser}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "a", sess.Access)
	assert.False(t, sess.Refreshable())

	sess, err = AuthResponse{Token: "b", RefreshToken: "r", User: testUser}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "b", sess.Access)
	assert.True(t, sess.Refreshable())

	_, err = AuthResponse{User: testUser}.Normalize()
	assert.ErrorIs(t, err, ErrMalformedAuthResponse)

	_, err = AuthResponse{AccessToken: "a"}.Normalize()
	assert.ErrorIs(t, err, ErrMalformedAuthResponse)
}
