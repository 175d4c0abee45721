package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/damon-houk/subtrack-client/internal/domain/entity"
	"github.com/damon-houk/subtrack-client/internal/infrastructure/logger"
	"github.com/damon-houk/subtrack-client/internal/infrastructure/middleware"
	"github.com/damon-houk/subtrack-client/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// RefreshPath is the backend endpoint that exchanges a refresh credential
const RefreshPath = "/auth/refresh"

const refreshKey = "refresh"

var (
	// ErrNoRefreshToken means the session cannot be refreshed
	ErrNoRefreshToken = errors.New("no refresh credential stored")
	// ErrMalformedAuthResponse means the backend omitted the access credential or user
	ErrMalformedAuthResponse = errors.New("auth response is missing access token or user")
)

// AuthResponse is the wire shape of login and refresh responses.
// Older backends send the access credential as "token".
type AuthResponse struct {
	AccessToken  string       `json:"access_token"`
	Token        string       `json:"token"`
	RefreshToken string       `json:"refresh_token"`
	User         *entity.User `json:"user"`
}

// Normalize converts the wire shape into the canonical session
func (r AuthResponse) Normalize() (entity.Session, error) {
	access := strings.TrimSpace(r.AccessToken)
	if access == "" {
		access = strings.TrimSpace(r.Token)
	}
	if access == "" || r.User == nil {
		return entity.Session{}, ErrMalformedAuthResponse
	}

	return entity.Session{
		Access:  access,
		Refresh: strings.TrimSpace(r.RefreshToken),
		User:    r.User,
	}, nil
}

// RefreshCoordinator runs at most one credential refresh at a time.
// Callers arriving while a refresh is pending share its outcome.
type RefreshCoordinator struct {
	baseURL    string
	httpClient *http.Client
	store      *CredentialStore
	logger     logger.Logger
	metrics    *metrics.Metrics

	// mu orders the stale-token check and joining the flight against
	// the flight being forgotten
	mu    sync.Mutex
	group singleflight.Group
}

// NewRefreshCoordinator creates a coordinator that posts to baseURL + RefreshPath
func NewRefreshCoordinator(baseURL string, httpClient *http.Client, store *CredentialStore, log logger.Logger, m *metrics.Metrics) *RefreshCoordinator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &RefreshCoordinator{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		store:      store,
		logger:     logger.OrDefault(log).WithField("component", "refresh_coordinator"),
		metrics:    m,
	}
}

// Refresh obtains a new access credential and reports success.
//
// staleAccess is the access credential the caller's rejected request carried.
// If the store already holds a different one, another caller refreshed in the
// meantime and Refresh succeeds without a network call. Pass "" to skip that check.
//
// ctx only bounds how long this caller waits; the shared refresh itself is
// not cancelled by any single caller.
func (c *RefreshCoordinator) Refresh(ctx context.Context, staleAccess string) bool {
	c.mu.Lock()
	if staleAccess != "" {
		if current := c.store.GetAccess(); current != "" && current != staleAccess {
			c.mu.Unlock()
			c.logger.Debug("Access credential already rotated", map[string]interface{}{
				"request_id": middleware.GetRequestID(ctx),
			})
			return true
		}
	}

	ch := c.group.DoChan(refreshKey, func() (interface{}, error) {
		ok := c.run(context.WithoutCancel(ctx))

		c.mu.Lock()
		c.group.Forget(refreshKey)
		c.mu.Unlock()

		return ok, nil
	})
	c.mu.Unlock()

	select {
	case res := <-ch:
		ok, _ := res.Val.(bool)
		return ok
	case <-ctx.Done():
		return false
	}
}

// run performs one refresh and persists (or clears) the session before the
// flight is released, so late callers observe the settled credentials
func (c *RefreshCoordinator) run(ctx context.Context) bool {
	sess, err := c.exchange(ctx)
	if err == nil {
		if err = c.store.Store(sess); err == nil {
			c.metrics.ObserveRefresh(metrics.RefreshSucceeded)
			c.logger.Info("Access credential refreshed", map[string]interface{}{
				"request_id":  middleware.GetRequestID(ctx),
				"refreshable": sess.Refreshable(),
			})
			return true
		}
	}

	if errors.Is(err, ErrNoRefreshToken) {
		c.metrics.ObserveRefresh(metrics.RefreshSkipped)
	} else {
		c.metrics.ObserveRefresh(metrics.RefreshFailed)
	}

	c.logger.Warn("Credential refresh failed", map[string]interface{}{
		"request_id": middleware.GetRequestID(ctx),
		"error":      err.Error(),
	})

	if clearErr := c.store.ClearSession(); clearErr != nil {
		c.logger.Error("Failed to clear session after refresh failure", map[string]interface{}{
			"error": clearErr.Error(),
		})
	}

	return false
}

func (c *RefreshCoordinator) exchange(ctx context.Context) (entity.Session, error) {
	refresh := c.store.GetRefresh()
	if refresh == "" {
		return entity.Session{}, ErrNoRefreshToken
	}

	body, err := json.Marshal(map[string]string{"refresh_token": refresh})
	if err != nil {
		return entity.Session{}, fmt.Errorf("failed to encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+RefreshPath, bytes.NewReader(body))
	if err != nil {
		return entity.Session{}, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if requestID := middleware.GetRequestID(ctx); requestID != middleware.UnknownRequestID {
		req.Header.Set(middleware.RequestIDHeader, requestID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return entity.Session{}, fmt.Errorf("failed to execute refresh request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("Error closing refresh response body", map[string]interface{}{
				"error": closeErr.Error(),
			})
		}
	}()

	c.metrics.ObserveRequest(http.MethodPost, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return entity.Session{}, fmt.Errorf("refresh rejected with status %d", resp.StatusCode)
	}

	var payload AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return entity.Session{}, fmt.Errorf("failed to decode refresh response: %w", err)
	}

	return payload.Normalize()
}
