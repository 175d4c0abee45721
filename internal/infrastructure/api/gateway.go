package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/damon-houk/subtrack-client/internal/infrastructure/logger"
	"github.com/damon-houk/subtrack-client/internal/infrastructure/middleware"
	"github.com/damon-houk/subtrack-client/internal/infrastructure/session"
	"github.com/damon-houk/subtrack-client/internal/metrics"
)

// Refresher obtains a new access credential after a 401.
// staleAccess is the credential the rejected request carried.
type Refresher interface {
	Refresh(ctx context.Context, staleAccess string) bool
}

// attempt is the per-call position in the unauthorized-retry state machine
type attempt int

const (
	firstAttempt attempt = iota
	retriedAttempt
)

// payload is an encoded request body that can be sent more than once
type payload struct {
	body        []byte
	contentType string
	requestID   string
}

// Gateway issues every backend call: it attaches credentials, refreshes an
// expired access credential once, and normalizes backend failures
type Gateway struct {
	baseURL    string
	httpClient *http.Client
	store      *session.CredentialStore
	refresher  Refresher
	translator Translator
	logger     logger.Logger
	metrics    *metrics.Metrics

	mu             sync.RWMutex
	onUnauthorized []func()
}

// Option configures a Gateway
type Option func(*Gateway)

// WithHTTPClient sets the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.httpClient = c }
}

// WithTranslator replaces the backend message translations
func WithTranslator(t Translator) Option {
	return func(g *Gateway) { g.translator = t }
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// NewGateway creates a gateway for baseURL
func NewGateway(baseURL string, store *session.CredentialStore, refresher Refresher, opts ...Option) *Gateway {
	g := &Gateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		store:      store,
		refresher:  refresher,
		translator: DefaultTranslations,
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.httpClient == nil {
		g.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if g.translator == nil {
		g.translator = DefaultTranslations
	}
	g.logger = logger.OrDefault(g.logger).WithField("component", "gateway")

	return g
}

// OnUnauthorized registers fn to run whenever a session is expired because a
// 401 could not be resolved. This is where the UI navigates to sign-in.
// Hooks run synchronously on the failing call and must not block.
func (g *Gateway) OnUnauthorized(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onUnauthorized = append(g.onUnauthorized, fn)
}

// Do sends a JSON request. body may be nil. The decoded response is stored
// in out when out is non-nil; a 204 leaves out untouched.
func (g *Gateway) Do(ctx context.Context, method, path string, body, out interface{}) error {
	_, err := g.do(ctx, method, path, body, out)
	return err
}

func (g *Gateway) do(ctx context.Context, method, path string, body, out interface{}) (bool, error) {
	p := payload{contentType: "application/json"}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("failed to encode request body: %w", err)
		}
		p.body = data
	}
	return g.execute(ctx, method, path, p, out)
}

// Get issues a GET request
func (g *Gateway) Get(ctx context.Context, path string, out interface{}) error {
	return g.Do(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST request
func (g *Gateway) Post(ctx context.Context, path string, body, out interface{}) error {
	return g.Do(ctx, http.MethodPost, path, body, out)
}

// Put issues a PUT request
func (g *Gateway) Put(ctx context.Context, path string, body, out interface{}) error {
	return g.Do(ctx, http.MethodPut, path, body, out)
}

// Patch issues a PATCH request
func (g *Gateway) Patch(ctx context.Context, path string, body, out interface{}) error {
	return g.Do(ctx, http.MethodPatch, path, body, out)
}

// Delete issues a DELETE request
func (g *Gateway) Delete(ctx context.Context, path string, out interface{}) error {
	return g.Do(ctx, http.MethodDelete, path, nil, out)
}

// Call sends a JSON request and returns the typed result; nil for 204
func Call[T any](ctx context.Context, g *Gateway, method, path string, body interface{}) (*T, error) {
	var out T
	hasContent, err := g.do(ctx, method, path, body, &out)
	if err != nil {
		return nil, err
	}
	if !hasContent {
		return nil, nil
	}
	return &out, nil
}

// UploadFile is one file part of a multipart upload
type UploadFile struct {
	Field    string
	Filename string
	Data     []byte
}

// UploadForm is the multipart body of an upload
type UploadForm struct {
	Fields map[string]string
	Files  []UploadFile
}

func (f UploadForm) encode() (payload, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(f.Fields))
	for k := range f.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := w.WriteField(k, f.Fields[k]); err != nil {
			return payload{}, err
		}
	}
	for _, file := range f.Files {
		part, err := w.CreateFormFile(file.Field, file.Filename)
		if err != nil {
			return payload{}, err
		}
		if _, err := part.Write(file.Data); err != nil {
			return payload{}, err
		}
	}
	if err := w.Close(); err != nil {
		return payload{}, err
	}

	return payload{body: buf.Bytes(), contentType: w.FormDataContentType()}, nil
}

// Upload sends a multipart POST with the same credential handling as Do
func (g *Gateway) Upload(ctx context.Context, path string, form UploadForm, out interface{}) error {
	p, err := form.encode()
	if err != nil {
		return fmt.Errorf("failed to encode upload: %w", err)
	}
	_, err = g.execute(ctx, http.MethodPost, path, p, out)
	return err
}

// execute runs one logical call: the first attempt, and at most one
// replay after a successful refresh. Every attempt and the refresh carry
// the same request id.
func (g *Gateway) execute(ctx context.Context, method, path string, p payload, out interface{}) (bool, error) {
	ctx, requestID := middleware.EnsureRequestID(ctx)
	p.requestID = requestID
	state := firstAttempt

	for {
		access := g.store.GetAccess()

		resp, err := g.send(ctx, method, path, p, access)
		if err != nil {
			return false, err
		}

		if resp.StatusCode != http.StatusUnauthorized {
			return g.decode(method, path, resp, out)
		}

		discard(resp)
		g.metrics.ObserveRequest(method, resp.StatusCode)

		if state == firstAttempt && g.canRefresh(path, access) && g.refresher.Refresh(ctx, access) {
			g.logger.Debug("Replaying request after refresh", map[string]interface{}{
				"method": method,
				"path":   path,
			})
			g.metrics.ObserveReplay()
			state = retriedAttempt
			continue
		}

		// the caller gave up; the session is still valid for everyone else
		if err := ctx.Err(); err != nil {
			return false, fmt.Errorf("%s %s: %w", method, path, err)
		}

		return false, g.expireSession(method, path, state)
	}
}

func (g *Gateway) canRefresh(path, access string) bool {
	if access == "" || g.refresher == nil {
		return false
	}
	if isRefreshPath(path) {
		return false
	}
	return g.store.GetRefresh() != ""
}

func isRefreshPath(path string) bool {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	return strings.TrimRight(path, "/") == session.RefreshPath
}

func (g *Gateway) expireSession(method, path string, state attempt) error {
	if err := g.store.ClearSession(); err != nil {
		g.logger.Error("Failed to clear session", map[string]interface{}{
			"error": err.Error(),
		})
	}

	g.metrics.ObserveExpiredSession()
	g.logger.Warn("Session expired", map[string]interface{}{
		"method":  method,
		"path":    path,
		"retried": state == retriedAttempt,
	})

	g.mu.RLock()
	hooks := append([]func(){}, g.onUnauthorized...)
	g.mu.RUnlock()
	for _, fn := range hooks {
		fn()
	}

	return &Error{
		Status:  http.StatusUnauthorized,
		Message: g.translator.Translate("Unauthorized"),
		Raw:     "Unauthorized",
	}
}

func (g *Gateway) send(ctx context.Context, method, path string, p payload, access string) (*http.Response, error) {
	var body io.Reader
	if p.body != nil {
		body = bytes.NewReader(p.body)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if p.contentType != "" {
		req.Header.Set("Content-Type", p.contentType)
	}
	req.Header.Set("Accept", "application/json")
	if p.requestID != "" {
		req.Header.Set(middleware.RequestIDHeader, p.requestID)
	}
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrTransport, method, path, err)
	}

	return resp, nil
}

func (g *Gateway) decode(method, path string, resp *http.Response, out interface{}) (bool, error) {
	defer resp.Body.Close()
	g.metrics.ObserveRequest(method, resp.StatusCode)

	if resp.StatusCode == http.StatusNoContent {
		return false, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("%w: failed to read response body: %w", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw := errorMessage(data)
		msg := g.translator.Translate(raw)

		g.logger.Warn("Backend reported failure", map[string]interface{}{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
			"error":  raw,
		})

		return false, &Error{Status: resp.StatusCode, Message: msg, Raw: raw}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return false, nil
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return false, fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return true, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
