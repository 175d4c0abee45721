// internal/mocks/backend.go
package mocks

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/damon-houk/subtrack-client/internal/domain/entity"
	"github.com/gorilla/mux"
)

// RefreshGrant is what Backend answers on a successful refresh
type RefreshGrant struct {
	Access  string
	Refresh string
	User    *entity.User
	// UseLegacyField sends the access credential as "token"
	UseLegacyField bool
}

// Backend is a fake REST backend for exercising the client end to end
type Backend struct {
	Server *httptest.Server
	Router *mux.Router

	mu            sync.Mutex
	validAccess   map[string]bool
	validRefresh  map[string]bool
	grant         *RefreshGrant
	refreshStatus int
	refreshGate   chan struct{}
	releaseGate   func()
	rates         map[string][]entity.RateQuote
	pairs         map[string]float64
	subs          []entity.Subscription
	nextSubID     int
	requests      []*http.Request

	RefreshCalls      atomic.Int32
	RateListCalls     atomic.Int32
	PairCalls         atomic.Int32
	UnauthorizedCalls atomic.Int32
}

// NewBackend starts a fake backend. Call Close when done.
func NewBackend() *Backend {
	b := &Backend{
		validAccess:  map[string]bool{},
		validRefresh: map[string]bool{},
		rates:        map[string][]entity.RateQuote{},
		pairs:        map[string]float64{},
		nextSubID:    3,
	}
	b.subs = []entity.Subscription{
		{ID: 1, Name: "Streaming", Amount: 9.99, Currency: "USD"},
		{ID: 2, Name: "Cloud storage", Amount: 2.49, Currency: "EUR"},
	}

	r := mux.NewRouter()
	r.Use(b.record)
	r.HandleFunc("/auth/refresh", b.refresh).Methods(http.MethodPost)
	r.HandleFunc("/exchange-rates", b.protected(b.rateList)).Methods(http.MethodGet)
	r.HandleFunc("/exchange-rates/{base}/{target}", b.protected(b.pair)).Methods(http.MethodGet)
	r.HandleFunc("/subscriptions", b.protected(b.listSubscriptions)).Methods(http.MethodGet)
	r.HandleFunc("/subscriptions", b.protected(b.createSubscription)).Methods(http.MethodPost)
	r.HandleFunc("/subscriptions/{id}", b.protected(b.deleteSubscription)).Methods(http.MethodDelete)
	r.HandleFunc("/uploads", b.protected(b.upload)).Methods(http.MethodPost)
	r.HandleFunc("/fail/{status}", b.fail)
	r.HandleFunc("/always-unauthorized", b.alwaysUnauthorized)

	b.Router = r
	b.Server = httptest.NewServer(r)
	return b
}

// URL returns the backend base URL
func (b *Backend) URL() string {
	return b.Server.URL
}

// Close shuts the server down
func (b *Backend) Close() {
	b.mu.Lock()
	release := b.releaseGate
	b.mu.Unlock()
	if release != nil {
		release()
	}
	b.Server.Close()
}

// AcceptAccess marks an access credential as valid
func (b *Backend) AcceptAccess(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.validAccess[token] = true
}

// RevokeAccess marks an access credential as expired
func (b *Backend) RevokeAccess(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.validAccess, token)
}

// AcceptRefresh marks a refresh credential as valid and sets the grant it yields.
// The granted access credential becomes valid immediately.
func (b *Backend) AcceptRefresh(token string, grant RefreshGrant) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.validRefresh[token] = true
	b.grant = &grant
}

// FailRefresh makes the refresh endpoint answer with status
func (b *Backend) FailRefresh(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshStatus = status
}

// HoldRefresh blocks refresh responses until the returned release func is called
func (b *Backend) HoldRefresh() (release func()) {
	gate := make(chan struct{})
	var once sync.Once
	release = func() { once.Do(func() { close(gate) }) }

	b.mu.Lock()
	b.refreshGate = gate
	b.releaseGate = release
	b.mu.Unlock()

	return release
}

// SetRates sets the outbound rate list for base
func (b *Backend) SetRates(base string, quotes ...entity.RateQuote) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rates[strings.ToUpper(base)] = quotes
}

// SetPair sets the direct rate for base->target
func (b *Backend) SetPair(base, target string, rate float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pairs[strings.ToUpper(base)+"/"+strings.ToUpper(target)] = rate
}

// Requests returns a copy of every request seen so far
func (b *Backend) Requests() []*http.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*http.Request, len(b.requests))
	copy(out, b.requests)
	return out
}

func (b *Backend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.requests = append(b.requests, r.Clone(r.Context()))
		b.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) protected(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		b.mu.Lock()
		ok := b.validAccess[token]
		b.mu.Unlock()

		if !ok {
			b.UnauthorizedCalls.Add(1)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}
		next(w, r)
	}
}

func (b *Backend) refresh(w http.ResponseWriter, r *http.Request) {
	b.RefreshCalls.Add(1)

	b.mu.Lock()
	gate := b.refreshGate
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	b.mu.Lock()
	status := b.refreshStatus
	valid := b.validRefresh[body.RefreshToken]
	grant := b.grant
	if valid && status == 0 && grant != nil && grant.Access != "" {
		b.validAccess[grant.Access] = true
	}
	b.mu.Unlock()

	if status != 0 {
		writeJSON(w, status, map[string]string{"error": "Refresh failed"})
		return
	}
	if !valid || grant == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid refresh token"})
		return
	}

	resp := map[string]interface{}{"user": grant.User}
	if grant.UseLegacyField {
		resp["token"] = grant.Access
	} else {
		resp["access_token"] = grant.Access
	}
	if grant.Refresh != "" {
		resp["refresh_token"] = grant.Refresh
	}
	writeJSON(w, http.StatusOK, resp)
}

func (b *Backend) rateList(w http.ResponseWriter, r *http.Request) {
	b.RateListCalls.Add(1)

	base := strings.ToUpper(r.URL.Query().Get("base"))
	b.mu.Lock()
	quotes, ok := b.rates[base]
	b.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Currency not found"})
		return
	}
	writeJSON(w, http.StatusOK, quotes)
}

func (b *Backend) pair(w http.ResponseWriter, r *http.Request) {
	b.PairCalls.Add(1)

	vars := mux.Vars(r)
	base, target := strings.ToUpper(vars["base"]), strings.ToUpper(vars["target"])

	b.mu.Lock()
	rate, ok := b.pairs[base+"/"+target]
	b.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Exchange rate not found"})
		return
	}
	writeJSON(w, http.StatusOK, entity.PairRate{BaseCurrency: base, TargetCurrency: target, Rate: rate})
}

func (b *Backend) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	subs := make([]entity.Subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, subs)
}

func (b *Backend) createSubscription(w http.ResponseWriter, r *http.Request) {
	var sub entity.Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	b.mu.Lock()
	sub.ID = b.nextSubID
	b.nextSubID++
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	writeJSON(w, http.StatusCreated, sub)
}

func (b *Backend) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.ID == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "Subscription not found"})
}

func (b *Backend) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid upload"})
		return
	}

	resp := map[string]interface{}{}
	for k, v := range r.MultipartForm.Value {
		resp[k] = v[0]
	}
	var files []string
	for _, headers := range r.MultipartForm.File {
		for _, h := range headers {
			files = append(files, h.Filename)
		}
	}
	resp["files"] = files
	writeJSON(w, http.StatusOK, resp)
}

func (b *Backend) fail(w http.ResponseWriter, r *http.Request) {
	status, err := strconv.Atoi(mux.Vars(r)["status"])
	if err != nil {
		status = http.StatusInternalServerError
	}

	if r.URL.Query().Has("empty") {
		writeJSON(w, status, map[string]string{})
		return
	}
	writeJSON(w, status, map[string]string{"error": r.URL.Query().Get("message")})
}

func (b *Backend) alwaysUnauthorized(w http.ResponseWriter, r *http.Request) {
	b.UnauthorizedCalls.Add(1)
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
