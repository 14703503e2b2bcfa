package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"weather_station/internal/models"
	"weather_station/internal/service"
)

// ---- Service Mocks ----

type mockAuth struct {
	registerID  int
	registerErr error
	issueToken  string
	issueErr    error
	verifyID    int
	verifyErr   error

	lastRegisterUsername string
	lastRegisterPassword string
	lastIssueUsername    string
	lastIssuePassword    string
	lastVerifyToken      string
}

func (m *mockAuth) Register(username, password string) (int, error) {
	m.lastRegisterUsername = username
	m.lastRegisterPassword = password
	return m.registerID, m.registerErr
}
func (m *mockAuth) IssueToken(username, password string) (string, error) {
	m.lastIssueUsername = username
	m.lastIssuePassword = password
	return m.issueToken, m.issueErr
}
func (m *mockAuth) VerifyToken(token string) (int, error) {
	m.lastVerifyToken = token
	return m.verifyID, m.verifyErr
}

type mockWeather struct {
	mu sync.Mutex

	requestErr error
	refreshErr error
	snapshot   models.EngineSnapshot

	lastCity     string
	requestCalls int
	refreshCalls int
	toggleCalls  int
	clearCalls   int

	subs []func(models.EngineSnapshot)
}

func (m *mockWeather) RequestWeather(city string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCalls++
	m.lastCity = city
	return m.requestErr
}
func (m *mockWeather) Refresh() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshCalls++
	return m.refreshErr
}
func (m *mockWeather) ToggleUnit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toggleCalls++
}
func (m *mockWeather) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearCalls++
}
func (m *mockWeather) Snapshot() models.EngineSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}
func (m *mockWeather) Subscribe(fn func(models.EngineSnapshot)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
	return func() {}
}

// emit fans a snapshot out to all subscribers, like a committed transition.
func (m *mockWeather) emit(snap models.EngineSnapshot) {
	m.mu.Lock()
	subs := append([]func(models.EngineSnapshot){}, m.subs...)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

type mockEventLog struct {
	resp       []models.FetchEvent
	err        error
	lastFilter service.LogFilter
}

func (m *mockEventLog) List(ctx context.Context, f service.LogFilter) ([]models.FetchEvent, error) {
	m.lastFilter = f
	return m.resp, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
