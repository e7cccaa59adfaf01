package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/mengy007/evv-poc/internal/adapter/metrics"
	"github.com/mengy007/evv-poc/internal/app"
	"github.com/mengy007/evv-poc/internal/domain"
	"github.com/mengy007/evv-poc/internal/platform/config"
	"github.com/prometheus/client_golang/prometheus"
)

// --- Mock implementations ---

type mockLedger struct {
	getOpenFn func(ctx context.Context, userID, patientID int64) (*domain.Session, error)
	startFn   func(ctx context.Context, req app.StartRequest) (*domain.Session, error)
	endFn     func(ctx context.Context, id int64) (*domain.Session, error)
	getFn     func(ctx context.Context, id int64) (*domain.Session, error)
	listFn    func(ctx context.Context, f domain.ListFilter) ([]domain.Session, error)
}

func (m *mockLedger) GetOpenSession(ctx context.Context, userID, patientID int64) (*domain.Session, error) {
	if m.getOpenFn != nil {
		return m.getOpenFn(ctx, userID, patientID)
	}
	return nil, nil
}

func (m *mockLedger) StartSession(ctx context.Context, req app.StartRequest) (*domain.Session, error) {
	if m.startFn != nil {
		return m.startFn(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockLedger) EndSession(ctx context.Context, id int64) (*domain.Session, error) {
	if m.endFn != nil {
		return m.endFn(ctx, id)
	}
	return nil, nil
}

func (m *mockLedger) GetSession(ctx context.Context, id int64) (*domain.Session, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, nil
}

func (m *mockLedger) ListSessions(ctx context.Context, f domain.ListFilter) ([]domain.Session, error) {
	if m.listFn != nil {
		return m.listFn(ctx, f)
	}
	return nil, nil
}

type mockRegistry struct {
	registerFn func(ctx context.Context, deviceID, agentID string) (*domain.Device, error)
}

func (m *mockRegistry) Register(ctx context.Context, deviceID, agentID string) (*domain.Device, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, deviceID, agentID)
	}
	var agent *string
	if agentID != "" {
		agent = &agentID
	}
	return &domain.Device{ID: deviceID, AgentID: agent, Registrations: 1}, nil
}

type mockBook struct {
	byHashFn func(ctx context.Context, hash string) (*domain.Party, error)
	listFn   func(ctx context.Context, page domain.Page) ([]domain.Party, error)
	getFn    func(ctx context.Context, id int64) (*domain.Party, error)
	createFn func(ctx context.Context, hash, name *string) (*domain.Party, error)
	updateFn func(ctx context.Context, id int64, patch domain.PartyPatch) (*domain.Party, error)
	deleteFn func(ctx context.Context, id int64) error
}

func (m *mockBook) ByHash(ctx context.Context, hash string) (*domain.Party, error) {
	if m.byHashFn != nil {
		return m.byHashFn(ctx, hash)
	}
	return nil, nil
}

func (m *mockBook) List(ctx context.Context, page domain.Page) ([]domain.Party, error) {
	if m.listFn != nil {
		return m.listFn(ctx, page)
	}
	return nil, nil
}

func (m *mockBook) Get(ctx context.Context, id int64) (*domain.Party, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, errors.New("not implemented")
}

func (m *mockBook) Create(ctx context.Context, hash, name *string) (*domain.Party, error) {
	if m.createFn != nil {
		return m.createFn(ctx, hash, name)
	}
	return &domain.Party{ID: 1, Hash: hash, Name: name}, nil
}

func (m *mockBook) Update(ctx context.Context, id int64, patch domain.PartyPatch) (*domain.Party, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, patch)
	}
	return nil, errors.New("not implemented")
}

func (m *mockBook) Delete(ctx context.Context, id int64) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

// --- Test helpers ---

var testTime = time.Date(2026, 5, 4, 14, 30, 0, 0, time.UTC)

func newTestServer(t *testing.T, svc Services, opts ...func(*Server)) *Server {
	t.Helper()

	if svc.Ledger == nil {
		svc.Ledger = &mockLedger{}
	}
	if svc.Registry == nil {
		svc.Registry = &mockRegistry{}
	}
	if svc.Users == nil {
		svc.Users = &mockBook{}
	}
	if svc.Patients == nil {
		svc.Patients = &mockBook{}
	}

	reg := prometheus.NewRegistry()
	clock := clockwork.NewFakeClockAt(testTime)
	srv := &Server{
		echo:           echo.New(),
		config:         &config.Config{Port: "0", RateLimitRPS: 100, RateLimitBurst: 100},
		ledger:         svc.Ledger,
		registry:       svc.Registry,
		users:          svc.Users,
		patients:       svc.Patients,
		httpMetrics:    metrics.NewHTTPMetrics(reg),
		metricsHandler: metrics.Handler(reg),
		clock:          clock,
		startTime:      clock.Now(),
	}

	for _, opt := range opts {
		opt(srv)
	}

	srv.registerRoutes()
	return srv
}

func withHealthChecks(checks ...HealthCheck) func(*Server) {
	return func(s *Server) {
		s.healthChecks = checks
	}
}

func callHandler(handler echo.HandlerFunc, c echo.Context) error {
	return ErrorHandlingMiddleware()(handler)(c)
}

// serve runs a request through the full router and middleware chain.
func serve(srv *Server, method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func ptr[T any](v T) *T { return &v }
