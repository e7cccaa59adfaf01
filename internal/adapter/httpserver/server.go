package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/mengy007/evv-poc/internal/adapter/metrics"
	"github.com/mengy007/evv-poc/internal/app"
	"github.com/mengy007/evv-poc/internal/domain"
	"github.com/mengy007/evv-poc/internal/platform/config"
)

type ledgerService interface {
	GetOpenSession(ctx context.Context, userID, patientID int64) (*domain.Session, error)
	StartSession(ctx context.Context, req app.StartRequest) (*domain.Session, error)
	EndSession(ctx context.Context, id int64) (*domain.Session, error)
	GetSession(ctx context.Context, id int64) (*domain.Session, error)
	ListSessions(ctx context.Context, f domain.ListFilter) ([]domain.Session, error)
}

type registryService interface {
	Register(ctx context.Context, deviceID, agentID string) (*domain.Device, error)
}

type partyBook interface {
	ByHash(ctx context.Context, hash string) (*domain.Party, error)
	List(ctx context.Context, page domain.Page) ([]domain.Party, error)
	Get(ctx context.Context, id int64) (*domain.Party, error)
	Create(ctx context.Context, hash, name *string) (*domain.Party, error)
	Update(ctx context.Context, id int64, patch domain.PartyPatch) (*domain.Party, error)
	Delete(ctx context.Context, id int64) error
}

// Services bundles the use cases the handlers call into.
type Services struct {
	Ledger   ledgerService
	Registry registryService
	Users    partyBook
	Patients partyBook
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	ledger   ledgerService
	registry registryService
	users    partyBook
	patients partyBook

	httpMetrics    *metrics.HTTPMetrics
	metricsHandler http.Handler
	healthChecks   []HealthCheck
	clock          clockwork.Clock
	startTime      time.Time
}

func NewServer(cfg *config.Config, svc Services, httpMetrics *metrics.HTTPMetrics, metricsHandler http.Handler, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	clock := clockwork.NewRealClock()
	srv := &Server{
		echo:           e,
		config:         cfg,
		ledger:         svc.Ledger,
		registry:       svc.Registry,
		users:          svc.Users,
		patients:       svc.Patients,
		httpMetrics:    httpMetrics,
		metricsHandler: metricsHandler,
		healthChecks:   healthChecks,
		clock:          clock,
		startTime:      clock.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP lets tests drive the full middleware chain.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
