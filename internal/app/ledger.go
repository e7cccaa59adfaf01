package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/mengy007/evv-poc/internal/adapter/metrics"
	"github.com/mengy007/evv-poc/internal/domain"
	apperrors "github.com/mengy007/evv-poc/internal/platform/errors"
)

// Ledger records visit sessions. Timestamps come from the injected clock in UTC.
type Ledger struct {
	sessions domain.SessionRepository
	clock    clockwork.Clock
	metrics  *metrics.LedgerMetrics
}

func NewLedger(sessions domain.SessionRepository, clock clockwork.Clock, m *metrics.LedgerMetrics) *Ledger {
	return &Ledger{sessions: sessions, clock: clock, metrics: m}
}

type StartRequest struct {
	UserID    int64
	PatientID int64
	Location  json.RawMessage
}

// GetOpenSession returns the open session for the pair, or nil when there is none.
func (l *Ledger) GetOpenSession(ctx context.Context, userID, patientID int64) (*domain.Session, error) {
	if err := validatePair(userID, patientID); err != nil {
		return nil, err
	}

	s, err := l.sessions.GetOpen(ctx, userID, patientID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("failed to load open session", err)
	}
	return s, nil
}

// StartSession opens a session starting now. Any session still open for the
// same pair is closed at the same instant.
func (l *Ledger) StartSession(ctx context.Context, req StartRequest) (*domain.Session, error) {
	if err := validatePair(req.UserID, req.PatientID); err != nil {
		return nil, err
	}
	if len(req.Location) > 0 && !json.Valid(req.Location) {
		return nil, apperrors.ValidationError("location must be valid JSON").WithField("field", "location")
	}

	res, err := l.sessions.Start(ctx, domain.StartParams{
		UserID:    req.UserID,
		PatientID: req.PatientID,
		Location:  req.Location,
		StartedAt: l.clock.Now().UTC(),
	})
	if errors.Is(err, domain.ErrSessionOpen) {
		return nil, apperrors.ConflictError("an open session already exists for this user and patient").
			WithField("userId", req.UserID).
			WithField("patientId", req.PatientID)
	}
	if err != nil {
		return nil, storageError("failed to start session", err)
	}

	l.metrics.SessionsStarted.Inc()
	if n := len(res.Superseded); n > 0 {
		l.metrics.SessionsSuperseded.Add(float64(n))
		slog.InfoContext(ctx, "Closed open sessions before start",
			"user_id", req.UserID, "patient_id", req.PatientID, "closed_ids", res.Superseded)
	}
	slog.InfoContext(ctx, "Session started", "session_id", res.Session.ID, "user_id", req.UserID, "patient_id", req.PatientID)
	return res.Session, nil
}

// EndSession closes the session if it is still open. It returns nil when
// the id is unknown or the session was already closed; endedAt is never
// overwritten.
func (l *Ledger) EndSession(ctx context.Context, id int64) (*domain.Session, error) {
	if err := positiveID("id", id); err != nil {
		return nil, err
	}

	s, err := l.sessions.End(ctx, id, l.clock.Now().UTC())
	if errors.Is(err, domain.ErrSessionNotFound) {
		l.metrics.EndNoops.Inc()
		return nil, nil
	}
	if err != nil {
		return nil, storageError("failed to end session", err)
	}

	l.metrics.SessionsEnded.Inc()
	slog.InfoContext(ctx, "Session ended", "session_id", s.ID, "duration", s.EndedAt.Sub(s.StartedAt).String())
	return s, nil
}

// GetSession returns the session with the given id, or nil.
func (l *Ledger) GetSession(ctx context.Context, id int64) (*domain.Session, error) {
	if err := positiveID("id", id); err != nil {
		return nil, err
	}

	s, err := l.sessions.GetByID(ctx, id)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("failed to load session", err)
	}
	return s, nil
}

// ListSessions returns matching sessions, newest first.
func (l *Ledger) ListSessions(ctx context.Context, f domain.ListFilter) ([]domain.Session, error) {
	if f.UserID != nil {
		if err := positiveID("userId", *f.UserID); err != nil {
			return nil, err
		}
	}
	if f.PatientID != nil {
		if err := positiveID("patientId", *f.PatientID); err != nil {
			return nil, err
		}
	}

	sessions, err := l.sessions.List(ctx, f)
	if err != nil {
		return nil, storageError("failed to list sessions", err)
	}
	return sessions, nil
}

func validatePair(userID, patientID int64) error {
	if err := positiveID("userId", userID); err != nil {
		return err
	}
	return positiveID("patientId", patientID)
}
