package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mengy007/evv-poc/internal/domain"
)

// sessionColumns must match the Scan order in scanSession.
const sessionColumns = `s.id, s.user_id, s.patient_id, s.location, s.started_at, s.ended_at, s.created_at`

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

func scanSession(row pgx.Row, extra ...any) (*domain.Session, error) {
	var (
		s        domain.Session
		location []byte
		endedAt  *time.Time
	)
	dest := append([]any{&s.ID, &s.UserID, &s.PatientID, &location, &s.StartedAt, &endedAt, &s.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if loc, ok := domain.ParseLocation(location); ok {
		s.Location = &loc
	}
	s.StartedAt = s.StartedAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	if endedAt != nil {
		utc := endedAt.UTC()
		s.EndedAt = &utc
	}
	return &s, nil
}

func (r *SessionRepo) GetOpen(ctx context.Context, userID, patientID int64) (*domain.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions s
		WHERE s.user_id = $1 AND s.patient_id = $2 AND s.ended_at IS NULL
		ORDER BY s.id DESC
		LIMIT 1`, userID, patientID)

	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open session: %w", err)
	}
	return s, nil
}

func (r *SessionRepo) GetByID(ctx context.Context, id int64) (*domain.Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions s WHERE s.id = $1`, id)

	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// Start serialises starts for the same pair with a transaction-scoped
// advisory lock, closes whatever is still open for the pair, then inserts.
// The partial unique index rejects anything that slips past the lock.
func (r *SessionRepo) Start(ctx context.Context, p domain.StartParams) (*domain.StartResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	lockKey := fmt.Sprintf("session:%d:%d", p.UserID, p.PatientID)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return nil, fmt.Errorf("failed to lock session pair: %w", err)
	}

	rows, err := tx.Query(ctx, `
		UPDATE sessions SET ended_at = $3
		WHERE user_id = $1 AND patient_id = $2 AND ended_at IS NULL
		RETURNING id`, p.UserID, p.PatientID, p.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to close open sessions: %w", err)
	}
	superseded, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to close open sessions: %w", err)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO sessions AS s (user_id, patient_id, location, started_at)
		VALUES ($1, $2, $3, $4)
		RETURNING `+sessionColumns, p.UserID, p.PatientID, locationParam(p.Location), p.StartedAt)

	s, err := scanSession(row)
	if isUniqueViolation(err) {
		return nil, domain.ErrSessionOpen
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrSessionOpen
		}
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &domain.StartResult{Session: s, Superseded: superseded}, nil
}

// locationParam passes the client's JSON through untouched; empty or
// literal null become SQL NULL.
func locationParam(raw json.RawMessage) any {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	return json.RawMessage(trimmed)
}

func (r *SessionRepo) End(ctx context.Context, id int64, at time.Time) (*domain.Session, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE sessions AS s SET ended_at = $2
		WHERE s.id = $1 AND s.ended_at IS NULL
		RETURNING `+sessionColumns, id, at)

	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to end session: %w", err)
	}
	return s, nil
}

func (r *SessionRepo) List(ctx context.Context, f domain.ListFilter) ([]domain.Session, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if f.UserID != nil {
		add("s.user_id = ?", *f.UserID)
	}
	if f.PatientID != nil {
		add("s.patient_id = ?", *f.PatientID)
	}
	if f.UserHash != nil {
		add("u.hash = ?", *f.UserHash)
	}
	if f.PatientHash != nil {
		add("p.hash = ?", *f.PatientHash)
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + sessionColumns + `, u.name, p.name
		FROM sessions s
		LEFT JOIN users u ON u.id = s.user_id
		LEFT JOIN patients p ON p.id = s.patient_id`)
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY s.id DESC")
	if !f.Limit.Unbounded() {
		args = append(args, f.Limit.N)
		sb.WriteString(" LIMIT $" + strconv.Itoa(len(args)))
	}

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]domain.Session, 0)
	for rows.Next() {
		var userName, patientName *string
		s, err := scanSession(rows, &userName, &patientName)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.UserName = userName
		s.PatientName = patientName
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}
