package domain

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Session is one visit between a user and a patient. EndedAt is nil while
// the session is open.
type Session struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"userId"`
	PatientID int64      `json:"patientId"`
	Location  *Location  `json:"location"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt"`
	CreatedAt time.Time  `json:"createdAt"`

	// Populated by list queries only.
	UserName    *string `json:"userName,omitempty"`
	PatientName *string `json:"patientName,omitempty"`
}

func (s *Session) Open() bool {
	return s.EndedAt == nil
}

// StartParams describes a new session row. Location is stored verbatim.
type StartParams struct {
	UserID    int64
	PatientID int64
	Location  json.RawMessage
	StartedAt time.Time
}

// StartResult carries the new session and the ids of any open sessions for
// the same pair that were closed to make room for it.
type StartResult struct {
	Session    *Session
	Superseded []int64
}

// ListFilter narrows ListSessions. All set fields must match.
type ListFilter struct {
	UserID      *int64
	PatientID   *int64
	UserHash    *string
	PatientHash *string
	Limit       Limit
}

const (
	DefaultListLimit = 10
	MaxListLimit     = 1000
	LimitAll         = "all"
)

// Limit is a row cap. The zero value means "no cap".
type Limit struct {
	N int
}

func (l Limit) Unbounded() bool {
	return l.N <= 0
}

// ParseLimit applies the list limit policy: absent means 10, "all" means no
// cap, non-numeric or non-positive means 10, anything else is floored and
// clamped to [1, 1000].
func ParseLimit(raw string) Limit {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Limit{N: DefaultListLimit}
	}
	if raw == LimitAll {
		return Limit{}
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return Limit{N: DefaultListLimit}
	}

	n := math.Floor(f)
	switch {
	case n < 1:
		n = 1
	case n > MaxListLimit:
		n = MaxListLimit
	}
	return Limit{N: int(n)}
}

// String renders the limit the way ParseLimit accepts it.
func (l Limit) String() string {
	if l.Unbounded() {
		return LimitAll
	}
	return strconv.Itoa(l.N)
}

type SessionRepository interface {
	// GetOpen returns the highest-id open session for the pair.
	GetOpen(ctx context.Context, userID, patientID int64) (*Session, error)
	GetByID(ctx context.Context, id int64) (*Session, error)
	// Start closes any open session for the pair and inserts a new one,
	// atomically.
	Start(ctx context.Context, p StartParams) (*StartResult, error)
	// End closes the session only if it is still open. A miss (unknown id or
	// already closed) returns ErrSessionNotFound.
	End(ctx context.Context, id int64, at time.Time) (*Session, error)
	List(ctx context.Context, f ListFilter) ([]Session, error)
}
