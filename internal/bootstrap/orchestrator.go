package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mengy007/evv-poc/internal/apiclient"
	"github.com/mengy007/evv-poc/internal/domain"
	"github.com/mengy007/evv-poc/internal/identity"
)

const (
	StatusDetecting = "Detecting…"
	StatusReady     = "Ready"
	StatusError     = "Error"
)

var (
	ErrBusy        = errors.New("another start or end is in progress")
	ErrNotReady    = errors.New("user and patient must both be resolved")
	ErrSessionOpen = errors.New("a session is already open")
	ErrNoSession   = errors.New("no open session")
	// ErrSuperseded is returned when a newer activation replaced the state
	// this call was working on. Its results were discarded.
	ErrSuperseded = errors.New("superseded by a newer activation")
)

// API is the subset of the server API the orchestrator needs.
type API interface {
	Register(ctx context.Context, deviceID, agentID string) (*apiclient.RegisterResult, error)
	PatientByHash(ctx context.Context, hash string) (*domain.Patient, error)
	UserByHash(ctx context.Context, hash string) (*domain.User, error)
	OpenSession(ctx context.Context, userID, patientID int64) (*domain.Session, error)
	StartSession(ctx context.Context, userID, patientID int64, location *domain.Location) (*domain.Session, error)
	EndSession(ctx context.Context, id int64) (*domain.Session, error)
	ListSessions(ctx context.Context, q apiclient.SessionQuery) ([]domain.Session, error)
}

type IdentityResolver interface {
	Resolve(ctx context.Context) identity.DeviceIdentity
}

// State is what the orchestrator exposes to a display.
type State struct {
	Status   string
	Error    string
	Identity identity.DeviceIdentity
	AgentID  string
	Patient  *domain.Patient
	User     *domain.User
	Session  *domain.Session
	Sessions []domain.Session
	Elapsed  string
	Busy     bool
}

type Orchestrator struct {
	api      API
	resolver IdentityResolver
	locator  Locator
	clock    clockwork.Clock
	onChange func(State)

	mu         sync.Mutex
	state      State
	generation uint64
	activated  bool
	busy       bool // survives re-activation, only finish clears it
	stopTicker func()
}

type Option func(*Orchestrator)

func WithClock(c clockwork.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithOnChange registers a callback invoked with a snapshot after every
// state change. It runs on the goroutine that made the change.
func WithOnChange(fn func(State)) Option {
	return func(o *Orchestrator) { o.onChange = fn }
}

func New(api API, resolver IdentityResolver, locator Locator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		api:      api,
		resolver: resolver,
		locator:  locator,
		clock:    clockwork.NewRealClock(),
		state:    State{Status: StatusDetecting},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() State {
	s := o.state
	s.Busy = o.busy
	s.Sessions = append([]domain.Session(nil), o.state.Sessions...)
	return s
}

// update applies fn if gen is still current and notifies the listener.
func (o *Orchestrator) update(gen uint64, fn func(*State)) bool {
	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		return false
	}
	fn(&o.state)
	snap := o.snapshotLocked()
	o.mu.Unlock()

	if o.onChange != nil {
		o.onChange(snap)
	}
	return true
}

// SetAgent re-runs the activation when the agent id differs from the one
// used last time.
func (o *Orchestrator) SetAgent(ctx context.Context, agentID string) error {
	o.mu.Lock()
	same := o.activated && o.state.AgentID == agentID
	o.mu.Unlock()
	if same {
		return nil
	}
	return o.Activate(ctx, agentID)
}

// Activate runs the bootstrap sequence. The first failing step aborts the
// rest and its message is exposed verbatim with status Error.
func (o *Orchestrator) Activate(ctx context.Context, agentID string) error {
	o.mu.Lock()
	o.generation++
	gen := o.generation
	o.activated = true
	o.stopTickerLocked()
	o.state = State{Status: StatusDetecting, AgentID: agentID}
	o.mu.Unlock()

	err := o.activate(ctx, gen, agentID)
	if errors.Is(err, ErrSuperseded) {
		slog.DebugContext(ctx, "Activation superseded", "generation", gen)
		return err
	}
	if err != nil {
		if !o.update(gen, func(s *State) { s.Status, s.Error = StatusError, err.Error() }) {
			return ErrSuperseded
		}
		slog.WarnContext(ctx, "Activation failed", "error", err)
		return err
	}
	if !o.update(gen, func(s *State) { s.Status = StatusReady }) {
		return ErrSuperseded
	}
	return nil
}

func (o *Orchestrator) activate(ctx context.Context, gen uint64, agentID string) error {
	id := o.resolver.Resolve(ctx)
	if !o.update(gen, func(s *State) { s.Identity = id }) {
		return ErrSuperseded
	}

	if _, err := o.api.Register(ctx, id.ID, agentID); err != nil {
		return err
	}

	patient, err := o.api.PatientByHash(ctx, id.ID)
	if err != nil {
		return err
	}
	if !o.update(gen, func(s *State) { s.Patient = patient }) {
		return ErrSuperseded
	}

	var user *domain.User
	if agentID != "" {
		user, err = o.api.UserByHash(ctx, agentID)
		if err != nil {
			return err
		}
		if !o.update(gen, func(s *State) { s.User = user }) {
			return ErrSuperseded
		}
	}

	if user != nil && patient != nil {
		open, err := o.api.OpenSession(ctx, user.ID, patient.ID)
		if err != nil {
			return err
		}
		if !o.setSession(gen, open) {
			return ErrSuperseded
		}
	}

	return o.refreshSessions(ctx, gen, user, patient)
}

func (o *Orchestrator) refreshSessions(ctx context.Context, gen uint64, user *domain.User, patient *domain.Patient) error {
	q := apiclient.SessionQuery{Limit: domain.LimitAll}
	if user != nil {
		q.UserID = &user.ID
	}
	if patient != nil {
		q.PatientID = &patient.ID
	}

	sessions, err := o.api.ListSessions(ctx, q)
	if err != nil {
		return err
	}
	if !o.update(gen, func(s *State) { s.Sessions = sessions }) {
		return ErrSuperseded
	}
	return nil
}

// Start acquires a position fix and opens a session for the resolved pair.
func (o *Orchestrator) Start(ctx context.Context) error {
	gen, user, patient, _, err := o.begin(func(s *State) error {
		if s.User == nil || s.Patient == nil {
			return ErrNotReady
		}
		if s.Session != nil {
			return ErrSessionOpen
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer o.finish()

	locCtx, cancel := context.WithTimeout(ctx, locateTimeout)
	loc, err := o.locator.Locate(locCtx, LocateOptions{HighAccuracy: true, Timeout: locateTimeout})
	cancel()
	if err != nil {
		return o.fail(gen, fmt.Errorf("failed to get location: %w", err))
	}

	session, err := o.api.StartSession(ctx, user.ID, patient.ID, &loc)
	if err != nil {
		return o.fail(gen, err)
	}
	if !o.setSession(gen, session) {
		return ErrSuperseded
	}
	slog.InfoContext(ctx, "Session started", "session_id", session.ID)

	if err := o.refreshSessions(ctx, gen, user, patient); err != nil {
		return o.fail(gen, err)
	}
	return nil
}

// End closes the displayed open session.
func (o *Orchestrator) End(ctx context.Context) error {
	gen, user, patient, session, err := o.begin(func(s *State) error {
		if s.Session == nil {
			return ErrNoSession
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer o.finish()

	if _, err := o.api.EndSession(ctx, session.ID); err != nil {
		return o.fail(gen, err)
	}
	if !o.setSession(gen, nil) {
		return ErrSuperseded
	}
	slog.InfoContext(ctx, "Session ended", "session_id", session.ID)

	if err := o.refreshSessions(ctx, gen, user, patient); err != nil {
		return o.fail(gen, err)
	}
	return nil
}

// begin claims the busy flag after check passes and returns the inputs the
// transition works with.
func (o *Orchestrator) begin(check func(*State) error) (uint64, *domain.User, *domain.Patient, *domain.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.busy {
		return 0, nil, nil, nil, ErrBusy
	}
	if err := check(&o.state); err != nil {
		return 0, nil, nil, nil, err
	}
	o.busy = true
	o.state.Error = ""
	return o.generation, o.state.User, o.state.Patient, o.state.Session, nil
}

func (o *Orchestrator) finish() {
	o.mu.Lock()
	o.busy = false
	snap := o.snapshotLocked()
	o.mu.Unlock()

	if o.onChange != nil {
		o.onChange(snap)
	}
}

// fail records err as the displayed error. Transitions keep the status.
func (o *Orchestrator) fail(gen uint64, err error) error {
	if !o.update(gen, func(s *State) { s.Error = err.Error() }) {
		return ErrSuperseded
	}
	return err
}

// setSession replaces the open session and starts or stops the elapsed
// ticker to match.
func (o *Orchestrator) setSession(gen uint64, session *domain.Session) bool {
	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		return false
	}
	o.stopTickerLocked()
	o.state.Session = session
	o.state.Elapsed = ""
	if session != nil && session.Open() {
		o.state.Elapsed = FormatElapsed(o.clock.Since(session.StartedAt))
		o.startTickerLocked(gen, session.StartedAt)
	}
	snap := o.snapshotLocked()
	o.mu.Unlock()

	if o.onChange != nil {
		o.onChange(snap)
	}
	return true
}

func (o *Orchestrator) startTickerLocked(gen uint64, startedAt time.Time) {
	ticker := o.clock.NewTicker(time.Second)
	done := make(chan struct{})
	var once sync.Once
	o.stopTicker = func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.Chan():
				o.update(gen, func(s *State) {
					if s.Session != nil && s.Session.Open() && s.Session.StartedAt.Equal(startedAt) {
						s.Elapsed = FormatElapsed(o.clock.Since(startedAt))
					}
				})
			}
		}
	}()
}

func (o *Orchestrator) stopTickerLocked() {
	if o.stopTicker != nil {
		o.stopTicker()
		o.stopTicker = nil
	}
}

// Close stops the elapsed ticker.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopTickerLocked()
}

// FormatElapsed renders d as HH:MM:SS. Hours are not wrapped.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}
