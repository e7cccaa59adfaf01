package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mengy007/evv-poc/internal/domain"
)

type mockSessionRepo struct {
	getOpenFn func(ctx context.Context, userID, patientID int64) (*domain.Session, error)
	getByIDFn func(ctx context.Context, id int64) (*domain.Session, error)
	startFn   func(ctx context.Context, p domain.StartParams) (*domain.StartResult, error)
	endFn     func(ctx context.Context, id int64, at time.Time) (*domain.Session, error)
	listFn    func(ctx context.Context, f domain.ListFilter) ([]domain.Session, error)
}

func (m *mockSessionRepo) GetOpen(ctx context.Context, userID, patientID int64) (*domain.Session, error) {
	if m.getOpenFn != nil {
		return m.getOpenFn(ctx, userID, patientID)
	}
	return nil, domain.ErrSessionNotFound
}

func (m *mockSessionRepo) GetByID(ctx context.Context, id int64) (*domain.Session, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, domain.ErrSessionNotFound
}

func (m *mockSessionRepo) Start(ctx context.Context, p domain.StartParams) (*domain.StartResult, error) {
	if m.startFn != nil {
		return m.startFn(ctx, p)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockSessionRepo) End(ctx context.Context, id int64, at time.Time) (*domain.Session, error) {
	if m.endFn != nil {
		return m.endFn(ctx, id, at)
	}
	return nil, domain.ErrSessionNotFound
}

func (m *mockSessionRepo) List(ctx context.Context, f domain.ListFilter) ([]domain.Session, error) {
	if m.listFn != nil {
		return m.listFn(ctx, f)
	}
	return []domain.Session{}, nil
}

type mockDeviceRepo struct {
	upsertFn func(ctx context.Context, deviceID string, agentID *string, at time.Time) (*domain.Device, error)
}

func (m *mockDeviceRepo) Upsert(ctx context.Context, deviceID string, agentID *string, at time.Time) (*domain.Device, error) {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, deviceID, agentID, at)
	}
	return &domain.Device{ID: deviceID, AgentID: agentID, Registrations: 1, FirstSeenAt: at, LastSeenAt: at}, nil
}

func (m *mockDeviceRepo) Get(context.Context, string) (*domain.Device, error) {
	return nil, domain.ErrDeviceNotFound
}

// memPartyRepo is an in-memory PartyRepository.
type memPartyRepo struct {
	mu       sync.Mutex
	rows     map[int64]domain.Party
	nextID   int64
	notFound error
	hashHits int
	err      error
}

func newMemPartyRepo(notFound error) *memPartyRepo {
	return &memPartyRepo{rows: make(map[int64]domain.Party), notFound: notFound}
}

func (m *memPartyRepo) GetByID(_ context.Context, id int64) (*domain.Party, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.rows[id]
	if !ok {
		return nil, m.notFound
	}
	return &p, nil
}

func (m *memPartyRepo) GetByHash(_ context.Context, hash string) (*domain.Party, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashHits++
	if m.err != nil {
		return nil, m.err
	}
	for _, p := range m.rows {
		if p.Hash != nil && *p.Hash == hash {
			return &p, nil
		}
	}
	return nil, m.notFound
}

func (m *memPartyRepo) List(_ context.Context, page domain.Page) ([]domain.Party, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Party, 0)
	for id := m.nextID; id > 0 && len(out) < page.Limit; id-- {
		if p, ok := m.rows[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPartyRepo) Create(_ context.Context, hash, name *string) (*domain.Party, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.rows {
		if hash != nil && p.Hash != nil && *p.Hash == *hash {
			return nil, domain.ErrHashTaken
		}
	}
	m.nextID++
	p := domain.Party{ID: m.nextID, Hash: hash, Name: name}
	m.rows[p.ID] = p
	return &p, nil
}

func (m *memPartyRepo) Update(_ context.Context, id int64, patch domain.PartyPatch) (*domain.Party, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return nil, m.notFound
	}
	if patch.Hash.Set {
		p.Hash = patch.Hash.Value
	}
	if patch.Name.Set {
		p.Name = patch.Name.Value
	}
	m.rows[id] = p
	return &p, nil
}

func (m *memPartyRepo) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return m.notFound
	}
	delete(m.rows, id)
	return nil
}

// recordingCache is a PartyCache that remembers entries and invalidations.
type recordingCache struct {
	mu          sync.Mutex
	entries     map[string]*domain.Party
	invalidated []string
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: make(map[string]*domain.Party)}
}

func (c *recordingCache) Lookup(ctx context.Context, kind, hash string, load func(ctx context.Context) (*domain.Party, error)) (*domain.Party, error) {
	c.mu.Lock()
	if p, ok := c.entries[kind+":"+hash]; ok {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	p, err := load(ctx)
	if err != nil || p == nil {
		return p, err
	}
	c.mu.Lock()
	c.entries[kind+":"+hash] = p
	c.mu.Unlock()
	return p, nil
}

func (c *recordingCache) Invalidate(_ context.Context, kind string, hashes ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range hashes {
		delete(c.entries, kind+":"+h)
		c.invalidated = append(c.invalidated, kind+":"+h)
	}
	return nil
}

func strPtr(s string) *string { return &s }
