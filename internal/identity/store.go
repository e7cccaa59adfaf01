package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Backend is one key/value slot. Read reports ok=false when nothing has been
// stored yet.
type Backend interface {
	Read(ctx context.Context) (string, bool, error)
	Write(ctx context.Context, value string) error
}

// Store pairs the two independent slots used during resolution.
type Store struct {
	Cookie Backend
	Local  Backend
}

func (s Store) backend(slot Slot) Backend {
	if slot == SlotCookie {
		return s.Cookie
	}
	return s.Local
}

// NewMemoryStore returns a Store with both slots held in memory.
func NewMemoryStore() Store {
	return Store{Cookie: &MemoryBackend{}, Local: &MemoryBackend{}}
}

type MemoryBackend struct {
	mu    sync.Mutex
	value string
	set   bool
}

func (m *MemoryBackend) Read(context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, m.set, nil
}

func (m *MemoryBackend) Write(_ context.Context, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value, m.set = value, true
	return nil
}

// StateFile keeps every slot in one JSON document on disk. Writes go to a
// temporary file that is renamed over the original.
type StateFile struct {
	path string
	mu   sync.Mutex
}

func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

// Store returns a Store whose slots both live in this file.
func (f *StateFile) Store() Store {
	return Store{Cookie: f.Slot(SlotCookie), Local: f.Slot(SlotLocal)}
}

func (f *StateFile) Slot(slot Slot) *FileBackend {
	return &FileBackend{file: f, key: string(slot)}
}

func (f *StateFile) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	state := map[string]string{}
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		// Set the unreadable file aside so the next save starts clean.
		backup := f.path + ".corrupt"
		if renameErr := os.Rename(f.path, backup); renameErr != nil {
			return nil, fmt.Errorf("decode state file %s: %w", f.path, errors.Join(err, renameErr))
		}
		slog.Warn("State file is corrupt, starting empty", "path", f.path, "backup", backup, "error", err)
		return map[string]string{}, nil
	}
	return state, nil
}

func (f *StateFile) save(state map[string]string) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".evv-state-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// FileBackend is a single slot of a StateFile.
type FileBackend struct {
	file *StateFile
	key  string
}

func (b *FileBackend) Read(context.Context) (string, bool, error) {
	b.file.mu.Lock()
	defer b.file.mu.Unlock()

	state, err := b.file.load()
	if err != nil {
		return "", false, err
	}
	v, ok := state[b.key]
	return v, ok && v != "", nil
}

func (b *FileBackend) Write(_ context.Context, value string) error {
	b.file.mu.Lock()
	defer b.file.mu.Unlock()

	state, err := b.file.load()
	if err != nil {
		return err
	}
	state[b.key] = value
	return b.file.save(state)
}
