// Package identity maps stable subject ids to chat session ids. Resolution
// failure is not an error: it means the subject has not introduced themselves
// yet, and callers retry by retaining the job for a later cycle.
package identity

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var ErrInvalidInput = errors.New("invalid input")

type Resolver interface {
	Resolve(subjectID string) (sessionID string, ok bool)
}

type ResolverFunc func(subjectID string) (string, bool)

func (f ResolverFunc) Resolve(subjectID string) (string, bool) {
	return f(subjectID)
}

type entry struct {
	SessionID   string `json:"session_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// Registry is the file-backed subject roster the fan process fills in at
// /start time and both processes resolve against.
type Registry struct {
	path    string
	mu      sync.Mutex
	entries map[string]entry
}

func OpenRegistry(path string) (*Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	r := &Registry{path: path, entries: map[string]entry{}}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) Register(subjectID, sessionID, displayName string) error {
	if strings.TrimSpace(subjectID) == "" || strings.TrimSpace(sessionID) == "" {
		return ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		return err
	}
	r.entries[subjectID] = entry{SessionID: sessionID, DisplayName: displayName}
	return r.saveLocked()
}

func (r *Registry) Resolve(subjectID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		return "", false
	}
	e, ok := r.entries[subjectID]
	if !ok || e.SessionID == "" {
		return "", false
	}
	return e.SessionID, true
}

func (r *Registry) DisplayName(subjectID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		return "", false
	}
	e, ok := r.entries[subjectID]
	if !ok || e.DisplayName == "" {
		return "", false
	}
	return e.DisplayName, true
}

func (r *Registry) load() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked()
}

func (r *Registry) loadLocked() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	entries := map[string]entry{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	r.entries = entries
	return nil
}

func (r *Registry) saveLocked() error {
	data, err := json.Marshal(r.entries)
	if err != nil {
		return err
	}
	dir := filepath.Dir(r.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}

// MemoryRegistry backs tests and single-process setups.
type MemoryRegistry struct {
	mu      sync.Mutex
	entries map[string]entry
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: map[string]entry{}}
}

func (r *MemoryRegistry) Register(subjectID, sessionID, displayName string) error {
	if strings.TrimSpace(subjectID) == "" || strings.TrimSpace(sessionID) == "" {
		return ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[subjectID] = entry{SessionID: sessionID, DisplayName: displayName}
	return nil
}

func (r *MemoryRegistry) Resolve(subjectID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[subjectID]
	if !ok || e.SessionID == "" {
		return "", false
	}
	return e.SessionID, true
}

func (r *MemoryRegistry) DisplayName(subjectID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[subjectID]
	if !ok || e.DisplayName == "" {
		return "", false
	}
	return e.DisplayName, true
}
