// Package prefs stores per-(subject, creator) notification settings. Records
// are created lazily on first write, read back with defaults when absent, and
// never deleted. Every write is a read-modify-write merge at record
// granularity followed by an atomic whole-store replace.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotSupported = errors.New("not supported")
)

type Mode string

const (
	ModeImmediate Mode = "immediate"
	ModeDaily     Mode = "daily"
	ModeWeekly    Mode = "weekly"
)

func ValidMode(m Mode) bool {
	switch m {
	case ModeImmediate, ModeDaily, ModeWeekly:
		return true
	}
	return false
}

type Preference struct {
	Mode  Mode `json:"mode"`
	Muted bool `json:"muted"`
}

func Default() Preference {
	return Preference{Mode: ModeImmediate, Muted: false}
}

// Update carries the fields a Set call wants to change; nil fields keep the
// stored value.
type Update struct {
	Mode  *Mode
	Muted *bool
}

type Store interface {
	Get(ctx context.Context, subject, creator string) (Preference, error)
	Set(ctx context.Context, subject, creator string, upd Update) (Preference, error)
	Close() error
}

// snapshot is the persisted shape: subject -> creator -> preference.
type snapshot map[string]map[string]Preference

func (s snapshot) get(subject, creator string) (Preference, bool) {
	if bySubject, ok := s[subject]; ok {
		if pref, ok := bySubject[creator]; ok {
			return pref, true
		}
	}
	return Default(), false
}

func (s snapshot) merge(subject, creator string, upd Update) Preference {
	pref, _ := s.get(subject, creator)
	if upd.Mode != nil {
		pref.Mode = *upd.Mode
	}
	if upd.Muted != nil {
		pref.Muted = *upd.Muted
	}
	if s[subject] == nil {
		s[subject] = map[string]Preference{}
	}
	s[subject][creator] = pref
	return pref
}

func validateKeys(subject, creator string) error {
	if strings.TrimSpace(subject) == "" || strings.TrimSpace(creator) == "" {
		return ErrInvalidInput
	}
	return nil
}

type fileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) (Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &fileStore{path: path}, nil
}

func (s *fileStore) Get(ctx context.Context, subject, creator string) (Preference, error) {
	if err := validateKeys(subject, creator); err != nil {
		return Default(), err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.loadLocked()
	if err != nil {
		return Default(), err
	}
	pref, _ := snap.get(subject, creator)
	return pref, nil
}

func (s *fileStore) Set(ctx context.Context, subject, creator string, upd Update) (Preference, error) {
	if err := validateKeys(subject, creator); err != nil {
		return Default(), err
	}
	if upd.Mode != nil && !ValidMode(*upd.Mode) {
		return Default(), ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.loadLocked()
	if err != nil {
		return Default(), err
	}
	pref := snap.merge(subject, creator, upd)
	if err := s.saveLocked(snap); err != nil {
		return Default(), err
	}
	return pref, nil
}

func (s *fileStore) Close() error {
	return nil
}

func (s *fileStore) loadLocked() (snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return snapshot{}, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return snapshot{}, nil
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *fileStore) saveLocked(snap snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

type memoryStore struct {
	mu   sync.Mutex
	snap snapshot
}

func NewMemoryStore() Store {
	return &memoryStore{snap: snapshot{}}
}

func (s *memoryStore) Get(ctx context.Context, subject, creator string) (Preference, error) {
	if err := validateKeys(subject, creator); err != nil {
		return Default(), err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pref, _ := s.snap.get(subject, creator)
	return pref, nil
}

func (s *memoryStore) Set(ctx context.Context, subject, creator string, upd Update) (Preference, error) {
	if err := validateKeys(subject, creator); err != nil {
		return Default(), err
	}
	if upd.Mode != nil && !ValidMode(*upd.Mode) {
		return Default(), ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.merge(subject, creator, upd), nil
}

func (s *memoryStore) Close() error {
	return nil
}
