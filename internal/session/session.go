// Package session holds the fan process's per-subject UI state: which
// dashboard messages are currently on screen, the display name last seen for
// a subject, snapshots of teaser captions taken before an unlock prompt
// replaces them, and the last digest message per cadence. All of it is
// process-local and reconstructible; the shared stores never see it.
package session

import (
	"sync"

	"github.com/cubbyland/NyxFan/internal/chat"
)

// CaptionSnapshot is the display content of a message as it looked before an
// edit, kept so Back can restore it exactly.
type CaptionSnapshot struct {
	Text     string
	Keyboard chat.Keyboard
}

type Store struct {
	mu        sync.Mutex
	dashboard map[string][]chat.MessageRef
	names     map[string]string
	captions  map[chat.MessageRef]CaptionSnapshot
	digests   map[string]map[string]chat.MessageRef
}

func NewStore() *Store {
	return &Store{
		dashboard: map[string][]chat.MessageRef{},
		names:     map[string]string{},
		captions:  map[chat.MessageRef]CaptionSnapshot{},
		digests:   map[string]map[string]chat.MessageRef{},
	}
}

func (s *Store) DashboardRefs(subjectID string) []chat.MessageRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.MessageRef(nil), s.dashboard[subjectID]...)
}

func (s *Store) SetDashboardRefs(subjectID string, refs []chat.MessageRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dashboard[subjectID] = append([]chat.MessageRef(nil), refs...)
}

func (s *Store) DisplayName(subjectID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.names[subjectID]
	return name, ok
}

func (s *Store) SetDisplayName(subjectID, name string) {
	if name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[subjectID] = name
}

func (s *Store) SnapshotCaption(ref chat.MessageRef, snap CaptionSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captions[ref] = snap
}

func (s *Store) Caption(ref chat.MessageRef) (CaptionSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.captions[ref]
	return snap, ok
}

func (s *Store) ClearCaption(ref chat.MessageRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.captions, ref)
}

func (s *Store) LastDigest(subjectID, cadence string) (chat.MessageRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byCadence, ok := s.digests[subjectID]
	if !ok {
		return chat.MessageRef{}, false
	}
	ref, ok := byCadence[cadence]
	return ref, ok
}

func (s *Store) SetLastDigest(subjectID, cadence string, ref chat.MessageRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.digests[subjectID] == nil {
		s.digests[subjectID] = map[string]chat.MessageRef{}
	}
	s.digests[subjectID][cadence] = ref
}
