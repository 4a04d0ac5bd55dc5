package proxy

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cubbyland/NyxFan/internal/mailbox"
)

// Fan is one subject known to the proxy side.
type Fan struct {
	SubjectID   string    `json:"subject_id"`
	DisplayName string    `json:"display_name,omitempty"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Roster records which fans have introduced themselves, so digests and
// operator tooling know who to address. File-backed with the same atomic
// replace the mailbox uses; the fan process never writes it.
type Roster struct {
	path string
	mu   sync.Mutex
	fans map[string]Fan
}

func OpenRoster(path string) (*Roster, error) {
	if strings.TrimSpace(path) == "" {
		return nil, mailbox.ErrInvalidInput
	}
	r := &Roster{path: path, fans: map[string]Fan{}}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		return nil, err
	}
	return r, nil
}

// Record upserts a fan. The original join time survives re-joins.
func (r *Roster) Record(subjectID, displayName string) error {
	if strings.TrimSpace(subjectID) == "" {
		return mailbox.ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		return err
	}
	fan, ok := r.fans[subjectID]
	if !ok {
		fan = Fan{SubjectID: subjectID, JoinedAt: time.Now().UTC()}
	}
	if displayName != "" {
		fan.DisplayName = displayName
	}
	r.fans[subjectID] = fan
	return r.saveLocked()
}

// SubjectIDs returns every recorded fan, sorted for stable iteration.
func (r *Roster) SubjectIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		return nil
	}
	ids := make([]string, 0, len(r.fans))
	for id := range r.fans {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Roster) Lookup(subjectID string) (Fan, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		return Fan{}, false
	}
	fan, ok := r.fans[subjectID]
	return fan, ok
}

func (r *Roster) loadLocked() error {
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
	fans := map[string]Fan{}
	if err := json.Unmarshal(data, &fans); err != nil {
		return err
	}
	r.fans = fans
	return nil
}

func (r *Roster) saveLocked() error {
	data, err := json.Marshal(r.fans)
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
