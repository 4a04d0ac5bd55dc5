// Package unlock keeps the paid-content registrations and drives the
// teaser -> confirm -> deliver/cancel lifecycle.
package unlock

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cubbyland/NyxFan/internal/mailbox"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotRegistered = errors.New("content not registered")
)

// Registration records what an unlock of a content id should deliver.
// Registrations are upserted (never deleted); delivery reads one but does
// not require it, since deliver jobs may embed their items directly.
type Registration struct {
	SubjectID string                  `json:"subject_id"`
	Creator   string                  `json:"creator,omitempty"`
	Title     string                  `json:"title,omitempty"`
	Items     []mailbox.MediaRef      `json:"items,omitempty"`
	Content   string                  `json:"content,omitempty"`
	Teaser    *mailbox.TeaserLocation `json:"teaser_location,omitempty"`
	Delivered bool                    `json:"delivered,omitempty"`
	UpdatedAt string                  `json:"updated_at,omitempty"`
}

type Index interface {
	Get(ctx context.Context, contentID string) (Registration, bool, error)
	Upsert(ctx context.Context, contentID string, reg Registration) error
	MarkDelivered(ctx context.Context, contentID string) error
	// Resolve finds the registration to deliver on confirm: exact match on
	// the teaser location first, then the registration for the same subject,
	// covering teasers that were never rendered (muted delivery).
	Resolve(ctx context.Context, contentID, subjectID string, teaser mailbox.TeaserLocation) (Registration, bool, error)
}

type fileIndex struct {
	path string
	mu   sync.Mutex
}

func NewFileIndex(path string) (Index, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &fileIndex{path: path}, nil
}

func (ix *fileIndex) Get(ctx context.Context, contentID string) (Registration, bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	entries, err := ix.loadLocked()
	if err != nil {
		return Registration{}, false, err
	}
	reg, ok := entries[contentID]
	return reg, ok, nil
}

func (ix *fileIndex) Upsert(ctx context.Context, contentID string, reg Registration) error {
	if strings.TrimSpace(contentID) == "" || strings.TrimSpace(reg.SubjectID) == "" {
		return ErrInvalidInput
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	entries, err := ix.loadLocked()
	if err != nil {
		return err
	}
	entries[contentID] = mergeRegistration(entries[contentID], reg)
	return ix.saveLocked(entries)
}

func (ix *fileIndex) MarkDelivered(ctx context.Context, contentID string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	entries, err := ix.loadLocked()
	if err != nil {
		return err
	}
	reg, ok := entries[contentID]
	if !ok {
		return ErrNotRegistered
	}
	reg.Delivered = true
	reg.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	entries[contentID] = reg
	return ix.saveLocked(entries)
}

func (ix *fileIndex) Resolve(ctx context.Context, contentID, subjectID string, teaser mailbox.TeaserLocation) (Registration, bool, error) {
	reg, ok, err := ix.Get(ctx, contentID)
	if err != nil || !ok {
		return Registration{}, false, err
	}
	return resolveEntry(reg, subjectID, teaser)
}

func (ix *fileIndex) loadLocked() (map[string]Registration, error) {
	data, err := os.ReadFile(ix.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]Registration{}, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return map[string]Registration{}, nil
	}
	entries := map[string]Registration{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (ix *fileIndex) saveLocked(entries map[string]Registration) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	dir := filepath.Dir(ix.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := ix.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, ix.path)
}

func mergeRegistration(existing, incoming Registration) Registration {
	merged := existing
	merged.SubjectID = incoming.SubjectID
	rearm := false
	if incoming.Creator != "" {
		merged.Creator = incoming.Creator
	}
	if incoming.Title != "" {
		merged.Title = incoming.Title
	}
	if incoming.Teaser != nil {
		if existing.Teaser == nil || *existing.Teaser != *incoming.Teaser {
			rearm = true
		}
		merged.Teaser = incoming.Teaser
	}
	if len(incoming.Items) > 0 {
		if !sameItems(existing.Items, incoming.Items) {
			rearm = true
		}
		merged.Items = incoming.Items
		merged.Content = ""
	} else if incoming.Content != "" {
		if incoming.Content != existing.Content {
			rearm = true
		}
		merged.Content = incoming.Content
	}
	// Only a registration that brings a new teaser or new content re-arms
	// delivery. A verbatim re-register (a pending relay re-deriving its
	// registration each poll) keeps the delivered marker, so an unlock
	// already honored cannot be charged and delivered twice.
	if rearm {
		merged.Delivered = false
	}
	merged.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return merged
}

func sameItems(a, b []mailbox.MediaRef) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func resolveEntry(reg Registration, subjectID string, teaser mailbox.TeaserLocation) (Registration, bool, error) {
	if reg.Teaser != nil && teaser.SessionID != "" && *reg.Teaser == teaser {
		return reg, true, nil
	}
	if reg.SubjectID == subjectID && subjectID != "" {
		return reg, true, nil
	}
	return Registration{}, false, nil
}

type memoryIndex struct {
	mu      sync.Mutex
	entries map[string]Registration
}

func NewMemoryIndex() Index {
	return &memoryIndex{entries: map[string]Registration{}}
}

func (ix *memoryIndex) Get(ctx context.Context, contentID string) (Registration, bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	reg, ok := ix.entries[contentID]
	return reg, ok, nil
}

func (ix *memoryIndex) Upsert(ctx context.Context, contentID string, reg Registration) error {
	if strings.TrimSpace(contentID) == "" || strings.TrimSpace(reg.SubjectID) == "" {
		return ErrInvalidInput
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries[contentID] = mergeRegistration(ix.entries[contentID], reg)
	return nil
}

func (ix *memoryIndex) MarkDelivered(ctx context.Context, contentID string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	reg, ok := ix.entries[contentID]
	if !ok {
		return ErrNotRegistered
	}
	reg.Delivered = true
	ix.entries[contentID] = reg
	return nil
}

func (ix *memoryIndex) Resolve(ctx context.Context, contentID, subjectID string, teaser mailbox.TeaserLocation) (Registration, bool, error) {
	ix.mu.Lock()
	reg, ok := ix.entries[contentID]
	ix.mu.Unlock()
	if !ok {
		return Registration{}, false, nil
	}
	return resolveEntry(reg, subjectID, teaser)
}
