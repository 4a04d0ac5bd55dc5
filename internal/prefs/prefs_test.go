package prefs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func modePtr(m Mode) *Mode { return &m }
func boolPtr(b bool) *bool { return &b }
func ctx() context.Context { return context.Background() }

func TestGetReturnsDefaultsWhenAbsent(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "prefs.json"))
	if err != nil {
		t.Fatalf("new file store failed: %v", err)
	}
	pref, err := store.Get(ctx(), "42", "nova")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if pref.Mode != ModeImmediate || pref.Muted {
		t.Fatalf("expected defaults, got %+v", pref)
	}
}

func TestSetMergesAtRecordGranularity(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "prefs.json"))
	if err != nil {
		t.Fatalf("new file store failed: %v", err)
	}
	if _, err := store.Set(ctx(), "42", "nova", Update{Mode: modePtr(ModeDaily)}); err != nil {
		t.Fatalf("set mode failed: %v", err)
	}
	if _, err := store.Set(ctx(), "42", "nova", Update{Muted: boolPtr(true)}); err != nil {
		t.Fatalf("set muted failed: %v", err)
	}
	pref, err := store.Get(ctx(), "42", "nova")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if pref.Mode != ModeDaily || !pref.Muted {
		t.Fatalf("expected {daily true}, got %+v", pref)
	}

	// Other records stay untouched.
	other, err := store.Get(ctx(), "42", "zephyr")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if other != Default() {
		t.Fatalf("unrelated record changed: %+v", other)
	}
}

func TestMuteToggleIsIdempotentRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	before, err := store.Get(ctx(), "42", "nova")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if _, err := store.Set(ctx(), "42", "nova", Update{Muted: boolPtr(true)}); err != nil {
		t.Fatalf("mute failed: %v", err)
	}
	if _, err := store.Set(ctx(), "42", "nova", Update{Muted: boolPtr(false)}); err != nil {
		t.Fatalf("unmute failed: %v", err)
	}
	after, err := store.Get(ctx(), "42", "nova")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if before != after {
		t.Fatalf("toggle twice changed state: before %+v after %+v", before, after)
	}
}

func TestSetPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new file store failed: %v", err)
	}
	if _, err := store.Set(ctx(), "7", "nova", Update{Mode: modePtr(ModeWeekly), Muted: boolPtr(true)}); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	pref, err := reopened.Get(ctx(), "7", "nova")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if pref.Mode != ModeWeekly || !pref.Muted {
		t.Fatalf("expected {weekly true}, got %+v", pref)
	}
}

func TestSetRejectsUnknownMode(t *testing.T) {
	store := NewMemoryStore()
	bad := Mode("hourly")
	if _, err := store.Set(ctx(), "42", "nova", Update{Mode: &bad}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestBuildStoreFromDSN(t *testing.T) {
	if _, err := BuildStoreFromDSN("memory://"); err != nil {
		t.Fatalf("memory DSN failed: %v", err)
	}
	if _, err := BuildStoreFromDSN(filepath.Join(t.TempDir(), "prefs.json")); err != nil {
		t.Fatalf("bare path DSN failed: %v", err)
	}
	if _, err := BuildStoreFromDSN("postgres://localhost/nyx"); err != nil {
		t.Fatalf("postgres DSN failed: %v", err)
	}
	if _, err := BuildStoreFromDSN("redis://localhost"); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
}
