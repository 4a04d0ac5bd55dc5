package fanbot

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cubbyland/NyxFan/internal/chat"
	"github.com/cubbyland/NyxFan/internal/dispatch"
	"github.com/cubbyland/NyxFan/internal/identity"
	"github.com/cubbyland/NyxFan/internal/mailbox"
	"github.com/cubbyland/NyxFan/internal/prefs"
	"github.com/cubbyland/NyxFan/internal/session"
	"github.com/cubbyland/NyxFan/internal/unlock"
)

func newBot(f *fixture) *Bot {
	machine := unlock.NewMachine(f.transport, f.sessions, f.index, func(ctx context.Context, job mailbox.Job) error {
		return f.dispatcher.Locked(func() error {
			return f.store.Append(ctx, job)
		})
	})
	b := NewBot(f.store, f.transport, f.prefs, f.registry, f.sessions, machine, f.handlers, f.dispatcher, "https://chat.example/nyxfan")
	return b
}

func startUpdate(subject, session, name string, args ...string) chat.Update {
	return chat.Update{
		Type:        chat.UpdateCommand,
		SubjectID:   subject,
		SessionID:   session,
		DisplayName: name,
		Command:     "/start",
		Args:        args,
	}
}

func callbackUpdate(subject, session, data string) chat.Update {
	return chat.Update{
		Type:       chat.UpdateCallback,
		SubjectID:  subject,
		SessionID:  session,
		CallbackID: "cb-1",
		Data:       data,
		Message:    chat.MessageRef{SessionID: session, MessageID: "menu-1"},
	}
}

func TestStartRegistersAndSendsDashboard(t *testing.T) {
	f := newFixture(t)
	b := newBot(f)
	b.logf = t.Logf
	ctx := context.Background()

	if err := b.HandleUpdate(ctx, startUpdate("7", "chat-7", "bea")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if session, ok := f.registry.Resolve("7"); !ok || session != "chat-7" {
		t.Fatalf("identity not registered: %q %v", session, ok)
	}
	jobs, _ := f.store.Read(ctx)
	if len(jobs) != 1 || jobs[0].Kind != mailbox.KindJoined || jobs[0].DisplayName != "bea" {
		t.Fatalf("expected a joined announcement, got %v", kinds(jobs))
	}
	if len(f.transport.messages) != 1 || !strings.Contains(f.transport.messages[0].Text, "bea’s Dashboard") {
		t.Fatalf("expected a dashboard message: %+v", f.transport.messages)
	}
	if refs := f.sessions.DashboardRefs("7"); len(refs) != 1 {
		t.Fatalf("dashboard ref not tracked: %+v", refs)
	}
}

func TestStartWithoutDisplayNameProducesWellFormedJoin(t *testing.T) {
	store, err := mailbox.NewFileStore(filepath.Join(t.TempDir(), "mailbox.json"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	transport := &fakeTransport{}
	prefStore := prefs.NewMemoryStore()
	registry := identity.NewMemoryRegistry()
	sessions := session.NewStore()
	index := unlock.NewMemoryIndex()
	handlers := NewHandlers(store, transport, prefStore, registry, sessions, index, "https://chat.example/nyxfan")
	handlers.logf = t.Logf
	dispatcher := dispatch.New(store, dispatch.WithLogger(t.Logf))
	handlers.RegisterAll(dispatcher)
	machine := unlock.NewMachine(transport, sessions, index, func(ctx context.Context, job mailbox.Job) error {
		return dispatcher.Locked(func() error { return store.Append(ctx, job) })
	})
	b := NewBot(store, transport, prefStore, registry, sessions, machine, handlers, dispatcher, "https://chat.example/nyxfan")
	b.logf = t.Logf

	ctx := context.Background()
	if err := b.HandleUpdate(ctx, startUpdate("7", "chat-7", "")); err != nil {
		t.Fatalf("start: %v", err)
	}

	// The record must survive the store round trip well-formed, or the
	// proxy's dispatcher would carry it forever without handling it.
	jobs, err := store.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Kind != mailbox.KindJoined {
		t.Fatalf("expected one joined record, got %v", kinds(jobs))
	}
	if jobs[0].Malformed() {
		t.Fatalf("joined record without a display name fallback is malformed")
	}
	if jobs[0].DisplayName != "7" {
		t.Fatalf("display name should fall back to the subject id, got %q", jobs[0].DisplayName)
	}
	if name, ok := registry.DisplayName("7"); !ok || name != "7" {
		t.Fatalf("registry should record the fallback name, got %q %v", name, ok)
	}
}

func TestStartReplacesPreviousDashboard(t *testing.T) {
	f := newFixture(t)
	b := newBot(f)
	b.logf = t.Logf
	ctx := context.Background()

	if err := b.HandleUpdate(ctx, startUpdate("42", "chat-42", "ada")); err != nil {
		t.Fatalf("first start: %v", err)
	}
	first := f.sessions.DashboardRefs("42")[0]
	if err := b.HandleUpdate(ctx, startUpdate("42", "chat-42", "ada")); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if len(f.transport.deletes) != 1 || f.transport.deletes[0] != first {
		t.Fatalf("old dashboard should be deleted: %+v", f.transport.deletes)
	}
	if refs := f.sessions.DashboardRefs("42"); len(refs) != 1 || refs[0] == first {
		t.Fatalf("refs should track only the fresh dashboard: %+v", refs)
	}
}

func TestDeepLinkPullConsumesOnlyMatchingGroup(t *testing.T) {
	f := newFixture(t)
	b := newBot(f)
	b.logf = t.Logf
	ctx := context.Background()

	relay := relayJob("nova", "Sunset", "")
	dm := mailbox.New(mailbox.KindDM)
	dm.SubjectID = "42"
	dm.Creator = "nova"
	dm.Message = "hey"
	other := relayJob("zephyr", "Dawn", "")
	if err := f.store.Append(ctx, relay, dm, other); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := b.HandleUpdate(ctx, startUpdate("42", "chat-42", "ada", "filter_relay_nova")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(f.transport.media) != 1 || !strings.Contains(f.transport.media[0].Caption, "#nova") {
		t.Fatalf("expected exactly the nova relay delivered: %+v", f.transport.media)
	}
	jobs, _ := f.store.Read(ctx)
	for _, job := range jobs {
		if job.Kind == mailbox.KindRelay && job.Creator == "nova" {
			t.Fatalf("pulled group must leave the mailbox: %v", kinds(jobs))
		}
	}
	var sawDM, sawOther bool
	for _, job := range jobs {
		sawDM = sawDM || job.Kind == mailbox.KindDM
		sawOther = sawOther || (job.Kind == mailbox.KindRelay && job.Creator == "zephyr")
	}
	if !sawDM || !sawOther {
		t.Fatalf("non-matching jobs must survive the pull: %v", kinds(jobs))
	}
}

// Mute a creator, let a post arrive, check it only surfaces on the dashboard,
// then View All drains it.
func TestMutedAlertLifecycle(t *testing.T) {
	f := newFixture(t)
	b := newBot(f)
	b.logf = t.Logf
	ctx := context.Background()

	muted := true
	f.setPref(t, "nova", prefs.Update{Muted: &muted})
	if err := b.HandleUpdate(ctx, startUpdate("42", "chat-42", "ada")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.store.Append(ctx, relayJob("nova", "Sunset", "")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := f.dispatcher.Cycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(f.transport.media) != 0 {
		t.Fatalf("muted relay must not push")
	}
	text, _ := f.handlers.buildDashboard(ctx, "42")
	if !strings.Contains(text, "1 post") {
		t.Fatalf("dashboard should show the pending post: %q", text)
	}

	if err := b.HandleUpdate(ctx, callbackUpdate("42", "chat-42", "show_alerts")); err != nil {
		t.Fatalf("show_alerts: %v", err)
	}
	if len(f.transport.media) != 1 {
		t.Fatalf("View All should deliver the withheld post")
	}
	text, _ = f.handlers.buildDashboard(ctx, "42")
	if !strings.Contains(text, "No pending alerts") {
		t.Fatalf("dashboard should be empty after the pull: %q", text)
	}
}

func TestSettingsCallbacksUpdatePreferences(t *testing.T) {
	f := newFixture(t)
	b := newBot(f)
	b.logf = t.Logf
	ctx := context.Background()

	if err := b.HandleUpdate(ctx, callbackUpdate("42", "chat-42", "settings|nova")); err != nil {
		t.Fatalf("settings: %v", err)
	}
	if len(f.transport.messages) != 1 || !strings.Contains(f.transport.messages[0].Text, "Notifications for #nova") {
		t.Fatalf("expected a settings menu: %+v", f.transport.messages)
	}

	if err := b.HandleUpdate(ctx, callbackUpdate("42", "chat-42", "set_daily|nova")); err != nil {
		t.Fatalf("set_daily: %v", err)
	}
	pref, _ := f.prefs.Get(ctx, "42", "nova")
	if pref.Mode != prefs.ModeDaily {
		t.Fatalf("mode not updated: %+v", pref)
	}

	if err := b.HandleUpdate(ctx, callbackUpdate("42", "chat-42", "toggle_mute|nova")); err != nil {
		t.Fatalf("toggle_mute: %v", err)
	}
	pref, _ = f.prefs.Get(ctx, "42", "nova")
	if !pref.Muted {
		t.Fatalf("mute not toggled: %+v", pref)
	}
	found := false
	for _, notice := range f.transport.answers {
		if strings.Contains(notice, "Muted #nova") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a mute confirmation, got %v", f.transport.answers)
	}
}

func TestUnlockConfirmWithoutRegistrationShowsNotice(t *testing.T) {
	f := newFixture(t)
	b := newBot(f)
	b.logf = t.Logf
	ctx := context.Background()

	if err := b.HandleUpdate(ctx, callbackUpdate("42", "chat-42", "unlock_confirm|ghost")); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	found := false
	for _, notice := range f.transport.answers {
		if strings.Contains(notice, "isn't ready yet") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the not-ready notice, got %v", f.transport.answers)
	}
}
