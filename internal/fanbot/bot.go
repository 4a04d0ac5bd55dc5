package fanbot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cubbyland/NyxFan/internal/chat"
	"github.com/cubbyland/NyxFan/internal/dashboard"
	"github.com/cubbyland/NyxFan/internal/dispatch"
	"github.com/cubbyland/NyxFan/internal/mailbox"
	"github.com/cubbyland/NyxFan/internal/prefs"
	"github.com/cubbyland/NyxFan/internal/session"
	"github.com/cubbyland/NyxFan/internal/unlock"
)

// Bot routes inbound chat updates: the /start command and every inline
// callback the fan-side keyboards emit. All of its mailbox mutations go
// through the dispatcher's lock so they cannot interleave with a poll
// cycle's read-modify-write.
type Bot struct {
	store      mailbox.Store
	transport  chat.Transport
	prefStore  prefs.Store
	registrar  Registrar
	sessions   *session.Store
	machine    *unlock.Machine
	handlers   *Handlers
	dispatcher *dispatch.Dispatcher
	entrypoint string
	logf       func(format string, args ...any)
}

func NewBot(store mailbox.Store, transport chat.Transport, prefStore prefs.Store, registrar Registrar, sessions *session.Store, machine *unlock.Machine, handlers *Handlers, dispatcher *dispatch.Dispatcher, entrypoint string) *Bot {
	return &Bot{
		store:      store,
		transport:  transport,
		prefStore:  prefStore,
		registrar:  registrar,
		sessions:   sessions,
		machine:    machine,
		handlers:   handlers,
		dispatcher: dispatcher,
		entrypoint: entrypoint,
		logf:       log.Printf,
	}
}

func (b *Bot) appendLocked(ctx context.Context, jobs ...mailbox.Job) error {
	return b.dispatcher.Locked(func() error {
		return b.store.Append(ctx, jobs...)
	})
}

// Consume processes updates until the channel closes or the context ends.
func (b *Bot) Consume(ctx context.Context, updates <-chan chat.Update) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if err := b.HandleUpdate(ctx, u); err != nil {
				b.logf("[fanbot] update failed: %v", err)
			}
		}
	}
}

func (b *Bot) HandleUpdate(ctx context.Context, u chat.Update) error {
	switch u.Type {
	case chat.UpdateCommand:
		if u.Command == "/start" {
			return b.handleStart(ctx, u)
		}
		return nil
	case chat.UpdateCallback:
		return b.handleCallback(ctx, u)
	}
	return nil
}

// handleStart registers the subject's identity, announces the join to the
// proxy side, optionally consumes a deep-link filter, and puts a fresh
// dashboard on screen.
func (b *Bot) handleStart(ctx context.Context, u chat.Update) error {
	if u.SubjectID == "" || u.SessionID == "" {
		return chat.ErrInvalidInput
	}
	// Not every chat profile carries a display name; the subject id is the
	// stable fallback, and the joined record requires one.
	name := strings.TrimSpace(u.DisplayName)
	if name == "" {
		name = u.SubjectID
	}
	if err := b.registrar.Register(u.SubjectID, u.SessionID, name); err != nil {
		return fmt.Errorf("register identity: %w", err)
	}
	b.sessions.SetDisplayName(u.SubjectID, name)

	joined := mailbox.New(mailbox.KindJoined)
	joined.SubjectID = u.SubjectID
	joined.DisplayName = name
	if err := b.appendLocked(ctx, joined); err != nil {
		return fmt.Errorf("announce join: %w", err)
	}

	if len(u.Args) > 0 {
		if kind, creator, ok := dashboard.ParseFilterArg(u.Args[0]); ok {
			if err := b.pullFiltered(ctx, u.SubjectID, u.SessionID, kind, creator); err != nil {
				b.logf("[fanbot] deep-link pull failed: %v", err)
			}
		}
	}
	return b.refreshDashboard(ctx, u.SubjectID, u.SessionID)
}

func (b *Bot) handleCallback(ctx context.Context, u chat.Update) error {
	action, arg := chat.ParseCallback(u.Data)
	switch action {
	case "show_alerts":
		b.answer(ctx, u.CallbackID, "")
		if err := b.pullAll(ctx, u.SubjectID, u.SessionID); err != nil {
			return err
		}
		return b.refreshDashboard(ctx, u.SubjectID, u.SessionID)
	case "show_settings":
		b.answer(ctx, u.CallbackID, "")
		_, err := b.transport.SendMessage(ctx, u.SessionID,
			"⚙️ Open a creator's Settings from one of their posts to change notifications.", nil)
		return err
	case "settings":
		b.answer(ctx, u.CallbackID, "")
		return b.sendSettingsMenu(ctx, u.SubjectID, u.SessionID, arg)
	case "set_immediate", "set_daily", "set_weekly":
		mode := prefs.Mode(action[len("set_"):])
		pref, err := b.prefStore.Set(ctx, u.SubjectID, arg, prefs.Update{Mode: &mode})
		if err != nil {
			return err
		}
		b.answer(ctx, u.CallbackID, modeNotice(pref.Mode, arg))
		return b.editSettingsMenu(ctx, u, arg, pref)
	case "toggle_mute":
		pref, err := b.prefStore.Get(ctx, u.SubjectID, arg)
		if err != nil {
			return err
		}
		muted := !pref.Muted
		pref, err = b.prefStore.Set(ctx, u.SubjectID, arg, prefs.Update{Muted: &muted})
		if err != nil {
			return err
		}
		if muted {
			b.answer(ctx, u.CallbackID, fmt.Sprintf("Muted #%s", arg))
		} else {
			b.answer(ctx, u.CallbackID, fmt.Sprintf("Unmuted #%s", arg))
		}
		return b.editSettingsMenu(ctx, u, arg, pref)
	case "unlock":
		if err := b.machine.PromptConfirm(ctx, u.Message, arg); err != nil {
			b.answer(ctx, u.CallbackID, "Could not open the unlock prompt.")
			return err
		}
		b.answer(ctx, u.CallbackID, "")
		return nil
	case "unlock_confirm":
		queued, err := b.machine.Confirm(ctx, u.SubjectID, u.Message, arg)
		if errors.Is(err, unlock.ErrNotRegistered) {
			b.answer(ctx, u.CallbackID, "This content isn't ready yet. Try again shortly.")
			return nil
		}
		if err != nil {
			return err
		}
		if queued {
			b.answer(ctx, u.CallbackID, "Unlocked! Sending your content…")
		} else {
			b.answer(ctx, u.CallbackID, "Already unlocked.")
		}
		return nil
	case "unlock_back":
		if err := b.machine.Cancel(ctx, u.Message, arg); err != nil {
			return err
		}
		b.answer(ctx, u.CallbackID, "")
		return nil
	}
	b.answer(ctx, u.CallbackID, "")
	return nil
}

func (b *Bot) answer(ctx context.Context, callbackID, notice string) {
	if callbackID == "" {
		return
	}
	if err := b.transport.AnswerCallback(ctx, callbackID, notice); err != nil {
		b.logf("[fanbot] answer callback failed: %v", err)
	}
}

func modeNotice(mode prefs.Mode, creator string) string {
	switch mode {
	case prefs.ModeDaily:
		return fmt.Sprintf("Daily digest enabled for #%s", creator)
	case prefs.ModeWeekly:
		return fmt.Sprintf("Weekly digest enabled for #%s", creator)
	default:
		return fmt.Sprintf("Immediate alerts enabled for #%s", creator)
	}
}

func settingsText(creator string, pref prefs.Preference) string {
	state := "on"
	if pref.Muted {
		state = "muted"
	}
	return fmt.Sprintf("⚙️ Notifications for #%s\nMode: %s · Alerts: %s", creator, pref.Mode, state)
}

func settingsMenuKeyboard(creator string, pref prefs.Preference) chat.Keyboard {
	muteLabel := "Mute"
	if pref.Muted {
		muteLabel = "Unmute"
	}
	return chat.Keyboard{
		{
			{Label: "Immediate", Data: chat.FormatCallback("set_immediate", creator)},
			{Label: "Daily", Data: chat.FormatCallback("set_daily", creator)},
			{Label: "Weekly", Data: chat.FormatCallback("set_weekly", creator)},
		},
		{
			{Label: muteLabel, Data: chat.FormatCallback("toggle_mute", creator)},
		},
	}
}

func (b *Bot) sendSettingsMenu(ctx context.Context, subjectID, sessionID, creator string) error {
	if creator == "" {
		return chat.ErrInvalidInput
	}
	pref, err := b.prefStore.Get(ctx, subjectID, creator)
	if err != nil {
		return err
	}
	_, err = b.transport.SendMessage(ctx, sessionID, settingsText(creator, pref), settingsMenuKeyboard(creator, pref))
	return err
}

// editSettingsMenu refreshes the menu the tapped button lives on, so the
// mute label and mode line track the stored preference.
func (b *Bot) editSettingsMenu(ctx context.Context, u chat.Update, creator string, pref prefs.Preference) error {
	if u.Message.Zero() {
		return nil
	}
	err := b.transport.EditMessage(ctx, u.Message, settingsText(creator, pref), settingsMenuKeyboard(creator, pref))
	if err != nil {
		b.logf("[fanbot] settings menu edit failed: %v", err)
	}
	return nil
}

// pullAll delivers and consumes every pending alert addressed to the subject.
func (b *Bot) pullAll(ctx context.Context, subjectID, sessionID string) error {
	return b.pull(ctx, sessionID, func(job mailbox.Job) bool {
		return !job.Malformed() && job.SubjectID == subjectID &&
			(job.Kind == mailbox.KindRelay || job.Kind == mailbox.KindSubChange || job.Kind == mailbox.KindDM)
	})
}

// pullFiltered consumes exactly the (subject, kind, creator) group a deep
// link names. One shot: matching jobs leave the mailbox even if some sends
// fail, so a second tap cannot double-deliver.
func (b *Bot) pullFiltered(ctx context.Context, subjectID, sessionID string, kind mailbox.Kind, creator string) error {
	return b.pull(ctx, sessionID, func(job mailbox.Job) bool {
		return dashboard.MatchesFilter(job, subjectID, kind, creator)
	})
}

func (b *Bot) pull(ctx context.Context, sessionID string, match func(mailbox.Job) bool) error {
	// The remove happens as one locked read-modify-write so an in-flight
	// cycle can neither resurrect the pulled jobs nor lose the kept ones.
	var matched []mailbox.Job
	err := b.dispatcher.Locked(func() error {
		jobs, err := b.store.Read(ctx)
		if err != nil {
			return err
		}
		kept := make([]mailbox.Job, 0, len(jobs))
		for _, job := range jobs {
			if match(job) {
				matched = append(matched, job)
			} else {
				kept = append(kept, job)
			}
		}
		if len(matched) == 0 {
			return nil
		}
		return b.store.Write(ctx, kept)
	})
	if err != nil {
		return err
	}
	for _, job := range matched {
		if err := b.deliverPulled(ctx, sessionID, job); err != nil {
			b.logf("[fanbot] pulled %s delivery failed: %v", job.Kind, err)
		}
	}
	return nil
}

func (b *Bot) deliverPulled(ctx context.Context, sessionID string, job mailbox.Job) error {
	switch job.Kind {
	case mailbox.KindRelay:
		caption := relayCaption(job.Creator, job.Title)
		kb := unlock.TeaserKeyboard(job.Creator, job.ContentID)
		var media mailbox.MediaRef
		if job.Media != nil {
			media = *job.Media
		}
		ref, err := b.handlers.sender.PushMedia(ctx, sessionID, media, caption, kb, "")
		if err != nil {
			return err
		}
		b.sessions.SnapshotCaption(ref, session.CaptionSnapshot{Text: caption, Keyboard: kb})
		if job.ContentID != "" {
			reg := registrationJob(job, &ref)
			if err := b.appendLocked(ctx, reg); err != nil {
				return err
			}
		}
		return nil
	case mailbox.KindSubChange:
		_, err := b.transport.SendMessage(ctx, sessionID, priceCaption(job.Creator, job.OldPrice, job.NewPrice), unlock.SettingsKeyboard(job.Creator))
		return err
	case mailbox.KindDM:
		_, err := b.transport.SendMessage(ctx, sessionID, dmCaption(job.Creator, job.Message), unlock.SettingsKeyboard(job.Creator))
		return err
	}
	return nil
}

// refreshDashboard replaces whatever dashboard messages are on screen with a
// single fresh one.
func (b *Bot) refreshDashboard(ctx context.Context, subjectID, sessionID string) error {
	text, kb := b.handlers.buildDashboard(ctx, subjectID)
	ref, err := b.transport.SendMessage(ctx, sessionID, text, kb)
	if err != nil {
		return fmt.Errorf("send dashboard: %w", err)
	}
	for _, old := range b.sessions.DashboardRefs(subjectID) {
		if err := b.transport.DeleteMessage(ctx, old); err != nil {
			b.logf("[fanbot] stale dashboard delete failed: %v", err)
		}
	}
	b.sessions.SetDashboardRefs(subjectID, []chat.MessageRef{ref})
	return nil
}
