// Package fanbot wires the fan-side process: mailbox handlers for the kinds
// it owns, the /start command, and the inline callback router.
package fanbot

import (
	"context"
	"fmt"
	"log"

	"github.com/cubbyland/NyxFan/internal/chat"
	"github.com/cubbyland/NyxFan/internal/dashboard"
	"github.com/cubbyland/NyxFan/internal/delivery"
	"github.com/cubbyland/NyxFan/internal/dispatch"
	"github.com/cubbyland/NyxFan/internal/identity"
	"github.com/cubbyland/NyxFan/internal/mailbox"
	"github.com/cubbyland/NyxFan/internal/prefs"
	"github.com/cubbyland/NyxFan/internal/session"
	"github.com/cubbyland/NyxFan/internal/unlock"
)

// Registrar is the identity surface the fan process needs: resolution plus
// registration at /start time.
type Registrar interface {
	identity.Resolver
	Register(subjectID, sessionID, displayName string) error
	DisplayName(subjectID string) (string, bool)
}

type Handlers struct {
	store      mailbox.Store
	transport  chat.Transport
	prefStore  prefs.Store
	resolver   identity.Resolver
	sessions   *session.Store
	index      unlock.Index
	sender     *delivery.Sender
	entrypoint string
	logf       func(format string, args ...any)
}

func NewHandlers(store mailbox.Store, transport chat.Transport, prefStore prefs.Store, resolver identity.Resolver, sessions *session.Store, index unlock.Index, entrypoint string) *Handlers {
	return &Handlers{
		store:      store,
		transport:  transport,
		prefStore:  prefStore,
		resolver:   resolver,
		sessions:   sessions,
		index:      index,
		sender:     delivery.NewSender(transport),
		entrypoint: entrypoint,
		logf:       log.Printf,
	}
}

// RegisterAll installs the fan-owned kinds on a dispatcher. Everything else
// in the mailbox passes through to the proxy untouched.
func (h *Handlers) RegisterAll(d *dispatch.Dispatcher) {
	d.Register(mailbox.KindRelay, dispatch.HandlerFunc(h.handleRelay))
	d.Register(mailbox.KindDM, dispatch.HandlerFunc(h.handleDM))
	d.Register(mailbox.KindSubChange, dispatch.HandlerFunc(h.handleSubChange))
	d.Register(mailbox.KindDashRefresh, dispatch.HandlerFunc(h.handleDashRefresh))
	d.Register(mailbox.KindUnlockRegister, dispatch.HandlerFunc(h.handleUnlockRegister))
	d.Register(mailbox.KindUnlockDeliver, dispatch.HandlerFunc(h.handleUnlockDeliver))
	d.Register(mailbox.KindDigestDaily, dispatch.HandlerFunc(h.handleDigest))
	d.Register(mailbox.KindDigestWeekly, dispatch.HandlerFunc(h.handleDigest))
}

func relayCaption(creator, title string) string {
	return fmt.Sprintf("🔥 New post from #%s:\n\n%s", creator, title)
}

func dmCaption(creator, text string) string {
	if text == "" {
		return fmt.Sprintf("✉️ DM from *#%s*", creator)
	}
	return fmt.Sprintf("✉️ DM from *#%s*:\n%s", creator, text)
}

func priceCaption(creator, oldPrice, newPrice string) string {
	return fmt.Sprintf("💲 Price update by *%s*:\n%s → %s", creator, oldPrice, newPrice)
}

func thanksCaption(title, creator string) string {
	if title == "" {
		title = "this post"
	}
	if creator == "" {
		creator = "creator"
	}
	return fmt.Sprintf("Thank you for your purchase of %s by %s\n#%s", title, creator, creator)
}

func dashRefreshJob(subjectID string) mailbox.Job {
	job := mailbox.New(mailbox.KindDashRefresh)
	job.SubjectID = subjectID
	return job
}

// registrationJob derives the unlock_register a relay carries alongside its
// teaser, so the unlockables can be delivered later with or without a teaser
// on screen.
func registrationJob(relay mailbox.Job, teaser *chat.MessageRef) mailbox.Job {
	job := mailbox.New(mailbox.KindUnlockRegister)
	job.SubjectID = relay.SubjectID
	job.Creator = relay.Creator
	job.Title = relay.Title
	job.ContentID = relay.ContentID
	job.Items = relay.Items
	job.Content = relay.Content
	if teaser != nil {
		job.Teaser = &mailbox.TeaserLocation{SessionID: teaser.SessionID, MessageID: teaser.MessageID}
	}
	return job
}

func (h *Handlers) handleRelay(ctx context.Context, job mailbox.Job) (dispatch.Result, error) {
	sessionID, ok := h.resolver.Resolve(job.SubjectID)
	if !ok {
		// Identity not known yet; retry by retention.
		return dispatch.Retained(), nil
	}
	pref, err := h.prefStore.Get(ctx, job.SubjectID, job.Creator)
	if err != nil {
		return dispatch.Result{}, err
	}

	switch delivery.Decide(pref) {
	case delivery.WithholdMuted:
		derived := []mailbox.Job{dashRefreshJob(job.SubjectID)}
		if job.ContentID != "" {
			derived = append(derived, registrationJob(job, nil))
		}
		return dispatch.Retained(derived...), nil
	case delivery.WithholdDigest:
		if job.ContentID != "" {
			return dispatch.Retained(registrationJob(job, nil)), nil
		}
		return dispatch.Retained(), nil
	}

	caption := relayCaption(job.Creator, job.Title)
	kb := unlock.TeaserKeyboard(job.Creator, job.ContentID)
	var media mailbox.MediaRef
	if job.Media != nil {
		media = *job.Media
	}
	ref, err := h.sender.PushMedia(ctx, sessionID, media, caption, kb, "")
	if err != nil {
		h.logf("[fanbot] relay delivery to %s failed: %v", job.SubjectID, err)
		return dispatch.Dropped(delivery.AlertJob("fan/relay", "delivery_failed", job, err)), nil
	}
	h.sessions.SnapshotCaption(ref, session.CaptionSnapshot{Text: caption, Keyboard: kb})

	if job.ContentID != "" {
		return dispatch.Dropped(registrationJob(job, &ref)), nil
	}
	return dispatch.Dropped(), nil
}

func (h *Handlers) handleDM(ctx context.Context, job mailbox.Job) (dispatch.Result, error) {
	sessionID, ok := h.resolver.Resolve(job.SubjectID)
	if !ok {
		return dispatch.Retained(), nil
	}
	pref, err := h.prefStore.Get(ctx, job.SubjectID, job.Creator)
	if err != nil {
		return dispatch.Result{}, err
	}
	switch delivery.Decide(pref) {
	case delivery.WithholdMuted:
		return dispatch.Retained(dashRefreshJob(job.SubjectID)), nil
	case delivery.WithholdDigest:
		return dispatch.Retained(), nil
	}

	caption := dmCaption(job.Creator, job.Message)
	if _, err := h.transport.SendMessage(ctx, sessionID, caption, unlock.SettingsKeyboard(job.Creator)); err != nil {
		h.logf("[fanbot] dm delivery to %s failed: %v", job.SubjectID, err)
		return dispatch.Dropped(delivery.AlertJob("fan/dm", "delivery_failed", job, err)), nil
	}
	// Attachments ride along best-effort with the same caption.
	for _, item := range job.Items {
		if _, err := h.sender.PushMedia(ctx, sessionID, item, caption, nil, ""); err != nil {
			h.logf("[fanbot] dm attachment to %s failed: %v", job.SubjectID, err)
		}
	}
	return dispatch.Dropped(), nil
}

func (h *Handlers) handleSubChange(ctx context.Context, job mailbox.Job) (dispatch.Result, error) {
	sessionID, ok := h.resolver.Resolve(job.SubjectID)
	if !ok {
		return dispatch.Retained(), nil
	}
	pref, err := h.prefStore.Get(ctx, job.SubjectID, job.Creator)
	if err != nil {
		return dispatch.Result{}, err
	}
	switch delivery.Decide(pref) {
	case delivery.WithholdMuted:
		return dispatch.Retained(dashRefreshJob(job.SubjectID)), nil
	case delivery.WithholdDigest:
		return dispatch.Retained(), nil
	}

	text := priceCaption(job.Creator, job.OldPrice, job.NewPrice)
	if _, err := h.transport.SendMessage(ctx, sessionID, text, unlock.SettingsKeyboard(job.Creator)); err != nil {
		h.logf("[fanbot] price update to %s failed: %v", job.SubjectID, err)
		return dispatch.Dropped(delivery.AlertJob("fan/subchg", "delivery_failed", job, err)), nil
	}
	return dispatch.Dropped(), nil
}

// handleDashRefresh edits the dashboard already on screen, if any. It never
// pushes a new message: background refreshes must not interrupt the user.
func (h *Handlers) handleDashRefresh(ctx context.Context, job mailbox.Job) (dispatch.Result, error) {
	if _, ok := h.resolver.Resolve(job.SubjectID); !ok {
		return dispatch.Retained(), nil
	}
	refs := h.sessions.DashboardRefs(job.SubjectID)
	if len(refs) == 0 {
		return dispatch.Dropped(), nil
	}
	text, kb := h.buildDashboard(ctx, job.SubjectID)
	if err := h.transport.EditMessage(ctx, refs[len(refs)-1], text, kb); err != nil {
		h.logf("[fanbot] dashboard edit for %s failed: %v", job.SubjectID, err)
	}
	return dispatch.Dropped(), nil
}

func (h *Handlers) buildDashboard(ctx context.Context, subjectID string) (string, chat.Keyboard) {
	jobs, err := h.store.Read(ctx)
	if err != nil {
		h.logf("[fanbot] dashboard read failed: %v", err)
		jobs = nil
	}
	summary := dashboard.Summarize(jobs, subjectID, func(creator string) bool {
		pref, err := h.prefStore.Get(ctx, subjectID, creator)
		if err != nil {
			return false
		}
		return pref.Muted
	})
	name, ok := h.sessions.DisplayName(subjectID)
	if !ok {
		name = subjectID
	}
	return dashboard.Render(name, summary, h.entrypoint)
}

func (h *Handlers) handleUnlockRegister(ctx context.Context, job mailbox.Job) (dispatch.Result, error) {
	if job.ContentID == "" || job.SubjectID == "" {
		// Nothing usable to persist; consuming it is the safe end state.
		return dispatch.Dropped(), nil
	}
	err := h.index.Upsert(ctx, job.ContentID, unlock.Registration{
		SubjectID: job.SubjectID,
		Creator:   job.Creator,
		Title:     job.Title,
		Items:     job.Items,
		Content:   job.Content,
		Teaser:    job.Teaser,
	})
	if err != nil {
		return dispatch.Result{}, err
	}
	return dispatch.Dropped(), nil
}

func (h *Handlers) handleUnlockDeliver(ctx context.Context, job mailbox.Job) (dispatch.Result, error) {
	sessionID, ok := h.resolver.Resolve(job.SubjectID)
	if !ok {
		return dispatch.Retained(), nil
	}

	items := job.Items
	title := job.Title
	creator := job.Creator
	teaser := job.Teaser
	if reg, found, err := h.index.Get(ctx, job.ContentID); err == nil && found {
		if len(items) == 0 {
			items = reg.Items
		}
		if title == "" {
			title = reg.Title
		}
		if creator == "" {
			creator = reg.Creator
		}
		if teaser == nil {
			teaser = reg.Teaser
		}
	}
	if len(items) == 0 {
		// Nothing to send; consume quietly rather than retry forever.
		return dispatch.Dropped(), nil
	}

	replyTo := ""
	if teaser != nil && teaser.SessionID == sessionID {
		replyTo = teaser.MessageID
	}
	caption := thanksCaption(title, creator)
	for _, item := range items {
		if _, err := h.sender.PushMedia(ctx, sessionID, item, caption, nil, replyTo); err != nil {
			h.logf("[fanbot] unlock item for %s failed: %v", job.ContentID, err)
		}
	}
	if job.ContentID != "" {
		if err := h.index.MarkDelivered(ctx, job.ContentID); err != nil && err != unlock.ErrNotRegistered {
			h.logf("[fanbot] delivered marker for %s failed: %v", job.ContentID, err)
		}
	}
	return dispatch.Dropped(), nil
}
