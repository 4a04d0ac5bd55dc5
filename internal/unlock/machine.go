package unlock

import (
	"context"
	"fmt"
	"sync"

	"github.com/cubbyland/NyxFan/internal/chat"
	"github.com/cubbyland/NyxFan/internal/mailbox"
	"github.com/cubbyland/NyxFan/internal/session"
)

const confirmPrompt = "Unlock this post? You will be charged on confirmation."

// TeaserKeyboard is the affordance row a paid teaser carries: Settings plus
// Unlock when a content id is known.
func TeaserKeyboard(creator, contentID string) chat.Keyboard {
	row := []chat.Button{{Label: "Settings", Data: chat.FormatCallback("settings", creator)}}
	if contentID != "" {
		row = append(row, chat.Button{Label: "Unlock", Data: chat.FormatCallback("unlock", contentID)})
	}
	return chat.Keyboard{row}
}

// SettingsKeyboard is the post-unlock affordance: Unlock removed.
func SettingsKeyboard(creator string) chat.Keyboard {
	return chat.Keyboard{{{Label: "Settings", Data: chat.FormatCallback("settings", creator)}}}
}

func ConfirmKeyboard(contentID string) chat.Keyboard {
	return chat.Keyboard{{
		{Label: "Confirm", Data: chat.FormatCallback("unlock_confirm", contentID)},
		{Label: "Back", Data: chat.FormatCallback("unlock_back", contentID)},
	}}
}

// Machine drives Teaser -> ConfirmPending -> {Delivered, Cancelled} for one
// process. Confirmation only enqueues the deliver job; the actual content
// send happens asynchronously when the dispatcher picks that job up.
type Machine struct {
	transport chat.Transport
	sessions  *session.Store
	index     Index
	enqueue   func(ctx context.Context, job mailbox.Job) error

	mu      sync.Mutex
	pending map[chat.MessageRef]string // teaser ref -> content id awaiting confirm
}

func NewMachine(transport chat.Transport, sessions *session.Store, index Index, enqueue func(ctx context.Context, job mailbox.Job) error) *Machine {
	return &Machine{
		transport: transport,
		sessions:  sessions,
		index:     index,
		enqueue:   enqueue,
		pending:   map[chat.MessageRef]string{},
	}
}

// PromptConfirm snapshots the teaser's current display content and replaces
// it with the confirmation prompt.
func (m *Machine) PromptConfirm(ctx context.Context, ref chat.MessageRef, contentID string) error {
	if contentID == "" || ref.Zero() {
		return ErrInvalidInput
	}
	m.mu.Lock()
	if m.pending[ref] == contentID {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if _, ok := m.sessions.Caption(ref); !ok {
		// No snapshot from send time; reconstruct one from the registration
		// so Back still has something faithful to restore.
		snap := session.CaptionSnapshot{Keyboard: TeaserKeyboard("", contentID)}
		if reg, found, err := m.index.Get(ctx, contentID); err == nil && found {
			snap.Text = teaserCaption(reg.Creator, reg.Title)
			snap.Keyboard = TeaserKeyboard(reg.Creator, contentID)
		}
		m.sessions.SnapshotCaption(ref, snap)
	}

	if err := m.transport.EditMessage(ctx, ref, confirmPrompt, ConfirmKeyboard(contentID)); err != nil {
		return err
	}
	m.mu.Lock()
	m.pending[ref] = contentID
	m.mu.Unlock()
	return nil
}

// Cancel restores the snapshotted teaser content and affordances. Calling it
// again once restored is a no-op.
func (m *Machine) Cancel(ctx context.Context, ref chat.MessageRef, contentID string) error {
	m.mu.Lock()
	if _, ok := m.pending[ref]; !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.pending, ref)
	m.mu.Unlock()

	snap, ok := m.sessions.Caption(ref)
	if !ok {
		return nil
	}
	return m.transport.EditMessage(ctx, ref, snap.Text, snap.Keyboard)
}

// Confirm resolves the registration and enqueues exactly one unlock_deliver
// job. The teaser is restored immediately with the Unlock affordance
// removed; a second confirm for the same content id enqueues nothing until a
// new registration re-arms it. With no registration at all it reverts the
// prompt and reports ErrNotRegistered so the caller can show the
// "not ready yet" notice.
func (m *Machine) Confirm(ctx context.Context, subjectID string, ref chat.MessageRef, contentID string) (bool, error) {
	if contentID == "" {
		return false, ErrInvalidInput
	}
	reg, found, err := m.index.Resolve(ctx, contentID, subjectID, mailbox.TeaserLocation{
		SessionID: ref.SessionID,
		MessageID: ref.MessageID,
	})
	if err != nil {
		return false, err
	}
	if !found {
		if cancelErr := m.Cancel(ctx, ref, contentID); cancelErr != nil {
			return false, fmt.Errorf("%w (revert failed: %v)", ErrNotRegistered, cancelErr)
		}
		return false, ErrNotRegistered
	}

	m.mu.Lock()
	delete(m.pending, ref)
	m.mu.Unlock()

	queued := false
	if !reg.Delivered {
		job := mailbox.New(mailbox.KindUnlockDeliver)
		job.SubjectID = subjectID
		if job.SubjectID == "" {
			job.SubjectID = reg.SubjectID
		}
		job.ContentID = contentID
		job.Items = reg.Items
		job.Teaser = reg.Teaser
		if err := m.enqueue(ctx, job); err != nil {
			return false, err
		}
		if err := m.index.MarkDelivered(ctx, contentID); err != nil {
			return true, err
		}
		queued = true
	}

	if snap, ok := m.sessions.Caption(ref); ok && !ref.Zero() {
		_ = m.transport.EditMessage(ctx, ref, snap.Text, SettingsKeyboard(reg.Creator))
	}
	return queued, nil
}

func teaserCaption(creator, title string) string {
	if creator == "" && title == "" {
		return ""
	}
	return fmt.Sprintf("🔥 New post from #%s:\n\n%s", creator, title)
}
