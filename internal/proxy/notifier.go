// Package proxy is the creator-facing side: it turns source events into
// mailbox jobs for the fan process and consumes the kinds addressed back to
// it (join announcements and delivery alerts).
package proxy

import (
	"context"
	"fmt"

	"github.com/cubbyland/NyxFan/internal/mailbox"
)

// RelayEvent is one new post to fan out.
type RelayEvent struct {
	SubjectID string             `json:"subject_id"`
	Creator   string             `json:"creator"`
	Title     string             `json:"title"`
	Media     mailbox.MediaRef   `json:"media_ref"`
	ContentID string             `json:"content_id,omitempty"`
	Items     []mailbox.MediaRef `json:"items,omitempty"`
}

type SubChangeEvent struct {
	SubjectID string `json:"subject_id"`
	Creator   string `json:"creator"`
	OldPrice  string `json:"old_price"`
	NewPrice  string `json:"new_price"`
}

type DMEvent struct {
	SubjectID string             `json:"subject_id"`
	Creator   string             `json:"creator"`
	Message   string             `json:"message"`
	Items     []mailbox.MediaRef `json:"items,omitempty"`
}

// Notifier enqueues fan-bound jobs. It never talks to the chat service; the
// mailbox is the only channel between the two processes.
type Notifier struct {
	store mailbox.Store
}

func NewNotifier(store mailbox.Store) *Notifier {
	return &Notifier{store: store}
}

func (n *Notifier) Relay(ctx context.Context, ev RelayEvent) (mailbox.Job, error) {
	if ev.SubjectID == "" || ev.Creator == "" || ev.Media.Ref == "" {
		return mailbox.Job{}, mailbox.ErrInvalidInput
	}
	job := mailbox.New(mailbox.KindRelay)
	job.SubjectID = ev.SubjectID
	job.Creator = ev.Creator
	job.Title = ev.Title
	media := ev.Media
	job.Media = &media
	job.ContentID = ev.ContentID
	job.Items = ev.Items
	return job, n.enqueue(ctx, job)
}

func (n *Notifier) SubChange(ctx context.Context, ev SubChangeEvent) (mailbox.Job, error) {
	if ev.SubjectID == "" || ev.Creator == "" {
		return mailbox.Job{}, mailbox.ErrInvalidInput
	}
	job := mailbox.New(mailbox.KindSubChange)
	job.SubjectID = ev.SubjectID
	job.Creator = ev.Creator
	job.OldPrice = ev.OldPrice
	job.NewPrice = ev.NewPrice
	return job, n.enqueue(ctx, job)
}

func (n *Notifier) DM(ctx context.Context, ev DMEvent) (mailbox.Job, error) {
	if ev.SubjectID == "" || ev.Creator == "" || ev.Message == "" {
		return mailbox.Job{}, mailbox.ErrInvalidInput
	}
	job := mailbox.New(mailbox.KindDM)
	job.SubjectID = ev.SubjectID
	job.Creator = ev.Creator
	job.Message = ev.Message
	job.Items = ev.Items
	return job, n.enqueue(ctx, job)
}

// Digest enqueues one digest trigger per subject for the given cadence.
func (n *Notifier) Digest(ctx context.Context, cadence string, proxyChatID string, subjectIDs ...string) error {
	kind := mailbox.KindDigestDaily
	switch cadence {
	case "daily":
	case "weekly":
		kind = mailbox.KindDigestWeekly
	default:
		return fmt.Errorf("%w: cadence %q", mailbox.ErrInvalidInput, cadence)
	}
	jobs := make([]mailbox.Job, 0, len(subjectIDs))
	for _, subject := range subjectIDs {
		if subject == "" {
			continue
		}
		job := mailbox.New(kind)
		job.SubjectID = subject
		job.ProxyChatID = proxyChatID
		jobs = append(jobs, job)
	}
	if len(jobs) == 0 {
		return nil
	}
	return n.store.Append(ctx, jobs...)
}

func (n *Notifier) enqueue(ctx context.Context, job mailbox.Job) error {
	if err := n.store.Append(ctx, job); err != nil {
		return fmt.Errorf("enqueue %s: %w", job.Kind, err)
	}
	return nil
}
