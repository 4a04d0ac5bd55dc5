// Package delivery decides whether a notification pushes now or is withheld,
// and performs the multi-format media send with its fallback chain.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cubbyland/NyxFan/internal/chat"
	"github.com/cubbyland/NyxFan/internal/mailbox"
	"github.com/cubbyland/NyxFan/internal/prefs"
)

var ErrAllFormatsFailed = errors.New("every media format was rejected")

type Decision int

const (
	// PushNow delivers immediately.
	PushNow Decision = iota
	// WithholdMuted suppresses the push; the job is retained and a
	// dash_refresh is derived so the dashboard reflects the pending item.
	WithholdMuted
	// WithholdDigest retains the job quietly for the next digest flush.
	WithholdDigest
)

// Decide applies the preference gate consulted before any push-style
// delivery.
func Decide(p prefs.Preference) Decision {
	if p.Muted {
		return WithholdMuted
	}
	if p.Mode != prefs.ModeImmediate {
		return WithholdDigest
	}
	return PushNow
}

// fallbackOrder is the fixed chain tried against the single media reference;
// the first format the transport accepts wins.
var fallbackOrder = []mailbox.MediaKind{
	mailbox.MediaImage,
	mailbox.MediaAnimation,
	mailbox.MediaVideo,
	mailbox.MediaDocument,
}

type Sender struct {
	transport chat.Transport
}

func NewSender(transport chat.Transport) *Sender {
	return &Sender{transport: transport}
}

// PushMedia walks the fallback chain. The declared kind is tried first when
// it names a known format, then the remaining formats in fixed order.
func (s *Sender) PushMedia(ctx context.Context, sessionID string, media mailbox.MediaRef, caption string, kb chat.Keyboard, replyTo string) (chat.MessageRef, error) {
	if media.Ref == "" {
		return chat.MessageRef{}, fmt.Errorf("%w: empty media reference", ErrAllFormatsFailed)
	}
	var lastErr error
	for _, kind := range orderFor(media.Kind) {
		ref, err := s.transport.SendMedia(ctx, sessionID, string(kind), media.Ref, caption, kb, replyTo)
		if err == nil {
			return ref, nil
		}
		lastErr = err
	}
	return chat.MessageRef{}, fmt.Errorf("%w: %v", ErrAllFormatsFailed, lastErr)
}

func orderFor(declared mailbox.MediaKind) []mailbox.MediaKind {
	order := make([]mailbox.MediaKind, 0, len(fallbackOrder))
	for _, kind := range fallbackOrder {
		if kind == declared {
			order = append([]mailbox.MediaKind{kind}, order...)
			continue
		}
		order = append(order, kind)
	}
	return order
}

// AlertJob wraps a failed delivery into a proxy_alert diagnostic for
// operator-side consumption. The end user never sees the failure.
func AlertJob(source, reason string, original mailbox.Job, cause error) mailbox.Job {
	alert := mailbox.New(mailbox.KindProxyAlert)
	alert.SubjectID = original.SubjectID
	alert.Creator = original.Creator
	alert.Source = source
	alert.Reason = reason
	alert.CorrelationID = original.ID
	if cause != nil {
		alert.Error = cause.Error()
	}
	if payload, err := json.Marshal(original); err == nil {
		alert.OriginalPayload = payload
	}
	return alert
}
