package proxy

import (
	"context"
	"log"

	"github.com/cubbyland/NyxFan/internal/dispatch"
	"github.com/cubbyland/NyxFan/internal/mailbox"
)

// Handlers consumes the proxy-owned kinds. Everything fan-bound passes
// through untouched.
type Handlers struct {
	roster *Roster
	logf   func(format string, args ...any)
}

func NewHandlers(roster *Roster) *Handlers {
	return &Handlers{roster: roster, logf: log.Printf}
}

func (h *Handlers) RegisterAll(d *dispatch.Dispatcher) {
	d.Register(mailbox.KindJoined, dispatch.HandlerFunc(h.handleJoined))
	d.Register(mailbox.KindProxyAlert, dispatch.HandlerFunc(h.handleAlert))
}

func (h *Handlers) handleJoined(ctx context.Context, job mailbox.Job) (dispatch.Result, error) {
	if job.SubjectID == "" {
		return dispatch.Dropped(), nil
	}
	if err := h.roster.Record(job.SubjectID, job.DisplayName); err != nil {
		return dispatch.Result{}, err
	}
	name := job.DisplayName
	if name == "" {
		name = "(no name)"
	}
	h.logf("[proxy] fan joined: #%s %s", job.SubjectID, name)
	return dispatch.Dropped(), nil
}

// handleAlert surfaces a failed fan-side delivery to the operator log. The
// original payload rides along so the event can be replayed by hand.
func (h *Handlers) handleAlert(ctx context.Context, job mailbox.Job) (dispatch.Result, error) {
	h.logf("[proxy] ALERT from %s: %s (error: %s) job=%s payload=%s",
		job.Source, job.Reason, job.Error, job.CorrelationID, string(job.OriginalPayload))
	return dispatch.Dropped(), nil
}
