package fanbot

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cubbyland/NyxFan/internal/dashboard"
	"github.com/cubbyland/NyxFan/internal/delivery"
	"github.com/cubbyland/NyxFan/internal/dispatch"
	"github.com/cubbyland/NyxFan/internal/mailbox"
)

func digestCadence(kind mailbox.Kind) string {
	if kind == mailbox.KindDigestWeekly {
		return "weekly"
	}
	return "daily"
}

// handleDigest sends the periodic roll-up of everything still waiting in the
// mailbox for a subject. Unlike the dashboard it covers all creators, not
// just muted ones: digest-mode jobs sit in the mailbox without a dashboard
// entry, and this is their only way out short of a deep-link pull.
func (h *Handlers) handleDigest(ctx context.Context, job mailbox.Job) (dispatch.Result, error) {
	sessionID, ok := h.resolver.Resolve(job.SubjectID)
	if !ok {
		return dispatch.Retained(), nil
	}
	cadence := digestCadence(job.Kind)

	jobs, err := h.store.Read(ctx)
	if err != nil {
		return dispatch.Result{}, err
	}
	summary := dashboard.Summarize(jobs, job.SubjectID, func(string) bool { return true })

	if len(summary) == 0 {
		if job.ProxyChatID != "" {
			notice := fmt.Sprintf("📭 Nothing pending for fan #%s; %s digest skipped.", job.SubjectID, cadence)
			if _, err := h.transport.SendMessage(ctx, job.ProxyChatID, notice, nil); err != nil {
				h.logf("[fanbot] digest notice to proxy failed: %v", err)
			}
		}
		return dispatch.Dropped(), nil
	}

	// Only the latest digest stays on screen per cadence.
	if old, ok := h.sessions.LastDigest(job.SubjectID, cadence); ok {
		if err := h.transport.DeleteMessage(ctx, old); err != nil {
			h.logf("[fanbot] stale %s digest delete failed: %v", cadence, err)
		}
	}

	text := renderDigest(cadence, summary, h.entrypoint)
	ref, err := h.transport.SendMessage(ctx, sessionID, text, nil)
	if err != nil {
		h.logf("[fanbot] %s digest to %s failed: %v", cadence, job.SubjectID, err)
		return dispatch.Dropped(delivery.AlertJob("fan/digest", "delivery_failed", job, err)), nil
	}
	h.sessions.SetLastDigest(job.SubjectID, cadence, ref)
	return dispatch.Dropped(), nil
}

func renderDigest(cadence string, summary dashboard.Summary, entrypoint string) string {
	header := "📬 *Your daily digest*"
	if cadence == "weekly" {
		header = "📬 *Your weekly digest*"
	}

	creators := make([]string, 0, len(summary))
	for creator := range summary {
		creators = append(creators, creator)
	}
	sort.Strings(creators)

	lines := []string{header, ""}
	for _, creator := range creators {
		counts := summary[creator]
		var parts []string
		if counts.Posts > 0 {
			parts = append(parts, fmt.Sprintf("[%d new](%s)",
				counts.Posts, dashboard.DeepLink(entrypoint, mailbox.KindRelay, creator)))
		}
		if counts.Prices > 0 {
			parts = append(parts, fmt.Sprintf("[%d price](%s)",
				counts.Prices, dashboard.DeepLink(entrypoint, mailbox.KindSubChange, creator)))
		}
		if counts.Messages > 0 {
			parts = append(parts, fmt.Sprintf("[%d dm](%s)",
				counts.Messages, dashboard.DeepLink(entrypoint, mailbox.KindDM, creator)))
		}
		lines = append(lines, fmt.Sprintf("#%s: %s", creator, strings.Join(parts, " | ")))
	}
	return strings.Join(lines, "\n")
}
