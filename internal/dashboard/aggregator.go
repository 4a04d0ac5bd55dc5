// Package dashboard projects the mailbox into the per-subject pending-alerts
// view. Aggregation is a pure function of its inputs: it never mutates the
// mailbox, and the same snapshot renders the same dashboard every time.
package dashboard

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cubbyland/NyxFan/internal/chat"
	"github.com/cubbyland/NyxFan/internal/mailbox"
)

type Counts struct {
	Posts    int
	Prices   int
	Messages int
}

type Summary map[string]Counts

// pendingKinds are the job kinds the dashboard reports on.
func pendingKind(k mailbox.Kind) bool {
	return k == mailbox.KindRelay || k == mailbox.KindSubChange || k == mailbox.KindDM
}

// Summarize counts pending jobs addressed to the subject, restricted to
// muted creators: unmuted items were already pushed and must never appear on
// the dashboard a second time.
func Summarize(jobs []mailbox.Job, subjectID string, muted func(creator string) bool) Summary {
	summary := Summary{}
	for _, job := range jobs {
		if job.Malformed() || !pendingKind(job.Kind) || job.SubjectID != subjectID {
			continue
		}
		if job.Creator == "" || !muted(job.Creator) {
			continue
		}
		counts := summary[job.Creator]
		switch job.Kind {
		case mailbox.KindRelay:
			counts.Posts++
		case mailbox.KindSubChange:
			counts.Prices++
		case mailbox.KindDM:
			counts.Messages++
		}
		summary[job.Creator] = counts
	}
	return summary
}

// DeepLink builds the one-shot pull link for a (kind, creator) group.
func DeepLink(entrypoint string, kind mailbox.Kind, creator string) string {
	return fmt.Sprintf("%s?start=filter_%s_%s", entrypoint, kind, creator)
}

// ParseFilterArg decodes a deep-link start argument of the form
// "filter_<kind>_<creator>". Creator comparison downstream is exact and
// case-sensitive, so the creator part is returned verbatim.
func ParseFilterArg(arg string) (mailbox.Kind, string, bool) {
	rest, ok := strings.CutPrefix(arg, "filter_")
	if !ok {
		return "", "", false
	}
	kindPart, creator, ok := strings.Cut(rest, "_")
	if !ok || creator == "" {
		return "", "", false
	}
	kind := mailbox.Kind(kindPart)
	if !pendingKind(kind) {
		return "", "", false
	}
	return kind, creator, true
}

// MatchesFilter reports whether a retained job is consumed by a one-shot
// pull for the (subject, kind, creator) triple.
func MatchesFilter(job mailbox.Job, subjectID string, kind mailbox.Kind, creator string) bool {
	return !job.Malformed() &&
		job.Kind == kind &&
		job.SubjectID == subjectID &&
		job.Creator == creator
}

// Render produces the dashboard text and keyboard. Creators render in sorted
// order so equal summaries render identically.
func Render(displayName string, summary Summary, entrypoint string) (string, chat.Keyboard) {
	header := fmt.Sprintf("%s’s Dashboard", displayName)

	var body string
	if len(summary) == 0 {
		body = "🔔 No pending alerts."
	} else {
		creators := make([]string, 0, len(summary))
		for creator := range summary {
			creators = append(creators, creator)
		}
		sort.Strings(creators)

		lines := []string{"🔔 *Pending Alerts:*", ""}
		for _, creator := range creators {
			counts := summary[creator]
			var parts []string
			if counts.Posts > 0 {
				parts = append(parts, fmt.Sprintf("[%s](%s)",
					plural(counts.Posts, "post"), DeepLink(entrypoint, mailbox.KindRelay, creator)))
			}
			if counts.Prices > 0 {
				parts = append(parts, fmt.Sprintf("[%s](%s)",
					plural(counts.Prices, "price update"), DeepLink(entrypoint, mailbox.KindSubChange, creator)))
			}
			if counts.Messages > 0 {
				parts = append(parts, fmt.Sprintf("[%s](%s)",
					plural(counts.Messages, "message"), DeepLink(entrypoint, mailbox.KindDM, creator)))
			}
			if len(parts) > 0 {
				lines = append(lines, fmt.Sprintf("#%s: %s", creator, strings.Join(parts, " | ")))
			}
		}
		body = strings.Join(lines, "\n")
	}

	kb := chat.Keyboard{
		{{Label: "View All", Data: "show_alerts"}},
		{{Label: "Settings", Data: "show_settings"}},
	}
	return header + "\n\n" + body, kb
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
