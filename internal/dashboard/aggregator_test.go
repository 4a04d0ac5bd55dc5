package dashboard

import (
	"strings"
	"testing"

	"github.com/cubbyland/NyxFan/internal/mailbox"
)

func job(kind mailbox.Kind, subject, creator string) mailbox.Job {
	j := mailbox.New(kind)
	j.SubjectID = subject
	j.Creator = creator
	return j
}

func mutedSet(creators ...string) func(string) bool {
	set := map[string]bool{}
	for _, c := range creators {
		set[c] = true
	}
	return func(c string) bool { return set[c] }
}

func TestSummarizeCountsMutedCreatorsOnly(t *testing.T) {
	jobs := []mailbox.Job{
		job(mailbox.KindRelay, "42", "nova"),
		job(mailbox.KindRelay, "42", "nova"),
		job(mailbox.KindSubChange, "42", "nova"),
		job(mailbox.KindDM, "42", "nova"),
		job(mailbox.KindRelay, "42", "zephyr"),  // unmuted: already pushed
		job(mailbox.KindRelay, "7", "nova"),     // different subject
		job(mailbox.KindDashRefresh, "42", ""),  // not a pending kind
	}
	summary := Summarize(jobs, "42", mutedSet("nova"))
	if len(summary) != 1 {
		t.Fatalf("expected 1 creator, got %d", len(summary))
	}
	counts := summary["nova"]
	if counts.Posts != 2 || counts.Prices != 1 || counts.Messages != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestSummarizeIsPure(t *testing.T) {
	jobs := []mailbox.Job{job(mailbox.KindRelay, "42", "nova")}
	muted := mutedSet("nova")
	first := Summarize(jobs, "42", muted)
	second := Summarize(jobs, "42", muted)
	if first["nova"] != second["nova"] || len(first) != len(second) {
		t.Fatalf("repeated aggregation diverged: %+v vs %+v", first, second)
	}
}

func TestRenderGroupsAndDeepLinks(t *testing.T) {
	summary := Summary{"nova": {Posts: 1, Prices: 2}}
	text, kb := Render("ada", summary, "https://chat.example/nyxfan")
	if !strings.Contains(text, "ada’s Dashboard") {
		t.Fatalf("missing header: %q", text)
	}
	if !strings.Contains(text, "[1 post](https://chat.example/nyxfan?start=filter_relay_nova)") {
		t.Fatalf("missing post deep link: %q", text)
	}
	if !strings.Contains(text, "[2 price updates](https://chat.example/nyxfan?start=filter_subchg_nova)") {
		t.Fatalf("missing price deep link: %q", text)
	}
	if len(kb) != 2 || kb[0][0].Data != "show_alerts" || kb[1][0].Data != "show_settings" {
		t.Fatalf("unexpected keyboard: %+v", kb)
	}
}

func TestRenderEmptySummary(t *testing.T) {
	text, _ := Render("ada", Summary{}, "https://chat.example/nyxfan")
	if !strings.Contains(text, "No pending alerts") {
		t.Fatalf("expected empty-state copy, got %q", text)
	}
}

func TestParseFilterArg(t *testing.T) {
	kind, creator, ok := ParseFilterArg("filter_relay_nova")
	if !ok || kind != mailbox.KindRelay || creator != "nova" {
		t.Fatalf("got %q %q %v", kind, creator, ok)
	}
	// Creator names keep their case and any remaining underscores.
	kind, creator, ok = ParseFilterArg("filter_dm_Nova_Prime")
	if !ok || kind != mailbox.KindDM || creator != "Nova_Prime" {
		t.Fatalf("got %q %q %v", kind, creator, ok)
	}
	for _, bad := range []string{"filter_relay_", "filter_unknown_nova", "start_relay_nova", "filter_relay"} {
		if _, _, ok := ParseFilterArg(bad); ok {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestMatchesFilterIsExact(t *testing.T) {
	j := job(mailbox.KindRelay, "42", "nova")
	if !MatchesFilter(j, "42", mailbox.KindRelay, "nova") {
		t.Fatalf("expected match")
	}
	if MatchesFilter(j, "42", mailbox.KindRelay, "Nova") {
		t.Fatalf("creator match must be case-sensitive")
	}
	if MatchesFilter(j, "7", mailbox.KindRelay, "nova") {
		t.Fatalf("subject must match")
	}
	if MatchesFilter(j, "42", mailbox.KindDM, "nova") {
		t.Fatalf("kind must match")
	}
}
