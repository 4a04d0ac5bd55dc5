package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/cubbyland/NyxFan/internal/mailbox"
)

// SourceAdapter turns events from one upstream source into mailbox jobs via
// the Notifier.
type SourceAdapter interface {
	Source() string
	Run(ctx context.Context, n *Notifier) error
}

var (
	adaptersMu sync.RWMutex
	adapters   = map[string]SourceAdapter{}
)

func RegisterAdapter(a SourceAdapter) {
	if a == nil || a.Source() == "" {
		return
	}
	adaptersMu.Lock()
	defer adaptersMu.Unlock()
	adapters[a.Source()] = a
}

func LookupAdapter(source string) (SourceAdapter, bool) {
	adaptersMu.RLock()
	defer adaptersMu.RUnlock()
	a, ok := adapters[source]
	return a, ok
}

func AdapterSources() []string {
	adaptersMu.RLock()
	defer adaptersMu.RUnlock()
	sources := make([]string, 0, len(adapters))
	for s := range adapters {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	return sources
}

// replayEvent is one line of a replay file: a typed envelope around the
// notifier event payloads.
type replayEvent struct {
	Type   string          `json:"type"` // relay, subchg, dm
	Relay  *RelayEvent     `json:"relay,omitempty"`
	SubChg *SubChangeEvent `json:"subchg,omitempty"`
	DM     *DMEvent        `json:"dm,omitempty"`
}

// ReplayAdapter feeds a JSON file of recorded events through the notifier,
// for backfills and manual recovery after an alert.
type ReplayAdapter struct {
	Path string
}

func (ReplayAdapter) Source() string { return "replay" }

func (a ReplayAdapter) Run(ctx context.Context, n *Notifier) error {
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return fmt.Errorf("read replay file: %w", err)
	}
	var events []replayEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return fmt.Errorf("decode replay file: %w", err)
	}
	for i, ev := range events {
		var err error
		switch {
		case ev.Type == "relay" && ev.Relay != nil:
			_, err = n.Relay(ctx, *ev.Relay)
		case ev.Type == "subchg" && ev.SubChg != nil:
			_, err = n.SubChange(ctx, *ev.SubChg)
		case ev.Type == "dm" && ev.DM != nil:
			_, err = n.DM(ctx, *ev.DM)
		default:
			err = fmt.Errorf("%w: event %d has type %q", mailbox.ErrInvalidInput, i, ev.Type)
		}
		if err != nil {
			return fmt.Errorf("replay event %d: %w", i, err)
		}
	}
	return nil
}
