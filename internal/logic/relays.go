package logic

import (
	"errors"
	"sort"
	"sync"

	"github.com/sweeney/relay-agent/internal/relay"
)

// RelayTable holds the last-known logical state of every configured relay.
// Inbound remote state is decoded here and nowhere else.
// Safe for concurrent use: the ingest path and the reconciliation writer
// run on different goroutines.
type RelayTable struct {
	mu     sync.RWMutex
	set    relay.Set
	states map[relay.ID]relay.State
	seen   map[relay.ID]bool
}

// NewRelayTable creates a table with one OFF relay per configured id.
func NewRelayTable(set relay.Set) *RelayTable {
	t := &RelayTable{
		set:    set,
		states: make(map[relay.ID]relay.State, set.Len()),
		seen:   make(map[relay.ID]bool, set.Len()),
	}
	for _, id := range set.IDs() {
		t.states[id] = relay.State{ID: id, Name: relay.DefaultName(id)}
	}
	return t
}

// Observe applies a (full or partial) map of remote relay records.
// It returns, in ascending order, the ids whose logical state changed or
// that were observed for the first time. Ids absent from raw are untouched.
// Unknown ids are skipped and reported in err; known ids are still applied.
func (t *RelayTable) Observe(raw map[relay.ID]relay.Wire) (changed []relay.ID, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	for id, w := range raw {
		if cerr := t.set.Check(id); cerr != nil {
			errs = append(errs, cerr)
			continue
		}
		on := relay.ToLogical(w.State)
		prev := t.states[id]

		name := w.Name
		if name == "" {
			name = prev.Name
		}
		if name == "" {
			name = relay.DefaultName(id)
		}

		if !t.seen[id] || prev.On != on {
			changed = append(changed, id)
		}
		t.states[id] = relay.State{ID: id, Name: name, On: on}
		t.seen[id] = true
	}

	sort.Slice(changed, func(i, j int) bool { return changed[i] < changed[j] })
	return changed, errors.Join(errs...)
}

// Get returns the held state of id.
func (t *RelayTable) Get(id relay.ID) (relay.State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[id]
	return s, ok
}

// Snapshot returns a copy of all relay states sorted by id.
func (t *RelayTable) Snapshot() []relay.State {
	t.mu.RLock()
	out := make([]relay.State, 0, len(t.states))
	for _, s := range t.states {
		out = append(out, s)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Set is the optimistic local update. It returns the previous logical value.
func (t *RelayTable) Set(id relay.ID, on bool) (prev bool, err error) {
	if err := t.set.Check(id); err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.states[id]
	prev = s.On
	s.On = on
	t.states[id] = s
	return prev, nil
}

// Restore rolls id back to prev, but only if it still holds expect.
// A remote observation that landed in the meantime wins.
func (t *RelayTable) Restore(id relay.ID, prev, expect bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[id]
	if !ok || s.On != expect {
		return false
	}
	s.On = prev
	t.states[id] = s
	return true
}

// Relays returns the configured id set.
func (t *RelayTable) Relays() relay.Set {
	return t.set
}
