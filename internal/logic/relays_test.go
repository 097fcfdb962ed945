package logic

import (
	"errors"
	"testing"

	"github.com/sweeney/relay-agent/internal/relay"
)

func fullMap(wire ...bool) map[relay.ID]relay.Wire {
	m := make(map[relay.ID]relay.Wire, len(wire))
	for i, w := range wire {
		id := relay.ID(i + 1)
		m[id] = relay.Wire{ID: id, State: relay.WireState(w)}
	}
	return m
}

func TestRelayTableDefaults(t *testing.T) {
	tbl := NewRelayTable(relay.NewSet(5))
	snap := tbl.Snapshot()
	if len(snap) != 5 {
		t.Fatalf("expected 5 relays, got %d", len(snap))
	}
	for i, s := range snap {
		if s.ID != relay.ID(i+1) {
			t.Errorf("snapshot[%d]: got id %d", i, s.ID)
		}
		if s.Name != relay.DefaultName(s.ID) {
			t.Errorf("relay %d: got name %q", s.ID, s.Name)
		}
		if s.On {
			t.Errorf("relay %d: expected OFF by default", s.ID)
		}
	}
}

func TestObserveDecodesWireState(t *testing.T) {
	tbl := NewRelayTable(relay.NewSet(2))
	changed, err := tbl.Observe(fullMap(false, true))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changed) != 2 {
		t.Errorf("first observation: expected 2 changed, got %v", changed)
	}

	s1, _ := tbl.Get(1)
	s2, _ := tbl.Get(2)
	if !s1.On {
		t.Error("relay 1: wire false should be ON")
	}
	if s2.On {
		t.Error("relay 2: wire true should be OFF")
	}
}

func TestObserveIdempotent(t *testing.T) {
	tbl := NewRelayTable(relay.NewSet(5))
	raw := fullMap(false, true, false, true, true)

	tbl.Observe(raw)
	changed, err := tbl.Observe(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changed) != 0 {
		t.Errorf("second identical observation: expected no changes, got %v", changed)
	}
}

func TestObservePartialDelta(t *testing.T) {
	tbl := NewRelayTable(relay.NewSet(3))
	tbl.Observe(fullMap(true, true, true)) // all OFF

	changed, _ := tbl.Observe(map[relay.ID]relay.Wire{
		2: {ID: 2, Name: "Fridge", State: false},
	})
	if len(changed) != 1 || changed[0] != 2 {
		t.Fatalf("expected [2] changed, got %v", changed)
	}

	s1, _ := tbl.Get(1)
	s2, _ := tbl.Get(2)
	if s1.On {
		t.Error("relay 1 should be untouched")
	}
	if !s2.On || s2.Name != "Fridge" {
		t.Errorf("relay 2: got %+v", s2)
	}
}

func TestObserveNameOnlyChangeNotReported(t *testing.T) {
	tbl := NewRelayTable(relay.NewSet(1))
	tbl.Observe(map[relay.ID]relay.Wire{1: {ID: 1, Name: "Lamp", State: true}})

	changed, _ := tbl.Observe(map[relay.ID]relay.Wire{1: {ID: 1, Name: "Porch lamp", State: true}})
	if len(changed) != 0 {
		t.Errorf("name-only change reported as change: %v", changed)
	}
	s, _ := tbl.Get(1)
	if s.Name != "Porch lamp" {
		t.Errorf("name: got %q, want %q", s.Name, "Porch lamp")
	}
}

func TestObserveUnknownIDRejected(t *testing.T) {
	tbl := NewRelayTable(relay.NewSet(2))
	changed, err := tbl.Observe(map[relay.ID]relay.Wire{
		1: {ID: 1, State: false},
		9: {ID: 9, State: false},
	})
	if !errors.Is(err, relay.ErrUnknownRelay) {
		t.Errorf("expected ErrUnknownRelay, got %v", err)
	}
	if len(changed) != 1 || changed[0] != 1 {
		t.Errorf("expected only relay 1 applied, got %v", changed)
	}
	if len(tbl.Snapshot()) != 2 {
		t.Error("unknown id must not be added to the table")
	}
}

func TestSetAndRestore(t *testing.T) {
	tbl := NewRelayTable(relay.NewSet(2))

	prev, err := tbl.Set(1, true)
	if err != nil || prev {
		t.Fatalf("Set: prev=%v err=%v", prev, err)
	}
	if !tbl.Restore(1, prev, true) {
		t.Error("Restore should succeed while optimistic value is held")
	}
	s, _ := tbl.Get(1)
	if s.On {
		t.Error("relay 1 should be restored to OFF")
	}

	if _, err := tbl.Set(7, true); !errors.Is(err, relay.ErrUnknownRelay) {
		t.Errorf("Set(7): got %v, want ErrUnknownRelay", err)
	}
}

func TestRestoreLosesToNewerObservation(t *testing.T) {
	tbl := NewRelayTable(relay.NewSet(1))
	tbl.Set(1, true)
	// Remote reports OFF before the write fails.
	tbl.Observe(map[relay.ID]relay.Wire{1: {ID: 1, State: true}})

	if tbl.Restore(1, false, true) {
		t.Error("Restore should not apply when a newer value is held")
	}
}
