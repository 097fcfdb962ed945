package gpio

import (
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/sweeney/relay-agent/internal/relay"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func states(on ...bool) []relay.State {
	out := make([]relay.State, len(on))
	for i, v := range on {
		out[i] = relay.State{ID: relay.ID(i + 1), On: v}
	}
	return out
}

func TestNewPinMap(t *testing.T) {
	m := NewPinMap(DefaultPins)
	if len(m) != 5 {
		t.Fatalf("expected 5 pins, got %d", len(m))
	}
	if m[1] != 13 || m[5] != 25 {
		t.Errorf("unexpected mapping: %v", m)
	}
	if got := m.IDs(); !reflect.DeepEqual(got, []relay.ID{1, 2, 3, 4, 5}) {
		t.Errorf("ids: %v", got)
	}
}

func TestOutputsFirstApplyDrivesAll(t *testing.T) {
	f := NewFakeDriver()
	o := NewOutputs(f, quietLogger())

	driven, err := o.Apply(states(false, true, false))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(driven) != 3 {
		t.Errorf("expected all 3 lines driven, got %v", driven)
	}
	want := []Call{{1, false}, {2, true}, {3, false}}
	if got := f.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls: got %v, want %v", got, want)
	}
}

func TestOutputsSkipsUnchangedLevels(t *testing.T) {
	f := NewFakeDriver()
	o := NewOutputs(f, quietLogger())

	o.Apply(states(false, true, false))
	driven, _ := o.Apply(states(false, true, true))
	if !reflect.DeepEqual(driven, []relay.ID{3}) {
		t.Errorf("expected only relay 3 driven, got %v", driven)
	}
	driven, _ = o.Apply(states(false, true, true))
	if len(driven) != 0 {
		t.Errorf("repeat apply drove %v", driven)
	}
	if len(f.Calls()) != 4 {
		t.Errorf("expected 4 calls total, got %d", len(f.Calls()))
	}
	if on, _ := f.Read(3); !on {
		t.Error("relay 3 line should be ON")
	}
}

func TestOutputsRetriesFailedLine(t *testing.T) {
	f := NewFakeDriver()
	o := NewOutputs(f, quietLogger())
	f.FailDrive(2, errors.New("line busy"))

	driven, err := o.Apply(states(true, true))
	if err == nil {
		t.Fatal("expected error")
	}
	if !reflect.DeepEqual(driven, []relay.ID{1}) {
		t.Errorf("driven: %v", driven)
	}
	if _, ok := o.Levels()[2]; ok {
		t.Error("failed line must not be recorded as driven")
	}

	f.FailDrive(2, nil)
	driven, err = o.Apply(states(true, true))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(driven, []relay.ID{2}) {
		t.Errorf("retry should drive relay 2 only, got %v", driven)
	}
}

func TestOutputsClose(t *testing.T) {
	f := NewFakeDriver()
	o := NewOutputs(f, quietLogger())
	if err := o.Close(); err != nil {
		t.Fatal(err)
	}
	if !f.Closed() {
		t.Error("driver not closed")
	}
}
