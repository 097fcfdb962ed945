package relay

import (
	"errors"
	"testing"
)

func TestCodecInvolution(t *testing.T) {
	for _, x := range []bool{true, false} {
		if got := bool(ToWire(ToLogical(WireState(x)))); got != x {
			t.Errorf("ToWire(ToLogical(%v)): got %v", x, got)
		}
		if got := ToLogical(ToWire(x)); got != x {
			t.Errorf("ToLogical(ToWire(%v)): got %v", x, got)
		}
	}
}

func TestCodecActiveLow(t *testing.T) {
	if !ToLogical(WireState(false)) {
		t.Error("wire false should decode to ON")
	}
	if ToLogical(WireState(true)) {
		t.Error("wire true should decode to OFF")
	}
	if ToWire(true) != WireState(false) {
		t.Error("logical ON should encode to wire false")
	}
}

func TestDefaultName(t *testing.T) {
	if got := DefaultName(4); got != "Switch 4" {
		t.Errorf("DefaultName(4): got %q, want %q", got, "Switch 4")
	}
}

func TestSetCheck(t *testing.T) {
	s := NewSet(5)
	if s.Len() != 5 {
		t.Errorf("Len: got %d, want 5", s.Len())
	}
	for _, id := range []ID{1, 3, 5} {
		if err := s.Check(id); err != nil {
			t.Errorf("Check(%d): unexpected error %v", id, err)
		}
	}
	for _, id := range []ID{0, -1, 6} {
		err := s.Check(id)
		if !errors.Is(err, ErrUnknownRelay) {
			t.Errorf("Check(%d): got %v, want ErrUnknownRelay", id, err)
		}
		var ue *UnknownRelayError
		if !errors.As(err, &ue) || ue.ID != id {
			t.Errorf("Check(%d): error does not carry the id: %v", id, err)
		}
	}
}

func TestSetIDs(t *testing.T) {
	ids := NewSet(3).IDs()
	want := []ID{1, 2, 3}
	if len(ids) != len(want) {
		t.Fatalf("IDs: got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("IDs[%d]: got %d, want %d", i, ids[i], want[i])
		}
	}
}

func TestParseID(t *testing.T) {
	id, err := ParseID("3")
	if err != nil || id != 3 {
		t.Errorf("ParseID(3): got %d, %v", id, err)
	}
	for _, bad := range []string{"", "x", "0", "-2"} {
		if _, err := ParseID(bad); err == nil {
			t.Errorf("ParseID(%q): expected error", bad)
		}
	}
}
