package policy

import (
	"reflect"
	"testing"

	"github.com/sweeney/relay-agent/internal/relay"
)

func TestRank(t *testing.T) {
	tests := []struct {
		name    string
		prefs   string
		pattern string
		want    []relay.ID
	}{
		{"empty texts", "", "", []relay.ID{1, 2, 3, 4, 5}},
		{"by name", "Lights and the fridge", "", []relay.ID{4, 2, 1, 3, 5}},
		{"by number", "switch 5 first", "", []relay.ID{5, 1, 2, 3, 4}},
		{"negative clause", "turn off switch 1", "", []relay.ID{2, 3, 4, 5, 1}},
		{"pattern only", "", "Water pump runs at noon. TV in the evening", []relay.ID{3, 5, 1, 2, 4}},
		{"prefs outweigh pattern", "fridge", "water pump", []relay.ID{2, 3, 1, 4, 5}},
		{"but splits clauses", "not the lights but the fridge", "", []relay.ID{2, 1, 3, 5, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Rank(fiveRelays(), tt.prefs, tt.pattern)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRankWordBoundaries(t *testing.T) {
	relays := make([]relay.State, 10)
	for i := range relays {
		id := relay.ID(i + 1)
		relays[i] = relay.State{ID: id, Name: relay.DefaultName(id)}
	}
	got := Rank(relays, "switch 10", "")
	if got[0] != 10 {
		t.Errorf("switch 10 should rank first, got %v", got)
	}
	if got[1] != 1 {
		t.Errorf("switch 1 must not match \"switch 10\": got %v", got)
	}
}

func TestRankIsTotal(t *testing.T) {
	got := Rank(fiveRelays(), "fridge, fridge; lights", "tv")
	if len(got) != 5 {
		t.Fatalf("expected 5 ids, got %v", got)
	}
	seen := map[relay.ID]bool{}
	for _, id := range got {
		if seen[id] {
			t.Errorf("duplicate id %d in %v", id, got)
		}
		seen[id] = true
	}
}

func TestIndexWord(t *testing.T) {
	if indexWord("see you at noon", "no") >= 0 {
		t.Error(`"no" matched inside "noon"`)
	}
	if indexWord("no pump", "no") != 0 {
		t.Error(`"no" not matched at start`)
	}
	if indexWord("relay 12", "relay 1") >= 0 {
		t.Error(`"relay 1" matched "relay 12"`)
	}
}
