// Package relay defines relay identities and the wire/logical state codec.
//
// The remote store and the hardware use active-low relay polarity: a wire
// value of false means the relay is energized. Application code only ever
// sees logical state, where true means "providing power". WireState is a
// distinct type so a wire value cannot be read as logical state without
// going through ToLogical.
package relay

import (
	"errors"
	"fmt"
	"strconv"
)

// ID identifies a relay. IDs are dense, 1..N, fixed at configuration time.
type ID int

// WireState is the relay value as stored remotely. false = energized.
type WireState bool

// ToLogical decodes a wire value into logical state.
func ToLogical(w WireState) bool {
	return !bool(w)
}

// ToWire encodes logical state into a wire value.
func ToWire(on bool) WireState {
	return WireState(!on)
}

// State is the application-facing state of a single relay.
type State struct {
	ID   ID
	Name string
	On   bool
}

// Wire is a relay record as stored remotely.
type Wire struct {
	ID    ID
	Name  string
	State WireState
}

// DefaultName is the display name used for relays seen without one.
func DefaultName(id ID) string {
	return "Switch " + strconv.Itoa(int(id))
}

// ErrUnknownRelay is matched by every UnknownRelayError.
var ErrUnknownRelay = errors.New("unknown relay")

// UnknownRelayError reports a relay id outside the configured range.
type UnknownRelayError struct {
	ID ID
}

func (e *UnknownRelayError) Error() string {
	return fmt.Sprintf("unknown relay id %d", int(e.ID))
}

// Is makes errors.Is(err, ErrUnknownRelay) work.
func (e *UnknownRelayError) Is(target error) bool {
	return target == ErrUnknownRelay
}

// Set is the fixed set of configured relay ids.
type Set struct {
	n int
}

// NewSet returns the id set 1..n.
func NewSet(n int) Set {
	if n < 0 {
		n = 0
	}
	return Set{n: n}
}

// Len returns the number of configured relays.
func (s Set) Len() int {
	return s.n
}

// Contains reports whether id is configured.
func (s Set) Contains(id ID) bool {
	return id >= 1 && int(id) <= s.n
}

// Check returns an *UnknownRelayError if id is not configured.
func (s Set) Check(id ID) error {
	if !s.Contains(id) {
		return &UnknownRelayError{ID: id}
	}
	return nil
}

// IDs returns all configured ids in ascending order.
func (s Set) IDs() []ID {
	ids := make([]ID, s.n)
	for i := range ids {
		ids[i] = ID(i + 1)
	}
	return ids
}

// ParseID parses a decimal relay id such as "3".
func ParseID(s string) (ID, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parse relay id %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("parse relay id %q: must be positive", s)
	}
	return ID(n), nil
}

// StateString renders logical state as "ON"/"OFF".
func StateString(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
