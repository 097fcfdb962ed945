// Package gpio drives the relay output lines.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/sweeney/relay-agent/internal/relay"
)

// DefaultChip is the GPIO character device used when none is configured.
const DefaultChip = "gpiochip0"

// DefaultPins are the BCM output pins of relays 1..5.
var DefaultPins = []int{13, 14, 27, 26, 25}

// Driver sets and reads relay output lines in logical form.
type Driver interface {
	// Drive sets the line of id to the logical level on.
	Drive(id relay.ID, on bool) error

	// Read returns the current logical level of id.
	Read(id relay.ID) (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// PinMap assigns a BCM pin to every relay id.
type PinMap map[relay.ID]int

// NewPinMap maps pins[i] to relay i+1.
func NewPinMap(pins []int) PinMap {
	m := make(PinMap, len(pins))
	for i, p := range pins {
		m[relay.ID(i+1)] = p
	}
	return m
}

// IDs returns the mapped relay ids in ascending order.
func (m PinMap) IDs() []relay.ID {
	ids := make([]relay.ID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Outputs mirrors relay states onto a Driver, only touching lines whose
// level differs from what was last driven.
type Outputs struct {
	driver Driver
	logger *slog.Logger

	mu     sync.Mutex
	levels map[relay.ID]bool
}

// NewOutputs wraps d.
func NewOutputs(d Driver, logger *slog.Logger) *Outputs {
	if logger == nil {
		logger = slog.Default()
	}
	return &Outputs{driver: d, logger: logger, levels: map[relay.ID]bool{}}
}

// Apply drives every state whose level changed. It returns the ids that
// were driven; a failing line is reported and retried on the next Apply.
func (o *Outputs) Apply(states []relay.State) ([]relay.ID, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var driven []relay.ID
	var firstErr error
	for _, s := range states {
		if level, ok := o.levels[s.ID]; ok && level == s.On {
			continue
		}
		if err := o.driver.Drive(s.ID, s.On); err != nil {
			o.logger.Error("gpio drive failed", "relay", int(s.ID), "on", s.On, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("drive relay %d: %w", s.ID, err)
			}
			continue
		}
		o.levels[s.ID] = s.On
		driven = append(driven, s.ID)
		o.logger.Debug("gpio driven", "relay", int(s.ID), "state", relay.StateString(s.On))
	}
	return driven, firstErr
}

// Levels returns a copy of the last driven levels.
func (o *Outputs) Levels() map[relay.ID]bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[relay.ID]bool, len(o.levels))
	for id, on := range o.levels {
		out[id] = on
	}
	return out
}

// Close releases the underlying driver.
func (o *Outputs) Close() error {
	return o.driver.Close()
}
