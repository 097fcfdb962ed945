package logic

// DefaultThreshold is the battery percentage below which load shedding runs.
const DefaultThreshold = 40.0

// GuardState is the state of a ThresholdGuard latch.
type GuardState string

const (
	GuardDisarmed GuardState = "DISARMED" // automation may fire again
	GuardArmed    GuardState = "ARMED"    // fired; waiting for recovery
)

// ThresholdGuard fires exactly once per downward crossing of a battery threshold.
//
//	disarmed --(prev >= T and level < T)--> armed   fire
//	armed    --(level >= T)--------------> disarmed
//
// Every other observation is a no-op. The first observation has no previous
// level and never fires.
type ThresholdGuard struct {
	threshold float64
	state     GuardState
	prev      float64
	hasPrev   bool
}

// NewThresholdGuard creates a disarmed guard for the given threshold.
func NewThresholdGuard(threshold float64) *ThresholdGuard {
	return &ThresholdGuard{threshold: threshold, state: GuardDisarmed}
}

// Observe records a new battery level and reports whether automation fires.
func (g *ThresholdGuard) Observe(level float64) bool {
	prev, hasPrev := g.prev, g.hasPrev
	g.prev, g.hasPrev = level, true

	switch g.state {
	case GuardDisarmed:
		if hasPrev && prev >= g.threshold && level < g.threshold {
			g.state = GuardArmed
			return true
		}
	case GuardArmed:
		if level >= g.threshold {
			g.state = GuardDisarmed
		}
	}
	return false
}

// State returns the current latch state.
func (g *ThresholdGuard) State() GuardState {
	return g.state
}

// Armed reports whether the guard has fired and not yet recovered.
func (g *ThresholdGuard) Armed() bool {
	return g.state == GuardArmed
}

// Threshold returns the configured threshold.
func (g *ThresholdGuard) Threshold() float64 {
	return g.threshold
}
