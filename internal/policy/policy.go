// Package policy maps battery level, telemetry, forecast and operator
// preferences to a bounded set of relay activations.
package policy

import (
	"fmt"
	"math"
	"strings"

	"github.com/sweeney/relay-agent/internal/forecast"
	"github.com/sweeney/relay-agent/internal/relay"
)

// All as Band.MaxOn means every configured relay may be on.
const All = -1

// Band is a battery range with a cap on the number of relays ON.
// A level belongs to the first band whose upper bound it does not exceed:
// level < Below, or level == Below when Inclusive.
type Band struct {
	Name      string
	Label     string // human-readable range, e.g. "10-30%"
	Below     float64
	Inclusive bool
	MaxOn     int
	Gap       bool // between two reference bands; cap may be raised by preferences
}

func (b Band) contains(level float64) bool {
	return level < b.Below || (b.Inclusive && level == b.Below)
}

// CriticalBand is the name of the absolute-override band.
const CriticalBand = "critical"

// DefaultBands returns the reference band table. The first band must be the
// critical band with MaxOn 0.
func DefaultBands() []Band {
	return []Band{
		{Name: CriticalBand, Label: "<10%", Below: 10, MaxOn: 0},
		{Name: "low", Label: "10-30%", Below: 30, Inclusive: true, MaxOn: 1},
		{Name: "low-gap", Label: "30-40%", Below: 40, MaxOn: 1, Gap: true},
		{Name: "moderate", Label: "40-50%", Below: 50, Inclusive: true, MaxOn: 2},
		{Name: "moderate-gap", Label: "50-60%", Below: 60, MaxOn: 2, Gap: true},
		{Name: "high", Label: "60-70%", Below: 70, Inclusive: true, MaxOn: 3},
		{Name: "full", Label: ">70%", Below: math.Inf(1), Inclusive: true, MaxOn: All},
	}
}

// Input is everything a decision depends on. Values are copies.
type Input struct {
	Battery     float64
	Power       float64
	Forecast    forecast.Forecast
	Preferences string
	Relays      []relay.State // every configured relay
}

// Decision assigns every configured relay a logical state.
type Decision struct {
	PerRelay  map[relay.ID]bool
	Band      string
	OnCount   int
	Rationale string
}

// OnIDs returns the ids switched on, in ascending order.
func (d Decision) OnIDs() []relay.ID {
	var ids []relay.ID
	for id, on := range d.PerRelay {
		if on {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)
	return ids
}

// Policy is a configured allocation policy.
type Policy struct {
	Bands []Band
}

// New returns a Policy using bands, or DefaultBands when bands is empty.
func New(bands []Band) *Policy {
	if len(bands) == 0 {
		bands = DefaultBands()
	}
	return &Policy{Bands: bands}
}

// Decide computes the allocation for in. It never fails.
func (p *Policy) Decide(in Input) Decision {
	n := len(in.Relays)
	d := Decision{PerRelay: make(map[relay.ID]bool, n)}
	for _, r := range in.Relays {
		d.PerRelay[r.ID] = false
	}

	idx := p.bandIndex(in.Battery)
	band := p.Bands[idx]
	d.Band = band.Name

	if band.MaxOn == 0 {
		d.Rationale = fmt.Sprintf("battery %.1f%% is in the %s band (%s): all %d relays OFF",
			in.Battery, band.Name, band.Label, n)
		return d
	}

	limit := resolveCap(band.MaxOn, n)
	adjusted := false
	if band.Gap && idx+1 < len(p.Bands) && wantsMore(in.Preferences) {
		if up := resolveCap(p.Bands[idx+1].MaxOn, n); up > limit {
			limit, adjusted = up, true
		}
	}

	order := Rank(in.Relays, in.Preferences, in.Forecast.UsagePatternSummary)
	names := make(map[relay.ID]string, n)
	for _, r := range in.Relays {
		names[r.ID] = r.Name
	}

	var on []string
	for _, id := range order[:limit] {
		d.PerRelay[id] = true
		on = append(on, names[id])
	}
	d.OnCount = limit

	var b strings.Builder
	fmt.Fprintf(&b, "battery %.1f%% is in the %s band (%s): %d of %d relays ON", in.Battery, band.Name, band.Label, limit, n)
	if len(on) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(on, ", "))
	}
	if adjusted {
		b.WriteString("; cap raised by preferences")
	}
	fmt.Fprintf(&b, "; draw %.1f W, forecast usage %.1f", in.Power, in.Forecast.PredictedUsage)
	d.Rationale = b.String()
	return d
}

// Decide runs the default policy.
func Decide(in Input) Decision {
	return New(nil).Decide(in)
}

func (p *Policy) bandIndex(level float64) int {
	if math.IsNaN(level) {
		return 0
	}
	for i, b := range p.Bands {
		if b.contains(level) {
			return i
		}
	}
	return len(p.Bands) - 1
}

func resolveCap(maxOn, n int) int {
	if maxOn < 0 || maxOn > n {
		return n
	}
	return maxOn
}

var (
	moreWords = []string{"comfort", "more", "boost", "performance"}
	saveWords = []string{"save", "saving", "conserve", "minimal", "eco"}
)

// wantsMore reports whether preference text asks for more load in gap bands.
// Conservation wording always wins.
func wantsMore(prefs string) bool {
	text := strings.ToLower(prefs)
	for _, w := range saveWords {
		if containsWord(text, w) {
			return false
		}
	}
	for _, w := range moreWords {
		if containsWord(text, w) {
			return true
		}
	}
	return false
}
