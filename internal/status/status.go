// Package status provides a thread-safe status tracker for the relay agent.
// It is read by the HTTP server and by heartbeat/startup/shutdown events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/relay-agent/internal/forecast"
	"github.com/sweeney/relay-agent/internal/logic"
	"github.com/sweeney/relay-agent/internal/relay"
)

// NetworkInfo contains network state.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains agent configuration for display.
type Config struct {
	Broker      string
	Prefix      string
	HTTPAddr    string
	HeartbeatMs int64
	WriteMs     int64
	RelayCount  int
	GPIOEnabled bool
	ActiveLow   bool
	ForecastURL string
}

// Automation is the state of the load-shedding automation.
type Automation struct {
	Guard     logic.GuardState
	Threshold float64
	Pending   bool // fired, waiting for a forecast
	InFlight  bool
}

// Decision summarizes the last applied decision.
type Decision struct {
	ID        string
	Timestamp time.Time
	Trigger   string
	Band      string
	OnCount   int
	Rationale string
	Failed    []relay.ID
}

// Snapshot is a point-in-time view of agent state.
// It is a value type: safe to use after the lock is released.
type Snapshot struct {
	Relays        []relay.State
	Telemetry     logic.Snapshot
	HasTelemetry  bool
	Automation    Automation
	Forecast      *forecast.Forecast
	LastDecision  *Decision
	Preferences   string
	Counts        logic.Counts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the agent started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable agent state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// SetRelays replaces the relay list. The slice is copied.
func (t *Tracker) SetRelays(relays []relay.State) {
	cp := append([]relay.State(nil), relays...)
	t.mu.Lock()
	t.snap.Relays = cp
	t.mu.Unlock()
}

// SetTelemetry records the latest merged telemetry.
func (t *Tracker) SetTelemetry(s logic.Snapshot) {
	t.mu.Lock()
	t.snap.Telemetry = s
	t.snap.HasTelemetry = true
	t.mu.Unlock()
}

// SetAutomation records guard and automation state.
func (t *Tracker) SetAutomation(a Automation) {
	t.mu.Lock()
	t.snap.Automation = a
	t.mu.Unlock()
}

// SetForecast records the forecast last used or fetched.
func (t *Tracker) SetForecast(f forecast.Forecast) {
	t.mu.Lock()
	t.snap.Forecast = &f
	t.mu.Unlock()
}

// SetDecision records the last applied decision.
func (t *Tracker) SetDecision(d Decision) {
	d.Failed = append([]relay.ID(nil), d.Failed...)
	t.mu.Lock()
	t.snap.LastDecision = &d
	t.mu.Unlock()
}

// SetPreferences records the operator preference text.
func (t *Tracker) SetPreferences(p string) {
	t.mu.Lock()
	t.snap.Preferences = p
	t.mu.Unlock()
}

// SetCounts records activity counters.
func (t *Tracker) SetCounts(c logic.Counts) {
	t.mu.Lock()
	t.snap.Counts = c
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the agent state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Relays = append([]relay.State(nil), t.snap.Relays...)
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
