// Package mqtt connects the agent to the shared remote store: an MQTT broker
// holding retained relay states and the energy telemetry stream.
package mqtt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/relay-agent/internal/logic"
	"github.com/sweeney/relay-agent/internal/relay"
)

// DefaultPrefix is the topic prefix used when none is configured.
const DefaultPrefix = "solaris"

// ErrNotConnected is returned by writes attempted while the broker is unreachable.
var ErrNotConnected = errors.New("mqtt: not connected")

// ErrMalformed marks a payload that could not be decoded.
var ErrMalformed = errors.New("mqtt: malformed payload")

// Topics are the MQTT topics used by the agent.
type Topics struct {
	Telemetry string // partial telemetry records
	Relays    string // retained full relay map
	System    string // agent lifecycle events
	Decisions string // applied decisions
}

// NewTopics builds the topic set under prefix.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return Topics{
		Telemetry: prefix + "/app/energyData",
		Relays:    prefix + "/app/switchStates",
		System:    prefix + "/agent/system",
		Decisions: prefix + "/agent/decisions",
	}
}

// Relay returns the retained topic of a single relay.
func (t Topics) Relay(id relay.ID) string {
	return t.Relays + "/" + strconv.Itoa(int(id))
}

// RelayWildcard matches every single-relay topic.
func (t Topics) RelayWildcard() string {
	return t.Relays + "/+"
}

// RelayID extracts the relay id from a single-relay topic.
func (t Topics) RelayID(topic string) (relay.ID, bool) {
	rest, ok := strings.CutPrefix(topic, t.Relays+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return 0, false
	}
	id, err := relay.ParseID(rest)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Handler receives decoded inbound records.
type Handler interface {
	HandleTelemetry(raw logic.RawTelemetry)
	HandleRelays(raw map[relay.ID]relay.Wire)
}

// Publisher publishes agent events to the broker.
type Publisher interface {
	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// PublishDecision sends an applied decision to the broker.
	PublishDecision(event DecisionEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// TelemetryPayload is the wire format of a telemetry record.
type TelemetryPayload struct {
	Voltage      *float64        `json:"voltage,omitempty"`
	Current      *float64        `json:"current,omitempty"`
	BatteryLevel *float64        `json:"batteryLevel,omitempty"`
	Power        *float64        `json:"power,omitempty"`
	Temperature  *float64        `json:"temperature,omitempty"`
	Humidity     *float64        `json:"humidity,omitempty"`
	Timestamp    json.RawMessage `json:"timestamp,omitempty"`
}

// ParseTelemetry decodes a telemetry record. The timestamp may be an RFC3339
// string or unix milliseconds; an unparseable timestamp is dropped.
func ParseTelemetry(payload []byte) (logic.RawTelemetry, error) {
	var p TelemetryPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return logic.RawTelemetry{}, fmt.Errorf("%w: telemetry: %v", ErrMalformed, err)
	}
	raw := logic.RawTelemetry{
		Voltage:      p.Voltage,
		Current:      p.Current,
		BatteryLevel: p.BatteryLevel,
		Power:        p.Power,
		Temperature:  p.Temperature,
		Humidity:     p.Humidity,
		Timestamp:    parseTimestamp(p.Timestamp),
	}
	if raw.Empty() {
		return raw, fmt.Errorf("%w: telemetry has no numeric fields", ErrMalformed)
	}
	return raw, nil
}

func parseTimestamp(b json.RawMessage) time.Time {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
		return time.Time{}
	}
	var ms int64
	if err := json.Unmarshal(b, &ms); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}

// RelayPayload is the wire format of a single relay record.
type RelayPayload struct {
	Name  string `json:"name,omitempty"`
	State *bool  `json:"state"`
}

// ParseRelayMap decodes the full relay map, e.g.
//
//	{"1":{"name":"Switch 1","state":true},"2":{"state":false}}
//
// Entries with a bad key or no state are skipped; an error is returned only
// when nothing usable remains.
func ParseRelayMap(payload []byte) (map[relay.ID]relay.Wire, error) {
	var m map[string]RelayPayload
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("%w: relay map: %v", ErrMalformed, err)
	}
	out := make(map[relay.ID]relay.Wire, len(m))
	for key, p := range m {
		id, err := relay.ParseID(key)
		if err != nil || p.State == nil {
			continue
		}
		out[id] = relay.Wire{ID: id, Name: p.Name, State: relay.WireState(*p.State)}
	}
	if len(out) == 0 && len(m) > 0 {
		return nil, fmt.Errorf("%w: relay map has no valid entries", ErrMalformed)
	}
	return out, nil
}

// ParseRelay decodes a single relay record, either {"name":..,"state":..}
// or a bare boolean wire state.
func ParseRelay(id relay.ID, payload []byte) (relay.Wire, error) {
	trimmed := bytes.TrimSpace(payload)
	var b bool
	if err := json.Unmarshal(trimmed, &b); err == nil {
		return relay.Wire{ID: id, State: relay.WireState(b)}, nil
	}
	var p RelayPayload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return relay.Wire{}, fmt.Errorf("%w: relay %d: %v", ErrMalformed, id, err)
	}
	if p.State == nil {
		return relay.Wire{}, fmt.Errorf("%w: relay %d: missing state", ErrMalformed, id)
	}
	return relay.Wire{ID: id, Name: p.Name, State: relay.WireState(*p.State)}, nil
}

// FormatRelay encodes a single relay record.
func FormatRelay(w relay.Wire) ([]byte, error) {
	state := bool(w.State)
	return json.Marshal(RelayPayload{Name: w.Name, State: &state})
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// DecisionEvent is an applied automation decision or operator toggle.
type DecisionEvent struct {
	ID        string
	Timestamp time.Time
	Trigger   string // "automation" or "manual"
	Band      string
	Battery   *float64
	Rationale string
	Relays    map[relay.ID]bool
	Failed    []relay.ID
}

// DecisionPayload is the wire format of a DecisionEvent.
type DecisionPayload struct {
	Decision DecisionPayloadInner `json:"decision"`
}

// DecisionPayloadInner contains the decision details.
type DecisionPayloadInner struct {
	ID        string            `json:"id"`
	Timestamp string            `json:"timestamp"`
	Trigger   string            `json:"trigger"`
	Band      string            `json:"band,omitempty"`
	Battery   *float64          `json:"battery,omitempty"`
	Rationale string            `json:"rationale,omitempty"`
	Relays    map[string]string `json:"relays"`
	Failed    []int             `json:"failed,omitempty"`
}

// FormatDecisionPayload creates the JSON payload for a decision event.
func FormatDecisionPayload(event DecisionEvent) ([]byte, error) {
	relays := make(map[string]string, len(event.Relays))
	for id, on := range event.Relays {
		relays[strconv.Itoa(int(id))] = relay.StateString(on)
	}
	var failed []int
	for _, id := range event.Failed {
		failed = append(failed, int(id))
	}
	return json.Marshal(DecisionPayload{
		Decision: DecisionPayloadInner{
			ID:        event.ID,
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Trigger:   event.Trigger,
			Band:      event.Band,
			Battery:   event.Battery,
			Rationale: event.Rationale,
			Relays:    relays,
			Failed:    failed,
		},
	})
}
