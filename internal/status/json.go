package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/relay-agent/internal/relay"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string         `json:"event,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Relays        []RelayJSON    `json:"relays"`
	Telemetry     *TelemetryJSON `json:"telemetry,omitempty"`
	Automation    AutomationJSON `json:"automation"`
	Forecast      *ForecastJSON  `json:"forecast,omitempty"`
	LastDecision  *DecisionJSON  `json:"last_decision,omitempty"`
	Preferences   string         `json:"preferences"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	MQTT          MQTTStatus     `json:"mqtt"`
	Counts        CountsJSON     `json:"counts"`
	Network       *NetworkJSON   `json:"network,omitempty"`
	Config        ConfigJSON     `json:"config"`
}

// RelayJSON is one relay.
type RelayJSON struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// TelemetryJSON is the merged telemetry snapshot.
type TelemetryJSON struct {
	Voltage      *float64 `json:"voltage,omitempty"`
	Current      *float64 `json:"current,omitempty"`
	BatteryLevel *float64 `json:"battery_level,omitempty"`
	Power        *float64 `json:"power,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	Humidity     *float64 `json:"humidity,omitempty"`
	Timestamp    string   `json:"timestamp"`
}

// AutomationJSON reports guard and automation state.
type AutomationJSON struct {
	Guard     string  `json:"guard"`
	Threshold float64 `json:"threshold"`
	Pending   bool    `json:"pending"`
	InFlight  bool    `json:"in_flight"`
}

// ForecastJSON is the forecast in use.
type ForecastJSON struct {
	PredictedUsage float64 `json:"predicted_usage"`
	Summary        string  `json:"usage_pattern_summary,omitempty"`
	FetchedAt      string  `json:"fetched_at,omitempty"`
}

// DecisionJSON is the last applied decision.
type DecisionJSON struct {
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp"`
	Trigger   string `json:"trigger"`
	Band      string `json:"band,omitempty"`
	OnCount   int    `json:"on_count"`
	Rationale string `json:"rationale,omitempty"`
	Failed    []int  `json:"failed,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of activity counters.
type CountsJSON struct {
	Automations   int `json:"automations"`
	Dropped       int `json:"dropped"`
	Deferred      int `json:"deferred"`
	Toggles       int `json:"toggles"`
	WriteFailures int `json:"write_failures"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of agent config.
type ConfigJSON struct {
	Broker      string `json:"broker"`
	Prefix      string `json:"prefix"`
	HTTPAddr    string `json:"http_addr"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	WriteMs     int64  `json:"write_timeout_ms"`
	RelayCount  int    `json:"relay_count"`
	GPIOEnabled bool   `json:"gpio_enabled"`
	ActiveLow   bool   `json:"active_low"`
	ForecastURL string `json:"forecast_url,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	guard := string(snap.Automation.Guard)
	if guard == "" {
		guard = "UNKNOWN"
	}

	inner := StatusInner{
		Relays: make([]RelayJSON, 0, len(snap.Relays)),
		Automation: AutomationJSON{
			Guard:     guard,
			Threshold: snap.Automation.Threshold,
			Pending:   snap.Automation.Pending,
			InFlight:  snap.Automation.InFlight,
		},
		Preferences:   snap.Preferences,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Automations:   snap.Counts.Automations,
			Dropped:       snap.Counts.Dropped,
			Deferred:      snap.Counts.Deferred,
			Toggles:       snap.Counts.Toggles,
			WriteFailures: snap.Counts.WriteFailures,
		},
		Config: ConfigJSON{
			Broker:      snap.Config.Broker,
			Prefix:      snap.Config.Prefix,
			HTTPAddr:    snap.Config.HTTPAddr,
			HeartbeatMs: snap.Config.HeartbeatMs,
			WriteMs:     snap.Config.WriteMs,
			RelayCount:  snap.Config.RelayCount,
			GPIOEnabled: snap.Config.GPIOEnabled,
			ActiveLow:   snap.Config.ActiveLow,
			ForecastURL: snap.Config.ForecastURL,
		},
	}

	for _, r := range snap.Relays {
		inner.Relays = append(inner.Relays, RelayJSON{ID: int(r.ID), Name: r.Name, State: relay.StateString(r.On)})
	}

	if snap.HasTelemetry {
		tel := snap.Telemetry
		inner.Telemetry = &TelemetryJSON{
			Voltage:      tel.Voltage,
			Current:      tel.Current,
			BatteryLevel: tel.BatteryLevel,
			Power:        tel.Power,
			Temperature:  tel.Temperature,
			Humidity:     tel.Humidity,
			Timestamp:    tel.Timestamp.UTC().Format(time.RFC3339),
		}
	}

	if f := snap.Forecast; f != nil {
		fj := &ForecastJSON{PredictedUsage: f.PredictedUsage, Summary: f.UsagePatternSummary}
		if !f.FetchedAt.IsZero() {
			fj.FetchedAt = f.FetchedAt.UTC().Format(time.RFC3339)
		}
		inner.Forecast = fj
	}

	if d := snap.LastDecision; d != nil {
		dj := &DecisionJSON{
			ID:        d.ID,
			Timestamp: d.Timestamp.UTC().Format(time.RFC3339),
			Trigger:   d.Trigger,
			Band:      d.Band,
			OnCount:   d.OnCount,
			Rationale: d.Rationale,
		}
		for _, id := range d.Failed {
			dj.Failed = append(dj.Failed, int(id))
		}
		inner.LastDecision = dj
	}

	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

