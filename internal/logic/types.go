// Package logic contains the pure state-tracking core of the relay agent.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// RawTelemetry is a possibly partial telemetry record as received.
// Nil fields were absent from the record.
type RawTelemetry struct {
	Voltage      *float64
	Current      *float64
	BatteryLevel *float64
	Power        *float64
	Temperature  *float64
	Humidity     *float64
	Timestamp    time.Time // zero if the record carried none
}

// Empty reports whether the record has no numeric field at all.
func (r RawTelemetry) Empty() bool {
	return r.Voltage == nil && r.Current == nil && r.BatteryLevel == nil &&
		r.Power == nil && r.Temperature == nil && r.Humidity == nil
}

// Snapshot is the merged, current view of energy telemetry.
// It is a value type; pointer fields are never shared between snapshots.
type Snapshot struct {
	Voltage      *float64
	Current      *float64
	BatteryLevel *float64 // percent, 0-100
	Power        *float64
	Temperature  *float64
	Humidity     *float64
	Timestamp    time.Time
}

// Battery returns the battery level and whether one is known.
func (s Snapshot) Battery() (float64, bool) {
	if s.BatteryLevel == nil {
		return 0, false
	}
	return *s.BatteryLevel, true
}

// PowerOrZero returns the power reading, or 0 when unknown.
func (s Snapshot) PowerOrZero() float64 {
	if s.Power == nil {
		return 0
	}
	return *s.Power
}

// Counts tracks agent activity since startup.
type Counts struct {
	Automations   int // automation decisions applied
	Dropped       int // automation requests dropped while one was in flight
	Deferred      int // automation requests deferred for lack of a forecast
	Toggles       int // operator toggles
	WriteFailures int // individual relay writes that failed
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    Counts
}
