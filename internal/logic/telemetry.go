package logic

import "time"

// TelemetryIngest merges partial telemetry records into a single held snapshot.
// Not safe for concurrent use; the caller serializes events.
type TelemetryIngest struct {
	current Snapshot
	held    bool
}

// NewTelemetryIngest creates an ingest with no snapshot held.
func NewTelemetryIngest() *TelemetryIngest {
	return &TelemetryIngest{}
}

// OnSnapshot merges raw into the held snapshot and returns the result.
// changed reports whether the battery level differs from the previous snapshot.
// A record with no numeric fields is ignored and ok is false.
// now is used when the record carries no timestamp.
func (t *TelemetryIngest) OnSnapshot(raw RawTelemetry, now time.Time) (snap Snapshot, changed bool, ok bool) {
	if raw.Empty() {
		return t.current.clone(), false, false
	}

	prev := t.current
	next := Snapshot{
		Voltage:      pick(raw.Voltage, prev.Voltage),
		Current:      pick(raw.Current, prev.Current),
		BatteryLevel: pick(raw.BatteryLevel, prev.BatteryLevel),
		Power:        pick(raw.Power, prev.Power),
		Temperature:  pick(raw.Temperature, prev.Temperature),
		Humidity:     pick(raw.Humidity, prev.Humidity),
		Timestamp:    raw.Timestamp,
	}
	if next.Timestamp.IsZero() {
		next.Timestamp = now
	}
	if next.Voltage != nil && next.Current != nil {
		p := *next.Voltage * *next.Current
		next.Power = &p
	}

	changed = !sameValue(prev.BatteryLevel, next.BatteryLevel)
	t.current = next
	t.held = true
	return next.clone(), changed, true
}

// Latest returns a copy of the held snapshot.
func (t *TelemetryIngest) Latest() (Snapshot, bool) {
	return t.current.clone(), t.held
}

// pick returns a fresh copy of v if present, else a fresh copy of prev.
func pick(v, prev *float64) *float64 {
	if v != nil {
		return ptr(*v)
	}
	if prev != nil {
		return ptr(*prev)
	}
	return nil
}

func sameValue(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s Snapshot) clone() Snapshot {
	return Snapshot{
		Voltage:      pick(s.Voltage, nil),
		Current:      pick(s.Current, nil),
		BatteryLevel: pick(s.BatteryLevel, nil),
		Power:        pick(s.Power, nil),
		Temperature:  pick(s.Temperature, nil),
		Humidity:     pick(s.Humidity, nil),
		Timestamp:    s.Timestamp,
	}
}

func ptr(f float64) *float64 {
	return &f
}
