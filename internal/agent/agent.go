// Package agent wires telemetry and relay ingest, the threshold guard, the
// allocation policy and the reconciliation writer into one coordinator.
//
// Inbound records arrive on the MQTT callback goroutine. Telemetry ingest
// and guard updates happen under a single mutex, so snapshots are observed
// in arrival order. Automation runs on its own goroutine with at most one
// run in flight; operator toggles bypass that limit.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/sweeney/relay-agent/internal/forecast"
	"github.com/sweeney/relay-agent/internal/gpio"
	"github.com/sweeney/relay-agent/internal/journal"
	"github.com/sweeney/relay-agent/internal/logic"
	"github.com/sweeney/relay-agent/internal/mqtt"
	"github.com/sweeney/relay-agent/internal/policy"
	"github.com/sweeney/relay-agent/internal/reconcile"
	"github.com/sweeney/relay-agent/internal/relay"
	"github.com/sweeney/relay-agent/internal/status"
)

// Decision triggers.
const (
	TriggerAutomation = "automation"
	TriggerManual     = "manual"
)

// ForecastService supplies forecasts to the automation.
type ForecastService interface {
	Current(ctx context.Context) (forecast.Forecast, error)
	Refresh(ctx context.Context) (forecast.Forecast, error)
}

// Journal records applied decisions.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) (journal.Entry, error)
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// EventPublisher announces applied decisions.
type EventPublisher interface {
	PublishDecision(event mqtt.DecisionEvent) error
}

// Options configures an Agent. Store and Forecast are required.
type Options struct {
	Relays       relay.Set
	Threshold    float64
	WriteTimeout time.Duration
	Preferences  string
	Policy       *policy.Policy

	Store    reconcile.Store
	Forecast ForecastService
	Journal  Journal         // optional
	Events   EventPublisher  // optional
	Outputs  *gpio.Outputs   // optional
	Tracker  *status.Tracker // optional
	Logger   *slog.Logger
	Now      func() time.Time
}

// Agent is the coordinator. It implements mqtt.Handler.
type Agent struct {
	table    *logic.RelayTable
	writer   *reconcile.Writer
	policy   *policy.Policy
	forecast ForecastService
	journal  Journal
	events   EventPublisher
	outputs  *gpio.Outputs
	tracker  *status.Tracker
	logger   *slog.Logger
	now      func() time.Time

	mu          sync.Mutex // guards the fields below
	telemetry   *logic.TelemetryIngest
	guard       *logic.ThresholdGuard
	pending     bool
	counts      logic.Counts
	preferences string

	slot   chan struct{} // holds a token while an automation runs
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an Agent.
func New(opts Options) (*Agent, error) {
	if opts.Relays.Len() == 0 {
		return nil, errors.New("agent: no relays configured")
	}
	if opts.Store == nil {
		return nil, errors.New("agent: relay store required")
	}
	if opts.Forecast == nil {
		return nil, errors.New("agent: forecast service required")
	}
	if opts.Threshold == 0 {
		opts.Threshold = logic.DefaultThreshold
	}
	if opts.Policy == nil {
		opts.Policy = policy.New(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Tracker == nil {
		opts.Tracker = status.NewTracker(opts.Now(), status.Config{RelayCount: opts.Relays.Len()})
	}

	table := logic.NewRelayTable(opts.Relays)
	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		table:       table,
		writer:      reconcile.NewWriter(table, opts.Store, opts.WriteTimeout, opts.Logger),
		policy:      opts.Policy,
		forecast:    opts.Forecast,
		journal:     opts.Journal,
		events:      opts.Events,
		outputs:     opts.Outputs,
		tracker:     opts.Tracker,
		logger:      opts.Logger,
		now:         opts.Now,
		telemetry:   logic.NewTelemetryIngest(),
		guard:       logic.NewThresholdGuard(opts.Threshold),
		preferences: opts.Preferences,
		slot:        make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}

	a.tracker.SetRelays(table.Snapshot())
	a.tracker.SetPreferences(opts.Preferences)
	a.mu.Lock()
	a.syncAutomationLocked()
	a.mu.Unlock()
	return a, nil
}

// HandleTelemetry ingests one (possibly partial) telemetry record.
func (a *Agent) HandleTelemetry(raw logic.RawTelemetry) {
	a.mu.Lock()
	snap, changed, ok := a.telemetry.OnSnapshot(raw, a.now())
	if !ok {
		a.mu.Unlock()
		a.logger.Debug("ignoring empty telemetry record")
		return
	}

	fired := false
	if changed {
		if level, known := snap.Battery(); known {
			wasArmed := a.guard.Armed()
			if a.guard.Observe(level) {
				fired = true
				a.pending = true
				a.logger.Info("battery crossed threshold", "battery", level, "threshold", a.guard.Threshold())
			} else if wasArmed && !a.guard.Armed() {
				a.logger.Info("guard disarmed", "battery", level)
				if a.pending {
					a.pending = false
					a.logger.Info("pending automation cancelled")
				}
			}
		}
	}
	retry := !fired && a.pending && a.guard.Armed()
	a.syncAutomationLocked()
	a.mu.Unlock()

	a.tracker.SetTelemetry(snap)

	if fired || retry {
		a.requestAutomation(retry)
	}
}

// HandleRelays ingests a full or partial relay map from the remote store.
// Observed relays are mirrored onto the GPIO outputs.
func (a *Agent) HandleRelays(raw map[relay.ID]relay.Wire) {
	changed, err := a.table.Observe(raw)
	if err != nil {
		a.logger.Warn("relay record rejected", "error", err)
	}
	for _, id := range changed {
		if s, ok := a.table.Get(id); ok {
			a.logger.Info("relay state", "relay", int(id), "name", s.Name, "state", relay.StateString(s.On))
		}
	}

	if a.outputs != nil {
		observed := make([]relay.State, 0, len(raw))
		for id := range raw {
			if s, ok := a.table.Get(id); ok {
				observed = append(observed, s)
			}
		}
		if _, err := a.outputs.Apply(observed); err != nil {
			a.logger.Error("gpio update failed", "error", err)
		}
	}

	a.tracker.SetRelays(a.table.Snapshot())
}

// requestAutomation starts an automation run unless one is in flight.
// The run claims the pending request; a fresh request that finds the slot
// taken is dropped along with its pending flag.
func (a *Agent) requestAutomation(retry bool) {
	select {
	case a.slot <- struct{}{}:
	default:
		if retry {
			return
		}
		a.mu.Lock()
		a.counts.Dropped++
		a.pending = false
		a.syncAutomationLocked()
		a.mu.Unlock()
		a.logger.Warn("automation already in flight, request dropped")
		return
	}

	a.mu.Lock()
	if !a.pending {
		<-a.slot
		a.syncAutomationLocked()
		a.mu.Unlock()
		return
	}
	a.pending = false
	a.syncAutomationLocked()
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			<-a.slot
			a.mu.Lock()
			a.syncAutomationLocked()
			a.mu.Unlock()
		}()
		a.runAutomation(a.ctx)
	}()
}

func (a *Agent) runAutomation(ctx context.Context) {
	f, err := a.forecast.Current(ctx)
	if err != nil {
		a.mu.Lock()
		a.counts.Deferred++
		if a.guard.Armed() {
			a.pending = true
		}
		a.syncAutomationLocked()
		a.mu.Unlock()
		a.logger.Warn("automation deferred", "error", err)
		return
	}
	a.tracker.SetForecast(f)

	a.mu.Lock()
	if !a.guard.Armed() {
		a.mu.Unlock()
		a.logger.Info("automation no longer needed")
		return
	}
	snap, _ := a.telemetry.Latest()
	prefs := a.preferences
	a.mu.Unlock()

	level, ok := snap.Battery()
	if !ok {
		level = math.NaN()
	}
	d := a.policy.Decide(policy.Input{
		Battery:     level,
		Power:       snap.PowerOrZero(),
		Forecast:    f,
		Preferences: prefs,
		Relays:      a.table.Snapshot(),
	})
	a.logger.Info("automation decision", "band", d.Band, "on", d.OnCount, "rationale", d.Rationale)

	res, err := a.writer.Apply(ctx, d.PerRelay)
	if err != nil && !errors.Is(err, reconcile.ErrRemoteWrite) {
		a.logger.Error("automation rejected", "error", err)
		return
	}
	a.record(ctx, journal.Entry{
		Trigger:   TriggerAutomation,
		Band:      d.Band,
		Battery:   snap.BatteryLevel,
		OnCount:   d.OnCount,
		Relays:    d.PerRelay,
		Rationale: d.Rationale,
	}, res)
}

// Toggle sets one relay on behalf of the operator. It does not wait for
// or block a running automation. Unknown ids fail with relay.ErrUnknownRelay;
// remote failures wrap reconcile.ErrRemoteWrite.
func (a *Agent) Toggle(ctx context.Context, id relay.ID, on bool) (reconcile.Result, error) {
	res, err := a.writer.Toggle(ctx, id, on)
	if err != nil && !errors.Is(err, reconcile.ErrRemoteWrite) {
		return res, err
	}
	name := relay.DefaultName(id)
	if s, ok := a.table.Get(id); ok {
		name = s.Name
	}
	a.logger.Info("operator toggle", "relay", int(id), "name", name, "state", relay.StateString(on), "ok", err == nil)

	onCount := 0
	if on {
		onCount = 1
	}
	a.mu.Lock()
	battery := a.latestBatteryLocked()
	a.mu.Unlock()
	a.record(ctx, journal.Entry{
		Trigger:   TriggerManual,
		Battery:   battery,
		OnCount:   onCount,
		Relays:    map[relay.ID]bool{id: on},
		Rationale: fmt.Sprintf("operator set %s %s", name, relay.StateString(on)),
	}, res)
	return res, err
}

func (a *Agent) latestBatteryLocked() *float64 {
	snap, ok := a.telemetry.Latest()
	if !ok {
		return nil
	}
	return snap.BatteryLevel
}

// record updates counters, journals the entry and announces it.
func (a *Agent) record(ctx context.Context, e journal.Entry, res reconcile.Result) {
	e.Timestamp = a.now()
	for _, id := range a.table.Relays().IDs() {
		if _, failed := res.Failed[id]; failed {
			e.Failed = append(e.Failed, id)
		}
	}

	a.mu.Lock()
	if e.Trigger == TriggerManual {
		a.counts.Toggles++
	} else {
		a.counts.Automations++
	}
	a.counts.WriteFailures += len(res.Failed)
	counts := a.counts
	a.mu.Unlock()

	if a.journal != nil {
		stored, err := a.journal.Record(ctx, e)
		if err != nil {
			a.logger.Error("journal write failed", "error", err)
		} else {
			e = stored
		}
	}

	if a.events != nil {
		if err := a.events.PublishDecision(mqtt.DecisionEvent{
			ID:        e.ID,
			Timestamp: e.Timestamp,
			Trigger:   e.Trigger,
			Band:      e.Band,
			Battery:   e.Battery,
			Rationale: e.Rationale,
			Relays:    e.Relays,
			Failed:    e.Failed,
		}); err != nil {
			a.logger.Warn("decision publish failed", "error", err)
		}
	}

	a.tracker.SetCounts(counts)
	a.tracker.SetRelays(a.table.Snapshot())
	a.tracker.SetDecision(status.Decision{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		Trigger:   e.Trigger,
		Band:      e.Band,
		OnCount:   e.OnCount,
		Rationale: e.Rationale,
		Failed:    e.Failed,
	})
}

func (a *Agent) syncAutomationLocked() {
	a.tracker.SetAutomation(status.Automation{
		Guard:     a.guard.State(),
		Threshold: a.guard.Threshold(),
		Pending:   a.pending,
		InFlight:  len(a.slot) > 0,
	})
	a.tracker.SetCounts(a.counts)
}

// SetPreferences replaces the operator preference text used by the next decision.
func (a *Agent) SetPreferences(p string) {
	a.mu.Lock()
	a.preferences = p
	a.mu.Unlock()
	a.tracker.SetPreferences(p)
	a.logger.Info("preferences updated", "length", len(p))
}

// Preferences returns the operator preference text.
func (a *Agent) Preferences() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.preferences
}

// RefreshForecast forces a new forecast fetch.
func (a *Agent) RefreshForecast(ctx context.Context) (forecast.Forecast, error) {
	f, err := a.forecast.Refresh(ctx)
	if err != nil {
		return f, err
	}
	a.tracker.SetForecast(f)

	a.mu.Lock()
	retry := a.pending && a.guard.Armed()
	a.mu.Unlock()
	if retry {
		a.requestAutomation(true)
	}
	return f, nil
}

// Decisions returns up to limit journal entries, newest first.
func (a *Agent) Decisions(ctx context.Context, limit int) ([]journal.Entry, error) {
	if a.journal == nil {
		return nil, nil
	}
	return a.journal.Recent(ctx, limit)
}

// Relays returns the held relay states sorted by id.
func (a *Agent) Relays() []relay.State {
	return a.table.Snapshot()
}

// Telemetry returns the latest merged telemetry snapshot.
func (a *Agent) Telemetry() (logic.Snapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.telemetry.Latest()
}

// Counts returns activity counters.
func (a *Agent) Counts() logic.Counts {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts
}

// Pending reports whether a fired automation is waiting for a forecast.
func (a *Agent) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending
}

// GuardState returns the threshold guard state.
func (a *Agent) GuardState() logic.GuardState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.guard.State()
}

// Wait blocks until no automation is running.
func (a *Agent) Wait() {
	a.wg.Wait()
}

// Stop cancels running automation and waits for it to finish.
func (a *Agent) Stop() {
	a.cancel()
	a.wg.Wait()
}
