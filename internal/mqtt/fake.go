package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/relay-agent/internal/relay"
)

// FakeClient records relay writes and published events for test assertions.
// It is safe for concurrent use.
type FakeClient struct {
	mu sync.Mutex

	writes         []relay.Wire
	writeErrors    map[relay.ID]error
	writeDelay     time.Duration
	systemEvents   []SystemEvent
	systemPayloads [][]byte
	decisions      []DecisionEvent

	// PublishError, if set, is returned by PublishSystem and PublishDecision.
	PublishError error

	closed    bool
	connected bool
}

// NewFakeClient creates a connected FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{writeErrors: map[relay.ID]error{}, connected: true}
}

// FailWrites makes every write of id return err. A nil err clears it.
func (f *FakeClient) FailWrites(id relay.ID, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.writeErrors, id)
		return
	}
	f.writeErrors[id] = err
}

// SetWriteDelay makes each write block for d or until its context ends.
func (f *FakeClient) SetWriteDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeDelay = d
}

// SetConnected controls IsConnected.
func (f *FakeClient) SetConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

// WriteRelay records the write unless it is configured to fail.
func (f *FakeClient) WriteRelay(ctx context.Context, w relay.Wire) error {
	f.mu.Lock()
	delay := f.writeDelay
	err := f.writeErrors[w.ID]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("write relay %d: %w", w.ID, ctx.Err())
		}
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, w)
	return nil
}

// Writes returns the successful writes in order.
func (f *FakeClient) Writes() []relay.Wire {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]relay.Wire(nil), f.writes...)
}

// PublishSystem records the system event.
func (f *FakeClient) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.systemEvents = append(f.systemEvents, event)
	f.systemPayloads = append(f.systemPayloads, payload)
	return nil
}

// SystemEvents returns the recorded system events.
func (f *FakeClient) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.systemEvents...)
}

// SystemPayloads returns the JSON payloads of the recorded system events.
func (f *FakeClient) SystemPayloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.systemPayloads...)
}

// PublishDecision records the decision event.
func (f *FakeClient) PublishDecision(event DecisionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.decisions = append(f.decisions, event)
	return nil
}

// Decisions returns the recorded decision events.
func (f *FakeClient) Decisions() []DecisionEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]DecisionEvent(nil), f.decisions...)
}

// Close marks the client as closed.
func (f *FakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.connected = false
	return nil
}

// Closed reports whether Close was called.
func (f *FakeClient) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// IsConnected reports whether the fake is "connected".
func (f *FakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
