package gpio

import (
	"sync"

	"github.com/sweeney/relay-agent/internal/relay"
)

// Call is one recorded Drive.
type Call struct {
	ID relay.ID
	On bool
}

// FakeDriver records driven levels. It doubles as the driver used when
// GPIO output is disabled. Safe for concurrent use.
type FakeDriver struct {
	mu     sync.Mutex
	calls  []Call
	levels map[relay.ID]bool
	errs   map[relay.ID]error
	closed bool
}

// NewFakeDriver creates a FakeDriver with every line OFF.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{levels: map[relay.ID]bool{}, errs: map[relay.ID]error{}}
}

// FailDrive makes Drive of id return err. A nil err clears it.
func (f *FakeDriver) FailDrive(id relay.ID, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, id)
		return
	}
	f.errs[id] = err
}

// Drive records the call.
func (f *FakeDriver) Drive(id relay.ID, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[id]; err != nil {
		return err
	}
	f.calls = append(f.calls, Call{ID: id, On: on})
	f.levels[id] = on
	return nil
}

// Read returns the last driven level of id.
func (f *FakeDriver) Read(id relay.ID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.levels[id], nil
}

// Calls returns the recorded drives in order.
func (f *FakeDriver) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Close marks the driver as closed.
func (f *FakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakeDriver) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
