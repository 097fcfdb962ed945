// Package reconcile applies desired logical relay states to the remote store
// with optimistic local update and per-relay rollback.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/sweeney/relay-agent/internal/logic"
	"github.com/sweeney/relay-agent/internal/relay"
)

// ErrRemoteWrite marks a recoverable remote write failure. Callers may retry.
var ErrRemoteWrite = errors.New("remote relay write failed")

// DefaultTimeout bounds a single remote relay write.
const DefaultTimeout = 5 * time.Second

// Store is the remote side of relay state.
type Store interface {
	// WriteRelay stores the wire value of one relay. It must honor ctx.
	WriteRelay(ctx context.Context, w relay.Wire) error
}

// Result reports the outcome of an Apply.
type Result struct {
	Applied    []relay.ID         // written successfully
	Failed     map[relay.ID]error // write failed
	RolledBack []relay.ID         // failed and reverted locally
	Previous   map[relay.ID]bool  // logical state before the apply
}

// OK reports whether every write succeeded.
func (r Result) OK() bool {
	return len(r.Failed) == 0
}

// Writer applies decisions and toggles.
type Writer struct {
	table   *logic.RelayTable
	store   Store
	timeout time.Duration
	logger  *slog.Logger
}

// NewWriter creates a Writer. timeout <= 0 uses DefaultTimeout.
func NewWriter(table *logic.RelayTable, store Store, timeout time.Duration, logger *slog.Logger) *Writer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{table: table, store: store, timeout: timeout, logger: logger}
}

// Apply sets every relay in desired to its logical state.
//
// Unknown ids reject the whole call before anything changes. Otherwise the
// local table is updated first, then each relay is written remotely with its
// own timeout. Relays whose write fails are rolled back individually; the
// others keep their new state. The returned error wraps ErrRemoteWrite.
func (w *Writer) Apply(ctx context.Context, desired map[relay.ID]bool) (Result, error) {
	res := Result{Failed: map[relay.ID]error{}, Previous: map[relay.ID]bool{}}

	ids := make([]relay.ID, 0, len(desired))
	for id := range desired {
		if err := w.table.Relays().Check(id); err != nil {
			return res, err
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	names := make(map[relay.ID]string, len(ids))
	for _, id := range ids {
		prev, err := w.table.Set(id, desired[id])
		if err != nil {
			return res, err
		}
		res.Previous[id] = prev
		if s, ok := w.table.Get(id); ok {
			names[id] = s.Name
		}
	}

	var errs []error
	for _, id := range ids {
		on := desired[id]
		err := w.write(ctx, relay.Wire{ID: id, Name: names[id], State: relay.ToWire(on)})
		if err == nil {
			res.Applied = append(res.Applied, id)
			continue
		}

		res.Failed[id] = err
		errs = append(errs, fmt.Errorf("relay %d: %w", id, err))
		if w.table.Restore(id, res.Previous[id], on) {
			res.RolledBack = append(res.RolledBack, id)
		}
		w.logger.Warn("relay write failed",
			"relay", int(id),
			"want", relay.StateString(on),
			"error", err,
		)
	}

	if len(errs) > 0 {
		return res, fmt.Errorf("%w: %w", ErrRemoteWrite, errors.Join(errs...))
	}
	return res, nil
}

// Toggle applies a single-relay decision from the operator.
func (w *Writer) Toggle(ctx context.Context, id relay.ID, on bool) (Result, error) {
	return w.Apply(ctx, map[relay.ID]bool{id: on})
}

func (w *Writer) write(ctx context.Context, wire relay.Wire) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- w.store.WriteRelay(ctx, wire) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return fmt.Errorf("write relay %d: %w", wire.ID, ctx.Err())
	}
}
