//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/relay-agent/internal/relay"
)

// RealDriver drives relay lines on actual hardware using the Linux GPIO
// character device.
type RealDriver struct {
	chip  *gpiocdev.Chip
	lines map[relay.ID]*gpiocdev.Line
}

// NewRealDriver requests every pin in pins as an output, initially OFF.
// With activeLow the kernel inverts levels so logical ON pulls the pin low,
// matching common relay boards.
func NewRealDriver(chipName string, pins PinMap, activeLow bool) (*RealDriver, error) {
	if chipName == "" {
		chipName = DefaultChip
	}
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	d := &RealDriver{chip: chip, lines: make(map[relay.ID]*gpiocdev.Line, len(pins))}
	for _, id := range pins.IDs() {
		opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0), gpiocdev.WithConsumer("relay-agent")}
		if activeLow {
			opts = append(opts, gpiocdev.AsActiveLow)
		}
		line, err := chip.RequestLine(pins[id], opts...)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("request relay %d pin %d: %w", id, pins[id], err)
		}
		d.lines[id] = line
	}
	return d, nil
}

// Drive sets the logical level of id.
func (d *RealDriver) Drive(id relay.ID, on bool) error {
	line, ok := d.lines[id]
	if !ok {
		return &relay.UnknownRelayError{ID: id}
	}
	v := 0
	if on {
		v = 1
	}
	if err := line.SetValue(v); err != nil {
		return fmt.Errorf("set relay %d: %w", id, err)
	}
	return nil
}

// Read returns the logical level of id.
func (d *RealDriver) Read(id relay.ID) (bool, error) {
	line, ok := d.lines[id]
	if !ok {
		return false, &relay.UnknownRelayError{ID: id}
	}
	v, err := line.Value()
	if err != nil {
		return false, fmt.Errorf("read relay %d: %w", id, err)
	}
	return v == 1, nil
}

// Close switches every relay off and releases the lines.
// Lines are left as inputs so the pins return to their boot defaults.
func (d *RealDriver) Close() error {
	var errs []error
	for id, line := range d.lines {
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("switch off relay %d: %w", id, err))
		}
		if err := line.Reconfigure(gpiocdev.AsInput); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure relay %d: %w", id, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close relay %d: %w", id, err))
		}
	}
	d.lines = nil
	if d.chip != nil {
		if err := d.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		d.chip = nil
	}
	return errors.Join(errs...)
}
