//go:build !linux

package gpio

import (
	"errors"

	"github.com/sweeney/relay-agent/internal/relay"
)

// RealDriver is not available on non-Linux platforms.
type RealDriver struct{}

// NewRealDriver returns an error on non-Linux platforms.
func NewRealDriver(chipName string, pins PinMap, activeLow bool) (*RealDriver, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Drive is not implemented on non-Linux platforms.
func (d *RealDriver) Drive(id relay.ID, on bool) error {
	return errors.New("gpio: not supported")
}

// Read is not implemented on non-Linux platforms.
func (d *RealDriver) Read(id relay.ID) (bool, error) {
	return false, errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (d *RealDriver) Close() error {
	return nil
}
