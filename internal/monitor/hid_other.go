//go:build !windows

package monitor

import "errors"

// HIDCounter is only available on Windows.
type HIDCounter struct{}

// NewHIDCounter always fails on this platform.
func NewHIDCounter(vendorID uint16) (*HIDCounter, error) {
	return nil, errors.New("hid enumeration not supported on this platform")
}

// Count is never reached on this platform.
func (c *HIDCounter) Count() (int, error) {
	return 0, errors.New("hid enumeration not supported on this platform")
}
