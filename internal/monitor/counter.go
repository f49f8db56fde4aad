package monitor

import (
	"fmt"

	"github.com/dokzlo13/idlergb/internal/cue"
)

// CorsairVendorID is the USB vendor id of Corsair peripherals.
const CorsairVendorID = 0x1B1C

// SDKCounter counts devices known to the vendor service.
type SDKCounter struct {
	rt cue.Runtime
}

// NewSDKCounter creates a counter backed by the vendor runtime.
func NewSDKCounter(rt cue.Runtime) *SDKCounter {
	return &SDKCounter{rt: rt}
}

// Count returns the vendor device count.
func (c *SDKCounter) Count() (int, error) {
	return c.rt.DeviceCount()
}

// NewCounter returns the counter named by source ("sdk" or "hid").
// Unknown or unsupported sources fall back to the SDK counter.
func NewCounter(source string, rt cue.Runtime) (Counter, error) {
	switch source {
	case "", "sdk":
		return NewSDKCounter(rt), nil
	case "hid":
		c, err := NewHIDCounter(CorsairVendorID)
		if err != nil {
			return NewSDKCounter(rt), fmt.Errorf("hid device counter unavailable: %w", err)
		}
		return c, nil
	default:
		return NewSDKCounter(rt), fmt.Errorf("unknown device count source %q", source)
	}
}
