//go:build windows

package monitor

import (
	"fmt"
	"sync"

	"github.com/sstallion/go-hid"
)

var hidInitOnce sync.Once
var hidInitErr error

// HIDCounter counts attached USB devices of one vendor, whether or not the
// vendor service supports them.
type HIDCounter struct {
	vendorID uint16
}

// NewHIDCounter initializes hidapi and returns a counter for vendorID.
func NewHIDCounter(vendorID uint16) (*HIDCounter, error) {
	hidInitOnce.Do(func() {
		hidInitErr = hid.Init()
	})
	if hidInitErr != nil {
		return nil, hidInitErr
	}
	return &HIDCounter{vendorID: vendorID}, nil
}

// Count returns the number of distinct physical devices.
// A device exposes several HID interfaces, so entries are keyed by product and serial.
func (c *HIDCounter) Count() (int, error) {
	seen := make(map[string]struct{})
	err := hid.Enumerate(c.vendorID, 0, func(info *hid.DeviceInfo) error {
		seen[fmt.Sprintf("%04x:%s", info.ProductID, info.SerialNbr)] = struct{}{}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(seen), nil
}
