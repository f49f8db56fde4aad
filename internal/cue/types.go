// Package cue binds the Corsair Utility Engine lighting SDK.
//
// The SDK is a native library shipped with the vendor software. It may be
// missing, its service may not be running yet, and devices may come and go,
// so every call here is fallible and callers treat failures as best-effort.
package cue

import (
	"errors"
	"fmt"

	"github.com/dokzlo13/idlergb/internal/color"
)

var (
	// ErrUnavailable is returned when the SDK library or its service cannot be reached.
	ErrUnavailable = errors.New("cue: sdk not available")
	// ErrNotInitialized is returned when a device call is made before Initialize.
	ErrNotInitialized = errors.New("cue: sdk not initialized")
)

// DeviceType mirrors CorsairDeviceType.
type DeviceType int

const (
	DeviceUnknown DeviceType = iota
	DeviceMouse
	DeviceKeyboard
	DeviceHeadset
	DeviceMousemat
	DeviceHeadsetStand
	DeviceCommanderPro
	DeviceLightingNodePro
	DeviceMemoryModule
	DeviceCooler
)

// String returns a human-readable name for the device type.
func (t DeviceType) String() string {
	switch t {
	case DeviceMouse:
		return "mouse"
	case DeviceKeyboard:
		return "keyboard"
	case DeviceHeadset:
		return "headset"
	case DeviceMousemat:
		return "mousemat"
	case DeviceHeadsetStand:
		return "headset_stand"
	case DeviceCommanderPro:
		return "commander_pro"
	case DeviceLightingNodePro:
		return "lighting_node_pro"
	case DeviceMemoryModule:
		return "memory_module"
	case DeviceCooler:
		return "cooler"
	default:
		return "unknown"
	}
}

// LedID mirrors CorsairLedId. Only the identifiers with special handling are named.
type LedID int32

const (
	LedInvalid           LedID = 0
	LedBrightness        LedID = 73
	LedWinLock           LedID = 97
	LedMute              LedID = 98
	LedStop              LedID = 99
	LedScanPreviousTrack LedID = 100
	LedPlayPause         LedID = 101
	LedScanNextTrack     LedID = 102
)

// LedColor is a color assignment for a single LED.
type LedColor struct {
	ID    LedID
	Color color.RGB
}

// DeviceInfo describes one device reported by the SDK.
type DeviceInfo struct {
	Index int
	Type  DeviceType
	Model string
	LEDs  []LedID
}

// HasLED returns true if the device exposes the given LED.
func (d DeviceInfo) HasLED(id LedID) bool {
	for _, led := range d.LEDs {
		if led == id {
			return true
		}
	}
	return false
}

// ErrorCode mirrors CorsairError.
type ErrorCode int

const (
	CodeSuccess ErrorCode = iota
	CodeServerNotFound
	CodeNoControl
	CodeProtocolHandshakeMissing
	CodeIncompatibleProtocol
	CodeInvalidArguments
)

// String returns the SDK name of the error code.
func (c ErrorCode) String() string {
	switch c {
	case CodeSuccess:
		return "CE_Success"
	case CodeServerNotFound:
		return "CE_ServerNotFound"
	case CodeNoControl:
		return "CE_NoControl"
	case CodeProtocolHandshakeMissing:
		return "CE_ProtocolHandshakeMissing"
	case CodeIncompatibleProtocol:
		return "CE_IncompatibleProtocol"
	case CodeInvalidArguments:
		return "CE_InvalidArguments"
	default:
		return fmt.Sprintf("CE_Unknown(%d)", int(c))
	}
}

// Error is a failed SDK call.
type Error struct {
	Op   string
	Code ErrorCode
}

func (e *Error) Error() string {
	return fmt.Sprintf("cue: %s failed: %s", e.Op, e.Code)
}

// Unwrap maps "server not found" onto ErrUnavailable.
func (e *Error) Unwrap() error {
	if e.Code == CodeServerNotFound {
		return ErrUnavailable
	}
	return nil
}

// Runtime is the vendor lighting runtime.
type Runtime interface {
	// Available returns true if the SDK library can be loaded.
	Available() bool

	// Initialize performs the protocol handshake with the vendor service.
	Initialize() error

	// Initialized returns true after a successful Initialize.
	Initialized() bool

	// Reinitialize drops lighting control and repeats the handshake,
	// which also refreshes the device list.
	Reinitialize() error

	// DeviceCount returns the number of devices known to the vendor service.
	DeviceCount() (int, error)

	// Devices enumerates devices and their LEDs.
	Devices() ([]DeviceInfo, error)

	// SetColors buffers colors for a device. Nothing is visible until Flush.
	SetColors(index int, colors []LedColor) error

	// Flush commits buffered colors to the hardware.
	Flush() error

	// ReleaseControl hands lighting back to the vendor software.
	ReleaseControl() error
}
