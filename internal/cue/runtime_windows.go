//go:build windows

package cue

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/windows"
)

// accessExclusiveLightingControl is CAM_ExclusiveLightingControl.
const accessExclusiveLightingControl = 0

// protocolDetails mirrors CorsairProtocolDetails.
type protocolDetails struct {
	SDKVersion            *byte
	ServerVersion         *byte
	SDKProtocolVersion    int32
	ServerProtocolVersion int32
	BreakingChanges       bool
}

// deviceInfo mirrors the leading fields of CorsairDeviceInfo.
type deviceInfo struct {
	Type           int32
	Model          *byte
	PhysicalLayout int32
	LogicalLayout  int32
	CapsMask       int32
	LedsCount      int32
}

// ledPosition mirrors CorsairLedPosition.
type ledPosition struct {
	LedID  int32
	Top    float64
	Left   float64
	Height float64
	Width  float64
}

// ledPositions mirrors CorsairLedPositions.
type ledPositions struct {
	NumberOfLed int32
	Positions   *ledPosition
}

// ledColor mirrors CorsairLedColor.
type ledColor struct {
	LedID int32
	R     int32
	G     int32
	B     int32
}

type sdkRuntime struct {
	mu         sync.Mutex
	candidates []string

	dll         *windows.LazyDLL
	handshake   *windows.LazyProc
	lastError   *windows.LazyProc
	deviceCount *windows.LazyProc
	deviceInfo  *windows.LazyProc
	positions   *windows.LazyProc
	setBuffer   *windows.LazyProc
	flushBuffer *windows.LazyProc
	request     *windows.LazyProc
	release     *windows.LazyProc

	initialized bool
	controlled  bool
}

// New returns the SDK runtime. dllPath, when set, is tried before the default locations.
func New(dllPath string) Runtime {
	name := "CUESDK.x64_2015.dll"
	sub := "x64"
	if runtime.GOARCH == "386" {
		name = "CUESDK_2015.dll"
		sub = "x86"
	}

	var candidates []string
	if dllPath != "" {
		candidates = append(candidates, dllPath)
	}
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		candidates = append(candidates, filepath.Join(dir, sub, name), filepath.Join(dir, name))
	}
	candidates = append(candidates, name)

	return &sdkRuntime{candidates: candidates}
}

// load resolves the SDK library once. Caller must hold mu.
func (r *sdkRuntime) load() bool {
	if r.dll != nil {
		return true
	}

	for _, path := range r.candidates {
		dll := windows.NewLazyDLL(path)
		if err := dll.Load(); err != nil {
			log.Debug().Str("path", path).Err(err).Msg("CUE SDK not found")
			continue
		}

		r.dll = dll
		r.handshake = dll.NewProc("CorsairPerformProtocolHandshake")
		r.lastError = dll.NewProc("CorsairGetLastError")
		r.deviceCount = dll.NewProc("CorsairGetDeviceCount")
		r.deviceInfo = dll.NewProc("CorsairGetDeviceInfo")
		r.positions = dll.NewProc("CorsairGetLedPositionsByDeviceIndex")
		r.setBuffer = dll.NewProc("CorsairSetLedsColorsBufferByDeviceIndex")
		r.flushBuffer = dll.NewProc("CorsairSetLedsColorsFlushBuffer")
		r.request = dll.NewProc("CorsairRequestControl")
		r.release = dll.NewProc("CorsairReleaseControl")

		log.Info().Str("path", path).Msg("Loaded CUE SDK")
		return true
	}
	return false
}

func (r *sdkRuntime) Available() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

func (r *sdkRuntime) Initialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialize()
}

func (r *sdkRuntime) initialize() error {
	if !r.load() {
		return ErrUnavailable
	}

	// The struct is returned by value, so the callee writes through a hidden pointer.
	var details protocolDetails
	r.handshake.Call(uintptr(unsafe.Pointer(&details)))
	if err := r.check("handshake"); err != nil {
		r.initialized = false
		return err
	}
	if details.ServerProtocolVersion == 0 {
		r.initialized = false
		return ErrUnavailable
	}

	log.Debug().
		Str("sdk_version", windows.BytePtrToString(details.SDKVersion)).
		Str("server_version", windows.BytePtrToString(details.ServerVersion)).
		Bool("breaking_changes", details.BreakingChanges).
		Msg("CUE handshake completed")

	r.initialized = true
	r.controlled = false
	return nil
}

func (r *sdkRuntime) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized
}

func (r *sdkRuntime) Reinitialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.controlled {
		r.releaseControl()
	}
	return r.initialize()
}

func (r *sdkRuntime) DeviceCount() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return 0, ErrNotInitialized
	}
	ret, _, _ := r.deviceCount.Call()
	count := int(int32(ret))
	if count < 0 {
		if err := r.check("get device count"); err != nil {
			return 0, err
		}
		return 0, ErrUnavailable
	}
	return count, nil
}

func (r *sdkRuntime) Devices() ([]DeviceInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return nil, ErrNotInitialized
	}

	ret, _, _ := r.deviceCount.Call()
	count := int(int32(ret))
	if count < 0 {
		return nil, r.check("get device count")
	}

	devices := make([]DeviceInfo, 0, count)
	for i := 0; i < count; i++ {
		infoPtr, _, _ := r.deviceInfo.Call(uintptr(i))
		if infoPtr == 0 {
			continue
		}
		info := (*deviceInfo)(unsafe.Pointer(infoPtr))

		dev := DeviceInfo{
			Index: i,
			Type:  DeviceType(info.Type),
			Model: windows.BytePtrToString(info.Model),
		}

		posPtr, _, _ := r.positions.Call(uintptr(i))
		if posPtr != 0 {
			positions := (*ledPositions)(unsafe.Pointer(posPtr))
			if positions.NumberOfLed > 0 && positions.Positions != nil {
				for _, p := range unsafe.Slice(positions.Positions, positions.NumberOfLed) {
					dev.LEDs = append(dev.LEDs, LedID(p.LedID))
				}
			}
		}

		devices = append(devices, dev)
	}
	return devices, nil
}

func (r *sdkRuntime) SetColors(index int, colors []LedColor) error {
	if len(colors) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return ErrNotInitialized
	}
	if err := r.requestControl(); err != nil {
		return err
	}

	buf := make([]ledColor, len(colors))
	for i, c := range colors {
		buf[i] = ledColor{LedID: int32(c.ID), R: int32(c.Color.R), G: int32(c.Color.G), B: int32(c.Color.B)}
	}

	ret, _, _ := r.setBuffer.Call(uintptr(index), uintptr(len(buf)), uintptr(unsafe.Pointer(&buf[0])))
	if !callOK(ret) {
		return r.check("set leds colors buffer")
	}
	return nil
}

func (r *sdkRuntime) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return ErrNotInitialized
	}
	ret, _, _ := r.flushBuffer.Call()
	if !callOK(ret) {
		return r.check("flush leds colors buffer")
	}
	return nil
}

func (r *sdkRuntime) ReleaseControl() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized || !r.controlled {
		return nil
	}
	return r.releaseControl()
}

// requestControl takes exclusive lighting control if not already held. Caller must hold mu.
func (r *sdkRuntime) requestControl() error {
	if r.controlled {
		return nil
	}
	ret, _, _ := r.request.Call(accessExclusiveLightingControl)
	if !callOK(ret) {
		return r.check("request control")
	}
	r.controlled = true
	return nil
}

// releaseControl hands control back. Caller must hold mu.
func (r *sdkRuntime) releaseControl() error {
	ret, _, _ := r.release.Call(accessExclusiveLightingControl)
	r.controlled = false
	if !callOK(ret) {
		return r.check("release control")
	}
	return nil
}

// check converts CorsairGetLastError into an error. Caller must hold mu.
func (r *sdkRuntime) check(op string) error {
	code, _, _ := r.lastError.Call()
	if ErrorCode(code) == CodeSuccess {
		return nil
	}
	return &Error{Op: op, Code: ErrorCode(code)}
}

// callOK interprets a C bool return value.
func callOK(ret uintptr) bool {
	return ret&0xff != 0
}
