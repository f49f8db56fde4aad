//go:build windows

package input

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/lxn/win"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/windows"
)

const (
	vkCapital    = 0x14
	wmKeyDown    = 0x0100
	wmKeyUp      = 0x0101
	wmSysKeyDown = 0x0104
	wmSysKeyUp   = 0x0105
)

var (
	user32                = windows.NewLazySystemDLL("user32.dll")
	procPostThreadMessage = user32.NewProc("PostThreadMessageW")
)

type hookSource struct {
	caps     atomic.Bool
	capsDown atomic.Bool

	ready     chan struct{}
	readyOnce sync.Once
}

// NewSource returns a source backed by low-level keyboard and mouse hooks.
// The Caps Lock toggle is read immediately so it is valid before Run.
func NewSource() Source {
	s := &hookSource{ready: make(chan struct{})}
	s.caps.Store(capsToggled())
	return s
}

func capsToggled() bool {
	return win.GetKeyState(vkCapital)&1 != 0
}

// Ready is closed once the hooks are installed, or Run has given up.
func (s *hookSource) Ready() <-chan struct{} {
	return s.ready
}

func (s *hookSource) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// CapsLock returns the toggle state tracked by the keyboard hook.
func (s *hookSource) CapsLock() bool {
	return s.caps.Load()
}

// Run installs WH_KEYBOARD_LL and WH_MOUSE_LL on a dedicated OS thread and pumps
// its message loop until ctx is cancelled.
func (s *hookSource) Run(ctx context.Context, onActivity func()) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer s.markReady()

	// Force creation of the thread message queue before anyone posts to it
	var msg win.MSG
	win.PeekMessage(&msg, 0, win.WM_USER, win.WM_USER, win.PM_NOREMOVE)
	threadID := windows.GetCurrentThreadId()

	s.caps.Store(capsToggled())

	hInst := win.GetModuleHandle(nil)

	var keyboard, mouse win.HHOOK
	keyboard = win.SetWindowsHookEx(win.WH_KEYBOARD_LL, func(nCode int32, wParam, lParam uintptr) uintptr {
		if nCode >= 0 {
			s.trackCaps(uint32(wParam), (*win.KBDLLHOOKSTRUCT)(unsafe.Pointer(lParam)))
			onActivity()
		}
		return uintptr(win.CallNextHookEx(keyboard, nCode, win.WPARAM(wParam), win.LPARAM(lParam)))
	}, hInst, 0)
	if keyboard == 0 {
		return fmt.Errorf("install keyboard hook: %w", windows.GetLastError())
	}
	defer win.UnhookWindowsHookEx(keyboard)

	mouse = win.SetWindowsHookEx(win.WH_MOUSE_LL, func(nCode int32, wParam, lParam uintptr) uintptr {
		if nCode >= 0 {
			onActivity()
		}
		return uintptr(win.CallNextHookEx(mouse, nCode, win.WPARAM(wParam), win.LPARAM(lParam)))
	}, hInst, 0)
	if mouse == 0 {
		return fmt.Errorf("install mouse hook: %w", windows.GetLastError())
	}
	defer win.UnhookWindowsHookEx(mouse)

	log.Info().Uint32("thread", threadID).Bool("caps_lock", s.caps.Load()).Msg("Input hooks installed")
	s.markReady()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			procPostThreadMessage.Call(uintptr(threadID), win.WM_QUIT, 0, 0)
		case <-stop:
		}
	}()

	for win.GetMessage(&msg, 0, 0, 0) > 0 {
		win.TranslateMessage(&msg)
		win.DispatchMessage(&msg)
	}

	log.Info().Msg("Input hooks removed")
	return nil
}

// trackCaps follows Caps Lock presses. GetKeyState has not been updated yet
// while a low-level hook runs, so the toggle is flipped on the key-down edge.
func (s *hookSource) trackCaps(message uint32, kb *win.KBDLLHOOKSTRUCT) {
	if kb == nil || uint32(kb.VkCode) != vkCapital {
		return
	}
	switch message {
	case wmKeyDown, wmSysKeyDown:
		// Auto-repeat delivers key-down without an intervening key-up
		if !s.capsDown.Swap(true) {
			s.caps.Store(!s.caps.Load())
		}
	case wmKeyUp, wmSysKeyUp:
		s.capsDown.Store(false)
	}
}
