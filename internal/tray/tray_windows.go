//go:build windows

package tray

import (
	"context"
	"fmt"
	"runtime"
	"syscall"
	"unsafe"

	"github.com/lxn/win"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/windows"
)

const (
	wmTrayMsg = win.WM_APP + 10
	wmRefresh = win.WM_APP + 11

	wmQueryEndSession = 0x0011
	wmEndSession      = 0x0016

	idSettings = 1001
	idExit     = 1002
)

var (
	user32         = windows.NewLazySystemDLL("user32.dll")
	shell32        = windows.NewLazySystemDLL("shell32.dll")
	appendMenuW    = user32.NewProc("AppendMenuW")
	trackPopupMenu = user32.NewProc("TrackPopupMenu")
	shellExecuteW  = shell32.NewProc("ShellExecuteW")

	// The window procedure has no user pointer; one icon per process
	active *Icon
)

type nativeIcon struct {
	hwnd win.HWND
	nid  win.NOTIFYICONDATA
}

// Run shows the icon and pumps its message loop until ctx is cancelled.
func (i *Icon) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	hInst := win.GetModuleHandle(nil)
	className, _ := syscall.UTF16PtrFromString("IdleRGBTrayClass")

	wc := win.WNDCLASSEX{
		CbSize:        uint32(unsafe.Sizeof(win.WNDCLASSEX{})),
		LpfnWndProc:   syscall.NewCallback(wndProc),
		HInstance:     hInst,
		LpszClassName: className,
	}
	if win.RegisterClassEx(&wc) == 0 {
		return fmt.Errorf("register tray window class: %w", windows.GetLastError())
	}

	hwnd := win.CreateWindowEx(0, className, className, 0, 0, 0, 0, 0, 0, 0, hInst, nil)
	if hwnd == 0 {
		return fmt.Errorf("create tray window: %w", windows.GetLastError())
	}

	i.mu.Lock()
	active = i
	i.native.hwnd = hwnd
	nid := &i.native.nid
	nid.CbSize = uint32(unsafe.Sizeof(*nid))
	nid.HWnd = hwnd
	nid.UID = 1
	nid.UFlags = win.NIF_ICON | win.NIF_MESSAGE | win.NIF_TIP
	nid.UCallbackMessage = wmTrayMsg
	nid.HIcon = win.LoadIcon(0, win.MAKEINTRESOURCE(win.IDI_APPLICATION))
	setTip(nid, i.tooltip)
	i.mu.Unlock()

	if !win.Shell_NotifyIcon(win.NIM_ADD, nid) {
		win.DestroyWindow(hwnd)
		return fmt.Errorf("add tray icon failed")
	}
	nid.UVersion = win.NOTIFYICON_VERSION_4
	win.Shell_NotifyIcon(win.NIM_SETVERSION, nid)

	log.Info().Msg("Tray icon shown")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			win.PostMessage(hwnd, win.WM_CLOSE, 0, 0)
		case <-stop:
		}
	}()

	var msg win.MSG
	for win.GetMessage(&msg, 0, 0, 0) > 0 {
		win.TranslateMessage(&msg)
		win.DispatchMessage(&msg)
	}

	i.mu.Lock()
	active = nil
	i.native.hwnd = 0
	i.mu.Unlock()
	return nil
}

func (i *Icon) refresh() {
	i.mu.Lock()
	hwnd := i.native.hwnd
	i.mu.Unlock()
	if hwnd != 0 {
		win.PostMessage(hwnd, wmRefresh, 0, 0)
	}
}

func setTip(nid *win.NOTIFYICONDATA, text string) {
	tip, _ := syscall.UTF16FromString(text)
	if len(tip) > len(nid.SzTip) {
		tip = tip[:len(nid.SzTip)-1]
		tip = append(tip, 0)
	}
	copy(nid.SzTip[:], tip)
}

func wndProc(hwnd win.HWND, msg uint32, wParam, lParam uintptr) uintptr {
	i := active
	if i == nil {
		return win.DefWindowProc(hwnd, msg, wParam, lParam)
	}

	switch msg {
	case wmRefresh:
		i.mu.Lock()
		setTip(&i.native.nid, i.tooltip)
		win.Shell_NotifyIcon(win.NIM_MODIFY, &i.native.nid)
		i.mu.Unlock()
		return 0

	case wmTrayMsg:
		code := uint32(lParam) & 0xFFFF
		if code == win.WM_RBUTTONUP || code == win.WM_CONTEXTMENU {
			i.showMenu(hwnd)
		}
		return 0

	case wmQueryEndSession:
		return 1

	case wmEndSession:
		i.endSession(wParam != 0)
		return 0

	case win.WM_CLOSE:
		win.Shell_NotifyIcon(win.NIM_DELETE, &i.native.nid)
		win.DestroyWindow(hwnd)
		return 0

	case win.WM_DESTROY:
		win.PostQuitMessage(0)
		return 0
	}
	return win.DefWindowProc(hwnd, msg, wParam, lParam)
}

func (i *Icon) showMenu(hwnd win.HWND) {
	hMenu := win.CreatePopupMenu()
	if hMenu == 0 {
		return
	}
	defer win.DestroyMenu(hMenu)

	if i.opts.SettingsURL != "" {
		item, _ := syscall.UTF16PtrFromString("Settings")
		appendMenuW.Call(uintptr(hMenu), uintptr(win.MF_STRING), idSettings, uintptr(unsafe.Pointer(item)))
		appendMenuW.Call(uintptr(hMenu), uintptr(win.MF_SEPARATOR), 0, 0)
	}
	exitItem, _ := syscall.UTF16PtrFromString("Exit")
	appendMenuW.Call(uintptr(hMenu), uintptr(win.MF_STRING), idExit, uintptr(unsafe.Pointer(exitItem)))

	var pt win.POINT
	win.GetCursorPos(&pt)
	win.SetForegroundWindow(hwnd)

	cmd, _, _ := trackPopupMenu.Call(
		uintptr(hMenu),
		uintptr(win.TPM_RETURNCMD|win.TPM_RIGHTBUTTON),
		uintptr(pt.X),
		uintptr(pt.Y),
		0,
		uintptr(hwnd),
		0,
	)
	// Lets the menu close when the user clicks elsewhere
	win.PostMessage(hwnd, win.WM_NULL, 0, 0)

	switch cmd {
	case idSettings:
		verb, _ := syscall.UTF16PtrFromString("open")
		target, _ := syscall.UTF16PtrFromString(i.opts.SettingsURL)
		shellExecuteW.Call(0, uintptr(unsafe.Pointer(verb)), uintptr(unsafe.Pointer(target)), 0, 0, win.SW_SHOWNORMAL)
	case idExit:
		log.Info().Msg("Exit requested from tray")
		go i.opts.OnExit()
	}
}
