//go:build windows

package hotkeys

import (
	"fmt"

	"golang.org/x/sys/windows"
)

var (
	user32DLL            = windows.NewLazySystemDLL("user32.dll")
	procGetAsyncKeyState = user32DLL.NewProc("GetAsyncKeyState")
)

const (
	vkShift   uint16 = 0x10
	vkControl uint16 = 0x11
	vkMenu    uint16 = 0x12
	vkLWin    uint16 = 0x5B
	vkRWin    uint16 = 0x5C

	// asyncKeyDownMask is the "currently held" bit of GetAsyncKeyState.
	asyncKeyDownMask = 0x8000
)

type win32KeyState struct{}

// NewKeyState returns the Win32 GetAsyncKeyState-backed key source.
func NewKeyState() (KeyState, error) {
	// Pre-check DLL availability so that failures produce clean errors
	// instead of panics from LazyProc.Call.
	if err := user32DLL.Load(); err != nil {
		return nil, fmt.Errorf("user32.dll is unavailable: %w", err)
	}
	if err := procGetAsyncKeyState.Find(); err != nil {
		return nil, fmt.Errorf("GetAsyncKeyState is unavailable: %w", err)
	}
	return win32KeyState{}, nil
}

// IsDown implements KeyState.
func (win32KeyState) IsDown(k Key) bool {
	primary, secondary := virtualKeys(k)
	if primary != 0 && asyncKeyDown(primary) {
		return true
	}
	return secondary != 0 && asyncKeyDown(secondary)
}

// virtualKeys maps a tracked key to up to two Win32 virtual-key codes.
// Super is held when either Windows key is down.
func virtualKeys(k Key) (uint16, uint16) {
	switch {
	case k == KeyCtrl:
		return vkControl, 0
	case k == KeyShift:
		return vkShift, 0
	case k == KeyAlt:
		return vkMenu, 0
	case k == KeySuper:
		return vkLWin, vkRWin
	case k < firstDigitBit:
		return uint16('A') + uint16(k-firstLetterBit), 0
	case k < keyCount:
		return uint16('0') + uint16(k-firstDigitBit), 0
	}
	return 0, 0
}

func asyncKeyDown(vk uint16) bool {
	// The return value is a SHORT; the error return is not meaningful here
	// and an unreadable key is reported as released.
	ret, _, _ := procGetAsyncKeyState.Call(uintptr(vk))
	return uint16(ret)&asyncKeyDownMask != 0
}
