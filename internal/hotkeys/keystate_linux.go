//go:build linux

package hotkeys

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	procInputDevices = "/proc/bus/input/devices"

	// evdevKeyMax mirrors KEY_MAX from linux/input-event-codes.h.
	evdevKeyMax   = 0x2ff
	evdevKeyBytes = evdevKeyMax/8 + 1
)

// Linux evdev key codes for the tracked keys.
var evdevLetterCodes = [26]uint16{
	30, 48, 46, 32, 18, 33, 34, 35, 23, 36, 37, 38, 50, // A..M
	49, 24, 25, 16, 19, 31, 20, 22, 47, 17, 45, 21, 44, // N..Z
}

var evdevDigitCodes = [10]uint16{11, 2, 3, 4, 5, 6, 7, 8, 9, 10} // 0..9

var evdevModifierCodes = [4][2]uint16{
	KeyCtrl:  {29, 97},   // KEY_LEFTCTRL, KEY_RIGHTCTRL
	KeyShift: {42, 54},   // KEY_LEFTSHIFT, KEY_RIGHTSHIFT
	KeyAlt:   {56, 100},  // KEY_LEFTALT, KEY_RIGHTALT
	KeySuper: {125, 126}, // KEY_LEFTMETA, KEY_RIGHTMETA
}

// eviocgkey builds the EVIOCGKEY(len) request: _IOC(_IOC_READ, 'E', 0x18, len).
func eviocgkey(size int) uintptr {
	const iocRead = 2
	return iocRead<<30 | uintptr(size)<<16 | uintptr('E')<<8 | 0x18
}

type evdevKeyState struct {
	devices []*os.File
}

// NewKeyState opens every keyboard event device and returns a key source
// backed by the EVIOCGKEY ioctl. Reading /dev/input requires root or
// membership in the "input" group.
func NewKeyState() (KeyState, error) {
	file, err := os.Open(procInputDevices)
	if err != nil {
		return nil, fmt.Errorf("list input devices: %w", err)
	}
	defer file.Close()

	paths, err := parseKeyboardDevices(file)
	if err != nil {
		return nil, fmt.Errorf("list input devices: %w", err)
	}
	if len(paths) == 0 {
		return nil, errors.New("no keyboard input device found")
	}

	state := &evdevKeyState{}
	var openErrs []error
	for _, path := range paths {
		dev, err := os.Open(path)
		if err != nil {
			openErrs = append(openErrs, err)
			continue
		}
		state.devices = append(state.devices, dev)
	}
	if len(state.devices) == 0 {
		return nil, fmt.Errorf("open keyboard devices (try adding the user to the 'input' group): %w",
			errors.Join(openErrs...))
	}
	slog.Info("[listener] evdev keyboards opened", "count", len(state.devices))
	return state, nil
}

// IsDown implements KeyState.
func (s *evdevKeyState) IsDown(k Key) bool {
	codes := evdevCodes(k)
	if len(codes) == 0 {
		return false
	}
	var bits [evdevKeyBytes]byte
	for _, dev := range s.devices {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, dev.Fd(), eviocgkey(len(bits)), uintptr(unsafe.Pointer(&bits[0])))
		if errno != 0 {
			continue
		}
		for _, code := range codes {
			if bits[code/8]&(1<<(code%8)) != 0 {
				return true
			}
		}
	}
	return false
}

// Close releases the opened event devices.
func (s *evdevKeyState) Close() error {
	var errs []error
	for _, dev := range s.devices {
		if err := dev.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.devices = nil
	return errors.Join(errs...)
}

func evdevCodes(k Key) []uint16 {
	switch {
	case k.IsModifier():
		return evdevModifierCodes[k][:]
	case k < firstDigitBit:
		return evdevLetterCodes[k-firstLetterBit : k-firstLetterBit+1]
	case k < keyCount:
		return evdevDigitCodes[k-firstDigitBit : k-firstDigitBit+1]
	}
	return nil
}

// parseKeyboardDevices extracts /dev/input/eventN paths for devices the
// kernel attached the "kbd" handler to.
func parseKeyboardDevices(r io.Reader) ([]string, error) {
	var paths []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "H: Handlers=") {
			continue
		}
		handlers := strings.Fields(strings.TrimPrefix(line, "H: Handlers="))
		isKeyboard := false
		event := ""
		for _, h := range handlers {
			if h == "kbd" {
				isKeyboard = true
			}
			if strings.HasPrefix(h, "event") {
				event = h
			}
		}
		if isKeyboard && event != "" {
			paths = append(paths, "/dev/input/"+event)
		}
	}
	return paths, scanner.Err()
}
