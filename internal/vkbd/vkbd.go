// Package vkbd creates and writes to a virtual uinput keyboard: the
// device accentd's emitted and relayed key events ultimately land on.
package vkbd

import (
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"accentd/internal/kbevent"
)

// uinput ioctl requests and limits, from linux/uinput.h.
const (
	uinputMaxNameSize = 80
	uiSetEvBit        = 0x40045564
	uiSetKeyBit       = 0x40045565
	uiDevCreate       = 0x5501
	uiDevDestroy      = 0x5502
	uiDevSetup        = 0x405c5503
	busUSB            = 0x03
)

// setup mirrors struct uinput_setup for the UI_DEV_SETUP ioctl.
type setup struct {
	ID struct {
		Bustype uint16
		Vendor  uint16
		Product uint16
		Version uint16
	}
	Name      [uinputMaxNameSize]byte
	FFEffects uint32
}

// wireEvent mirrors the kernel's struct input_event, the on-the-wire
// layout write(2) expects for /dev/uinput.
type wireEvent struct {
	Time  syscall.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

// Device is a virtual uinput keyboard. It implements emit.Emitter: each
// EmitEvents call becomes a single write(2) of the whole batch, so the
// kernel delivers it to user space without a gap the hex-entry popup
// could split in two.
type Device struct {
	fd int
	mu sync.Mutex
}

// Open creates and registers the virtual keyboard, advertising every
// keycode 0..255 so it can relay or emit any physical key plus the
// Ctrl+Shift+U chord's own keys.
func Open() (*Device, error) {
	fd, err := syscall.Open("/dev/uinput", syscall.O_WRONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("opening /dev/uinput: %w (ensure the user is in the 'input' group)", err)
	}

	dev := &Device{fd: fd}

	if err := dev.ioctl(uiSetEvBit, kbevent.EVKey); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("UI_SET_EVBIT: %w", err)
	}
	for key := 0; key < 256; key++ {
		if err := dev.ioctl(uiSetKeyBit, uintptr(key)); err != nil {
			syscall.Close(fd)
			return nil, fmt.Errorf("UI_SET_KEYBIT(%d): %w", key, err)
		}
	}

	var su setup
	su.ID.Bustype = busUSB
	su.ID.Vendor = 0x1234
	su.ID.Product = 0x5678
	su.ID.Version = 1
	copy(su.Name[:], "accentd virtual keyboard")

	if err := dev.ioctlPtr(uiDevSetup, unsafe.Pointer(&su)); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("UI_DEV_SETUP: %w", err)
	}
	if err := dev.ioctl(uiDevCreate, 0); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("UI_DEV_CREATE: %w", err)
	}

	// Give udev time to create the device node before anything tries to
	// open it (e.g. the grabber re-scanning /dev/input).
	time.Sleep(100 * time.Millisecond)

	return dev, nil
}

func (d *Device) ioctl(req, val uintptr) error {
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(d.fd), req, val)
	if errno != 0 {
		return errno
	}
	return nil
}

func (d *Device) ioctlPtr(req uintptr, ptr unsafe.Pointer) error {
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(d.fd), req, uintptr(ptr))
	if errno != 0 {
		return errno
	}
	return nil
}

// Close destroys the virtual device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ioctl(uiDevDestroy, 0)
	return syscall.Close(d.fd)
}

// EmitEvents writes events to the virtual device as one atomic write(2)
// call, implementing emit.Emitter. The caller is responsible for
// including any EV_SYN/SYN_REPORT events the batch needs — vkbd never
// inserts one on its own.
func (d *Device) EmitEvents(events []kbevent.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var tv syscall.Timeval
	syscall.Gettimeofday(&tv)

	buf := make([]byte, 0, len(events)*int(unsafe.Sizeof(wireEvent{})))
	for _, e := range events {
		buf = append(buf, encodeEvent(tv, e)...)
	}

	_, err := syscall.Write(d.fd, buf)
	return err
}

// encodeEvent renders one event in the kernel's struct input_event wire
// layout.
func encodeEvent(tv syscall.Timeval, e kbevent.Event) []byte {
	we := wireEvent{Time: tv, Type: e.Type, Code: e.Code, Value: e.Value}
	b := make([]byte, unsafe.Sizeof(we))
	*(*wireEvent)(unsafe.Pointer(&b[0])) = we
	return b
}

// IsAvailable reports whether /dev/uinput exists and is writable by the
// current process, so the daemon can fail fast with a clear message
// instead of a bare ioctl error.
func IsAvailable() bool {
	f, err := os.OpenFile("/dev/uinput", os.O_WRONLY, 0)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
