// Package camera provides frame acquisition. A Device wraps one physical
// camera and hands out exclusive leases; a lease owns an open Source for as
// long as it is held.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MrCodeEU/rollcall/pkg/logging"
)

// Frame represents a single camera frame.
type Frame struct {
	Image     image.Image
	Seq       uint64
	Timestamp time.Time
}

// Source yields frames on demand.
type Source interface {
	Read() (Frame, error)
	Close() error
}

// Opener opens a Source for a device path.
type Opener func(device string) (Source, error)

// DeviceInfo contains information about a camera device node.
type DeviceInfo struct {
	Path string
	Name string
}

// ErrDeviceUnavailable is returned when the device cannot be opened.
var ErrDeviceUnavailable = errors.New("camera device unavailable")

// ErrDeviceBusy is returned when another component holds the device.
var ErrDeviceBusy = errors.New("camera device busy")

// ErrNoFrame is returned when no frame could be captured.
var ErrNoFrame = errors.New("failed to capture frame")

// ErrEndOfStream is returned by finite sources once exhausted.
var ErrEndOfStream = errors.New("end of stream")

// ErrLeaseReleased is returned when reading from a released lease.
var ErrLeaseReleased = errors.New("camera lease released")

// Device is a single camera shared between enrollment and recognition.
// At most one lease exists at a time.
type Device struct {
	path string
	open Opener
	sem  *semaphore.Weighted

	mu     sync.Mutex
	holder string
}

// NewDevice returns a device for path that opens sources with open.
func NewDevice(path string, open Opener) *Device {
	return &Device{
		path: path,
		open: open,
		sem:  semaphore.NewWeighted(1),
	}
}

// Path returns the device path.
func (d *Device) Path() string {
	return d.path
}

// Holder returns the role currently holding the device, or "".
func (d *Device) Holder() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.holder
}

// Acquire waits for the device, then opens it for role.
func (d *Device) Acquire(ctx context.Context, role string) (*Lease, error) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return d.openLease(role)
}

// TryAcquire opens the device for role or fails with ErrDeviceBusy.
func (d *Device) TryAcquire(role string) (*Lease, error) {
	if !d.sem.TryAcquire(1) {
		return nil, fmt.Errorf("%w: held by %s", ErrDeviceBusy, d.Holder())
	}
	return d.openLease(role)
}

func (d *Device) openLease(role string) (*Lease, error) {
	src, err := d.open(d.path)
	if err != nil {
		d.sem.Release(1)
		if errors.Is(err, ErrDeviceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, d.path, err)
	}

	d.mu.Lock()
	d.holder = role
	d.mu.Unlock()

	logging.Component("camera").WithField("device", d.path).Debugf("Leased to %s", role)
	return &Lease{device: d, src: src, role: role}, nil
}

// Lease is exclusive access to an open device.
type Lease struct {
	device *Device
	src    Source
	role   string

	mu       sync.Mutex
	released bool
}

// Read pulls the next frame.
func (l *Lease) Read() (Frame, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return Frame{}, ErrLeaseReleased
	}
	return l.src.Read()
}

// Release closes the source and frees the device. Safe to call twice.
func (l *Lease) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil
	}
	l.released = true

	err := l.src.Close()

	l.device.mu.Lock()
	l.device.holder = ""
	l.device.mu.Unlock()
	l.device.sem.Release(1)

	logging.Component("camera").WithField("device", l.device.path).Debugf("Released by %s", l.role)
	return err
}

// ListDevices returns the V4L2 device nodes present on the system.
func ListDevices() []DeviceInfo {
	paths, _ := filepath.Glob("/dev/video*")
	sort.Strings(paths)

	devices := make([]DeviceInfo, 0, len(paths))
	for _, p := range paths {
		info := DeviceInfo{Path: p}
		nameFile := filepath.Join("/sys/class/video4linux", filepath.Base(p), "name")
		if data, err := os.ReadFile(nameFile); err == nil {
			info.Name = strings.TrimSpace(string(data))
		}
		devices = append(devices, info)
	}
	return devices
}
