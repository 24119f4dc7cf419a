package vdec

import (
	"errors"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Common errors
var (
	// ErrNoDecoder is returned by session initialization when every
	// candidate backend for the requested codec failed to open.
	ErrNoDecoder = errors.New("no decoder available")

	// ErrBackendUnavailable is returned by a driver when the named backend
	// is not compiled into the underlying library. The probe skips these
	// silently and moves to the next candidate.
	ErrBackendUnavailable = errors.New("decoder backend not available")

	// ErrFrameAllocation is returned when the frame ring or the transfer
	// frame cannot be allocated.
	ErrFrameAllocation = errors.New("frame buffer allocation failed")

	// ErrDecodeRejected is returned by Submit when the decoder refuses an
	// access unit (malformed or mid-stream corruption). Recoverable; the
	// caller should request a key frame upstream.
	ErrDecodeRejected = errors.New("decoder rejected access unit")

	// ErrTransfer is returned when copying a hardware-resident frame to
	// system memory fails. The frame is dropped and decoding continues.
	ErrTransfer = errors.New("hardware frame transfer failed")

	// ErrUnsupportedFormat is reported when format negotiation finds no
	// acceptable pixel format for a hardware backend attempt.
	ErrUnsupportedFormat = errors.New("no supported pixel format")

	// ErrNoDriver is returned when no decoder driver is registered, or the
	// requested driver name is unknown.
	ErrNoDriver = errors.New("no decoder driver registered")

	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")
)

// DecoderConfig carries the per-backend open parameters the probe hands to a
// driver for each candidate attempt.
type DecoderConfig struct {
	Codec  VideoCodec // Codec family the backend must decode
	Width  int        // Target frame width
	Height int        // Target frame height

	// HardwareAcceleration permits the backend to bind a hardware device.
	// When false the backend decodes on the CPU even if the underlying
	// codec advertises device support.
	HardwareAcceleration bool

	SliceThreading bool // Split frame decode across slice worker threads
	ThreadCount    int  // Worker count when SliceThreading is set

	Logger *logrus.Entry // Session-scoped logger (nil = standard logger)
}

// FrameBuffer is a reusable decoded-frame slot owned by a Decoder. The ring
// holds BufferCount of these; one more serves as the transfer target when
// hardware acceleration is active.
type FrameBuffer interface {
	io.Closer

	// Frame returns a view of the buffer's current contents. The view is
	// valid until the buffer is written again by Receive or Transfer.
	Frame() *Frame
}

// Decoder is one opened decoder backend, configured and ready to accept
// access units. Implementations are not safe for concurrent use; the session
// serializes all calls.
type Decoder interface {
	io.Closer

	// BackendName returns the opened backend's name, e.g. "h264_v4l2m2m".
	BackendName() string

	// HardwareDevice returns the accelerator the decoder is bound to, or
	// DeviceTypeNone for a pure software decoder.
	HardwareDevice() DeviceType

	// HardwarePixelFormat returns the negotiated hardware pixel format, or
	// PixelFormatNone for a pure software decoder.
	HardwarePixelFormat() PixelFormat

	// NewFrameBuffer allocates an empty frame slot tied to this decoder.
	NewFrameBuffer() (FrameBuffer, error)

	// Submit hands one padded access unit to the decoder.
	Submit(data []byte) error

	// Receive pulls the next decoded frame into dst. Returns false when the
	// decoder needs more input before it can produce a frame.
	Receive(dst FrameBuffer) (bool, error)

	// Transfer copies a hardware-resident frame in src into CPU-addressable
	// memory in dst.
	Transfer(dst, src FrameBuffer) error
}

// Driver opens named decoder backends from one FFmpeg binding. The cgo and
// purego bindings each register a driver; tests register fakes.
type Driver interface {
	// Name identifies the driver ("ffmpeg" for the built-in bindings).
	Name() string

	// Open allocates, configures, and opens the named backend. Returns
	// ErrBackendUnavailable when the backend is not compiled into the
	// underlying library; any other error means the backend exists but
	// could not be opened.
	Open(name string, config DecoderConfig) (Decoder, error)

	// Devices enumerates the accelerator device types that can actually be
	// created on this host.
	Devices() []DeviceType
}

// --- Registry ---

type driverRegistry struct {
	mu          sync.RWMutex
	drivers     map[string]Driver
	defaultName string
}

var globalDriverRegistry = &driverRegistry{
	drivers: make(map[string]Driver),
}

// registerDriver registers a decoder driver. The first registered driver
// becomes the default.
func registerDriver(d Driver) {
	globalDriverRegistry.mu.Lock()
	defer globalDriverRegistry.mu.Unlock()

	globalDriverRegistry.drivers[d.Name()] = d
	if globalDriverRegistry.defaultName == "" {
		globalDriverRegistry.defaultName = d.Name()
	}
}

// driverFor resolves a driver by name; the empty name selects the default.
func driverFor(name string) (Driver, error) {
	globalDriverRegistry.mu.RLock()
	defer globalDriverRegistry.mu.RUnlock()

	if name == "" {
		name = globalDriverRegistry.defaultName
	}
	d, ok := globalDriverRegistry.drivers[name]
	if !ok {
		return nil, ErrNoDriver
	}
	return d, nil
}

// Drivers returns the names of all registered decoder drivers.
func Drivers() []string {
	globalDriverRegistry.mu.RLock()
	defer globalDriverRegistry.mu.RUnlock()

	names := make([]string, 0, len(globalDriverRegistry.drivers))
	for name := range globalDriverRegistry.drivers {
		names = append(names, name)
	}
	return names
}
