//go:build (darwin || linux) && !cgo && !noffmpeg

// FFmpeg decode support via libvdec_ffmpeg using purego.
//
// libvdec_ffmpeg is a thin C wrapper over libavcodec. The wrapper owns the
// pieces that cannot cross a purego boundary: the get_format callback used
// for hardware format negotiation and the av_hwdevice lifecycle. Device and
// pixel format codes in its header match the DeviceType and PixelFormat
// ordinals of this package.

package vdec

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/sirupsen/logrus"
)

var (
	vdecFFOnce    sync.Once
	vdecFFHandle  uintptr
	vdecFFInitErr error
)

// libvdec_ffmpeg function pointers
var (
	vdecFFDecoderAvailable func(name string) int32
	vdecFFOpen             func(name string, width, height, hwaccel, sliceThreads, threadCount int32, outDeviceType, outHWFormat uintptr) uint64
	vdecFFClose            func(handle uint64)
	vdecFFSend             func(handle uint64, data uintptr, size int32) int32
	vdecFFReceive          func(handle uint64, frame uint64) int32
	vdecFFTransfer         func(handle uint64, dst, src uint64) int32
	vdecFFFrameNew         func(handle uint64) uint64
	vdecFFFrameFree        func(frame uint64)
	vdecFFFrameInfo        func(frame uint64, out uintptr) int32
	vdecFFProbeDevices     func(out uintptr, capacity int32) int32
	vdecFFGetError         func() uintptr
)

// Return codes from vdec_ffmpeg.h
const (
	vdecFFOK           = 0
	vdecFFError        = -1
	vdecFFErrorNoMem   = -2
	vdecFFErrorInvalid = -3
	vdecFFErrorCodec   = -4
)

// vdecFFFrameData receives the output of vdec_ff_frame_info. It must be
// heap-allocated for purego to work correctly on arm64; output parameters
// on the stack can fail when the GC moves the stack during the C call.
// Field layout matches struct vdec_ff_frame_data in vdec_ffmpeg.h.
type vdecFFFrameData struct {
	Planes  [4]uintptr // Plane base pointers (unused planes are null)
	Strides [4]int32   // Plane strides in bytes
	Width   int32
	Height  int32
	Format  int32 // PixelFormat ordinal
	_       int32
	Pts     int64
}

// vdecFFOpenInfo receives the negotiation results of vdec_ff_open.
// Heap-allocated for the same reason as vdecFFFrameData.
type vdecFFOpenInfo struct {
	DeviceType int32
	HWFormat   int32
}

func loadVdecFF() error {
	vdecFFOnce.Do(func() {
		vdecFFInitErr = loadVdecFFLib()
	})
	return vdecFFInitErr
}

func loadVdecFFLib() error {
	paths := getVdecFFLibPaths()

	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			vdecFFHandle = handle
			if err := loadVdecFFSymbols(); err != nil {
				purego.Dlclose(handle)
				lastErr = err
				continue
			}
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load libvdec_ffmpeg: %w", lastErr)
	}
	return errors.New("libvdec_ffmpeg not found in any standard location")
}

func getVdecFFLibPaths() []string {
	var paths []string

	libName := "libvdec_ffmpeg.so"
	if runtime.GOOS == "darwin" {
		libName = "libvdec_ffmpeg.dylib"
	}

	// Environment variable overrides (highest priority)
	if envPath := os.Getenv("VDEC_FFMPEG_LIB_PATH"); envPath != "" {
		paths = append(paths, envPath)
	}
	if envPath := os.Getenv("VDEC_LIB_PATH"); envPath != "" {
		paths = append(paths, filepath.Join(envPath, libName))
	}

	// Search relative to executable location
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, libName),
			filepath.Join(exeDir, "..", "lib", libName),
		)
	}

	// Search relative to working directory
	if wd, err := os.Getwd(); err == nil {
		paths = append(paths,
			filepath.Join(wd, libName),
			filepath.Join(wd, "build", libName),
		)
	}

	// Search relative to module root (find go.mod from cwd)
	if moduleRoot := findModuleRoot(); moduleRoot != "" {
		paths = append(paths,
			filepath.Join(moduleRoot, "build", libName),
		)
	}

	// System paths (lowest priority)
	switch runtime.GOOS {
	case "darwin":
		paths = append(paths,
			libName,
			"/usr/local/lib/"+libName,
			"/opt/homebrew/lib/"+libName,
		)
	case "linux":
		paths = append(paths,
			libName,
			"/usr/local/lib/"+libName,
			"/usr/lib/"+libName,
		)
	}

	return paths
}

func loadVdecFFSymbols() error {
	purego.RegisterLibFunc(&vdecFFDecoderAvailable, vdecFFHandle, "vdec_ff_decoder_available")
	purego.RegisterLibFunc(&vdecFFOpen, vdecFFHandle, "vdec_ff_open")
	purego.RegisterLibFunc(&vdecFFClose, vdecFFHandle, "vdec_ff_close")
	purego.RegisterLibFunc(&vdecFFSend, vdecFFHandle, "vdec_ff_send")
	purego.RegisterLibFunc(&vdecFFReceive, vdecFFHandle, "vdec_ff_receive")
	purego.RegisterLibFunc(&vdecFFTransfer, vdecFFHandle, "vdec_ff_transfer")
	purego.RegisterLibFunc(&vdecFFFrameNew, vdecFFHandle, "vdec_ff_frame_new")
	purego.RegisterLibFunc(&vdecFFFrameFree, vdecFFHandle, "vdec_ff_frame_free")
	purego.RegisterLibFunc(&vdecFFFrameInfo, vdecFFHandle, "vdec_ff_frame_info")
	purego.RegisterLibFunc(&vdecFFProbeDevices, vdecFFHandle, "vdec_ff_probe_devices")
	purego.RegisterLibFunc(&vdecFFGetError, vdecFFHandle, "vdec_ff_get_error")

	return nil
}

func getVdecFFError() string {
	ptr := vdecFFGetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

func init() {
	registerDriver(&pureDriver{})
}

type pureDriver struct{}

func (d *pureDriver) Name() string { return "ffmpeg" }

func (d *pureDriver) Open(name string, config DecoderConfig) (Decoder, error) {
	if err := loadVdecFF(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if vdecFFDecoderAvailable(name) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrBackendUnavailable, name)
	}

	hwaccel := int32(0)
	if config.HardwareAcceleration {
		hwaccel = 1
	}
	sliceThreads := int32(0)
	threads := int32(1)
	if config.SliceThreading {
		sliceThreads = 1
		threads = int32(config.ThreadCount)
	}

	// Heap-allocated output parameters, see vdecFFFrameData.
	info := &vdecFFOpenInfo{}

	handle := vdecFFOpen(
		name,
		int32(config.Width),
		int32(config.Height),
		hwaccel,
		sliceThreads,
		threads,
		uintptr(unsafe.Pointer(&info.DeviceType)),
		uintptr(unsafe.Pointer(&info.HWFormat)),
	)
	runtime.KeepAlive(info)

	if handle == 0 {
		return nil, fmt.Errorf("opening %s failed: %s", name, getVdecFFError())
	}

	dec := &pureDecoder{
		name:     name,
		handle:   handle,
		device:   deviceTypeFromCode(info.DeviceType),
		hwFormat: pixelFormatFromCode(info.HWFormat),
	}

	if dec.device != DeviceTypeNone && config.Logger != nil {
		config.Logger.WithFields(logrus.Fields{
			"device":    dec.device,
			"hw_format": dec.hwFormat,
		}).Debug("hardware device bound by wrapper")
	}

	return dec, nil
}

func (d *pureDriver) Devices() []DeviceType {
	if err := loadVdecFF(); err != nil {
		return nil
	}

	codes := make([]int32, 8)
	n := vdecFFProbeDevices(uintptr(unsafe.Pointer(&codes[0])), int32(len(codes)))
	runtime.KeepAlive(codes)

	var out []DeviceType
	for i := 0; i < int(n) && i < len(codes); i++ {
		if t := deviceTypeFromCode(codes[i]); t != DeviceTypeNone {
			out = append(out, t)
		}
	}
	return out
}

type pureDecoder struct {
	name     string
	handle   uint64
	device   DeviceType
	hwFormat PixelFormat
	mu       sync.Mutex
}

func (d *pureDecoder) BackendName() string { return d.name }

func (d *pureDecoder) HardwareDevice() DeviceType { return d.device }

func (d *pureDecoder) HardwarePixelFormat() PixelFormat { return d.hwFormat }

func (d *pureDecoder) NewFrameBuffer() (FrameBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle == 0 {
		return nil, fmt.Errorf("decoder not initialized")
	}

	fh := vdecFFFrameNew(d.handle)
	if fh == 0 {
		return nil, fmt.Errorf("allocating frame failed: %s", getVdecFFError())
	}
	return &pureFrameBuffer{
		handle: fh,
		info:   &vdecFFFrameData{}, // Heap-allocated for purego arm64
	}, nil
}

func (d *pureDecoder) Submit(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle == 0 {
		return fmt.Errorf("decoder not initialized")
	}
	if len(data) == 0 {
		return fmt.Errorf("empty access unit")
	}

	rc := vdecFFSend(d.handle, uintptr(unsafe.Pointer(&data[0])), int32(len(data)))
	runtime.KeepAlive(data)

	if rc < 0 {
		return fmt.Errorf("send failed: %s", getVdecFFError())
	}
	return nil
}

func (d *pureDecoder) Receive(dst FrameBuffer) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle == 0 {
		return false, fmt.Errorf("decoder not initialized")
	}

	fb := dst.(*pureFrameBuffer)
	rc := vdecFFReceive(d.handle, fb.handle)
	if rc < 0 {
		return false, fmt.Errorf("receive failed: %s", getVdecFFError())
	}
	if rc == 0 {
		// No frame ready yet.
		return false, nil
	}

	if err := fb.materialize(); err != nil {
		return false, err
	}
	return true, nil
}

func (d *pureDecoder) Transfer(dst, src FrameBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle == 0 {
		return fmt.Errorf("decoder not initialized")
	}

	sfb := src.(*pureFrameBuffer)
	dfb := dst.(*pureFrameBuffer)

	if rc := vdecFFTransfer(d.handle, dfb.handle, sfb.handle); rc < 0 {
		return fmt.Errorf("transfer failed: %s", getVdecFFError())
	}
	return dfb.materialize()
}

func (d *pureDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle != 0 {
		vdecFFClose(d.handle)
		d.handle = 0
	}
	return nil
}

// pureFrameBuffer wraps one wrapper-owned frame slot. CPU-resident contents
// are copied into a reusable arena on receive so the exposed view stays valid
// while the decoder writes the next frame elsewhere in the ring.
type pureFrameBuffer struct {
	handle uint64
	info   *vdecFFFrameData
	buf    []byte
	view   Frame
}

func (fb *pureFrameBuffer) Frame() *Frame { return &fb.view }

func (fb *pureFrameBuffer) Close() error {
	if fb.handle != 0 {
		vdecFFFrameFree(fb.handle)
		fb.handle = 0
	}
	return nil
}

func (fb *pureFrameBuffer) materialize() error {
	out := fb.info
	rc := vdecFFFrameInfo(fb.handle, uintptr(unsafe.Pointer(out)))
	runtime.KeepAlive(out)
	if rc < 0 {
		return fmt.Errorf("querying frame failed: %s", getVdecFFError())
	}

	format := pixelFormatFromCode(out.Format)
	width := int(out.Width)
	height := int(out.Height)

	fb.view = Frame{
		Width:     width,
		Height:    height,
		Format:    format,
		Timestamp: out.Pts,
	}

	if format.IsHardware() {
		fb.view.Native = fb.handle
		return nil
	}
	if format == PixelFormatNone || width <= 0 || height <= 0 {
		return fmt.Errorf("%w: format code %d (%dx%d)", ErrUnsupportedFormat, out.Format, width, height)
	}

	strides, heights := format.planeLayout(width, height)
	size := format.BufferSize(width, height)
	if cap(fb.buf) < size {
		fb.buf = make([]byte, size)
	}
	fb.buf = fb.buf[:size]

	fb.view.Data = make([][]byte, len(strides))
	fb.view.Stride = strides
	offset := 0
	for i := range strides {
		if out.Planes[i] == 0 || out.Strides[i] <= 0 {
			return fmt.Errorf("invalid plane %d from decoder: stride=%d", i, out.Strides[i])
		}

		n := strides[i] * heights[i]
		plane := fb.buf[offset : offset+n]
		srcStride := int(out.Strides[i])
		for row := 0; row < heights[i]; row++ {
			src := unsafe.Slice((*byte)(unsafe.Pointer(out.Planes[i]+uintptr(row*srcStride))), strides[i])
			copy(plane[row*strides[i]:(row+1)*strides[i]], src)
		}
		fb.view.Data[i] = plane
		offset += n
	}
	return nil
}

// Wire codes in vdec_ffmpeg.h match the PixelFormat ordinals.
func pixelFormatFromCode(v int32) PixelFormat {
	if v < int32(PixelFormatNone) || v > int32(PixelFormatDRMPrime) {
		return PixelFormatNone
	}
	return PixelFormat(v)
}

// Wire codes in vdec_ffmpeg.h match the DeviceType ordinals.
func deviceTypeFromCode(v int32) DeviceType {
	if v < int32(DeviceTypeNone) || v > int32(DeviceTypeDRM) {
		return DeviceTypeNone
	}
	return DeviceType(v)
}
