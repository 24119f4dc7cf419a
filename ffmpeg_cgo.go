//go:build cgo && !noffmpeg

package vdec

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/sirupsen/logrus"
)

// go-astiav backed driver. Decoder backends are FFmpeg's named decoders;
// hardware acceleration binds an av_hwdevice context and negotiates the
// hardware pixel format through the codec context's get_format hook.

func init() {
	astiav.SetLogLevel(astiav.LogLevelError)
	registerDriver(&astiavDriver{})
}

type astiavDriver struct{}

func (d *astiavDriver) Name() string { return "ffmpeg" }

func (d *astiavDriver) Open(name string, config DecoderConfig) (Decoder, error) {
	codec := astiav.FindDecoderByName(name)
	if codec == nil {
		return nil, fmt.Errorf("%w: %s", ErrBackendUnavailable, name)
	}

	log := config.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return nil, fmt.Errorf("allocating codec context for %s failed", name)
	}

	closer := astikit.NewCloser()
	closer.Add(cc.Free)
	opened := false
	defer func() {
		if !opened {
			closer.Close()
		}
	}()

	// Latency over correctness: no frame delay, hand out corrupt frames
	// rather than stall, and make corrupt input fail the submit so the
	// caller can request a key frame.
	cc.SetFlags(astiav.NewCodecContextFlags(
		astiav.CodecContextFlagLowDelay,
		astiav.CodecContextFlagOutputCorrupt,
	))
	cc.SetFlags2(astiav.NewCodecContextFlags2(astiav.CodecContextFlag2ShowAll))

	if config.SliceThreading {
		cc.SetThreadType(astiav.ThreadTypeSlice)
		cc.SetThreadCount(config.ThreadCount)
	} else {
		cc.SetThreadCount(1)
	}

	cc.SetWidth(config.Width)
	cc.SetHeight(config.Height)

	dec := &astiavDecoder{
		name:     name,
		cc:       cc,
		hwFormat: PixelFormatNone,
		closer:   closer,
	}

	var dev device
	var hwFormat PixelFormat
	if config.HardwareAcceleration {
		dev, hwFormat = negotiateDevice(advertisedConfigs(codec), createAstiavDevice, log)
	}
	if dev != nil {
		adev := dev.(*astiavDevice)
		cc.SetHardwareDeviceContext(adev.hdc)

		pick := chooseFormat(hwFormat)
		cc.SetPixelFormatCallback(func(offered []astiav.PixelFormat) astiav.PixelFormat {
			candidates := make([]PixelFormat, 0, len(offered))
			for _, pf := range offered {
				candidates = append(candidates, pixelFormatFromAstiav(pf))
			}
			return pixelFormatToAstiav(pick(candidates))
		})

		dec.device = adev
		dec.hwFormat = hwFormat
		closer.Add(func() { adev.Close() })
	} else {
		cc.SetPixelFormat(astiav.PixelFormatYuv420P)
	}

	options := astiav.NewDictionary()
	defer options.Free()
	if err := options.Set("err_detect", "explode", 0); err != nil {
		return nil, fmt.Errorf("setting err_detect failed: %w", err)
	}

	if err := cc.Open(codec, options); err != nil {
		return nil, fmt.Errorf("opening %s failed: %w", name, err)
	}

	pkt := astiav.AllocPacket()
	if pkt == nil {
		return nil, fmt.Errorf("allocating packet for %s failed", name)
	}
	closer.Add(pkt.Free)
	dec.pkt = pkt

	opened = true
	return dec, nil
}

func (d *astiavDriver) Devices() []DeviceType {
	var out []DeviceType
	for _, t := range []DeviceType{
		DeviceTypeVAAPI, DeviceTypeVDPAU, DeviceTypeCUDA,
		DeviceTypeVideoToolbox, DeviceTypeD3D11VA, DeviceTypeQSV,
		DeviceTypeDRM,
	} {
		hdc, err := astiav.CreateHardwareDeviceContext(deviceTypeToAstiav(t), "", nil, 0)
		if err != nil || hdc == nil {
			continue
		}
		hdc.Free()
		out = append(out, t)
	}
	return out
}

// advertisedConfigs maps the backend's hardware configurations into the
// negotiator's model, dropping device types this package has no name for.
func advertisedConfigs(codec *astiav.Codec) []HardwareConfig {
	var configs []HardwareConfig
	for _, hc := range codec.HardwareConfigs() {
		dt := deviceTypeFromAstiav(hc.HardwareDeviceType())
		if dt == DeviceTypeNone {
			continue
		}
		configs = append(configs, HardwareConfig{
			DeviceType:            dt,
			PixelFormat:           pixelFormatFromAstiav(hc.PixelFormat()),
			SupportsDeviceContext: hc.MethodFlags().Has(astiav.CodecHardwareConfigMethodFlagHwDeviceCtx),
		})
	}
	return configs
}

type astiavDevice struct {
	hdc *astiav.HardwareDeviceContext
	typ DeviceType
}

func createAstiavDevice(t DeviceType) (device, error) {
	hdc, err := astiav.CreateHardwareDeviceContext(deviceTypeToAstiav(t), "", nil, 0)
	if err != nil {
		return nil, err
	}
	if hdc == nil {
		return nil, fmt.Errorf("no %s device context", t)
	}
	return &astiavDevice{hdc: hdc, typ: t}, nil
}

func (d *astiavDevice) Type() DeviceType { return d.typ }

func (d *astiavDevice) Close() error {
	if d.hdc != nil {
		d.hdc.Free()
		d.hdc = nil
	}
	return nil
}

type astiavDecoder struct {
	name     string
	cc       *astiav.CodecContext
	pkt      *astiav.Packet
	device   *astiavDevice
	hwFormat PixelFormat
	closer   *astikit.Closer
}

func (d *astiavDecoder) BackendName() string { return d.name }

func (d *astiavDecoder) HardwareDevice() DeviceType {
	if d.device == nil {
		return DeviceTypeNone
	}
	return d.device.typ
}

func (d *astiavDecoder) HardwarePixelFormat() PixelFormat { return d.hwFormat }

func (d *astiavDecoder) NewFrameBuffer() (FrameBuffer, error) {
	f := astiav.AllocFrame()
	if f == nil {
		return nil, fmt.Errorf("allocating frame failed")
	}
	return &astiavFrameBuffer{f: f}, nil
}

func (d *astiavDecoder) Submit(data []byte) error {
	if err := d.pkt.FromData(data); err != nil {
		return fmt.Errorf("packet from data: %w", err)
	}
	defer d.pkt.Unref()

	if err := d.cc.SendPacket(d.pkt); err != nil {
		return err
	}
	return nil
}

func (d *astiavDecoder) Receive(dst FrameBuffer) (bool, error) {
	fb := dst.(*astiavFrameBuffer)
	if err := d.cc.ReceiveFrame(fb.f); err != nil {
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
			return false, nil
		}
		return false, err
	}
	if err := fb.materialize(); err != nil {
		return false, err
	}
	return true, nil
}

func (d *astiavDecoder) Transfer(dst, src FrameBuffer) error {
	sfb := src.(*astiavFrameBuffer)
	dfb := dst.(*astiavFrameBuffer)

	if err := sfb.f.TransferHardwareData(dfb.f); err != nil {
		return err
	}
	dfb.f.SetPts(sfb.f.Pts())
	return dfb.materialize()
}

func (d *astiavDecoder) Close() error {
	return d.closer.Close()
}

// astiavFrameBuffer wraps one AVFrame slot. CPU-resident contents are copied
// into a reusable arena on receive so the exposed view stays valid while the
// decoder writes the next frame elsewhere in the ring.
type astiavFrameBuffer struct {
	f    *astiav.Frame
	buf  []byte
	view Frame
}

func (fb *astiavFrameBuffer) Frame() *Frame { return &fb.view }

func (fb *astiavFrameBuffer) Close() error {
	if fb.f != nil {
		fb.f.Free()
		fb.f = nil
	}
	return nil
}

// materialize refreshes the exposed view from the underlying AVFrame.
// Hardware-resident frames expose the native handle only; CPU frames are
// packed plane by plane into the arena.
func (fb *astiavFrameBuffer) materialize() error {
	format := pixelFormatFromAstiav(fb.f.PixelFormat())
	width := fb.f.Width()
	height := fb.f.Height()

	fb.view = Frame{
		Width:     width,
		Height:    height,
		Format:    format,
		Timestamp: fb.f.Pts(),
	}

	if format.IsHardware() {
		fb.view.Native = fb.f
		return nil
	}
	if format == PixelFormatNone {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, fb.f.PixelFormat())
	}

	size, err := fb.f.ImageBufferSize(1)
	if err != nil {
		return fmt.Errorf("sizing frame buffer: %w", err)
	}
	if cap(fb.buf) < size {
		fb.buf = make([]byte, size)
	}
	fb.buf = fb.buf[:size]

	if _, err := fb.f.ImageCopyToBuffer(fb.buf, 1); err != nil {
		return fmt.Errorf("copying frame planes: %w", err)
	}

	strides, heights := format.planeLayout(width, height)
	fb.view.Data = make([][]byte, len(strides))
	fb.view.Stride = strides
	offset := 0
	for i := range strides {
		n := strides[i] * heights[i]
		fb.view.Data[i] = fb.buf[offset : offset+n]
		offset += n
	}
	return nil
}

func pixelFormatFromAstiav(pf astiav.PixelFormat) PixelFormat {
	switch pf {
	case astiav.PixelFormatYuv420P, astiav.PixelFormatYuvj420P:
		return PixelFormatI420
	case astiav.PixelFormatNv12:
		return PixelFormatNV12
	case astiav.PixelFormatP010Le:
		return PixelFormatP010
	case astiav.PixelFormatVaapi:
		return PixelFormatVAAPI
	case astiav.PixelFormatVdpau:
		return PixelFormatVDPAU
	case astiav.PixelFormatCuda:
		return PixelFormatCUDA
	case astiav.PixelFormatVideotoolbox:
		return PixelFormatVideoToolbox
	case astiav.PixelFormatD3D11:
		return PixelFormatD3D11
	case astiav.PixelFormatQsv:
		return PixelFormatQSV
	case astiav.PixelFormatDrmPrime:
		return PixelFormatDRMPrime
	default:
		return PixelFormatNone
	}
}

func pixelFormatToAstiav(pf PixelFormat) astiav.PixelFormat {
	switch pf {
	case PixelFormatI420:
		return astiav.PixelFormatYuv420P
	case PixelFormatNV12:
		return astiav.PixelFormatNv12
	case PixelFormatP010:
		return astiav.PixelFormatP010Le
	case PixelFormatVAAPI:
		return astiav.PixelFormatVaapi
	case PixelFormatVDPAU:
		return astiav.PixelFormatVdpau
	case PixelFormatCUDA:
		return astiav.PixelFormatCuda
	case PixelFormatVideoToolbox:
		return astiav.PixelFormatVideotoolbox
	case PixelFormatD3D11:
		return astiav.PixelFormatD3D11
	case PixelFormatQSV:
		return astiav.PixelFormatQsv
	case PixelFormatDRMPrime:
		return astiav.PixelFormatDrmPrime
	default:
		return astiav.PixelFormatNone
	}
}

func deviceTypeFromAstiav(t astiav.HardwareDeviceType) DeviceType {
	switch t {
	case astiav.HardwareDeviceTypeVAAPI:
		return DeviceTypeVAAPI
	case astiav.HardwareDeviceTypeVDPAU:
		return DeviceTypeVDPAU
	case astiav.HardwareDeviceTypeCUDA:
		return DeviceTypeCUDA
	case astiav.HardwareDeviceTypeVideoToolbox:
		return DeviceTypeVideoToolbox
	case astiav.HardwareDeviceTypeD3D11VA:
		return DeviceTypeD3D11VA
	case astiav.HardwareDeviceTypeQSV:
		return DeviceTypeQSV
	case astiav.HardwareDeviceTypeDRM:
		return DeviceTypeDRM
	default:
		return DeviceTypeNone
	}
}

func deviceTypeToAstiav(t DeviceType) astiav.HardwareDeviceType {
	switch t {
	case DeviceTypeVAAPI:
		return astiav.HardwareDeviceTypeVAAPI
	case DeviceTypeVDPAU:
		return astiav.HardwareDeviceTypeVDPAU
	case DeviceTypeCUDA:
		return astiav.HardwareDeviceTypeCUDA
	case DeviceTypeVideoToolbox:
		return astiav.HardwareDeviceTypeVideoToolbox
	case DeviceTypeD3D11VA:
		return astiav.HardwareDeviceTypeD3D11VA
	case DeviceTypeQSV:
		return astiav.HardwareDeviceTypeQSV
	case DeviceTypeDRM:
		return astiav.HardwareDeviceTypeDRM
	default:
		return astiav.HardwareDeviceTypeNone
	}
}
