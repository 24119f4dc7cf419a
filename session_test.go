package vdec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
)

// ====== Fake driver infrastructure ======

// testLogger returns a logger that swallows output so probe and rejection
// logs do not clutter test runs.
func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fakeFrameBuffer is a FrameBuffer backed by a plain Frame value.
type fakeFrameBuffer struct {
	frame  Frame
	id     int
	closed bool
}

func (f *fakeFrameBuffer) Frame() *Frame { return &f.frame }

func (f *fakeFrameBuffer) Close() error {
	f.closed = true
	return nil
}

// fakeDecoder is a Decoder whose behavior is scripted through its fields.
// Tests reach it through fakeDriver.opened and mutate the error fields
// between calls.
type fakeDecoder struct {
	name      string
	device    DeviceType
	hwFormat  PixelFormat
	outFormat PixelFormat
	width     int
	height    int

	buffers     []*fakeFrameBuffer
	bufferErr   error // NewFrameBuffer failure injection
	bufferErrAt int   // allocation index at which bufferErr fires

	submitErr   error
	receiveErr  error
	transferErr error

	pending   int  // decoded frames waiting for Receive
	produce   int  // frames queued by each accepted Submit
	noPts     bool // decoded frames carry no timestamp of their own
	frameSeq  int64
	transfers int
	closed    bool
}

func (d *fakeDecoder) BackendName() string { return d.name }

func (d *fakeDecoder) HardwareDevice() DeviceType { return d.device }

func (d *fakeDecoder) HardwarePixelFormat() PixelFormat { return d.hwFormat }

func (d *fakeDecoder) NewFrameBuffer() (FrameBuffer, error) {
	if d.bufferErr != nil && len(d.buffers) == d.bufferErrAt {
		return nil, d.bufferErr
	}
	fb := &fakeFrameBuffer{id: len(d.buffers)}
	d.buffers = append(d.buffers, fb)
	return fb, nil
}

func (d *fakeDecoder) Submit(data []byte) error {
	if d.submitErr != nil {
		return d.submitErr
	}
	d.pending += d.produce
	return nil
}

func (d *fakeDecoder) Receive(dst FrameBuffer) (bool, error) {
	if d.receiveErr != nil {
		err := d.receiveErr
		d.receiveErr = nil
		return false, err
	}
	if d.pending == 0 {
		return false, nil
	}
	d.pending--
	d.frameSeq++

	ts := d.frameSeq
	if d.noPts {
		ts = 0
	}
	fb := dst.(*fakeFrameBuffer)
	fb.frame = Frame{
		Width:     d.width,
		Height:    d.height,
		Format:    d.outFormat,
		Timestamp: ts,
	}
	if d.outFormat.IsHardware() {
		fb.frame.Native = fb
	}
	return true, nil
}

func (d *fakeDecoder) Transfer(dst, src FrameBuffer) error {
	if d.transferErr != nil {
		return d.transferErr
	}
	d.transfers++

	s := src.(*fakeFrameBuffer)
	fb := dst.(*fakeFrameBuffer)
	fb.frame = Frame{
		Width:     s.frame.Width,
		Height:    s.frame.Height,
		Format:    PixelFormatI420,
		Timestamp: s.frame.Timestamp,
	}
	return nil
}

func (d *fakeDecoder) Close() error {
	d.closed = true
	return nil
}

// fakeDriver opens fakeDecoders for the backend names listed in responses.
// A missing name reports ErrBackendUnavailable, a nil entry opens, and a
// non-nil entry fails the open with that error.
type fakeDriver struct {
	name      string
	responses map[string]error
	device    DeviceType
	hwFormat  PixelFormat
	outFormat PixelFormat
	devices   []DeviceType
	produce   int
	noPts     bool

	bufferErr   error
	bufferErrAt int

	opens   []string
	configs []DecoderConfig
	opened  []*fakeDecoder
}

func (d *fakeDriver) Name() string { return d.name }

func (d *fakeDriver) Open(name string, config DecoderConfig) (Decoder, error) {
	d.opens = append(d.opens, name)
	d.configs = append(d.configs, config)

	err, ok := d.responses[name]
	if !ok {
		return nil, ErrBackendUnavailable
	}
	if err != nil {
		return nil, err
	}

	outFormat := d.outFormat
	if outFormat == PixelFormatNone {
		outFormat = PixelFormatI420
	}
	dec := &fakeDecoder{
		name:        name,
		device:      d.device,
		hwFormat:    d.hwFormat,
		outFormat:   outFormat,
		width:       config.Width,
		height:      config.Height,
		produce:     d.produce,
		noPts:       d.noPts,
		bufferErr:   d.bufferErr,
		bufferErrAt: d.bufferErrAt,
	}
	d.opened = append(d.opened, dec)
	return dec, nil
}

func (d *fakeDriver) Devices() []DeviceType { return d.devices }

var fakeDriverSeq atomic.Int64

// newFakeDriver registers a uniquely named fake driver so tests can select
// it through SessionConfig.Driver without touching the real bindings.
func newFakeDriver(responses map[string]error) *fakeDriver {
	d := &fakeDriver{
		name:      fmt.Sprintf("fake%d", fakeDriverSeq.Add(1)),
		responses: responses,
	}
	registerDriver(d)
	return d
}

func newTestSession(t *testing.T, drv *fakeDriver, cfg SessionConfig) *Session {
	t.Helper()
	cfg.Driver = drv.name
	cfg.Logger = testLogger()
	s, err := NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ====== Candidate table tests ======

func TestDecoderCandidates(t *testing.T) {
	tests := []struct {
		name     string
		codec    VideoCodec
		hardware bool
		want     []string
	}{
		{"H264 software", VideoCodecH264, false, []string{"h264_nvv4l2", "h264_nvmpi", "h264_omx", "h264_v4l2m2m", "h264"}},
		{"H265 software", VideoCodecH265, false, []string{"hevc_nvv4l2", "hevc_nvmpi", "hevc_omx", "hevc_v4l2m2m", "hevc"}},
		{"AV1 software", VideoCodecAV1, false, []string{"libdav1d", "av1"}},
		{"H264 hardware", VideoCodecH264, true, []string{"h264"}},
		{"H265 hardware", VideoCodecH265, true, []string{"hevc"}},
		{"AV1 hardware", VideoCodecAV1, true, []string{"av1"}},
		{"unknown codec", VideoCodecUnknown, false, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecoderCandidates(tt.codec, tt.hardware)
			if len(got) != len(tt.want) {
				t.Fatalf("DecoderCandidates() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("DecoderCandidates()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDecoderCandidates_ReturnsCopy(t *testing.T) {
	got := DecoderCandidates(VideoCodecH264, false)
	got[0] = "mutated"

	again := DecoderCandidates(VideoCodecH264, false)
	if again[0] != "h264_nvv4l2" {
		t.Errorf("candidate table mutated through returned slice: %v", again[0])
	}
}

// ====== Session construction tests ======

func TestDefaultSessionConfig(t *testing.T) {
	cfg := DefaultSessionConfig(VideoCodecH264, 1920, 1080)

	if cfg.Codec != VideoCodecH264 {
		t.Errorf("Codec = %v, want H264", cfg.Codec)
	}
	if cfg.Width != 1920 || cfg.Height != 1080 {
		t.Errorf("dimensions = %dx%d, want 1920x1080", cfg.Width, cfg.Height)
	}
	if !cfg.SliceThreading || cfg.ThreadCount != 4 {
		t.Errorf("threading = %v/%d, want slice threading with 4 workers", cfg.SliceThreading, cfg.ThreadCount)
	}
	if cfg.BufferCount != 3 {
		t.Errorf("BufferCount = %d, want 3", cfg.BufferCount)
	}
	if cfg.HardwareAcceleration {
		t.Error("HardwareAcceleration = true, want false")
	}
}

func TestNewSession_ConfigValidation(t *testing.T) {
	drv := newFakeDriver(map[string]error{"h264": nil})

	tests := []struct {
		name   string
		modify func(*SessionConfig)
	}{
		{"unsupported codec", func(c *SessionConfig) { c.Codec = VideoCodecUnknown }},
		{"zero width", func(c *SessionConfig) { c.Width = 0 }},
		{"negative height", func(c *SessionConfig) { c.Height = -1 }},
		{"zero buffer count", func(c *SessionConfig) { c.BufferCount = 0 }},
		{"threading without workers", func(c *SessionConfig) {
			c.SliceThreading = true
			c.ThreadCount = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSessionConfig(VideoCodecH264, 1280, 720)
			cfg.Driver = drv.name
			cfg.Logger = testLogger()
			tt.modify(&cfg)

			if _, err := NewSession(cfg); err == nil {
				t.Error("NewSession() accepted invalid config")
			}
		})
	}
}

func TestNewSession_UnknownDriver(t *testing.T) {
	cfg := DefaultSessionConfig(VideoCodecH264, 1280, 720)
	cfg.Driver = "no-such-driver"

	if _, err := NewSession(cfg); !errors.Is(err, ErrNoDriver) {
		t.Errorf("NewSession() error = %v, want ErrNoDriver", err)
	}
}

func TestNewSession_ProbeOrder(t *testing.T) {
	// Only the V4L2 backend is compiled in; earlier candidates are skipped
	// silently and later ones never tried.
	drv := newFakeDriver(map[string]error{"h264_v4l2m2m": nil})
	s := newTestSession(t, drv, DefaultSessionConfig(VideoCodecH264, 1280, 720))

	wantOpens := []string{"h264_nvv4l2", "h264_nvmpi", "h264_omx", "h264_v4l2m2m"}
	if len(drv.opens) != len(wantOpens) {
		t.Fatalf("open attempts = %v, want %v", drv.opens, wantOpens)
	}
	for i := range wantOpens {
		if drv.opens[i] != wantOpens[i] {
			t.Errorf("open attempt %d = %v, want %v", i, drv.opens[i], wantOpens[i])
		}
	}
	if s.Backend() != "h264_v4l2m2m" {
		t.Errorf("Backend() = %v, want h264_v4l2m2m", s.Backend())
	}
}

func TestNewSession_SkipsFailedBackend(t *testing.T) {
	// The OMX backend exists but fails to open; the probe moves on to the
	// generic decoder rather than giving up.
	drv := newFakeDriver(map[string]error{
		"h264_omx": errors.New("omx init failed"),
		"h264":     nil,
	})
	s := newTestSession(t, drv, DefaultSessionConfig(VideoCodecH264, 1280, 720))

	if s.Backend() != "h264" {
		t.Errorf("Backend() = %v, want h264", s.Backend())
	}
}

func TestNewSession_NoBackend(t *testing.T) {
	drv := newFakeDriver(map[string]error{})
	cfg := DefaultSessionConfig(VideoCodecH265, 1280, 720)
	cfg.Driver = drv.name
	cfg.Logger = testLogger()

	_, err := NewSession(cfg)
	if !errors.Is(err, ErrNoDecoder) {
		t.Fatalf("NewSession() error = %v, want ErrNoDecoder", err)
	}
	if len(drv.opens) != 5 {
		t.Errorf("open attempts = %d, want all 5 candidates tried", len(drv.opens))
	}
	if len(drv.opened) != 0 {
		t.Errorf("opened decoders = %d, want 0", len(drv.opened))
	}
}

func TestNewSession_HardwareCandidates(t *testing.T) {
	drv := newFakeDriver(map[string]error{"hevc": nil})
	drv.device = DeviceTypeVAAPI
	drv.hwFormat = PixelFormatVAAPI

	cfg := DefaultSessionConfig(VideoCodecH265, 1920, 1080)
	cfg.HardwareAcceleration = true
	s := newTestSession(t, drv, cfg)

	// Under a hardware preference only the generic backend is tried.
	if len(drv.opens) != 1 || drv.opens[0] != "hevc" {
		t.Errorf("open attempts = %v, want [hevc]", drv.opens)
	}
	if !drv.configs[0].HardwareAcceleration {
		t.Error("backend config did not carry the hardware preference")
	}
	if s.HardwareDevice() != DeviceTypeVAAPI {
		t.Errorf("HardwareDevice() = %v, want vaapi", s.HardwareDevice())
	}
}

func TestNewSession_SoftwareConfigStaysSoftware(t *testing.T) {
	drv := newFakeDriver(map[string]error{"h264": nil})
	s := newTestSession(t, drv, DefaultSessionConfig(VideoCodecH264, 1280, 720))

	if drv.configs[len(drv.configs)-1].HardwareAcceleration {
		t.Error("software session asked the backend for hardware acceleration")
	}
	if s.HardwareDevice() != DeviceTypeNone {
		t.Errorf("HardwareDevice() = %v, want none", s.HardwareDevice())
	}
}

func TestNewSession_RingFailureClosesDecoder(t *testing.T) {
	drv := newFakeDriver(map[string]error{"h264": nil})
	drv.bufferErr = errors.New("out of memory")
	drv.bufferErrAt = 1

	cfg := DefaultSessionConfig(VideoCodecH264, 1280, 720)
	cfg.Driver = drv.name
	cfg.Logger = testLogger()

	_, err := NewSession(cfg)
	if !errors.Is(err, ErrFrameAllocation) {
		t.Fatalf("NewSession() error = %v, want ErrFrameAllocation", err)
	}

	dec := drv.opened[0]
	if !dec.closed {
		t.Error("decoder leaked after ring allocation failure")
	}
	if !dec.buffers[0].closed {
		t.Error("allocated ring slot leaked after ring allocation failure")
	}
}

func TestNewSession_TransferFrameFailureCleansUp(t *testing.T) {
	drv := newFakeDriver(map[string]error{"h264": nil})
	drv.device = DeviceTypeCUDA
	drv.hwFormat = PixelFormatCUDA
	drv.bufferErr = errors.New("out of memory")
	drv.bufferErrAt = 2 // ring slots allocate, the transfer frame does not

	cfg := DefaultSessionConfig(VideoCodecH264, 1280, 720)
	cfg.HardwareAcceleration = true
	cfg.BufferCount = 2
	cfg.Driver = drv.name
	cfg.Logger = testLogger()

	_, err := NewSession(cfg)
	if !errors.Is(err, ErrFrameAllocation) {
		t.Fatalf("NewSession() error = %v, want ErrFrameAllocation", err)
	}

	dec := drv.opened[0]
	if !dec.closed {
		t.Error("decoder leaked after transfer frame failure")
	}
	for i, fb := range dec.buffers {
		if !fb.closed {
			t.Errorf("ring slot %d leaked after transfer frame failure", i)
		}
	}
}

// ====== Decode loop tests ======

func TestSession_SubmitRejectedSetsKeyframeNeed(t *testing.T) {
	drv := newFakeDriver(map[string]error{"h264": nil})
	s := newTestSession(t, drv, DefaultSessionConfig(VideoCodecH264, 1280, 720))
	dec := drv.opened[0]

	if s.NeedsKeyframe() {
		t.Fatal("fresh session already needs a keyframe")
	}

	dec.submitErr = errors.New("mid-stream corruption")
	err := s.Submit(PadAccessUnit([]byte{0x00, 0x00, 0x00, 0x01, 0x41, 0x9A}))
	if !errors.Is(err, ErrDecodeRejected) {
		t.Fatalf("Submit() error = %v, want ErrDecodeRejected", err)
	}
	if !s.NeedsKeyframe() {
		t.Error("NeedsKeyframe() = false after rejection")
	}

	// A delta frame does not clear the flag
	dec.submitErr = nil
	if err := s.Submit(PadAccessUnit([]byte{0x00, 0x00, 0x00, 0x01, 0x41, 0x9A})); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !s.NeedsKeyframe() {
		t.Error("NeedsKeyframe() cleared by a delta frame")
	}

	// An IDR clears it
	idr := PadAccessUnit([]byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84})
	if err := s.Submit(idr); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if s.NeedsKeyframe() {
		t.Error("NeedsKeyframe() = true after a keyframe was submitted")
	}

	stats := s.Stats()
	if stats.AccessUnitsSubmitted != 3 {
		t.Errorf("AccessUnitsSubmitted = %d, want 3", stats.AccessUnitsSubmitted)
	}
	if stats.SubmitErrors != 1 {
		t.Errorf("SubmitErrors = %d, want 1", stats.SubmitErrors)
	}
}

func TestSession_ReceiveFrame_NeedsInput(t *testing.T) {
	drv := newFakeDriver(map[string]error{"h264": nil})
	s := newTestSession(t, drv, DefaultSessionConfig(VideoCodecH264, 1280, 720))

	frame, err := s.ReceiveFrame(true)
	if err != nil {
		t.Fatalf("ReceiveFrame() error = %v", err)
	}
	if frame != nil {
		t.Errorf("ReceiveFrame() = %v, want nil when the decoder needs input", frame)
	}
}

func TestSession_DecodeCycle(t *testing.T) {
	drv := newFakeDriver(map[string]error{"h264": nil})
	cfg := DefaultSessionConfig(VideoCodecH264, 1280, 720)
	cfg.BufferCount = 2
	s := newTestSession(t, drv, cfg)
	dec := drv.opened[0]

	if err := s.Submit(PadAccessUnit([]byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x88})); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	dec.pending = 3

	for want := int64(1); want <= 3; want++ {
		frame, err := s.ReceiveFrame(true)
		if err != nil {
			t.Fatalf("ReceiveFrame() error = %v", err)
		}
		if frame == nil {
			t.Fatalf("ReceiveFrame() = nil, want frame %d", want)
		}
		if frame.Timestamp != want {
			t.Errorf("frame timestamp = %d, want %d", frame.Timestamp, want)
		}
		if frame.Width != 1280 || frame.Height != 720 {
			t.Errorf("frame dimensions = %dx%d, want 1280x720", frame.Width, frame.Height)
		}
		if frame.Format != PixelFormatI420 {
			t.Errorf("frame format = %v, want I420", frame.Format)
		}
	}

	// With a 2-deep ring the third frame wraps back into the first slot
	if got := dec.buffers[0].frame.Timestamp; got != 3 {
		t.Errorf("ring slot 0 holds frame %d, want 3 after wrap", got)
	}
	if got := dec.buffers[1].frame.Timestamp; got != 2 {
		t.Errorf("ring slot 1 holds frame %d, want 2", got)
	}

	stats := s.Stats()
	if stats.FramesDecoded != 3 {
		t.Errorf("FramesDecoded = %d, want 3", stats.FramesDecoded)
	}
}

func TestSession_DecodeE2E(t *testing.T) {
	// The stock 1080p software session, end to end: the probe cascades to
	// the generic decoder, the threading config reaches the backend, and the
	// default 3-deep ring hands out its slots in order.
	drv := newFakeDriver(map[string]error{"h264": nil})
	s := newTestSession(t, drv, DefaultSessionConfig(VideoCodecH264, 1920, 1080))
	dec := drv.opened[0]

	if s.Backend() != "h264" {
		t.Errorf("Backend() = %v, want h264", s.Backend())
	}
	if s.HardwareDevice() != DeviceTypeNone {
		t.Errorf("HardwareDevice() = %v, want none", s.HardwareDevice())
	}

	cfg := drv.configs[len(drv.configs)-1]
	if !cfg.SliceThreading || cfg.ThreadCount != 4 {
		t.Errorf("backend threading = %v/%d, want slice threading with 4 workers",
			cfg.SliceThreading, cfg.ThreadCount)
	}
	if cfg.Width != 1920 || cfg.Height != 1080 {
		t.Errorf("backend dimensions = %dx%d, want 1920x1080", cfg.Width, cfg.Height)
	}

	if len(dec.buffers) != 3 {
		t.Fatalf("ring slots = %d, want 3", len(dec.buffers))
	}

	au := PadAccessUnit([]byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x88})
	for slot := 0; slot < 3; slot++ {
		if err := s.Submit(au); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		dec.pending = 1

		frame, err := s.ReceiveFrame(false)
		if err != nil {
			t.Fatalf("ReceiveFrame() error = %v", err)
		}
		if frame == nil {
			t.Fatalf("ReceiveFrame() = nil, want frame from slot %d", slot)
		}
		if want := &dec.buffers[slot].frame; frame != want {
			t.Errorf("cycle %d returned %p, want ring slot %d (%p)", slot, frame, slot, want)
		}
	}
}

func TestSession_ReceiveErrorIsTransient(t *testing.T) {
	drv := newFakeDriver(map[string]error{"h264": nil})
	s := newTestSession(t, drv, DefaultSessionConfig(VideoCodecH264, 1280, 720))
	dec := drv.opened[0]

	dec.receiveErr = errors.New("decode glitch")
	frame, err := s.ReceiveFrame(true)
	if err != nil {
		t.Fatalf("ReceiveFrame() error = %v, want nil for a transient failure", err)
	}
	if frame != nil {
		t.Errorf("ReceiveFrame() = %v, want nil", frame)
	}
	if got := s.Stats().ReceiveErrors; got != 1 {
		t.Errorf("ReceiveErrors = %d, want 1", got)
	}

	// The next receive works normally
	dec.pending = 1
	frame, err = s.ReceiveFrame(true)
	if err != nil || frame == nil {
		t.Fatalf("ReceiveFrame() after transient error = %v, %v", frame, err)
	}
}

func TestSession_ReceiveErrorLogsWarning(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)

	drv := newFakeDriver(map[string]error{"h264": nil})
	cfg := DefaultSessionConfig(VideoCodecH264, 1280, 720)
	cfg.Driver = drv.name
	cfg.Logger = logger

	s, err := NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	defer s.Close()
	buf.Reset()

	drv.opened[0].receiveErr = errors.New("decode glitch")
	if _, err := s.ReceiveFrame(true); err != nil {
		t.Fatalf("ReceiveFrame() error = %v", err)
	}
	if !strings.Contains(buf.String(), `level=warning msg="frame receive failed"`) {
		t.Errorf("receive failure not logged at warning level, log output: %q", buf.String())
	}
}

// ====== Hardware frame path tests ======

func TestSession_HardwareTransfer(t *testing.T) {
	drv := newFakeDriver(map[string]error{"h264": nil})
	drv.device = DeviceTypeVAAPI
	drv.hwFormat = PixelFormatVAAPI
	drv.outFormat = PixelFormatVAAPI

	cfg := DefaultSessionConfig(VideoCodecH264, 1920, 1080)
	cfg.HardwareAcceleration = true
	s := newTestSession(t, drv, cfg)
	dec := drv.opened[0]

	// Ring slots plus the shared transfer frame
	if len(dec.buffers) != cfg.BufferCount+1 {
		t.Fatalf("allocated buffers = %d, want %d", len(dec.buffers), cfg.BufferCount+1)
	}

	dec.pending = 1
	frame, err := s.ReceiveFrame(true)
	if err != nil {
		t.Fatalf("ReceiveFrame() error = %v", err)
	}
	if frame.Format != PixelFormatI420 {
		t.Errorf("frame format = %v, want I420 after transfer", frame.Format)
	}
	if frame.IsHardware() {
		t.Error("caller asked for CPU pixels but got a hardware frame")
	}
	if dec.transfers != 1 {
		t.Errorf("transfers = %d, want 1", dec.transfers)
	}

	stats := s.Stats()
	if stats.Transfers != 1 {
		t.Errorf("stats.Transfers = %d, want 1", stats.Transfers)
	}
}

func TestSession_HardwareFramePassthrough(t *testing.T) {
	drv := newFakeDriver(map[string]error{"h264": nil})
	drv.device = DeviceTypeCUDA
	drv.hwFormat = PixelFormatCUDA
	drv.outFormat = PixelFormatCUDA

	cfg := DefaultSessionConfig(VideoCodecH264, 1920, 1080)
	cfg.HardwareAcceleration = true
	s := newTestSession(t, drv, cfg)
	dec := drv.opened[0]

	dec.pending = 1
	frame, err := s.ReceiveFrame(false)
	if err != nil {
		t.Fatalf("ReceiveFrame() error = %v", err)
	}
	if frame.Format != PixelFormatCUDA {
		t.Errorf("frame format = %v, want CUDA without transfer", frame.Format)
	}
	if frame.Native == nil {
		t.Error("hardware frame carries no native handle")
	}
	if dec.transfers != 0 {
		t.Errorf("transfers = %d, want 0", dec.transfers)
	}
}

func TestSession_TransferFailureDropsFrame(t *testing.T) {
	drv := newFakeDriver(map[string]error{"h264": nil})
	drv.device = DeviceTypeVAAPI
	drv.hwFormat = PixelFormatVAAPI
	drv.outFormat = PixelFormatVAAPI

	cfg := DefaultSessionConfig(VideoCodecH264, 1920, 1080)
	cfg.HardwareAcceleration = true
	s := newTestSession(t, drv, cfg)
	dec := drv.opened[0]

	dec.pending = 1
	dec.transferErr = errors.New("map failed")

	_, err := s.ReceiveFrame(true)
	if !errors.Is(err, ErrTransfer) {
		t.Fatalf("ReceiveFrame() error = %v, want ErrTransfer", err)
	}

	stats := s.Stats()
	if stats.FramesDecoded != 1 {
		t.Errorf("FramesDecoded = %d, want 1", stats.FramesDecoded)
	}
	if stats.FramesDropped != 1 {
		t.Errorf("FramesDropped = %d, want 1", stats.FramesDropped)
	}
	if stats.TransferErrors != 1 {
		t.Errorf("TransferErrors = %d, want 1", stats.TransferErrors)
	}

	// Decoding continues after the drop
	dec.transferErr = nil
	dec.pending = 1
	frame, err := s.ReceiveFrame(true)
	if err != nil || frame == nil {
		t.Fatalf("ReceiveFrame() after drop = %v, %v", frame, err)
	}
}

// ====== Lifecycle tests ======

func TestSession_Close(t *testing.T) {
	drv := newFakeDriver(map[string]error{"h264": nil})
	drv.device = DeviceTypeVAAPI
	drv.hwFormat = PixelFormatVAAPI

	cfg := DefaultSessionConfig(VideoCodecH264, 1280, 720)
	cfg.HardwareAcceleration = true
	cfg.Driver = drv.name
	cfg.Logger = testLogger()

	s, err := NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	dec := drv.opened[0]
	if !dec.closed {
		t.Error("decoder not closed")
	}
	for i, fb := range dec.buffers {
		if !fb.closed {
			t.Errorf("buffer %d not closed", i)
		}
	}

	if err := s.Submit([]byte{0x00}); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit() after close = %v, want ErrClosed", err)
	}
	if _, err := s.ReceiveFrame(true); !errors.Is(err, ErrClosed) {
		t.Errorf("ReceiveFrame() after close = %v, want ErrClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestSession_Config(t *testing.T) {
	drv := newFakeDriver(map[string]error{"h264": nil})
	cfg := DefaultSessionConfig(VideoCodecH264, 1280, 720)
	s := newTestSession(t, drv, cfg)

	got := s.Config()
	if got.Codec != VideoCodecH264 || got.Width != 1280 || got.Height != 720 {
		t.Errorf("Config() = %+v, want the construction config back", got)
	}
}

// ====== Benchmarks ======

func BenchmarkSession_DecodeCycle(b *testing.B) {
	drv := newFakeDriver(map[string]error{"h264": nil})
	cfg := DefaultSessionConfig(VideoCodecH264, 1280, 720)
	cfg.Driver = drv.name
	cfg.Logger = testLogger()

	s, err := NewSession(cfg)
	if err != nil {
		b.Fatalf("NewSession() error = %v", err)
	}
	defer s.Close()

	dec := drv.opened[0]
	au := PadAccessUnit([]byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x00})

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if err := s.Submit(au); err != nil {
			b.Fatal(err)
		}
		dec.pending = 1
		if _, err := s.ReceiveFrame(true); err != nil {
			b.Fatal(err)
		}
	}
}
