package vdec

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// SessionConfig configures a decode session.
type SessionConfig struct {
	Codec  VideoCodec // Codec family of the incoming stream
	Width  int        // Stream width in pixels
	Height int        // Stream height in pixels

	HardwareAcceleration bool // Prefer a hardware backend over software
	SliceThreading       bool // Slice-parallel software decode
	ThreadCount          int  // Worker count when SliceThreading is set

	BufferCount int // Frame ring length

	Driver string         // Decoder driver override ("" = default driver)
	Logger *logrus.Logger // Logger override (nil = logrus.StandardLogger())
}

// DefaultSessionConfig returns a session configuration with conventional
// values: software decode with 4-way slice threading and a 3-deep frame
// ring.
func DefaultSessionConfig(codec VideoCodec, width, height int) SessionConfig {
	return SessionConfig{
		Codec:          codec,
		Width:          width,
		Height:         height,
		SliceThreading: true,
		ThreadCount:    4,
		BufferCount:    3,
	}
}

// SessionStats provides decode session metrics.
type SessionStats struct {
	AccessUnitsSubmitted uint64 // Total access units handed to the decoder
	SubmitErrors         uint64 // Access units the decoder rejected
	FramesDecoded        uint64 // Frames successfully received
	FramesDropped        uint64 // Frames lost to failed transfers
	Transfers            uint64 // Hardware to system memory copies
	TransferErrors       uint64 // Failed hardware transfers
	ReceiveErrors        uint64 // Transient decoder errors on receive
}

// Session is one video decode stream: an opened decoder, its frame ring,
// and, when hardware acceleration is active, the shared CPU transfer frame.
//
// Submit and ReceiveFrame must be driven by one logical thread of control;
// the decoder's internal state and the shared transfer frame make concurrent
// calls unsafe. NeedsKeyframe and Stats may be read from other goroutines.
type Session struct {
	cfg SessionConfig
	log *logrus.Entry

	dec      Decoder
	ring     *frameRing
	transfer FrameBuffer // CPU scratch for hardware frames, nil for software decoders

	needKeyframe atomic.Bool
	closed       bool

	stats   SessionStats
	statsMu sync.Mutex
}

// NewSession probes for a decoder and allocates the frame ring. On any
// failure everything already allocated is released before returning.
func NewSession(cfg SessionConfig) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	drv, err := driverFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	log := logger.WithFields(logrus.Fields{
		"codec":  cfg.Codec,
		"driver": drv.Name(),
	})

	return newSession(drv, cfg, log)
}

func (c SessionConfig) validate() error {
	if len(softwareCandidates[c.Codec]) == 0 {
		return fmt.Errorf("unsupported codec %s", c.Codec)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", c.Width, c.Height)
	}
	if c.BufferCount < 1 {
		return fmt.Errorf("buffer count must be at least 1")
	}
	if c.SliceThreading && c.ThreadCount < 1 {
		return fmt.Errorf("slice threading requires a thread count")
	}
	return nil
}

func newSession(drv Driver, cfg SessionConfig, log *logrus.Entry) (*Session, error) {
	dec, err := probeDecoder(drv, cfg, log)
	if err != nil {
		return nil, err
	}

	ring, err := newFrameRing(dec, cfg.BufferCount)
	if err != nil {
		dec.Close()
		return nil, err
	}

	var transfer FrameBuffer
	if dec.HardwareDevice() != DeviceTypeNone {
		transfer, err = dec.NewFrameBuffer()
		if err != nil {
			ring.close()
			dec.Close()
			return nil, fmt.Errorf("%w: transfer frame: %v", ErrFrameAllocation, err)
		}
	}

	return &Session{
		cfg:      cfg,
		log:      log,
		dec:      dec,
		ring:     ring,
		transfer: transfer,
	}, nil
}

// Submit hands one access unit to the decoder. The buffer must be
// over-allocated by InputPadding bytes beyond its length (see
// PadAccessUnit). A decoder rejection is reported as ErrDecodeRejected and
// marks the session as needing a key frame; decoding continues with the
// next submission.
func (s *Session) Submit(au []byte) error {
	if s.closed {
		return ErrClosed
	}

	if s.needKeyframe.Load() && IsKeyframe(s.cfg.Codec, au) {
		s.needKeyframe.Store(false)
	}

	s.statsMu.Lock()
	s.stats.AccessUnitsSubmitted++
	s.statsMu.Unlock()

	if err := s.dec.Submit(au); err != nil {
		s.statsMu.Lock()
		s.stats.SubmitErrors++
		s.statsMu.Unlock()

		s.needKeyframe.Store(true)
		s.log.WithError(err).Warn("decoder rejected access unit")
		return fmt.Errorf("%w: %v", ErrDecodeRejected, err)
	}
	return nil
}

// ReceiveFrame pulls the next decoded frame, in submission order. A nil
// frame with a nil error means the decoder needs more input. When wantsCPU
// is set (or the frame is already CPU-resident) the returned frame is
// CPU-addressable; hardware-resident frames are copied through the shared
// transfer frame. The returned frame is valid only until the next
// ReceiveFrame call.
func (s *Session) ReceiveFrame(wantsCPU bool) (*Frame, error) {
	if s.closed {
		return nil, ErrClosed
	}

	slot := s.ring.writable()
	ok, err := s.dec.Receive(slot)
	if err != nil {
		s.statsMu.Lock()
		s.stats.ReceiveErrors++
		s.statsMu.Unlock()

		s.log.WithError(err).Warn("frame receive failed")
		return nil, nil
	}
	if !ok {
		return nil, nil
	}

	s.ring.advance()
	s.statsMu.Lock()
	s.stats.FramesDecoded++
	s.statsMu.Unlock()

	frame := slot.Frame()
	if frame.IsHardware() && wantsCPU {
		if err := s.dec.Transfer(s.transfer, slot); err != nil {
			s.statsMu.Lock()
			s.stats.FramesDropped++
			s.stats.TransferErrors++
			s.statsMu.Unlock()

			s.log.WithError(err).Warn("hardware frame transfer failed")
			return nil, fmt.Errorf("%w: %v", ErrTransfer, err)
		}

		s.statsMu.Lock()
		s.stats.Transfers++
		s.statsMu.Unlock()
		return s.transfer.Frame(), nil
	}

	return frame, nil
}

// NeedsKeyframe reports whether decoding state is presumed corrupt and the
// upstream source should be asked for a key frame. The flag sets when the
// decoder rejects an access unit and clears when a key frame is submitted.
func (s *Session) NeedsKeyframe() bool {
	return s.needKeyframe.Load()
}

// Backend returns the name of the opened decoder backend.
func (s *Session) Backend() string {
	return s.dec.BackendName()
}

// HardwareDevice returns the accelerator in use, or DeviceTypeNone for a
// software decoder.
func (s *Session) HardwareDevice() DeviceType {
	return s.dec.HardwareDevice()
}

// Config returns the session configuration.
func (s *Session) Config() SessionConfig {
	return s.cfg
}

// Stats returns decode session statistics.
func (s *Session) Stats() SessionStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// Close releases the decoder, the frame ring, and the transfer frame.
// Subsequent calls are no-ops.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.transfer != nil {
		if err := s.transfer.Close(); err != nil {
			errs = append(errs, err)
		}
		s.transfer = nil
	}
	if s.ring != nil {
		if err := s.ring.close(); err != nil {
			errs = append(errs, err)
		}
		s.ring = nil
	}
	if s.dec != nil {
		if err := s.dec.Close(); err != nil {
			errs = append(errs, err)
		}
		s.dec = nil
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
