package vdec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// PipelineState represents the state of a decode pipeline.
type PipelineState int

const (
	PipelineStateIdle    PipelineState = iota // Not started
	PipelineStateRunning                      // Processing access units
	PipelineStateStopped                      // Stopped
)

func (s PipelineState) String() string {
	switch s {
	case PipelineStateIdle:
		return "idle"
	case PipelineStateRunning:
		return "running"
	case PipelineStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// AccessUnitSource supplies complete access units to a DecodePipeline.
type AccessUnitSource interface {
	// ReadAccessUnit blocks until the next access unit is available, the
	// source ends (io.EOF), or ctx is done.
	ReadAccessUnit(ctx context.Context) (*AccessUnit, error)
}

// AccessUnitQueue is a bounded channel-backed AccessUnitSource for push-style
// producers such as network receive callbacks. When the queue is full, Push
// drops the unit rather than block the producer.
type AccessUnitQueue struct {
	ch     chan *AccessUnit
	mu     sync.RWMutex
	closed bool
}

// NewAccessUnitQueue creates a queue holding at most capacity pending units.
func NewAccessUnitQueue(capacity int) *AccessUnitQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &AccessUnitQueue{ch: make(chan *AccessUnit, capacity)}
}

// Push hands an access unit to the pipeline. It never blocks; the return
// value reports whether the unit was accepted.
func (q *AccessUnitQueue) Push(au *AccessUnit) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return false
	}
	select {
	case q.ch <- au:
		return true
	default:
		return false
	}
}

// Close ends the stream. ReadAccessUnit returns io.EOF once the queue drains.
func (q *AccessUnitQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	return nil
}

// ReadAccessUnit implements AccessUnitSource.
func (q *AccessUnitQueue) ReadAccessUnit(ctx context.Context) (*AccessUnit, error) {
	select {
	case au, ok := <-q.ch:
		if !ok {
			return nil, io.EOF
		}
		return au, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FrameCallback receives decoded frames. The frame is valid only for the
// duration of the callback; Clone it to keep pixels longer.
type FrameCallback func(*Frame)

// DecodePipeline handles: AccessUnitSource -> Session -> FrameCallback
type DecodePipeline struct {
	session  *Session         // Decode session
	source   AccessUnitSource // Access unit source
	wantsCPU bool             // Deliver CPU-resident frames

	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats   DecodePipelineStats
	statsMu sync.Mutex

	onFrame          FrameCallback
	onError          func(error)
	onKeyframeNeeded func()
	mu               sync.Mutex
}

// DecodePipelineStats provides decode pipeline statistics.
type DecodePipelineStats struct {
	AccessUnitsRead  uint64
	FramesDecoded    uint64
	FramesDelivered  uint64
	KeyframeRequests uint64
	DecodeTimeUs     uint64
	Errors           uint64
}

// DecodePipelineConfig configures a decode pipeline.
type DecodePipelineConfig struct {
	Session  *Session         // Decode session (required)
	Source   AccessUnitSource // Access unit source (required)
	WantsCPU bool             // Transfer hardware frames to CPU memory before delivery

	OnFrame FrameCallback // Frame callback
	OnError func(error)   // Error callback

	// OnKeyframeNeeded fires once each time the session starts waiting for
	// a keyframe, so the caller can ask the sender for an IDR.
	OnKeyframeNeeded func()
}

// NewDecodePipeline creates a new decode pipeline.
func NewDecodePipeline(config DecodePipelineConfig) (*DecodePipeline, error) {
	if config.Session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if config.Source == nil {
		return nil, fmt.Errorf("source is required")
	}

	p := &DecodePipeline{
		session:          config.Session,
		source:           config.Source,
		wantsCPU:         config.WantsCPU,
		onFrame:          config.OnFrame,
		onError:          config.OnError,
		onKeyframeNeeded: config.OnKeyframeNeeded,
	}
	p.state.Store(int32(PipelineStateIdle))

	return p, nil
}

// Start starts the pipeline.
func (p *DecodePipeline) Start() error {
	if PipelineState(p.state.Load()) == PipelineStateRunning {
		return fmt.Errorf("pipeline already running")
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.state.Store(int32(PipelineStateRunning))

	p.wg.Add(1)
	go p.processLoop()

	return nil
}

// Stop stops the pipeline. The session stays open.
func (p *DecodePipeline) Stop() error {
	if PipelineState(p.state.Load()) != PipelineStateRunning {
		return nil
	}

	p.state.Store(int32(PipelineStateStopped))
	p.cancel()
	p.wg.Wait()

	return nil
}

// Close stops the pipeline and closes the session.
func (p *DecodePipeline) Close() error {
	p.Stop()
	return p.session.Close()
}

// OnFrame sets the frame callback.
func (p *DecodePipeline) OnFrame(callback FrameCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFrame = callback
}

// State returns the current pipeline state.
func (p *DecodePipeline) State() PipelineState {
	return PipelineState(p.state.Load())
}

// Session returns the pipeline's decode session.
func (p *DecodePipeline) Session() *Session {
	return p.session
}

// Stats returns pipeline statistics.
func (p *DecodePipeline) Stats() DecodePipelineStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

func (p *DecodePipeline) processLoop() {
	defer p.wg.Done()

	needKeyframe := false

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		au, err := p.source.ReadAccessUnit(p.ctx)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				p.state.Store(int32(PipelineStateStopped))
				return
			}
			p.handleError(err)
			continue
		}

		if au == nil || len(au.Data) == 0 {
			continue
		}

		p.statsMu.Lock()
		p.stats.AccessUnitsRead++
		p.statsMu.Unlock()

		decodeStart := time.Now()
		submitErr := p.session.Submit(PadAccessUnit(au.Data))

		if submitErr != nil {
			if errors.Is(submitErr, ErrClosed) {
				p.state.Store(int32(PipelineStateStopped))
				return
			}
			p.handleError(submitErr)
		}

		// Drain every frame the submit produced.
		for {
			frame, err := p.session.ReceiveFrame(p.wantsCPU)
			if err != nil {
				if errors.Is(err, ErrClosed) {
					p.state.Store(int32(PipelineStateStopped))
					return
				}
				p.handleError(err)
				break
			}
			if frame == nil {
				break
			}

			if au.Timestamp != 0 && frame.Timestamp == 0 {
				frame.Timestamp = au.Timestamp
			}

			p.statsMu.Lock()
			p.stats.FramesDecoded++
			p.statsMu.Unlock()

			p.mu.Lock()
			cb := p.onFrame
			p.mu.Unlock()

			if cb != nil {
				cb(frame)
				p.statsMu.Lock()
				p.stats.FramesDelivered++
				p.statsMu.Unlock()
			}
		}

		p.statsMu.Lock()
		p.stats.DecodeTimeUs += uint64(time.Since(decodeStart).Microseconds())
		p.statsMu.Unlock()

		// Fire the recovery callback once per outage.
		if cur := p.session.NeedsKeyframe(); cur && !needKeyframe {
			p.statsMu.Lock()
			p.stats.KeyframeRequests++
			p.statsMu.Unlock()

			p.mu.Lock()
			kcb := p.onKeyframeNeeded
			p.mu.Unlock()

			if kcb != nil {
				go kcb()
			}
			needKeyframe = true
		} else if !cur {
			needKeyframe = false
		}
	}
}

func (p *DecodePipeline) handleError(err error) {
	p.statsMu.Lock()
	p.stats.Errors++
	p.statsMu.Unlock()

	p.mu.Lock()
	cb := p.onError
	p.mu.Unlock()

	if cb != nil {
		go cb(err)
	}
}
