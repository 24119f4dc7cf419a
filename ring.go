package vdec

import "fmt"

// frameRing is the fixed-count pool of decoded-frame slots. The engine
// writes into the "next" slot and rotates it to "current" after each
// successful receive; slots are reused once the ring wraps. No internal
// locking: exclusion comes from the session's single-caller contract.
type frameRing struct {
	slots   []FrameBuffer
	next    int // slot the next decoded frame lands in
	current int // most recently filled slot
}

// newFrameRing allocates count independent frame slots from the decoder.
// If any slot fails to allocate, the slots created so far are released
// before the error is returned.
func newFrameRing(dec Decoder, count int) (*frameRing, error) {
	r := &frameRing{slots: make([]FrameBuffer, 0, count)}
	for i := 0; i < count; i++ {
		fb, err := dec.NewFrameBuffer()
		if err != nil {
			r.close()
			return nil, fmt.Errorf("%w: slot %d: %v", ErrFrameAllocation, i, err)
		}
		r.slots = append(r.slots, fb)
	}
	return r, nil
}

// writable returns the slot the next decoded frame should land in.
func (r *frameRing) writable() FrameBuffer {
	return r.slots[r.next]
}

// advance rotates the ring after a successful decode: the slot just written
// becomes current and the write position moves on, wrapping modulo the ring
// length.
func (r *frameRing) advance() {
	r.current = r.next
	r.next = (r.next + 1) % len(r.slots)
}

// currentSlot returns the most recently filled slot.
func (r *frameRing) currentSlot() FrameBuffer {
	return r.slots[r.current]
}

// close releases every allocated slot. Safe on a partially built ring.
func (r *frameRing) close() error {
	var first error
	for i, fb := range r.slots {
		if fb == nil {
			continue
		}
		if err := fb.Close(); err != nil && first == nil {
			first = err
		}
		r.slots[i] = nil
	}
	return first
}
