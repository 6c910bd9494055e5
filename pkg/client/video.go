package client

import (
	"errors"

	"github.com/perun-stream/perun/pkg/protocol"
)

// Frame reassembly errors.
var (
	ErrNoKeyframe = errors.New("client: delta frame before any keyframe")
	ErrFrameSize  = errors.New("client: delta frame size does not match keyframe")
)

// FrameBuffer reassembles the video stream: it keeps the last full frame
// and applies XOR deltas to it in place. A delta is only valid against a
// prior frame of identical length; anything else is rejected and the
// stream waits for the next keyframe.
type FrameBuffer struct {
	width  uint16
	height uint16
	data   []byte
	ready  bool
}

// Apply folds one received frame into the buffer. Keyframes replace the
// stored frame; deltas XOR into it.
func (fb *FrameBuffer) Apply(pkt protocol.VideoFramePacket, keyframe bool) error {
	if keyframe {
		if cap(fb.data) < len(pkt.Data) {
			fb.data = make([]byte, len(pkt.Data))
		}
		fb.data = fb.data[:len(pkt.Data)]
		copy(fb.data, pkt.Data)
		fb.width = pkt.Width
		fb.height = pkt.Height
		fb.ready = true
		return nil
	}

	if len(fb.data) == 0 {
		return ErrNoKeyframe
	}
	if len(pkt.Data) != len(fb.data) {
		return ErrFrameSize
	}
	if err := protocol.ApplyDelta(fb.data, pkt.Data); err != nil {
		return err
	}
	fb.width = pkt.Width
	fb.height = pkt.Height
	fb.ready = true
	return nil
}

// Ready reports whether an unconsumed frame is available.
func (fb *FrameBuffer) Ready() bool {
	return fb.ready
}

// TakeFrame returns the current frame and clears the ready flag, so a
// renderer uploads each frame exactly once. The returned slice stays
// owned by the buffer and is overwritten by the next Apply.
func (fb *FrameBuffer) TakeFrame() ([]byte, bool) {
	if !fb.ready {
		return nil, false
	}
	fb.ready = false
	return fb.data, true
}

// Size returns the dimensions of the stored frame.
func (fb *FrameBuffer) Size() (width, height uint16) {
	return fb.width, fb.height
}
