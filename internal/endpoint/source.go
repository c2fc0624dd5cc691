package endpoint

import (
	"fmt"

	"github.com/dbehnke/scoaudio/internal/codec"
	"github.com/dbehnke/scoaudio/internal/correction"
	"github.com/dbehnke/scoaudio/internal/protocol"
	"github.com/dbehnke/scoaudio/internal/protocol/sco"
)

// receiveState holds the hardware-facing side of a source endpoint: one
// ring per redundant capture plus scratch space for a single slot.
type receiveState struct {
	buffers  []*codec.RingBuffer
	captures []correction.Capture
	payloads [][]byte
	voted    []byte
	frame    []byte
	header   [protocol.SCO_METADATA_LENGTH]byte

	// Framing of the last slot that was actually received
	lastLength      uint16
	lastPayloadSize uint16
}

func newReceiveState(link LinkParams, packetSize int, key ConnectionKey) *receiveState {
	frame := protocol.SCO_METADATA_LENGTH + packetSize
	rx := &receiveState{
		buffers:  make([]*codec.RingBuffer, link.RxBuffers),
		captures: make([]correction.Capture, link.RxBuffers),
		payloads: make([][]byte, link.RxBuffers),
		voted:    make([]byte, packetSize),
		frame:    make([]byte, frame),
	}
	for i := range rx.buffers {
		rx.buffers[i] = codec.NewRingBuffer(4*frame, fmt.Sprintf("sco-%d-rx%d", key, i))
		rx.payloads[i] = make([]byte, packetSize)
	}
	rx.resetFraming(packetSize)
	return rx
}

func (rx *receiveState) resetFraming(packetSize int) {
	rx.lastLength = protocol.SCO_METADATA_LENGTH
	rx.lastPayloadSize = uint16(packetSize)
}

func grow(b []byte, n int) []byte {
	if cap(b) < n {
		return make([]byte, n)
	}
	return b[:n]
}

// RxBufferCount returns the number of redundant captures per slot, or 0
// for a sink or disconnected endpoint
func (e *Endpoint) RxBufferCount() int {
	if e.rx == nil {
		return 0
	}
	return len(e.rx.buffers)
}

// RxBuffer returns the hardware ring for capture i. The radio writes one
// frame per slot into it: the header as two little-endian 32-bit words
// followed by the payload.
func (e *Endpoint) RxBuffer(i int) *codec.RingBuffer {
	if e.rx == nil || i < 0 || i >= len(e.rx.buffers) {
		return nil
	}
	return e.rx.buffers[i]
}

// DeliverCapture writes one slot capture into hardware ring i the way the
// radio does. Returns false if the ring is full or does not exist.
func (e *Endpoint) DeliverCapture(i int, c correction.Capture) bool {
	rb := e.RxBuffer(i)
	if rb == nil {
		return false
	}
	// A missed slot leaves Length at 0 but the header still occupies the
	// ring, followed by the payload
	hdr := max(int(c.Meta.Length), protocol.SCO_METADATA_LENGTH)
	frame := make([]byte, hdr+len(c.Payload))
	c.Meta.PutBytes(frame)
	copy(frame[hdr:], c.Payload)
	return rb.Write(frame)
}

// peekCapture reads the header and payload of the oldest frame in ring i.
// Returns false if the frame is not complete yet.
func (e *Endpoint) peekCapture(i int) (bool, error) {
	rx := e.rx
	rb := rx.buffers[i]

	if !rb.PeekAt(0, rx.header[:]) {
		return false, nil
	}
	meta, err := sco.DecodeBytes(rx.header[:])
	if err != nil {
		return false, err
	}

	// Nothing was received: the radio leaves the sizes unset, so frame
	// the slot like the last one that was received
	if meta.Status == protocol.SLOT_STATUS_NONE {
		meta.Length = rx.lastLength
		meta.PayloadSize = rx.lastPayloadSize
	} else if meta.Length < protocol.SCO_METADATA_LENGTH {
		return false, fmt.Errorf("%w: rx%d header length %d", ErrMetadataDesync, i, meta.Length)
	}

	if meta.FrameSize() > rb.Capacity() {
		return false, fmt.Errorf("%w: rx%d frame %d > ring %d", ErrBufferTooSmall, i, meta.FrameSize(), rb.Capacity())
	}
	if rb.DataSize() < meta.FrameSize() {
		return false, nil
	}

	rx.payloads[i] = grow(rx.payloads[i], int(meta.PayloadSize))
	if !rb.PeekAt(int(meta.Length), rx.payloads[i]) {
		return false, nil
	}
	rx.captures[i] = correction.Capture{Meta: meta, Payload: rx.payloads[i]}
	return true, nil
}

// assemble moves every complete slot from the hardware rings into the
// downstream buffer. The downstream consumer is kicked once if anything
// was written.
func (e *Endpoint) assemble() (bool, error) {
	progress := false
	for {
		moved, err := e.assembleOne()
		if err != nil {
			return progress, err
		}
		if !moved {
			break
		}
		progress = true
	}

	if progress && e.peer != nil {
		e.loop.Kick(e.peer)
	}
	return progress, nil
}

func (e *Endpoint) assembleOne() (bool, error) {
	rx := e.rx

	for i := range rx.buffers {
		ready, err := e.peekCapture(i)
		if err != nil || !ready {
			return false, err
		}
	}

	result, err := correction.Vote(rx.captures, e.vote)
	if err != nil {
		return false, err
	}
	chosen := result.Chosen(rx.captures)
	payload := result.Payload(rx.captures, grow(rx.voted, int(chosen.Meta.PayloadSize)))

	frameSize := protocol.SCO_METADATA_LENGTH + len(payload)
	if frameSize > e.terminal.Capacity() {
		return false, fmt.Errorf("%w: frame %d > %s capacity %d",
			ErrBufferTooSmall, frameSize, e.terminal.Name(), e.terminal.Capacity())
	}
	if frameSize > e.terminal.FreeSpace() {
		e.backpressure()
		return false, nil
	}

	if chosen.Meta.Status != protocol.SLOT_STATUS_NONE {
		rx.lastLength = chosen.Meta.Length
		rx.lastPayloadSize = chosen.Meta.PayloadSize
	}

	out := sco.Metadata{
		Length:      protocol.SCO_METADATA_LENGTH,
		Status:      correction.OutboundStatus(chosen.Meta.Status, result, e.vote),
		PayloadSize: uint16(len(payload)),
		Counter:     e.timestamp(chosen.Meta.Counter),
	}

	rx.frame = grow(rx.frame, frameSize)
	for w, word := range out.Words() {
		e.adapter.PutWord(rx.frame[2*w:], word)
	}
	e.adapter.AdaptBytes(rx.frame[protocol.SCO_METADATA_LENGTH:], payload)
	if !e.terminal.Write(rx.frame) {
		e.backpressure()
		return false, nil
	}

	for i, rb := range rx.buffers {
		want := rx.captures[i].Meta.FrameSize()
		if got := rb.Discard(want); got != want {
			return false, fmt.Errorf("%w: rx%d removed %d of %d bytes", ErrMetadataDesync, i, got, want)
		}
	}

	e.countFrame(chosen.Meta.Status, out.Status, result.IsVoting, result.QualityMetric)
	e.logger.Debug("slot", "in", chosen.Meta.Status, "out", out.Status,
		"chosen", result.ChosenIndex, "voting", result.IsVoting, "quality", result.QualityMetric)
	return true, nil
}

// timestamp converts a radio slot counter into the 16-bit media timestamp
func (e *Endpoint) timestamp(counter uint16) uint16 {
	return e.link.TimestampInit + e.link.Tesco*counter
}
