// Package radio simulates the controller side of an SCO link: it fills the
// hardware receive rings of a source endpoint with redundant, corrupted
// captures and collects the packets a sink endpoint hands back.
package radio

import (
	"math/rand"

	"github.com/dbehnke/scoaudio/internal/correction"
	"github.com/dbehnke/scoaudio/internal/endpoint"
	"github.com/dbehnke/scoaudio/internal/protocol"
	"github.com/dbehnke/scoaudio/internal/protocol/sco"
)

// Params shape the simulated air interface
type Params struct {
	RxBuffers    int     // Captures per slot
	PacketSize   int     // Payload bytes per slot
	BitErrorRate float64 // Per-bit flip probability of a bad-CRC capture
	BadCrcRate   float64 // Share of captures received with a CRC failure
	NoneRate     float64 // Share of captures where nothing was received
	Seed         int64
}

// Link is a deterministic radio for one connection. Equal seeds produce
// equal slots.
type Link struct {
	params  Params
	rng     *rand.Rand
	counter uint16

	pending [][]byte // Sent payloads not yet matched by the consumer
	txLog   [][]byte
}

// NewLink creates a simulated link
func NewLink(p Params) *Link {
	if p.RxBuffers == 0 {
		p.RxBuffers = protocol.SCO_MAX_RX_BUFFERS
	}
	return &Link{
		params: p,
		rng:    rand.New(rand.NewSource(p.Seed)),
	}
}

// Params returns the link parameters
func (l *Link) Params() Params { return l.params }

// Counter returns the slot counter of the next slot
func (l *Link) Counter() uint16 { return l.counter }

// NextSlot produces the payload sent in the next slot and what each
// receive path made of it
func (l *Link) NextSlot() ([]byte, []correction.Capture) {
	sent := make([]byte, l.params.PacketSize)
	l.rng.Read(sent)

	captures := make([]correction.Capture, l.params.RxBuffers)
	for i := range captures {
		captures[i] = l.capture(sent)
	}
	l.counter++
	return sent, captures
}

func (l *Link) capture(sent []byte) correction.Capture {
	u := l.rng.Float64()
	switch {
	case u < l.params.NoneRate:
		// Nothing received: the radio leaves the sizes unset and the slot
		// area holds no audio
		return correction.Capture{
			Meta:    sco.Metadata{Status: protocol.SLOT_STATUS_NONE, Counter: l.counter},
			Payload: make([]byte, len(sent)),
		}
	case u < l.params.NoneRate+l.params.BadCrcRate:
		return correction.Capture{
			Meta:    l.header(protocol.SLOT_STATUS_BAD_CRC, len(sent)),
			Payload: l.corrupt(sent),
		}
	default:
		payload := make([]byte, len(sent))
		copy(payload, sent)
		return correction.Capture{
			Meta:    l.header(protocol.SLOT_STATUS_VALID, len(sent)),
			Payload: payload,
		}
	}
}

func (l *Link) header(status protocol.SlotStatus, size int) sco.Metadata {
	return sco.Metadata{
		Length:      protocol.SCO_METADATA_LENGTH,
		Status:      status,
		PayloadSize: uint16(size),
		Counter:     l.counter,
	}
}

// corrupt flips bits at the configured rate. A CRC failure means at least
// one bit is wrong, so one flip is forced if the draw produced none.
func (l *Link) corrupt(sent []byte) []byte {
	out := make([]byte, len(sent))
	copy(out, sent)
	if len(out) == 0 {
		return out
	}

	flipped := false
	for i := range out {
		for bit := 0; bit < 8; bit++ {
			if l.rng.Float64() < l.params.BitErrorRate {
				out[i] ^= 1 << bit
				flipped = true
			}
		}
	}
	if !flipped {
		pos := l.rng.Intn(len(out) * 8)
		out[pos/8] ^= 1 << (pos % 8)
	}
	return out
}

// Receive runs one slot into the hardware rings of a source endpoint. The
// sent payload is queued for the Consumer. Returns false if any ring was
// full, in which case nothing is queued.
func (l *Link) Receive(ep *endpoint.Endpoint) ([]correction.Capture, bool) {
	sent, captures := l.NextSlot()
	if !l.Deliver(ep, captures) {
		return captures, false
	}
	l.pending = append(l.pending, sent)
	return captures, true
}

// Deliver writes captures into the rings of ep
func (l *Link) Deliver(ep *endpoint.Endpoint, captures []correction.Capture) bool {
	frame := protocol.SCO_METADATA_LENGTH + l.params.PacketSize
	for i := range captures {
		if rb := ep.RxBuffer(i); rb == nil || rb.FreeSpace() < frame {
			return false
		}
	}
	for i, c := range captures {
		if !ep.DeliverCapture(i, c) {
			return false
		}
	}
	return true
}

// Expect queues a payload the consumer should see next, for captures fed
// through Deliver directly
func (l *Link) Expect(sent []byte) {
	l.pending = append(l.pending, sent)
}

func (l *Link) popExpected() ([]byte, bool) {
	if len(l.pending) == 0 {
		return nil, false
	}
	sent := l.pending[0]
	l.pending[0] = nil
	l.pending = l.pending[1:]
	return sent, true
}

// DrainTx takes every completed packet from a sink endpoint and returns
// how many were taken
func (l *Link) DrainTx(ep *endpoint.Endpoint) int {
	n := 0
	for {
		packet, ok := ep.TakeTx()
		if !ok {
			return n
		}
		l.txLog = append(l.txLog, packet)
		n++
	}
}

// TxLog returns every packet collected by DrainTx
func (l *Link) TxLog() [][]byte {
	return l.txLog
}
