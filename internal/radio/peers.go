package radio

import (
	"github.com/dbehnke/scoaudio/internal/codec"
	"github.com/dbehnke/scoaudio/internal/correction"
	"github.com/dbehnke/scoaudio/internal/protocol"
	"github.com/dbehnke/scoaudio/internal/protocol/sco"
)

// Report summarises what the decoder side received
type Report struct {
	Frames     uint64
	Valid      uint64
	BadCrc     uint64
	Missing    uint64
	Clean      uint64 // Valid frames identical to what was sent
	Undetected uint64 // Valid frames that still differ from what was sent
	BitErrors  uint64 // Residual bit errors in valid and bad frames
	Unmatched  uint64 // Frames with no sent payload to compare against
}

// Consumer stands in for the decoder behind a source endpoint. It drains
// framed slots from the endpoint's downstream buffer and checks each one
// against the payload the link sent.
type Consumer struct {
	link    *Link
	rb      *codec.RingBuffer
	adapter codec.ByteOrderAdapter
	header  [protocol.SCO_METADATA_LENGTH]byte
	report  Report
}

// NewConsumer reads frames written in format from rb
func NewConsumer(link *Link, rb *codec.RingBuffer, format protocol.AudioFormat) *Consumer {
	return &Consumer{
		link:    link,
		rb:      rb,
		adapter: codec.NewByteOrderAdapter(format),
	}
}

// Report returns the counters so far
func (c *Consumer) Report() Report { return c.report }

// Kick drains every complete frame
func (c *Consumer) Kick() error {
	for {
		if !c.rb.PeekAt(0, c.header[:]) {
			return nil
		}
		var words [protocol.SCO_METADATA_WORDS]uint16
		for i := range words {
			words[i] = c.adapter.Word(c.header[2*i:])
		}
		meta := sco.FromWords(words)

		payload := make([]byte, meta.PayloadSize)
		if !c.rb.PeekAt(protocol.SCO_METADATA_LENGTH, payload) {
			return nil
		}
		c.rb.Discard(protocol.SCO_METADATA_LENGTH + len(payload))
		c.adapter.AdaptBytes(payload, payload)
		c.check(meta, payload)
	}
}

func (c *Consumer) check(meta sco.Metadata, payload []byte) {
	c.report.Frames++
	sent, ok := c.link.popExpected()

	switch meta.Status {
	case protocol.SLOT_STATUS_VALID:
		c.report.Valid++
	case protocol.SLOT_STATUS_BAD_CRC:
		c.report.BadCrc++
	default:
		c.report.Missing++
		return
	}

	if !ok {
		c.report.Unmatched++
		return
	}
	d := correction.HammingDistance(payload, sent)
	c.report.BitErrors += uint64(d)
	if meta.Status == protocol.SLOT_STATUS_VALID {
		if d == 0 {
			c.report.Clean++
		} else {
			c.report.Undetected++
		}
	}
}

// Producer stands in for the encoder ahead of a sink endpoint. It writes a
// counting byte pattern so packets can be checked on the far side.
type Producer struct {
	rb      *codec.RingBuffer
	next    byte
	written uint64
	kicks   uint64
}

// NewProducer writes into rb
func NewProducer(rb *codec.RingBuffer) *Producer {
	return &Producer{rb: rb}
}

// Produce writes up to n bytes, as many as fit, and returns the count
func (p *Producer) Produce(n int) int {
	if free := p.rb.FreeSpace(); n > free {
		n = free
	}
	if n <= 0 {
		return 0
	}
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = p.next
		p.next++
	}
	p.rb.Write(buf)
	p.written += uint64(n)
	return n
}

// Written returns the total bytes produced
func (p *Producer) Written() uint64 { return p.written }

// Kicks returns how often the sink reported free space
func (p *Producer) Kicks() uint64 { return p.kicks }

// Kick is the sink telling the encoder that space was freed
func (p *Producer) Kick() error {
	p.kicks++
	return nil
}
