package endpoint

import "github.com/dbehnke/scoaudio/internal/protocol"

// TxState is the packing progress of a sink endpoint
type TxState struct {
	BytesWritten uint32 // Payload bytes in the active packet, carry included
	ActiveBuffer int    // Packet being filled, 0 or 1
	Sequence     uint16 // Sequence of the last completed packet
	Carry        byte   // Odd byte waiting for its partner
	HasCarry     bool
}

type txBuffer struct {
	frame []byte // Sequence word then payload
	ready bool   // Complete and waiting for the radio
}

type transmitState struct {
	TxState
	buffers [protocol.SCO_TX_BUFFERS]txBuffer
	drain   int // Next buffer the radio takes
	scratch []byte
}

func newTransmitState(packetSize int) *transmitState {
	tx := &transmitState{scratch: make([]byte, packetSize)}
	for i := range tx.buffers {
		tx.buffers[i].frame = make([]byte, protocol.SCO_SEQUENCE_LENGTH+packetSize)
	}
	return tx
}

func (tx *transmitState) reset() {
	tx.TxState = TxState{}
	for i := range tx.buffers {
		tx.buffers[i].ready = false
	}
	tx.drain = 0
}

// TxState returns the packing progress. The zero value is returned for a
// source or disconnected endpoint.
func (e *Endpoint) TxState() TxState {
	if e.tx == nil {
		return TxState{}
	}
	return e.tx.TxState
}

// TakeTx hands the next completed packet to the radio, alternating between
// the two packet buffers starting with buffer 0. The returned slice is a
// copy: the sequence word followed by packet_size payload bytes.
func (e *Endpoint) TakeTx() ([]byte, bool) {
	if e.tx == nil {
		return nil, false
	}
	tx := e.tx
	buf := &tx.buffers[tx.drain]
	if !buf.ready {
		return nil, false
	}

	out := make([]byte, len(buf.frame))
	copy(out, buf.frame)
	buf.ready = false
	tx.drain ^= 1
	return out, true
}

// pack moves encoder output from the upstream buffer into the two
// alternating radio packets. A packet completes after exactly packet_size
// bytes; partial words are carried, never padded.
func (e *Endpoint) pack() (bool, error) {
	tx := e.tx
	progress := false

	for {
		active := &tx.buffers[tx.ActiveBuffer]
		if active.ready {
			if e.terminal.DataSize() > 0 {
				e.backpressure()
			}
			break
		}

		room := e.packetSize - int(tx.BytesWritten)
		n := e.terminal.DataSize()
		if n == 0 {
			break
		}
		if n > room {
			n = room
		}

		in := tx.scratch[:n]
		if !e.terminal.Read(in) {
			break
		}
		e.fill(active.frame[protocol.SCO_SEQUENCE_LENGTH:], in)
		progress = true

		if int(tx.BytesWritten) == e.packetSize {
			e.complete(active)
		}
	}

	if progress && e.peer != nil {
		e.loop.Kick(e.peer)
	}
	return progress, nil
}

// fill appends in to the payload of the active packet, pairing bytes into
// adapted 16-bit words
func (e *Endpoint) fill(payload, in []byte) {
	tx := e.tx
	for _, b := range in {
		pos := int(tx.BytesWritten)
		if pos%2 == 0 {
			tx.Carry = b
			tx.HasCarry = true
		} else {
			e.adapter.PutWord(payload[pos-1:], uint16(tx.Carry)|uint16(b)<<8)
			tx.Carry = 0
			tx.HasCarry = false
		}
		tx.BytesWritten++
	}
}

func (e *Endpoint) complete(active *txBuffer) {
	tx := e.tx
	tx.Sequence++
	e.adapter.PutWord(active.frame, tx.Sequence)
	active.ready = true

	tx.ActiveBuffer ^= 1
	tx.BytesWritten = 0

	e.stats.TxPackets++
	e.stats.TxBytes += uint64(e.packetSize)
}
