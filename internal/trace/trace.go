// Package trace records the radio captures fed to a source endpoint so a
// session can be replayed offline against different vote settings.
//
// A trace is a msgpack stream: one Header followed by one Record per slot.
package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/dbehnke/scoaudio/internal/correction"
	"github.com/dbehnke/scoaudio/internal/protocol"
	"github.com/dbehnke/scoaudio/internal/protocol/sco"
)

const (
	traceMagic   = "scotrace"
	traceVersion = 1
)

var (
	ErrBadMagic   = errors.New("not an sco trace")
	ErrBadVersion = errors.New("unsupported sco trace version")
)

// Header describes the link a trace was captured on
type Header struct {
	Magic      string `msgpack:"magic"`
	Version    int    `msgpack:"version"`
	Session    string `msgpack:"session"`
	Format     string `msgpack:"format"`
	Tesco      uint16 `msgpack:"tesco"`
	RxBuffers  int    `msgpack:"rx_buffers"`
	PacketSize int    `msgpack:"packet_size"`
	Created    int64  `msgpack:"created"`
}

// AudioFormat parses the recorded format
func (h Header) AudioFormat() (protocol.AudioFormat, error) {
	return protocol.ParseAudioFormat(h.Format)
}

// Capture is one recorded RX capture
type Capture struct {
	Length      uint16 `msgpack:"len"`
	Status      uint16 `msgpack:"st"`
	PayloadSize uint16 `msgpack:"ps"`
	Counter     uint16 `msgpack:"ctr"`
	Payload     []byte `msgpack:"p"`
}

// Record holds every capture of one slot
type Record struct {
	Slot     uint32 `msgpack:"slot"`
	Captures []Capture `msgpack:"caps"`
}

// VoteCaptures converts the record back to vote input
func (r Record) VoteCaptures() []correction.Capture {
	out := make([]correction.Capture, len(r.Captures))
	for i, c := range r.Captures {
		out[i] = correction.Capture{
			Meta: sco.Metadata{
				Length:      c.Length,
				Status:      protocol.SlotStatus(c.Status),
				PayloadSize: c.PayloadSize,
				Counter:     c.Counter,
			},
			Payload: c.Payload,
		}
	}
	return out
}

// Recorder appends slots to a trace
type Recorder struct {
	w      *bufio.Writer
	closer io.Closer
	enc    *msgpack.Encoder
	header Header
	slots  uint32
}

// NewRecorder writes the header to w. Session and creation time are filled
// in when unset.
func NewRecorder(w io.Writer, h Header) (*Recorder, error) {
	h.Magic = traceMagic
	h.Version = traceVersion
	if h.Session == "" {
		h.Session = uuid.NewString()
	}
	if h.Created == 0 {
		h.Created = time.Now().Unix()
	}

	bw := bufio.NewWriter(w)
	r := &Recorder{w: bw, enc: msgpack.NewEncoder(bw), header: h}
	if err := r.enc.Encode(&h); err != nil {
		return nil, fmt.Errorf("write trace header: %w", err)
	}
	return r, nil
}

// Create opens path for writing and starts a trace in it
func Create(path string, h Header) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	r, err := NewRecorder(f, h)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// Header returns the header as written
func (r *Recorder) Header() Header { return r.header }

// Slots returns the number of records written
func (r *Recorder) Slots() uint32 { return r.slots }

// Record appends the captures of one slot
func (r *Recorder) Record(slot uint32, captures []correction.Capture) error {
	rec := Record{Slot: slot, Captures: make([]Capture, len(captures))}
	for i, c := range captures {
		rec.Captures[i] = Capture{
			Length:      c.Meta.Length,
			Status:      uint16(c.Meta.Status),
			PayloadSize: c.Meta.PayloadSize,
			Counter:     c.Meta.Counter,
			Payload:     c.Payload,
		}
	}
	if err := r.enc.Encode(&rec); err != nil {
		return fmt.Errorf("write trace slot %d: %w", slot, err)
	}
	r.slots++
	return nil
}

// Close flushes buffered records and closes the file opened by Create
func (r *Recorder) Close() error {
	err := r.w.Flush()
	if r.closer != nil {
		if cerr := r.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Reader replays a trace
type Reader struct {
	dec    *msgpack.Decoder
	closer io.Closer
	header Header
}

// NewReader reads and checks the header
func NewReader(rd io.Reader) (*Reader, error) {
	r := &Reader{dec: msgpack.NewDecoder(bufio.NewReader(rd))}
	if err := r.dec.Decode(&r.header); err != nil {
		return nil, fmt.Errorf("read trace header: %w", err)
	}
	if r.header.Magic != traceMagic {
		return nil, ErrBadMagic
	}
	if r.header.Version != traceVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, r.header.Version)
	}
	return r, nil
}

// Open opens a trace file
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// Header returns the trace header
func (r *Reader) Header() Header { return r.header }

// Next returns the next slot, or io.EOF after the last one
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("read trace slot: %w", err)
	}
	return rec, nil
}

// Close closes the file opened by Open
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
