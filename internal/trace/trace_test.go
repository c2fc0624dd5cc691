package trace

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/dbehnke/scoaudio/internal/correction"
	"github.com/dbehnke/scoaudio/internal/protocol"
	"github.com/dbehnke/scoaudio/internal/protocol/sco"
)

func slotCaptures(counter uint16) []correction.Capture {
	return []correction.Capture{
		{Meta: sco.Metadata{Length: 8, Status: protocol.SLOT_STATUS_VALID, PayloadSize: 2, Counter: counter}, Payload: []byte{1, 2}},
		{Meta: sco.Metadata{Length: 8, Status: protocol.SLOT_STATUS_BAD_CRC, PayloadSize: 2, Counter: counter}, Payload: []byte{1, 3}},
		{Meta: sco.Metadata{Status: protocol.SLOT_STATUS_NONE}, Payload: []byte{0, 0}},
	}
}

func TestRecorderReader(t *testing.T) {
	var buf bytes.Buffer
	rec, err := NewRecorder(&buf, Header{Format: "wideband", Tesco: 6, RxBuffers: 3, PacketSize: 2})
	require.NoError(t, err)
	_, err = uuid.Parse(rec.Header().Session)
	require.NoError(t, err, "session id assigned")

	for slot := uint32(0); slot < 3; slot++ {
		require.NoError(t, rec.Record(slot, slotCaptures(uint16(slot))))
	}
	require.NoError(t, rec.Close())
	assert.Equal(t, uint32(3), rec.Slots())

	rd, err := NewReader(&buf)
	require.NoError(t, err)
	h := rd.Header()
	assert.Equal(t, rec.Header().Session, h.Session)
	assert.Equal(t, uint16(6), h.Tesco)
	format, err := h.AudioFormat()
	require.NoError(t, err)
	assert.Equal(t, protocol.AUDIO_FORMAT_WIDEBAND_SWAPPED, format)

	for slot := uint32(0); slot < 3; slot++ {
		r, err := rd.Next()
		require.NoError(t, err)
		assert.Equal(t, slot, r.Slot)
		assert.Equal(t, slotCaptures(uint16(slot)), r.VoteCaptures())
	}
	_, err = rd.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, rd.Close())
}

func TestCreateOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "link.trace")

	rec, err := Create(path, Header{Format: "narrowband", Tesco: 12, RxBuffers: 1, PacketSize: 2})
	require.NoError(t, err)
	require.NoError(t, rec.Record(7, slotCaptures(7)[:1]))
	require.NoError(t, rec.Close())

	rd, err := Open(path)
	require.NoError(t, err)
	defer rd.Close()

	r, err := rd.Next()
	require.NoError(t, err)
	assert.Equal(t, uint32(7), r.Slot)
	require.Len(t, r.Captures, 1)
	assert.Equal(t, []byte{1, 2}, r.Captures[0].Payload)
}

func TestReader_RejectsForeignStreams(t *testing.T) {
	foreign, err := msgpack.Marshal(Header{Magic: "wav", Version: 1})
	require.NoError(t, err)
	_, err = NewReader(bytes.NewReader(foreign))
	assert.ErrorIs(t, err, ErrBadMagic)

	future, err := msgpack.Marshal(Header{Magic: traceMagic, Version: 9})
	require.NoError(t, err)
	_, err = NewReader(bytes.NewReader(future))
	assert.ErrorIs(t, err, ErrBadVersion)

	_, err = NewReader(bytes.NewReader(nil))
	assert.Error(t, err)

	_, err = Open(filepath.Join(t.TempDir(), "missing.trace"))
	assert.Error(t, err)
}
