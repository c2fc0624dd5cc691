package endpoint

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbehnke/scoaudio/internal/codec"
	"github.com/dbehnke/scoaudio/internal/protocol"
	"github.com/dbehnke/scoaudio/internal/scheduler"
)

type recordedStats struct {
	key    ConnectionKey
	dir    protocol.Direction
	format protocol.AudioFormat
	stats  Stats
}

type memorySink struct {
	records []recordedStats
	err     error
}

func (m *memorySink) RecordStats(key ConnectionKey, dir protocol.Direction, format protocol.AudioFormat, stats Stats) error {
	m.records = append(m.records, recordedStats{key, dir, format, stats})
	return m.err
}

func TestRegistry_CreateAndLookup(t *testing.T) {
	r := NewRegistry(scheduler.NewLoop(), quietLogger())

	src, err := r.Create(5, protocol.DIRECTION_SOURCE, LinkParams{Tesco: 6})
	require.NoError(t, err)
	sink, err := r.Create(5, protocol.DIRECTION_SINK, LinkParams{Tesco: 6})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	_, err = r.Create(5, protocol.DIRECTION_SOURCE, LinkParams{Tesco: 6})
	assert.ErrorIs(t, err, ErrEndpointExists)

	_, err = r.Create(6, protocol.DIRECTION_SINK, LinkParams{Tesco: 3})
	assert.ErrorIs(t, err, ErrPacketSize)
	assert.Equal(t, 2, r.Len())

	h, ok := r.Lookup(5, protocol.DIRECTION_SINK)
	require.True(t, ok)
	assert.Equal(t, sink, h)
	_, ok = r.Lookup(9, protocol.DIRECTION_SINK)
	assert.False(t, ok)

	gotSrc, gotSink := r.Pair(5)
	assert.Equal(t, src, gotSrc)
	assert.Equal(t, sink, gotSink)

	ep, err := r.Get(src)
	require.NoError(t, err)
	assert.Equal(t, ConnectionKey(5), ep.Key())
	assert.Equal(t, protocol.DIRECTION_SOURCE, ep.Direction())

	_, err = r.Get(Handle{})
	assert.ErrorIs(t, err, ErrStaleHandle)
	_, err = r.Get(Handle{index: 40, generation: 1})
	assert.ErrorIs(t, err, ErrStaleHandle)
}

func TestRegistry_DestroyInvalidatesHandle(t *testing.T) {
	r := NewRegistry(scheduler.NewLoop(), quietLogger())
	sink := &memorySink{}
	r.SetStatsSink(sink)

	h, err := r.Create(1, protocol.DIRECTION_SINK, LinkParams{PacketSize: 4})
	require.NoError(t, err)
	ep, err := r.Get(h)
	require.NoError(t, err)
	require.NoError(t, ep.Connect(codec.NewRingBuffer(8, "up"), nil))
	require.NoError(t, ep.Start())

	require.NoError(t, r.Destroy(h))
	assert.Equal(t, StateIdle, ep.State(), "destroy stops and disconnects")
	assert.Equal(t, 0, r.Len())

	_, err = r.Get(h)
	assert.ErrorIs(t, err, ErrStaleHandle)
	assert.ErrorIs(t, r.Destroy(h), ErrStaleHandle)

	require.Len(t, sink.records, 1)
	assert.Equal(t, ConnectionKey(1), sink.records[0].key)
	assert.Equal(t, protocol.DIRECTION_SINK, sink.records[0].dir)

	// The slot is reused under a new generation
	again, err := r.Create(1, protocol.DIRECTION_SINK, LinkParams{PacketSize: 4})
	require.NoError(t, err)
	assert.Equal(t, h.index, again.index)
	assert.NotEqual(t, h, again)
	_, err = r.Get(h)
	assert.ErrorIs(t, err, ErrStaleHandle)
	_, err = r.Get(again)
	assert.NoError(t, err)
}

func TestRegistry_SinkFailureDoesNotBlockDestroy(t *testing.T) {
	r := NewRegistry(scheduler.NewLoop(), quietLogger())
	r.SetStatsSink(&memorySink{err: errors.New("disk full")})

	h, err := r.Create(2, protocol.DIRECTION_SOURCE, LinkParams{Tesco: 6})
	require.NoError(t, err)
	assert.NoError(t, r.Destroy(h))
	assert.Equal(t, 0, r.Len())
}
