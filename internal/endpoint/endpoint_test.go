package endpoint

import (
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbehnke/scoaudio/internal/codec"
	"github.com/dbehnke/scoaudio/internal/protocol"
	"github.com/dbehnke/scoaudio/internal/scheduler"
)

type kickCounter struct {
	kicks int
}

func (k *kickCounter) Kick() error {
	k.kicks++
	return nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

type fixture struct {
	loop     *scheduler.Loop
	registry *Registry
	handle   Handle
	ep       *Endpoint
	terminal *codec.RingBuffer
	peer     *kickCounter
}

func newFixture(t testing.TB, dir protocol.Direction, link LinkParams, format protocol.AudioFormat) *fixture {
	t.Helper()

	loop := scheduler.NewLoop()
	registry := NewRegistry(loop, quietLogger())
	h, err := registry.Create(7, dir, link)
	require.NoError(t, err)
	ep, err := registry.Get(h)
	require.NoError(t, err)
	require.NoError(t, ep.SetDataFormat(format))

	terminal := codec.NewRingBuffer(ep.BufferRequirements().Size, "terminal")
	peer := &kickCounter{}
	require.NoError(t, ep.Connect(terminal, peer))

	return &fixture{
		loop:     loop,
		registry: registry,
		handle:   h,
		ep:       ep,
		terminal: terminal,
		peer:     peer,
	}
}

func (f *fixture) kick(t testing.TB) {
	t.Helper()
	f.loop.Kick(f.ep)
	require.NoError(t, f.loop.RunPending())
}

func TestNewEndpoint_LinkParams(t *testing.T) {
	tests := []struct {
		name    string
		dir     protocol.Direction
		link    LinkParams
		packet  int
		buffers int
		wantErr error
	}{
		{"derived from tesco", protocol.DIRECTION_SOURCE, LinkParams{Tesco: 12}, 60, 3, nil},
		{"explicit packet", protocol.DIRECTION_SOURCE, LinkParams{Tesco: 6, PacketSize: 30, RxBuffers: 1}, 30, 1, nil},
		{"odd packet", protocol.DIRECTION_SINK, LinkParams{PacketSize: 5}, 0, 0, ErrPacketSize},
		{"odd from tesco", protocol.DIRECTION_SINK, LinkParams{Tesco: 3}, 0, 0, ErrPacketSize},
		{"zero", protocol.DIRECTION_SINK, LinkParams{}, 0, 0, ErrPacketSize},
		{"too many captures", protocol.DIRECTION_SOURCE, LinkParams{Tesco: 6, RxBuffers: 4}, 0, 0, ErrRxBufferCount},
		{"negative captures", protocol.DIRECTION_SOURCE, LinkParams{Tesco: 6, RxBuffers: -1}, 0, 0, ErrRxBufferCount},
		{"sink ignores captures", protocol.DIRECTION_SINK, LinkParams{Tesco: 6, RxBuffers: 9}, 30, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, err := newEndpoint(1, tt.dir, tt.link, scheduler.NewLoop(), quietLogger())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.packet, ep.PacketSize())
			if tt.dir == protocol.DIRECTION_SOURCE {
				assert.Equal(t, tt.buffers, ep.Link().RxBuffers)
			}
			assert.Equal(t, protocol.SCO_DEFAULT_STALL_TIMEOUT, ep.Link().StallTimeout)
			assert.Equal(t, protocol.SCO_DEFAULT_RETRY_TIMEOUT, ep.Link().RetryTimeout)
		})
	}
}

func TestBufferRequirements(t *testing.T) {
	loop := scheduler.NewLoop()

	src, err := newEndpoint(1, protocol.DIRECTION_SOURCE, LinkParams{PacketSize: 60}, loop, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, BufferDetails{Size: 136, Flags: FlagWordAligned | FlagSupportsMetadata}, src.BufferRequirements())

	sink, err := newEndpoint(1, protocol.DIRECTION_SINK, LinkParams{PacketSize: 60}, loop, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, BufferDetails{Size: 120, Flags: FlagWordAligned}, sink.BufferRequirements())
}

func TestLifecycle(t *testing.T) {
	loop := scheduler.NewLoop()
	ep, err := newEndpoint(3, protocol.DIRECTION_SINK, LinkParams{PacketSize: 4}, loop, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, ep.State())

	// Nothing to stop, nothing to disconnect
	assert.NoError(t, ep.Stop())
	assert.NoError(t, ep.Disconnect())
	assert.ErrorIs(t, ep.Start(), ErrNotConnected)
	assert.ErrorIs(t, ep.Connect(nil, nil), ErrNotConnected)

	upstream := codec.NewRingBuffer(8, "upstream")
	require.NoError(t, ep.SetDataFormat(protocol.AUDIO_FORMAT_WIDEBAND_SWAPPED))
	require.NoError(t, ep.Connect(upstream, nil))
	assert.Equal(t, StateConnected, ep.State())

	assert.NoError(t, ep.Connect(upstream, nil), "same buffer is idempotent")
	assert.ErrorIs(t, ep.Connect(codec.NewRingBuffer(8, "other"), nil), ErrAlreadyConnected)
	assert.ErrorIs(t, ep.SetDataFormat(protocol.AUDIO_FORMAT_NARROWBAND), ErrFormatLocked)
	assert.Equal(t, protocol.AUDIO_FORMAT_WIDEBAND_SWAPPED, ep.Format())

	require.NoError(t, ep.Start())
	require.NoError(t, ep.Start())
	assert.Equal(t, StateRunning, ep.State())
	assert.True(t, ep.monitor.stallPending())
	assert.ErrorIs(t, ep.Disconnect(), ErrRunning)

	require.True(t, upstream.Write([]byte{1, 2, 3}))
	require.NoError(t, ep.Kick())
	assert.Equal(t, uint32(3), ep.TxState().BytesWritten)

	require.NoError(t, ep.Stop())
	assert.Equal(t, StateStopped, ep.State())
	assert.False(t, ep.monitor.stallPending())
	assert.Equal(t, TxState{}, ep.TxState())

	// Kicks after stop are ignored
	require.True(t, upstream.Write([]byte{4}))
	require.NoError(t, ep.Kick())
	assert.Equal(t, TxState{}, ep.TxState())

	require.NoError(t, ep.Disconnect())
	assert.Equal(t, StateIdle, ep.State())
	assert.Equal(t, TxState{}, ep.TxState())

	// Back in idle the format can be renegotiated
	assert.NoError(t, ep.SetDataFormat(protocol.AUDIO_FORMAT_NARROWBAND))
}

func TestSetDataFormat_Unsupported(t *testing.T) {
	ep, err := newEndpoint(3, protocol.DIRECTION_SINK, LinkParams{PacketSize: 4}, scheduler.NewLoop(), quietLogger())
	require.NoError(t, err)
	assert.ErrorIs(t, ep.SetDataFormat(protocol.AudioFormat(9)), ErrUnsupportedFormat)
	assert.Equal(t, protocol.AUDIO_FORMAT_NARROWBAND, ep.Format())
}

func TestConfigValues(t *testing.T) {
	loop := scheduler.NewLoop()
	src, err := newEndpoint(1, protocol.DIRECTION_SOURCE, LinkParams{PacketSize: 4}, loop, quietLogger())
	require.NoError(t, err)
	sink, err := newEndpoint(1, protocol.DIRECTION_SINK, LinkParams{PacketSize: 4}, loop, quietLogger())
	require.NoError(t, err)

	tests := []struct {
		name  string
		key   ConfigKey
		value uint32
		want  uint32
	}{
		{"bypass on", ConfigMajorityVoteBypass, 1, 1},
		{"bypass any non-zero", ConfigMajorityVoteBypass, 42, 1},
		{"bypass off", ConfigMajorityVoteBypass, 0, 0},
		{"bits", ConfigMajorityVoteQuestionableBitsMax, 12, 12},
		{"bits at limit", ConfigMajorityVoteQuestionableBitsMax, 255, 255},
		{"bits clamped", ConfigMajorityVoteQuestionableBitsMax, 1000, 255},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, src.SetConfigValue(tt.key, tt.value))
			got, err := src.ConfigValue(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			assert.ErrorIs(t, sink.SetConfigValue(tt.key, tt.value), ErrUnsupportedKey)
			_, err = sink.ConfigValue(tt.key)
			assert.ErrorIs(t, err, ErrUnsupportedKey)
		})
	}

	assert.ErrorIs(t, src.SetConfigValue(ConfigKey(99), 1), ErrUnsupportedKey)
	_, err = src.ConfigValue(ConfigKey(99))
	assert.ErrorIs(t, err, ErrUnsupportedKey)
}

func TestStall(t *testing.T) {
	f := newFixture(t, protocol.DIRECTION_SINK, LinkParams{PacketSize: 4, StallTimeout: 10}, protocol.AUDIO_FORMAT_NARROWBAND)
	require.NoError(t, f.ep.Start())

	require.NoError(t, f.loop.Tick(9))
	assert.Equal(t, uint64(0), f.ep.Stats().Stalls)

	require.NoError(t, f.loop.Tick(1))
	assert.Equal(t, uint64(1), f.ep.Stats().Stalls)
	assert.True(t, f.ep.monitor.stallPending(), "stall timer re-arms")

	// Progress pushes the next stall out
	require.NoError(t, f.loop.Tick(5))
	require.True(t, f.terminal.Write([]byte{1, 2}))
	f.kick(t)
	require.NoError(t, f.loop.Tick(9))
	assert.Equal(t, uint64(1), f.ep.Stats().Stalls)
	require.NoError(t, f.loop.Tick(1))
	assert.Equal(t, uint64(2), f.ep.Stats().Stalls)

	require.NoError(t, f.ep.Stop())
	require.NoError(t, f.loop.Tick(100))
	assert.Equal(t, uint64(2), f.ep.Stats().Stalls)
}

func TestStats(t *testing.T) {
	s := Stats{Frames: 4, QualitySum: 10}
	assert.InDelta(t, 2.5, s.AverageQuality(), 1e-9)
	assert.Zero(t, Stats{}.AverageQuality())
	assert.Contains(t, s.String(), "frames=4")
}
