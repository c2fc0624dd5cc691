package radio

import (
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbehnke/scoaudio/internal/codec"
	"github.com/dbehnke/scoaudio/internal/correction"
	"github.com/dbehnke/scoaudio/internal/endpoint"
	"github.com/dbehnke/scoaudio/internal/protocol"
	"github.com/dbehnke/scoaudio/internal/scheduler"
)

func TestLink_Deterministic(t *testing.T) {
	p := Params{RxBuffers: 3, PacketSize: 30, BitErrorRate: 0.01, BadCrcRate: 0.3, NoneRate: 0.1, Seed: 99}
	a, b := NewLink(p), NewLink(p)

	for i := 0; i < 20; i++ {
		sentA, capsA := a.NextSlot()
		sentB, capsB := b.NextSlot()
		require.Equal(t, sentA, sentB)
		require.Equal(t, capsA, capsB)
	}
	assert.Equal(t, uint16(20), a.Counter())
}

func TestLink_CaptureKinds(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		want   protocol.SlotStatus
	}{
		{"all missing", Params{PacketSize: 10, NoneRate: 1}, protocol.SLOT_STATUS_NONE},
		{"all bad", Params{PacketSize: 10, BadCrcRate: 1}, protocol.SLOT_STATUS_BAD_CRC},
		{"all valid", Params{PacketSize: 10}, protocol.SLOT_STATUS_VALID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link := NewLink(tt.params)
			for slot := 0; slot < 10; slot++ {
				sent, captures := link.NextSlot()
				require.Len(t, captures, protocol.SCO_MAX_RX_BUFFERS)
				for _, c := range captures {
					assert.Equal(t, tt.want, c.Meta.Status)
					assert.Equal(t, uint16(slot), c.Meta.Counter)
					switch tt.want {
					case protocol.SLOT_STATUS_BAD_CRC:
						assert.Positive(t, correction.HammingDistance(sent, c.Payload), "a crc failure flips at least one bit")
					case protocol.SLOT_STATUS_VALID:
						assert.Equal(t, sent, c.Payload)
					case protocol.SLOT_STATUS_NONE:
						assert.Zero(t, c.Meta.Length)
					}
				}
			}
		})
	}
}

func runSource(t *testing.T, params Params, format protocol.AudioFormat, slots int) (*endpoint.Endpoint, *Consumer) {
	t.Helper()

	loop := scheduler.NewLoop()
	registry := endpoint.NewRegistry(loop, log.New(io.Discard))
	h, err := registry.Create(1, protocol.DIRECTION_SOURCE, endpoint.LinkParams{
		Tesco: 6, PacketSize: params.PacketSize, RxBuffers: params.RxBuffers,
	})
	require.NoError(t, err)
	ep, err := registry.Get(h)
	require.NoError(t, err)
	require.NoError(t, ep.SetDataFormat(format))

	link := NewLink(params)
	downstream := codec.NewRingBuffer(ep.BufferRequirements().Size, "decoder")
	consumer := NewConsumer(link, downstream, format)
	require.NoError(t, ep.Connect(downstream, consumer))
	require.NoError(t, ep.Start())

	for slot := 0; slot < slots; slot++ {
		_, ok := link.Receive(ep)
		require.True(t, ok)
		loop.Kick(ep)
		require.NoError(t, loop.Tick(1))
	}
	return ep, consumer
}

func TestSourceEndToEnd_CleanLink(t *testing.T) {
	ep, consumer := runSource(t, Params{RxBuffers: 3, PacketSize: 60, Seed: 1}, protocol.AUDIO_FORMAT_WIDEBAND_SWAPPED, 50)

	report := consumer.Report()
	assert.Equal(t, uint64(50), report.Frames)
	assert.Equal(t, uint64(50), report.Clean)
	assert.Zero(t, report.BitErrors)
	assert.Equal(t, uint64(50), ep.Stats().Valid)
}

func TestSourceEndToEnd_NoisyLink(t *testing.T) {
	params := Params{RxBuffers: 3, PacketSize: 60, BitErrorRate: 0.002, BadCrcRate: 0.6, NoneRate: 0.1, Seed: 7}
	ep, consumer := runSource(t, params, protocol.AUDIO_FORMAT_NARROWBAND, 200)

	report := consumer.Report()
	stats := ep.Stats()
	assert.Equal(t, uint64(200), report.Frames)
	assert.Equal(t, stats.Frames, report.Frames)
	assert.Equal(t, report.Frames, report.Valid+report.BadCrc+report.Missing)
	assert.Equal(t, stats.Valid+stats.Corrected, report.Valid)
	assert.Zero(t, report.Unmatched)
	assert.Positive(t, stats.Valid)
}

func TestSinkEndToEnd(t *testing.T) {
	loop := scheduler.NewLoop()
	registry := endpoint.NewRegistry(loop, log.New(io.Discard))
	h, err := registry.Create(2, protocol.DIRECTION_SINK, endpoint.LinkParams{PacketSize: 10})
	require.NoError(t, err)
	ep, err := registry.Get(h)
	require.NoError(t, err)

	upstream := codec.NewRingBuffer(ep.BufferRequirements().Size, "encoder")
	producer := NewProducer(upstream)
	require.NoError(t, ep.Connect(upstream, producer))
	require.NoError(t, ep.Start())

	link := NewLink(Params{PacketSize: 10})
	for slot := 0; slot < 30; slot++ {
		producer.Produce(7)
		loop.Kick(ep)
		require.NoError(t, loop.Tick(1))
		link.DrainTx(ep)
	}

	packets := link.TxLog()
	require.Len(t, packets, 21, "210 bytes in 10 byte packets")
	var next byte
	for i, packet := range packets {
		assert.Equal(t, uint16(i+1), uint16(packet[0])|uint16(packet[1])<<8)
		for _, b := range packet[2:] {
			require.Equal(t, next, b)
			next++
		}
	}
	assert.Positive(t, producer.Kicks())
	assert.Equal(t, uint64(210), producer.Written())
}
