package endpoint

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/dbehnke/scoaudio/internal/codec"
	"github.com/dbehnke/scoaudio/internal/correction"
	"github.com/dbehnke/scoaudio/internal/protocol"
	"github.com/dbehnke/scoaudio/internal/scheduler"
)

// ConnectionKey identifies the radio connection an endpoint belongs to
type ConnectionKey uint16

// State of an endpoint
type State int

const (
	StateIdle      State = iota // Created, no buffers bound
	StateConnected              // Buffers bound
	StateRunning                // Accepting kicks, timers armed
	StateStopped                // Kicks ignored, buffers still bound
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// LinkParams are the radio link properties fixed when the connection is
// established
type LinkParams struct {
	Tesco         uint16 // Slots between SCO instants
	RxBuffers     int    // Redundant receive captures, 1-3 (source only, 0 = 3)
	PacketSize    int    // Payload bytes per packet, 0 = derived from Tesco
	TimestampInit uint16 // Timestamp of slot counter 0
	StallTimeout  int    // Ticks without progress before a stall, 0 = default
	RetryTimeout  int    // Ticks before a self-kick retry, 0 = default
}

// ConfigKey selects a runtime configuration value
type ConfigKey int

const (
	ConfigMajorityVoteBypass ConfigKey = iota
	ConfigMajorityVoteQuestionableBitsMax
)

func (k ConfigKey) String() string {
	switch k {
	case ConfigMajorityVoteBypass:
		return "MajorityVoteBypass"
	case ConfigMajorityVoteQuestionableBitsMax:
		return "MajorityVoteQuestionableBitsMax"
	default:
		return fmt.Sprintf("config(%d)", int(k))
	}
}

// BufferFlags describe properties the chain must honour when allocating
// the operator-facing buffer
type BufferFlags uint32

const (
	FlagWordAligned      BufferFlags = 1 << iota // Sizes are whole 16-bit words
	FlagSupportsMetadata                         // Frames carry the in-band header
)

// BufferDetails is what the chain needs to allocate the terminal buffer
type BufferDetails struct {
	Size  int
	Flags BufferFlags
}

// Endpoint is one direction of an SCO connection. Source endpoints move
// radio captures to the decoder; sink endpoints move encoder output to the
// radio. All methods run on the cooperative loop.
type Endpoint struct {
	key        ConnectionKey
	dir        protocol.Direction
	link       LinkParams
	packetSize int

	state   State
	format  protocol.AudioFormat
	adapter codec.ByteOrderAdapter
	vote    correction.VoteConfig

	loop    *scheduler.Loop
	logger  *log.Logger
	monitor *monitor

	// Operator side: downstream for a source, upstream for a sink
	terminal *codec.RingBuffer
	peer     scheduler.Kickable

	rx *receiveState
	tx *transmitState

	stats Stats
}

func newEndpoint(key ConnectionKey, dir protocol.Direction, link LinkParams,
	loop *scheduler.Loop, logger *log.Logger) (*Endpoint, error) {

	if link.PacketSize == 0 {
		link.PacketSize = int(link.Tesco) * protocol.SCO_BYTES_PER_SLOT
	}
	if link.PacketSize <= 0 || link.PacketSize%2 != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrPacketSize, link.PacketSize)
	}
	if dir == protocol.DIRECTION_SOURCE {
		if link.RxBuffers == 0 {
			link.RxBuffers = protocol.SCO_MAX_RX_BUFFERS
		}
		if link.RxBuffers < protocol.SCO_MIN_RX_BUFFERS || link.RxBuffers > protocol.SCO_MAX_RX_BUFFERS {
			return nil, fmt.Errorf("%w: got %d", ErrRxBufferCount, link.RxBuffers)
		}
	}
	if link.StallTimeout <= 0 {
		link.StallTimeout = protocol.SCO_DEFAULT_STALL_TIMEOUT
	}
	if link.RetryTimeout <= 0 {
		link.RetryTimeout = protocol.SCO_DEFAULT_RETRY_TIMEOUT
	}
	if logger == nil {
		logger = log.Default()
	}

	e := &Endpoint{
		key:        key,
		dir:        dir,
		link:       link,
		packetSize: link.PacketSize,
		state:      StateIdle,
		format:     protocol.AUDIO_FORMAT_NARROWBAND,
		loop:       loop,
		logger:     logger.With("conn", key, "dir", dir),
	}
	e.monitor = newMonitor(loop, link.StallTimeout, link.RetryTimeout)
	return e, nil
}

// Key returns the connection key
func (e *Endpoint) Key() ConnectionKey { return e.key }

// Direction returns source or sink
func (e *Endpoint) Direction() protocol.Direction { return e.dir }

// State returns the lifecycle state
func (e *Endpoint) State() State { return e.state }

// Format returns the negotiated data format
func (e *Endpoint) Format() protocol.AudioFormat { return e.format }

// PacketSize returns the payload bytes per radio packet
func (e *Endpoint) PacketSize() int { return e.packetSize }

// Link returns the link parameters after defaults were applied
func (e *Endpoint) Link() LinkParams { return e.link }

// Stats returns a copy of the running counters
func (e *Endpoint) Stats() Stats { return e.stats }

// SetDataFormat negotiates the operator-facing data format. It must be
// called before Connect.
func (e *Endpoint) SetDataFormat(format protocol.AudioFormat) error {
	if e.state != StateIdle {
		return ErrFormatLocked
	}
	switch format {
	case protocol.AUDIO_FORMAT_NARROWBAND, protocol.AUDIO_FORMAT_WIDEBAND_SWAPPED:
		e.format = format
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// BufferRequirements tells the chain how large the terminal buffer must be
func (e *Endpoint) BufferRequirements() BufferDetails {
	if e.dir == protocol.DIRECTION_SOURCE {
		frame := protocol.SCO_METADATA_LENGTH + e.packetSize
		return BufferDetails{
			Size:  2 * (frame + frame%2),
			Flags: FlagWordAligned | FlagSupportsMetadata,
		}
	}
	return BufferDetails{
		Size:  2 * e.packetSize,
		Flags: FlagWordAligned,
	}
}

// SetConfigValue sets a majority vote key. Only source endpoints vote.
// The questionable-bits threshold is clamped to 0-255.
func (e *Endpoint) SetConfigValue(key ConfigKey, value uint32) error {
	if e.dir != protocol.DIRECTION_SOURCE {
		return fmt.Errorf("%w: %s on %s", ErrUnsupportedKey, key, e.dir)
	}

	switch key {
	case ConfigMajorityVoteBypass:
		e.vote.Bypass = value != 0
	case ConfigMajorityVoteQuestionableBitsMax:
		if value > protocol.SCO_QUESTIONABLE_BITS_LIMIT {
			value = protocol.SCO_QUESTIONABLE_BITS_LIMIT
		}
		e.vote.QuestionableBitsMax = uint8(value)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedKey, key)
	}

	e.logger.Debug("config set", "key", key, "value", value)
	return nil
}

// ConfigValue reads a majority vote key
func (e *Endpoint) ConfigValue(key ConfigKey) (uint32, error) {
	if e.dir != protocol.DIRECTION_SOURCE {
		return 0, fmt.Errorf("%w: %s on %s", ErrUnsupportedKey, key, e.dir)
	}

	switch key {
	case ConfigMajorityVoteBypass:
		if e.vote.Bypass {
			return 1, nil
		}
		return 0, nil
	case ConfigMajorityVoteQuestionableBitsMax:
		return uint32(e.vote.QuestionableBitsMax), nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedKey, key)
	}
}

// VoteConfig returns the current majority vote configuration
func (e *Endpoint) VoteConfig() correction.VoteConfig { return e.vote }

// Connect binds the operator-side buffer and the hardware buffers, and
// fixes the byte order. Connecting again to the same buffer is a no-op.
func (e *Endpoint) Connect(terminal *codec.RingBuffer, peer scheduler.Kickable) error {
	if terminal == nil {
		return fmt.Errorf("%w: nil terminal buffer", ErrNotConnected)
	}
	if e.state != StateIdle {
		if e.terminal == terminal {
			return nil
		}
		return ErrAlreadyConnected
	}

	frame := protocol.SCO_METADATA_LENGTH + e.packetSize
	if e.dir == protocol.DIRECTION_SOURCE && terminal.Capacity() < frame {
		return fmt.Errorf("%w: terminal %d < frame %d", ErrBufferTooSmall, terminal.Capacity(), frame)
	}

	e.terminal = terminal
	e.peer = peer
	e.adapter = codec.NewByteOrderAdapter(e.format)

	switch e.dir {
	case protocol.DIRECTION_SOURCE:
		e.rx = newReceiveState(e.link, e.packetSize, e.key)
	case protocol.DIRECTION_SINK:
		e.tx = newTransmitState(e.packetSize)
	}

	e.state = StateConnected
	e.logger.Info("connected", "format", e.format, "packet", e.packetSize, "terminal", terminal.Name())
	return nil
}

// Start begins accepting kicks and arms the stall monitor
func (e *Endpoint) Start() error {
	switch e.state {
	case StateIdle:
		return ErrNotConnected
	case StateRunning:
		return nil
	}

	if e.rx != nil {
		e.rx.resetFraming(e.packetSize)
	}
	e.state = StateRunning
	e.monitor.start(e.onStall)
	e.logger.Info("started")
	return nil
}

// Stop cancels pending timers and zeroes the transmit state. Stopping an
// endpoint that is not running is a no-op.
func (e *Endpoint) Stop() error {
	if e.state != StateRunning {
		return nil
	}

	e.monitor.cancel()
	if e.tx != nil {
		e.tx.reset()
	}
	e.state = StateStopped
	e.logger.Info("stopped", "stats", e.stats)
	return nil
}

// Disconnect releases the buffers and returns the endpoint to idle
func (e *Endpoint) Disconnect() error {
	switch e.state {
	case StateIdle:
		return nil
	case StateRunning:
		return ErrRunning
	}

	e.terminal = nil
	e.peer = nil
	e.rx = nil
	e.tx = nil
	e.state = StateIdle
	e.logger.Info("disconnected")
	return nil
}

// Kick is called by the loop once per timeslot or downstream request.
// Kicks outside the running state are ignored.
func (e *Endpoint) Kick() error {
	if e.state != StateRunning {
		return nil
	}

	var progress bool
	var err error
	switch e.dir {
	case protocol.DIRECTION_SOURCE:
		progress, err = e.assemble()
	case protocol.DIRECTION_SINK:
		progress, err = e.pack()
	}
	if err != nil {
		e.logger.Error("fatal framing error", "err", err)
		return err
	}

	if progress {
		e.monitor.progress()
	}
	return nil
}

// backpressure records a skipped tick and schedules a retry
func (e *Endpoint) backpressure() {
	e.stats.Backpressure++
	e.monitor.retry(e.selfKick)
}

func (e *Endpoint) selfKick() {
	e.stats.SelfKicks++
	e.loop.Kick(e)
}

func (e *Endpoint) onStall() {
	e.stats.Stalls++
	e.logger.Warn("stalled", "ticks", e.link.StallTimeout)
	e.loop.Kick(e)
}
