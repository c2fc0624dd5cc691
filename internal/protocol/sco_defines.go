package protocol

import "fmt"

// SCO transport constants shared by the radio-facing and operator-facing sides

const (
	// In-band slot header: two 32-bit words
	SCO_METADATA_LENGTH = 8 // Header size in bytes
	SCO_METADATA_WORDS  = 4 // Header size in 16-bit words

	// Sink packets carry a 16-bit sequence word ahead of the audio
	SCO_SEQUENCE_LENGTH = 2

	// Air rate is 64 kbit/s for both CVSD and mSBC links, 625us per slot
	SCO_BYTES_PER_SLOT = 5
	SCO_SLOT_TIME_US   = 625

	// Redundant receive captures per timeslot
	SCO_MIN_RX_BUFFERS = 1
	SCO_MAX_RX_BUFFERS = 3

	// Sink side double buffering
	SCO_TX_BUFFERS = 2

	// Default timers, in loop ticks (1 tick = 1 ms)
	SCO_DEFAULT_STALL_TIMEOUT = 30
	SCO_DEFAULT_RETRY_TIMEOUT = 1

	// Largest questionable-bits threshold accepted by the vote configuration
	SCO_QUESTIONABLE_BITS_LIMIT = 255
)

// SlotStatus is the per-timeslot receive status reported by the radio
type SlotStatus uint16

const (
	SLOT_STATUS_NONE    SlotStatus = iota // Nothing received in the slot
	SLOT_STATUS_VALID                     // Received with a good CRC
	SLOT_STATUS_BAD_CRC                   // Received with a CRC failure
)

func (s SlotStatus) String() string {
	switch s {
	case SLOT_STATUS_NONE:
		return "none"
	case SLOT_STATUS_VALID:
		return "valid"
	case SLOT_STATUS_BAD_CRC:
		return "bad_crc"
	default:
		return fmt.Sprintf("status(%d)", uint16(s))
	}
}

// AudioFormat is the negotiated data format of the operator-facing buffer
type AudioFormat int

const (
	AUDIO_FORMAT_NARROWBAND AudioFormat = iota // 16-bit words pass through
	AUDIO_FORMAT_WIDEBAND_SWAPPED              // 16-bit words are byte swapped
)

func (f AudioFormat) String() string {
	switch f {
	case AUDIO_FORMAT_NARROWBAND:
		return "narrowband"
	case AUDIO_FORMAT_WIDEBAND_SWAPPED:
		return "wideband"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// ParseAudioFormat maps a configuration string to an AudioFormat
func ParseAudioFormat(s string) (AudioFormat, error) {
	switch s {
	case "narrowband", "nb", "cvsd":
		return AUDIO_FORMAT_NARROWBAND, nil
	case "wideband", "wb", "msbc":
		return AUDIO_FORMAT_WIDEBAND_SWAPPED, nil
	default:
		return 0, fmt.Errorf("unknown audio format %q", s)
	}
}

// Direction of an endpoint relative to the radio
type Direction int

const (
	DIRECTION_SOURCE Direction = iota // Radio -> DSP chain
	DIRECTION_SINK                    // DSP chain -> radio
)

func (d Direction) String() string {
	switch d {
	case DIRECTION_SOURCE:
		return "source"
	case DIRECTION_SINK:
		return "sink"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}
