package endpoint

import (
	"fmt"

	"github.com/dbehnke/scoaudio/internal/protocol"
)

// Stats are running counters for one endpoint. They are transient and go
// away with the endpoint unless a StatsSink is registered.
type Stats struct {
	// Source side
	Frames     uint64 // Frames written downstream
	Valid      uint64 // Good CRC on at least one capture
	Corrected  uint64 // Bad CRC overridden to valid by the quality threshold
	BadCrc     uint64 // Bad CRC passed downstream as bad
	Missing    uint64 // Nothing received in the slot
	Voted      uint64 // Payload synthesized by bitwise majority
	QualitySum uint64 // Sum of quality metrics, for averaging

	// Sink side
	TxPackets uint64
	TxBytes   uint64

	// Both
	Backpressure uint64 // Ticks skipped for lack of space
	Stalls       uint64 // Stall timer expiries
	SelfKicks    uint64 // Deferred retries that fired
}

// AverageQuality returns the mean quality metric per frame
func (s Stats) AverageQuality() float64 {
	if s.Frames == 0 {
		return 0
	}
	return float64(s.QualitySum) / float64(s.Frames)
}

func (s Stats) String() string {
	return fmt.Sprintf("frames=%d valid=%d corrected=%d bad=%d missing=%d voted=%d tx=%d backpressure=%d stalls=%d",
		s.Frames, s.Valid, s.Corrected, s.BadCrc, s.Missing, s.Voted, s.TxPackets, s.Backpressure, s.Stalls)
}

// StatsSink receives the final counters of an endpoint when it is destroyed
type StatsSink interface {
	RecordStats(key ConnectionKey, dir protocol.Direction, format protocol.AudioFormat, stats Stats) error
}

func (e *Endpoint) countFrame(in, out protocol.SlotStatus, voting bool, quality uint32) {
	e.stats.Frames++
	e.stats.QualitySum += uint64(quality)
	if voting {
		e.stats.Voted++
	}

	switch {
	case in == protocol.SLOT_STATUS_VALID:
		e.stats.Valid++
	case in == protocol.SLOT_STATUS_BAD_CRC && out == protocol.SLOT_STATUS_VALID:
		e.stats.Corrected++
	case in == protocol.SLOT_STATUS_BAD_CRC:
		e.stats.BadCrc++
	default:
		e.stats.Missing++
	}
}
