package correction

import (
	"errors"
	"fmt"

	"github.com/dbehnke/scoaudio/internal/protocol"
	"github.com/dbehnke/scoaudio/internal/protocol/sco"
)

// ErrCaptureCount is returned when a vote is asked for with no captures or
// more than the radio can deliver for one slot
var ErrCaptureCount = errors.New("majority vote needs 1 to 3 captures")

// Capture is one redundant radio capture of a timeslot
type Capture struct {
	Meta    sco.Metadata
	Payload []byte // Slot payload without the in-band header
}

// VoteConfig controls the selector. It is set through the source endpoint
// configuration keys.
type VoteConfig struct {
	Bypass              bool
	QuestionableBitsMax uint8
}

// VoteResult describes which capture feeds the downstream frame.
//
// When IsVoting is set ChosenIndex is only a placeholder (0) and the frame
// payload is the bitwise majority of all three captures.
type VoteResult struct {
	ChosenIndex   uint8
	IsVoting      bool
	QualityMetric uint32 // Bit positions in disagreement, lower is better
}

// Vote picks the best capture of a slot or decides to synthesize a bitwise
// majority. It is deterministic and evaluated once per tick.
// A Valid capture wins even when cfg.Bypass is set; bypass only skips the
// comparison of captures that all failed.
func Vote(captures []Capture, cfg VoteConfig) (VoteResult, error) {
	n := len(captures)
	if n < protocol.SCO_MIN_RX_BUFFERS || n > protocol.SCO_MAX_RX_BUFFERS {
		return VoteResult{}, fmt.Errorf("%w: got %d", ErrCaptureCount, n)
	}

	// A good CRC beats anything else, first one by index
	for i, c := range captures {
		if c.Meta.Status == protocol.SLOT_STATUS_VALID {
			return VoteResult{ChosenIndex: uint8(i)}, nil
		}
	}

	if cfg.Bypass {
		return VoteResult{ChosenIndex: 0}, nil
	}

	// Only bad-CRC captures carry anything worth comparing
	var bad []int
	for i, c := range captures {
		if c.Meta.Status == protocol.SLOT_STATUS_BAD_CRC {
			bad = append(bad, i)
		}
	}

	switch {
	case n == 3 && len(bad) == 3:
		return voteThree(captures), nil
	case n == 1:
		return single(captures, 0), nil
	case len(bad) == 2:
		// Both bad: the pair distance measures how much they can be trusted
		return VoteResult{
			ChosenIndex:   uint8(bad[0]),
			QualityMetric: HammingDistance(captures[bad[0]].Payload, captures[bad[1]].Payload),
		}, nil
	case len(bad) == 1:
		// A bad CRC capture still beats one where nothing was received
		return single(captures, bad[0]), nil
	default:
		return single(captures, 0), nil
	}
}

// single treats every bit of a lone capture as suspect
func single(captures []Capture, index int) VoteResult {
	return VoteResult{
		ChosenIndex:   uint8(index),
		QualityMetric: uint32(captures[index].Meta.PayloadSize),
	}
}

// voteThree handles three bad-CRC captures. If one pair is much closer to
// each other than either is to the third capture, the third is discarded
// and the pair is trusted. Otherwise every bit is voted.
func voteThree(captures []Capture) VoteResult {
	a, b, c := captures[0].Payload, captures[1].Payload, captures[2].Payload

	d01 := HammingDistance(a, b)
	d02 := HammingDistance(a, c)
	d12 := HammingDistance(b, c)

	switch {
	case 2*d01 < d02 && 2*d01 < d12:
		return VoteResult{ChosenIndex: 0, QualityMetric: d01}
	case 2*d02 < d01 && 2*d02 < d12:
		return VoteResult{ChosenIndex: 0, QualityMetric: d02}
	case 2*d12 < d01 && 2*d12 < d02:
		return VoteResult{ChosenIndex: 1, QualityMetric: d12}
	}

	return VoteResult{
		ChosenIndex:   0,
		IsVoting:      true,
		QualityMetric: Disagreement(a, b, c),
	}
}

// OutboundStatus applies the CRC override: a bad CRC whose quality metric
// is within the questionable-bits threshold is reported downstream as valid.
func OutboundStatus(in protocol.SlotStatus, r VoteResult, cfg VoteConfig) protocol.SlotStatus {
	if in == protocol.SLOT_STATUS_BAD_CRC && r.QualityMetric <= uint32(cfg.QuestionableBitsMax) {
		return protocol.SLOT_STATUS_VALID
	}
	return in
}

// Payload returns the bytes to frame for this result. For a voted result
// the majority is synthesized into scratch, which must hold the payload.
func (r VoteResult) Payload(captures []Capture, scratch []byte) []byte {
	if !r.IsVoting {
		return captures[r.ChosenIndex].Payload
	}
	n := Majority(scratch, captures[0].Payload, captures[1].Payload, captures[2].Payload)
	return scratch[:n]
}

// Chosen returns the capture whose header feeds the outbound frame
func (r VoteResult) Chosen(captures []Capture) Capture {
	return captures[r.ChosenIndex]
}
