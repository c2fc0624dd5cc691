package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LinkSession is the final counter set of one SCO endpoint, written when the
// endpoint is destroyed
type LinkSession struct {
	ID        string    `gorm:"primarykey;size:36" json:"id"`
	RunID     string    `gorm:"index;size:36" json:"run_id"`
	ConnKey   uint16    `gorm:"index" json:"conn_key"`
	Direction string    `gorm:"size:8" json:"direction"`
	Format    string    `gorm:"size:24" json:"format"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	Frames     uint64 `json:"frames"`
	Valid      uint64 `json:"valid"`
	Corrected  uint64 `json:"corrected"`
	BadCrc     uint64 `json:"bad_crc"`
	Missing    uint64 `json:"missing"`
	Voted      uint64 `json:"voted"`
	QualitySum uint64 `json:"quality_sum"`

	TxPackets uint64 `json:"tx_packets"`
	TxBytes   uint64 `json:"tx_bytes"`

	Backpressure uint64 `json:"backpressure"`
	Stalls       uint64 `json:"stalls"`
	SelfKicks    uint64 `json:"self_kicks"`
}

// TableName specifies the table name for GORM
func (LinkSession) TableName() string {
	return "link_sessions"
}

// BeforeCreate assigns a random ID to rows inserted without one
func (s *LinkSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// FrameErrorRate is the share of frames that reached the decoder without a
// usable payload
func (s LinkSession) FrameErrorRate() float64 {
	if s.Frames == 0 {
		return 0
	}
	return float64(s.BadCrc+s.Missing) / float64(s.Frames)
}

// String returns a formatted string representation
func (s LinkSession) String() string {
	if s.Direction == "sink" {
		return fmt.Sprintf("conn %d %s %s: %d packets", s.ConnKey, s.Direction, s.Format, s.TxPackets)
	}
	return fmt.Sprintf("conn %d %s %s: %d frames, %d corrected, %.2f%% lost",
		s.ConnKey, s.Direction, s.Format, s.Frames, s.Corrected, 100*s.FrameErrorRate())
}

// LinkTotals aggregates counters over many sessions
type LinkTotals struct {
	Sessions  int64
	Frames    uint64
	Valid     uint64
	Corrected uint64
	BadCrc    uint64
	Missing   uint64
	Voted     uint64
	TxPackets uint64
	Stalls    uint64
}
