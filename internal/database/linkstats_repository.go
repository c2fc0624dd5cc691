package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dbehnke/scoaudio/internal/endpoint"
	"github.com/dbehnke/scoaudio/internal/protocol"
)

// LinkStatsRepository stores endpoint counters. It satisfies
// endpoint.StatsSink so a Registry can write to it directly.
type LinkStatsRepository struct {
	db    *gorm.DB
	runID uuid.UUID
}

// NewLinkStatsRepository creates a repository tagging every row with runID
func NewLinkStatsRepository(db *gorm.DB, runID uuid.UUID) *LinkStatsRepository {
	return &LinkStatsRepository{db: db, runID: runID}
}

// RunID returns the run the repository writes under
func (r *LinkStatsRepository) RunID() uuid.UUID {
	return r.runID
}

// RecordStats inserts one session row
func (r *LinkStatsRepository) RecordStats(key endpoint.ConnectionKey, dir protocol.Direction,
	format protocol.AudioFormat, stats endpoint.Stats) error {

	session := LinkSession{
		ID:           uuid.NewString(),
		RunID:        r.runID.String(),
		ConnKey:      uint16(key),
		Direction:    dir.String(),
		Format:       format.String(),
		CreatedAt:    time.Now(),
		Frames:       stats.Frames,
		Valid:        stats.Valid,
		Corrected:    stats.Corrected,
		BadCrc:       stats.BadCrc,
		Missing:      stats.Missing,
		Voted:        stats.Voted,
		QualitySum:   stats.QualitySum,
		TxPackets:    stats.TxPackets,
		TxBytes:      stats.TxBytes,
		Backpressure: stats.Backpressure,
		Stalls:       stats.Stalls,
		SelfKicks:    stats.SelfKicks,
	}

	if err := r.db.Create(&session).Error; err != nil {
		return fmt.Errorf("insert link session for conn %d: %w", key, err)
	}
	return nil
}

// Recent returns the latest sessions, newest first
func (r *LinkStatsRepository) Recent(limit int) ([]LinkSession, error) {
	var sessions []LinkSession
	err := r.db.Order("created_at DESC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// ByRun returns every session written under runID
func (r *LinkStatsRepository) ByRun(runID uuid.UUID) ([]LinkSession, error) {
	var sessions []LinkSession
	err := r.db.Where("run_id = ?", runID.String()).
		Order("conn_key ASC, direction ASC").
		Find(&sessions).Error
	return sessions, err
}

// Totals sums the counters of every stored session
func (r *LinkStatsRepository) Totals() (LinkTotals, error) {
	var totals LinkTotals
	err := r.db.Model(&LinkSession{}).
		Select("COUNT(*) AS sessions, " +
			"COALESCE(SUM(frames), 0) AS frames, " +
			"COALESCE(SUM(valid), 0) AS valid, " +
			"COALESCE(SUM(corrected), 0) AS corrected, " +
			"COALESCE(SUM(bad_crc), 0) AS bad_crc, " +
			"COALESCE(SUM(missing), 0) AS missing, " +
			"COALESCE(SUM(voted), 0) AS voted, " +
			"COALESCE(SUM(tx_packets), 0) AS tx_packets, " +
			"COALESCE(SUM(stalls), 0) AS stalls").
		Scan(&totals).Error
	return totals, err
}

// Count returns the total number of stored sessions
func (r *LinkStatsRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&LinkSession{}).Count(&count).Error
	return count, err
}

// DeleteBefore removes sessions older than cutoff and returns how many went
func (r *LinkStatsRepository) DeleteBefore(cutoff time.Time) (int64, error) {
	res := r.db.Where("created_at < ?", cutoff).Delete(&LinkSession{})
	return res.RowsAffected, res.Error
}

// HealthCheck verifies the repository is working correctly
func (r *LinkStatsRepository) HealthCheck() error {
	var count int64
	return r.db.Model(&LinkSession{}).Count(&count).Error
}
