package metrics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Updater periodically updates metrics from the database
type Updater struct {
	db       *pgxpool.Pool
	interval time.Duration
	stopCh   chan struct{}
}

// NewUpdater creates a new metrics updater
func NewUpdater(db *pgxpool.Pool, interval time.Duration) *Updater {
	return &Updater{
		db:       db,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the metrics update loop
func (u *Updater) Start(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	// Update immediately on start
	u.update(ctx)

	for {
		select {
		case <-ticker.C:
			u.update(ctx)
		case <-u.stopCh:
			log.Info().Msg("Metrics updater stopped")
			return
		case <-ctx.Done():
			log.Info().Msg("Metrics updater context cancelled")
			return
		}
	}
}

// Stop stops the metrics updater
func (u *Updater) Stop() {
	close(u.stopCh)
}

// update fetches and updates all metrics
func (u *Updater) update(ctx context.Context) {
	log.Debug().Msg("Updating metrics from database")

	u.updateRunMetrics(ctx)
	u.updateMemoryMetrics(ctx)
	u.updateReputationMetrics(ctx)
	u.updateMetadataMetrics(ctx)
	u.updateDatabaseMetrics()

	log.Debug().Msg("Metrics updated successfully")
}

// updateRunMetrics updates run index metrics
func (u *Updater) updateRunMetrics(ctx context.Context) {
	var total int64
	if err := u.db.QueryRow(ctx, `SELECT COUNT(*) FROM run_index`).Scan(&total); err != nil {
		log.Error().Err(err).Msg("Failed to fetch run index size")
		return
	}
	RunIndexTotal.Set(float64(total))

	rows, err := u.db.Query(ctx, `
		SELECT status, COUNT(*)
		FROM run_index
		WHERE started_at >= NOW() - INTERVAL '24 hours'
		GROUP BY status
	`)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch recent run counts")
		return
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			continue
		}
		RunsRecent.WithLabelValues(status).Set(float64(count))
	}
}

// updateMemoryMetrics updates vector store metrics
func (u *Updater) updateMemoryMetrics(ctx context.Context) {
	var total int64
	if err := u.db.QueryRow(ctx, `SELECT COUNT(*) FROM memory_items`).Scan(&total); err != nil {
		log.Error().Err(err).Msg("Failed to fetch memory item count")
		return
	}
	MemoryItemsTotal.Set(float64(total))
}

// updateReputationMetrics updates reputation ledger metrics
func (u *Updater) updateReputationMetrics(ctx context.Context) {
	var avgAccuracy float64
	query := `SELECT COALESCE(AVG(accuracy_rate), 0) FROM reputation_records`
	if err := u.db.QueryRow(ctx, query).Scan(&avgAccuracy); err != nil {
		log.Error().Err(err).Msg("Failed to fetch reputation accuracy")
		return
	}
	ReputationAvgAccuracy.Set(avgAccuracy)
}

// updateMetadataMetrics updates metadata version store metrics
func (u *Updater) updateMetadataMetrics(ctx context.Context) {
	var total int64
	if err := u.db.QueryRow(ctx, `SELECT COUNT(*) FROM token_metadata_versions`).Scan(&total); err != nil {
		log.Error().Err(err).Msg("Failed to fetch metadata version count")
		return
	}
	MetadataVersionsStored.Set(float64(total))
}

// updateDatabaseMetrics updates database connection pool metrics
func (u *Updater) updateDatabaseMetrics() {
	stat := u.db.Stat()
	UpdateDatabaseConnections(stat.AcquiredConns(), stat.IdleConns())
}
