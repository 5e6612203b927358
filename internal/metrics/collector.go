package metrics

import (
	"context"
	"runtime"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"botbuilder/internal/logging"
)

// LedgerCollector periodically refreshes gauges derived from the build ledger.
type LedgerCollector struct {
	db       *gorm.DB
	metrics  *Metrics
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewLedgerCollector creates a collector. db may be nil, in which case only
// process gauges are refreshed.
func NewLedgerCollector(db *gorm.DB, interval time.Duration) *LedgerCollector {
	return &LedgerCollector{
		db:       db,
		metrics:  Get(),
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins periodic collection until Stop is called or ctx is done.
func (lc *LedgerCollector) Start(ctx context.Context) {
	go func() {
		defer close(lc.doneCh)
		lc.collectAll()

		ticker := time.NewTicker(lc.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				lc.collectAll()
			case <-lc.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the collector and waits for the loop to exit.
func (lc *LedgerCollector) Stop() {
	select {
	case <-lc.stopCh:
	default:
		close(lc.stopCh)
	}
	<-lc.doneCh
}

func (lc *LedgerCollector) collectAll() {
	lc.metrics.GoroutineNum.Set(float64(runtime.NumGoroutine()))
	lc.collectSessionMetrics()
	lc.collectDatabaseMetrics()
}

func (lc *LedgerCollector) collectSessionMetrics() {
	if lc.db == nil {
		return
	}

	type stageCount struct {
		Stage string
		Count int64
	}

	var counts []stageCount
	if err := lc.db.Table("build_sessions").
		Select("stage, count(*) as count").
		Group("stage").
		Scan(&counts).Error; err != nil {
		logging.L().Warn("count ledger sessions by stage", zap.Error(err))
		return
	}

	lc.metrics.LedgerSessionsByStage.Reset()
	for _, sc := range counts {
		stage := sc.Stage
		if stage == "" {
			stage = "unknown"
		}
		lc.metrics.LedgerSessionsByStage.WithLabelValues(stage).Set(float64(sc.Count))
	}
}

func (lc *LedgerCollector) collectDatabaseMetrics() {
	if lc.db == nil {
		return
	}

	sqlDB, err := lc.db.DB()
	if err != nil {
		logging.L().Warn("ledger connection stats", zap.Error(err))
		return
	}

	stats := sqlDB.Stats()
	lc.metrics.DBConnectionsActive.Set(float64(stats.InUse))
	lc.metrics.DBConnectionsIdle.Set(float64(stats.Idle))
}
