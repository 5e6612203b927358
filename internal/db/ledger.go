package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"botbuilder/internal/builder"
	"botbuilder/internal/logging"
	"botbuilder/internal/session"
)

// ErrNotFound is returned for unknown project ids.
var ErrNotFound = errors.New("ledger: session not found")

// Ledger records build sessions and their transitions.
type Ledger struct {
	db *gorm.DB
}

// NewLedger wraps an open database.
func NewLedger(d *Database) *Ledger {
	return &Ledger{db: d.DB}
}

// Begin inserts the session row, or refreshes it when a session is resumed.
func (l *Ledger) Begin(ctx context.Context, s *session.State) error {
	row := BuildSession{
		ProjectID:         s.ProjectID,
		ProjectName:       s.ProjectName,
		BotName:           s.BotName,
		ContainerName:     s.ContainerName,
		Stage:             s.Stage,
		DeploymentCreated: s.DeploymentCreated,
		DebugCycles:       s.DebugCycles,
		StartedAt:         s.CreatedAt,
	}
	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"stage", "container_name", "outcome", "finished_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("record session %s: %w", s.ProjectID, err)
	}
	return nil
}

// Record stores one transition and moves the session row to its target stage.
func (l *Ledger) Record(ctx context.Context, t builder.Transition) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ev := StageEvent{
			TransitionID: t.ID,
			ProjectID:    t.ProjectID,
			FromStage:    string(t.From),
			ToStage:      string(t.To),
			Attempt:      t.Attempt,
			DurationMs:   t.DurationMs,
			ErrorKind:    string(t.ErrorKind),
			ErrorMessage: t.ErrorMessage,
			OccurredAt:   t.Timestamp,
		}
		if err := tx.Create(&ev).Error; err != nil {
			return fmt.Errorf("record transition: %w", err)
		}

		updates := map[string]interface{}{"stage": string(t.To)}
		if t.Failed() {
			updates["failed_attempts"] = gorm.Expr("failed_attempts + 1")
			updates["last_error"] = t.ErrorMessage
		}
		return tx.Model(&BuildSession{}).Where("project_id = ?", t.ProjectID).Updates(updates).Error
	})
}

// Finish stores the outcome of a run.
func (l *Ledger) Finish(ctx context.Context, res builder.Result) error {
	if res.State == nil {
		return errors.New("ledger: result without state")
	}
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"stage":              res.State.Stage,
		"outcome":            string(res.Outcome),
		"deployment_created": res.DeploymentCreated,
		"container_name":     res.ContainerName,
		"debug_cycles":       res.State.DebugCycles,
		"finished_at":        &now,
	}
	if res.Err != nil {
		updates["last_error"] = res.Err.Error()
	}
	return l.db.WithContext(ctx).Model(&BuildSession{}).
		Where("project_id = ?", res.State.ProjectID).
		Updates(updates).Error
}

// Consume records transitions until ch is closed. Failures are logged; the
// build never waits on the ledger.
func (l *Ledger) Consume(ctx context.Context, ch <-chan builder.Transition) {
	for t := range ch {
		if err := l.Record(ctx, t); err != nil {
			logging.L().Warn("ledger write failed",
				zap.String("project_id", t.ProjectID),
				zap.String("transition_id", t.ID),
				zap.Error(err),
			)
		}
	}
}

// Session returns the row for projectID.
func (l *Ledger) Session(ctx context.Context, projectID string) (*BuildSession, error) {
	var row BuildSession
	err := l.db.WithContext(ctx).Where("project_id = ?", projectID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Sessions lists the most recently updated sessions.
func (l *Ledger) Sessions(ctx context.Context, limit int) ([]BuildSession, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []BuildSession
	err := l.db.WithContext(ctx).Order("updated_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// Events returns the transitions of projectID in the order they happened.
func (l *Ledger) Events(ctx context.Context, projectID string) ([]StageEvent, error) {
	var rows []StageEvent
	err := l.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("occurred_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}
