package db

import "time"

// BuildSession is the ledger row for one build session.
type BuildSession struct {
	ID                uint   `gorm:"primaryKey" json:"-"`
	ProjectID         string `gorm:"uniqueIndex;size:64;not null" json:"project_id"`
	ProjectName       string `gorm:"size:255" json:"project_name"`
	BotName           string `gorm:"index;size:64" json:"bot_name"`
	ContainerName     string `gorm:"size:128" json:"container_name"`
	Stage             string `gorm:"index;size:32" json:"stage"`
	Outcome           string `gorm:"size:16" json:"outcome,omitempty"`
	DeploymentCreated bool   `json:"deployment_created"`
	DebugCycles       int    `json:"debug_cycles"`
	FailedAttempts    int    `json:"failed_attempts"`
	LastError         string `gorm:"type:text" json:"last_error,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"-"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName pins the table name queried by the metrics collector.
func (BuildSession) TableName() string { return "build_sessions" }

// StageEvent is one recorded stage execution.
type StageEvent struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	TransitionID string    `gorm:"uniqueIndex;size:36;not null" json:"id"`
	ProjectID    string    `gorm:"index;size:64;not null" json:"project_id"`
	FromStage    string    `gorm:"size:32" json:"from"`
	ToStage      string    `gorm:"size:32" json:"to"`
	Attempt      int       `json:"attempt"`
	DurationMs   int64     `json:"duration_ms"`
	ErrorKind    string    `gorm:"size:32" json:"error_kind,omitempty"`
	ErrorMessage string    `gorm:"type:text" json:"error_message,omitempty"`
	OccurredAt   time.Time `gorm:"index" json:"occurred_at"`
}
