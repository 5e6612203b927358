package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation failure.
type ValidationError struct {
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing settings: %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, fmt.Sprintf("invalid settings: %s", strings.Join(e.Invalid, ", ")))
	}
	return strings.Join(parts, "; ")
}

// HasErrors reports whether anything is missing or invalid.
func (e *ValidationError) HasErrors() bool {
	return len(e.Missing) > 0 || len(e.Invalid) > 0
}

// Validate checks the configuration. requireOracle is true for commands that
// drive the state machine and therefore need model credentials.
func (c *Config) Validate(requireOracle bool) error {
	verr := &ValidationError{}

	if requireOracle && c.Oracle.APIKey == "" {
		verr.Missing = append(verr.Missing, "GEMINI_API_KEY")
	}
	if c.Oracle.Model == "" {
		verr.Missing = append(verr.Missing, "oracle.model")
	}
	if c.ProjectsDir == "" {
		verr.Missing = append(verr.Missing, "projects_dir")
	}
	if c.Build.MaxQuestions < 0 {
		verr.Invalid = append(verr.Invalid, "build.max_questions")
	}
	if c.Build.SettleInterval < 0 {
		verr.Invalid = append(verr.Invalid, "build.settle_interval")
	}
	if c.Build.LogTail <= 0 {
		verr.Invalid = append(verr.Invalid, "build.log_tail")
	}
	if c.Build.MaxStageRetries < 0 {
		verr.Invalid = append(verr.Invalid, "build.max_stage_retries")
	}
	if c.Build.SecretsFile == "" || strings.ContainsAny(c.Build.SecretsFile, `/\`) {
		verr.Invalid = append(verr.Invalid, "build.secrets_file")
	}
	if c.Oracle.RequestsPerMinute < 0 {
		verr.Invalid = append(verr.Invalid, "oracle.requests_per_minute")
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		verr.Invalid = append(verr.Invalid, "database.driver")
	}

	switch c.Backup.Backend {
	case "":
	case "local":
		if c.Backup.LocalPath == "" {
			verr.Missing = append(verr.Missing, "backup.local_path")
		}
	case "s3":
		if c.Backup.S3Bucket == "" {
			verr.Missing = append(verr.Missing, "BACKUP_S3_BUCKET")
		}
	default:
		verr.Invalid = append(verr.Invalid, "backup.backend")
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}
