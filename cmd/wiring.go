package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"botbuilder/internal/ai"
	"botbuilder/internal/backup"
	"botbuilder/internal/builder"
	"botbuilder/internal/config"
	"botbuilder/internal/db"
	"botbuilder/internal/keys"
	"botbuilder/internal/logging"
	"botbuilder/internal/session"
)

func newOracle(ctx context.Context, c *config.Config) (ai.Oracle, error) {
	gem, err := ai.NewGeminiOracle(ctx, ai.GeminiOptions{
		APIKey:      keys.Clean(c.Oracle.APIKey),
		Model:       c.Oracle.Model,
		Temperature: c.Oracle.Temperature,
		Timeout:     c.Oracle.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return ai.Wrap(gem,
		ai.Instrument(gem.Name()),
		ai.RateLimit(c.Oracle.RequestsPerMinute, c.Oracle.Burst),
	), nil
}

// openSessions returns the Redis store when configured, otherwise an
// in-process store. The closer is never nil.
func openSessions(ctx context.Context, c *config.Config) (session.Store, func(), error) {
	if c.Redis.URL == "" {
		return session.NewMemoryStore(), func() {}, nil
	}
	rs, err := session.NewRedisStore(ctx, c.Redis.URL, c.Redis.KeyPrefix, c.Redis.TTL)
	if err != nil {
		return nil, nil, err
	}
	return rs, func() { _ = rs.Close() }, nil
}

// openLedger opens the ledger database. A ledger that cannot be opened is
// logged and skipped; builds do not depend on it.
func openLedger(c *config.Config) (*db.Database, *db.Ledger) {
	database, err := db.NewDatabase(db.Config{
		Driver: c.Database.Driver,
		DSN:    c.Database.DSN,
		Debug:  verbose,
	})
	if err != nil {
		logging.L().Warn("ledger disabled", zap.Error(err))
		return nil, nil
	}
	return database, db.NewLedger(database)
}

func newExporter(ctx context.Context, c *config.Config) (*backup.Exporter, error) {
	var storage backup.StorageProvider
	switch c.Backup.Backend {
	case "":
		return nil, nil
	case "local":
		ls, err := backup.NewLocalStorage(c.Backup.LocalPath)
		if err != nil {
			return nil, err
		}
		storage = ls
	case "s3":
		s3, err := backup.NewS3Storage(ctx, backup.S3Config{
			Bucket:          c.Backup.S3Bucket,
			Region:          c.Backup.S3Region,
			Endpoint:        c.Backup.S3Endpoint,
			AccessKeyID:     c.Backup.S3AccessKeyID,
			SecretAccessKey: c.Backup.S3SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		storage = s3
	default:
		return nil, fmt.Errorf("unknown backup backend %q", c.Backup.Backend)
	}
	return backup.NewExporter(storage, c.Build.SecretsFile), nil
}

func builderConfig(c *config.Config) builder.Config {
	return builder.Config{
		MaxQuestions:    c.Build.MaxQuestions,
		SettleInterval:  c.Build.SettleInterval,
		LogTail:         c.Build.LogTail,
		MaxStageRetries: c.Build.MaxStageRetries,
		MaxDebugCycles:  c.Build.MaxDebugCycles,
		AskFeedback:     c.Build.AskFeedback,
		RequiredFiles:   c.Build.RequiredFiles,
		SecretsFile:     c.Build.SecretsFile,
		Ports:           c.Docker.Ports,
	}
}
