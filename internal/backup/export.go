package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"botbuilder/internal/logging"
	"botbuilder/internal/metrics"
)

// ExportResult describes an uploaded archive.
type ExportResult struct {
	Key      string
	Size     int64
	Checksum string
	Files    []string
}

// ExportKey names the archive for a project.
func ExportKey(prefix, projectID, botName string, at time.Time) string {
	return fmt.Sprintf("%s%s/%s-%s.tar.gz", prefix, projectID, botName, at.UTC().Format("20060102T150405Z"))
}

// Exporter archives project directories and uploads them.
type Exporter struct {
	storage StorageProvider
	// exclude holds base names that never leave the machine.
	exclude map[string]bool
}

// NewExporter creates an exporter. Files whose base name is in exclude are
// left out of every archive.
func NewExporter(storage StorageProvider, exclude ...string) *Exporter {
	ex := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		ex[name] = true
	}
	return &Exporter{storage: storage, exclude: ex}
}

// Export writes dir as a gzip-compressed tar archive to key.
func (e *Exporter) Export(ctx context.Context, dir, key string) (*ExportResult, error) {
	start := time.Now()
	res, err := e.export(ctx, dir, key)
	metrics.Get().RecordExport(e.storage.Name(), err, time.Since(start))
	if err != nil {
		logging.L().Warn("project export failed", zap.String("dir", dir), zap.String("key", key), zap.Error(err))
		return nil, err
	}
	logging.L().Info("project exported",
		zap.String("backend", e.storage.Name()),
		zap.String("key", res.Key),
		zap.Int64("size", res.Size),
		zap.Int("files", len(res.Files)),
	)
	return res, nil
}

func (e *Exporter) export(ctx context.Context, dir, key string) (*ExportResult, error) {
	var buf bytes.Buffer
	files, err := e.archive(ctx, dir, &buf)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(buf.Bytes())
	size := int64(buf.Len())
	if err := e.storage.Upload(ctx, key, &buf, size); err != nil {
		return nil, err
	}
	return &ExportResult{
		Key:      key,
		Size:     size,
		Checksum: hex.EncodeToString(sum[:]),
		Files:    files,
	}, nil
}

func (e *Exporter) archive(ctx context.Context, dir string, w io.Writer) ([]string, error) {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	var files []string

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil || rel == "." {
			return err
		}
		if e.exclude[d.Name()] {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return err
		}
		files = append(files, hdr.Name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", dir, err)
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("archive %s: no files", dir)
	}
	return files, nil
}
