// Package workspace stores a generated project's files on local disk under
// <projects_dir>/<project_id>/<bot_name>.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a file or folder does not exist.
	ErrNotFound = errors.New("workspace: not found")
	// ErrInvalidPath is returned for paths that leave the project directory
	// or target the secrets file through the regular file API.
	ErrInvalidPath = errors.New("workspace: invalid path")
	// ErrExists is returned by CreateFile when the file is already there.
	ErrExists = errors.New("workspace: already exists")
)

// Store is one project's directory.
type Store struct {
	dir         string
	secretsFile string
}

// Option configures a Store.
type Option func(*Store)

// WithSecretsFile overrides the secrets file name (default ".env").
func WithSecretsFile(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.secretsFile = name
		}
	}
}

// Open creates (if needed) and returns the store for projectID and botName.
func Open(projectsDir, projectID, botName string, opts ...Option) (*Store, error) {
	s, err := newStore(projectsDir, projectID, botName, opts)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return nil, fmt.Errorf("create project directory: %w", err)
	}
	return s, nil
}

// OpenExisting returns the store for an existing project directory without
// creating anything. A missing directory yields ErrNotFound.
func OpenExisting(projectsDir, projectID, botName string, opts ...Option) (*Store, error) {
	s, err := newStore(projectsDir, projectID, botName, opts)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("project directory %s: %w", s.dir, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("stat project directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project directory %s: %w", s.dir, ErrInvalidPath)
	}
	return s, nil
}

func newStore(projectsDir, projectID, botName string, opts []Option) (*Store, error) {
	if err := checkSegment(projectID); err != nil {
		return nil, fmt.Errorf("project id: %w", err)
	}
	if err := checkSegment(botName); err != nil {
		return nil, fmt.Errorf("bot name: %w", err)
	}

	dir, err := filepath.Abs(filepath.Join(projectsDir, projectID, botName))
	if err != nil {
		return nil, fmt.Errorf("resolve project directory: %w", err)
	}

	s := &Store{dir: dir, secretsFile: ".env"}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the absolute project directory.
func (s *Store) Dir() string { return s.dir }

// SecretsPath returns the absolute path of the secrets file.
func (s *Store) SecretsPath() string { return filepath.Join(s.dir, s.secretsFile) }

// Write creates or replaces a file, creating parent directories.
func (s *Store) Write(ctx context.Context, rel, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return fmt.Errorf("create directory for %s: %w", rel, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o640); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

// Read returns a file's content.
func (s *Store) Read(ctx context.Context, rel string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, err := s.resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%s: %w", rel, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	return string(data), nil
}

// List returns every file below the project directory as sorted slash paths.
// The secrets file is never listed.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var files []string
	err := filepath.WalkDir(s.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == s.secretsFile {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list project files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// ReadAll returns the content of every listed file.
func (s *Store) ReadAll(ctx context.Context) (map[string]string, error) {
	paths, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(paths))
	for _, p := range paths {
		content, err := s.Read(ctx, p)
		if err != nil {
			return nil, err
		}
		out[p] = content
	}
	return out, nil
}

// Structure renders the project tree, one entry per line, directories
// suffixed with "/".
func (s *Store) Structure(ctx context.Context) (string, error) {
	files, err := s.List(ctx)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	seen := map[string]bool{}
	for _, f := range files {
		parts := strings.Split(f, "/")
		for i := 1; i < len(parts); i++ {
			dir := strings.Join(parts[:i], "/")
			if !seen[dir] {
				seen[dir] = true
				fmt.Fprintf(&b, "%s%s/\n", strings.Repeat("  ", i-1), parts[i-1])
			}
		}
		fmt.Fprintf(&b, "%s%s\n", strings.Repeat("  ", len(parts)-1), parts[len(parts)-1])
	}
	return b.String(), nil
}

// Delete removes a file.
func (s *Store) Delete(ctx context.Context, rel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(rel)
	if err != nil {
		return err
	}
	err = os.Remove(full)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", rel, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", rel, err)
	}
	return nil
}

// Exists reports whether a file or folder exists.
func (s *Store) Exists(ctx context.Context, rel string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	full, err := s.resolve(rel)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// CreateFile creates an empty file. It fails with ErrExists if the file is
// already present.
func (s *Store) CreateFile(ctx context.Context, rel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return fmt.Errorf("create directory for %s: %w", rel, err)
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%s: %w", rel, ErrExists)
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", rel, err)
	}
	return f.Close()
}

// CreateFolder creates a folder and its parents.
func (s *Store) CreateFolder(ctx context.Context, rel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(full, 0o750); err != nil {
		return fmt.Errorf("create folder %s: %w", rel, err)
	}
	return nil
}

// DeleteFolder removes a folder and everything below it.
func (s *Store) DeleteFolder(ctx context.Context, rel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(rel)
	if err != nil {
		return err
	}
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", rel, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", rel, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a folder: %w", rel, ErrInvalidPath)
	}
	if err := os.RemoveAll(full); err != nil {
		return fmt.Errorf("delete folder %s: %w", rel, err)
	}
	return nil
}

// WriteSecrets writes the secrets file unless it already exists. It reports
// whether the file was written.
func (s *Store) WriteSecrets(ctx context.Context, content string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f, err := os.OpenFile(s.SecretsPath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create secrets file: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return false, fmt.Errorf("write secrets file: %w", err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("close secrets file: %w", err)
	}
	return true, nil
}

// HasSecrets reports whether the secrets file exists.
func (s *Store) HasSecrets(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(s.SecretsPath())
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *Store) resolve(rel string) (string, error) {
	rel = strings.TrimSpace(strings.ReplaceAll(rel, `\`, "/"))
	if rel == "" || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("%q: %w", rel, ErrInvalidPath)
	}
	clean := path.Clean(rel)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%q: %w", rel, ErrInvalidPath)
	}
	if clean == s.secretsFile {
		return "", fmt.Errorf("%q is reserved: %w", rel, ErrInvalidPath)
	}
	return filepath.Join(s.dir, filepath.FromSlash(clean)), nil
}

func checkSegment(seg string) error {
	if seg == "" || seg == "." || seg == ".." || strings.ContainsAny(seg, `/\`) {
		return fmt.Errorf("%q: %w", seg, ErrInvalidPath)
	}
	return nil
}
