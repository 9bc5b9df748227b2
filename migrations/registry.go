package migrations

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	marketplace "github.com/goliatone/go-marketplace"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const (
	defaultSourceLabel = "go-marketplace"
	embeddedRoot       = "data/sql/migrations"
)

// dialectDirs maps each dialect to its directory below the migration root.
// Postgres files sit at the root itself.
var dialectDirs = []struct {
	dialect string
	dir     string
}{
	{DialectPostgres, "."},
	{DialectSQLite, "sqlite"},
}

type FilesystemSpec struct {
	Dialect string
	Path    string
	FS      fs.FS
}

// Registration describes what Register handed to the migration runner.
type Registration struct {
	SourceLabel       string
	ValidationTargets []string
	Filesystems       []FilesystemSpec
}

// RegisterFunc receives one dialect's migration tree. It matches the shape of
// go-persistence-bun's dialect registration.
type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*Registration)

func WithDialectSourceLabel(label string) Option {
	return func(r *Registration) {
		if label = strings.TrimSpace(label); label != "" {
			r.SourceLabel = label
		}
	}
}

func WithValidationTargets(targets ...string) Option {
	return func(r *Registration) {
		if normalized := normalizeDialects(targets); len(normalized) > 0 {
			r.ValidationTargets = normalized
		}
	}
}

// WithFilesystems replaces the embedded trees. Entries without a dialect or
// filesystem are ignored.
func WithFilesystems(filesystems ...FilesystemSpec) Option {
	return func(r *Registration) {
		var kept []FilesystemSpec
		for _, spec := range filesystems {
			spec.Dialect = strings.ToLower(strings.TrimSpace(spec.Dialect))
			if spec.Dialect == "" || spec.FS == nil {
				continue
			}
			kept = append(kept, spec)
		}
		if len(kept) > 0 {
			r.Filesystems = kept
		}
	}
}

// Filesystems resolves the per-dialect migration trees from source, or from
// the embedded schema when source is omitted. source may either contain
// data/sql/migrations or be that directory already.
func Filesystems(source ...fs.FS) ([]FilesystemSpec, error) {
	root := marketplace.GetMigrationsFS()
	if len(source) > 0 && source[0] != nil {
		root = source[0]
	}
	base, basePath, err := locateRoot(root)
	if err != nil {
		return nil, err
	}

	out := make([]FilesystemSpec, 0, len(dialectDirs))
	for _, entry := range dialectDirs {
		fsys := base
		if entry.dir != "." {
			if fsys, err = fs.Sub(base, entry.dir); err != nil {
				return nil, fmt.Errorf("migrations: resolve %s filesystem: %w", entry.dialect, err)
			}
		}
		spec := FilesystemSpec{Dialect: entry.dialect, Path: path.Join(basePath, entry.dir), FS: fsys}
		ups, err := fs.Glob(spec.FS, "*.up.sql")
		if err != nil {
			return nil, fmt.Errorf("migrations: glob %s %s: %w", spec.Dialect, spec.Path, err)
		}
		if len(ups) == 0 {
			return nil, fmt.Errorf("migrations: %s filesystem %q has no *.up.sql files", spec.Dialect, spec.Path)
		}
		out = append(out, spec)
	}
	return out, nil
}

// Register hands every targeted dialect's migrations to registerFn, postgres
// first.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	reg := Registration{
		SourceLabel:       defaultSourceLabel,
		ValidationTargets: []string{DialectPostgres, DialectSQLite},
	}
	filesystems, err := Filesystems()
	if err != nil {
		return reg, err
	}
	reg.Filesystems = filesystems
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}

	switch {
	case registerFn == nil:
		return reg, errors.New("migrations: register function is required")
	case strings.TrimSpace(reg.SourceLabel) == "":
		return reg, errors.New("migrations: source label is required")
	case len(reg.ValidationTargets) == 0:
		return reg, errors.New("migrations: validation targets are required")
	case len(reg.Filesystems) == 0:
		return reg, errors.New("migrations: filesystems are required")
	}

	targets := normalizeDialects(reg.ValidationTargets)
	for _, spec := range reg.Filesystems {
		if !slices.Contains(targets, spec.Dialect) {
			continue
		}
		if err := registerFn(ctx, spec.Dialect, reg.SourceLabel, spec.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s (%s): %w", spec.Dialect, spec.Path, err)
		}
	}
	return reg, nil
}

func locateRoot(root fs.FS) (fs.FS, string, error) {
	info, statErr := fs.Stat(root, embeddedRoot)
	if statErr == nil && info.IsDir() {
		sub, err := fs.Sub(root, embeddedRoot)
		if err != nil {
			return nil, "", fmt.Errorf("migrations: resolve %s: %w", embeddedRoot, err)
		}
		return sub, embeddedRoot, nil
	}
	if ups, _ := fs.Glob(root, "*.sql"); len(ups) > 0 {
		return root, ".", nil
	}
	if statErr == nil {
		statErr = fmt.Errorf("%s is not a directory", embeddedRoot)
	}
	return nil, "", fmt.Errorf("migrations: %s not found: %w", embeddedRoot, statErr)
}

func normalizeDialects(values []string) []string {
	var out []string
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value != "" && !slices.Contains(out, value) {
			out = append(out, value)
		}
	}
	return out
}
