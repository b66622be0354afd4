package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/varfish-case-importer/internal/domain"
)

type localBackend struct {
	fs     afero.Fs
	prefix string
}

func newLocalBackend(opts Options, _ *logrus.Logger) (backend, error) {
	if !opts.AllowLocal {
		return nil, domain.ErrLocalNotAllowed
	}
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	prefix := ""
	if opts.Prefix != "" {
		prefix = filepath.Clean(opts.Prefix)
	}
	return &localBackend{fs: fs, prefix: prefix}, nil
}

// resolve normalizes path and checks it against the prefix. Absolute paths are
// taken as is, relative paths are interpreted below the prefix.
func (b *localBackend) resolve(path string) (string, error) {
	path = strings.TrimPrefix(path, "file://")
	if b.prefix == "" {
		return filepath.Clean(path), nil
	}

	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Join(b.prefix, path)
	}

	rel, err := filepath.Rel(b.prefix, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s outside of %s: %w", path, b.prefix, domain.ErrPathEscape)
	}
	return resolved, nil
}

func (b *localBackend) openRead(_ context.Context, path string) (io.ReadCloser, error) {
	resolved, err := b.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := b.fs.Open(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", resolved, domain.ErrNotFound)
		}
		return nil, err
	}
	return f, nil
}

func (b *localBackend) openWrite(_ context.Context, path string) (io.WriteCloser, error) {
	resolved, err := b.resolve(path)
	if err != nil {
		return nil, err
	}
	if err := b.fs.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, err
	}
	return b.fs.OpenFile(resolved, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}
