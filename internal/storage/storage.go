// Package storage gives uniform streaming access to the local file system,
// HTTP(S) servers and S3 compatible object stores.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/varfish-case-importer/internal/domain"
)

// Protocol selects the storage backend.
type Protocol string

const (
	ProtocolFile  Protocol = "file"
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
	ProtocolS3    Protocol = "s3"
)

// IsKnown reports whether a backend exists for the protocol.
func (p Protocol) IsKnown() bool {
	_, ok := backends[p]
	return ok
}

// Options configures one file system instance.
type Options struct {
	Protocol Protocol
	Host     string
	Port     int
	User     string
	Password string
	UseHTTPS bool
	Region   string
	// PartSize is the multipart chunk of S3 uploads of unknown length.
	PartSize uint64

	// Prefix confines local paths to a directory.
	Prefix string
	// AllowLocal must be set for the file protocol to be usable.
	AllowLocal bool
	// Fs backs the file protocol; defaults to the OS file system.
	Fs afero.Fs

	HTTPRateLimit   float64
	HTTPTimeout     time.Duration
	BreakerFailures uint32
}

// backend is implemented by every storage protocol.
type backend interface {
	openRead(ctx context.Context, path string) (io.ReadCloser, error)
	openWrite(ctx context.Context, path string) (io.WriteCloser, error)
}

type backendFactory func(opts Options, logger *logrus.Logger) (backend, error)

var backends = map[Protocol]backendFactory{
	ProtocolFile:  newLocalBackend,
	ProtocolHTTP:  newHTTPBackend,
	ProtocolHTTPS: newHTTPBackend,
	ProtocolS3:    newS3Backend,
}

// FileSystem opens streams on the configured backend.
type FileSystem struct {
	opts    Options
	backend backend
	log     *logrus.Logger
}

// New creates a FileSystem for the given options.
func New(opts Options, logger *logrus.Logger) (*FileSystem, error) {
	factory, ok := backends[opts.Protocol]
	if !ok {
		return nil, fmt.Errorf("protocol %q: %w", opts.Protocol, domain.ErrUnsupportedProtocol)
	}
	b, err := factory(opts, logger)
	if err != nil {
		return nil, err
	}
	return &FileSystem{opts: opts, backend: b, log: logger}, nil
}

// Protocol returns the configured protocol.
func (fs *FileSystem) Protocol() Protocol {
	return fs.opts.Protocol
}

// OpenRead opens path for reading. The caller must close the reader.
func (fs *FileSystem) OpenRead(ctx context.Context, path string) (io.ReadCloser, error) {
	r, err := fs.backend.openRead(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("opening %s for reading: %w", path, err)
	}
	return r, nil
}

// OpenWrite opens path for writing. Data is only guaranteed to be stored once
// Close returned without error.
func (fs *FileSystem) OpenWrite(ctx context.Context, path string) (io.WriteCloser, error) {
	w, err := fs.backend.openWrite(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("opening %s for writing: %w", path, err)
	}
	return w, nil
}

// WithReader opens path, passes the stream to fn and closes it on all exits.
func (fs *FileSystem) WithReader(ctx context.Context, path string, fn func(io.Reader) error) error {
	r, err := fs.OpenRead(ctx, path)
	if err != nil {
		return err
	}
	defer r.Close()
	return fn(r)
}

// Copy streams srcPath on src to dstPath on dst and returns the number of bytes copied.
func Copy(ctx context.Context, src *FileSystem, srcPath string, dst *FileSystem, dstPath string) (int64, error) {
	r, err := src.OpenRead(ctx, srcPath)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	w, err := dst.OpenWrite(ctx, dstPath)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(w, r)
	if err != nil {
		if cw, ok := w.(interface{ CloseWithError(error) error }); ok {
			_ = cw.CloseWithError(err)
		} else {
			_ = w.Close()
		}
		return n, fmt.Errorf("copying %s to %s: %w", srcPath, dstPath, err)
	}
	if err := w.Close(); err != nil {
		return n, fmt.Errorf("finishing %s: %w", dstPath, err)
	}

	src.log.WithFields(logrus.Fields{
		"src":   srcPath,
		"dst":   dstPath,
		"bytes": n,
	}).Debug("Copied file")
	return n, nil
}
