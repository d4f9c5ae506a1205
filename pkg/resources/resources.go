// Package resources keeps rendered artifacts on disk so they are built once
// and then served as static files.
package resources

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Builder writes the resource into f. It is only called when the file
// does not exist yet.
type Builder func(ctx context.Context, f *os.File) error

type Resource struct {
	id      string
	dir     string
	prefix  string
	suffix  string
	_type   string
	builder Builder
}

// SessionTrace describes the cached trace image of one ended session.
func SessionTrace(dir, sessionID string, builder Builder) Resource {
	return Resource{
		id:      sessionID,
		dir:     dir,
		prefix:  "trace_",
		suffix:  ".svg",
		_type:   "svg-trace",
		builder: builder,
	}
}

func (r Resource) IsZero() bool {
	return r.id == ""
}

func (r Resource) String() string {
	return fmt.Sprintf("ID: %s, Type: %s", r.id, r._type)
}

func (r Resource) FileName() string {
	return fmt.Sprintf("%s%s%s", r.prefix, r.id, r.suffix)
}

func (r Resource) FilePath() string {
	return filepath.Join(r.dir, r.FileName())
}

// Build makes sure the file exists and returns its path. A concurrent build
// of the same resource is harmless: each writes a temporary file and the last
// rename wins.
func (r Resource) Build(ctx context.Context, logger *slog.Logger) (string, error) {
	if r.IsZero() {
		return "", errors.New("resource id cannot be empty")
	}
	filePath := r.FilePath()
	if _, err := os.Stat(filePath); err == nil {
		logger.Debug("resource already built", "resource", r.String())
		return filePath, nil
	} else if !os.IsNotExist(err) {
		return "", errors.Wrapf(err, "checking %s", filePath)
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", errors.Wrap(err, "creating resources dir")
	}
	tmp, err := os.CreateTemp(r.dir, r.FileName()+".*.tmp")
	if err != nil {
		return "", errors.Wrap(err, "creating temporary resource")
	}
	defer os.Remove(tmp.Name())

	if err := r.builder(ctx, tmp); err != nil {
		tmp.Close()
		return "", errors.Wrapf(err, "building %s", r.String())
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return "", errors.Wrap(err, "publishing resource")
	}
	logger.Info("resource built", "resource", r.String(), "path", filePath)
	return filePath, nil
}
