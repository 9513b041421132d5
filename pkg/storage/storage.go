// Package storage persists crop payloads.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/menta2k/unified-cropper/internal/utils"
	"github.com/menta2k/unified-cropper/pkg/client"
)

// Dir writes each crop as a file in a directory.
type Dir struct {
	dir    string
	logger *slog.Logger
}

var _ client.Storage = (*Dir)(nil)

// NewDir creates the directory if needed and returns a store writing to it.
func NewDir(dir string, logger *slog.Logger) (*Dir, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := utils.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &Dir{dir: dir, logger: logger}, nil
}

// Save writes data under suggestedName and returns the file path. An existing
// file with the same name is never overwritten; a -N suffix is added instead.
func (d *Dir) Save(ctx context.Context, data []byte, suggestedName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := utils.SanitizeFilename(suggestedName)
	if name == "" {
		return "", errors.New("empty file name")
	}
	path := utils.UniquePath(d.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	d.logger.Debug("crop saved", "path", path, "size", utils.FormatFileSize(int64(len(data))))
	return path, nil
}
