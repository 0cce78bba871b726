package ops

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hpungsan/canopy/internal/config"
	"github.com/hpungsan/canopy/internal/errors"
	"github.com/hpungsan/canopy/internal/tree"
)

// MaxBackupSize bounds a backup accepted by RestoreTree.
const MaxBackupSize = 64 << 20

// ExportInput contains parameters for ExportTree.
type ExportInput struct {
	Path string // optional, default: ~/.canopy/exports/<project>-<timestamp>.json
}

// ExportOutput contains the result of ExportTree.
type ExportOutput struct {
	Path       string `json:"path"`
	Nodes      int    `json:"nodes"`
	ExportedAt int64  `json:"exported_at"`
}

// ExportTree writes t as a JSON backup. The document is written to a temp
// file in the destination directory and renamed into place, so an existing
// backup survives a failed export.
func ExportTree(ctx context.Context, t *tree.Tree, cfg *config.Config, input ExportInput) (*ExportOutput, error) {
	now := time.Now()

	exportPath := input.Path
	if exportPath == "" {
		dir, err := DefaultExportsDir()
		if err != nil {
			return nil, err
		}
		exportPath = filepath.Join(dir, defaultExportName(t, now))
	}
	if err := ValidatePath(exportPath, PathCheckWrite, cfg); err != nil {
		return nil, err
	}

	data, err := tree.Encode(t)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if ctx.Err() != nil {
		return nil, errors.NewCancelled("export")
	}

	if err := os.MkdirAll(filepath.Dir(exportPath), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}
	if err := writeAtomic(exportPath, data); err != nil {
		return nil, err
	}

	return &ExportOutput{Path: exportPath, Nodes: t.Len(), ExportedAt: now.Unix()}, nil
}

// WritePreview writes a composed document to path. The path is checked
// like an export path but must end in .html.
func WritePreview(p *Preview, path string, cfg *config.Config) error {
	if err := ValidatePreviewPath(path, cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to create preview directory: %w", err))
	}
	return writeAtomic(path, []byte(p.Document))
}

// writeAtomic writes data to path via a sibling temp file and rename.
func writeAtomic(path string, data []byte) error {
	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(suffix) + ".tmp"

	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}
	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := file.Write(data); err != nil {
		return errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return errors.NewInternal(err)
	}
	// Windows cannot rename an open file
	if err := file.Close(); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	if isSymlink(path) {
		return errors.NewInvalidRequest("export path is a symlink")
	}
	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return errors.NewInvalidRequest("export destination already exists; choose a new path or delete the existing file")
			}
		}
		return errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return nil
}

func defaultExportName(t *tree.Tree, now time.Time) string {
	name := "workspace"
	if root := t.Root(); root != nil && root.Name != "" {
		name = SanitizeForFilename(root.Name)
	}
	return fmt.Sprintf("%s-%s%s", name, now.Format("2006-01-02T150405"), BackupExt)
}

// ExportFile returns the raw bytes and name of a single file node.
func ExportFile(t *tree.Tree, id string) ([]byte, string, error) {
	n := t.File(id)
	if n == nil {
		return nil, "", errors.NewNotFound(id)
	}
	return []byte(n.Content), n.Name, nil
}

// RestoreTree reads and validates a backup written by ExportTree.
func RestoreTree(cfg *config.Config, path string) (*tree.Tree, error) {
	if err := ValidatePath(path, PathCheckRead, cfg); err != nil {
		return nil, err
	}

	f, err := openFileNoFollowRead(path)
	if err != nil {
		if _, ok := err.(*errors.CanopyError); ok {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open backup: %w", err))
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxBackupSize+1))
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if len(data) > MaxBackupSize {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("backup exceeds %d bytes", MaxBackupSize))
	}

	t, err := tree.Decode(data)
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid backup: %v", err))
	}
	return t, nil
}
