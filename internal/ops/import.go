package ops

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/canopy/internal/errors"
	"github.com/hpungsan/canopy/internal/tree"
)

// Import limits.
const (
	MaxImportFiles    = 100
	MaxImportFileSize = 5 << 20
	importReaders     = 8
)

// ImportFile is a local file's name and text content.
type ImportFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// ImportFiles adds each file as a new root-level node, in order. Existing
// files with the same name are left alone; duplicates are allowed.
func ImportFiles(t *tree.Tree, files []ImportFile) (*tree.Tree, []string) {
	ids := make([]string, 0, len(files))
	for _, f := range files {
		var id string
		t, id = t.AddFile(f.Name, f.Content, tree.RootID)
		ids = append(ids, id)
	}
	return t, ids
}

// ReadImportFiles reads local files concurrently, preserving the order of
// paths. Names are base names. Symlinks, oversized and non-UTF-8 files are
// rejected and the whole batch fails.
func ReadImportFiles(ctx context.Context, paths []string) ([]ImportFile, error) {
	if len(paths) == 0 {
		return nil, errors.NewInvalidRequest("no files to import")
	}
	if len(paths) > MaxImportFiles {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("too many files: %d (max %d)", len(paths), MaxImportFiles))
	}

	files := make([]ImportFile, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(importReaders)
	for i, p := range paths {
		g.Go(func() error {
			if ctx.Err() != nil {
				return errors.NewCancelled("import")
			}
			content, err := readTextFile(p)
			if err != nil {
				return err
			}
			files[i] = ImportFile{Name: filepath.Base(p), Content: content}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

func readTextFile(path string) (string, error) {
	f, err := openFileNoFollowRead(path)
	if err != nil {
		if _, ok := err.(*errors.CanopyError); ok {
			return "", err
		}
		return "", errors.NewInternal(fmt.Errorf("failed to open %s: %w", path, err))
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxImportFileSize+1))
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to read %s: %w", path, err))
	}
	if len(data) > MaxImportFileSize {
		return "", errors.NewInvalidRequest(fmt.Sprintf("%s exceeds %d bytes", filepath.Base(path), MaxImportFileSize))
	}
	if !utf8.Valid(data) {
		return "", errors.NewInvalidRequest(fmt.Sprintf("%s is not a text file", filepath.Base(path)))
	}
	return string(data), nil
}
