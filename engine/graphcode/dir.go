package graphcode

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/WessleyAI/safety-workbench/pkg/fn"
	"golang.org/x/sync/errgroup"
)

// WriteDir writes snap as a tree under root using up to workers concurrent
// writers. The nodes/ and relationships/ subtrees are replaced; nothing else
// under root is touched. The manifest is written last.
func WriteDir(ctx context.Context, root string, snap Snapshot, workers int) error {
	files, err := Files(snap)
	if err != nil {
		return err
	}
	for _, sub := range []string{NodesDir, RelsDir} {
		if err := os.RemoveAll(filepath.Join(root, sub)); err != nil {
			return fmt.Errorf("clear %s: %w", sub, err)
		}
	}

	dirs := map[string]struct{}{}
	for _, f := range files {
		dirs[path.Dir(f.Path)] = struct{}{}
	}
	for d := range dirs {
		if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(d)), 0o755); err != nil {
			return err
		}
	}

	manifest, body := files[0], files[1:]
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for _, f := range body {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return os.WriteFile(filepath.Join(root, filepath.FromSlash(f.Path)), f.Data, 0o644)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("write tree: %w", err)
	}
	return os.WriteFile(filepath.Join(root, ManifestFile), manifest.Data, 0o644)
}

// ReadDir loads the tree under root. Missing nodes/ or relationships/
// directories read as empty.
func ReadDir(ctx context.Context, root string, workers int) (Snapshot, error) {
	paths := []string{ManifestFile}
	for _, sub := range []string{NodesDir, RelsDir} {
		err := filepath.WalkDir(filepath.Join(root, sub), func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() || filepath.Ext(p) != ".json" {
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			paths = append(paths, filepath.ToSlash(rel))
			return nil
		})
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Snapshot{}, fmt.Errorf("walk %s: %w", sub, err)
		}
	}

	read := fn.ParMapResult(paths, workers, func(p string) fn.Result[File] {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(p)))
		if err != nil {
			if p == ManifestFile && errors.Is(err, fs.ErrNotExist) {
				return fn.Err[File](fmt.Errorf("%w: missing %s", ErrInvalidSnapshot, ManifestFile))
			}
			return fn.Err[File](err)
		}
		return fn.Ok(File{Path: p, Data: data})
	})
	files, err := fn.Collect(read).Unwrap()
	if err != nil {
		return Snapshot{}, err
	}
	return FromFiles(files, workers)
}
