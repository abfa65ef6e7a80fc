package bar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/meigma/bar/internal/platform"
)

// BuildDir builds an archive from the contents of dir and writes it to w.
//
// Directories (including empty ones) and regular files are added in
// lexical order; symbolic links and special files are skipped. Every entry
// records its modification time, which RevisionTimestamp archives keep.
//
// If dir contains a ManifestName sidecar at its top level, its notes, used
// flags and per-entry compression are applied, and its name and
// compression become the archive name and default method. The archive is
// otherwise named after dir. opts are applied after the manifest and so
// take precedence. The sidecar itself is not archived.
func BuildDir(ctx context.Context, w io.Writer, dir string, opts ...BuildOption) (*Summary, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	m, err := readManifest(root)
	if err != nil {
		return nil, err
	}
	tree, err := treeFromRoot(ctx, root, m)
	if err != nil {
		return nil, err
	}

	meta := Meta{Name: m.Name, Note: m.Note, Used: m.Used}
	if meta.Name == "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, err
		}
		meta.Name = filepath.Base(abs)
	}
	pre := []BuildOption{BuildWithArchiveMeta(meta)}
	if def, _ := m.method(); def != nil {
		pre = append(pre, BuildWithCompression(*def))
	}
	return Build(ctx, w, tree, append(pre, opts...)...)
}

// readManifest loads the sidecar at the top of root, or an empty manifest
// if there is none.
func readManifest(root *os.Root) (*Manifest, error) {
	f, err := platform.OpenFileNoFollow(root, ManifestName)
	if errors.Is(err, fs.ErrNotExist) {
		return &Manifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bar: open manifest: %w", err)
	}
	defer f.Close()
	return LoadManifest(f)
}

// treeFromRoot mirrors the directory tree under root.
func treeFromRoot(ctx context.Context, root *os.Root, m *Manifest) (*Tree, error) {
	tree := NewTree()
	err := fs.WalkDir(root.FS(), ".", func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == "." || p == ManifestName {
			return nil
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		parent, name := path.Split(p)
		meta := Meta{Name: name, LastUpdate: info.ModTime()}
		e, _ := m.Entry(p)
		meta.Note, meta.Used = e.Note, e.Used

		if d.IsDir() {
			return tree.Insert(parent, NewDirectory(meta))
		}
		override, err := e.method(p)
		if err != nil {
			return err
		}
		var fopts []FileOption
		if override != nil {
			fopts = append(fopts, FileWithMethod(*override))
		}
		return tree.Insert(parent, NewFile(meta, rootContent(root, p), fopts...))
	})
	if err != nil {
		return nil, err
	}
	return tree, nil
}

// rootContent reads p from root, refusing to follow a symlink swapped in
// after the walk.
func rootContent(root *os.Root, p string) Content {
	return ContentFunc(func() (io.ReadCloser, error) {
		return platform.OpenFileNoFollow(root, filepath.FromSlash(p))
	})
}
