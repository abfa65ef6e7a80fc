package bar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/meigma/bar/internal/platform"
)

// UnpackTo extracts every entry into a new directory named after the
// archive inside dir, and writes a ManifestName sidecar there recording
// notes, used flags and compression methods. BuildDir on the result
// reproduces the archive's tree and metadata.
//
// Existing files at the destination are overwritten; symlinks are never
// followed.
func (h *Handle) UnpackTo(ctx context.Context, dir string) error {
	name := h.header.Meta.Name
	if err := validateName(name); err != nil || name == ManifestName {
		return formatErr("unpack", "", "name", ErrInvalidName, "archive name %q", name)
	}
	if _, ok := h.header.Root.Child(ManifestName); ok {
		return formatErr("unpack", ManifestName, "name", ErrNameCollision, "entry shadows the sidecar")
	}
	target := filepath.Join(dir, name)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return err
	}
	root, err := os.OpenRoot(target)
	if err != nil {
		return err
	}
	defer root.Close()

	total := 0
	for range h.tree.FilePaths() {
		total++
	}
	done := 0

	m := &Manifest{
		Name: name,
		Note: h.header.Meta.Note,
		Used: h.header.Meta.Used,
	}
	for p, e := range h.tree.Walk() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fsPath := filepath.FromSlash(p)
		entry := ManifestEntry{Note: e.Metadata().Note, Used: e.Metadata().Used}
		switch e := e.(type) {
		case *Directory:
			if err := root.Mkdir(fsPath, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
				return err
			}
		case *File:
			if err := h.unpackFile(root, p, e); err != nil {
				return err
			}
			done++
			h.progress.report(ProgressEvent{Stage: StageExtracting, Path: p, FilesDone: done, FilesTotal: total})
			if !e.Method.IsNone() {
				entry.Compression = e.Method.String()
			}
		}
		m.set(p, entry)
	}

	if err := writeManifest(root, m); err != nil {
		return err
	}
	if err := h.restoreTimes(root); err != nil {
		return err
	}
	h.log().Info("archive unpacked", "name", name, "dir", target)
	return nil
}

func (h *Handle) unpackFile(root *os.Root, p string, f *File) error {
	src, err := h.openEntry(p, f)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := platform.CreateFileNoFollow(root, filepath.FromSlash(p), 0o644)
	if err != nil {
		return fmt.Errorf("bar: unpack %q: %w", p, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func writeManifest(root *os.Root, m *Manifest) error {
	f, err := platform.CreateFileNoFollow(root, ManifestName, 0o644)
	if err != nil {
		return fmt.Errorf("bar: write manifest: %w", err)
	}
	if err := m.Encode(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// restoreTimes applies recorded modification times once all content is
// written, so creating children does not disturb directory times.
func (h *Handle) restoreTimes(root *os.Root) error {
	for p, e := range h.tree.Walk() {
		t := e.Metadata().LastUpdate
		if t.IsZero() {
			continue
		}
		if err := root.Chtimes(filepath.FromSlash(p), t, t); err != nil {
			return err
		}
	}
	return nil
}
