//go:build !unix

// Package platform opens files under an os.Root without following symlinks.
package platform

import (
	"errors"
	"io/fs"
	"os"
)

// ErrSymlink is returned when attempting to open a symbolic link.
var ErrSymlink = errors.New("symbolic links not supported")

// OpenFileNoFollow opens a file for reading without following symlinks.
// Returns ErrSymlink if the path is a symbolic link.
func OpenFileNoFollow(root *os.Root, name string) (*os.File, error) {
	if err := rejectSymlink(root, name); err != nil {
		return nil, err
	}
	return root.Open(name)
}

// CreateFileNoFollow creates or truncates a file for writing without
// following symlinks. Returns ErrSymlink if the path is a symbolic link.
func CreateFileNoFollow(root *os.Root, name string, perm fs.FileMode) (*os.File, error) {
	if err := rejectSymlink(root, name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
}

func rejectSymlink(root *os.Root, name string) error {
	info, err := root.Lstat(name)
	if err != nil {
		return err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return ErrSymlink
	}
	return nil
}
