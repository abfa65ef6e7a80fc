//go:build unix

// Package platform opens files under an os.Root without following symlinks.
package platform

import (
	"errors"
	"io/fs"
	"os"
	"syscall"
)

// ErrSymlink is returned when attempting to open a symbolic link.
var ErrSymlink = errors.New("symbolic links not supported")

// OpenFileNoFollow opens a file for reading without following symlinks.
// Returns ErrSymlink if the path is a symbolic link.
func OpenFileNoFollow(root *os.Root, name string) (*os.File, error) {
	return openNoFollow(root, name, os.O_RDONLY, 0)
}

// CreateFileNoFollow creates or truncates a file for writing without
// following symlinks. Returns ErrSymlink if the path is a symbolic link.
func CreateFileNoFollow(root *os.Root, name string, perm fs.FileMode) (*os.File, error) {
	return openNoFollow(root, name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
}

func openNoFollow(root *os.Root, name string, flag int, perm fs.FileMode) (*os.File, error) {
	f, err := root.OpenFile(name, flag|syscall.O_NOFOLLOW, perm)
	if err != nil {
		if errors.Is(err, syscall.ELOOP) {
			return nil, ErrSymlink
		}
		return nil, err
	}
	return f, nil
}
