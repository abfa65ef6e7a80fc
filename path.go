package bar

import (
	"strings"
	"unicode/utf8"
)

// MaxNameLength is the longest entry name, in bytes, that an archive accepts.
const MaxNameLength = 255

// rootName is the name every archive gives its root directory.
const rootName = "/"

// NormalizePath converts a user-provided archive path to canonical form.
//
// It performs the following transformations:
//   - Strips leading slashes: "/men at work" → "men at work"
//   - Strips trailing slashes: "men at work/" → "men at work"
//   - Collapses consecutive slashes: "a//b" → "a/b"
//   - Converts "/" to the root path ""
//
// "." and ".." segments are not resolved; no entry can carry those names.
func NormalizePath(p string) string {
	return strings.Join(splitPath(p), "/")
}

// splitPath returns the non-empty segments of p.
func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	parts := strings.Split(p, "/")
	result := parts[:0]
	for _, part := range parts {
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}

// joinPath appends name to the directory path dir.
func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// validateName reports whether name can label an entry.
func validateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return ErrInvalidName
	case len(name) > MaxNameLength:
		return ErrInvalidName
	case strings.ContainsRune(name, '/'):
		return ErrInvalidName
	case !utf8.ValidString(name):
		return ErrInvalidName
	}
	return nil
}
