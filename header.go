package bar

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Header is the decoded form of an archive header: the archive metadata, the
// nonce counter of the encrypted revision and the directory tree.
//
// Encoded header layout (CBOR, integer map keys):
//
//	header    = [meta, directory]                  ; RevisionTimestamp
//	header    = [meta, counter, directory]         ; RevisionEncrypted
//	counter   = bstr .size 12                      ; epoch(4) || next(8), big-endian
//	directory = [meta, [* entry]]
//	entry     = [true, file] / [false, directory]
//	file      = {5: offset, 6: size, 2: meta, ? 9: method}
//	meta      = {1: name, ? 0: note, ? 8: used, ? 7: lastupdate / nonce}
type Header struct {
	Meta  Meta
	Nonce *NonceCounter // RevisionEncrypted only
	Root  *Directory
}

// MaxDepth is the deepest entry path, in segments, that an archive holds.
// Build rejects deeper trees and decoding rejects deeper headers.
const MaxDepth = 1024

// maxNestedLevels is the CBOR nesting an entry at MaxDepth needs: three
// levels per path segment (entry pair, body, children or meta) plus the
// header array, the root directory and its children, and a time tag.
const maxNestedLevels = 3*MaxDepth + 4

var (
	headerModesOnce sync.Once
	headerEnc       cbor.EncMode
	headerDec       cbor.DecMode
	headerModeErr   error
)

// headerModes builds the shared CBOR modes on first use.
func headerModes() (cbor.EncMode, cbor.DecMode, error) {
	headerModesOnce.Do(func() {
		headerEnc, headerModeErr = cbor.EncOptions{
			Sort:    cbor.SortCoreDeterministic,
			Time:    cbor.TimeUnix,
			TimeTag: cbor.EncTagRequired,
		}.EncMode()
		if headerModeErr != nil {
			return
		}
		headerDec, headerModeErr = cbor.DecOptions{
			DupMapKey:        cbor.DupMapKeyEnforcedAPF,
			IndefLength:      cbor.IndefLengthForbidden,
			MaxNestedLevels:  maxNestedLevels,
			MaxArrayElements: math.MaxInt32,
			MaxMapPairs:      math.MaxInt32,
		}.DecMode()
	})
	return headerEnc, headerDec, headerModeErr
}

// Marshal encodes h in the layout of rev.
func (h *Header) Marshal(rev Revision) ([]byte, error) {
	if !rev.valid() {
		return nil, formatErr("encode", "", "revision", ErrUnknownTag, "%s", rev)
	}
	if h.Root == nil {
		return nil, formatErr("encode", "", "root", ErrMissingField)
	}
	enc, _, err := headerModes()
	if err != nil {
		return nil, err
	}

	meta, err := encodeMeta(h.Meta, rev, "")
	if err != nil {
		return nil, err
	}
	if err := fileOnlyNonce(h.Meta, "encode", "", "archive"); err != nil {
		return nil, err
	}
	root, err := encodeDir(h.Root, rev, "", 0)
	if err != nil {
		return nil, err
	}

	var doc []any
	switch rev {
	case RevisionTimestamp:
		if h.Nonce != nil {
			return nil, formatErr("encode", "", "nonce_counter", ErrRevisionMismatch, "nonce counter in %s revision", rev)
		}
		doc = []any{meta, root}
	case RevisionEncrypted:
		if h.Nonce == nil {
			return nil, formatErr("encode", "", "nonce_counter", ErrMissingField)
		}
		counter, err := h.Nonce.MarshalBinary()
		if err != nil {
			return nil, err
		}
		doc = []any{meta, counter, root}
	}

	b, err := enc.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	return b, nil
}

func encodeDir(d *Directory, rev Revision, path string, depth int) ([]any, error) {
	meta, err := encodeMeta(d.Meta, rev, path)
	if err != nil {
		return nil, err
	}
	if err := fileOnlyNonce(d.Meta, "encode", path, "directory"); err != nil {
		return nil, err
	}
	if len(d.children) > 0 && depth >= MaxDepth {
		return nil, depthErr("encode", joinPath(path, d.children[0].Metadata().Name))
	}
	entries := make([]any, 0, len(d.children))
	for _, e := range d.children {
		p := joinPath(path, e.Metadata().Name)
		switch e := e.(type) {
		case *File:
			body, err := encodeFile(e, rev, p)
			if err != nil {
				return nil, err
			}
			entries = append(entries, []any{true, body})
		case *Directory:
			body, err := encodeDir(e, rev, p, depth+1)
			if err != nil {
				return nil, err
			}
			entries = append(entries, []any{false, body})
		}
	}
	return []any{meta, entries}, nil
}

func encodeFile(f *File, rev Revision, path string) (map[uint64]any, error) {
	if rev == RevisionEncrypted && f.Meta.Nonce == nil {
		return nil, formatErr("encode", path, "enc", ErrMissingField)
	}
	if err := f.Method.Validate(); err != nil {
		return nil, formatErr("encode", path, "compress_method", ErrUnknownTag, "%v", err)
	}
	meta, err := encodeMeta(f.Meta, rev, path)
	if err != nil {
		return nil, err
	}
	body := map[uint64]any{
		keyOffset: f.Offset,
		keySize:   f.Size,
		keyMeta:   meta,
	}
	if !f.Method.IsNone() {
		body[keyCompressMethod] = f.Method.String()
	}
	return body, nil
}

// UnmarshalHeader decodes a header written by (*Header).Marshal with the
// same revision.
func UnmarshalHeader(b []byte, rev Revision) (*Header, error) {
	if !rev.valid() {
		return nil, formatErr("decode", "", "revision", ErrUnknownTag, "%s", rev)
	}
	_, dec, err := headerModes()
	if err != nil {
		return nil, err
	}

	var doc any
	if err := dec.Unmarshal(b, &doc); err != nil {
		return nil, decodeErr(err)
	}
	arr, ok := doc.([]any)
	if !ok {
		return nil, formatErr("decode", "", "header", ErrTypeMismatch, "got %s, want array", typeName(doc))
	}

	want := 2
	if rev == RevisionEncrypted {
		want = 3
	}
	if len(arr) != want {
		return nil, formatErr("decode", "", "header", ErrRevisionMismatch,
			"%d top-level fields, %s revision has %d", len(arr), rev, want)
	}

	h := &Header{}
	if h.Meta, err = decodeMeta(arr[0], rev, ""); err != nil {
		return nil, err
	}
	if err := fileOnlyNonce(h.Meta, "decode", "", "archive"); err != nil {
		return nil, err
	}
	if rev == RevisionEncrypted {
		raw, ok := arr[1].([]byte)
		if !ok {
			return nil, formatErr("decode", "", "nonce_counter", ErrTypeMismatch, "got %s, want bytes", typeName(arr[1]))
		}
		h.Nonce = &NonceCounter{}
		if err := h.Nonce.UnmarshalBinary(raw); err != nil {
			return nil, &FormatError{Op: "decode", Field: "nonce_counter", Err: err}
		}
	}
	if h.Root, err = decodeDir(arr[len(arr)-1], rev, "", 0); err != nil {
		return nil, err
	}
	if h.Root.Meta.Name != rootName {
		return nil, formatErr("decode", "", "name", ErrCorruptData, "root named %q", h.Root.Meta.Name)
	}
	return h, nil
}

func decodeDir(v any, rev Revision, path string, depth int) (*Directory, error) {
	arr, ok := v.([]any)
	if !ok || len(arr) != 2 {
		return nil, formatErr("decode", path, "dir", ErrTypeMismatch, "got %s, want [meta, entries]", typeName(v))
	}
	meta, err := decodeMeta(arr[0], rev, path)
	if err != nil {
		return nil, err
	}
	if err := fileOnlyNonce(meta, "decode", path, "directory"); err != nil {
		return nil, err
	}
	items, ok := arr[1].([]any)
	if !ok {
		return nil, formatErr("decode", path, "dir", ErrTypeMismatch, "entries are %s, want array", typeName(arr[1]))
	}
	if len(items) > 0 && depth >= MaxDepth {
		return nil, depthErr("decode", path)
	}

	d := NewDirectory(meta)
	for i, item := range items {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			return nil, formatErr("decode", path, "entry", ErrTypeMismatch, "entry %d is not [kind, body]", i)
		}
		isFile, ok := pair[0].(bool)
		if !ok {
			return nil, formatErr("decode", path, "entry", ErrUnknownTag, "entry %d discriminator %v", i, pair[0])
		}

		var e Entry
		if isFile {
			e, err = decodeFile(pair[1], rev, path)
		} else {
			e, err = decodeDir(pair[1], rev, joinPath(path, childName(pair[1])), depth+1)
		}
		if err != nil {
			return nil, err
		}
		if err := d.Add(e); err != nil {
			return nil, withPath(err, joinPath(path, e.Metadata().Name))
		}
	}
	return d, nil
}

func decodeFile(v any, rev Revision, dir string) (*File, error) {
	body, ok := v.(map[any]any)
	if !ok {
		return nil, formatErr("decode", dir, "file", ErrTypeMismatch, "got %s, want map", typeName(v))
	}
	path := dir
	if m, ok := body[keyMeta]; ok {
		path = joinPath(dir, metaName(m))
	}

	f := &File{}
	var hasOffset, hasSize, hasMeta bool
	for k, val := range body {
		key, ok := k.(uint64)
		if !ok {
			return nil, formatErr("decode", path, "file", ErrUnknownTag, "key %v", k)
		}
		switch key {
		case keyOffset:
			off, ok := val.(uint64)
			if !ok {
				return nil, formatErr("decode", path, "offset", ErrTypeMismatch, "got %s, want uint", typeName(val))
			}
			f.Offset, hasOffset = off, true
		case keySize:
			size, ok := val.(uint64)
			if !ok || size > math.MaxUint32 {
				return nil, formatErr("decode", path, "size", ErrTypeMismatch, "got %v, want uint32", val)
			}
			f.Size, hasSize = uint32(size), true
		case keyMeta:
			meta, err := decodeMeta(val, rev, path)
			if err != nil {
				return nil, err
			}
			f.Meta, hasMeta = meta, true
		case keyCompressMethod:
			s, ok := val.(string)
			if !ok {
				return nil, formatErr("decode", path, "compress_method", ErrTypeMismatch, "got %s, want string", typeName(val))
			}
			m, err := ParseMethod(s)
			if err != nil {
				return nil, withPath(err, path)
			}
			f.Method = m
		default:
			return nil, formatErr("decode", path, "file", ErrUnknownTag, "key %d", key)
		}
	}

	switch {
	case !hasMeta:
		return nil, formatErr("decode", path, "meta", ErrMissingField)
	case !hasOffset:
		return nil, formatErr("decode", path, "offset", ErrMissingField)
	case !hasSize:
		return nil, formatErr("decode", path, "size", ErrMissingField)
	case rev == RevisionEncrypted && f.Meta.Nonce == nil:
		return nil, formatErr("decode", path, "enc", ErrMissingField)
	}
	return f, nil
}

// fileOnlyNonce rejects a nonce on the archive or a directory; only files
// are encrypted.
func fileOnlyNonce(m Meta, op, path, what string) error {
	if m.Nonce != nil {
		return formatErr(op, path, "enc", ErrUnknownTag, "nonce on %s", what)
	}
	return nil
}

// depthErr reports an entry below MaxDepth.
func depthErr(op, path string) error {
	return formatErr(op, path, "depth", ErrSizeOverflow, "deeper than %d levels", MaxDepth)
}

// childName extracts a directory's name for error paths, ignoring shape errors.
func childName(v any) string {
	if arr, ok := v.([]any); ok && len(arr) > 0 {
		return metaName(arr[0])
	}
	return ""
}

func metaName(v any) string {
	if rec, ok := v.(map[any]any); ok {
		if s, ok := rec[keyName].(string); ok {
			return s
		}
	}
	return ""
}

// decodeErr maps CBOR decoding failures onto the format error taxonomy.
func decodeErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return formatErr("decode", "", "header", ErrTruncated, "%v", err)
	}
	return formatErr("decode", "", "header", ErrCorruptData, "%v", err)
}

// typeName describes a decoded CBOR value for error messages.
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case uint64, int64:
		return "int"
	case string:
		return "string"
	case []byte:
		return "bytes"
	case []any:
		return "array"
	case map[any]any:
		return "map"
	default:
		return fmt.Sprintf("%T", v)
	}
}
