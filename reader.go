package bar

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"slices"

	"github.com/meigma/bar/internal/codec"
	"github.com/meigma/bar/internal/seal"
	"github.com/meigma/bar/internal/sizing"
)

// EntryInfo summarizes an archive entry for listing.
type EntryInfo struct {
	Name string
	Path string // "" for the root
	Kind Kind
	Meta Meta

	// Files only.
	Offset uint64
	Size   uint32
	Method Method

	// Directories only.
	Children int
}

// IsDir reports whether the entry is a directory.
func (e EntryInfo) IsDir() bool { return e.Kind == KindDir }

func newEntryInfo(path string, e Entry) EntryInfo {
	info := EntryInfo{
		Name: e.Metadata().Name,
		Path: path,
		Kind: e.Kind(),
		Meta: e.Metadata().clone(),
	}
	switch e := e.(type) {
	case *File:
		info.Offset = e.Offset
		info.Size = e.Size
		info.Method = e.Method
	case *Directory:
		info.Children = e.Len()
	}
	return info
}

// Handle is an opened archive.
//
// The decoded header is immutable after Open, so a Handle is safe for
// concurrent use. Handles opened with OpenFile must be closed.
type Handle struct {
	src      ByteSource
	closer   io.Closer
	header   *Header
	tree     *Tree
	dataSize uint64
	cipher   *seal.Cipher
	decoders *codec.DecoderPool

	revision         Revision
	key              []byte
	maxHeaderSize    uint64
	maxFileSize      uint64
	maxDecoderMemory uint64
	logger           *slog.Logger
	progress         ProgressFunc
}

// log returns the logger, falling back to a discard logger if nil.
func (h *Handle) log() *slog.Logger {
	if h.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return h.logger
}

// Open reads the trailer and header of the archive in src.
//
// Open fails with ErrTruncated when src is shorter than the trailer or the
// header region implied by the trailer is out of bounds, and with
// ErrCorruptData when file ranges fall outside the data section or overlap.
// File contents are not read until extraction.
func Open(src ByteSource, opts ...Option) (*Handle, error) {
	h := &Handle{
		src:              src,
		maxHeaderSize:    DefaultMaxHeaderSize,
		maxFileSize:      DefaultMaxFileSize,
		maxDecoderMemory: DefaultMaxDecoderMemory,
	}
	for _, opt := range opts {
		opt(h)
	}
	if err := h.load(); err != nil {
		return nil, err
	}
	return h, nil
}

// OpenBytes opens an archive held in memory. b must not be modified while
// the Handle is in use.
func OpenBytes(b []byte, opts ...Option) (*Handle, error) {
	return Open(bytes.NewReader(b), opts...)
}

// OpenFile opens the archive at name. The file stays open until Close; it is
// closed immediately if Open fails.
func OpenFile(name string, opts ...Option) (*Handle, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	h, err := Open(&fileSource{f: f, size: info.Size()}, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	h.closer = f
	return h, nil
}

// Close releases the file opened by OpenFile. It is a no-op otherwise.
func (h *Handle) Close() error {
	if h.closer == nil {
		return nil
	}
	err := h.closer.Close()
	h.closer = nil
	return err
}

func (h *Handle) load() error {
	if !h.revision.valid() {
		return formatErr("open", "", "revision", ErrUnknownTag, "%s", h.revision)
	}
	if h.src == nil {
		return formatErr("open", "", "", ErrTruncated, "nil source")
	}

	size := h.src.Size()
	if size < trailerSize {
		return formatErr("open", "", "trailer", ErrTruncated, "archive is %d bytes", size)
	}
	var trailer [trailerSize]byte
	if err := readFullAt(h.src, trailer[:], size-trailerSize); err != nil {
		return h.sourceErr("trailer", err)
	}
	h.dataSize = binary.LittleEndian.Uint64(trailer[:])

	body := uint64(size) - trailerSize
	if h.dataSize > body {
		return formatErr("open", "", "trailer", ErrTruncated,
			"data section of %d bytes exceeds archive body of %d", h.dataSize, body)
	}
	headerSize := body - h.dataSize
	if h.maxHeaderSize > 0 && headerSize > h.maxHeaderSize {
		return formatErr("open", "", "header", ErrSizeOverflow,
			"header is %d bytes, limit %d", headerSize, h.maxHeaderSize)
	}

	raw := make([]byte, headerSize)
	if err := readFullAt(h.src, raw, int64(h.dataSize)); err != nil {
		return h.sourceErr("header", err)
	}
	header, err := UnmarshalHeader(raw, h.revision)
	if err != nil {
		return err
	}
	h.header = header
	h.tree = newTreeFromRoot(header.Root)

	if err := h.validate(); err != nil {
		return err
	}

	if h.key != nil {
		if h.revision != RevisionEncrypted {
			return formatErr("open", "", "key", ErrRevisionMismatch, "key given for %s revision", h.revision)
		}
		c, err := seal.New(h.key, header.Nonce.Epoch())
		if err != nil {
			return fmt.Errorf("bar: open: %w", err)
		}
		h.cipher = c
	}
	h.decoders = codec.NewDecoderPool(h.maxDecoderMemory)

	attrs := []any{
		"name", header.Meta.Name,
		"revision", h.revision.String(),
		"data_size", h.dataSize,
		"header_size", headerSize,
	}
	if ider, ok := h.src.(interface{ SourceID() string }); ok {
		attrs = append(attrs, "source", ider.SourceID())
	}
	h.log().Info("archive opened", attrs...)
	return nil
}

// sourceErr reports a failed read of a fixed archive region. Short reads
// mean the source is smaller than the archive claims.
func (h *Handle) sourceErr(field string, err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return formatErr("open", "", field, ErrTruncated, "short read")
	}
	return fmt.Errorf("bar: read %s: %w", field, err)
}

// span is one file's stored byte range.
type span struct {
	path     string
	off, end uint64
}

// validate checks that every file range lies inside the data section, that
// no two ranges overlap and, in RevisionEncrypted, that nonces are unique
// and below the persisted counter.
func (h *Handle) validate() error {
	var spans []span
	nonces := make(map[uint64]string)
	for p, e := range h.tree.Walk() {
		f, ok := e.(*File)
		if !ok {
			continue
		}
		if !sizing.Within(f.Offset, uint64(f.Size), h.dataSize) {
			return formatErr("open", p, "offset", ErrCorruptData,
				"range [%d, +%d) outside data section of %d bytes", f.Offset, f.Size, h.dataSize)
		}
		if f.Size > 0 {
			spans = append(spans, span{path: p, off: f.Offset, end: f.Offset + uint64(f.Size)})
		}
		if h.revision == RevisionEncrypted {
			n := *f.Meta.Nonce
			if prev, dup := nonces[n]; dup {
				return formatErr("open", p, "enc", ErrCorruptData, "nonce %d reused from %q", n, prev)
			}
			if n >= h.header.Nonce.Peek() {
				return formatErr("open", p, "enc", ErrCorruptData,
					"nonce %d not below counter %d", n, h.header.Nonce.Peek())
			}
			nonces[n] = p
		}
	}

	slices.SortFunc(spans, func(a, b span) int { return cmp.Compare(a.off, b.off) })
	for i := 1; i < len(spans); i++ {
		if spans[i].off < spans[i-1].end {
			return formatErr("open", spans[i].path, "offset", ErrCorruptData,
				"range overlaps %q", spans[i-1].path)
		}
	}
	return nil
}

// Meta returns the archive-level metadata.
func (h *Handle) Meta() Meta { return h.header.Meta.clone() }

// Revision returns the header revision the archive was opened with.
func (h *Handle) Revision() Revision { return h.revision }

// DataSize returns the length of the data section.
func (h *Handle) DataSize() uint64 { return h.dataSize }

// NonceCounter returns a copy of the persisted nonce counter, or nil for
// RevisionTimestamp archives.
func (h *Handle) NonceCounter() *NonceCounter { return h.header.Nonce.Clone() }

// Header returns a deep copy of the decoded header.
func (h *Handle) Header() *Header {
	return &Header{
		Meta:  h.header.Meta.clone(),
		Nonce: h.header.Nonce.Clone(),
		Root:  h.header.Root.clone(),
	}
}

// Stat returns the entry at path. "" and "/" name the root.
func (h *Handle) Stat(path string) (EntryInfo, error) {
	e, ok := h.tree.Resolve(path)
	if !ok {
		return EntryInfo{}, formatErr("stat", NormalizePath(path), "", ErrNotFound)
	}
	return newEntryInfo(NormalizePath(path), e), nil
}

// List returns the children of the directory at dir in insertion order.
// The sequence may be iterated any number of times.
func (h *Handle) List(dir string) (iter.Seq[EntryInfo], error) {
	d, err := h.tree.directory(dir, "list")
	if err != nil {
		return nil, err
	}
	base := NormalizePath(dir)
	return func(yield func(EntryInfo) bool) {
		for _, e := range d.children {
			if !yield(newEntryInfo(joinPath(base, e.Metadata().Name), e)) {
				return
			}
		}
	}, nil
}

// Walk yields every entry below the root, depth first in insertion order.
func (h *Handle) Walk() iter.Seq2[string, EntryInfo] {
	return func(yield func(string, EntryInfo) bool) {
		for p, e := range h.tree.Walk() {
			if !yield(p, newEntryInfo(p, e)) {
				return
			}
		}
	}
}

// FilePaths yields the path of every file, for search and completion.
func (h *Handle) FilePaths() iter.Seq[string] {
	return h.tree.FilePaths()
}

// Extract returns the original bytes of the file at path.
func (h *Handle) Extract(path string) ([]byte, error) {
	rc, err := h.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// OpenFile returns a reader streaming the original bytes of the file at
// path. Decryption and decompression happen as the reader is consumed.
func (h *Handle) OpenFile(path string) (io.ReadCloser, error) {
	f, err := h.tree.file(path, "extract")
	if err != nil {
		return nil, err
	}
	return h.openEntry(NormalizePath(path), f)
}

// rangeSource is implemented by sources that can stream a byte range with
// one request, such as http.Source.
type rangeSource interface {
	ReadRange(off, length int64) (io.ReadCloser, error)
}

func (h *Handle) openEntry(path string, f *File) (io.ReadCloser, error) {
	if h.revision == RevisionEncrypted && h.cipher == nil {
		return nil, formatErr("extract", path, "key", ErrKeyRequired)
	}

	var (
		stored io.Reader
		body   io.Closer
	)
	if rs, ok := h.src.(rangeSource); ok && f.Size > 0 {
		rc, err := rs.ReadRange(int64(f.Offset), int64(f.Size))
		if err != nil {
			return nil, fmt.Errorf("bar: read %q: %w", path, err)
		}
		stored, body = rc, rc
	} else {
		stored = io.NewSectionReader(h.src, int64(f.Offset), int64(f.Size))
	}

	var r io.Reader = &sourceReader{r: stored}
	if h.revision == RevisionEncrypted {
		r = h.cipher.Reader(*f.Meta.Nonce, r)
	}
	dec, err := h.decoders.NewReader(r, f.Method)
	if err != nil {
		if body != nil {
			body.Close()
		}
		return nil, extractErr(path, err)
	}
	h.log().Debug("extracting file", "path", path, "method", f.Method.String(), "size", f.Size)
	return &fileReader{path: path, dec: dec, body: body, limit: h.maxFileSize}, nil
}

// fileReader enforces the size limit and classifies errors of one extraction.
type fileReader struct {
	path  string
	dec   io.ReadCloser
	body  io.Closer // nil unless the source streamed the range
	limit uint64
	n     uint64
}

func (r *fileReader) Read(p []byte) (int, error) {
	n, err := r.dec.Read(p)
	r.n += uint64(n)
	if r.limit > 0 && r.n > r.limit {
		return 0, formatErr("extract", r.path, "size", ErrSizeOverflow,
			"decompressed size exceeds limit %d", r.limit)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return n, extractErr(r.path, err)
	}
	return n, err
}

func (r *fileReader) Close() error {
	err := r.dec.Close()
	if r.body != nil {
		if cerr := r.body.Close(); err == nil {
			err = cerr
		}
		r.body = nil
	}
	return err
}

// extractErr separates backing-store failures from malformed file data.
func extractErr(path string, err error) error {
	var se *sourceError
	if errors.As(err, &se) {
		return fmt.Errorf("bar: read %q: %w", path, se.err)
	}
	return formatErr("extract", path, "data", ErrCorruptData, "%v", err)
}

// Tree returns a copy of the archive tree whose files read their content
// from this archive and keep their compression method. Building it (with
// BuildWithNonceCounter(h.NonceCounter()) for encrypted archives) rebuilds
// the archive; modify the copy first to add, rename or drop entries.
//
// The returned tree reads from h, so h must stay open until the build ends.
func (h *Handle) Tree() *Tree {
	var originals []*File
	for _, e := range h.tree.Walk() {
		if f, ok := e.(*File); ok {
			originals = append(originals, f)
		}
	}

	t := h.tree.Clone()
	i := 0
	for p, e := range t.Walk() {
		f, ok := e.(*File)
		if !ok {
			continue
		}
		orig := originals[i]
		i++
		f.content = ContentFunc(func() (io.ReadCloser, error) {
			return h.openEntry(p, orig)
		})
		m := orig.Method
		f.override = &m
	}
	return t
}
