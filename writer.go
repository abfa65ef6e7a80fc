package bar

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/meigma/bar/internal/batch"
	"github.com/meigma/bar/internal/codec"
	"github.com/meigma/bar/internal/seal"
	"github.com/meigma/bar/internal/sizing"
	"github.com/meigma/bar/internal/write"
)

// MediaType identifies bar archives in OCI descriptors.
const MediaType = "application/vnd.meigma.bar.v1"

// trailerSize is the width of the little-endian data-section length that
// ends every archive.
const trailerSize = 8

// defaultArchiveName names archives built without BuildWithArchiveMeta.
const defaultArchiveName = "archive"

// Summary describes an archive written by Build.
type Summary struct {
	// Header is the header as written, with every file's offset, size,
	// method and nonce resolved.
	Header *Header

	Revision   Revision
	DataSize   uint64 // length of the data section, as recorded in the trailer
	HeaderSize uint64
	Files      int
	Dirs       int

	// Digest is the sha256 digest of the complete archive.
	Digest digest.Digest
}

// Size returns the total archive length in bytes.
func (s *Summary) Size() uint64 {
	return s.DataSize + s.HeaderSize + trailerSize
}

// Descriptor returns an OCI content descriptor for the archive, titled with
// the archive name.
func (s *Summary) Descriptor() v1.Descriptor {
	size, err := sizing.ToInt64(s.Size(), ErrSizeOverflow)
	if err != nil {
		size = -1
	}
	d := v1.Descriptor{
		MediaType: MediaType,
		Digest:    s.Digest,
		Size:      size,
	}
	if s.Header != nil && s.Header.Meta.Name != "" {
		d.Annotations = map[string]string{v1.AnnotationTitle: s.Header.Meta.Name}
	}
	return d
}

// Build writes an archive holding every entry of tree to w.
//
// Files are read, compressed and (in RevisionEncrypted) encrypted on a bounded
// worker pool, then appended to the data section in depth-first tree order,
// so the output is identical for any worker count. Nonces are assigned in the
// same order before any work starts. The header and the 8-byte trailer
// follow the data section.
//
// tree is not modified. On failure, bytes already written to w are not a
// valid archive and should be discarded.
func Build(ctx context.Context, w io.Writer, tree *Tree, opts ...BuildOption) (*Summary, error) {
	cfg := buildConfig{maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	b, err := newBuilder(cfg)
	if err != nil {
		return nil, err
	}
	return b.build(ctx, w, tree)
}

// BuildBytes is like Build but returns the archive as a byte slice.
func BuildBytes(ctx context.Context, tree *Tree, opts ...BuildOption) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := Build(ctx, &buf, tree, opts...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// builder holds state for one archive build.
type builder struct {
	cfg    buildConfig
	policy write.Policy
	nonce  *NonceCounter
	cipher *seal.Cipher
}

func newBuilder(cfg buildConfig) (*builder, error) {
	if !cfg.revision.valid() {
		return nil, formatErr("build", "", "revision", ErrUnknownTag, "%s", cfg.revision)
	}
	if err := cfg.compression.Validate(); err != nil {
		return nil, formatErr("build", "", "compress_method", ErrUnknownTag, "%v", err)
	}
	b := &builder{
		cfg:    cfg,
		policy: write.Policy{Default: cfg.compression, Skip: cfg.skipCompression},
	}

	switch cfg.revision {
	case RevisionTimestamp:
		if cfg.key != nil {
			return nil, formatErr("build", "", "key", ErrRevisionMismatch, "key given for %s revision", cfg.revision)
		}
		if cfg.nonce != nil {
			return nil, formatErr("build", "", "nonce_counter", ErrRevisionMismatch, "nonce counter given for %s revision", cfg.revision)
		}
	case RevisionEncrypted:
		if cfg.key == nil {
			return nil, formatErr("build", "", "key", ErrKeyRequired)
		}
		b.nonce = cfg.nonce
		if b.nonce == nil {
			var err error
			if b.nonce, err = newRandomNonceCounter(); err != nil {
				return nil, err
			}
		}
		c, err := seal.New(cfg.key, b.nonce.Epoch())
		if err != nil {
			return nil, fmt.Errorf("bar: build: %w", err)
		}
		b.cipher = c
	}
	return b, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (b *builder) log() *slog.Logger {
	if b.cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return b.cfg.logger
}

func (b *builder) now() time.Time {
	if b.cfg.clock == nil {
		return time.Now()
	}
	return b.cfg.clock()
}

// buildJob is one file awaiting transformation.
type buildJob struct {
	path  string
	file  *File
	nonce uint64
}

// blob is the stored form of one file.
type blob struct {
	data   []byte
	method Method
}

func (b *builder) build(ctx context.Context, w io.Writer, tree *Tree) (*Summary, error) {
	if tree == nil {
		return nil, formatErr("build", "", "root", ErrMissingField, "nil tree")
	}
	rev := b.cfg.revision
	out := tree.Clone()
	out.root.Meta = out.root.Meta.forRevision(rev)
	out.root.Meta.Name = rootName
	out.root.Meta.Nonce = nil

	meta := Meta{Name: defaultArchiveName}
	if b.cfg.meta != nil {
		meta = b.cfg.meta.clone()
	}
	if rev == RevisionTimestamp && meta.LastUpdate.IsZero() {
		meta.LastUpdate = b.now()
	}
	meta = meta.forRevision(rev)
	meta.Nonce = nil

	var jobs []buildJob
	dirs := 0
	for p, e := range out.Walk() {
		if strings.Count(p, "/") >= MaxDepth {
			return nil, depthErr("build", p)
		}
		switch e := e.(type) {
		case *Directory:
			dirs++
			e.Meta = e.Meta.forRevision(rev)
			e.Meta.Nonce = nil
		case *File:
			e.Meta = e.Meta.forRevision(rev)
			e.Meta.Nonce = nil
			jobs = append(jobs, buildJob{path: p, file: e})
		}
	}

	if b.cipher != nil {
		for i := range jobs {
			n, err := b.nonce.Next()
			if err != nil {
				return nil, withPath(err, jobs[i].path)
			}
			jobs[i].nonce = n
		}
	}

	b.cfg.progress.report(ProgressEvent{Stage: StageEnumerating, FilesTotal: len(jobs)})
	b.log().Info("building archive",
		"name", meta.Name,
		"revision", rev.String(),
		"compression", b.cfg.compression.String(),
		"files", len(jobs),
		"dirs", dirs)

	digester := digest.Canonical.Digester()
	cw := &countingWriter{w: io.MultiWriter(w, digester.Hash())}

	pool := batch.NewPool(batch.WithWorkers(b.cfg.workers), batch.WithLogger(b.log()))
	err := batch.Run(ctx, pool, len(jobs),
		func(_ context.Context, i int) (blob, error) {
			return b.transform(jobs[i])
		},
		func(i int, bl blob) error {
			if err := b.emit(cw, jobs[i], bl); err != nil {
				return err
			}
			b.cfg.progress.report(ProgressEvent{
				Stage:      StageCompressing,
				Path:       jobs[i].path,
				BytesDone:  cw.n,
				FilesDone:  i + 1,
				FilesTotal: len(jobs),
			})
			return nil
		})
	if err != nil {
		return nil, err
	}
	dataSize := cw.n
	b.cfg.progress.report(ProgressEvent{Stage: StageWritingHeader, BytesDone: dataSize, FilesDone: len(jobs), FilesTotal: len(jobs)})

	h := &Header{Meta: meta, Root: out.root, Nonce: b.nonce.Clone()}
	hb, err := h.Marshal(rev)
	if err != nil {
		return nil, err
	}
	if _, err := cw.Write(hb); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	var trailer [trailerSize]byte
	binary.LittleEndian.PutUint64(trailer[:], dataSize)
	if _, err := cw.Write(trailer[:]); err != nil {
		return nil, fmt.Errorf("write trailer: %w", err)
	}

	s := &Summary{
		Header:     h,
		Revision:   rev,
		DataSize:   dataSize,
		HeaderSize: uint64(len(hb)),
		Files:      len(jobs),
		Dirs:       dirs,
		Digest:     digester.Digest(),
	}
	b.log().Info("archive built",
		"name", meta.Name,
		"data_size", s.DataSize,
		"header_size", s.HeaderSize,
		"digest", s.Digest.String())
	return s, nil
}

// transform reads one file and produces its stored blob.
func (b *builder) transform(job buildJob) (blob, error) {
	content := job.file.content
	if content == nil {
		content = emptyContent
	}
	rc, err := content.Open()
	if err != nil {
		return blob{}, fmt.Errorf("bar: read %q: %w", job.path, err)
	}
	raw, err := sizing.ReadAllWithLimit(rc, b.cfg.maxFileSize, ErrSizeOverflow)
	rc.Close()
	if errors.Is(err, ErrSizeOverflow) {
		return blob{}, formatErr("build", job.path, "size", err, "file larger than %d bytes", b.cfg.maxFileSize)
	}
	if err != nil {
		return blob{}, fmt.Errorf("bar: read %q: %w", job.path, err)
	}

	method := b.policy.Resolve(job.path, int64(len(raw)), job.file.override)
	data, err := codec.Compress(raw, method)
	if err != nil {
		if errors.Is(err, codec.ErrUnknownMethod) {
			return blob{}, formatErr("build", job.path, "compress_method", ErrUnknownTag, "%v", err)
		}
		return blob{}, fmt.Errorf("bar: compress %q: %w", job.path, err)
	}
	if b.cipher != nil {
		b.cipher.Seal(job.nonce, data)
	}

	b.log().Debug("file transformed",
		"path", job.path,
		"method", method.String(),
		"raw_size", len(raw),
		"stored_size", len(data))
	return blob{data: data, method: method}, nil
}

// emit appends a transformed blob to the data section and records where it went.
func (b *builder) emit(cw *countingWriter, job buildJob, bl blob) error {
	size, err := sizing.ToUint32(len(bl.data), ErrSizeOverflow)
	if err != nil {
		return formatErr("build", job.path, "size", err, "%d stored bytes", len(bl.data))
	}
	f := job.file
	f.Offset = cw.n
	f.Size = size
	f.Method = bl.method
	if b.cipher != nil {
		n := job.nonce
		f.Meta.Nonce = &n
	}
	f.content = nil
	f.override = nil

	if _, err := cw.Write(bl.data); err != nil {
		return fmt.Errorf("write data %q: %w", job.path, err)
	}
	return nil
}

// countingWriter tracks how many bytes have been written.
type countingWriter struct {
	w io.Writer
	n uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += uint64(n)
	return n, err
}
