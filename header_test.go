package bar

import (
	"math"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleHeader(rev Revision) *Header {
	nonce := func(n uint64) *uint64 { return &n }
	ts := time.Date(2023, 6, 1, 8, 0, 0, 0, time.UTC)

	root := NewDirectory(Meta{Name: rootName})
	docs := NewDirectory(Meta{Name: "docs", Note: "documentation", LastUpdate: ts})
	readme := &File{Meta: Meta{Name: "readme.md", Used: true, LastUpdate: ts, Nonce: nonce(0)}, Offset: 0, Size: 10}
	logo := &File{
		Meta:   Meta{Name: "logo.png", Nonce: nonce(1)},
		Offset: 10,
		Size:   20,
		Method: Method{Quality: QualityHigh, Algorithm: AlgorithmZstd},
	}
	_ = docs.Add(readme)
	_ = docs.Add(logo)
	_ = root.Add(docs)
	_ = root.Add(NewDirectory(Meta{Name: "empty"}))

	h := &Header{Meta: Meta{Name: "archive", Note: "n", LastUpdate: ts}, Root: root}
	if rev == RevisionEncrypted {
		h.Nonce = NewNonceCounter(7, 2)
	}
	// Normalize to what the revision can carry.
	h.Meta = h.Meta.forRevision(rev)
	for _, e := range []Entry{root, docs, readme, logo} {
		switch e := e.(type) {
		case *File:
			e.Meta = e.Meta.forRevision(rev)
		case *Directory:
			e.Meta = e.Meta.forRevision(rev)
		}
	}
	return h
}

func mustCBOR(t *testing.T, v any) []byte {
	t.Helper()
	b, err := cbor.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	for _, rev := range []Revision{RevisionTimestamp, RevisionEncrypted} {
		t.Run(rev.String(), func(t *testing.T) {
			t.Parallel()

			h := sampleHeader(rev)
			b, err := h.Marshal(rev)
			require.NoError(t, err)

			got, err := UnmarshalHeader(b, rev)
			require.NoError(t, err)
			again, err := got.Marshal(rev)
			require.NoError(t, err)
			assert.Equal(t, b, again)

			assert.Equal(t, "archive", got.Meta.Name)
			assert.Equal(t, "n", got.Meta.Note)
			e, ok := got.Root.Child("docs")
			require.True(t, ok)
			docs := e.(*Directory)
			assert.Equal(t, "documentation", docs.Meta.Note)
			logo, ok := docs.Child("logo.png")
			require.True(t, ok)
			assert.Equal(t, uint64(10), logo.(*File).Offset)
			assert.Equal(t, uint32(20), logo.(*File).Size)
			assert.Equal(t, "high-zstd", logo.(*File).Method.String())

			readme, _ := docs.Child("readme.md")
			assert.True(t, readme.Metadata().Used)

			if rev == RevisionEncrypted {
				require.NotNil(t, got.Nonce)
				assert.Equal(t, uint32(7), got.Nonce.Epoch())
				assert.Equal(t, uint64(2), got.Nonce.Peek())
				require.NotNil(t, readme.Metadata().Nonce)
				assert.Equal(t, uint64(1), *logo.Metadata().Nonce)
				assert.True(t, got.Meta.LastUpdate.IsZero())
			} else {
				assert.Nil(t, got.Nonce)
				assert.True(t, readme.Metadata().LastUpdate.Equal(time.Date(2023, 6, 1, 8, 0, 0, 0, time.UTC)))
				assert.Nil(t, readme.Metadata().Nonce)
			}
		})
	}
}

func TestHeaderDeterministic(t *testing.T) {
	t.Parallel()

	a, err := sampleHeader(RevisionTimestamp).Marshal(RevisionTimestamp)
	require.NoError(t, err)
	b, err := sampleHeader(RevisionTimestamp).Marshal(RevisionTimestamp)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHeaderRevisionMismatch(t *testing.T) {
	t.Parallel()

	ts, err := sampleHeader(RevisionTimestamp).Marshal(RevisionTimestamp)
	require.NoError(t, err)
	enc, err := sampleHeader(RevisionEncrypted).Marshal(RevisionEncrypted)
	require.NoError(t, err)

	_, err = UnmarshalHeader(ts, RevisionEncrypted)
	require.ErrorIs(t, err, ErrRevisionMismatch)
	_, err = UnmarshalHeader(enc, RevisionTimestamp)
	require.ErrorIs(t, err, ErrRevisionMismatch)

	// Writing fields of the other revision is rejected too.
	h := sampleHeader(RevisionEncrypted)
	_, err = h.Marshal(RevisionTimestamp)
	require.ErrorIs(t, err, ErrRevisionMismatch)

	h = sampleHeader(RevisionTimestamp)
	h.Nonce = NewNonceCounter(0, 0)
	_, err = h.Marshal(RevisionEncrypted)
	require.ErrorIs(t, err, ErrRevisionMismatch, "timestamps cannot be written to the encrypted revision")
}

func TestHeaderMarshalErrors(t *testing.T) {
	t.Parallel()

	t.Run("missing file nonce", func(t *testing.T) {
		t.Parallel()
		root := NewDirectory(Meta{Name: rootName})
		require.NoError(t, root.Add(&File{Meta: Meta{Name: "f"}}))
		h := &Header{Meta: Meta{Name: "a"}, Nonce: NewNonceCounter(0, 0), Root: root}
		_, err := h.Marshal(RevisionEncrypted)
		require.ErrorIs(t, err, ErrMissingField)
		var fe *FormatError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, "f", fe.Path)
		assert.Equal(t, "enc", fe.Field)
	})

	t.Run("missing nonce counter", func(t *testing.T) {
		t.Parallel()
		h := &Header{Meta: Meta{Name: "a"}, Root: NewDirectory(Meta{Name: rootName})}
		_, err := h.Marshal(RevisionEncrypted)
		require.ErrorIs(t, err, ErrMissingField)
	})

	t.Run("invalid method", func(t *testing.T) {
		t.Parallel()
		root := NewDirectory(Meta{Name: rootName})
		require.NoError(t, root.Add(&File{Meta: Meta{Name: "f"}, Method: Method{Quality: 9, Algorithm: AlgorithmGzip}}))
		h := &Header{Meta: Meta{Name: "a"}, Root: root}
		_, err := h.Marshal(RevisionTimestamp)
		require.ErrorIs(t, err, ErrUnknownTag)
	})

	t.Run("missing root", func(t *testing.T) {
		t.Parallel()
		_, err := (&Header{Meta: Meta{Name: "a"}}).Marshal(RevisionTimestamp)
		require.ErrorIs(t, err, ErrMissingField)
	})

	t.Run("unknown revision", func(t *testing.T) {
		t.Parallel()
		_, err := sampleHeader(RevisionTimestamp).Marshal(Revision(5))
		require.ErrorIs(t, err, ErrUnknownTag)
	})
}

func TestUnmarshalHeaderTruncated(t *testing.T) {
	t.Parallel()

	b, err := sampleHeader(RevisionTimestamp).Marshal(RevisionTimestamp)
	require.NoError(t, err)

	_, err = UnmarshalHeader(nil, RevisionTimestamp)
	require.ErrorIs(t, err, ErrTruncated)
	for _, n := range []int{1, len(b) / 2, len(b) - 1} {
		_, err = UnmarshalHeader(b[:n], RevisionTimestamp)
		require.ErrorIs(t, err, ErrTruncated, "cut at %d", n)
	}

	_, err = UnmarshalHeader(append(b, 0x00), RevisionTimestamp)
	require.ErrorIs(t, err, ErrCorruptData, "trailing bytes")
}

func TestUnmarshalHeaderMalformed(t *testing.T) {
	t.Parallel()

	rootMeta := map[uint64]any{keyName: "/"}
	fileMeta := map[uint64]any{keyName: "f"}
	header := func(entries ...any) []any {
		return []any{map[uint64]any{keyName: "a"}, []any{rootMeta, entries}}
	}
	file := func(body map[uint64]any) []any { return []any{true, body} }

	tests := []struct {
		name    string
		doc     any
		wantErr error
	}{
		{
			name:    "not an array",
			doc:     map[uint64]any{1: "x"},
			wantErr: ErrTypeMismatch,
		},
		{
			name:    "one field",
			doc:     []any{map[uint64]any{keyName: "a"}},
			wantErr: ErrRevisionMismatch,
		},
		{
			name:    "unknown discriminator",
			doc:     header([]any{uint64(5), map[uint64]any{keyMeta: fileMeta, keyOffset: 0, keySize: 0}}),
			wantErr: ErrUnknownTag,
		},
		{
			name:    "entry is not a pair",
			doc:     header([]any{true}),
			wantErr: ErrTypeMismatch,
		},
		{
			name:    "unknown method",
			doc:     header(file(map[uint64]any{keyMeta: fileMeta, keyOffset: 0, keySize: 0, keyCompressMethod: "turbo-gzip"})),
			wantErr: ErrUnknownTag,
		},
		{
			name:    "method not a string",
			doc:     header(file(map[uint64]any{keyMeta: fileMeta, keyOffset: 0, keySize: 0, keyCompressMethod: 3})),
			wantErr: ErrTypeMismatch,
		},
		{
			name:    "missing offset",
			doc:     header(file(map[uint64]any{keyMeta: fileMeta, keySize: 0})),
			wantErr: ErrMissingField,
		},
		{
			name:    "missing size",
			doc:     header(file(map[uint64]any{keyMeta: fileMeta, keyOffset: 0})),
			wantErr: ErrMissingField,
		},
		{
			name:    "missing meta",
			doc:     header(file(map[uint64]any{keyOffset: 0, keySize: 0})),
			wantErr: ErrMissingField,
		},
		{
			name:    "size over 32 bits",
			doc:     header(file(map[uint64]any{keyMeta: fileMeta, keyOffset: 0, keySize: uint64(math.MaxUint32) + 1})),
			wantErr: ErrTypeMismatch,
		},
		{
			name:    "negative offset",
			doc:     header(file(map[uint64]any{keyMeta: fileMeta, keyOffset: -1, keySize: 0})),
			wantErr: ErrTypeMismatch,
		},
		{
			name:    "unknown file key",
			doc:     header(file(map[uint64]any{keyMeta: fileMeta, keyOffset: 0, keySize: 0, 42: "x"})),
			wantErr: ErrUnknownTag,
		},
		{
			name: "duplicate sibling",
			doc: header(
				file(map[uint64]any{keyMeta: fileMeta, keyOffset: 0, keySize: 0}),
				[]any{false, []any{fileMeta, []any{}}},
			),
			wantErr: ErrNameCollision,
		},
		{
			name:    "slash in name",
			doc:     header(file(map[uint64]any{keyMeta: map[uint64]any{keyName: "a/b"}, keyOffset: 0, keySize: 0})),
			wantErr: ErrInvalidName,
		},
		{
			name:    "dot file",
			doc:     header(file(map[uint64]any{keyMeta: map[uint64]any{keyName: "."}, keyOffset: 0, keySize: 0})),
			wantErr: ErrInvalidName,
		},
		{
			name:    "dot dot directory",
			doc:     header([]any{false, []any{map[uint64]any{keyName: ".."}, []any{}}}),
			wantErr: ErrInvalidName,
		},
		{
			name:    "root not slash",
			doc:     []any{map[uint64]any{keyName: "a"}, []any{map[uint64]any{keyName: "root"}, []any{}}},
			wantErr: ErrCorruptData,
		},
		{
			name:    "last update as integer",
			doc:     []any{map[uint64]any{keyName: "a", keyLastUpdate: 5}, []any{rootMeta, []any{}}},
			wantErr: ErrRevisionMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := UnmarshalHeader(mustCBOR(t, tt.doc), RevisionTimestamp)
			require.ErrorIs(t, err, tt.wantErr)
			var fe *FormatError
			assert.ErrorAs(t, err, &fe)
		})
	}
}

func TestUnmarshalHeaderEncryptedMalformed(t *testing.T) {
	t.Parallel()

	rootMeta := map[uint64]any{keyName: "/"}
	counter := make([]byte, nonceCounterSize)

	t.Run("short counter", func(t *testing.T) {
		t.Parallel()
		doc := []any{map[uint64]any{keyName: "a"}, counter[:4], []any{rootMeta, []any{}}}
		_, err := UnmarshalHeader(mustCBOR(t, doc), RevisionEncrypted)
		require.ErrorIs(t, err, ErrTypeMismatch)
	})

	t.Run("counter not bytes", func(t *testing.T) {
		t.Parallel()
		doc := []any{map[uint64]any{keyName: "a"}, "counter", []any{rootMeta, []any{}}}
		_, err := UnmarshalHeader(mustCBOR(t, doc), RevisionEncrypted)
		require.ErrorIs(t, err, ErrTypeMismatch)
	})

	t.Run("file without nonce", func(t *testing.T) {
		t.Parallel()
		f := map[uint64]any{keyMeta: map[uint64]any{keyName: "f"}, keyOffset: 0, keySize: 0}
		doc := []any{map[uint64]any{keyName: "a"}, counter, []any{rootMeta, []any{[]any{true, f}}}}
		_, err := UnmarshalHeader(mustCBOR(t, doc), RevisionEncrypted)
		require.ErrorIs(t, err, ErrMissingField)
		var fe *FormatError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, "f", fe.Path)
	})
}

func TestHeaderNonceOnlyOnFiles(t *testing.T) {
	t.Parallel()

	nonce := uint64(3)
	counter := make([]byte, nonceCounterSize)
	rootMeta := map[uint64]any{keyName: "/"}

	t.Run("encode archive meta", func(t *testing.T) {
		t.Parallel()
		h := sampleHeader(RevisionEncrypted)
		h.Meta.Nonce = &nonce
		_, err := h.Marshal(RevisionEncrypted)
		require.ErrorIs(t, err, ErrUnknownTag)
	})

	t.Run("encode directory", func(t *testing.T) {
		t.Parallel()
		h := sampleHeader(RevisionEncrypted)
		docs, ok := h.Root.Child("docs")
		require.True(t, ok)
		docs.(*Directory).Meta.Nonce = &nonce
		_, err := h.Marshal(RevisionEncrypted)
		require.ErrorIs(t, err, ErrUnknownTag)
		var fe *FormatError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, "docs", fe.Path)
		assert.Equal(t, "enc", fe.Field)
	})

	t.Run("decode archive meta", func(t *testing.T) {
		t.Parallel()
		doc := []any{map[uint64]any{keyName: "a", keyNonce: nonce}, counter, []any{rootMeta, []any{}}}
		_, err := UnmarshalHeader(mustCBOR(t, doc), RevisionEncrypted)
		require.ErrorIs(t, err, ErrUnknownTag)
	})

	t.Run("decode directory", func(t *testing.T) {
		t.Parallel()
		dir := []any{false, []any{map[uint64]any{keyName: "d", keyNonce: nonce}, []any{}}}
		doc := []any{map[uint64]any{keyName: "a"}, counter, []any{rootMeta, []any{dir}}}
		_, err := UnmarshalHeader(mustCBOR(t, doc), RevisionEncrypted)
		require.ErrorIs(t, err, ErrUnknownTag)
	})
}

// nestedHeader returns a timestamp header whose deepest entry, a file,
// sits depth segments below the root.
func nestedHeader(depth int) *Header {
	root := NewDirectory(Meta{Name: rootName})
	d := root
	for range depth - 1 {
		sub := NewDirectory(Meta{Name: "d"})
		_ = d.Add(sub)
		d = sub
	}
	_ = d.Add(&File{Meta: Meta{Name: "f", LastUpdate: time.Unix(1, 0).UTC()}})
	return &Header{Meta: Meta{Name: "deep", LastUpdate: time.Unix(1, 0).UTC()}, Root: root}
}

func TestHeaderMaxDepth(t *testing.T) {
	t.Parallel()

	b, err := nestedHeader(MaxDepth).Marshal(RevisionTimestamp)
	require.NoError(t, err)
	h, err := UnmarshalHeader(b, RevisionTimestamp)
	require.NoError(t, err)
	got, err := h.Marshal(RevisionTimestamp)
	require.NoError(t, err)
	assert.Equal(t, b, got)

	_, err = nestedHeader(MaxDepth+1).Marshal(RevisionTimestamp)
	require.ErrorIs(t, err, ErrSizeOverflow)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "depth", fe.Field)

	// The same tree encoded without the depth check.
	entry := []any{true, map[uint64]any{keyMeta: map[uint64]any{keyName: "f"}, keyOffset: 0, keySize: 0}}
	for range MaxDepth {
		entry = []any{false, []any{map[uint64]any{keyName: "d"}, []any{entry}}}
	}
	doc := []any{map[uint64]any{keyName: "deep"}, []any{map[uint64]any{keyName: "/"}, []any{entry}}}
	raw, err := cbor.Marshal(doc)
	require.NoError(t, err)
	_, err = UnmarshalHeader(raw, RevisionTimestamp)
	require.Error(t, err)
}

func TestUnmarshalHeaderRejectsDuplicateKeys(t *testing.T) {
	t.Parallel()

	// {1: "a", 1: "b"} as the archive meta.
	raw := []byte{
		0x82,             // array(2)
		0xa2,             // map(2)
		0x01, 0x61, 'a', //
		0x01, 0x61, 'b', //
		0x82, 0xa1, 0x01, 0x61, '/', 0x80, // [{1: "/"}, []]
	}
	_, err := UnmarshalHeader(raw, RevisionTimestamp)
	require.ErrorIs(t, err, ErrCorruptData)
}
