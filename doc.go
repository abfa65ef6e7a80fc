// Package bar implements the bar archive format: a single file holding raw
// file contents followed by a self-describing header that records the
// directory tree, per-entry metadata and compression and, in the encrypted
// revision, per-file encryption nonces.
//
// An archive is laid out as
//
//	[ data section ][ header ][ data section length : u64, little-endian ]
//
// so a reader locates the header from the last 8 bytes without scanning.
// The header is CBOR with small integer keys; see [Header] for its layout.
//
// # Revisions
//
// Two mutually exclusive header revisions exist. [RevisionTimestamp] (the
// default) records a last-update time per entry. [RevisionEncrypted] drops
// timestamps and instead encrypts every file with AES-CTR under a
// per-archive key and a per-file nonce drawn from a counter persisted in
// the header. Writers and readers must select the same revision.
//
// # Building
//
// Assemble a [Tree] and pass it to [Build], or build straight from a
// directory with [BuildDir]:
//
//	tree := bar.NewTree()
//	if err := tree.Enter("men at work"); err != nil {
//	    return err
//	}
//	err := tree.Add(bar.NewFile(bar.Meta{Name: "land down under.mp3"}, bar.FileContent(path)))
//	...
//	sum, err := bar.Build(ctx, w, tree,
//	    bar.BuildWithArchiveMeta(bar.Meta{Name: "music"}),
//	    bar.BuildWithCompression(bar.MustParseMethod("high-gzip")),
//	    bar.BuildWithSkipCompression(bar.DefaultSkipCompression(512)),
//	)
//
// # Reading
//
// [Open] accepts any [ByteSource]: a *bytes.Reader, a local file via
// [OpenFile], or a remote archive via the http subpackage. Only the trailer
// and header are read up front; file contents are read, decrypted and
// decompressed on demand:
//
//	h, err := bar.OpenFile("music.bar")
//	if err != nil {
//	    return err
//	}
//	defer h.Close()
//	data, err := h.Extract("men at work/land down under.mp3")
//
// Archives are never modified in place. To change one, take [Handle.Tree],
// edit it and build a new archive.
//
// # Errors
//
// Malformed or misused archives fail with a [*FormatError] wrapping one of
// the Err* sentinels, which callers match with errors.Is. I/O failures of
// the backing store are returned wrapped but unclassified.
package bar
