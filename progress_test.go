package bar

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildProgress(t *testing.T) {
	t.Parallel()

	var events []ProgressEvent
	s, err := Build(context.Background(), io.Discard, sampleTree(t),
		BuildWithWorkers(4),
		BuildWithProgress(func(e ProgressEvent) { events = append(events, e) }))
	require.NoError(t, err)

	require.Len(t, events, 5)
	assert.Equal(t, ProgressEvent{Stage: StageEnumerating, FilesTotal: 3}, events[0])

	var paths []string
	for i, e := range events[1:4] {
		assert.Equal(t, StageCompressing, e.Stage)
		assert.Equal(t, i+1, e.FilesDone)
		assert.Equal(t, 3, e.FilesTotal)
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"docs/readme.md", "docs/img/logo.png", "notes.txt"}, paths)

	last := events[4]
	assert.Equal(t, StageWritingHeader, last.Stage)
	assert.Equal(t, s.DataSize, last.BytesDone)
}

func TestUnpackProgress(t *testing.T) {
	t.Parallel()

	var events []ProgressEvent
	h, err := OpenBytes(buildSample(t), WithProgress(func(e ProgressEvent) { events = append(events, e) }))
	require.NoError(t, err)
	require.NoError(t, h.UnpackTo(context.Background(), t.TempDir()))

	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, StageExtracting, e.Stage)
		assert.Equal(t, i+1, e.FilesDone)
		assert.Equal(t, 3, e.FilesTotal)
	}
	assert.Equal(t, "notes.txt", events[2].Path)
}

func TestProgressStageString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "enumerating", StageEnumerating.String())
	assert.Equal(t, "compressing", StageCompressing.String())
	assert.Equal(t, "writing header", StageWritingHeader.String())
	assert.Equal(t, "extracting", StageExtracting.String())
	assert.Equal(t, "unknown", ProgressStage(99).String())
}

func TestDeriveKeyArchive(t *testing.T) {
	t.Parallel()

	key := DeriveKey([]byte("correct horse"), []byte("salt"))
	require.Len(t, key, 32)
	assert.Equal(t, key, DeriveKey([]byte("correct horse"), []byte("salt")))

	archive := buildSample(t, BuildWithRevision(RevisionEncrypted), BuildWithKey(key))
	h, err := OpenBytes(archive, WithRevision(RevisionEncrypted),
		WithKey(DeriveKey([]byte("correct horse"), []byte("salt"))))
	require.NoError(t, err)
	got, err := h.Extract("notes.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("notes"), got)
}
