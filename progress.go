package bar

// ProgressEvent reports how far a build or unpack has got.
type ProgressEvent struct {
	// Stage identifies the current phase of the operation.
	Stage ProgressStage

	// Path is the entry currently being processed, if applicable.
	Path string

	// BytesDone is the number of stored bytes written so far.
	BytesDone uint64

	// FilesDone is the number of files completed.
	FilesDone int

	// FilesTotal is the total number of files.
	// Zero indicates the total is unknown (e.g., during enumeration).
	FilesTotal int
}

// ProgressStage identifies the current phase of an operation.
type ProgressStage uint8

const (
	// StageEnumerating indicates the input tree is being walked.
	StageEnumerating ProgressStage = iota

	// StageCompressing indicates file data is being compressed and appended.
	StageCompressing

	// StageWritingHeader indicates the header and trailer are being written.
	StageWritingHeader

	// StageExtracting indicates files are being unpacked.
	StageExtracting
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageEnumerating:
		return "enumerating"
	case StageCompressing:
		return "compressing"
	case StageWritingHeader:
		return "writing header"
	case StageExtracting:
		return "extracting"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates. Events for one operation arrive
// in order from a single goroutine.
type ProgressFunc func(ProgressEvent)

// report sends an event if fn is set.
func (fn ProgressFunc) report(e ProgressEvent) {
	if fn != nil {
		fn(e)
	}
}
