// Package chunkuploader drives a resumable upload session: it splits a seekable
// source into fixed-size chunks and PUTs them one at a time with byte-range
// headers until the upstream reports completion.
package chunkuploader

import (
	"errors"
	"fmt"
	"io"

	"github.com/mediakit-io/go-mediaproxy/mediaapi"
)

// ErrEmptySource is returned for sources without any bytes to send.
var ErrEmptySource = errors.New("source is empty")

// Source is a finite, seekable byte source of known length.
// *os.File wrapped by FileSource, *bytes.Reader and *io.SectionReader all qualify.
type Source interface {
	io.ReaderAt
	Size() int64
}

// Transfer is the byte span of one chunk PUT. End is exclusive.
type Transfer struct {
	Index int
	Start int64
	End   int64
	Total int64
}

// Len returns the number of bytes in the chunk.
func (t Transfer) Len() int64 {
	return t.End - t.Start
}

// IsFinal reports whether this is the terminal chunk.
func (t Transfer) IsFinal() bool {
	return t.End == t.Total
}

// ContentRange renders the byte-range descriptor sent with the chunk.
func (t Transfer) ContentRange() string {
	return fmt.Sprintf("bytes=%d-%d/%d", t.Start, t.End-1, t.Total)
}

// State is a driver state.
type State int

const (
	StateIdle State = iota
	StateSending
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Outcome is the result of a driver step or of a whole upload.
type Outcome struct {
	State       State
	ResourceURL string
	Percent     int
	Err         error
}

// Completed is the terminal success outcome.
func Completed(resourceURL string) Outcome {
	return Outcome{State: StateCompleted, ResourceURL: resourceURL, Percent: 100}
}

// InProgress is a non-terminal outcome after an acknowledged chunk.
func InProgress(percent int) Outcome {
	return Outcome{State: StateSending, Percent: percent}
}

// Failed is the terminal failure outcome.
func Failed(err error) Outcome {
	return Outcome{State: StateFailed, Err: err}
}

// Reason is a human readable failure reason, empty unless the outcome failed.
func (o Outcome) Reason() string {
	if o.State != StateFailed {
		return ""
	}
	return mediaapi.Reason(o.Err)
}

// ProgressFunc receives the upload percentage, 0 to 100, never decreasing.
type ProgressFunc func(percent int)
