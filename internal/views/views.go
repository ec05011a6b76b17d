// Package views holds the headless state of the explorer screens. Each view
// subscribes to the knowledge graph topic on Mount, mutates its own state
// from bus events, and drops everything it receives after Unmount.
package views

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/cugtyt/kg-explorer/internal/service"
	"github.com/cugtyt/kg-explorer/internal/store"
)

const (
	EmptyInputMessage     = "The text area has to be filled."
	InvalidFileMessage    = "Please upload a .txt file only."
	ReadFileMessage       = "Error reading file. Please try again."
	FileTooLargeMessage   = "File is too large. Please upload a file under 10 MB."
	GenerateFailedMessage = "Failed to generate the knowledge graph. Please try again."

	NoGraphMessage     = "No knowledge graph available. Please generate a graph first."
	QueryFailedMessage = "An error occurred while querying the knowledge graph."
	ClearFailedMessage = "Failed to clear the conversation."
)

var (
	ErrNotMounted      = errors.New("view is not mounted")
	ErrEmptyInput      = errors.New("input is empty")
	ErrInvalidFileType = errors.New("only .txt files are accepted")
	ErrReadFile        = errors.New("failed to read file")
	ErrFileTooLarge    = errors.New("file exceeds the upload limit")
	ErrEmptyQuery      = errors.New("query is empty")
	ErrBusy            = errors.New("a query is already in flight")
	ErrNoGraph         = errors.New("no knowledge graph available")
)

type GraphLoader interface {
	LoadGraph(ctx context.Context) (*store.GraphRecord, error)
}

type TranscriptLoader interface {
	Turns(ctx context.Context) ([]store.Turn, error)
}

type options struct {
	logger      logrus.FieldLogger
	graphs      GraphLoader
	transcripts TranscriptLoader
}

type Option func(*options)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithGraphLoader lets Workspace.Restore reload the last saved graph.
func WithGraphLoader(loader GraphLoader) Option {
	return func(o *options) {
		o.graphs = loader
	}
}

// WithTranscriptLoader lets Chat.Restore reload saved turns.
func WithTranscriptLoader(loader TranscriptLoader) Option {
	return func(o *options) {
		o.transcripts = loader
	}
}

// owns reports whether requestID belongs to the outstanding request and, if
// so, clears it. With nothing outstanding every result is stale. Callers hold
// the view's lock.
func owns(pending **service.Request, requestID string) bool {
	if *pending == nil || (*pending).ID != requestID {
		return false
	}
	*pending = nil
	return true
}

func newOptions(opts []Option) options {
	o := options{logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
