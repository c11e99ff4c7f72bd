package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
)

// Kind classifies a reconciliation failure
type Kind string

const (
	// KindIngestion covers malformed input: a missing column or a duplicate identifier.
	// Fatal before any pass runs.
	KindIngestion Kind = "ingestion"
	// KindLookup covers an identifier that resolves to zero or several records during a pass.
	// Fatal for that pass only.
	KindLookup Kind = "lookup"
	// KindStage covers a pass invoked out of order
	KindStage Kind = "stage"
	// KindIntegrity covers a partition that lost or duplicated records
	KindIntegrity Kind = "integrity"
)

type ReconcileError struct {
	Kind    Kind
	Stage   string
	Side    string
	Index   string
	Column  string
	Message string
	cause   error
}

func newError(kind Kind, msg string) *ReconcileError {
	return &ReconcileError{Kind: kind, Message: msg}
}

// NewIngestionErrorf creates an ingestion error with a formatted message
func NewIngestionErrorf(format string, args ...any) *ReconcileError {
	return newError(KindIngestion, fmt.Sprintf(format, args...))
}

// NewLookupErrorf creates a lookup error with a formatted message
func NewLookupErrorf(format string, args ...any) *ReconcileError {
	return newError(KindLookup, fmt.Sprintf(format, args...))
}

// NewStageErrorf creates a stage-order error with a formatted message
func NewStageErrorf(format string, args ...any) *ReconcileError {
	return newError(KindStage, fmt.Sprintf(format, args...))
}

// NewIntegrityErrorf creates a partition integrity error with a formatted message
func NewIntegrityErrorf(format string, args ...any) *ReconcileError {
	return newError(KindIntegrity, fmt.Sprintf(format, args...))
}

func (e *ReconcileError) Error() string {
	path := []string{}
	if e.Stage != "" {
		path = append(path, fmt.Sprintf("stage '%s'", e.Stage))
	}
	if e.Side != "" {
		path = append(path, fmt.Sprintf("%s ledger", e.Side))
	}
	if e.Index != "" {
		path = append(path, fmt.Sprintf("record '%s'", e.Index))
	}
	if e.Column != "" {
		path = append(path, fmt.Sprintf("column '%s'", e.Column))
	}

	msg := e.Message
	if e.cause != nil {
		msg = msg + ": " + e.cause.Error()
	}
	if len(path) == 0 {
		return fmt.Sprintf("%s error: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s error: %s: %s", e.Kind, strings.Join(path, " -> "), msg)
}

func (e *ReconcileError) Unwrap() error {
	return e.cause
}

func (e *ReconcileError) AddStage(stage string) *ReconcileError {
	e.Stage = stage
	return e
}

func (e *ReconcileError) AddSide(side string) *ReconcileError {
	e.Side = side
	return e
}

func (e *ReconcileError) AddIndex(index string) *ReconcileError {
	e.Index = index
	return e
}

func (e *ReconcileError) AddColumn(column string) *ReconcileError {
	e.Column = column
	return e
}

func (e *ReconcileError) WithCause(err error) *ReconcileError {
	e.cause = err
	return e
}

// StatusCode maps the kind to the status reported at storage and CLI boundaries
func (e *ReconcileError) StatusCode() int {
	switch e.Kind {
	case KindIngestion:
		return http.StatusUnprocessableEntity
	case KindLookup:
		return http.StatusConflict
	case KindStage:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

func (e *ReconcileError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(e.StatusCode(), e.Error()).
		AddMetaValue("kind", string(e.Kind)).
		AddMetaValue("stage", e.Stage).
		AddMetaValue("index", e.Index).
		AddMetaValue("column", e.Column)
}

func kindOf(err error) (Kind, bool) {
	var re *ReconcileError
	if stderrors.As(err, &re) {
		return re.Kind, true
	}
	return "", false
}

func IsIngestionError(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindIngestion
}

func IsLookupError(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindLookup
}

func IsStageError(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindStage
}

func IsIntegrityError(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindIntegrity
}

// StatusCode returns the status of a reconciliation or HTTP error, or 500
func StatusCode(err error) int {
	var re *ReconcileError
	if stderrors.As(err, &re) {
		return re.StatusCode()
	}
	if httperror.IsHTTPError(err) {
		return httperror.GetStatusCode(err)
	}
	return http.StatusInternalServerError
}
