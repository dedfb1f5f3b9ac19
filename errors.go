package hotline

import "errors"

// Common errors shared by the call stores and the pipeline.
var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidStoreType = errors.New("invalid store type")
	ErrVersionConflict  = errors.New("call version conflict")
	ErrNotFound         = errors.New("call not found")
	ErrDuplicate        = errors.New("duplicate record")
)

// Kind classifies a failure by how the pipeline reacts to it.
type Kind string

const (
	// KindTransient is a network or timeout failure of a single adapter call.
	KindTransient Kind = "transient"
	// KindEmpty is a valid "nothing to do" result such as a blank transcript.
	KindEmpty Kind = "empty"
	// KindUnavailable means a model or service is down and a fallback applies.
	KindUnavailable Kind = "unavailable"
	// KindInconsistent is a data inconsistency such as an unknown call.
	KindInconsistent Kind = "inconsistent"
	// KindEscalation is a failed outreach to one emergency contact.
	KindEscalation Kind = "escalation"
)

type classifiedError struct {
	kind  Kind
	cause error
}

func (e *classifiedError) Error() string {
	if e.cause == nil {
		return "unknown error"
	}
	return e.cause.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.cause
}

// Wrap tags err with kind. A nil err stays nil.
func Wrap(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return &classifiedError{kind: kind, cause: err}
}

// KindOf returns the outermost kind attached to err, or KindTransient for
// unclassified errors.
func KindOf(err error) Kind {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.kind
	}
	return KindTransient
}
