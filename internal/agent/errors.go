package agent

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed context or artifact.
type ValidationError struct {
	Agent string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %v", e.Agent, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ExternalCallError reports a network, timeout or provider failure after retries.
type ExternalCallError struct {
	Op       string // e.g. "inference", "clone", "embed"
	Attempts int
	Err      error
}

func (e *ExternalCallError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ExternalCallError) Unwrap() error { return e.Err }

// ParseError reports model output that could not be parsed into the expected schema.
type ParseError struct {
	Template string
	Raw      string // model output of the last attempt
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparsable response for %s: %v", e.Template, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// degradedError marks an error that still yields a successful response.
type degradedError struct {
	err error
}

func (e *degradedError) Error() string { return e.err.Error() }
func (e *degradedError) Unwrap() error { return e.err }

// Degraded wraps err so that the agent reports success with its default payload
// and the error recorded on the response.
func Degraded(err error) error {
	if err == nil {
		return nil
	}
	return &degradedError{err: err}
}

// IsDegraded reports whether err was wrapped with Degraded.
func IsDegraded(err error) bool {
	var d *degradedError
	return errors.As(err, &d)
}

// KindOf classifies err for the response's ErrorKind field.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorNone
	}

	var ve *ValidationError
	var ee *ExternalCallError
	var pe *ParseError
	switch {
	case errors.As(err, &ve):
		return ErrorValidation
	case errors.As(err, &pe):
		return ErrorParse
	case errors.As(err, &ee):
		return ErrorExternal
	default:
		return ErrorInternal
	}
}
