package generate

import (
	"errors"
	"fmt"
)

const (
	CodeGenerationError  = "generation_error"
	CodeEmptyResponse    = "empty_response"
	CodeLowQualityOutput = "low_quality_output"
	CodeInvalidInput     = "invalid_input"
	CodeTimeout          = "timeout"
)

// Failure is a classified capability error. Retryable failures may succeed
// on a later attempt; the rest settle the record immediately.
type Failure struct {
	Code      string
	Message   string
	Retryable bool
}

func (f *Failure) Error() string {
	if f.Message == "" {
		return f.Code
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// Retryable builds a failure that callers may attempt again.
func Retryable(code, format string, args ...any) *Failure {
	return &Failure{Code: code, Message: fmt.Sprintf(format, args...), Retryable: true}
}

// Terminal builds a failure that settles the attempt chain.
func Terminal(code, format string, args ...any) *Failure {
	return &Failure{Code: code, Message: fmt.Sprintf(format, args...)}
}

// FailureOf extracts a Failure from err. Unclassified errors come back as a
// retryable generation error so transient faults are not treated as fatal.
func FailureOf(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Code: CodeGenerationError, Message: err.Error(), Retryable: true}
}
