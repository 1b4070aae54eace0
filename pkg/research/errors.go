package research

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInputShape is returned when the formatter gets something that is
	// neither a result collection nor a list of them.
	ErrInvalidInputShape = errors.New("input must be a search response or a list of search responses")

	ErrQueryGenerationParse = errors.New("failed to parse generated search query")
	ErrReflectionParse      = errors.New("failed to parse reflection")

	// ErrNoStructuredBlock means the reply carried no {...} block at all.
	ErrNoStructuredBlock = errors.New("no JSON block found in model response")

	// ErrUpstream matches any *UpstreamError.
	ErrUpstream = errors.New("upstream service error")
)

// ParseError reports a model reply that did not contain a usable structured block.
// Raw holds the full reply for diagnosis.
type ParseError struct {
	Stage Stage
	Raw   string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %v (content: %s)", e.sentinel(), e.Err, e.Raw)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *ParseError) sentinel() error {
	if e.Stage == StageReflecting {
		return ErrReflectionParse
	}
	return ErrQueryGenerationParse
}

// UpstreamError wraps a failed search or completion call. The original
// error stays reachable through errors.Is / errors.As.
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s call failed: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }
