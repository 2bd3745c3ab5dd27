package reliability

import "errors"

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Retryable reports whether a caller could reasonably repeat the failed call.
// Nothing in the engine retries on its own; this only informs callers.
func Retryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindTransport:
		return e.Status == 0 || IsRetryableHTTPStatus(e.Status)
	case KindDevice:
		return true
	default:
		return false
	}
}

// IsExpected reports whether err is a non-exceptional outcome, such as an
// empty recording, that should be surfaced without being logged as a failure.
func IsExpected(err error) bool {
	return IsKind(err, KindEmptyResult)
}
