package retry

import "errors"

// NonRetryableError stops Do at the attempt that returned it.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return "non-retryable: " + e.Err.Error() }

func (e *NonRetryableError) Unwrap() error { return e.Err }

// NonRetryable marks err so Do returns it without retrying. nil stays nil.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err, or anything it wraps, was marked with
// NonRetryable.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}
