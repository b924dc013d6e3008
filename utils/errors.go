package utils

import "errors"

// PermError marks a failure that another attempt cannot fix, such as a
// missing row or a value that does not decode.
type PermError struct {
	Err error
}

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermError{Err: err}
}

func (e *PermError) Error() string {
	return e.Err.Error()
}

func (e *PermError) Unwrap() error {
	return e.Err
}

func (e *PermError) IsPermanent() bool {
	return true
}

// IsPermanent reports whether anything in err's chain declares itself
// non-retryable.
func IsPermanent(err error) bool {
	var p interface{ IsPermanent() bool }
	return errors.As(err, &p) && p.IsPermanent()
}
