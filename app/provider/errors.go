package provider

import (
	"errors"
	"fmt"
	"net/textproto"
)

// PermanentError marks a send the receiving side rejected for good. Retrying
// the same message will fail the same way.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent send failure: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// classifySMTP marks 5xx SMTP replies as permanent. Anything else, including
// network failures and 4xx replies, is left as is.
func classifySMTP(err error) error {
	var reply *textproto.Error
	if errors.As(err, &reply) && reply.Code >= 500 && reply.Code < 600 {
		return &PermanentError{Err: err}
	}
	return err
}
