package broker

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	ErrManagerClosed = errors.New("broker: connection manager is closed")
	ErrHandlerPanic  = errors.New("broker: handler panicked")
	ErrNilHandler    = errors.New("broker: binding has no handler")
	ErrEmptyQueue    = errors.New("broker: binding has no queue name")
)

// ConnectionError reports that the broker could not be reached or a channel
// could not be opened.
type ConnectionError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("broker connection error: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// DecodeError reports a message body that is not valid JSON.
type DecodeError struct {
	Raw []byte
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode payload: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// HandlerError reports a handler that failed or panicked while processing a
// message from Queue.
type HandlerError struct {
	Queue string
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler for queue %s failed: %v", e.Queue, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// PublishError reports a failed publish to Queue.
type PublishError struct {
	Queue string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s failed: %v", e.Queue, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// SanitizeURL hides the password of a broker URL for logs and errors.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
