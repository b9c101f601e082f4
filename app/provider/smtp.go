package provider

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// SMTPDialer opens an SMTP session. *gomail.Dialer implements it.
type SMTPDialer interface {
	Dial() (gomail.SendCloser, error)
}

// SMTPProvider sends through an SMTP relay such as Mailtrap. Each attempt
// opens its own session; failed attempts are retried with linear backoff.
// A 5xx reply is not retried and comes back as a PermanentError.
type SMTPProvider struct {
	dialer  SMTPDialer
	from    string
	retries int
	backoff time.Duration
	logger  logrus.FieldLogger
}

type SMTPOption func(*SMTPProvider)

// WithRetries sets how many times a failed send is retried.
func WithRetries(retries int) SMTPOption {
	return func(p *SMTPProvider) {
		if retries >= 0 {
			p.retries = retries
		}
	}
}

// WithBackoff sets the delay before the first retry. Later retries wait
// proportionally longer.
func WithBackoff(backoff time.Duration) SMTPOption {
	return func(p *SMTPProvider) {
		p.backoff = backoff
	}
}

func WithSMTPLogger(logger logrus.FieldLogger) SMTPOption {
	return func(p *SMTPProvider) {
		p.logger = logger
	}
}

// NewSMTPDialer builds a gomail dialer for host:port with plain auth.
func NewSMTPDialer(host string, port int, user string, password string) *gomail.Dialer {
	return gomail.NewDialer(host, port, user, password)
}

// NewSMTPProvider creates a provider using from as the envelope sender.
func NewSMTPProvider(dialer SMTPDialer, from string, opts ...SMTPOption) *SMTPProvider {
	p := &SMTPProvider{
		dialer:  dialer,
		from:    from,
		retries: 2,
		backoff: 500 * time.Millisecond,
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *SMTPProvider) SendRaw(ctx context.Context, recipient string, raw []byte) error {
	if recipient == "" {
		return &PermanentError{Err: fmt.Errorf("recipient is required")}
	}
	if len(raw) == 0 {
		return &PermanentError{Err: fmt.Errorf("raw content is required")}
	}

	var err error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("smtp send to %s: %w (last error: %v)", recipient, ctx.Err(), err)
			case <-time.After(p.backoff * time.Duration(attempt)):
			}
		}

		if err = p.send(recipient, raw); err == nil {
			return nil
		}
		p.logger.WithFields(logrus.Fields{
			"recipient": recipient,
			"attempt":   attempt + 1,
		}).WithError(err).Warn("smtp send failed")
		if IsPermanent(err) {
			break
		}
	}

	return fmt.Errorf("smtp send to %s: %w", recipient, err)
}

func (p *SMTPProvider) send(recipient string, raw []byte) error {
	s, err := p.dialer.Dial()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer s.Close()

	return classifySMTP(s.Send(p.from, []string{recipient}, bytes.NewReader(raw)))
}
