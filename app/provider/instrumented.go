package provider

import (
	"context"

	"github.com/vibast-solutions/ms-go-mailer/app/metrics"
)

// Instrumented counts sends of the wrapped provider under name.
type Instrumented struct {
	name string
	next EmailProvider
}

func NewInstrumented(name string, next EmailProvider) *Instrumented {
	return &Instrumented{name: name, next: next}
}

func (p *Instrumented) SendRaw(ctx context.Context, recipient string, raw []byte) error {
	if err := p.next.SendRaw(ctx, recipient, raw); err != nil {
		metrics.MailSends.WithLabelValues(p.name, "failed").Inc()
		return err
	}
	metrics.MailSends.WithLabelValues(p.name, "sent").Inc()
	return nil
}
