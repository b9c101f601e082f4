package provider

import (
	"context"

	"github.com/sirupsen/logrus"
)

// NoopProvider logs instead of sending. Useful for local runs without a relay.
type NoopProvider struct {
	logger logrus.FieldLogger
}

func NewNoopProvider(logger logrus.FieldLogger) *NoopProvider {
	return &NoopProvider{logger: logger}
}

func (p *NoopProvider) SendRaw(_ context.Context, recipient string, raw []byte) error {
	p.logger.WithFields(logrus.Fields{
		"recipient": recipient,
		"bytes":     len(raw),
	}).Info("noop provider: e-mail not sent")
	return nil
}
