package provider

import "context"

// EmailProvider delivers a prepared MIME message to one recipient.
type EmailProvider interface {
	SendRaw(ctx context.Context, recipient string, raw []byte) error
}
