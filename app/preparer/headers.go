package preparer

import (
	"context"
	"fmt"
	"strings"
)

// HeaderGuard rejects header values that could inject extra headers.
type HeaderGuard struct{}

func (HeaderGuard) Prepare(_ context.Context, msg *Message) error {
	if strings.TrimSpace(msg.Recipient) == "" {
		return fmt.Errorf("recipient is required")
	}
	if strings.TrimSpace(msg.Subject) == "" {
		return fmt.Errorf("subject is required")
	}
	for name, value := range map[string]string{
		"recipient":      msg.Recipient,
		"recipient name": msg.RecipientName,
		"subject":        msg.Subject,
	} {
		if strings.ContainsAny(value, "\r\n") {
			return fmt.Errorf("%s contains invalid characters", name)
		}
	}
	return nil
}
