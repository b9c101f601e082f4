package preparer

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"
)

// MIMEPreparer renders an HTML message with gomail.
type MIMEPreparer struct {
	from     string
	fromName string
}

// NewMIMEPreparer creates a step that sends as fromName <from>.
func NewMIMEPreparer(from string, fromName string) *MIMEPreparer {
	return &MIMEPreparer{from: from, fromName: fromName}
}

func (p *MIMEPreparer) Prepare(_ context.Context, msg *Message) error {
	if strings.TrimSpace(p.from) == "" {
		return fmt.Errorf("source email is required")
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", p.from, p.fromName)
	m.SetAddressHeader("To", msg.Recipient, msg.RecipientName)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.Content)

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return fmt.Errorf("render mime message: %w", err)
	}
	msg.Raw = buf.Bytes()
	return nil
}
