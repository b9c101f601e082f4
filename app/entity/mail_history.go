package entity

import "time"

const (
	MailStatusNew              int16 = 0
	MailStatusProcessing       int16 = 1
	MailStatusSuccess          int16 = 10
	MailStatusTemporaryFailure int16 = 40
	MailStatusUnknownFailure   int16 = 49
	MailStatusPermanentFailure int16 = 50
)

const TemplateWelcome = "welcome"

// MailHistory is one e-mail request as recorded in mail_history. RequestID is
// the broker correlation id, or a generated ULID for uncorrelated messages.
type MailHistory struct {
	RequestID     string
	Template      string
	Recipient     string
	RecipientName string
	Subject       string
	Content       string
	Status        int16
	Retries       int
	CreatedAt     time.Time
}
