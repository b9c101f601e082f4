package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SESClient is the part of *sesv2.Client the provider calls.
type SESClient interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type SESProvider struct {
	client SESClient
	source string
}

// NewSESProvider builds a provider that sends email via AWS SES.
func NewSESProvider(cfg aws.Config, source string) *SESProvider {
	return NewSESProviderWithClient(sesv2.NewFromConfig(cfg), source)
}

func NewSESProviderWithClient(client SESClient, source string) *SESProvider {
	return &SESProvider{client: client, source: source}
}

// SendRaw sends a raw MIME email via SES.
func (p *SESProvider) SendRaw(ctx context.Context, recipient string, raw []byte) error {
	if recipient == "" {
		return &PermanentError{Err: fmt.Errorf("recipient is required")}
	}
	if len(raw) == 0 {
		return &PermanentError{Err: fmt.Errorf("raw content is required")}
	}

	_, err := p.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(p.source),
		Destination: &types.Destination{
			ToAddresses: []string{recipient},
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	})
	if err != nil {
		return classifySES(fmt.Errorf("ses send raw email: %w", err))
	}

	return nil
}

// classifySES marks rejections SES will repeat for the same message as
// permanent. Throttling and service errors stay retryable.
func classifySES(err error) error {
	var (
		rejected   *types.MessageRejected
		unverified *types.MailFromDomainNotVerifiedException
		badRequest *types.BadRequestException
	)
	if errors.As(err, &rejected) || errors.As(err, &unverified) || errors.As(err, &badRequest) {
		return &PermanentError{Err: err}
	}
	return err
}
