package preparer

import (
	"context"
	"fmt"
)

// EmailPreparer turns a composed message into the raw MIME bytes a provider
// sends.
type EmailPreparer interface {
	Prepare(ctx context.Context, msg Message) ([]byte, error)
}

type Message struct {
	Recipient     string
	RecipientName string
	Subject       string
	Content       string
	Raw           []byte
}

type Step interface {
	Prepare(ctx context.Context, msg *Message) error
}

// StepFunc adapts a function to Step.
type StepFunc func(ctx context.Context, msg *Message) error

func (f StepFunc) Prepare(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

type Chain struct {
	steps []Step
}

// NewChain builds an email preparer chain from steps.
func NewChain(steps ...Step) *Chain {
	return &Chain{steps: steps}
}

// Prepare runs all steps in order on a copy of msg and returns the final raw
// message.
func (c *Chain) Prepare(ctx context.Context, msg Message) ([]byte, error) {
	for _, step := range c.steps {
		if err := step.Prepare(ctx, &msg); err != nil {
			return nil, err
		}
	}

	if len(msg.Raw) == 0 {
		return nil, fmt.Errorf("prepared raw message is empty")
	}

	return msg.Raw, nil
}
