package repository

import (
	"context"

	"github.com/vibast-solutions/ms-go-mailer/app/entity"
)

// NopMailHistory records nothing. It stands in for MailHistoryRepository when
// no database is configured.
type NopMailHistory struct{}

func (NopMailHistory) Create(context.Context, entity.MailHistory) error { return nil }

func (NopMailHistory) FindByRequestID(context.Context, string) (*entity.MailHistory, error) {
	return nil, ErrNotFound
}

func (NopMailHistory) UpdateStatus(context.Context, string, int16) error { return nil }

func (NopMailHistory) UpdateContent(context.Context, string, string) error { return nil }

func (NopMailHistory) IncrementRetries(context.Context, string) error { return nil }
