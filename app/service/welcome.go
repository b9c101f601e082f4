package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-mailer/app/entity"
	"github.com/vibast-solutions/ms-go-mailer/app/lock"
	"github.com/vibast-solutions/ms-go-mailer/app/preparer"
	"github.com/vibast-solutions/ms-go-mailer/app/provider"
	"github.com/vibast-solutions/ms-go-mailer/app/repository"
)

const lockTTL = 2 * time.Minute

// History persists the lifecycle of each mail request.
type History interface {
	Create(ctx context.Context, h entity.MailHistory) error
	FindByRequestID(ctx context.Context, requestID string) (*entity.MailHistory, error)
	UpdateStatus(ctx context.Context, requestID string, status int16) error
	UpdateContent(ctx context.Context, requestID string, content string) error
	IncrementRetries(ctx context.Context, requestID string) error
}

type EmailService struct {
	preparer preparer.EmailPreparer
	provider provider.EmailProvider
	history  History
	locker   lock.Locker
	logger   logrus.FieldLogger
}

// NewEmailService builds the email service with dependencies.
func NewEmailService(preparer preparer.EmailPreparer, provider provider.EmailProvider, history History, locker lock.Locker, logger logrus.FieldLogger) *EmailService {
	return &EmailService{preparer: preparer, provider: provider, history: history, locker: locker, logger: logger}
}

// WelcomeSubject is the subject line of the new-user e-mail.
func WelcomeSubject(name string) string {
	return "Seja bem vindo(a) " + name
}

// WelcomeBody is the HTML body of the new-user e-mail.
func WelcomeBody(name string) string {
	return "<p>Seja bem vindo(a) " + html.EscapeString(name) + "</p>"
}

// SendWelcome sends the new-user e-mail for the request ID in ctx. A request
// already sent returns ErrAlreadySent; one held by another worker returns
// ErrDuplicateRequest.
func (s *EmailService) SendWelcome(ctx context.Context, email string, name string) error {
	requestID, ok := RequestIDFromContext(ctx)
	if !ok || requestID == "" {
		return fmt.Errorf("request_id is required in context")
	}
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if name == "" {
		return fmt.Errorf("name is required")
	}

	log := s.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"email":      email,
	})

	lockKey := lock.Key(entity.TemplateWelcome, requestID)
	if err := s.locker.Acquire(ctx, lockKey, lockTTL); err != nil {
		if errors.Is(err, lock.ErrNotAcquired) || errors.Is(err, lock.ErrAlreadyHeld) {
			return ErrDuplicateRequest
		}
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer func() {
		if err := s.locker.Release(context.Background(), lockKey); err != nil {
			log.WithError(err).Warn("failed to release lock")
		}
	}()

	msg := preparer.Message{
		Recipient:     email,
		RecipientName: name,
		Subject:       WelcomeSubject(name),
		Content:       WelcomeBody(name),
	}
	if err := s.record(ctx, requestID, msg); err != nil {
		return err
	}

	if err := s.history.UpdateStatus(ctx, requestID, entity.MailStatusProcessing); err != nil {
		return fmt.Errorf("update status to processing: %w", err)
	}

	raw, err := s.preparer.Prepare(ctx, msg)
	if err != nil {
		return s.fail(ctx, requestID, entity.MailStatusTemporaryFailure, fmt.Errorf("prepare email content: %w", err))
	}

	if err := s.history.UpdateContent(ctx, requestID, string(raw)); err != nil {
		return s.fail(ctx, requestID, entity.MailStatusTemporaryFailure, fmt.Errorf("update mail history content: %w", err))
	}

	if err := s.provider.SendRaw(ctx, email, raw); err != nil {
		status := entity.MailStatusTemporaryFailure
		if provider.IsPermanent(err) {
			status = entity.MailStatusPermanentFailure
		}
		return s.fail(ctx, requestID, status, err)
	}

	if err := s.history.UpdateStatus(ctx, requestID, entity.MailStatusSuccess); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	log.Info("welcome e-mail sent")
	return nil
}

// record creates the history entry, or counts a retry of an unfinished one.
func (s *EmailService) record(ctx context.Context, requestID string, msg preparer.Message) error {
	existing, err := s.history.FindByRequestID(ctx, requestID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		err = s.history.Create(ctx, entity.MailHistory{
			RequestID:     requestID,
			Template:      entity.TemplateWelcome,
			Recipient:     msg.Recipient,
			RecipientName: msg.RecipientName,
			Subject:       msg.Subject,
			Status:        entity.MailStatusNew,
		})
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrDuplicateRequest
		}
		if err != nil {
			return fmt.Errorf("create mail history: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("load mail history: %w", err)
	case existing.Status == entity.MailStatusSuccess:
		return ErrAlreadySent
	default:
		if err := s.history.IncrementRetries(ctx, requestID); err != nil {
			return fmt.Errorf("increment retries: %w", err)
		}
		return nil
	}
}

func (s *EmailService) fail(ctx context.Context, requestID string, status int16, cause error) error {
	if err := s.history.UpdateStatus(ctx, requestID, status); err != nil {
		return fmt.Errorf("%v; update status: %w", cause, err)
	}
	return cause
}
