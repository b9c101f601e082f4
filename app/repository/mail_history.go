package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vibast-solutions/ms-go-mailer/app/entity"
)

var ErrNotFound = errors.New("mail history not found")

type MailHistoryRepository struct {
	db *sql.DB
}

// NewMailHistoryRepository constructs a repository backed by MySQL.
func NewMailHistoryRepository(db *sql.DB) *MailHistoryRepository {
	return &MailHistoryRepository{db: db}
}

// Create inserts a new history record.
func (r *MailHistoryRepository) Create(ctx context.Context, h entity.MailHistory) error {
	const query = `
		INSERT INTO mail_history (request_id, template, recipient, recipient_name, subject, content, status, retries)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
	`
	_, err := r.db.ExecContext(ctx, query, h.RequestID, h.Template, h.Recipient, h.RecipientName, h.Subject, h.Content, h.Status)
	return err
}

// FindByRequestID loads a record, or returns ErrNotFound.
func (r *MailHistoryRepository) FindByRequestID(ctx context.Context, requestID string) (*entity.MailHistory, error) {
	const query = `
		SELECT request_id, template, recipient, recipient_name, subject, content, status, retries, created_at
		FROM mail_history
		WHERE request_id = ?
	`
	var h entity.MailHistory
	err := r.db.QueryRowContext(ctx, query, requestID).Scan(
		&h.RequestID, &h.Template, &h.Recipient, &h.RecipientName, &h.Subject, &h.Content, &h.Status, &h.Retries, &h.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// UpdateStatus updates the status for a request ID.
func (r *MailHistoryRepository) UpdateStatus(ctx context.Context, requestID string, status int16) error {
	const query = `
		UPDATE mail_history
		SET status = ?
		WHERE request_id = ?
	`
	_, err := r.db.ExecContext(ctx, query, status, requestID)
	return err
}

// UpdateContent stores the prepared raw MIME message.
func (r *MailHistoryRepository) UpdateContent(ctx context.Context, requestID string, content string) error {
	const query = `
		UPDATE mail_history
		SET content = ?
		WHERE request_id = ?
	`
	_, err := r.db.ExecContext(ctx, query, content, requestID)
	return err
}

// IncrementRetries counts another processing attempt of an existing request.
func (r *MailHistoryRepository) IncrementRetries(ctx context.Context, requestID string) error {
	const query = `
		UPDATE mail_history
		SET retries = retries + 1
		WHERE request_id = ?
	`
	_, err := r.db.ExecContext(ctx, query, requestID)
	return err
}
