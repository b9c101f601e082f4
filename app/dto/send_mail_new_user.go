package dto

import (
	"errors"
	"net/mail"
	"strings"

	"github.com/vibast-solutions/ms-go-mailer/app/broker"
)

var (
	ErrInvalidBody   = errors.New("request body must be a JSON object")
	ErrMissingFields = errors.New("email and name are required")
	ErrInvalidEmail  = errors.New("email must be a valid email address")
)

type SendMailNewUserRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// FromRequest reads and normalizes a welcome request from a consumed message.
// Non-string fields are treated as missing.
func FromRequest(req broker.Request) (SendMailNewUserRequest, error) {
	body, ok := req.Body.(map[string]any)
	if !ok {
		return SendMailNewUserRequest{}, ErrInvalidBody
	}
	dto := SendMailNewUserRequest{
		Email: stringField(body, "email"),
		Name:  stringField(body, "name"),
	}
	dto.normalize()
	return dto, nil
}

// Validate checks required fields and the address format.
func (r *SendMailNewUserRequest) Validate() error {
	if r.Email == "" || r.Name == "" {
		return ErrMissingFields
	}
	addr, err := mail.ParseAddress(r.Email)
	if err != nil || addr.Address != r.Email {
		return ErrInvalidEmail
	}
	return nil
}

func (r *SendMailNewUserRequest) normalize() {
	r.Email = strings.TrimSpace(r.Email)
	r.Name = strings.TrimSpace(r.Name)
}

func stringField(body map[string]any, key string) string {
	s, _ := body[key].(string)
	return s
}
