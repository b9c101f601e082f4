package service

import "errors"

var (
	ErrDuplicateRequest = errors.New("request is already being processed")
	ErrAlreadySent      = errors.New("e-mail for this request was already sent")
)
