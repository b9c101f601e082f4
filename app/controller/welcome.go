package controller

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-mailer/app/broker"
	"github.com/vibast-solutions/ms-go-mailer/app/dto"
	"github.com/vibast-solutions/ms-go-mailer/app/service"
)

const (
	messageSent       = "E-mail enviado com sucesso!"
	messageSendFailed = "Erro interno ao enviar o e-mail. Tente novamente mais tarde."
	messageInProgress = "O envio deste e-mail já está em andamento."
)

type WelcomeController struct {
	emailService *service.EmailService
	logger       logrus.FieldLogger
}

// NewWelcomeController constructs the new-user e-mail controller.
func NewWelcomeController(emailService *service.EmailService, logger logrus.FieldLogger) *WelcomeController {
	return &WelcomeController{emailService: emailService, logger: logger}
}

// Handle validates the request and sends the welcome e-mail. The correlation
// id doubles as the request id, so a redelivered request is not sent twice.
func (c *WelcomeController) Handle(ctx context.Context, req broker.Request) (broker.Response, error) {
	in, err := dto.FromRequest(req)
	if err == nil {
		err = in.Validate()
	}
	if err != nil {
		return message(http.StatusBadRequest, err.Error()), nil
	}

	requestID := req.CorrelationID
	if requestID == "" {
		requestID = service.NewRequestID()
	}
	log := c.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"email":      in.Email,
	})

	err = c.emailService.SendWelcome(service.WithRequestID(ctx, requestID), in.Email, in.Name)
	switch {
	case err == nil:
		return message(http.StatusCreated, messageSent), nil
	case errors.Is(err, service.ErrAlreadySent):
		log.Info("welcome e-mail already sent, skipping")
		return message(http.StatusCreated, messageSent), nil
	case errors.Is(err, service.ErrDuplicateRequest):
		return message(http.StatusConflict, messageInProgress), nil
	default:
		log.WithError(err).Error("failed to send welcome e-mail")
		return message(http.StatusInternalServerError, messageSendFailed), nil
	}
}

func message(code int, text string) broker.Response {
	return broker.Response{Code: code, Response: map[string]any{"message": text}}
}
