package router

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-mailer/app/broker"
)

// Bindings is the queue-to-handler table the listener attaches at startup.
func Bindings(welcomeQueue string, welcome broker.Handler, logger logrus.FieldLogger) []broker.Binding {
	return []broker.Binding{
		{Queue: welcomeQueue, Handler: SafetyNet(welcome, logger)},
	}
}

// SafetyNet turns a handler error into a 500 reply, so the caller gets an
// answer instead of waiting for its timeout.
func SafetyNet(next broker.Handler, logger logrus.FieldLogger) broker.Handler {
	return broker.HandlerFunc(func(ctx context.Context, req broker.Request) (broker.Response, error) {
		resp, err := next.Handle(ctx, req)
		if err == nil {
			return resp, nil
		}
		logger.WithFields(logrus.Fields{
			"queue":          req.Queue,
			"correlation_id": req.CorrelationID,
		}).WithError(err).Error("failed to send e-mail")
		return broker.Response{
			Code: http.StatusInternalServerError,
			Response: map[string]any{
				"message": "Error while sending e-mail.",
				"error":   err.Error(),
			},
		}, nil
	})
}
