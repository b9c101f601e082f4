package cmd

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-mailer/app/broker"
	"github.com/vibast-solutions/ms-go-mailer/app/metrics"
)

type stateReporter interface {
	State() broker.State
}

type listenerReporter interface {
	Detached() []string
}

// setupOpsServer exposes health and metrics for the listener process. The
// process is healthy while the shared channel is ready and every listener
// has a consumer.
func setupOpsServer(conns stateReporter, listeners listenerReporter, logger logrus.FieldLogger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			logger.WithFields(logrus.Fields{
				"method": v.Method,
				"uri":    v.URI,
				"status": v.Status,
			}).Debug("ops request")
			return nil
		},
	}))

	e.GET("/health", func(c echo.Context) error {
		state := conns.State()
		detached := listeners.Detached()
		if state != broker.StateReady || len(detached) > 0 {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{
				"status":   "unavailable",
				"broker":   state.String(),
				"detached": detached,
			})
		}
		return c.JSON(http.StatusOK, map[string]any{"status": "ok", "broker": state.String()})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	return e
}
