package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-mailer/app/broker"
	"github.com/vibast-solutions/ms-go-mailer/app/controller"
	"github.com/vibast-solutions/ms-go-mailer/app/logging"
	"github.com/vibast-solutions/ms-go-mailer/app/preparer"
	"github.com/vibast-solutions/ms-go-mailer/app/router"
	"github.com/vibast-solutions/ms-go-mailer/app/service"
	"github.com/vibast-solutions/ms-go-mailer/config"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Answer mail requests from RabbitMQ",
	Long:  "Consume RABBIT_QUEUE, send a welcome e-mail for each request and reply to the caller. Listeners re-attach after a broker disconnect. Serves /health and /metrics on the ops address.",
	Args:  cobra.NoArgs,
	RunE:  runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)
}

func runListen(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	policy, err := broker.ParseRejectPolicy(cfg.RejectPolicy)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	res := &resources{}
	defer res.Close()

	history, err := buildHistory(ctx, cfg, res)
	if err != nil {
		return fmt.Errorf("mail history: %w", err)
	}
	locker, err := buildLocker(ctx, cfg, res)
	if err != nil {
		return fmt.Errorf("lock backend: %w", err)
	}
	emailProvider, err := buildEmailProvider(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("email provider: %w", err)
	}

	emailPreparer := preparer.NewChain(preparer.HeaderGuard{}, preparer.NewMIMEPreparer(cfg.MailFrom, cfg.MailFromName))
	emailService := service.NewEmailService(emailPreparer, emailProvider, history, locker, logger)
	welcome := controller.NewWelcomeController(emailService, logger)

	conns := broker.NewConnectionManager(cfg.RabbitURL, broker.WithConnectionLogger(logger))
	defer conns.Close()

	server := broker.NewServer(conns,
		broker.WithServerLogger(logger),
		broker.WithRejectPolicy(policy),
		broker.WithPrefetch(cfg.Prefetch),
	)
	if err := broker.AttachAll(ctx, server, router.Bindings(cfg.RabbitQueue, welcome, logger)); err != nil {
		return err
	}

	ops := setupOpsServer(conns, server, logger)
	opsAddr := net.JoinHostPort(cfg.OpsHost, cfg.OpsPort)
	go func() {
		logger.WithField("addr", opsAddr).Info("starting ops server")
		if err := ops.Start(opsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("ops server error")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("ops server shutdown error")
	}
	server.Wait()

	logger.Info("listener stopped")
	return nil
}
