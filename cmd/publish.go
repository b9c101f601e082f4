package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-mailer/app/broker"
	"github.com/vibast-solutions/ms-go-mailer/app/logging"
	"github.com/vibast-solutions/ms-go-mailer/config"
)

var publishCmd = &cobra.Command{
	Use:   "publish <queue> <json>",
	Short: "Publish a message without waiting for a reply",
	Args:  cobra.ExactArgs(2),
	RunE:  runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)
}

type publishOutput struct {
	Queue     string `json:"queue"`
	Published bool   `json:"published"`
	Error     string `json:"error,omitempty"`
}

func runPublish(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.SetOutput(cmd.ErrOrStderr())

	payload, err := parsePayload(args[1])
	if err != nil {
		return err
	}

	conns := broker.NewConnectionManager(cfg.RabbitURL, broker.WithConnectionLogger(logger))
	defer conns.Close()

	result := broker.NewPublisher(conns, broker.WithPublisherLogger(logger)).Publish(cmd.Context(), args[0], payload)

	out := publishOutput{Queue: result.Queue, Published: result.Published}
	if result.Err != nil {
		out.Error = result.Err.Error()
	}
	if err := printJSON(cmd, out); err != nil {
		return err
	}
	if !result.OK() {
		return errors.New("message was not published")
	}
	return nil
}
