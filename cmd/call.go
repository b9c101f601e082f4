package cmd

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-mailer/app/broker"
	"github.com/vibast-solutions/ms-go-mailer/app/logging"
	"github.com/vibast-solutions/ms-go-mailer/config"
)

var callTimeoutMs int

var callCmd = &cobra.Command{
	Use:   "call <queue> <json>",
	Short: "Send an RPC request and print the reply",
	Long:  "Publish <json> to <queue> with a private reply queue and print the {code, response} envelope. Timeouts print code 408.",
	Args:  cobra.ExactArgs(2),
	RunE:  runCall,
}

func init() {
	callCmd.Flags().IntVar(&callTimeoutMs, "timeout", 0, "reply timeout in milliseconds (defaults to RABBITMQ_TIMEOUT)")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
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

	client := broker.NewRPCClient(cfg.RabbitURL,
		broker.WithClientLogger(logger),
		broker.WithDefaultTimeout(cfg.RPCTimeout),
	)
	resp := client.Call(cmd.Context(), args[0], payload, time.Duration(callTimeoutMs)*time.Millisecond)

	return printJSON(cmd, resp)
}

// parsePayload decodes a JSON command-line argument.
func parsePayload(raw string) (any, error) {
	var v any
	if err := sonic.ConfigStd.UnmarshalFromString(raw, &v); err != nil {
		return nil, fmt.Errorf("invalid JSON payload: %w", err)
	}
	return v, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := broker.EncodePayload(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}
