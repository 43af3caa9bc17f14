package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var callCmd = &cobra.Command{
	Use:   "call <url> <rpc> [data]",
	Short: "Make a remote procedure call",
	Long: `Make a remote procedure call and print its JSON result.

Examples:
  deepstream call localhost:6020 add '{"a":1,"b":2}'
  deepstream call localhost:6020 time --timeout 2s`,
	RunE: runCall,
}

var callTimeout time.Duration

func init() {
	rootCmd.AddCommand(callCmd)

	callCmd.Flags().DurationVar(&callTimeout, "timeout", 10*time.Second, "how long to wait for the result")
}

func runCall(cmd *cobra.Command, args []string) error {
	url, rest, err := splitURL(args, 1)
	if err != nil {
		return err
	}
	name := rest[0]
	var data any
	if len(rest) > 1 {
		data = parseData(rest[1])
	}

	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	s, err := connect(cmd.Context(), logger, url)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
	defer cancel()

	result, err := s.client.RPC().Make(ctx, name, data)
	if err != nil {
		return fmt.Errorf("rpc %s failed: %w", name, err)
	}
	logger.Debug("RPC completed", zap.String("rpc", name))

	out, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
