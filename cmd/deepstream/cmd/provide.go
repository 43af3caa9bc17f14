package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tsarna/deepstream/pkg/deepstream/rpc"
)

var provideCmd = &cobra.Command{
	Use:   "provide <url> <rpc...>",
	Short: "Provide echo RPCs",
	Long: `Register as the provider of one or more RPCs that answer every call
with its own data, until interrupted. Useful for testing callers.

Example:
  deepstream provide localhost:6020 echo`,
	RunE: runProvide,
}

func init() {
	rootCmd.AddCommand(provideCmd)
}

func runProvide(cmd *cobra.Command, args []string) error {
	url, names, err := splitURL(args, 1)
	if err != nil {
		return err
	}

	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	s, err := connect(ctx, logger, url)
	if err != nil {
		return err
	}
	defer s.close()

	for _, name := range names {
		if err := s.client.RPC().Provide(name, echo(logger, name)); err != nil {
			return fmt.Errorf("failed to provide %s: %w", name, err)
		}
		logger.Info("Providing", zap.String("rpc", name))
	}

	logger.Info("Answering calls... (Press Ctrl+C to exit)")
	waitForSignal(ctx, logger)
	return nil
}

func echo(logger *zap.Logger, name string) rpc.ProviderFunc {
	return func(data any, response *rpc.Response) {
		logger.Debug("RPC received", zap.String("rpc", name), zap.Any("data", data))
		response.Send(data)
	}
}
