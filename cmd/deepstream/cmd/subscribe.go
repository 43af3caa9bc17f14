package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tsarna/deepstream/pkg/deepstream/event"
	"github.com/tsarna/deepstream/pkg/deepstream/subutils"
	"github.com/tsarna/deepstream/pkg/deepstream/transform"
)

var subscribeCmd = &cobra.Command{
	Use:   "subscribe <url> <event...>",
	Short: "Subscribe to events and print them",
	Long: `Subscribe to one or more events and print every one received as
"name<TAB>json" on stdout until interrupted.

Examples:
  deepstream subscribe localhost:6020 news
  deepstream subscribe localhost:6020 sensor/t1 sensor/t2 --jq '.value'
  deepstream --config client.hcl subscribe chat/lobby --drop 'chat/+/typing'`,
	RunE: runSubscribe,
}

var (
	subscribeJq        string
	subscribeDrop      []string
	subscribeQueueSize int
)

func init() {
	rootCmd.AddCommand(subscribeCmd)

	subscribeCmd.Flags().StringVar(&subscribeJq, "jq", "", "jq query applied to each event's data; $name holds the event name")
	subscribeCmd.Flags().StringSliceVar(&subscribeDrop, "drop", nil, "drop events whose names match these MQTT-style patterns")
	subscribeCmd.Flags().IntVar(&subscribeQueueSize, "queue-size", 100, "events buffered for printing")
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	url, names, err := splitURL(args, 1)
	if err != nil {
		return err
	}

	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	transforms := make([]transform.EventTransformFunc, 0, len(subscribeDrop)+1)
	for _, pattern := range subscribeDrop {
		transforms = append(transforms, transform.DropNamePattern(pattern))
	}
	if subscribeJq != "" {
		jq, err := transform.JqTransform(subscribeJq, logger)
		if err != nil {
			return err
		}
		transforms = append(transforms, jq)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	s, err := connect(ctx, logger, url)
	if err != nil {
		return err
	}
	defer s.close()

	printer := subutils.NewAsyncQueueingSubscriber(&printingSubscriber{logger: logger}, subscribeQueueSize).
		WithLogger(logger).
		Start()
	defer printer.Close()

	var subscriber event.Subscriber = subutils.NewTransformingSubscriber(printer, transforms...)
	if debug {
		subscriber = subutils.NewNamedLoggingSubscriber(subscriber, logger, zap.DebugLevel, "cli")
	}

	for _, name := range names {
		if _, err := s.client.Event().Subscribe(name, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", name, err)
		}
		logger.Info("Subscribed", zap.String("event", name))
	}

	logger.Info("Listening for events... (Press Ctrl+C to exit)")
	waitForSignal(ctx, logger)
	return nil
}

type printingSubscriber struct {
	event.BaseSubscriber
	logger *zap.Logger
}

func (s *printingSubscriber) OnEvent(ctx context.Context, name string, data any) error {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		fmt.Printf("%s\t<error marshaling JSON: %v>\n", name, err)
		s.logger.Warn("Failed to marshal event to JSON",
			zap.String("event", name),
			zap.Error(err))
		return nil
	}
	fmt.Printf("%s\t%s\n", name, string(jsonBytes))
	return nil
}
