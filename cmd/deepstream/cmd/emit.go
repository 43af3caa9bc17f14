package cmd

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var emitCmd = &cobra.Command{
	Use:   "emit <url> <event> <data>",
	Short: "Emit an event",
	Long: `Emit an event with a JSON payload, or a plain string when the data is
not valid JSON.

With --schedule the event is emitted on a cron schedule until interrupted.
Schedules take an optional seconds field and descriptors such as @every.

Examples:
  deepstream emit localhost:6020 news '{"headline":"hello"}'
  deepstream emit localhost:6020 heartbeat ping --schedule '@every 5s'
  deepstream emit localhost:6020 report '"daily"' --schedule '0 0 9 * * MON-FRI'`,
	RunE: runEmit,
}

var emitSchedule string

func init() {
	rootCmd.AddCommand(emitCmd)

	emitCmd.Flags().StringVar(&emitSchedule, "schedule", "", "cron schedule to repeat the emit on")
}

func runEmit(cmd *cobra.Command, args []string) error {
	url, rest, err := splitURL(args, 2)
	if err != nil {
		return err
	}
	name, data := rest[0], parseData(rest[1])

	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	var schedule cron.Schedule
	if emitSchedule != "" {
		if schedule, err = cronParser.Parse(emitSchedule); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", emitSchedule, err)
		}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	s, err := connect(ctx, logger, url)
	if err != nil {
		return err
	}
	defer s.close()

	emit := func() {
		if err := s.client.Event().Emit(name, data); err != nil {
			logger.Error("Failed to emit", zap.String("event", name), zap.Error(err))
			return
		}
		logger.Info("Emitted", zap.String("event", name), zap.Any("data", data))
	}

	if schedule == nil {
		emit()
		return nil
	}

	c := cron.New(cron.WithLogger(NewZapCronLogger(logger)), cron.WithParser(cronParser))
	c.Schedule(schedule, cron.FuncJob(emit))
	c.Start()
	logger.Info("Emitting on schedule... (Press Ctrl+C to exit)", zap.String("schedule", emitSchedule))

	waitForSignal(ctx, logger)
	<-c.Stop().Done()
	return nil
}
