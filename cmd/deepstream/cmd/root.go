package cmd

import (
	"time"

	"github.com/spf13/cobra"
)

// Version is reported to tracing backends.
var Version = "dev"

var (
	verbose         bool
	debug           bool
	logLevel        string
	configPaths     []string
	clientName      string
	authJSON        string
	metricsListen   string
	metricsEvent    string
	metricsInterval time.Duration
	tracing         bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "deepstream",
	Short: "deepstream command line client",
	Long: `A command line client for deepstream servers.

Every command takes the server URL as its first argument, e.g.
"localhost:6020" or "wss://example.com/deepstream". With --config the URL
and the connection options come from the client block of an HCL file
instead, and the URL argument is omitted.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.BoolVarP(&debug, "debug", "d", false, "debug output")
	flags.StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")
	flags.StringSliceVarP(&configPaths, "config", "c", nil, "HCL config files or directories")
	flags.StringVar(&clientName, "client", "", "client block to use when the config defines several")
	flags.StringVar(&authJSON, "auth", "", "login parameters as JSON, e.g. '{\"username\":\"alice\"}'")
	flags.StringVar(&metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address, e.g. :9090")
	flags.StringVar(&metricsEvent, "metrics-event", "", "publish metrics snapshots as this deepstream event")
	flags.DurationVar(&metricsInterval, "metrics-interval", 30*time.Second, "how often --metrics-event publishes")
	flags.BoolVar(&tracing, "trace", false, "trace RPC calls with the global OpenTelemetry tracer")
}
