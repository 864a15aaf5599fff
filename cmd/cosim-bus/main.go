// Command cosim-bus hosts a reference guest and connects external device
// models to it over the co-simulation bus.
//
// Usage:
//
//	cosim-bus run --config bus.yaml
//	cosim-bus version
//
// The run command builds guest RAM, a real-time paced virtual clock and an
// interrupt controller, waits for every configured device to register,
// broadcasts Init and runs until SIGINT/SIGTERM or a device requests
// shutdown. Devices then receive Exit.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cosim-bus/cosim-go/pkg/config"
	"github.com/cosim-bus/cosim-go/pkg/version"
)

var (
	configPath  string
	logLevel    string
	protocolLog string
	advertise   bool
)

var rootCmd = &cobra.Command{
	Use:           "cosim-bus",
	Short:         "Co-simulation bus host for external device models",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the guest and serve configured devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := config.Default()
		if configPath != "" {
			var err error
			if f, err = config.Load(configPath); err != nil {
				return err
			}
		}
		if cmd.Flags().Changed("log-level") {
			f.LogLevel = logLevel
		}
		if protocolLog != "" {
			f.ProtocolLog = protocolLog
		}
		if advertise {
			f.Advertise = true
		}

		level, err := f.Level()
		if err != nil {
			return fmt.Errorf("log level: %w", err)
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx, f, logger)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the bus protocol version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "cosim-bus protocol %s\n", version.Describe(version.BusVersion))
	},
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file (YAML)")
	runCmd.Flags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "Log level: debug, info, warn, error")
	runCmd.Flags().StringVar(&protocolLog, "protocol-log", "", "Write a protocol capture to this file")
	runCmd.Flags().BoolVar(&advertise, "advertise", false, "Advertise TCP attach points over mDNS")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
