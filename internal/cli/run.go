package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stridekit/stride/internal/config"
	"github.com/stridekit/stride/internal/engine"
	"github.com/stridekit/stride/internal/output"
	"github.com/stridekit/stride/internal/scenario"
)

var (
	runConfigPath string
	runNoColor    bool
	runVerbose    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scenarios of a configuration file",
	Long: `Run loads a YAML run configuration, spawns the configured actors, and
drives their scenarios to completion. The first interrupt drains the
run gracefully (current iterations finish); a second one aborts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoadTest(cmd.Context())
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file without running it",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(runConfigPath); err != nil {
			return err
		}
		fmt.Println("configuration is valid")
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{runCmd, validateCmd} {
		cmd.Flags().StringVarP(&runConfigPath, "config", "c", "stride.yaml", "path to the run configuration")
	}
	runCmd.Flags().BoolVar(&runNoColor, "no-color", false, "disable colored output")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "enable debug logging")
}

func runLoadTest(parent context.Context) error {
	level := zerolog.InfoLevel
	if runVerbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: runNoColor}).
		Level(level).With().Timestamp().Logger()

	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	eng := engine.New(cfg, logger, engine.Options{})

	interrupts := make(chan os.Signal, 2)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)
	go func() {
		select {
		case <-interrupts:
			logger.Warn().Msg("interrupt received, draining run")
			eng.Drain()
		case <-ctx.Done():
			return
		}
		select {
		case <-interrupts:
			logger.Error().Msg("second interrupt, aborting run")
			cancel()
		case <-ctx.Done():
		}
	}()

	result, runErr := eng.Run(ctx)
	if result == nil {
		return runErr
	}

	console := output.NewConsole(os.Stdout, runNoColor)
	console.Summary(result.Name, result.Stats)

	if runErr != nil && !scenario.IsGracefulStop(runErr) {
		return runErr
	}
	return nil
}
