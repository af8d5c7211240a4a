// Package cmd defines the pagecounter command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagecount-runner/internal/app"
	"github.com/JakeFAU/pagecount-runner/internal/config"
	"github.com/JakeFAU/pagecount-runner/internal/logging"
	"github.com/JakeFAU/pagecount-runner/internal/processor"
	"github.com/JakeFAU/pagecount-runner/internal/seed"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the command needs from the service container. Tests inject
// their own through newApp.
type App interface {
	Seed(ctx context.Context) (seed.Result, error)
	Consume(ctx context.Context) (processor.Summary, error)
	Logger() *zap.Logger
	Close() error
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

type options struct {
	cfgFile string
	queue   bool
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "pagecounter",
		Short: "Counts images and links on queued web pages.",
		Long: `pagecounter consumes URLs from a workqueue, loads each one in a headless
browser and records how many <img> elements and linked <a> elements it has.
Run it with --queue to reset the workqueue to the seed list instead.`,
		Args:               cobra.ArbitraryArgs,
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		SilenceUsage:       true,
		SilenceErrors:      true,

		// Builds the application before RunE and stores it in the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Name: cfg.Logging.Name})
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				if cerr := appInstance.Close(); cerr != nil {
					appInstance.Logger().Warn("error shutting down application services", zap.Error(cerr))
				}
			}()
			if opts.queue {
				return runSeed(cmd.Context(), appInstance)
			}
			return runConsume(cmd.Context(), appInstance)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.Flags().BoolVar(&opts.queue, "queue", false, "clear new items and enqueue the seed list, then exit")

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func runSeed(ctx context.Context, a App) error {
	res, err := a.Seed(ctx)
	if err != nil {
		return fmt.Errorf("seed queue: %w", err)
	}
	a.Logger().Info("seed finished", zap.Int("added", res.Added), zap.Int("failed", len(res.Failures)))
	return nil
}

// runConsume treats item failures and interruption as a normal end of run.
func runConsume(ctx context.Context, a App) error {
	sum, err := a.Consume(ctx)
	if errors.Is(err, context.Canceled) {
		a.Logger().Info("run interrupted", zap.Int("processed", sum.Processed))
		return nil
	}
	if err != nil {
		return fmt.Errorf("consume queue: %w", err)
	}
	return nil
}

// normalizeArgs drops empty arguments and splits the single parameter
// string some orchestrators pass into separate arguments.
func normalizeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		out = append(out, strings.Fields(arg)...)
	}
	return out
}

// ExecuteContext runs the root command with args.
func ExecuteContext(ctx context.Context, args []string) error {
	cmd := newRootCmd()
	cmd.SetArgs(normalizeArgs(args))
	return cmd.ExecuteContext(ctx)
}

// Execute is the main entry point. SIGINT and SIGTERM end the run at the
// next blocking point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ExecuteContext(ctx, os.Args[1:]); err != nil {
		stop()
		logger, lerr := logging.New(logging.Config{Name: "pagecounter"})
		if lerr != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		logger.Fatal("command execution failed", zap.Error(err))
	}
}
