// Command gymctl runs routing and maintenance operations against the
// configured AWS stack from a terminal.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/proactiveitadmin/gym-integrator/internal/app"
	"github.com/proactiveitadmin/gym-integrator/internal/config"
	"github.com/proactiveitadmin/gym-integrator/internal/logging"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:           "gymctl",
	Short:         "Gym integrator operator CLI",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL")

	rootCmd.AddCommand(routeCmd())
	rootCmd.AddCommand(purgeStatsCmd())
	rootCmd.AddCommand(releaseAgentCmd())
	rootCmd.AddCommand(setLanguageCmd())
	rootCmd.AddCommand(tenantLanguageCmd())
	rootCmd.AddCommand(putTemplateCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "gymctl:", err)
		os.Exit(1)
	}
}

// loadApp reads configuration, installs the logger on stderr and builds
// the component graph.
func loadApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logging.SetupWriter(os.Stderr, cfg.LogLevel)

	awsCfg, err := app.LoadAWS(ctx)
	if err != nil {
		return nil, err
	}
	return app.New(cfg, awsCfg)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
