// Command subtrack drives the subscription tracker client from a terminal:
// session management, authenticated requests and currency conversion.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/damon-houk/subtrack-client/internal/app"
	"github.com/damon-houk/subtrack-client/internal/config"
)

// Build-time variables (set via -ldflags).
var version = "dev"

var application *app.App

func main() {
	err := rootCmd.Execute()
	if application != nil {
		if closeErr := application.Close(); closeErr != nil {
			fmt.Fprintln(os.Stderr, closeErr)
		}
	}
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "subtrack",
	Short:        "Subscription tracker client",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var (
			cfg *config.Config
			err error
		)
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Logging.Level = level
		}

		application, err = app.New(cfg)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if show, _ := cmd.Flags().GetBool("metrics"); show {
			return application.WriteMetrics(cmd.ErrOrStderr())
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error, off)")
	rootCmd.PersistentFlags().Bool("metrics", false, "print client counters to stderr on exit")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(ratesCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(currencyCmd)
	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(subscriptionsCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// config is not needed to print the version
	PersistentPreRunE:  func(cmd *cobra.Command, args []string) error { return nil },
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "subtrack %s\n", version)
	},
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
