// Command feedctl is the maintenance CLI for chatfeed.
//
// Usage:
//
//	feedctl sources             List known sources
//	feedctl timeline            Print the merged timeline
//	feedctl presets list        Manage filter presets
//	feedctl ingest              Pull Telegram updates into the message store
//	feedctl stats               Store and preset statistics
//	feedctl events              JSONL event log viewer
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/abelbrown/chatfeed/internal/app"
	"github.com/abelbrown/chatfeed/internal/config"
	"github.com/abelbrown/chatfeed/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	envFile    string
}

// newRootCmd creates the root command for the feedctl CLI.
func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "feedctl",
		Short:         "Maintain the chatfeed message store and presets",
		Long:          "feedctl ingests Telegram updates, manages filter presets and inspects the merged feed without starting the TUI.",
		Version:       logging.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate("feedctl version {{.Version}}\n")

	rootCmd.PersistentFlags().StringVarP(&g.configFile, "config", "c", "", "config file path (default: search $XDG_CONFIG_HOME/chatfeed, ~/.chatfeed, .)")
	rootCmd.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "dotenv file loaded before the environment")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSourcesCmd(g))
	rootCmd.AddCommand(newTimelineCmd(g))
	rootCmd.AddCommand(newPresetsCmd(g))
	rootCmd.AddCommand(newIngestCmd(g))
	rootCmd.AddCommand(newStatsCmd(g))
	rootCmd.AddCommand(newEventsCmd(g))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "feedctl version %s\n", logging.Version)
		},
	}
}

// loadConfig reads the configuration and points logging at stderr.
func (g *globalFlags) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	loader := config.NewLoader()
	loader.SetConfigFile(g.configFile)
	loader.SetEnvFile(g.envFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	logging.InitWriter(cmd.ErrOrStderr(), cfg.Log.Level)
	return cfg, nil
}

// openRuntime loads the configuration and opens every store.
func (g *globalFlags) openRuntime(cmd *cobra.Command) (*app.Runtime, error) {
	cfg, err := g.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return app.Open(cfg)
}

// truncate shortens a string to max runes, appending "..." if truncated.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
