package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/samsaffron/storyloom/internal/config"
	"github.com/samsaffron/storyloom/internal/logging"
)

// Version is set at build time.
var Version = "dev"

var (
	configFile string
	debug      bool

	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "storyloom",
	Short: "Chat with your writing assistant from the terminal",
	Long: `storyloom streams replies from the writing assistant and runs the tools
it asks for (outline edits, project lookups, MCP servers) until it answers.

Examples:
  storyloom chat                        # interactive session
  storyloom chat "tighten chapter 2"    # one message, then exit
  storyloom chat --resume <id>          # continue a saved session
  storyloom sessions                    # list saved sessions
  storyloom tools                       # list the tools the assistant can use`,
	Version:           Version,
	SilenceUsage:      true,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.New(debug)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default $XDG_CONFIG_HOME/storyloom/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Write debug logs to stderr")
}

// loadConfig loads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
