package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/samsaffron/storyloom/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage storyloom configuration",
	Long: `View or create your storyloom configuration.

Every key can also be set from the environment with the STORYLOOM_ prefix,
e.g. STORYLOOM_LOOP_LIMIT=20.

Examples:
  storyloom config                     # show the effective config
  storyloom config init                # write a default config file
  storyloom config path                # print the config file path`,
	RunE: configShow, // Default to show
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration (secrets redacted)",
	RunE:  configShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE:  configInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print configuration file path",
	RunE:  configPath,
}

func init() {
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "Overwrite an existing file")
	configCmd.AddCommand(configShowCmd, configInitCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func configShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	data, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "\nwarning: %v\n", err)
	}
	return nil
}

func configInit(cmd *cobra.Command, args []string) error {
	path, err := resolvedConfigPath()
	if err != nil {
		return err
	}
	if err := config.Save(config.Default(), path, configForce); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func configPath(cmd *cobra.Command, args []string) error {
	path, err := resolvedConfigPath()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func resolvedConfigPath() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	return config.GetConfigPath()
}
