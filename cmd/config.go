package cmd

import (
	"fmt"

	"audio-extract/infrastructure/config"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and change configuration settings",
	Long: `Show, read and update settings in the configuration file.

Examples:
  audio-extract config show
  audio-extract config get extraction.buffer_size
  audio-extract config set paths.output_directory /srv/audio`,
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
}

// --- SHOW command ---

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunConfigShowWithDependencies(EffectiveConfig(), cfgFile, GetConfig() != nil, DefaultOutput)
	},
}

// RunConfigShowWithDependencies runs the show command with injected dependencies
func RunConfigShowWithDependencies(cfg *config.Config, configPath string, loaded bool, out OutputWriter) error {
	mgr := config.NewConfigManager(cfg, configPath)

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Key", "Value"})
	for _, s := range mgr.List() {
		value := s.Value
		if value == "" {
			value = "(unset)"
		}
		tw.AppendRow(table.Row{s.Key, value})
	}
	fmt.Fprintln(out, tw.Render())

	if loaded {
		fmt.Fprintf(out, "Loaded from %s\n", configPath)
	} else {
		fmt.Fprintf(out, "No config file at %s; showing defaults\n", configPath)
	}
	return nil
}

// --- GET command ---

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunConfigGetWithDependencies(EffectiveConfig(), cfgFile, args[0], DefaultOutput)
	},
}

// RunConfigGetWithDependencies runs the get command with injected dependencies
func RunConfigGetWithDependencies(cfg *config.Config, configPath, key string, out OutputWriter) error {
	value, err := config.NewConfigManager(cfg, configPath).Get(key)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, value)
	return nil
}

// --- SET command ---

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Update one configuration value and save the file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunConfigSetWithDependencies(EffectiveConfig(), cfgFile, args[0], args[1], DefaultOutput)
	},
}

// RunConfigSetWithDependencies runs the set command with injected dependencies
func RunConfigSetWithDependencies(cfg *config.Config, configPath, key, value string, out OutputWriter) error {
	mgr := config.NewConfigManager(cfg, configPath)
	if err := mgr.Set(key, value); err != nil {
		return err
	}

	saved, _ := mgr.Get(key)
	fmt.Fprintf(out, "Set %s = %s\n", key, saved)
	return nil
}
