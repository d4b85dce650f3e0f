package cmd

import (
	"fmt"
	"os"
	"strconv"

	"audio-extract/domain/audio"
	"audio-extract/infrastructure/config"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
)

// Prompter interface for interactive prompts (allows mocking in tests)
type Prompter interface {
	Input(message string, defaultValue string) (string, error)
	Confirm(message string, defaultValue bool) (bool, error)
}

// SurveyPrompter implements Prompter using the survey library
type SurveyPrompter struct{}

func (p *SurveyPrompter) Input(message string, defaultValue string) (string, error) {
	result := ""
	prompt := &survey.Input{
		Message: message,
		Default: defaultValue,
	}
	if err := survey.AskOne(prompt, &result); err != nil {
		return "", err
	}
	return result, nil
}

func (p *SurveyPrompter) Confirm(message string, defaultValue bool) (bool, error) {
	result := defaultValue
	prompt := &survey.Confirm{
		Message: message,
		Default: defaultValue,
	}
	if err := survey.AskOne(prompt, &result); err != nil {
		return false, err
	}
	return result, nil
}

// DefaultPrompter is the prompter used in production
var DefaultPrompter Prompter = &SurveyPrompter{}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create configuration file interactively",
	Long: `Prompts for configuration values and creates config.yaml.

This command guides you through choosing the output directory, file
extension, sample buffer size and logging level.`,
	RunE: runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	return RunSetupWithPrompter(DefaultPrompter, cfgFile, DefaultOutput)
}

// RunSetupWithPrompter runs the setup with a given prompter (for testing)
func RunSetupWithPrompter(prompter Prompter, configPath string, out OutputWriter) error {
	if _, err := os.Stat(configPath); err == nil {
		overwrite, err := prompter.Confirm("config.yaml already exists. Overwrite?", false)
		if err != nil {
			return fmt.Errorf("prompt cancelled")
		}
		if !overwrite {
			fmt.Fprintln(out, "Setup cancelled.")
			return nil
		}
	}

	fmt.Fprintln(out, "Welcome to audio-extract setup!")
	fmt.Fprintln(out)

	cfg := config.Default()

	if err := promptPaths(prompter, cfg); err != nil {
		return err
	}
	if err := promptExtraction(prompter, cfg); err != nil {
		return err
	}
	if err := promptLogging(prompter, cfg); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfg, configPath); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Configuration saved to %s\n", configPath)
	return nil
}

func promptPaths(prompter Prompter, cfg *config.Config) error {
	dir, err := prompter.Input("Where should audio files go? (empty = next to the source)", "")
	if err != nil {
		return fmt.Errorf("prompt cancelled")
	}
	cfg.Paths.OutputDirectory = dir
	return nil
}

func promptExtraction(prompter Prompter, cfg *config.Config) error {
	ext, err := prompter.Input("Output file extension?", audio.DefaultOutputExtension)
	if err != nil {
		return fmt.Errorf("prompt cancelled")
	}
	if ext != "" {
		cfg.Extraction.OutputExtension = ext
	}

	size, err := prompter.Input("Largest sample size in bytes?", strconv.Itoa(audio.DefaultBufferSize))
	if err != nil {
		return fmt.Errorf("prompt cancelled")
	}
	if size != "" {
		n, err := strconv.Atoi(size)
		if err != nil || n <= 0 {
			return fmt.Errorf("buffer size must be a positive integer, got %q", size)
		}
		cfg.Extraction.BufferSize = n
	}

	lock, err := prompter.Confirm("Reject concurrent extractions to the same file?", false)
	if err != nil {
		return fmt.Errorf("prompt cancelled")
	}
	cfg.Extraction.LockDestination = lock
	return nil
}

func promptLogging(prompter Prompter, cfg *config.Config) error {
	level, err := prompter.Input("Log level (debug, info, warn, error)?", "info")
	if err != nil {
		return fmt.Errorf("prompt cancelled")
	}
	if level != "" {
		cfg.Logging.Level = level
	}
	return nil
}
