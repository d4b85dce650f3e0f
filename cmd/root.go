package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"audio-extract/infrastructure/config"
	"audio-extract/infrastructure/logging"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
	logger  *slog.Logger
)

// OutputWriter allows capturing output in tests
type OutputWriter interface {
	Write(p []byte) (n int, err error)
}

// DefaultOutput is the default output writer for commands
var DefaultOutput OutputWriter = os.Stdout

var rootCmd = &cobra.Command{
	Use:   "audio-extract",
	Short: "Copy the audio track out of an MP4 container without re-encoding",
	Long: `audio-extract copies the first audio track of an MP4/MOV file into a new
single-track MP4 file. Samples are passed through bit-exact: no decoding,
no resampling, no transcoding.

Example:
  audio-extract extract-audio --source talk.mp4
  audio-extract probe --source talk.mp4`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func initConfig() {
	if cfgFile == "" {
		cfgFile = "config/config.yaml"
	}

	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		// Config file is optional; commands fall back to defaults
		cfg = nil
	}

	logger = newLogger(EffectiveConfig(), verbose, os.Stderr)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("ignoring config file", slog.String("path", cfgFile), logging.Error(err))
	}
}

// GetConfig returns the loaded configuration, or nil when no config file was read
func GetConfig() *config.Config {
	return cfg
}

// EffectiveConfig returns the loaded configuration or the defaults
func EffectiveConfig() *config.Config {
	if cfg != nil {
		return cfg
	}
	return config.Default()
}

// GetLogger returns the command logger
func GetLogger() *slog.Logger {
	if logger == nil {
		return logging.NewNop()
	}
	return logger
}

func newLogger(c *config.Config, debug bool, w io.Writer) *slog.Logger {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	if debug {
		level = slog.LevelDebug
	}
	return logging.New(w, level)
}
