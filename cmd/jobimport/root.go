package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xhad/jobimport/pkg/config"
)

var (
	cfgPath   string
	debug     bool
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "jobimport",
	Short: "Extract structured job details from job-posting pages",
	Long: "jobimport fetches a job posting, indexes its text and asks a language model for the\n" +
		"title, description and company name. Run `serve` for the HTTP API and `worker` for\n" +
		"broker-fed workers.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (default: ./config.yaml, ~/.config/jobimport/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")
}

func setupLogger(dbg bool, format string) *slog.Logger {
	logLevel := slog.LevelInfo
	if dbg {
		logLevel = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// loadConfig reads the config file and rejects invalid settings.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}
	return cfg, nil
}
