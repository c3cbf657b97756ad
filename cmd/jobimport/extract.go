package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/xhad/jobimport/internal/models"
)

var extractJSON bool

var extractCmd = &cobra.Command{
	Use:   "extract <url>",
	Short: "Extract job details from one URL and print them",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtract,
}

func init() {
	extractCmd.Flags().BoolVar(&extractJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(extractCmd)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetWriter(os.Stderr),
	)
}

func runExtract(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug, logFormat)
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Worker.JobTimeout)
	defer cancel()

	spinner := getSpinner(" Starting...")
	a, err := newApp(cfg, logger, func(url string) {
		spinner.Describe(color.CyanString(" Fetched %s", url))
	})
	if err != nil {
		spinner.Finish()
		return err
	}

	result, err := a.orchestrator.ExtractWithProgress(ctx, args[0], func(_ context.Context, status models.JobStatus, phase string) {
		spinner.Describe(color.CyanString(" %s...", strings.ReplaceAll(phase, ":", " ")))
		spinner.Add(1)
	})
	spinner.Finish()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		color.Red("✗ Extraction failed: %v", err)
		return err
	}

	if extractJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	color.Green("✓ Extracted %s", result.URL)
	label := color.New(color.FgCyan, color.Bold).PrintfFunc()
	label("\nTitle: ")
	fmt.Println(result.Title)
	label("Company: ")
	fmt.Println(result.CompanyName)
	label("Description:\n")
	fmt.Println(result.Description)
	return nil
}
