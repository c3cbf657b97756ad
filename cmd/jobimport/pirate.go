package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/jobimport/pkg/llm"
)

var pirateCmd = &cobra.Command{
	Use:   "pirate <text>...",
	Short: "Translate text into pirate speak",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPirate,
}

func init() {
	rootCmd.AddCommand(pirateCmd)
}

func runPirate(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug, logFormat)
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger, nil)
	if err != nil {
		return err
	}

	spinner := getSpinner(" Thinking...")
	first := true
	assistant := color.New(color.FgCyan)
	_, err = a.chat.PirateSpeakStream(ctx, llm.PirateRequest{Text: strings.Join(args, " ")}, func(_ context.Context, chunk []byte) error {
		if first {
			spinner.Finish()
			fmt.Fprint(os.Stderr, "\r")
			first = false
		}
		_, err := assistant.Print(string(chunk))
		return err
	})
	if first {
		spinner.Finish()
	}
	fmt.Println()
	if err != nil {
		color.Red("Error: %v", err)
		return err
	}
	return nil
}
