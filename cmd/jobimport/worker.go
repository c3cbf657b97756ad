package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/xhad/jobimport/internal/models"
	"github.com/xhad/jobimport/internal/types"
	"github.com/xhad/jobimport/pkg/queue"
)

var workerCount int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume import tasks from NATS",
	Long:  "Run a worker pool fed by the broker. Status is published back for the server to record.",
	RunE:  runWorker,
}

func init() {
	workerCmd.Flags().IntVar(&workerCount, "workers", 0, "concurrent jobs (default from config)")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug, logFormat)
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}
	if cfg.Broker.URL == "" {
		return errors.New("worker needs broker.url (or BROKER_URL)")
	}
	if cmd.Flags().Changed("workers") {
		cfg.Worker.Count = workerCount
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger, nil)
	if err != nil {
		return err
	}

	nc, err := nats.Connect(cfg.Broker.URL, nats.Name("jobimport-worker"))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Drain()

	tasks, err := queue.NewNATSQueue(nc, cfg.Broker.Subject, logger).Consume(ctx, cfg.Broker.QueueGroup)
	if err != nil {
		return err
	}

	logger.Info("worker consuming", "subject", cfg.Broker.Subject, "group", cfg.Broker.QueueGroup)
	var wg sync.WaitGroup
	startRunner(ctx, &wg, a, queue.NewStatusPublisher(nc, cfg.Broker.StatusSubject), tasks)
	wg.Wait()
	logger.Info("goodbye")
	return nil
}

// startRunner drains tasks with the configured worker pool until ctx is done.
func startRunner(ctx context.Context, wg *sync.WaitGroup, a *app, sink types.StatusSink, tasks <-chan models.ImportTask) {
	runner := queue.NewRunner(queue.RunnerConfig{
		Workers:    a.cfg.Worker.Count,
		JobTimeout: a.cfg.Worker.JobTimeout,
		Logger:     a.log,
	}, a.orchestrator, sink)
	wg.Add(1)
	go func() {
		defer wg.Done()
		runner.Run(ctx, tasks)
	}()
}
