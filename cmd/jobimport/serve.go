package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/xhad/jobimport/internal/types"
	"github.com/xhad/jobimport/pkg/queue"
	"github.com/xhad/jobimport/server"
)

var serveWorkers int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: "Serve the import API. Without a broker, jobs run on an in-process worker pool.\n" +
		"With broker.url set, jobs are published to NATS and --workers=0 leaves them to `jobimport worker`.",
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "in-process workers (default from config; 0 with a broker means dispatch only)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug, logFormat)
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}
	if cmd.Flags().Changed("workers") {
		cfg.Worker.Count = serveWorkers
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger, nil)
	if err != nil {
		return err
	}
	jobs, closeJobs, err := a.openJobStore(ctx)
	if err != nil {
		return err
	}
	defer closeJobs()

	var (
		q  types.Queue
		wg sync.WaitGroup
	)
	if cfg.Broker.URL != "" {
		nc, err := nats.Connect(cfg.Broker.URL, nats.Name("jobimport-server"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()

		natsQueue := queue.NewNATSQueue(nc, cfg.Broker.Subject, logger)
		q = natsQueue

		sub, err := queue.SubscribeStatus(nc, cfg.Broker.StatusSubject, jobs, logger)
		if err != nil {
			return fmt.Errorf("subscribe status: %w", err)
		}
		defer sub.Unsubscribe()

		if cfg.Worker.Count > 0 {
			consumed, err := natsQueue.Consume(ctx, cfg.Broker.QueueGroup)
			if err != nil {
				return err
			}
			startRunner(ctx, &wg, a, jobs, consumed)
		} else {
			logger.Info("dispatch only, jobs are left to broker workers", "subject", cfg.Broker.Subject)
		}
	} else {
		local := queue.NewLocalQueue(cfg.Worker.Buffer)
		q = local
		if cfg.Worker.Count <= 0 {
			return errors.New("--workers=0 needs broker.url, otherwise queued jobs never run")
		}
		startRunner(ctx, &wg, a, jobs, local.Tasks())
	}

	srv := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: server.NewServer(server.Config{
			Dedup:      cfg.Dispatcher.Dedup,
			CORSOrigin: cfg.Server.CORSOrigin,
		}, jobs, q, a.chat, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Server.Port, "workers", cfg.Worker.Count)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			stop()
			wg.Wait()
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = srv.Shutdown(shutCtx)
	stop()
	wg.Wait()
	logger.Info("goodbye")
	return err
}
