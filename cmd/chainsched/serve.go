package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chainsched/chainsched/internal/api"
	"github.com/chainsched/chainsched/internal/config"
	"github.com/chainsched/chainsched/internal/ctxlog"
	"github.com/chainsched/chainsched/internal/events"
	"github.com/chainsched/chainsched/internal/executor"
	"github.com/chainsched/chainsched/internal/metrics"
	"github.com/chainsched/chainsched/internal/persistence"
	"github.com/chainsched/chainsched/internal/scheduler"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "config file path (overrides conventional paths)")
	return cmd
}

func runServe(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)
	ctx = ctxlog.WithLogger(ctx, logger)

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load("", configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	execs := executor.NewRegistry()
	for protocol, ec := range cfg.Executors {
		inner := executor.NewHTTPExecutor(ec.Endpoint, time.Duration(ec.TimeoutMS)*time.Millisecond)
		execs.Register(protocol, executor.NewResilient(protocol, inner, executor.DefaultRPCRetryConfig()))
	}

	var gate *scheduler.Gate
	if cfg.Gate != nil && cfg.Gate.SignalURL != "" {
		gate = scheduler.NewGate(
			httpSignal(cfg.Gate.SignalURL),
			cfg.Gate.Ceiling,
			time.Duration(cfg.Gate.PollIntervalMS)*time.Millisecond,
		)
	}

	bus := events.NewBus()
	defer bus.Close()
	reg := metrics.NewRegistry()

	var store scheduler.Store
	var snapshot []*scheduler.Task
	if cfg.DBPath != "" {
		sqlStore, err := persistence.NewSQLiteStore(ctx, cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer sqlStore.Close()
		snapshot, err = sqlStore.ListTasks(ctx)
		if err != nil {
			return fmt.Errorf("loading snapshot: %w", err)
		}
		store = sqlStore
	}

	sched := scheduler.New(scheduler.Config{
		GlobalLimit:        cfg.Scheduler.GlobalLimit,
		ProtocolLimits:     cfg.Scheduler.ProtocolLimits,
		TickInterval:       time.Duration(cfg.Scheduler.TickIntervalMS) * time.Millisecond,
		ExecTimeout:        time.Duration(cfg.Scheduler.ExecTimeoutMS) * time.Millisecond,
		QueueWaitTimeout:   time.Duration(cfg.Scheduler.QueueWaitTimeoutMS) * time.Millisecond,
		DefaultMaxAttempts: cfg.Scheduler.DefaultMaxAttempts,
		HistoryLimit:       cfg.Scheduler.HistoryLimit,
		Retry: scheduler.RetryConfig{
			BaseDelay:   time.Duration(cfg.Retry.BaseDelayMS) * time.Millisecond,
			MaxInterval: time.Duration(cfg.Retry.MaxIntervalMS) * time.Millisecond,
			Jitter:      cfg.Retry.Jitter,
		},
	}, scheduler.Options{
		Executors: execs,
		Gate:      gate,
		Bus:       bus,
		Metrics:   reg,
		Store:     store,
	})
	if len(snapshot) > 0 {
		if err := sched.Restore(snapshot); err != nil {
			return fmt.Errorf("restoring snapshot: %w", err)
		}
		logger.Info("restored snapshot", "tasks", len(snapshot))
	}

	sched.Start(ctx)
	go logTaskEvents(ctx, logger, bus)

	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     api.NewServer(sched, reg),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.ListenAddr, "protocols", execs.Protocols())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	return g.Wait()
}

// httpSignal reads a bare number from a GET endpoint, e.g. a gas price
// oracle.
func httpSignal(url string) scheduler.SignalFunc {
	client := &http.Client{Timeout: 5 * time.Second}
	return func(ctx context.Context) (float64, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return 0, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return 0, fmt.Errorf("signal endpoint returned %d", resp.StatusCode)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
		if err != nil {
			return 0, err
		}
		return strconv.ParseFloat(strings.TrimSpace(string(body)), 64)
	}
}

func logTaskEvents(ctx context.Context, logger *slog.Logger, bus *events.Bus) {
	ch := bus.Subscribe(events.TopicTask, 0)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			logger.Info(ev.EventType(), "task", ev.TaskID())
		}
	}
}
