package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/subhroacharjee/replaycast/internal/broadcaster"
	"github.com/subhroacharjee/replaycast/internal/config"
	"github.com/subhroacharjee/replaycast/internal/logger"
	"github.com/subhroacharjee/replaycast/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a .json or .yaml config file")
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		logger.Fatal("replaycast stopped", logger.Err(err))
	}
}

func loadConfig(path, envFile string) (*config.Config, error) {
	if path == "" {
		return config.Load(envFile)
	}
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	return config.ParseConfig(path)
}

func run(configPath, envFile string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered from panic: %v", r)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(configPath, envFile)
	if err != nil {
		return err
	}
	log := logger.Setup(cfg.LoggerOptions())

	up, err := buildUpstream(ctx, cfg, log)
	if err != nil {
		return err
	}

	collector := metrics.New(metrics.WithPrefix(cfg.MetricsPrefix), metrics.WithName(cfg.Name))
	opts := []broadcaster.Option{
		broadcaster.WithName(cfg.Name),
		broadcaster.WithLogger(log),
		broadcaster.WithMetrics(collector),
	}
	if cfg.DisconnectOnIdle {
		opts = append(opts, broadcaster.WithDisconnectOnIdle())
	}
	b := broadcaster.New(up.source, broadcaster.Capacity(cfg.ReplayCapacity), opts...)

	// The log consumer keeps the upstream attached and reports the outcome.
	done := make(chan broadcaster.Completion, 1)
	b.Attach(broadcaster.NewSink(broadcaster.Unlimited,
		func(m broadcaster.Message) broadcaster.Demand {
			log.Debug("message relayed", slog.String("from", m.From), logger.Count("bytes", len(m.Payload)))
			return broadcaster.None
		},
		func(c broadcaster.Completion) { done <- c },
	))

	if up.start != nil {
		if err := up.start(ctx); err != nil {
			_ = b.Close()
			return errors.Join(err, up.stop())
		}
	}
	log.Info("replaycast started",
		slog.String("source", string(cfg.Source)),
		logger.Capacity(cfg.ReplayCapacity),
	)

	eg, ctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", collector.Handler)
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		eg.Go(func() error {
			log.Info("serving metrics", slog.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	eg.Go(func() error {
		var streamErr error
		select {
		case <-ctx.Done():
			log.Info("graceful shutdown started")
		case c := <-done:
			if c.Failed() {
				streamErr = fmt.Errorf("upstream terminated: %w", c.Err())
			} else {
				log.Info("upstream finished")
			}
		}
		_ = b.Close()
		if err := up.stop(); err != nil {
			log.Warn("closing upstream", logger.Err(err))
		}
		if streamErr != nil {
			return streamErr
		}
		// Stop the metrics server once the stream is over.
		return context.Canceled
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("replaycast stopped")
	return nil
}
