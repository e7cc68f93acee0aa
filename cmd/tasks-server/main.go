// Command tasks-server serves a task board as a remote object.
//
//	tasks-server [-config remoteobj.yaml] [-port 5000] [-lossy] [-delayed]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"remoteobj/config"
	"remoteobj/logging"
	"remoteobj/middleware"
	"remoteobj/server"
	"remoteobj/tasks"
)

func main() {
	cfgPath := flag.String("config", "", "path to YAML config (optional)")
	port := flag.Int("port", -1, "port to listen on (overrides config)")
	lossy := flag.Bool("lossy", false, "drop some responses")
	delayed := flag.Bool("delayed", false, "delay every receive and send")
	flag.Parse()
	if flag.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "usage: tasks-server [-config file] [-port n] [-lossy] [-delayed]")
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	if *port >= 0 {
		cfg.Server.Port = *port
	}
	cfg.Server.Lossy = cfg.Server.Lossy || *lossy
	cfg.Server.Delayed = cfg.Server.Delayed || *delayed
	if err := cfg.Validate(); err != nil {
		fatalf("config: %v", err)
	}

	logger, err := logging.Setup(cfg.Log)
	if err != nil {
		fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("tasks-server failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	store, err := tasks.OpenStore(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	svc, err := server.NewService[tasks.Manager](
		tasks.NewExecutor(store, logger.Named("tasks")),
		cfg.Server.Port,
		server.WithHost(cfg.Server.Host),
		server.WithTransport(cfg.Server.Transport()),
		server.WithMaxWorkers(cfg.Server.MaxWorkers),
		server.WithLogger(logger.Named("server")),
	)
	if err != nil {
		return err
	}

	svc.Use(middleware.LoggingMiddleware(logger.Named("calls")))
	if cfg.Server.RateLimit > 0 {
		svc.Use(middleware.RateLimitMiddleware(cfg.Server.RateLimit, cfg.Server.RateBurst))
	}
	if cfg.Server.CallTimeout > 0 {
		svc.Use(middleware.DeadlineMiddleware(cfg.Server.CallTimeout))
	}

	var metrics *http.Server
	if cfg.Server.MetricsAddr != "" {
		collector := middleware.NewMetricsCollector()
		reg := prometheus.NewRegistry()
		if err := reg.Register(collector); err != nil {
			return err
		}
		svc.Use(middleware.MetricsMiddleware(collector))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metrics = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	if err := svc.Start(); err != nil {
		return err
	}
	fmt.Printf("Server started. Listening on %s\n", svc.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	if metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metrics.Shutdown(shutdownCtx)
	}
	return svc.Shutdown(10 * time.Second)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "tasks-server: "+format+"\n", args...)
	os.Exit(1)
}
