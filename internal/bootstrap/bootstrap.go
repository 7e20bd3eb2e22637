package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"httpgate/internal/accesslog"
	"httpgate/internal/config"
	"httpgate/internal/metrics"
	"httpgate/internal/registry"
	"httpgate/internal/transport"
	"httpgate/internal/version"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var errShutdown = errors.New("shutdown requested")

type Bootstrap struct {
	Config     config.Config
	Logger     *zap.Logger
	Registry   registry.Registry
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	AccessLog  *accesslog.Logger
	SignalChan chan os.Signal
}

// New wires the built-in sites ping.<domain> and echo.<domain> into a
// fresh registry.
func New(cfg config.Config, logger *zap.Logger) (*Bootstrap, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promRegistry)

	reg := registry.NewRegistry()
	for host, h := range map[string]registry.Handler{
		"ping." + cfg.Domain(): transport.PingHandler(),
		"echo." + cfg.Domain(): transport.EchoHandler(),
	} {
		if !reg.Register(host, h) {
			return nil, fmt.Errorf("register built-in site %q: %w", host, registry.ErrHostInUse)
		}
	}

	var al *accesslog.Logger
	if cfg.AccessLogEnabled() {
		al = accesslog.New(logger.Named("access"), cfg.AccessLogQueue(), m)
	}

	return &Bootstrap{
		Config:     cfg,
		Logger:     logger,
		Registry:   reg,
		Metrics:    m,
		Gatherer:   promRegistry,
		AccessLog:  al,
		SignalChan: make(chan os.Signal, 1),
	}, nil
}

func (b *Bootstrap) transportOptions() transport.Options {
	return transport.Options{
		Registry:       b.Registry,
		Logger:         b.Logger,
		Metrics:        b.Metrics,
		AccessLog:      b.AccessLog,
		BufferSize:     b.Config.BufferSize(),
		MaxHeaderBytes: b.Config.MaxHeaderBytes(),
		MaxRequests:    b.Config.KeepAliveMaxRequests(),
		IdleTimeout:    b.Config.IdleTimeout(),
	}
}

// Run serves until a signal arrives or one of the servers fails.
func (b *Bootstrap) Run() error {
	signal.Notify(b.SignalChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(b.SignalChan)

	if b.AccessLog != nil {
		defer b.AccessLog.Close()
	}

	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		srv := transport.NewHTTPServer(b.Config.HTTPPort(), b.transportOptions())
		if err := serveUntilDone(ctx, srv); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if b.Config.TLSEnabled() {
		g.Go(func() error {
			tlsCfg, err := transport.NewTLSConfig(ctx, b.Config, b.Logger)
			if err != nil {
				return fmt.Errorf("failed to create TLS config: %w", err)
			}
			srv := transport.NewHTTPSServer(b.Config.HTTPSPort(), tlsCfg, b.transportOptions())
			if err = serveUntilDone(ctx, srv); err != nil {
				return fmt.Errorf("https server: %w", err)
			}
			return nil
		})
	}

	if b.Config.AdminEnabled() {
		g.Go(func() error {
			return b.startAdmin(ctx)
		})
	}

	g.Go(func() error {
		select {
		case sig := <-b.SignalChan:
			b.Logger.Info("received signal, shutting down", zap.Stringer("signal", sig))
			return errShutdown
		case <-ctx.Done():
			return nil
		}
	})

	b.Logger.Info("all services started",
		zap.String("version", version.GetVersion()),
		zap.String("domain", b.Config.Domain()),
		zap.Strings("sites", b.Registry.Hosts()),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		return fmt.Errorf("service error: %w", err)
	}
	return nil
}

func serveUntilDone(ctx context.Context, srv transport.Transport) error {
	ln, err := srv.Listen()
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	err = srv.Serve(ln)
	if errors.Is(err, net.ErrClosed) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (b *Bootstrap) startAdmin(ctx context.Context) error {
	addr := net.JoinHostPort("localhost", b.Config.AdminPort())
	srv := &http.Server{
		Addr:              addr,
		Handler:           adminHandler(b.Gatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	b.Logger.Info("admin server is starting", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin server error: %w", err)
	}
	return nil
}

func adminHandler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}
