// entry point of the application
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"douyindl/internal/config"
	"douyindl/internal/depmanager"
	httprouter "douyindl/internal/infrastructure/delivery/http"
	"douyindl/internal/infrastructure/delivery/tui"
	"douyindl/internal/observability"
	"douyindl/internal/orchestrator"
	"douyindl/internal/pipeline"
	"douyindl/internal/probe"
	"douyindl/internal/proxymgr"
	"douyindl/internal/settings"
	"douyindl/internal/storage"
	httpserver "douyindl/pkg/http/server"
	"douyindl/pkg/logger"
)

func main() {
	os.Exit(run())
}

// run wires the application and returns the exit code once deferred cleanup has run.
func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New()
	if err != nil {
		slog.Error("config new", slog.Any("error", err))

		return 1
	}

	urls := os.Args[1:]

	logOut, closeLog := logWriter(cfg, len(urls) > 0)
	defer closeLog()

	log, err := logger.New(&logger.Options{
		AddSource: true,
		Level:     cfg.App.LogLevel,
		Writer:    logOut,
	})
	if err != nil {
		slog.WarnContext(ctx, "logger level invalid; defaulting to info", slog.Any("error", err))
	}

	metrics := observability.New(prometheus.DefaultRegisterer)
	fs := afero.NewOsFs()

	depMgr := depmanager.New(log, cfg.Probe)
	if err := depMgr.Start(ctx); err != nil {
		log.WarnContext(ctx, "ffprobe unavailable; orientation checks use the mp4 reader", slog.Any("error", err))
	}

	var proxyMgr *proxymgr.Manager
	if len(cfg.Proxy.Proxies) > 0 {
		proxyMgr = proxymgr.New(log, cfg, metrics)
		go proxyMgr.StartHealthChecker(ctx)

		log.InfoContext(ctx, "proxy manager initialized", slog.Int("proxy_count", len(cfg.Proxy.Proxies)))
	}

	backend, closeBackend, err := settings.NewBackend(cfg.Settings, fs)
	if err != nil {
		log.ErrorContext(ctx, "settings backend", slog.Any("error", err))

		return 1
	}
	defer closeBackend() //nolint:errcheck

	store := settings.NewCached(log, backend, cfg, fs, metrics)
	storer := storage.New(ctx, log, cfg, fs, metrics)

	prober := probe.Chain{probe.NewFFprobe(depMgr.BinaryPath, probe.ExecRunner), probe.NewMP4(fs)}
	factory := pipeline.NewFactory(log, cfg, fs, proxyMgr, prober, metrics)
	orch := orchestrator.New(ctx, log, cfg, factory, storer, metrics)

	if len(urls) > 0 {
		return runTerminal(ctx, log, orch, factory, store, urls)
	}

	router := httprouter.New(log, cfg.HTTP, httprouter.Deps{
		Runner:   orch,
		Store:    storer,
		Settings: store,
		Profiles: factory,
		Metrics:  metrics,
		Gatherer: prometheus.DefaultGatherer,
	})

	httpSrv, err := httpserver.New(router, httpserver.Options{
		Addr:            cfg.HTTP.Port,
		ReadTimeout:     cfg.HTTP.HandlerTimeout,
		WriteTimeout:    cfg.HTTP.EnumerateTimeout + cfg.HTTP.HandlerTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	})
	if err != nil {
		log.ErrorContext(ctx, "http server", slog.Any("error", err))

		return 1
	}

	log.InfoContext(ctx, "douyindl started", slog.String("addr", httpSrv.Addr()))

	select {
	case <-ctx.Done():
	case err := <-httpSrv.Notify():
		log.ErrorContext(ctx, "http server stopped", slog.Any("error", err))
	}

	if err := httpSrv.Shutdown(); err != nil {
		log.Error("http shutdown", slog.Any("error", err))
	}

	drain(log, cfg, orch)

	log.Info("douyindl shut down gracefully")

	return 0
}

// runTerminal downloads urls under the terminal UI and returns the exit code.
func runTerminal(
	ctx context.Context, log *slog.Logger, orch *orchestrator.Orchestrator,
	factory *pipeline.Factory, store *settings.Cached, urls []string,
) int {
	opts := store.RunOptions(ctx)

	final, err := tui.Run(ctx, log, orch, factory.Enumerator(opts.Cookie), urls, opts, os.Stdin, os.Stdout)
	if orch.Active() {
		_ = orch.Cancel(context.WithoutCancel(ctx))
		_ = orch.Wait(context.WithoutCancel(ctx))
	}

	switch {
	case errors.Is(err, tea.ErrProgramKilled), errors.Is(err, context.Canceled):
		return 130
	case err != nil:
		fmt.Fprintln(os.Stderr, err)

		return 1
	case final == nil:
		return 0
	}

	fmt.Println(tui.Summary(*final))

	if final.Summary.Failed > 0 {
		return 1
	}

	return 0
}

// drain cancels an API run still in progress and waits for its in-flight items.
func drain(log *slog.Logger, cfg *config.Config, orch *orchestrator.Orchestrator) {
	if !orch.Active() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	_ = orch.Cancel(ctx)

	if err := orch.Wait(ctx); err != nil {
		log.Warn("run still active at exit", slog.Any("error", err))
	}
}

// logWriter sends logs to the log file while the terminal UI draws on stdout.
func logWriter(cfg *config.Config, terminal bool) (io.Writer, func()) {
	if !terminal || cfg.App.LogFile == "" {
		return os.Stdout, func() {}
	}

	f, err := os.OpenFile(cfg.App.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return io.Discard, func() {}
	}

	return f, func() { _ = f.Close() }
}
