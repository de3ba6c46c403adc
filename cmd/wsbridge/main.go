package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/QuadTriangle/wsbridge/internal/config"
	"github.com/QuadTriangle/wsbridge/internal/hooks"
	"github.com/QuadTriangle/wsbridge/internal/plugins/stats"
	"github.com/QuadTriangle/wsbridge/internal/proxy"
)

const drainTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	pipeline := &hooks.Pipeline{}

	// --- Register plugins ---
	// Each plugin owns its own flags and config.
	// To add a new feature, just add a line here.
	pipeline.RegisterPlugin(stats.New())

	cfg := config.Default()
	logLevel := flag.String("log-level", "info", "Log verbosity: debug, info, warning, error")
	flag.StringVar(&cfg.BindAddr, "bind-addr", cfg.BindAddr, "TCP address the WebSocket proxy binds")
	flag.Int64Var(&cfg.MaxMessageSize, "max-message-size", cfg.MaxMessageSize, "Maximum frame/message payload in bytes")
	flag.DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", cfg.HandshakeTimeout, "Bound on the HTTP Upgrade exchange")
	flag.DurationVar(&cfg.ClosingTimeout, "closing-timeout", cfg.ClosingTimeout, "Bound on the closing handshake")
	flag.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "Bound on the upstream TCP connect")
	flag.IntVar(&cfg.MaxSessions, "max-sessions", cfg.MaxSessions, "Maximum concurrent sessions")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <upstream-addr>\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}
	pipeline.RegisterFlags(flag.CommandLine)
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		flag.Usage()
		return 2
	}
	cfg.UpstreamAddr = args[0]

	level, err := config.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	cfg.LogLevel = level

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 2
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	// Activate enabled plugins (collect hooks)
	pipeline.Activate()

	srv, err := proxy.New(cfg, logger, pipeline)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	if err := srv.Start(); err != nil {
		logger.Error("cannot bind proxy address", "error", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig.String())
	srv.Shutdown(drainTimeout)
	logger.Info("goodbye")
	return 0
}
