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

	"github.com/ai-hq/server/internal/applog"
	"github.com/ai-hq/server/internal/config"
	"github.com/ai-hq/server/internal/frontend"
	"github.com/ai-hq/server/internal/mock"
	"github.com/ai-hq/server/internal/netinfo"
	"github.com/ai-hq/server/internal/relay"
	"github.com/ai-hq/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	staticDir := flag.String("static", "", "Override directory of visualization assets")
	mockMode := flag.Bool("mock", false, "Generate synthetic tool events for demos")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *staticDir != "" {
		cfg.Server.StaticDir = *staticDir
	}

	logger := applog.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	if err := run(cfg, logger, *mockMode); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, mockMode bool) error {
	registry := ws.NewRegistry(ws.RegistryOptions{
		Buffer:       cfg.Relay.SubscriberBuffer,
		WriteTimeout: cfg.Relay.WriteTimeout,
		PingInterval: cfg.Relay.PingInterval,
		Logger:       logger,
	})
	rl := relay.New(registry, relay.WithLogger(logger))

	static, err := frontend.Dir(cfg.Server.StaticDir)
	if err != nil {
		logger.Warn("static assets unavailable, serving API only", "dir", cfg.Server.StaticDir, "error", err)
	}

	server := ws.NewServer(cfg, rl, registry, static, logger)

	lanAddrs, err := netinfo.LANAddrs()
	if err != nil {
		logger.Warn("could not list network interfaces", "error", err)
	}
	server.SetLANAddrs(lanAddrs)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A supervisor (systemd, a shell loop, nodemon) brings the process back.
	ctx, restart := context.WithCancel(ctx)
	defer restart()
	server.SetRestartFunc(restart)

	if mockMode {
		logger.Info("Starting in mock mode")
		mock.NewGenerator(rl, 500*time.Millisecond).Start(ctx)
	}

	httpServer := ws.NewHTTPServer(cfg.Addr(), server.Routes())

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	printBanner(cfg.Server.Port, lanAddrs)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	registry.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func printBanner(port int, lanAddrs []string) {
	lan := "YOUR_IP"
	if len(lanAddrs) > 0 {
		lan = lanAddrs[0]
	}
	fmt.Printf(`
  AI HQ SERVER
  ------------
  Local:    http://localhost:%[1]d
  Network:  http://%[2]s:%[1]d
  Events:   POST http://%[2]s:%[1]d/event
  WS:       ws://%[2]s:%[1]d
  Setup:    http://%[2]s:%[1]d/setup

Waiting for tool events...
`, port, lan)
}
