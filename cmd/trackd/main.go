// trackd - tracking daemon
// Polls a tracking backend every frame and serves its changes over HTTP
// and websocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-trackables/internal/config"
	"github.com/teslashibe/go-trackables/internal/log"
	"github.com/teslashibe/go-trackables/pkg/trackd"
)

func main() {
	configPath := flag.String("config", os.Getenv("TRACKD_CONFIG"), "Path to a TOML config file")
	backend := flag.String("backend", "", "Backend: sim, face, person (overrides config)")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	log.Init(cfg.LogLevel)

	app, err := trackd.New(cfg)
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(1)
	}
	if err := app.Init(); err != nil {
		log.Error("initialization failed", "error", err)
		os.Exit(1)
	}
	defer app.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx); err != nil {
		log.Error("runtime error", "error", err)
		app.Shutdown()
		os.Exit(1)
	}
}
