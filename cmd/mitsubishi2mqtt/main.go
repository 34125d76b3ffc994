package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/dzungpv/mitsubishi2MQTT/internal/app"
	"github.com/dzungpv/mitsubishi2MQTT/internal/config"
	"github.com/dzungpv/mitsubishi2MQTT/internal/logger"
	"github.com/dzungpv/mitsubishi2MQTT/internal/network"
)

// Version is set at build time via -ldflags "-X main.Version=vX.Y.Z"
var Version = "dev"

// exitRestart tells the service manager to start the process again
const exitRestart = 3

func main() {
	configPath := flag.String("config", ".env", "configuration file")
	flag.Parse()

	// Load configuration from .env file
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	lg := logger.New(cfg.LogLevel())
	defer lg.Sync()
	lg.Infow("configuration loaded", "config", cfg.String(), "version", Version)

	a, err := app.New(cfg, Version, lg)
	if err != nil {
		lg.Fatalw("startup failed", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("mitsubishi2MQTT %s starting on %s\n", Version, cfg.Addr())
	printAccessURLs(cfg.Addr())

	err = a.Run(ctx)
	if cerr := a.Close(); cerr != nil {
		lg.Warnw("close storage", "error", cerr)
	}

	var restart *app.RestartError
	switch {
	case errors.As(err, &restart):
		lg.Infow("exiting for restart", "reason", restart.Reason)
		lg.Sync()
		os.Exit(exitRestart)
	case err != nil && !errors.Is(err, context.Canceled):
		lg.Errorw("stopped", "error", err)
		lg.Sync()
		os.Exit(1)
	}
	lg.Infow("stopped")
}

// printAccessURLs prints all available access URLs
func printAccessURLs(addr string) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		port = "80"
	}

	ips := network.LocalIPs()
	if len(ips) == 0 {
		fmt.Printf("\nOpen http://localhost:%s in your browser\n", port)
		return
	}

	fmt.Println("\nAccess URLs:")
	for _, ip := range ips {
		fmt.Printf("  http://%s\n", net.JoinHostPort(ip, port))
	}
	fmt.Println()
}
