// Package main provides the go-vibium-sync CLI entry point.
//
// go-vibium-sync drives a browser through the clicker automation server:
// it opens a URL, optionally finds an element and acts on it, and prints
// what it found.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/randomizedcoder/go-vibium-sync/internal/config"
	"github.com/randomizedcoder/go-vibium-sync/internal/logging"
	"github.com/randomizedcoder/go-vibium-sync/internal/orchestrator"
	"github.com/randomizedcoder/go-vibium-sync/internal/process"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-vibium-sync
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("go-vibium-sync %s\n", version)
		return 0
	}

	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	if cfg.Version {
		fmt.Printf("go-vibium-sync %s\n", version)
		return 0
	}

	// When TUI is enabled, suppress logs to avoid interfering with TUI rendering
	var logger *slog.Logger
	if cfg.TUIEnabled {
		logger = logging.NewLoggerWithWriter(io.Discard, "json", "info")
	} else {
		logger = logging.NewLogger(cfg.LogFormat, "info", cfg.Verbose)
	}
	logging.SetDefault(logger)

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	if cfg.PrintCmd {
		printClickerCommand(cfg)
		return 0
	}

	logger.Info("starting",
		"version", version,
		"url", cfg.URL,
		"endpoint", cfg.Endpoint,
		"headed", cfg.Headed,
		"metrics_addr", cfg.MetricsAddr,
	)

	if !cfg.TUIEnabled {
		printBanner(cfg)
	}

	orch := orchestrator.New(cfg, logger, version, os.Stdout)
	if err := orch.Run(context.Background()); err != nil {
		var sigErr *orchestrator.SignalError
		if errors.As(err, &sigErr) {
			return sigErr.ExitCode()
		}
		logger.Error("run_failed", "error", err)
		return 1
	}

	return 0
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config) {
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                         go-vibium-sync                            ║")
	fmt.Println("║          Blocking Browser Automation over WebDriver BiDi          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  URL:         %s\n", cfg.URL)
	if cfg.Endpoint != "" {
		fmt.Printf("  Clicker:     %s (existing)\n", cfg.Endpoint)
	} else {
		mode := "headless"
		if cfg.Headed {
			mode = "headed"
		}
		fmt.Printf("  Browser:     %s\n", mode)
	}
	if cfg.Find != "" {
		fmt.Printf("  Find:        %s\n", cfg.Find)
	}
	if cfg.MetricsAddr != "" {
		fmt.Printf("  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	}
	fmt.Println()
}

// printClickerCommand prints the clicker command that would be started.
func printClickerCommand(cfg *config.Config) {
	binary, err := process.ResolveBinary(cfg.ClickerPath)
	if err != nil {
		binary = cfg.ClickerPath
		if binary == "" {
			binary = process.DefaultClickerConfig().BinaryPath
		}
	}

	runner := process.NewClickerRunner(&process.ClickerConfig{
		BinaryPath: binary,
		Port:       cfg.Port,
		Headless:   !cfg.Headed,
	})

	fmt.Println("# clicker command that would be run:")
	fmt.Println()
	fmt.Println(runner.CommandString())
}
