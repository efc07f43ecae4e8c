package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// ParseFlags parses the process command line and returns a Config.
func ParseFlags() (*Config, error) {
	return Parse(flag.CommandLine, os.Args[1:])
}

// Parse registers the CLI flags on fs and parses args.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := DefaultConfig()

	fs.Usage = func() {
		usage(fs, fs.Output())
	}

	// Clicker
	fs.StringVar(&cfg.ClickerPath, "clicker", cfg.ClickerPath, "Path to clicker binary (default: $CLICKER_PATH, then $PATH)")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Port for clicker to listen on (0 = any)")
	fs.BoolVar(&cfg.Headed, "headed", cfg.Headed, "Show the browser window")
	fs.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "Connect to a running clicker (ws://host:port) instead of launching")

	// Timeouts
	fs.DurationVar(&cfg.CallTimeout, "call-timeout", cfg.CallTimeout, "Bound on each browser call")
	fs.DurationVar(&cfg.FindTimeout, "find-timeout", cfg.FindTimeout, "How long to wait for -find to match")
	fs.DurationVar(&cfg.StartupTimeout, "startup-timeout", cfg.StartupTimeout, "How long to wait for clicker to listen")
	fs.DurationVar(&cfg.GracePeriod, "grace-period", cfg.GracePeriod, "SIGTERM to SIGKILL delay when stopping clicker")

	// Script
	fs.StringVar(&cfg.Find, "find", cfg.Find, "CSS selector to find after navigating")
	fs.BoolVar(&cfg.Click, "click", cfg.Click, "Click the found element")
	fs.StringVar(&cfg.Type, "type", cfg.Type, "Type text into the found element")
	fs.StringVar(&cfg.Attribute, "attr", cfg.Attribute, "Print this attribute of the found element")
	fs.StringVar(&cfg.Screenshot, "screenshot", cfg.Screenshot, "Write a PNG screenshot to this file")
	fs.DurationVar(&cfg.Hold, "hold", cfg.Hold, "Keep the browser open this long after the script")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address (empty = disabled)")
	fs.StringVar(&cfg.MetricsDump, "metrics-dump", cfg.MetricsDump, "Write final metrics in text format to this file")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Show live session dashboard")

	// Safety & Diagnostics (double-dash convention)
	fs.BoolVar(&cfg.PrintCmd, "print-cmd", cfg.PrintCmd, "Print clicker command and exit")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")
	fs.BoolVar(&cfg.Version, "version", cfg.Version, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Positional argument: page URL
	if rest := fs.Args(); len(rest) >= 1 {
		cfg.URL = rest[0]
	}

	return cfg, nil
}

func usage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintf(w, `go-vibium-sync - drive a browser through clicker from the command line

Usage:
  go-vibium-sync [flags] <URL>

Clicker:
`)
	printFlagCategory(fs, w, []string{"clicker", "port", "headed", "endpoint"})

	fmt.Fprintf(w, "\nTimeouts:\n")
	printFlagCategory(fs, w, []string{"call-timeout", "find-timeout", "startup-timeout", "grace-period"})

	fmt.Fprintf(w, "\nScript:\n")
	printFlagCategory(fs, w, []string{"find", "click", "type", "attr", "screenshot", "hold"})

	fmt.Fprintf(w, "\nObservability:\n")
	printFlagCategory(fs, w, []string{"metrics", "metrics-dump", "v", "log-format", "tui"})

	fmt.Fprintf(w, "\nDiagnostics:\n")
	printFlagCategory(fs, w, []string{"print-cmd", "skip-preflight", "version"})

	fmt.Fprintf(w, `
Flag Convention:
  Single-dash flags (-find, -click) are normal options.
  Double-dash flags (--print-cmd, --skip-preflight) are diagnostic modes.

Examples:
  # Print the heading of a page
  go-vibium-sync -find h1 https://example.com

  # Search and keep a screenshot
  go-vibium-sync -find 'input[name=q]' -type golang -screenshot out.png https://duckduckgo.com

`)
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, w io.Writer, names []string) {
	fs.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				fmt.Fprintf(w, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
				if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
					fmt.Fprintf(w, " (default %s)", f.DefValue)
				}
				fmt.Fprintln(w)
				return
			}
		}
	})
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	switch f.DefValue {
	case "true", "false":
		return ""
	}

	if strings.HasSuffix(f.DefValue, "s") || strings.HasSuffix(f.DefValue, "m") || strings.HasSuffix(f.DefValue, "h") {
		return "duration"
	}

	if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
		return "int"
	}

	return "string"
}
