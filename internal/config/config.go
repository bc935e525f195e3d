// Package config parses the proxy's command-line surface, following the
// flag.NewFlagSet + fs.Usage pattern from mickamy-sql-tap/main.go rather
// than reaching for a third-party flags library: the surface is small and
// flat (no subcommands, no env-var layering), which is exactly the shape
// the standard library handles directly.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/arjenlentz/dpm/internal/logging"
)

// Config holds every external knob spec §6 names: listener address(es),
// the outbound backend, script search paths, and log verbosity.
type Config struct {
	ListenNetwork string // "tcp" or "unix"
	ListenAddr    string // host:port, or a socket path for ListenNetwork=="unix"

	BackendNetwork string
	BackendAddr    string

	ScriptPaths []string // spec §6: script search path(s), searched in order

	LogLevel logging.Level

	// StaleSocketUnlink controls whether a pre-existing UDS path is removed
	// before bind (spec §5 SUPPLEMENTED FEATURES: "stale socket unlink").
	StaleSocketUnlink bool
}

// ErrNoBackend is returned when the backend address is left empty; the
// proxy has nothing to connect outbound connections to.
var ErrNoBackend = errors.New("config: -backend is required")

// Parse builds a Config from argv (normally os.Args[1:]), writing usage
// text to out on -h/--help or a parse error.
func Parse(argv []string, out io.Writer) (*Config, error) {
	fs := flag.NewFlagSet("dpmd", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprintf(out, "dpmd — scriptable MySQL wire-protocol proxy\n\nUsage:\n  dpmd [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	listen := fs.String("listen", "tcp://0.0.0.0:3306", "listener address: tcp://host:port or unix:///path/to.sock")
	backend := fs.String("backend", "", "backend address to forward to: tcp://host:port or unix:///path/to.sock")
	scripts := fs.String("scripts", "", "comma-separated script search path(s)")
	level := fs.String("log-level", "info", "log level: verbose|debug|info|warning|error")
	noUnlink := fs.Bool("no-unlink-stale-socket", false, "do not unlink a pre-existing unix socket path before binding")

	if err := fs.Parse(argv); err != nil {
		return nil, err
	}

	listenNet, listenAddr, err := splitNetAddr(*listen)
	if err != nil {
		return nil, fmt.Errorf("config: -listen: %w", err)
	}

	cfg := &Config{
		ListenNetwork:     listenNet,
		ListenAddr:        listenAddr,
		ScriptPaths:       splitNonEmpty(*scripts, ","),
		StaleSocketUnlink: !*noUnlink,
	}

	if *backend != "" {
		backendNet, backendAddr, err := splitNetAddr(*backend)
		if err != nil {
			return nil, fmt.Errorf("config: -backend: %w", err)
		}
		cfg.BackendNetwork, cfg.BackendAddr = backendNet, backendAddr
	}

	lvl, err := parseLevel(*level)
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = lvl

	return cfg, nil
}

// ParseOrExit parses os.Args[1:], printing usage and exiting the process on
// error -- the behavior cmd/dpmd wants, factored out so it stays testable
// independent of os.Exit.
func ParseOrExit() *Config {
	cfg, err := Parse(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}
	if cfg.BackendAddr == "" {
		fmt.Fprintln(os.Stderr, ErrNoBackend)
		os.Exit(2)
	}
	return cfg
}

func splitNetAddr(s string) (network, addr string, err error) {
	switch {
	case strings.HasPrefix(s, "unix://"):
		return "unix", strings.TrimPrefix(s, "unix://"), nil
	case strings.HasPrefix(s, "tcp://"):
		return "tcp", strings.TrimPrefix(s, "tcp://"), nil
	default:
		return "", "", fmt.Errorf("address %q must start with tcp:// or unix://", s)
	}
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLevel(s string) (logging.Level, error) {
	switch strings.ToLower(s) {
	case "verbose":
		return logging.Verbose, nil
	case "debug":
		return logging.Debug, nil
	case "info":
		return logging.Info, nil
	case "warning", "warn":
		return logging.Warning, nil
	case "error":
		return logging.Error, nil
	default:
		return 0, fmt.Errorf("config: unknown -log-level %q", s)
	}
}
