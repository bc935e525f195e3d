// Command dpmd runs the scriptable MySQL wire-protocol proxy: it accepts
// client-facing connections and drives them through the reactor's
// single-threaded event loop (spec §4.G). Packets are forwarded only between
// connections a loaded script has paired (dpm.connect, dpm.pair); the core
// itself does not dial the -backend address.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/arjenlentz/dpm/internal/config"
	"github.com/arjenlentz/dpm/internal/logging"
	"github.com/arjenlentz/dpm/internal/netconn"
	"github.com/arjenlentz/dpm/internal/reactor"
	"github.com/arjenlentz/dpm/script"
	"github.com/arjenlentz/dpm/script/luabridge"
)

var version = "dev"

func main() {
	cfg := config.ParseOrExit()

	log := logging.New("dpmd", cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		fmt.Fprintln(os.Stderr, "dpmd:", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logr *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := netconn.NewManager(nil, logr)

	if len(cfg.ScriptPaths) > 0 {
		bridge, err := luabridge.New(cfg.ScriptPaths, manager, logr)
		if err != nil {
			return fmt.Errorf("loading scripts: %w", err)
		}
		defer bridge.Close()
		manager.SetEngine(script.Engine(bridge))
		logr.Logf(logging.Info, "loaded %d script path(s)", len(cfg.ScriptPaths))
	}

	r, err := reactor.New(manager, logr, cfg.BackendNetwork, cfg.BackendAddr)
	if err != nil {
		return fmt.Errorf("creating reactor: %w", err)
	}

	if err := r.Listen(cfg.ListenNetwork, cfg.ListenAddr, cfg.StaleSocketUnlink); err != nil {
		return fmt.Errorf("listening: %w", err)
	}

	logr.Logf(logging.Info, "dpmd %s ready, backend=%s://%s", version, cfg.BackendNetwork, cfg.BackendAddr)

	if err := r.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	log.Println("dpmd: shutting down")
	return nil
}
