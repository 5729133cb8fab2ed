package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/kimbyungsang/cranberries/internal/admin"
	"github.com/kimbyungsang/cranberries/internal/config"
	"github.com/kimbyungsang/cranberries/internal/coord"
	"github.com/kimbyungsang/cranberries/internal/discovery"
	"github.com/kimbyungsang/cranberries/internal/logging"
	"github.com/kimbyungsang/cranberries/internal/observability"
	"github.com/kimbyungsang/cranberries/internal/reporter"
	"github.com/kimbyungsang/cranberries/internal/servable"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "cmd/cranberriesd/config.toml", "path to daemon config")
	flag.Parse()

	logging.ConfigureRuntime()
	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "cranberriesd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	loader, err := servable.LoaderByName(cfg.Loader)
	if err != nil {
		return err
	}
	observability.RegisterMetrics()

	client, err := coord.Connect(cfg.Coord())
	if err != nil {
		return err
	}
	defer client.Close()
	log.Info().
		Str("hosts", cfg.ZookeeperHosts).
		Str("base", client.Base()).
		Dur("session_timeout", cfg.SessionTimeout).
		Msg("zookeeper session requested")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := servable.NewBus[servable.Event](servable.BusOptions{Name: "servable_state", BlockOnFull: true})
	defer bus.Close()

	var wg sync.WaitGroup
	if cfg.ReportState {
		events, cancel := bus.Subscribe()
		rep := reporter.New(client)
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Closing the subscription releases a manager blocked on a full buffer.
			defer cancel()
			_ = rep.Run(ctx, events)
		}()
	}

	manager := servable.NewManager(loader, bus)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = manager.Run(ctx)
	}()

	engine := discovery.NewEngine(client, cfg.Discovery())
	engine.Start(manager.SetAspiredVersions)

	if cfg.AdminAddr != "" {
		srv := admin.New(admin.Options{
			ID:          "cranberriesd",
			Addr:        cfg.AdminAddr,
			CORSOrigins: cfg.AdminCORSOrigins,
		}, engine, manager, client)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(ctx); err != nil {
				log.Error().Err(err).Msg("admin server stopped")
				stop()
			}
		}()
	}

	log.Info().Msg("cranberriesd running")
	<-ctx.Done()
	log.Info().Msg("cranberriesd shutting down")
	wg.Wait()
	return nil
}
