// Command netserver runs the LoRaWAN network server: the GWMP UDP
// listener, the orchestration engine, and the admin REST API, as one
// process per §1/§5.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/floranet-ns/internal/api"
	"github.com/lorawan-server/floranet-ns/internal/audit"
	"github.com/lorawan-server/floranet-ns/internal/band"
	"github.com/lorawan-server/floranet-ns/internal/config"
	"github.com/lorawan-server/floranet-ns/internal/engine"
	"github.com/lorawan-server/floranet-ns/internal/gatewaywan"
	"github.com/lorawan-server/floranet-ns/internal/ifmanager"
	"github.com/lorawan-server/floranet-ns/internal/storage"
)

func main() {
	var configFile string
	var logFile string
	var foreground bool
	flag.StringVar(&configFile, "c", "config/netserver.yml", "Configuration file path")
	flag.StringVar(&logFile, "l", "", "Log file path (default stderr console)")
	flag.BoolVar(&foreground, "f", false, "Run in foreground, logging to the stderr console")
	flag.Parse()

	if logFile != "" && !foreground {
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "netserver: open log file: %v\n", err)
			os.Exit(1)
		}
		log.Logger = log.Output(f)
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	file, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("netserver: failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(file.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	cfg, err := file.ToModel()
	if err != nil {
		log.Fatal().Err(err).Msg("netserver: failed to prepare configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("netserver: invalid configuration")
	}
	cfgManager := config.NewManager(cfg)

	store, err := storage.NewPostgresStore(file.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("netserver: failed to connect to database")
	}
	defer store.Close()
	log.Info().Msg("netserver: connected to database")

	b, err := band.ForName(cfg.FreqBand)
	if err != nil {
		log.Fatal().Err(err).Str("freqband", cfg.FreqBand).Msg("netserver: unknown frequency band")
	}

	registry := gatewaywan.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := registry.LoadFrom(ctx, store); err != nil {
		log.Fatal().Err(err).Msg("netserver: failed to load gateways")
	}

	dedup := gatewaywan.NewDuplicateCache(time.Duration(cfg.DuplicatePeriod) * time.Second)
	wan, err := gatewaywan.NewServer(cfg.Listen, cfg.Port, registry, dedup)
	if err != nil {
		log.Fatal().Err(err).Msg("netserver: failed to bind gwmp socket")
	}

	var auditPublisher engine.AuditPublisher
	if cfg.Audit.NATSURL != "" {
		pub, err := audit.NewNATSPublisher(cfg.Audit.NATSURL, cfg.Audit.Subject)
		if err != nil {
			log.Warn().Err(err).Msg("netserver: failed to connect to NATS, continuing without audit publishing")
		} else {
			auditPublisher = pub
			log.Info().Str("url", cfg.Audit.NATSURL).Msg("netserver: publishing audit events to NATS")
		}
	}

	// ifaces.Create/Update/Delete close over eng, so the Manager is built
	// before New and wired to it once it exists.
	var eng *engine.Engine
	ifaces := ifmanager.NewManager(func(devAddr uint32, data []byte, ack bool) error {
		return eng.InboundAppMessage(devAddr, data, ack)
	})
	if err := ifaces.LoadAll(ctx, store); err != nil {
		log.Fatal().Err(err).Msg("netserver: failed to load application interfaces")
	}

	eng = engine.New(store, registry, dedup, wan, ifaces, cfg, b, auditPublisher)
	wan.OnUplink = eng.HandleRXPK

	restServer, err := api.NewRESTServer(cfgManager, store, registry, ifaces, eng)
	if err != nil {
		log.Fatal().Err(err).Msg("netserver: failed to build admin REST server")
	}

	go wan.Serve(ctx)
	go dedup.Run(ctx.Done())
	go eng.Run(ctx)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.WebPort)
		log.Info().Str("addr", addr).Msg("netserver: starting admin REST server")
		if err := restServer.ListenAndServe(addr); err != nil && err.Error() != "http: Server closed" {
			log.Error().Err(err).Msg("netserver: admin REST server stopped")
		}
	}()

	log.Info().Str("listen", cfg.Listen).Int("port", cfg.Port).Str("freqband", cfg.FreqBand).Msg("netserver: ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("netserver: received signal, shutting down")

	cancel()
	wan.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := restServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("netserver: admin REST server did not shut down cleanly")
	}

	log.Info().Msg("netserver: stopped")
}
