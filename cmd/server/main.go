package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"townforge/internal/config"
	"townforge/internal/database"
	"townforge/internal/locales"
	"townforge/internal/manager"
	"townforge/internal/network"
	"townforge/internal/network/wsbroker"
	persistlog "townforge/internal/persistence/log"
	"townforge/internal/registry"
	"townforge/internal/transport/ws"
	"townforge/internal/validator"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configPath = flag.String("config", "./configs/config.yaml", "config path")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	loc, err := locales.Load(cfg.LocalesPath)
	if err != nil {
		logger.Fatalf("locales: %v", err)
	}

	db, err := database.OpenSQLite(cfg.DatabasePath)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	audit := persistlog.NewAuditWriter(cfg.AuditDir)
	defer audit.Close()

	towns := registry.NewTowns()
	claims := registry.NewClaimWorlds()
	invites := registry.NewInvites()

	// Warm the mirrors from the authoritative store.
	ctx := context.Background()
	known, err := db.ListTowns(ctx)
	if err != nil {
		logger.Fatalf("load towns: %v", err)
	}
	for _, t := range known {
		towns.Put(t)
	}
	worlds, err := db.ListClaimWorlds(ctx)
	if err != nil {
		logger.Fatalf("load claim worlds: %v", err)
	}
	claims.Seed(worlds)
	logger.Printf("loaded %d towns, %d claim worlds", len(known), len(worlds))

	mgr := manager.New(manager.Deps{
		Config:    cfg,
		DB:        db,
		Broker:    network.Nop{},
		Towns:     towns,
		Claims:    claims,
		Invites:   invites,
		Validator: validator.New(),
		Locales:   loc,
		Log:       logger,
		Audit:     audit,
	})

	gateway := ws.NewServer(cfg.ServerName, mgr, db, logger)
	mgr.SetUserProvider(gateway)

	if cfg.CrossServer {
		broker, err := wsbroker.Dial(cfg.RelayURL, cfg.ServerName,
			mgr.HandleMessage, log.New(os.Stdout, "[broker] ", log.LstdFlags|log.Lmicroseconds))
		if err != nil {
			logger.Fatalf("connect relay: %v", err)
		}
		defer broker.Close()
		mgr.SetBroker(broker)
		logger.Printf("cross-server mode on, relay %s", cfg.RelayURL)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		fmt.Fprintf(rw, "# HELP townforge_towns Known towns on this server.\n")
		fmt.Fprintf(rw, "# TYPE townforge_towns gauge\n")
		fmt.Fprintf(rw, "townforge_towns{server=%q} %d\n", cfg.ServerName, towns.Count())

		fmt.Fprintf(rw, "# HELP townforge_claims Known claims across all worlds.\n")
		fmt.Fprintf(rw, "# TYPE townforge_claims gauge\n")
		fmt.Fprintf(rw, "townforge_claims{server=%q} %d\n", cfg.ServerName, claims.TotalClaims())
	})
	mux.HandleFunc("/v1/ws", gateway.Handler())

	srv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		logger.Printf("listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	mgr.Wait()
}
