package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/authvital/authvital/internal/apikey"
	"github.com/authvital/authvital/internal/audit"
	"github.com/authvital/authvital/internal/auth"
	"github.com/authvital/authvital/internal/entitlement"
	"github.com/authvital/authvital/internal/httpapi"
	"github.com/authvital/authvital/internal/license"
	"github.com/authvital/authvital/internal/obs"
	"github.com/authvital/authvital/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	addr := os.Getenv("AUTHVITAL_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	tenantSecret := []byte(os.Getenv("AUTHVITAL_TENANT_SECRET"))
	if len(tenantSecret) == 0 {
		log.Println("AUTHVITAL_TENANT_SECRET not set; tenant-context tokens disabled")
	}

	dispatcher := audit.NewDispatcher(audit.LogSink{Logger: obs.Logger()})
	defer dispatcher.Close()

	var (
		credStore apikey.Store
		roleStore auth.RoleStore
		ledger    license.Service
		reader    entitlement.Reader
		probe     httpapi.ReadyProbe
		pgStore   *pg.Store
	)
	if dsn := os.Getenv("AUTHVITAL_PG_DSN"); dsn != "" {
		var err error
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		credStore = pgStore.Credentials()
		roleStore = pgStore.Roles()
		ledger = pgStore.Ledger(pg.WithSink(dispatcher))
		reader = pgStore.Entitlements()
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		log.Println("AUTHVITAL_PG_DSN not set; running with in-memory stores")
		credStore = apikey.NewInMemory()
		roleStore = auth.NewInMemoryRoles()
		mem := license.NewInMemory(license.WithSink(dispatcher))
		ledger = mem
		reader = mem
	}

	engine, err := auth.NewEngine(roleStore)
	if err != nil {
		log.Fatalf("auth engine: %v", err)
	}
	resolver, err := entitlement.NewResolver(reader)
	if err != nil {
		log.Fatalf("entitlement resolver: %v", err)
	}

	api, err := httpapi.New(httpapi.Config{
		Validator:    apikey.NewValidator(credStore),
		Keys:         apikey.NewService(credStore),
		Engine:       engine,
		Ledger:       ledger,
		Entitlements: resolver,
		Audit:        dispatcher,
		TenantSecret: tenantSecret,
		ReadyProbe:   probe,
		Version:      version,
	})
	if err != nil {
		log.Fatalf("httpapi: %v", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("starting authvital-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Println("stopped")
}
