package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cadencehq/cadence/internal/auth"
	"github.com/cadencehq/cadence/internal/authz"
	"github.com/cadencehq/cadence/internal/config"
	"github.com/cadencehq/cadence/internal/guard"
	"github.com/cadencehq/cadence/internal/httpapi"
	"github.com/cadencehq/cadence/internal/kv"
	"github.com/cadencehq/cadence/internal/mail"
	"github.com/cadencehq/cadence/internal/obs"
	"github.com/cadencehq/cadence/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	store, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	kvStore, err := kv.Open(cfg.KVURL)
	if err != nil {
		log.Fatalf("open kv store: %v", err)
	}

	codec, err := auth.NewTokenCodec(auth.CodecConfig{
		Secret:     cfg.SecretKey,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	})
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}
	sessions, err := auth.NewSessionManager(codec, store.Sessions(), nil)
	if err != nil {
		log.Fatalf("session manager: %v", err)
	}

	var sender mail.Sender = mail.LogSender{}
	if cfg.MailProvider == "smtp" {
		sender = mail.SMTPSender{
			Addr:     cfg.SMTPAddr,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		}
	}
	outbox := mail.NewOutbox(store.Outbox(), sender)

	authSvc, err := auth.NewService(store, sessions, outbox, cfg.FrontendURL)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}
	resolver, err := authz.NewResolver(store.Authz(), store.Authz())
	if err != nil {
		log.Fatalf("authz resolver: %v", err)
	}
	bootstrap, err := authz.NewBootstrapper(store.Authz())
	if err != nil {
		log.Fatalf("org bootstrapper: %v", err)
	}
	g, err := guard.New(kvStore, guard.Config{
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: append([]string{cfg.FrontendURL}, cfg.CORSAllowOrigins...),
	})
	if err != nil {
		log.Fatalf("abuse guard: %v", err)
	}

	api, err := httpapi.New(cfg, authSvc, resolver, bootstrap, g, dbPinger{store}, kvStore)
	if err != nil {
		log.Fatalf("http api: %v", err)
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go outbox.Run(rootCtx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting cadence-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(ctx)
	_ = kvStore.Close()
	_ = store.Close()
	log.Println("Stopped")
}

// dbPinger adapts the sql pool to the readiness probe.
type dbPinger struct {
	store *pg.Store
}

func (p dbPinger) Ping(ctx context.Context) error {
	return p.store.DB().PingContext(ctx)
}
