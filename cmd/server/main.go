package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"session-control-plane/internal/audit"
	auditrepo "session-control-plane/internal/audit/repository"
	"session-control-plane/internal/challenge"
	"session-control-plane/internal/config"
	"session-control-plane/internal/db"
	"session-control-plane/internal/events"
	"session-control-plane/internal/httpapi"
	identityservice "session-control-plane/internal/identity/service"
	"session-control-plane/internal/machineauth"
	membershiprepo "session-control-plane/internal/membership/repository"
	"session-control-plane/internal/obs"
	patrepo "session-control-plane/internal/pat/repository"
	patservice "session-control-plane/internal/pat/service"
	"session-control-plane/internal/policy/engine"
	policyrepo "session-control-plane/internal/policy/repository"
	"session-control-plane/internal/ratelimit"
	"session-control-plane/internal/runtimenotify"
	"session-control-plane/internal/security"
	sessionservice "session-control-plane/internal/session/service"
	"session-control-plane/internal/session/store"
	syncservice "session-control-plane/internal/synctoken/service"
	userrepo "session-control-plane/internal/user/repository"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	obs.Init()

	ctx := context.Background()

	// Telemetry providers. Events go to OTel logs, and to Kafka when brokers
	// are configured.
	var emitter events.Emitter
	var providersShutdown func(context.Context) error
	if cfg.OTLPEndpoint != "" {
		providers, err := events.NewProviders(ctx, cfg.OTLPEndpoint, "scp-server", cfg.OTLPInsecure)
		if err != nil {
			log.Fatalf("telemetry: %v", err)
		}
		providers.SetGlobal()
		providersShutdown = providers.Shutdown
		emitter = events.NewOTelEmitter(providers.LoggerProvider)
	}
	kafkaEmitter := events.NewKafkaEmitter(cfg.EventsKafkaBrokersList(), cfg.EventsKafkaTopic)
	if kafkaEmitter != nil {
		if emitter != nil {
			emitter = events.Multi{emitter, kafkaEmitter}
		} else {
			emitter = kafkaEmitter
		}
	}

	// Access token key material is required; the khala family is optional.
	jwtKeys, err := security.LoadSigningKeys(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("JWT signing keys: %v", err)
	}
	tokens := security.NewTokenProvider(jwtKeys.Signer, jwtKeys.Public, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
	syncSigner := security.NewClaimsSigner(jwtKeys.Signer, jwtKeys.Public, cfg.SyncIssuer, cfg.SyncAudience, 1, cfg.SyncTokenTTL())

	var khalaSigner *security.ClaimsSigner
	if cfg.KhalaPrivateKey != "" {
		khalaKeys, err := security.LoadSigningKeys(cfg.KhalaPrivateKey, cfg.KhalaPublicKey)
		if err != nil {
			log.Fatalf("khala signing keys: %v", err)
		}
		khalaSigner = security.NewClaimsSigner(khalaKeys.Signer, khalaKeys.Public, cfg.KhalaIssuer, cfg.KhalaAudience, 2, cfg.KhalaTokenTTL())
	} else {
		log.Println("khala signing key not configured; khala token minting disabled")
	}

	// Storage. Postgres when DATABASE_URL is set, in-memory otherwise.
	var (
		database    *sql.DB
		sessions    store.Store
		users       userrepo.Repository
		memberships membershiprepo.Repository
		pats        patrepo.Repository
		policies    policyrepo.Repository
		audits      auditrepo.Repository
	)
	if cfg.DatabaseURL != "" {
		database, err = db.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer database.Close()
		sessions = store.NewPostgresStore(database)
		users = userrepo.NewPostgresRepository(database)
		memberships = membershiprepo.NewPostgresRepository(database)
		pats = patrepo.NewPostgresRepository(database)
		policies = policyrepo.NewPostgresRepository(database)
		audits = auditrepo.NewPostgresRepository(database)
	} else {
		log.Println("DATABASE_URL not set; using in-memory storage")
		sessions = store.NewMemoryStore()
		users = userrepo.NewMemoryRepository()
		memberships = membershiprepo.NewMemoryRepository()
		pats = patrepo.NewMemoryRepository()
		policies = policyrepo.NewMemoryRepository()
		audits = auditrepo.NewMemoryRepository()
	}

	notifier := runtimenotify.NewHTTPNotifier(cfg.RuntimeNotifyURL, cfg.RuntimeNotifySecret, cfg.NotifyTimeout())
	if notifier == nil {
		log.Println("RUNTIME_NOTIFY_URL not set; revocation propagation disabled")
	}

	if cfg.ChallengeSecret == "" {
		log.Println("CHALLENGE_SECRET not set; email authentication disabled")
	}
	issuer := challenge.NewIssuer(cfg.ChallengeSecret, cfg.ChallengeLifetime(), cfg.ChallengeStaticCode)
	if cfg.ChallengeStaticCode != "" {
		log.Println("CHALLENGE_STATIC_CODE is set; challenge codes are fixed (dev only)")
	}

	authSvc := identityservice.NewAuthService(
		users, memberships, sessions,
		issuer, challenge.LogSender{},
		tokens,
		cfg.RefreshTTL(),
		ratelimit.PerMinute(cfg.EmailRatePerMinute, cfg.EmailRateBurst),
		emitter, notifier,
	)
	revocations := sessionservice.NewRevocationService(sessions, emitter, notifier)
	policyEngine := engine.NewOPAEvaluator(policies)
	minter := syncservice.NewMinter(syncSigner, khalaSigner, memberships, policyEngine, emitter)
	patSvc := patservice.NewPATService(pats, security.NewHasher(cfg.BcryptCost))

	var verifier *machineauth.Verifier
	if keys := cfg.MachineKeyMap(); len(keys) > 0 {
		verifier = machineauth.NewVerifier(keys, machineauth.NewNonceLedger(cfg.NonceLifetime()), 5*time.Minute)
	} else {
		log.Println("MACHINE_KEYS not set; machine-signed endpoints disabled")
	}

	api := httpapi.New(httpapi.Deps{
		Auth:            authSvc,
		Revocations:     revocations,
		Minter:          minter,
		PATs:            patSvc,
		Memberships:     memberships,
		Store:           sessions,
		Tokens:          tokens,
		Verifier:        verifier,
		Policy:          policyEngine,
		DB:              database,
		Audit:           audit.NewLogger(audits, httpapi.ClientIPFromContext),
		Emitter:         emitter,
		Limiter:         ratelimit.PerMinute(600, 100),
		ProtocolVersion: cfg.ProtocolVersion,
		Version:         version,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("http server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down http server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}

	// Let in-flight async event emits drain before tearing telemetry down.
	time.Sleep(events.ShutdownDrainDuration)
	if kafkaEmitter != nil {
		if err := kafkaEmitter.Close(); err != nil {
			log.Printf("kafka close: %v", err)
		}
	}
	if providersShutdown != nil {
		if err := providersShutdown(shutdownCtx); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}
	log.Println("http server stopped")
}
