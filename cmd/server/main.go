// Command server runs the identity reconciliation service: the sign-in
// endpoint the host application posts verified callbacks to, the GDPR
// profile API and the provider back-channel logout endpoint.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"tunnus/internal/authentication"
	authmetrics "tunnus/internal/authentication/metrics"
	"tunnus/internal/gdpr"
	"tunnus/internal/identity"
	"tunnus/internal/oidc"
	"tunnus/internal/platform/config"
	"tunnus/internal/platform/httpserver"
	"tunnus/internal/platform/logger"
	"tunnus/internal/platform/redis"
	"tunnus/internal/profileapi"
	"tunnus/internal/session"
	"tunnus/internal/verification"
	"tunnus/pkg/platform/audit"
	"tunnus/pkg/platform/tx"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, db, err := buildStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	recorder, closePublisher, err := buildRecorder(cfg, db, log)
	if err != nil {
		return err
	}
	defer closePublisher()

	discovery := oidc.NewDiscovery(map[oidc.Server]oidc.ServerConfig{
		oidc.ServerAuth: {
			BaseURI:      cfg.OIDC.AuthBaseURI,
			ClientID:     cfg.OIDC.AuthClientID,
			ClientSecret: cfg.OIDC.AuthClientSecret,
		},
		oidc.ServerGDPR: {
			BaseURI:      cfg.OIDC.GDPRBaseURI,
			ClientID:     cfg.OIDC.GDPRClientID,
			ClientSecret: cfg.OIDC.GDPRClientSecret,
		},
	})

	var sessionStore session.Store = session.NewInMemoryStore()
	if redisClient != nil {
		sessionStore = session.NewRedisStore(redisClient)
	}
	sessions := session.NewRegistry(sessionStore, 0)

	org := authentication.Organization{
		Slug: cfg.Authentication.OrganizationSlug,
		Host: cfg.Authentication.OrganizationHost,
	}

	authOpts := []authentication.Option{
		authentication.WithLogger(log),
		authentication.WithMetrics(authmetrics.New()),
	}
	if cfg.Profile.Enabled() {
		authOpts = append(authOpts, authentication.WithProfileFetcher(profileapi.NewClient(profileapi.Config{
			TokenURL:   cfg.Profile.TokenURL,
			ProfileURL: cfg.Profile.ProfileURL,
			Audience:   cfg.Profile.Audience,
		})))
	}
	authService := authentication.NewService(
		authentication.Config{
			AuthorizationName:       cfg.Authentication.AuthorizationName,
			EmailPrefix:             cfg.Authentication.EmailPrefix,
			AutoEmailDomain:         cfg.Authentication.AutoEmailDomain,
			UntrustedEmailProviders: cfg.Authentication.UntrustedEmailProviders,
		},
		verification.NewCollector(cfg.Authentication.DigestSecret),
		stores.users, stores.identities, stores.authorizations,
		authOpts...,
	)

	gdprOpts := []gdpr.ServiceOption{
		gdpr.WithSessionRevoker(sessions),
		gdpr.WithAuditRecorder(recorder),
		gdpr.WithLogger(log),
	}
	if db != nil {
		gdprOpts = append(gdprOpts, gdpr.WithTransactor(func(ctx context.Context, fn func(ctx context.Context) error) error {
			return tx.Run(ctx, db, fn)
		}))
	}
	gdprService := gdpr.NewService(
		gdpr.Config{
			Provider:          cfg.Authentication.Provider,
			AuthorizationName: cfg.Authentication.AuthorizationName,
		},
		stores.users, stores.identities, stores.authorizations,
		gdprOpts...,
	)

	router := chi.NewRouter()
	authentication.NewHandler(discovery, authService, org, cfg.Authentication.Provider,
		authentication.WithSessionRegistry(sessions),
		authentication.WithAuditRecorder(recorder),
		authentication.WithHandlerLogger(log),
	).Register(router)
	gdpr.NewHandler(discovery, gdprService, org.Slug,
		gdpr.Scopes{Query: cfg.GDPR.QueryScope, Delete: cfg.GDPR.DeleteScope},
		log,
	).Register(router)
	session.NewHandler(discovery, sessions,
		session.WithAuditRecorder(recorder),
		session.WithLogger(log),
	).Register(router)
	router.Get("/healthz", healthHandler(db, redisClient))

	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Server.Addr, router)
	metricsSrv := httpserver.New(cfg.Server.MetricsAddr, metricsRouter)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return recorder.Run(groupCtx)
	})
	group.Go(func() error {
		log.Info("server listening", slog.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		log.Info("metrics listening", slog.String("addr", cfg.Server.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return nil
	})

	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type identityStores struct {
	users          identity.UserStore
	identities     identity.IdentityStore
	authorizations identity.AuthorizationStore
}

// buildStores connects Postgres when a DSN is configured and applies the
// schema, otherwise it falls back to the in-memory stores for local runs.
func buildStores(ctx context.Context, cfg config.Config, log *slog.Logger) (identityStores, *sql.DB, error) {
	if cfg.Database.URL == "" {
		log.Warn("no database configured, using in-memory stores")
		return identityStores{
			users:          identity.NewInMemoryUserStore(),
			identities:     identity.NewInMemoryIdentityStore(),
			authorizations: identity.NewInMemoryAuthorizationStore(),
		}, nil, nil
	}

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return identityStores{}, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return identityStores{}, nil, fmt.Errorf("ping database: %w", err)
	}
	for _, schema := range []string{identity.Schema, audit.Schema} {
		if _, err := db.ExecContext(ctx, schema); err != nil {
			db.Close()
			return identityStores{}, nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return identityStores{
		users:          identity.NewPostgresUserStore(db),
		identities:     identity.NewPostgresIdentityStore(db),
		authorizations: identity.NewPostgresAuthorizationStore(db),
	}, db, nil
}

// buildRecorder assembles the audit pipeline: a Postgres store when the
// database is available, plus a Kafka publisher when brokers are configured.
func buildRecorder(cfg config.Config, db *sql.DB, log *slog.Logger) (*audit.Recorder, func(), error) {
	var store audit.Store = audit.NewInMemoryStore()
	if db != nil {
		store = audit.NewPostgresStore(db)
	}

	opts := []audit.RecorderOption{audit.WithRecorderLogger(log)}
	closePublisher := func() {}
	if len(cfg.Audit.KafkaBrokers) > 0 {
		publisher, err := audit.NewKafkaPublisher(cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic)
		if err != nil {
			return nil, nil, fmt.Errorf("connect kafka: %w", err)
		}
		opts = append(opts, audit.WithPublisher(publisher))
		closePublisher = publisher.Close
	}
	return audit.NewRecorder(store, opts...), closePublisher, nil
}

func healthHandler(db *sql.DB, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		if redisClient != nil {
			if err := redisClient.Health(ctx); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}
