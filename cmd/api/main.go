package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/mail"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/oauth"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-identity-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/utilities"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// init logger
	lg, err := utilities.Init(cfg.Logger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Infow("starting service-identity-go", "store", cfg.Store, "addr", cfg.HTTPAddr)

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, sugar)
	if err != nil {
		sugar.Fatalf("open store: %v", err)
	}
	defer closeStore()

	signer, verifier, err := loadKeys(cfg)
	if err != nil {
		sugar.Fatalf("load keys: %v", err)
	}
	if signer == nil {
		sugar.Warn("PRIVATE_KEY not set; token issuing endpoints will fail")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewCollector(reg)

	merger := user.NewMerger(store, rec)
	users := user.NewUserService(user.Deps{
		Store:          store,
		Merger:         merger,
		Signer:         signer,
		Verifier:       verifier,
		Mailer:         mail.NewLogMailer(sugar),
		Metrics:        rec,
		Logger:         sugar,
		VerifyEmailURL: cfg.VerifyEmailURL,
	})
	client := oauth.NewClient(&http.Client{Timeout: cfg.OAuthHTTPTimeout},
		oauth.NewGoogle(oauth.Endpoints{}),
		oauth.NewFacebook(oauth.Endpoints{}),
	)
	logins := oauth.NewLoginService(oauth.LoginDeps{
		Client: client,
		Credentials: map[entity.ProviderKind]oauth.Credentials{
			entity.ProviderGoogle:   {ClientID: cfg.GoogleOAuthID, ClientSecret: cfg.GoogleOAuthSecret},
			entity.ProviderFacebook: {ClientID: cfg.FacebookOAuthID, ClientSecret: cfg.FacebookOAuthSecret},
		},
		Merger:  merger,
		Signer:  signer,
		Metrics: rec,
		Logger:  sugar,
	})

	limiter := router.NewRateLimiter(router.RateLimiterConfig{
		Rate:            rate.Limit(cfg.RateLimitRPS),
		Burst:           cfg.RateLimitBurst,
		CleanupInterval: cfg.RateLimitCleanup,
	}, sugar)
	defer limiter.Stop()

	// mount http server
	handler := router.RegisterRoutes(router.Deps{
		Logger:     sugar,
		BasePath:   cfg.BasePath,
		TrustProxy: cfg.TrustProxy,
		Users:      user.NewHandler(users, sugar),
		OAuth:      oauth.NewHandler(logins, sugar),
		Guard:      auth.NewGuard(verifier, rec),
		Verifier:   verifier,
		Limiter:    limiter,
		Metrics:    metrics.Handler(reg),
		Ping:       store.Ping,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// run server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()

	sugar.Info("service is running; press Ctrl+C to stop")

	<-ctx.Done()

	sugar.Info("shutting down")

	// give a short grace period for cleanup
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// shutdown http server
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}

// openStore connects the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (userrepo.Store, func(), error) {
	switch {
	case cfg.Store == config.StoreMongo:
		client, err := database.ConnectMongo(ctx, cfg.Mongo())
		if err != nil {
			return nil, nil, err
		}
		disconnect := func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(dctx); err != nil {
				logger.Warnf("mongo disconnect failed: %v", err)
			}
		}
		store := userrepo.NewMongoStore(client.Database(cfg.MongoDatabase))
		if err := store.EnsureIndexes(ctx); err != nil {
			disconnect()
			return nil, nil, fmt.Errorf("ensure indexes: %w", err)
		}
		return store, disconnect, nil

	case cfg.SQLStore():
		dbCfg := cfg.Database()
		db, err := database.Open(dbCfg)
		if err != nil {
			return nil, nil, err
		}
		closeDB := func() {
			if err := db.Close(); err != nil {
				logger.Warnf("db close failed: %v", err)
			}
		}
		if cfg.DatabaseMigrate {
			if err := database.MigrateUp(dbCfg, db.DB); err != nil {
				closeDB()
				return nil, nil, err
			}
			logger.Info("database migrations applied")
		}
		node, err := utilities.SnowflakeNode(cfg.SnowflakeNode)
		if err != nil {
			closeDB()
			return nil, nil, fmt.Errorf("snowflake node: %w", err)
		}
		return userrepo.NewUserRepo(db, node), closeDB, nil

	default:
		logger.Warn("using in-memory store; data is lost on restart")
		return userrepo.NewMemoryStore(func() string {
			return utilities.NewSnowflakeIDWithNode(cfg.SnowflakeNode)
		}), func() {}, nil
	}
}

// loadKeys returns a nil signer when no private key is configured.
func loadKeys(cfg config.Config) (*session.Signer, *session.Verifier, error) {
	pub, err := session.ParsePublicKey(cfg.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("public key: %w", err)
	}
	verifier := session.NewVerifier(pub, cfg.Issuer)
	if cfg.PrivateKey == "" {
		return nil, verifier, nil
	}
	priv, err := session.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("private key: %w", err)
	}
	if session.KeyID(&priv.PublicKey) != session.KeyID(pub) {
		return nil, nil, errors.New("PRIVATE_KEY does not match PUBLIC_KEY")
	}
	return session.NewSigner(priv, cfg.Issuer), verifier, nil
}
