package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sclera-labs/authgate/pkg/authcore/admin"
	"github.com/sclera-labs/authgate/pkg/authcore/capability"
	"github.com/sclera-labs/authgate/pkg/authcore/jwks"
	"github.com/sclera-labs/authgate/pkg/authcore/session"
	"github.com/sclera-labs/authgate/pkg/authcore/store"
	"github.com/sclera-labs/authgate/pkg/authcore/tokens"
	"github.com/sclera-labs/authgate/pkg/config"
	"github.com/sclera-labs/authgate/pkg/gateway"
	"github.com/sclera-labs/authgate/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the authgate HTTP server",
	Long: `Start the authgate server: the per-request authorization decision
engine at GET /auth, the token issuance/inspection family under
/auth/tokens, and the session endpoints under /auth/api/v1.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverRequestTimeout   = 10 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 15 * time.Second
	serverIdleTimeout      = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("address", ":8080", "address to listen on")
	serveCmd.Flags().Bool("allow-private-ips", false, "allow JWKS/discovery fetches to reach private network addresses")

	for _, name := range []string{"address", "allow-private-ips"} {
		if err := viper.BindPFlag(name, serveCmd.Flags().Lookup(name)); err != nil {
			logger.Fatalf("failed to bind %s flag: %v", name, err)
		}
	}

	if err := config.RegisterFlags(serveCmd); err != nil {
		logger.Fatalf("failed to register config flags: %v", err)
	}
}

// buildPipeline constructs the capability checker pipeline from the
// operator's configured access checks, defaulting to a bare scope checker
// when none are configured so a fresh deployment is still usable.
func buildPipeline(checks []config.AccessCheck) (*capability.Pipeline, error) {
	if len(checks) == 0 {
		factory := capability.GetFactory("scope")
		checker, err := factory.CreateChecker(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build default scope checker: %w", err)
		}
		return capability.NewPipeline(checker), nil
	}

	checkers := make([]capability.Checker, 0, len(checks))
	for _, check := range checks {
		factory := capability.GetFactory(check.Type)
		if factory == nil {
			return nil, fmt.Errorf("unknown access check type %q", check.Type)
		}
		raw := json.RawMessage(check.Config)
		if err := factory.ValidateConfig(raw); err != nil {
			return nil, fmt.Errorf("invalid config for access check %q: %w", check.Type, err)
		}
		checker, err := factory.CreateChecker(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to build access check %q: %w", check.Type, err)
		}
		checkers = append(checkers, checker)
	}
	return capability.NewPipeline(checkers...), nil
}

func trustedIssuerSet(issuers []string) map[string]bool {
	set := make(map[string]bool, len(issuers))
	for _, iss := range issuers {
		set[iss] = true
	}
	return set
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Initialize(cfg.LogLevel, true)

	signingKey, err := config.LoadRSAPrivateKey(cfg.SigningKeyPath)
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}

	var tokenStore store.Store
	var adminStore admin.Store

	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse redis-url: %w", err)
		}
		redisClient := redis.NewClient(redisOpts)

		redisTokenStore := store.NewRedisStoreWithClient(redisClient, "authgate:")
		if err := redisTokenStore.Ping(ctx); err != nil {
			return fmt.Errorf("failed to connect token store to redis: %w", err)
		}
		tokenStore = redisTokenStore
		adminStore = admin.NewRedisStoreWithClient(redisClient, "authgate:")
		logger.Infof("using redis-backed token and admin stores")
	} else {
		tokenStore = store.NewMemoryStore()
		adminStore = admin.NewMemoryStore()
		logger.Infof("using in-memory token and admin stores; state will not survive a restart")
	}

	httpClient, err := jwks.NewHTTPClient(viper.GetBool("allow-private-ips"))
	if err != nil {
		return fmt.Errorf("failed to build JWKS HTTP client: %w", err)
	}
	jwksCache, err := jwks.New(ctx, httpClient)
	if err != nil {
		return fmt.Errorf("failed to build JWKS cache: %w", err)
	}

	pipeline, err := buildPipeline(cfg.AccessChecks)
	if err != nil {
		return fmt.Errorf("failed to build capability pipeline: %w", err)
	}

	tokenService := tokens.NewService(tokens.Config{
		Issuer:            cfg.Issuer,
		Audience:          cfg.DefaultAudience,
		InternalAudience:  cfg.InternalAudience,
		HandlePrefix:      cfg.HandlePrefix,
		SessionTTL:        24 * time.Hour,
		TrustedIssuers:    trustedIssuerSet(cfg.TrustedIssuers),
		UpstreamAudiences: map[string][]string{cfg.Issuer: {cfg.DefaultAudience}},
		KnownScopes:       cfg.KnownScopes,
	}, tokenStore, jwksCache, signingKey)

	sessions := session.NewManager(session.Config{
		CookieName: cfg.CookieName,
		Secret:     cfg.SessionSecret,
		Secure:     true,
		MaxAge:     24 * time.Hour,
	})

	handler := gateway.NewHandler(gateway.Config{
		Realm:            cfg.Realm,
		BasicAuthRealm:   cfg.BasicAuthRealm,
		HandlePrefix:     cfg.HandlePrefix,
		Issuer:           cfg.Issuer,
		DefaultAudience:  cfg.DefaultAudience,
		InternalAudience: cfg.InternalAudience,
	}, tokenService, pipeline, sessions, adminStore)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Timeout(serverRequestTimeout),
	)
	handler.Mount(router)

	address := viper.GetString("address")
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		logger.Infof("authgate listening on %s", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server forced to shutdown: %v", err)
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
