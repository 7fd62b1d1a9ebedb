// Command sentra-billing runs the billing reconciliation server: the Stripe
// webhook endpoint, the derived-access read API, and checkout/portal session
// creation.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Cloverings1/Sentra-sub000/internal/config"
	"github.com/Cloverings1/Sentra-sub000/pkg/api"
	"github.com/Cloverings1/Sentra-sub000/pkg/billing"
	zerologadapter "github.com/Cloverings1/Sentra-sub000/pkg/billing/logger/zerolog"
	prommetrics "github.com/Cloverings1/Sentra-sub000/pkg/billing/metrics/prometheus"
	stripeprovider "github.com/Cloverings1/Sentra-sub000/pkg/billing/stripe"
	notifyredis "github.com/Cloverings1/Sentra-sub000/pkg/notify/redis"
	"github.com/Cloverings1/Sentra-sub000/storage/postgres"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("server shut down gracefully")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	storageCfg := postgres.DefaultConfig()
	storageCfg.ConnectionString = cfg.DatabaseURL
	store, err := postgres.New(ctx, storageCfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var notifier billing.Notifier = &billing.NoopNotifier{}
	if cfg.RedisURL != "" {
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		client := goredis.NewClient(opts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
		notifier, err = notifyredis.New(client, notifyredis.DefaultConfig())
		if err != nil {
			return err
		}
		log.Info().Msg("redis change notifier enabled")
	}

	provider, err := stripeprovider.NewProvider(stripeprovider.Config{
		Config: billing.Config{
			Store:    store,
			Ledger:   store,
			Notifier: notifier,
			Logger:   zerologadapter.NewLogger(log),
			Metrics:  prommetrics.DefaultMetrics(cfg.MetricsNamespace),
		},
		StripeAPIKey:        cfg.StripeAPIKey,
		StripeWebhookSecret: cfg.StripeWebhookSecret,
		ProPriceID:          cfg.StripeProPriceID,
		FoundingPriceID:     cfg.StripeFoundingPrice,
		CheckoutSuccessURL:  cfg.CheckoutSuccessURL,
		CheckoutCancelURL:   cfg.CheckoutCancelURL,
		PortalReturnURL:     cfg.PortalReturnURL,
	})
	if err != nil {
		return err
	}

	getUserID := api.FromHeader(cfg.UserIDHeader)
	accessHandler, err := api.NewHandler(api.Config{
		Store:     store,
		GetUserID: getUserID,
		BetaAccess: func(r *http.Request) bool {
			return r.Header.Get(cfg.BetaHeader) == "true"
		},
		Logger: zerologadapter.NewLogger(log),
	})
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Method(http.MethodPost, "/webhooks/stripe", provider.WebhookHandler())
	r.Get("/v1/access", accessHandler.GetAccess)
	r.Get("/v1/founding-slots", accessHandler.GetFoundingSlots)
	r.Post("/v1/checkout", sessionHandler(getUserID, provider.CheckoutURL))
	r.Post("/v1/checkout/founding", sessionHandler(getUserID, provider.FoundingCheckoutURL))
	r.Post("/v1/portal", portalHandler(getUserID, store, provider))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

type urlResponse struct {
	URL string `json:"url"`
}

// sessionHandler adapts a checkout-session constructor into an authenticated
// endpoint returning the redirect URL.
func sessionHandler(
	getUserID func(*http.Request) string,
	create func(context.Context, string) (string, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := getUserID(r)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "user ID not found")
			return
		}

		url, err := create(r.Context(), userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create session")
			return
		}
		writeJSON(w, http.StatusOK, urlResponse{URL: url})
	}
}

// portalHandler resolves the Stripe customer for the authenticated user and
// opens a billing portal session.
func portalHandler(
	getUserID func(*http.Request) string,
	store billing.Store,
	provider billing.Provider,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := getUserID(r)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "user ID not found")
			return
		}

		prof, err := store.GetProfileByUser(r.Context(), userID)
		if errors.Is(err, billing.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no billing profile")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load profile")
			return
		}

		url, err := provider.PortalURL(r.Context(), prof.CustomerID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create portal session")
			return
		}
		writeJSON(w, http.StatusOK, urlResponse{URL: url})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
