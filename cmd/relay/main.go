package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"claude-relay/internal/admin"
	"claude-relay/internal/config"
	"claude-relay/internal/crypto"
	"claude-relay/internal/enhance"
	"claude-relay/internal/facade/anthropic"
	"claude-relay/internal/keystore"
	"claude-relay/internal/logbus"
	"claude-relay/internal/logging"
	"claude-relay/internal/metrics"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		logging.Init("", false).Error("config", "err", err)
		os.Exit(1)
	}
	logger := logging.Init(cfg.LogFile, cfg.Debug)

	sqlDB, err := keystore.Open(cfg.MySQLDSN)
	if err != nil {
		logger.Error("db open", "err", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	if err := keystore.Migrate(sqlDB); err != nil {
		logger.Error("db migrate", "err", err)
		os.Exit(1)
	}

	sealer, err := crypto.NewSealerFromBase64Key(cfg.KeyEncMasterB64)
	if err != nil {
		logger.Error("sealer", "err", err)
		os.Exit(1)
	}

	store := keystore.NewStore(sqlDB, sealer)
	m := metrics.New()
	bus := logbus.New(sqlDB, logger, 500)
	enh := enhance.New(logger)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "Anthropic-Version", "Anthropic-Beta"},
		ExposedHeaders:   []string{"Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Mount("/metrics", m.Handler())

	facadeHandler := anthropic.NewHandler(anthropic.Config{
		Keys:           store,
		Enhancer:       enh,
		Metrics:        m,
		Bus:            bus,
		Logger:         logger,
		DefaultBaseURL: cfg.UpstreamBaseURL,
		APIVersion:     cfg.AnthropicVersion,
	})

	v1 := chi.NewRouter()
	if cfg.ClientToken != "" {
		v1.Use(clientAuthMiddleware(cfg.ClientToken))
	}
	v1.Mount("/", facadeHandler.Routes())
	r.Mount("/v1", v1)

	r.Mount("/admin", admin.NewHandler(store, bus, logger, cfg.AdminToken, cfg.AnthropicVersion, cfg.UpstreamBaseURL).Routes())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func clientAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(got, "Bearer ") {
				got = strings.TrimSpace(strings.TrimPrefix(got, "Bearer "))
			} else {
				got = strings.TrimSpace(r.Header.Get("x-api-key"))
			}
			if got != token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
