package cli

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/mandaact/backend/internal/cache"
	"github.com/mandaact/backend/internal/config"
	"github.com/mandaact/backend/internal/database"
	"github.com/mandaact/backend/internal/gamification"
	"github.com/mandaact/backend/internal/logger"
	"github.com/mandaact/backend/internal/middleware"
	"github.com/mandaact/backend/internal/timezone"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const pruneInterval = time.Hour

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoMigrate, "no-migrate", false, "Skip applying pending migrations on start")
	rootCmd.AddCommand(serveCmd)
}

var (
	servePort      string
	serveNoMigrate bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != "" {
		cfg.Server.Port = servePort
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if !serveNoMigrate {
		if err := database.Migrate(db); err != nil {
			return err
		}
	}

	loc, err := timezone.Load(cfg.Gamification.Timezone)
	if err != nil {
		return err
	}

	var catalog gamification.CatalogCache
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Warn("redis unavailable, achievement catalog cache disabled",
				zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			defer rc.Close()
			c := cache.NewCatalog(rc, cfg.Redis.TTL.Duration, log)
			if !serveNoMigrate {
				if err := c.Invalidate(ctx); err != nil {
					log.Warn("achievement cache not cleared", zap.Error(err))
				}
			}
			catalog = c
		}
	}

	store := gamification.NewStore(db, log)
	svc := gamification.NewService(store, timezone.New(loc), log, catalog)

	go pruneLoop(ctx, store, log)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      newRouter(cfg, db, svc, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown", zap.Error(err))
		}
	}()

	log.Info("server starting",
		zap.String("port", cfg.Server.Port),
		zap.String("timezone", loc.String()),
		zap.Bool("catalog_cache", catalog != nil),
	)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("server stopped")
	return nil
}

func newRouter(cfg config.Config, db *sql.DB, svc *gamification.Service, log *zap.Logger) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Logger(log))

	r.HandleFunc("/health", healthHandler(db)).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Auth([]byte(cfg.Auth.JWTSecret)))

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitPerMinute)
	gamification.NewHandler(svc, log).Register(api, limiter.Middleware)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func healthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := db.PingContext(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}
}

// pruneLoop deletes expired bonus grants until ctx is cancelled.
func pruneLoop(ctx context.Context, store *gamification.Store, log *zap.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := store.PruneExpiredBonuses(ctx, now.UTC())
			if err != nil {
				log.Warn("prune expired bonuses", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("pruned expired bonuses", zap.Int64("count", n))
			}
		}
	}
}
