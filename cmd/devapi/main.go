package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"direct-chat/internal/devapi"
	"direct-chat/internal/logging"
)

func main() {
	_ = godotenv.Load(".env")

	addr := flag.String("addr", envOr("DEVAPI_ADDR", ":8000"), "listen address")
	uploads := flag.String("uploads", envOr("DEVAPI_UPLOADS", "uploads"), "directory for attachment files")
	logLevel := flag.String("log-level", envOr("DEVAPI_LOG_LEVEL", "info"), "log level")
	loginRate := flag.Float64("login-rate", 1, "login attempts per second per client")
	loginBurst := flag.Int("login-burst", 5, "login burst per client")
	flag.Parse()

	log := logging.New(os.Stderr, *logLevel)

	var store devapi.Store = devapi.NewMemoryStore()
	if dbURL := os.Getenv("DATABASE_URL"); dbURL == "" {
		log.Warn().Msg("DATABASE_URL not set; keeping users and messages in memory")
	} else {
		db, err := sql.Open("pgx", dbURL)
		if err != nil {
			log.Fatal().Err(err).Msg("open db")
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			log.Fatal().Err(err).Msg("db ping")
		}
		if err := devapi.RunMigrations(db); err != nil {
			log.Fatal().Err(err).Msg("migrate")
		}
		store = devapi.NewSQLStore(db)
	}

	srv := devapi.New(store,
		devapi.WithLogger(log),
		devapi.WithUploadDir(*uploads),
		devapi.WithLoginRate(*loginRate, *loginBurst),
		devapi.WithRequestLog(),
	)
	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", *addr).Msg("chat api listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("shutdown")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
