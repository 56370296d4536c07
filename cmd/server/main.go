package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"fileflow-backend/internal/api"
	"fileflow-backend/internal/chunkstore"
	"fileflow-backend/internal/config"
	"fileflow-backend/internal/logging"
	"fileflow-backend/internal/store"
	"fileflow-backend/internal/upload"
)

func main() {
	log := logging.New("upload")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	chunks, err := chunkstore.NewStore(cfg.TempDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize chunk store")
	}

	svc := upload.NewService(cfg, db, chunks, log)
	handler := api.NewHandler(cfg, svc)

	sweeper := upload.NewSweeper(db, chunks, cfg.SweepInterval, cfg.TerminalRetention, log)
	go sweeper.Run(ctx)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("upload service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down upload service")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
