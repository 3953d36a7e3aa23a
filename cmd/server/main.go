package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yanghanggit/ai-rpg-sub004/internal/ai"
	"github.com/yanghanggit/ai-rpg-sub004/internal/blueprint"
	"github.com/yanghanggit/ai-rpg-sub004/internal/config"
	"github.com/yanghanggit/ai-rpg-sub004/internal/handlers"
	"github.com/yanghanggit/ai-rpg-sub004/internal/logger"
	"github.com/yanghanggit/ai-rpg-sub004/internal/session"
	"github.com/yanghanggit/ai-rpg-sub004/internal/storage"
)

func main() {
	configPath := os.Getenv("CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	base := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log := logrus.NewEntry(base)
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if cfg.LLM.APIKey == "" {
		log.Warn("OPENROUTER_API_KEY is not set, LLM requests will fail")
	}
	if !slices.Contains(ai.AvailableModels, cfg.LLM.Model) {
		log.WithField("model", cfg.LLM.Model).Warn("model is not in the tested list")
	}

	// LLM pool, optionally backed by the response cache
	var cache *ai.Cache
	if cfg.LLM.Cache.Enabled {
		cache, err = ai.OpenCache(cfg.LLM.Cache.Path)
		if err != nil {
			log.WithError(err).Fatal("failed to open llm cache")
		}
		defer cache.Close()
	}
	pool := ai.NewPool(ai.NewOpenRouterClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model), ai.PoolOptions{
		Parallelism: cfg.LLM.Parallelism,
		Timeout:     cfg.LLM.Timeout,
		Retries:     cfg.LLM.Retries,
		Backoff:     cfg.LLM.Backoff,
		Cache:       cache,
		Log:         log,
	})

	catalog := blueprint.NewCatalog()
	if err := catalog.LoadDir(filepath.Join(cfg.Server.DataDir, "blueprints")); err != nil {
		log.WithError(err).Fatal("failed to load blueprints")
	}
	snapshots := storage.NewSnapshotStore(filepath.Join(cfg.Server.DataDir, "saves"), cfg.Game.SnapshotRetain, log)

	sessions := session.NewManager(session.Options{
		LLM:        pool,
		Blueprints: catalog,
		Snapshots:  snapshots,
		Config:     cfg.Game,
		Log:        log,
	})
	app := handlers.NewApp(sessions, catalog, snapshots, log)

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: app.Routes(),
	}

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	sessions.StartEviction(ctx)

	go func() {
		log.WithFields(logrus.Fields{"addr": "http://localhost:" + cfg.Server.Port, "blueprints": catalog.Names()}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown error")
	}
	sessions.Shutdown(shutdownCtx)
	log.WithField("llm", pool.Stats()).Info("server stopped")
}
