package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yourusername/tex-forge/internal/config"
	"github.com/yourusername/tex-forge/internal/jobs"
	"github.com/yourusername/tex-forge/internal/storage"
	"github.com/yourusername/tex-forge/internal/tex"
)

const serviceVersion = "0.1.0"

// serviceDeps は API サーバーが利用するコンポーネント一式です。
type serviceDeps struct {
	manager   *jobs.Manager
	store     *jobs.Store
	artifacts *storage.LocalStore
	reaper    *jobs.Reaper
	redis     *redis.Client
}

func setupJobs(cfg *config.Config, logger *zap.SugaredLogger) (*serviceDeps, error) {
	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, err
	}
	redisClient := redis.NewClient(opt)

	store, err := jobs.OpenStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	artifacts, err := storage.NewLocalStore(cfg.JobsDir)
	if err != nil {
		store.Close()
		return nil, err
	}

	service, err := tex.NewService(cfg, artifacts, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	manager, err := jobs.NewManager(cfg, service, store, artifacts, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	deps := &serviceDeps{
		manager:   manager,
		store:     store,
		artifacts: artifacts,
		redis:     redisClient,
	}
	if cfg.JobExpirySeconds > 0 {
		deps.reaper = jobs.NewReaper(store, artifacts,
			time.Duration(cfg.JobExpirySeconds)*time.Second,
			time.Duration(cfg.CleanupIntervalSeconds)*time.Second,
			logger)
	}
	return deps, nil
}

func (d *serviceDeps) close() {
	d.redis.Close()
	d.store.Close()
}

// healthHandler は依存コンポーネントの疎通結果を含むヘルスチェックを返します。
func healthHandler(deps *serviceDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		dbOK := deps.store.Ping(ctx) == nil
		queueOK := deps.redis.Ping(ctx).Err() == nil
		storageOK := deps.artifacts.Writable()

		status := "ok"
		if !dbOK || !queueOK || !storageOK {
			status = "degraded"
		}

		c.JSON(http.StatusOK, gin.H{
			"status":             status,
			"service":            "tex-forge-api",
			"version":            serviceVersion,
			"database_reachable": dbOK,
			"queue_reachable":    queueOK,
			"storage_writable":   storageOK,
		})
	}
}
