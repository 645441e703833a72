package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"visualize-backend/config"
	"visualize-backend/conn"
	"visualize-backend/logging"
	"visualize-backend/migrations"
	"visualize-backend/responses"

	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logrus.WithError(err).Fatal("[boot] config")
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	db, err := conn.NewMySQL(bootCtx, cfg.DB)
	if err != nil {
		cancel()
		log.WithError(err).Fatal("[boot] mysql")
	}
	defer db.Close()
	if err := migrations.Migrate(bootCtx, db); err != nil {
		cancel()
		log.WithError(err).Fatal("[boot] migrate")
	}
	cancel()

	var cache responses.Cache
	if cfg.Cache.RedisURL != "" {
		rc, err := responses.NewRedisCache(cfg.Cache.RedisURL, cfg.Cache.TTL)
		if err != nil {
			log.WithError(err).Fatal("[boot] redis")
		}
		defer rc.Close()
		cache = rc
	} else {
		cache = responses.NewMemoryCache(cfg.Cache.Size, cfg.Cache.TTL)
	}

	router, jobs, err := newRouter(cfg, db, cache, log)
	if err != nil {
		log.WithError(err).Fatal("[boot] router")
	}
	if jobs != nil {
		if err := jobs.Start(); err != nil {
			log.WithError(err).Fatal("[boot] reminders")
		}
		defer jobs.Stop()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("addr", srv.Addr).Info("[boot] listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("[http] serve")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("[http] shutdown")
	}
	log.Info("[boot] stopped")
}
