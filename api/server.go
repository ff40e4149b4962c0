package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/presssync/config"
	"github.com/meghashyamc/presssync/content"
	"github.com/meghashyamc/presssync/db/contentdb"
	"github.com/meghashyamc/presssync/db/kvdb"
	"github.com/meghashyamc/presssync/db/searchdb"
	"github.com/meghashyamc/presssync/logger"
	"github.com/meghashyamc/presssync/metrics"
	"github.com/meghashyamc/presssync/services/document"
	"github.com/meghashyamc/presssync/services/facets"
	"github.com/meghashyamc/presssync/services/health"
	"github.com/meghashyamc/presssync/services/index"
	"github.com/meghashyamc/presssync/services/scheduler"
	"github.com/meghashyamc/presssync/services/search"
	"github.com/meghashyamc/presssync/validation"
)

type server struct {
	cfg        *config.Config
	router     *gin.Engine
	httpServer *http.Server
	kvdb       kvdb.DB
	searchdb   *searchdb.Client
	content    content.Store
	registry   *content.Registry
	metrics    *metrics.Metrics
	index      *index.Service
	scheduler  scheduler.Scheduler
	monitor    *health.Monitor
	search     *search.Service
	validator  *validation.Validator
	logger     logger.Logger
}

func Run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)

	defer cancel()

	s := &server{
		cfg:     cfg,
		logger:  logger.New(cfg.GetLogLevel()),
		metrics: metrics.New(),
	}
	if err := s.setupDependencies(ctx); err != nil {
		s.close()
		return err
	}
	s.setupRouter()
	s.setupHTTPServer()
	s.setupGracefulShutdown(ctx)

	return nil
}

func (s *server) setupDependencies(ctx context.Context) error {
	boltDB, err := kvdb.New(s.logger, s.cfg)
	if err != nil {
		s.logger.Error("error creating kvDB", "err", err.Error())
		return err
	}
	s.kvdb = boltDB
	settings := kvdb.NewSettings(s.kvdb)

	s.searchdb, err = searchdb.New(s.logger, s.cfg, s.metrics)
	if err != nil {
		s.logger.Error("error creating searchDB", "err", err.Error())
		return err
	}

	store, err := contentdb.New(ctx, s.logger, s.cfg)
	if err != nil {
		s.logger.Error("error creating content store", "err", err.Error())
		return err
	}
	s.content = store

	s.registry, err = content.LoadRegistry(s.cfg.GetRegistryPath())
	if err != nil {
		s.logger.Error("error loading content registry", "err", err.Error())
		return err
	}

	policy, err := document.NewPolicy(s.cfg.GetIndexFilter())
	if err != nil {
		s.logger.Error("error compiling index filter", "err", err.Error())
		return err
	}
	mapper := document.New(s.logger, s.content, s.registry, document.NewConfigAllowList(s.cfg.GetMetaFields()), policy, document.OptionsFromConfig(s.cfg))

	s.index = index.New(s.logger, s.content, mapper, s.searchdb, index.NewKVStateStore(s.kvdb), settings, s.metrics, s.cfg.GetBatchSize())
	batchScheduler, err := scheduler.New(ctx, s.logger, s.cfg, s.index)
	if err != nil {
		s.logger.Error("error creating batch scheduler", "err", err.Error())
		return err
	}
	s.scheduler = batchScheduler
	s.index.SetScheduler(s.scheduler)

	// the engine may come up after us; the heartbeat will notice
	if err := s.index.PrepareIndex(searchdb.Background(ctx)); err != nil {
		s.logger.Warn("could not prepare search index", "err", err.Error())
	}

	s.monitor = health.New(s.logger, s.searchdb, s.kvdb, settings, s.metrics, health.OptionsFromConfig(s.cfg))
	go s.monitor.Run(ctx)

	resolver := facets.New(s.logger, s.registry, s.content)
	s.search = search.New(s.logger, s.searchdb, settings, s.monitor, resolver, s.metrics, search.DefaultsFromConfig(s.cfg))

	s.validator, err = validation.New(s.logger)
	if err != nil {
		s.logger.Error("error creating validator", "err", err.Error())
		return err
	}

	return nil

}

func (s *server) setupRouter() {
	router := newRouter()

	router.Use(loggingMiddleware(s.logger))

	s.setupRoutes(router)

	s.router = router
}

func (s *server) setupHTTPServer() {

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", s.cfg.GetPort()),
		Handler: s.router.Handler(),
	}
	s.httpServer = httpServer
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()
}

func (s *server) setupGracefulShutdown(ctx context.Context) {

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		s.logger.Info("starting to shut down http server")
		shutdownCtx := context.Background()
		shutdownCtx, cancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error shutting down http server", "err", err)
		}
		s.close()
		s.logger.Info("shut down http server successfully")
	}()

	wg.Wait()
}

func (s *server) close() {
	if s.scheduler != nil {
		if err := s.scheduler.Close(); err != nil {
			s.logger.Warn("error closing batch scheduler", "err", err.Error())
		}
	}
	if s.content != nil {
		if err := s.content.Close(); err != nil {
			s.logger.Warn("error closing content store", "err", err.Error())
		}
	}
	if s.kvdb != nil {
		if err := s.kvdb.Close(); err != nil {
			s.logger.Warn("error closing kvDB", "err", err.Error())
		}
	}
}
