package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/presssync/api/handlers"
)

func (s *server) setupRoutes(router *gin.Engine) {
	router.GET("/health", liveness())
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	handlers.SetupSearch(router, s.logger, s.search, s.registry, s.validator)

	admin := router.Group("/", authMiddleware(s.logger, s.cfg.GetJWTSecret()))
	handlers.SetupIndex(admin, s.logger, s.index)
	handlers.SetupEngine(admin, s.logger, s.monitor)
}

func liveness() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	}
}

func newRouter() *gin.Engine {
	router := gin.Default()
	router.UseRawPath = true
	router.Use(_CORSMiddleware())
	router.Use(gin.Recovery())
	router.Use(requestCacheMiddleware())

	return router
}
