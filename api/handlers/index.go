package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/presssync/logger"
	"github.com/meghashyamc/presssync/services/index"
)

type SyncResponse struct {
	*index.State
	TotalPages int    `json:"total_pages"`
	Summary    string `json:"summary"`
}

func newSyncResponse(state *index.State) SyncResponse {
	return SyncResponse{State: state, TotalPages: state.TotalPages(), Summary: state.Summary()}
}

func SetupIndex(router gin.IRouter, logger logger.Logger, service *index.Service) {
	router.POST("/sync", handleStartSync(service, logger))
	router.POST("/sync/batch", handleRunBatch(service, logger))
	router.DELETE("/sync", handleCancelSync(service, logger))
	router.GET("/sync", handleSyncStatus(service, logger))
	router.PUT("/sync/posts/:id", handleIndexPost(service, logger))
	router.DELETE("/sync/posts/:id", handleDeletePost(service, logger))
}

func handleStartSync(service *index.Service, logger logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, err := service.StartFullSync(c.Request.Context())
		switch {
		case errors.Is(err, index.ErrSyncInProgress):
			c.Abort()
			writeResponse(c, newSyncResponse(state), http.StatusConflict, []string{err.Error()})
			return
		case err != nil && state == nil:
			logger.Error("could not start sync", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusInternalServerError, []string{err.Error()})
			return
		case err != nil:
			// started, but the first batch could not be scheduled
			logger.Warn("sync started without a scheduled batch", "sync_id", state.ID, "err", err.Error())
			writeResponse(c, newSyncResponse(state), http.StatusAccepted, []string{err.Error()})
			return
		}

		writeResponse(c, newSyncResponse(state), http.StatusAccepted, nil)
	}
}

func handleRunBatch(service *index.Service, logger logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, err := service.RunBatch(c.Request.Context())
		switch {
		case errors.Is(err, index.ErrNotRunning), errors.Is(err, index.ErrCancelled):
			c.Abort()
			writeResponse(c, newSyncResponse(state), http.StatusConflict, []string{err.Error()})
			return
		case err != nil:
			logger.Error("sync batch failed", "err", err.Error())
			c.Abort()
			var data any
			if state != nil {
				data = newSyncResponse(state)
			}
			writeResponse(c, data, http.StatusInternalServerError, []string{err.Error()})
			return
		}

		writeResponse(c, newSyncResponse(state), http.StatusOK, nil)
	}
}

func handleCancelSync(service *index.Service, logger logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, err := service.Cancel(c.Request.Context())
		switch {
		case errors.Is(err, index.ErrNotRunning):
			c.Abort()
			writeResponse(c, newSyncResponse(state), http.StatusConflict, []string{err.Error()})
			return
		case err != nil:
			logger.Error("could not cancel sync", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusInternalServerError, []string{err.Error()})
			return
		}

		writeResponse(c, newSyncResponse(state), http.StatusOK, nil)
	}
}

func handleSyncStatus(service *index.Service, logger logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, err := service.Status(c.Request.Context())
		if err != nil {
			logger.Error("could not get sync status", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusInternalServerError, []string{err.Error()})
			return
		}

		writeResponse(c, newSyncResponse(state), http.StatusOK, nil)
	}
}

func handleIndexPost(service *index.Service, logger logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := postID(c)
		if !ok {
			return
		}
		if err := service.IndexPost(c.Request.Context(), id); err != nil {
			logger.Warn("could not sync post", "post_id", id, "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusBadGateway, []string{err.Error()})
			return
		}

		writeResponse(c, nil, http.StatusNoContent, nil)
	}
}

func handleDeletePost(service *index.Service, logger logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := postID(c)
		if !ok {
			return
		}
		if err := service.DeletePost(c.Request.Context(), id); err != nil {
			logger.Warn("could not delete post from index", "post_id", id, "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusBadGateway, []string{err.Error()})
			return
		}

		writeResponse(c, nil, http.StatusNoContent, nil)
	}
}

func postID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.Abort()
		writeResponse(c, nil, http.StatusNotAcceptable, []string{"invalid post id"})
		return 0, false
	}
	return id, true
}
