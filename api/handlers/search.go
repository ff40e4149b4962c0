package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/presssync/content"
	"github.com/meghashyamc/presssync/logger"
	"github.com/meghashyamc/presssync/services/facets"
	"github.com/meghashyamc/presssync/services/query"
	"github.com/meghashyamc/presssync/services/search"
	"github.com/meghashyamc/presssync/validation"
)

const HeaderPaginationTotalCount = "X-Pagination-Total-Count"

type SearchResponse struct {
	Results     []search.Result `json:"results"`
	Facets      facets.Result   `json:"facets,omitempty"`
	PageDetails Pagination      `json:"page_details"`
}

func SetupSearch(router gin.IRouter, logger logger.Logger, service *search.Service, registry *content.Registry, validator *validation.Validator) {
	router.GET("/search", handleSearch(service, registry, logger, validator))
}

func handleSearch(service *search.Service, registry *content.Registry, logger logger.Logger, validator *validation.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		request, err := query.FromValues(c.Request.URL.Query(), registry)
		if err != nil {
			logger.Warn("could not extract expected params from search request", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusUnprocessableEntity, []string{"failed to extract search parameters"})
			return
		}

		if err := validator.Validate(*request); err != nil {
			logger.Warn("could not validate search request", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusNotAcceptable, []string{err.Error()})
			return
		}

		results, err := service.Search(c.Request.Context(), request)
		switch {
		case errors.Is(err, search.ErrInactive), errors.Is(err, search.ErrNoPulse):
			logger.Warn("search engine unavailable", "reason", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusServiceUnavailable, []string{err.Error()})
			return
		case err != nil:
			logger.Error("search failed", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusInternalServerError, []string{err.Error()})
			return
		}

		searchResponse := SearchResponse{
			Results: results.Results,
			Facets:  results.Facets,
			PageDetails: calculatePagination(
				int(results.Total),
				results.Size,
				results.From),
		}

		c.Header(HeaderPaginationTotalCount, strconv.FormatInt(results.Total, 10))
		writeResponse(c, searchResponse, http.StatusOK, nil)
	}
}
