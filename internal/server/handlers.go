package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"github.com/wegman-software/footprints/internal/query"
)

const xmlContentType = "application/xml; charset=utf-8"

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorBody{Error: errorDetail{Message: message, Code: code}})
}

func (s *Server) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name": "footprints",
		"endpoints": gin.H{
			"buildings":  "/api/mapwithai/buildings?bbox=min_lon,min_lat,max_lon,max_lat",
			"statistics": "/api/stats",
			"metrics":    "/metrics",
		},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.ping != nil {
		if err := s.ping.Ping(c.Request.Context()); err != nil {
			s.log.Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) handleStats(c *gin.Context) {
	if s.stats == nil {
		writeError(c, http.StatusNotFound, "not_available", "statistics are not available")
		return
	}
	st, err := s.stats.Stats(c.Request.Context())
	if err != nil {
		s.log.Error("Failed to read statistics", zap.Error(err))
		writeError(c, http.StatusServiceUnavailable, "store_unavailable", "statistics are temporarily unavailable")
		return
	}
	c.JSON(http.StatusOK, st)
}

// parseRequest reads bbox, limit and use_intersects. limit defaults to
// the configured default and is capped by the configured maximum.
func (s *Server) parseRequest(c *gin.Context) (query.Request, error) {
	bbox := c.Query("bbox")
	if bbox == "" {
		return query.Request{}, &query.RequestError{Field: "bbox", Reason: "parameter is required"}
	}

	limit := s.cfg.DefaultLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return query.Request{}, &query.RequestError{Field: "limit", Reason: fmt.Sprintf("%q is not an integer", v)}
		}
		limit = n
	}

	useIntersects := true
	if v := c.Query("use_intersects"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return query.Request{}, &query.RequestError{Field: "use_intersects", Reason: fmt.Sprintf("%q is not a boolean", v)}
		}
		useIntersects = b
	}

	req, err := query.NewRequest(bbox, limit, useIntersects)
	if err != nil {
		return query.Request{}, err
	}
	if s.cfg.MaxLimit > 0 && req.Limit > s.cfg.MaxLimit {
		req.Limit = s.cfg.MaxLimit
	}
	return req, nil
}

// etag identifies a response by its document content
func etag(digest xxh3.Uint128) string {
	h := digest.Bytes()
	return fmt.Sprintf(`"%x"`, h[:])
}

func (s *Server) handleBuildings(c *gin.Context) {
	req, err := s.parseRequest(c)
	if err != nil {
		var reqErr *query.RequestError
		if errors.As(err, &reqErr) {
			writeError(c, http.StatusBadRequest, "invalid_"+reqErr.Field, "Invalid parameters: "+reqErr.Error())
			return
		}
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resp, err := s.engine.Query(c.Request.Context(), req)
	if err != nil {
		if resp == nil {
			writeError(c, http.StatusBadRequest, "invalid_bbox", err.Error())
			return
		}
		s.log.Error("Building query failed", zap.String("bbox", req.String()), zap.Error(err))
		queryFallbacks.Inc()
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusServiceUnavailable, xmlContentType, resp.Document)
		return
	}

	if resp.Fallback {
		queryFallbacks.Inc()
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, xmlContentType, resp.Document)
		return
	}
	buildingsServed.WithLabelValues(req.Mode.String()).Observe(float64(resp.Count))

	tag := etag(resp.Digest)
	c.Header("ETag", tag)
	c.Header("Cache-Control", fmt.Sprintf("public, max-age=%d", int(s.cfg.CacheMaxAge/time.Second)))
	c.Header("X-Buildings-Count", strconv.Itoa(resp.Count))

	if match := c.GetHeader("If-None-Match"); match != "" && match == tag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Data(http.StatusOK, xmlContentType, resp.Document)
}
