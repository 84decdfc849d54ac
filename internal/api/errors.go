package api

import (
	"errors"
	"net/http"
	"strconv"

	"mixerline/internal/apperr"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}

// fail writes err as {"error", "kind"} with the status of its kind.
func fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	message := err.Error()
	var e *apperr.Error
	if errors.As(err, &e) && e.Message != "" {
		message = e.Message
	}
	if kind == apperr.KindUnavailable {
		zap.S().Errorw("Request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(statusOf(kind), gin.H{"error": message, "kind": kind})
}

func badRequest(c *gin.Context, format string, args ...any) {
	fail(c, apperr.Validation("api", format, args...))
}

// bind decodes the JSON body into dst. An empty body is accepted when optional.
func bind(c *gin.Context, dst any, optional bool) bool {
	if optional && c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		badRequest(c, "invalid request body: %v", err)
		return false
	}
	return true
}

func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid %s %q", name, c.Param(name))
		return 0, false
	}
	return uint(id), true
}

// uintQuery reads an optional numeric query parameter; absent is zero.
func uintQuery(c *gin.Context, name string) (uint, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		badRequest(c, "invalid query parameter %s=%q", name, raw)
		return 0, false
	}
	return uint(v), true
}
