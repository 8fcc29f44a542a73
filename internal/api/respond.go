package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"meetdash/internal/service/schedule"
)

const (
	codeBadRequest   = "BAD_REQUEST"
	codeUnauthorized = "UNAUTHORIZED"
	codeNotFound     = "NOT_FOUND"
	codeConflict     = "CONFLICT"
	codeUpstream     = "UPSTREAM_ERROR"
	codeInternal     = "INTERNAL_SERVER_ERROR"
)

func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{
		"code":    code,
		"message": message,
	}})
}

func statusFor(kind schedule.Kind) (int, string) {
	switch kind {
	case schedule.KindValidation:
		return http.StatusBadRequest, codeBadRequest
	case schedule.KindNotFound:
		return http.StatusNotFound, codeNotFound
	case schedule.KindUnauthorized:
		return http.StatusUnauthorized, codeUnauthorized
	case schedule.KindConflict:
		return http.StatusConflict, codeConflict
	case schedule.KindUpstream:
		return http.StatusBadGateway, codeUpstream
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// fail writes the error envelope for a procedure error. Internal and
// upstream failures are logged; the others are the caller's fault.
func (h *Handler) fail(c *gin.Context, err error) {
	kind := schedule.KindOf(err)
	status, code := statusFor(kind)
	if kind == schedule.KindInternal || kind == schedule.KindUpstream {
		h.logger.Error("procedure failed",
			zap.String("route", c.FullPath()),
			zap.String("kind", kind.String()),
			zap.Error(err))
	}
	writeError(c, status, code, schedule.PublicMessage(err))
}

// bind decodes the JSON body into dst, writing a 400 on failure.
func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return false
	}
	return true
}
