package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"meetdash/internal/video"
)

const maxWebhookBody = 1 << 20

// videoWebhook receives signed event deliveries from the video platform.
func (h *Handler) videoWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		writeError(c, http.StatusBadRequest, codeBadRequest, "unreadable body")
		return
	}
	ev, err := video.ParseEvent(h.webhookSecret, body, c.GetHeader(video.SignatureHeader))
	if err != nil {
		if errors.Is(err, video.ErrBadSignature) {
			h.logger.Warn("rejected webhook", zap.String("client_ip", c.ClientIP()))
			writeError(c, http.StatusUnauthorized, codeUnauthorized, err.Error())
			return
		}
		writeError(c, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if err := h.svc.ApplyEvent(c.Request.Context(), ev); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
