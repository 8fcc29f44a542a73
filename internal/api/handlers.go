package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"meetdash/internal/auth"
	"meetdash/internal/logging"
	"meetdash/internal/service/schedule"
	"meetdash/internal/worker"
)

// JobStats reports the state of the background summary queue.
type JobStats interface {
	Stats() worker.Stats
}

// Handler wires HTTP routes to the auth service and the meeting procedures.
type Handler struct {
	auth          *auth.Service
	svc           *schedule.Service
	webhookSecret string
	jobs          JobStats
	logger        *zap.Logger
}

// NewHandler constructs a Handler. jobs may be nil.
func NewHandler(authService *auth.Service, svc *schedule.Service, webhookSecret string, jobs JobStats, logger *zap.Logger) *Handler {
	return &Handler{
		auth:          authService,
		svc:           svc,
		webhookSecret: webhookSecret,
		jobs:          jobs,
		logger:        logging.OrNop(logger).Named("api"),
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(h.requestLogger(), h.instrument())
	router.GET("/healthz", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.POST("/auth/sign-up", h.signUp)
	api.POST("/auth/sign-in", h.signIn)
	api.GET("/auth/session", h.auth.OptionalSession(), h.session)
	api.POST("/auth/sign-out", h.auth.Middleware(), h.auth.CSRFMiddleware(), h.signOut)
	api.POST("/webhooks/video", h.videoWebhook)

	procs := api.Group("")
	procs.Use(h.auth.Middleware(), h.auth.CSRFMiddleware())
	procs.GET("/agent.getOne", h.getAgent)
	procs.GET("/agent.getMany", h.listAgents)
	procs.POST("/agent.create", h.createAgent)
	procs.POST("/agent.update", h.updateAgent)
	procs.POST("/agent.remove", h.removeAgent)
	procs.GET("/meeting.getOne", h.getMeeting)
	procs.GET("/meeting.getMany", h.listMeetings)
	procs.POST("/meeting.create", h.createMeeting)
	procs.POST("/meeting.update", h.updateMeeting)
	procs.POST("/meeting.startMeeting", h.startMeeting)
	procs.POST("/meeting.cancelMeeting", h.cancelMeeting)
	procs.POST("/meeting.remove", h.removeMeeting)
	procs.POST("/meeting.generateToken", h.generateToken)
}

type signUpRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Image    string `json:"image"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) signUp(c *gin.Context) {
	var req signUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}
	user, err := h.auth.RegisterUser(c.Request.Context(), req.Name, req.Email, req.Password, req.Image)
	if err != nil {
		h.failAuth(c, err)
		return
	}
	h.startSession(c, http.StatusCreated, user.ID, gin.H{"user": user})
}

func (h *Handler) signIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}
	user, err := h.auth.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.failAuth(c, err)
		return
	}
	h.startSession(c, http.StatusOK, user.ID, gin.H{"user": user})
}

// startSession issues a session for userID, sets the cookies and writes body
// with the token added.
func (h *Handler) startSession(c *gin.Context, status int, userID string, body gin.H) {
	authToken, err := h.auth.IssueToken(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("issue token", zap.String("user_id", userID), zap.Error(err))
		writeError(c, http.StatusInternalServerError, codeInternal, "issue token failed")
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		h.logger.Error("issue csrf token", zap.Error(err))
		writeError(c, http.StatusInternalServerError, codeInternal, "issue token failed")
		return
	}
	h.setAuthCookies(c, authToken, csrfToken)
	body["token"] = authToken
	c.JSON(status, body)
}

func (h *Handler) failAuth(c *gin.Context, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(c, http.StatusBadRequest, codeBadRequest, err.Error())
	case errors.Is(err, auth.ErrEmailTaken):
		writeError(c, http.StatusConflict, codeConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(c, http.StatusUnauthorized, codeUnauthorized, err.Error())
	default:
		h.logger.Error("auth request failed", zap.String("route", c.FullPath()), zap.Error(err))
		writeError(c, http.StatusInternalServerError, codeInternal, "internal server error")
	}
}

func (h *Handler) session(c *gin.Context) {
	user, ok := auth.UserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"session": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": gin.H{"user": user}})
}

func (h *Handler) signOut(c *gin.Context) {
	if token, ok := auth.AuthTokenFromContext(c); ok {
		if err := h.auth.RevokeToken(c.Request.Context(), token); err != nil {
			h.logger.Error("revoke token", zap.Error(err))
			writeError(c, http.StatusInternalServerError, codeInternal, "sign out failed")
			return
		}
	}
	h.clearAuthCookies(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if h.jobs != nil {
		body["jobs"] = h.jobs.Stats()
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}
