package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"meetdash/internal/auth"
	"meetdash/internal/filters"
	"meetdash/internal/models"
	"meetdash/internal/service/schedule"
)

const paramPageSize = "pageSize"

type idRequest struct {
	ID string `json:"id"`
}

// caller returns the authenticated user. The auth middleware guarantees one
// on every procedure route.
func (h *Handler) caller(c *gin.Context) (*models.User, bool) {
	user, ok := auth.UserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, codeUnauthorized, "authorization required")
		return nil, false
	}
	return user, true
}

func queryID(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Query("id"))
	if id == "" {
		writeError(c, http.StatusBadRequest, codeBadRequest, "id is required")
		return "", false
	}
	return id, true
}

// listQuery decodes the shared list parameters.
func listQuery(c *gin.Context, q url.Values) (filters.State, schedule.PageRequest, bool) {
	state, err := filters.Decode(q)
	if err != nil {
		writeError(c, http.StatusBadRequest, codeBadRequest, err.Error())
		return state, schedule.PageRequest{}, false
	}
	page := state.Page
	req := schedule.PageRequest{Page: &page}
	if raw := strings.TrimSpace(q.Get(paramPageSize)); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, codeBadRequest, "pageSize must be an integer")
			return state, schedule.PageRequest{}, false
		}
		req.PageSize = &size
	}
	return state, req, true
}

// respond writes v or the procedure error.
func (h *Handler) respond(c *gin.Context, v any, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// byID runs a procedure keyed by the caller and a single id.
func (h *Handler) byID(c *gin.Context, id string, proc func(ctx context.Context, userID, id string) (any, error)) {
	user, ok := h.caller(c)
	if !ok {
		return
	}
	v, err := proc(c.Request.Context(), user.ID, id)
	h.respond(c, v, err)
}

func (h *Handler) postID(c *gin.Context, proc func(ctx context.Context, userID, id string) (any, error)) {
	var req idRequest
	if !bind(c, &req) {
		return
	}
	h.byID(c, req.ID, proc)
}

func (h *Handler) getAgent(c *gin.Context) {
	id, ok := queryID(c)
	if !ok {
		return
	}
	h.byID(c, id, func(ctx context.Context, userID, id string) (any, error) {
		return h.svc.GetAgent(ctx, userID, id)
	})
}

func (h *Handler) listAgents(c *gin.Context) {
	user, ok := h.caller(c)
	if !ok {
		return
	}
	q := c.Request.URL.Query()
	q.Del(filters.ParamStatus)
	state, page, ok := listQuery(c, q)
	if !ok {
		return
	}
	res, err := h.svc.ListAgents(c.Request.Context(), user.ID, schedule.ListAgentsInput{
		PageRequest: page,
		Search:      state.Search,
	})
	h.respond(c, res, err)
}

func (h *Handler) createAgent(c *gin.Context) {
	user, ok := h.caller(c)
	if !ok {
		return
	}
	var in schedule.CreateAgentInput
	if !bind(c, &in) {
		return
	}
	agent, err := h.svc.CreateAgent(c.Request.Context(), user.ID, in)
	h.respond(c, agent, err)
}

func (h *Handler) updateAgent(c *gin.Context) {
	user, ok := h.caller(c)
	if !ok {
		return
	}
	var in schedule.UpdateAgentInput
	if !bind(c, &in) {
		return
	}
	agent, err := h.svc.UpdateAgent(c.Request.Context(), user.ID, in)
	h.respond(c, agent, err)
}

func (h *Handler) removeAgent(c *gin.Context) {
	h.postID(c, func(ctx context.Context, userID, id string) (any, error) {
		return h.svc.RemoveAgent(ctx, userID, id)
	})
}

func (h *Handler) getMeeting(c *gin.Context) {
	id, ok := queryID(c)
	if !ok {
		return
	}
	h.byID(c, id, func(ctx context.Context, userID, id string) (any, error) {
		return h.svc.GetMeeting(ctx, userID, id)
	})
}

func (h *Handler) listMeetings(c *gin.Context) {
	user, ok := h.caller(c)
	if !ok {
		return
	}
	state, page, ok := listQuery(c, c.Request.URL.Query())
	if !ok {
		return
	}
	res, err := h.svc.ListMeetings(c.Request.Context(), user.ID, schedule.ListMeetingsInput{
		PageRequest: page,
		Search:      state.Search,
		Status:      state.Status,
	})
	h.respond(c, res, err)
}

func (h *Handler) createMeeting(c *gin.Context) {
	user, ok := h.caller(c)
	if !ok {
		return
	}
	var in schedule.CreateMeetingInput
	if !bind(c, &in) {
		return
	}
	meeting, err := h.svc.CreateMeeting(c.Request.Context(), user, in)
	h.respond(c, meeting, err)
}

func (h *Handler) updateMeeting(c *gin.Context) {
	user, ok := h.caller(c)
	if !ok {
		return
	}
	var in schedule.UpdateMeetingInput
	if !bind(c, &in) {
		return
	}
	meeting, err := h.svc.UpdateMeeting(c.Request.Context(), user.ID, in)
	h.respond(c, meeting, err)
}

func (h *Handler) startMeeting(c *gin.Context) {
	h.postID(c, func(ctx context.Context, userID, id string) (any, error) {
		return h.svc.StartMeeting(ctx, userID, id)
	})
}

func (h *Handler) cancelMeeting(c *gin.Context) {
	h.postID(c, func(ctx context.Context, userID, id string) (any, error) {
		return h.svc.CancelMeeting(ctx, userID, id)
	})
}

func (h *Handler) removeMeeting(c *gin.Context) {
	h.postID(c, func(ctx context.Context, userID, id string) (any, error) {
		return h.svc.RemoveMeeting(ctx, userID, id)
	})
}

func (h *Handler) generateToken(c *gin.Context) {
	user, ok := h.caller(c)
	if !ok {
		return
	}
	token, err := h.svc.GenerateToken(c.Request.Context(), user)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}
