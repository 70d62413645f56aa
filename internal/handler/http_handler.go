package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/games-society/internal/domain"
	"github.com/weiawesome/games-society/internal/service"
	pkglog "github.com/weiawesome/games-society/pkg/log"
	"github.com/weiawesome/games-society/pkg/middleware"
	"github.com/weiawesome/games-society/pkg/response"
)

// Handler handles HTTP requests for the sync service.
type Handler struct {
	svc            service.SyncService
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler creates a new HTTP handler.
func NewHandler(svc service.SyncService, authMiddleware *middleware.AuthMiddleware) *Handler {
	return &Handler{
		svc:            svc,
		authMiddleware: authMiddleware,
	}
}

// RegisterRoutes registers all routes onto the Gin engine.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.authMiddleware.RequireAuth())
	{
		convs := api.Group("/conversations")
		{
			convs.POST("", h.ResolveConversation)
			convs.GET("", h.ListConversations)
			convs.GET("/:conversation_id/messages", h.ListMessages)
			convs.POST("/:conversation_id/messages", h.SendMessage)
		}

		users := api.Group("/users")
		{
			users.PATCH("/me", h.UpdateProfile)
			users.GET("/:user_id", h.GetUser)
			users.GET("/:user_id/counts", h.GetCounts)
			users.PUT("/:user_id/follow", h.Follow)
			users.DELETE("/:user_id/follow", h.Unfollow)
		}

		posts := api.Group("/posts")
		{
			posts.POST("", h.CreatePost)
			posts.GET("/:post_id", h.GetPost)
			posts.PUT("/:post_id/:field", h.ToggleOn)
			posts.DELETE("/:post_id/:field", h.ToggleOff)
		}
	}
}

// writeError maps core errors onto response envelopes.
func writeError(c *gin.Context, err error, what string) {
	switch {
	case errors.Is(err, domain.ErrInvalidParticipants),
		errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrInvalidField),
		errors.Is(err, domain.ErrInvalidDocument):
		response.BadRequest(c, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists):
		response.Conflict(c, err.Error())
	case errors.Is(err, domain.ErrTransientTransport):
		response.Unavailable(c, "store unavailable, retry later")
	default:
		l := pkglog.Ctx(c.Request.Context())
		l.Error().Err(err).Msg(what + " failed")
		response.InternalError(c, "failed to "+what)
	}
}

type resolveRequest struct {
	OtherID string `json:"other_id" binding:"required"`
}

// ResolveConversation handles POST /api/v1/conversations.
// It returns the conversation with other_id, creating it on first contact.
func (h *Handler) ResolveConversation(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	handle, err := h.svc.ResolveConversation(c.Request.Context(), middleware.GetUserID(c), req.OtherID)
	if err != nil {
		writeError(c, err, "resolve conversation")
		return
	}
	response.Success(c, gin.H{"id": handle.ID, "participants": handle.Participants})
}

// ListConversations handles GET /api/v1/conversations.
func (h *Handler) ListConversations(c *gin.Context) {
	convs, err := h.svc.ListConversations(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		writeError(c, err, "list conversations")
		return
	}
	response.Success(c, gin.H{"conversations": convs})
}

// ListMessages handles GET /api/v1/conversations/:conversation_id/messages.
func (h *Handler) ListMessages(c *gin.Context) {
	msgs, err := h.svc.ListMessages(c.Request.Context(), middleware.GetUserID(c), c.Param("conversation_id"))
	if err != nil {
		writeError(c, err, "list messages")
		return
	}
	response.Success(c, gin.H{"messages": msgs})
}

type sendRequest struct {
	Text string `json:"text"`
}

// SendMessage handles POST /api/v1/conversations/:conversation_id/messages.
func (h *Handler) SendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	msg, err := h.svc.SendMessage(c.Request.Context(), middleware.GetUserID(c), c.Param("conversation_id"), req.Text)
	if err != nil {
		writeError(c, err, "send message")
		return
	}
	response.Created(c, msg)
}

// GetUser handles GET /api/v1/users/:user_id.
func (h *Handler) GetUser(c *gin.Context) {
	u, err := h.svc.GetUser(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		writeError(c, err, "get user")
		return
	}
	response.Success(c, u)
}

// GetCounts handles GET /api/v1/users/:user_id/counts.
func (h *Handler) GetCounts(c *gin.Context) {
	counts, err := h.svc.GetCounts(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		writeError(c, err, "get counts")
		return
	}
	response.Success(c, counts)
}

// UpdateProfile handles PATCH /api/v1/users/me.
func (h *Handler) UpdateProfile(c *gin.Context) {
	var update domain.ProfileUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	u, err := h.svc.UpdateProfile(c.Request.Context(), middleware.GetUserID(c), update)
	if err != nil {
		writeError(c, err, "update profile")
		return
	}
	response.Success(c, u)
}

// Follow handles PUT /api/v1/users/:user_id/follow.
func (h *Handler) Follow(c *gin.Context) {
	h.setFollowing(c, true)
}

// Unfollow handles DELETE /api/v1/users/:user_id/follow.
func (h *Handler) Unfollow(c *gin.Context) {
	h.setFollowing(c, false)
}

func (h *Handler) setFollowing(c *gin.Context, desired bool) {
	ctx := c.Request.Context()
	selfID, targetID := middleware.GetUserID(c), c.Param("user_id")

	if err := h.svc.SetFollowing(ctx, selfID, targetID, desired); err != nil {
		writeError(c, err, "update follow")
		return
	}
	response.Success(c, gin.H{"user_id": targetID, "following": desired})
}

type createPostRequest struct {
	Content string   `json:"content" binding:"required"`
	Media   []string `json:"media"`
	GameTag string   `json:"gameTag"`
}

// CreatePost handles POST /api/v1/posts.
func (h *Handler) CreatePost(c *gin.Context) {
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	p := &domain.Post{
		AuthorID: middleware.GetUserID(c),
		Content:  req.Content,
		Media:    req.Media,
		GameTag:  req.GameTag,
	}
	if err := h.svc.CreatePost(c.Request.Context(), p); err != nil {
		writeError(c, err, "create post")
		return
	}
	response.Created(c, p)
}

// GetPost handles GET /api/v1/posts/:post_id.
func (h *Handler) GetPost(c *gin.Context) {
	p, err := h.svc.GetPost(c.Request.Context(), c.Param("post_id"))
	if err != nil {
		writeError(c, err, "get post")
		return
	}
	response.Success(c, p)
}

// ToggleOn handles PUT /api/v1/posts/:post_id/:field.
func (h *Handler) ToggleOn(c *gin.Context) {
	h.toggle(c, true)
}

// ToggleOff handles DELETE /api/v1/posts/:post_id/:field.
func (h *Handler) ToggleOff(c *gin.Context) {
	h.toggle(c, false)
}

func (h *Handler) toggle(c *gin.Context, desired bool) {
	field, err := domain.ParseToggleField(c.Param("field"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	res, err := h.svc.Toggle(c.Request.Context(), c.Param("post_id"), middleware.GetUserID(c), field, desired)
	if err != nil {
		writeError(c, err, "toggle "+string(field))
		return
	}
	response.Success(c, gin.H{"field": field, "member": desired, "count": res.Count, "changed": res.Changed})
}

// Health handles GET /health.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
