package member

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/oligo/txprop"
)

type joinRequest struct {
	Username string `json:"username" binding:"required"`
}

type lookupResponse struct {
	Username string `json:"username"`
	Member   bool   `json:"member"`
	Log      bool   `json:"log"`
}

// Handler exposes the service over HTTP.
type Handler struct {
	svc *Service
	log *zap.Logger
}

func NewHandler(svc *Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, log: log}
}

// Register mounts the member routes on r.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/members")
	g.POST("/v1", h.join(h.svc.JoinV1))
	g.POST("/v2", h.join(h.svc.JoinV2))
	g.GET("/:username", h.lookup)
}

func (h *Handler) join(fn func(ctx context.Context, username string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req joinRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := fn(c.Request.Context(), req.Username); err != nil {
			h.log.Warn("join failed", zap.String("username", req.Username), zap.Error(err))
			c.JSON(statusOf(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"username": req.Username})
	}
}

func (h *Handler) lookup(c *gin.Context) {
	username := c.Param("username")
	memberFound, logFound, err := h.svc.Lookup(c.Request.Context(), username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, lookupResponse{Username: username, Member: memberFound, Log: logFound})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, txprop.ErrUnexpectedRollback):
		return http.StatusConflict
	case errors.Is(err, ErrLogFailure):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
