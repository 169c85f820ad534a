package notification

import (
	"promohive/pkg/httpapi"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

type Handler struct {
	group *gin.RouterGroup
	svc   *Service
}

type HandlerParams struct {
	fx.In
	Group   *gin.RouterGroup
	Service *Service
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{group: p.Group, svc: p.Service}
}

func (h *Handler) Register() {
	h.group.GET("/notifications", h.list)
	h.group.POST("/notifications/:id/read", h.read)
	h.group.POST("/notifications/read-all", h.readAll)
}

func (h *Handler) list(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	p, ok := httpapi.Page(c)
	if !ok {
		return
	}
	page, err := h.svc.List(c.Request.Context(), actor.ID, c.Query("unread") == "true", p)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, page)
}

func (h *Handler) read(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	if err := h.svc.MarkRead(c.Request.Context(), actor.ID, c.Param("id")); err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, gin.H{"read": true})
}

func (h *Handler) readAll(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	n, err := h.svc.MarkAllRead(c.Request.Context(), actor.ID)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, gin.H{"updated": n})
}
