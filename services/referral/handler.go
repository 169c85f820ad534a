package referral

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
	h.group.GET("/referrals", h.list)
	h.group.GET("/referrals/stats", h.stats)
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
	page, err := h.svc.ListByReferrer(c.Request.Context(), actor.ID, p)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, page)
}

func (h *Handler) stats(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	stats, err := h.svc.Stats(c.Request.Context(), actor.ID)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, stats)
}
