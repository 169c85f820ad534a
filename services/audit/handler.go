package audit

import (
	"promohive/pkg/access"
	"promohive/pkg/httpapi"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

type Handler struct {
	group *gin.RouterGroup
	svc   *Service
	authz access.Authorizer
}

type HandlerParams struct {
	fx.In
	Group   *gin.RouterGroup
	Service *Service
	Authz   access.Authorizer
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{group: p.Group, svc: p.Service, authz: p.Authz}
}

func (h *Handler) Register() {
	h.group.GET("/admin/audit-logs", h.list)
}

func (h *Handler) list(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	if err := h.authz.Check(actor.Role, access.ActionAuditView); err != nil {
		httpapi.Fail(c, err)
		return
	}

	var f Filter
	if err := c.ShouldBindQuery(&f); err != nil {
		httpapi.Fail(c, err)
		return
	}
	p, ok := httpapi.Page(c)
	if !ok {
		return
	}

	page, err := h.svc.List(c.Request.Context(), f, p)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, page)
}
