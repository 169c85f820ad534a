package wallet

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
	h.group.GET("/wallets", h.list)
	h.group.GET("/admin/wallets", h.listAll)
	h.group.POST("/admin/wallets", h.create)
	h.group.PATCH("/admin/wallets/:id", h.update)
	h.group.DELETE("/admin/wallets/:id", h.deactivate)
}

func (h *Handler) list(c *gin.Context) {
	items, err := h.svc.List(c.Request.Context(), false)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, gin.H{"items": items})
}

func (h *Handler) listAll(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	if err := h.authz.Check(actor.Role, access.ActionWalletManage); err != nil {
		httpapi.Fail(c, err)
		return
	}
	items, err := h.svc.List(c.Request.Context(), true)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, gin.H{"items": items})
}

func (h *Handler) create(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	var req CreateParams
	if !httpapi.BindJSON(c, &req) {
		return
	}
	w, err := h.svc.Create(c.Request.Context(), actor, req, c.ClientIP())
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.Created(c, w)
}

func (h *Handler) update(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	var req UpdateParams
	if !httpapi.BindJSON(c, &req) {
		return
	}
	w, err := h.svc.Update(c.Request.Context(), actor, c.Param("id"), req, c.ClientIP())
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, w)
}

func (h *Handler) deactivate(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	w, err := h.svc.Deactivate(c.Request.Context(), actor, c.Param("id"), c.ClientIP())
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, w)
}
