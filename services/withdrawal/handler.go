package withdrawal

import (
	"promohive/pkg/featureflags"
	"promohive/pkg/httpapi"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

type Handler struct {
	group *gin.RouterGroup
	svc   *Service
	flags featureflags.FeatureFlag
}

type HandlerParams struct {
	fx.In
	Group   *gin.RouterGroup
	Service *Service
	Flags   featureflags.FeatureFlag `optional:"true"`
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{flags: p.Flags, group: p.Group, svc: p.Service}
}

func (h *Handler) Register() {
	h.group.POST("/withdrawals", featureflags.Require(h.flags, featureflags.Withdrawals), h.request)
	h.group.GET("/withdrawals", h.mine)

	h.group.GET("/admin/withdrawals", h.pending)
	h.group.POST("/admin/withdrawals/:id/approve", h.approve)
	h.group.POST("/admin/withdrawals/:id/deny", h.deny)
}

type requestBody struct {
	Amount   string `json:"amount" binding:"required"`
	WalletID string `json:"wallet_id" binding:"required"`
}

func (h *Handler) request(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	var body requestBody
	if !httpapi.BindJSON(c, &body) {
		return
	}
	amount, ok := httpapi.Amount(c, body.Amount)
	if !ok {
		return
	}

	req, err := h.svc.Request(c.Request.Context(), actor.ID, amount, body.WalletID)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.Created(c, req)
}

func (h *Handler) mine(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	p, ok := httpapi.Page(c)
	if !ok {
		return
	}
	page, err := h.svc.ListByUser(c.Request.Context(), actor.ID, p)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, page)
}

func (h *Handler) pending(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	p, ok := httpapi.Page(c)
	if !ok {
		return
	}
	page, err := h.svc.Pending(c.Request.Context(), actor, p)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, page)
}

func (h *Handler) approve(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	req, err := h.svc.Approve(c.Request.Context(), actor, Decision{RequestID: c.Param("id"), IPAddress: c.ClientIP()})
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, req)
}

type denyBody struct {
	Reason string `json:"reason" binding:"required,max=1000"`
}

func (h *Handler) deny(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	var body denyBody
	if !httpapi.BindJSON(c, &body) {
		return
	}
	req, err := h.svc.Deny(c.Request.Context(), actor, Decision{RequestID: c.Param("id"), Reason: body.Reason, IPAddress: c.ClientIP()})
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, req)
}
