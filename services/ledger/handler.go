package ledger

import (
	"promohive/pkg/access"
	"promohive/pkg/httpapi"
	"promohive/services/audit"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

type Handler struct {
	group *gin.RouterGroup
	svc   *Service
	audit *audit.Service
	authz access.Authorizer
}

type HandlerParams struct {
	fx.In
	Group   *gin.RouterGroup
	Service *Service
	Audit   *audit.Service
	Authz   access.Authorizer
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{group: p.Group, svc: p.Service, audit: p.Audit, authz: p.Authz}
}

func (h *Handler) Register() {
	h.group.GET("/ledger/entries", h.myHistory)
	h.group.GET("/ledger/entries/:id", h.get)

	h.group.GET("/admin/accounts/:id/ledger", h.accountHistory)
	h.group.GET("/admin/accounts/:id/reconcile", h.reconcile)
	h.group.POST("/admin/ledger/entries/:id/reverse", h.reverse)
}

func (h *Handler) myHistory(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	p, ok := httpapi.Page(c)
	if !ok {
		return
	}

	page, err := h.svc.History(c.Request.Context(), actor.ID, p)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, page)
}

func (h *Handler) get(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}

	entry, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	if entry.AccountID != actor.ID {
		if err := h.authz.Check(actor.Role, access.ActionTransactionView); err != nil {
			httpapi.Fail(c, err)
			return
		}
	}
	httpapi.OK(c, entry)
}

func (h *Handler) accountHistory(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	if err := h.authz.Check(actor.Role, access.ActionTransactionView); err != nil {
		httpapi.Fail(c, err)
		return
	}
	p, ok := httpapi.Page(c)
	if !ok {
		return
	}

	page, err := h.svc.History(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, page)
}

func (h *Handler) reconcile(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	if err := h.authz.Check(actor.Role, access.ActionTransactionView); err != nil {
		httpapi.Fail(c, err)
		return
	}

	res, err := h.svc.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, gin.H{"result": res, "consistent": res.Consistent()})
}

type reverseRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

func (h *Handler) reverse(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	for _, action := range []access.Action{access.ActionBalanceCredit, access.ActionBalanceDebit} {
		if err := h.authz.Check(actor.Role, action); err != nil {
			httpapi.Fail(c, err)
			return
		}
	}

	var req reverseRequest
	if !httpapi.BindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	reversal, err := h.svc.Reverse(ctx, c.Param("id"), req.Reason, map[string]any{"admin_id": actor.ID})
	if err != nil {
		httpapi.Fail(c, err)
		return
	}

	if _, err := h.audit.Record(ctx, nil, audit.Entry{
		AdminID:    actor.ID,
		Action:     "entry_reversed",
		TargetType: "ledger_entry",
		TargetID:   c.Param("id"),
		Metadata:   map[string]any{"reversal_id": reversal.ID, "reason": req.Reason},
		IPAddress:  c.ClientIP(),
	}); err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.Created(c, reversal)
}
