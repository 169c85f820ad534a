package admin

import (
	"context"

	"promohive/pkg/access"
	"promohive/pkg/httpapi"
	"promohive/services/account"
	"promohive/services/ledger"

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
	admin := h.group.Group("/admin")
	admin.GET("/dashboard", h.dashboard)
	admin.GET("/users", h.listUsers)
	admin.POST("/users/:id/approve", h.approveUser)
	admin.POST("/users/:id/reject", h.rejectUser)
	admin.PUT("/users/:id/level", h.updateLevel)
	admin.PUT("/users/:id/role", h.updateRole)
	admin.POST("/users/:id/credit", h.credit)
	admin.POST("/users/:id/debit", h.debit)
	admin.POST("/users/:id/deposits", h.deposit)
}

func (h *Handler) dashboard(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	stats, err := h.svc.DashboardStats(c.Request.Context(), actor)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, stats)
}

func (h *Handler) listUsers(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	p, ok := httpapi.Page(c)
	if !ok {
		return
	}
	page, err := h.svc.ListUsers(c.Request.Context(), actor, account.Status(c.Query("status")), p)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, page)
}

func (h *Handler) approveUser(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	acc, err := h.svc.ApproveUser(c.Request.Context(), actor, c.Param("id"), c.ClientIP())
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, acc)
}

type reasonRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

func (h *Handler) rejectUser(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	var req reasonRequest
	if !httpapi.BindJSON(c, &req) {
		return
	}
	acc, err := h.svc.RejectUser(c.Request.Context(), actor, c.Param("id"), req.Reason, c.ClientIP())
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, acc)
}

type levelRequest struct {
	LevelID *int `json:"level_id" binding:"required"`
}

func (h *Handler) updateLevel(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	var req levelRequest
	if !httpapi.BindJSON(c, &req) {
		return
	}
	acc, err := h.svc.UpdateUserLevel(c.Request.Context(), actor, c.Param("id"), *req.LevelID, c.ClientIP())
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, acc)
}

type roleRequest struct {
	Role string `json:"role" binding:"required"`
}

func (h *Handler) updateRole(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	var req roleRequest
	if !httpapi.BindJSON(c, &req) {
		return
	}
	acc, err := h.svc.UpdateUserRole(c.Request.Context(), actor, c.Param("id"), req.Role, c.ClientIP())
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, acc)
}

type balanceRequest struct {
	Amount string `json:"amount" binding:"required"`
	Reason string `json:"reason" binding:"required,max=500"`
}

func (h *Handler) credit(c *gin.Context) {
	h.adjust(c, h.svc.CreditUserBalance)
}

func (h *Handler) debit(c *gin.Context) {
	h.adjust(c, h.svc.DebitUserBalance)
}

func (h *Handler) adjust(c *gin.Context, op func(ctx context.Context, actor access.Actor, p BalanceParams) (*ledger.Entry, error)) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	var req balanceRequest
	if !httpapi.BindJSON(c, &req) {
		return
	}
	amount, ok := httpapi.Amount(c, req.Amount)
	if !ok {
		return
	}
	entry, err := op(c.Request.Context(), actor, BalanceParams{
		UserID:    c.Param("id"),
		Amount:    amount,
		Reason:    req.Reason,
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.Created(c, entry)
}

type depositRequest struct {
	Amount   string `json:"amount" binding:"required"`
	WalletID string `json:"wallet_id"`
	TxRef    string `json:"tx_ref" binding:"max=128"`
}

func (h *Handler) deposit(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	var req depositRequest
	if !httpapi.BindJSON(c, &req) {
		return
	}
	amount, ok := httpapi.Amount(c, req.Amount)
	if !ok {
		return
	}
	entry, err := h.svc.ApproveDeposit(c.Request.Context(), actor, DepositParams{
		UserID:    c.Param("id"),
		Amount:    amount,
		WalletID:  req.WalletID,
		TxRef:     req.TxRef,
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.Created(c, entry)
}
