package level

import (
	"strconv"

	"promohive/pkg/errutil"
	"promohive/pkg/httpapi"
	"promohive/pkg/money"

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
	h.group.GET("/levels", h.list)
	h.group.POST("/levels/upgrade", h.upgrade)
	h.group.PUT("/admin/levels/:id", h.update)
}

func (h *Handler) list(c *gin.Context) {
	levels, err := h.svc.List(c.Request.Context())
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, gin.H{"items": levels})
}

type upgradeRequest struct {
	Level int `json:"level" binding:"required,min=1"`
}

func (h *Handler) upgrade(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	var req upgradeRequest
	if !httpapi.BindJSON(c, &req) {
		return
	}

	acc, entry, err := h.svc.Upgrade(c.Request.Context(), actor.ID, req.Level)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, gin.H{"account": acc, "entry": entry})
}

type updateRequest struct {
	Name                *string `json:"name"`
	Description         *string `json:"description"`
	UpgradePrice        *string `json:"upgrade_price"`
	EarningSharePercent *int64  `json:"earning_share_percent"`
	MinimumWithdrawal   *string `json:"minimum_withdrawal"`
}

func (h *Handler) update(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		httpapi.Fail(c, errutil.BadRequest("invalid level id", err))
		return
	}
	var req updateRequest
	if !httpapi.BindJSON(c, &req) {
		return
	}

	params := UpdateParams{
		Name:                req.Name,
		Description:         req.Description,
		EarningSharePercent: req.EarningSharePercent,
	}
	if params.UpgradePrice, ok = amount(c, req.UpgradePrice); !ok {
		return
	}
	if params.MinimumWithdrawal, ok = amount(c, req.MinimumWithdrawal); !ok {
		return
	}

	lvl, err := h.svc.Update(c.Request.Context(), actor, id, params)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, lvl)
}

func amount(c *gin.Context, dollars *string) (*money.Money, bool) {
	if dollars == nil {
		return nil, true
	}
	m, ok := httpapi.Amount(c, *dollars)
	if !ok {
		return nil, false
	}
	return &m, true
}

