package catalog

import (
	"promohive/pkg/access"
	"promohive/pkg/httpapi"
	"promohive/services/account"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

type Handler struct {
	group    *gin.RouterGroup
	svc      *Service
	accounts *account.Service
	authz    access.Authorizer
}

type HandlerParams struct {
	fx.In
	Group    *gin.RouterGroup
	Service  *Service
	Accounts *account.Service
	Authz    access.Authorizer
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{group: p.Group, svc: p.Service, accounts: p.Accounts, authz: p.Authz}
}

func (h *Handler) Register() {
	h.group.GET("/tasks", h.available)
	h.group.GET("/tasks/:id", h.get)

	h.group.GET("/admin/tasks", h.list)
	h.group.POST("/admin/tasks", h.create)
	h.group.PATCH("/admin/tasks/:id", h.update)
	h.group.DELETE("/admin/tasks/:id", h.cancel)
}

func (h *Handler) available(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	p, ok := httpapi.Page(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	acc, err := h.accounts.Get(ctx, actor.ID)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	page, err := h.svc.ListActive(ctx, acc.LevelID, p)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, page)
}

func (h *Handler) get(c *gin.Context) {
	t, err := h.svc.Get(c.Request.Context(), nil, c.Param("id"))
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, t)
}

func (h *Handler) list(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	if err := h.authz.Check(actor.Role, access.ActionView); err != nil {
		httpapi.Fail(c, err)
		return
	}
	p, ok := httpapi.Page(c)
	if !ok {
		return
	}
	page, err := h.svc.List(c.Request.Context(), Status(c.Query("status")), p)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, page)
}

type createRequest struct {
	Title            string    `json:"title" binding:"required,max=256"`
	Description      string    `json:"description" binding:"max=5000"`
	Type             Type      `json:"type" binding:"required"`
	Reward           string    `json:"reward" binding:"required"`
	EligibilityLevel int       `json:"eligibility_level" binding:"min=0"`
	EligibilityRule  string    `json:"eligibility_rule" binding:"max=1024"`
	Slots            int       `json:"slots" binding:"min=0"`
	TimeLimitMinutes *int      `json:"time_limit_minutes"`
	ProofType        ProofType `json:"proof_type"`
	Repeatable       bool      `json:"repeatable"`
}

func (h *Handler) create(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	var req createRequest
	if !httpapi.BindJSON(c, &req) {
		return
	}
	reward, ok := httpapi.Amount(c, req.Reward)
	if !ok {
		return
	}

	t, err := h.svc.Create(c.Request.Context(), actor, CreateParams{
		Title:            req.Title,
		Description:      req.Description,
		Type:             req.Type,
		RewardAmount:     reward,
		EligibilityLevel: req.EligibilityLevel,
		EligibilityRule:  req.EligibilityRule,
		Slots:            req.Slots,
		TimeLimitMinutes: req.TimeLimitMinutes,
		ProofType:        req.ProofType,
		Repeatable:       req.Repeatable,
	}, c.ClientIP())
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.Created(c, t)
}

type updateRequest struct {
	Title       *string `json:"title" binding:"omitempty,max=256"`
	Description *string `json:"description" binding:"omitempty,max=5000"`
	Status      *Status `json:"status"`
	Reward      *string `json:"reward"`
}

func (h *Handler) update(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	var req updateRequest
	if !httpapi.BindJSON(c, &req) {
		return
	}

	params := UpdateParams{Title: req.Title, Description: req.Description, Status: req.Status}
	if req.Reward != nil {
		reward, ok := httpapi.Amount(c, *req.Reward)
		if !ok {
			return
		}
		params.RewardAmount = &reward
	}

	t, err := h.svc.Update(c.Request.Context(), actor, c.Param("id"), params, c.ClientIP())
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, t)
}

func (h *Handler) cancel(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	t, err := h.svc.SetStatus(c.Request.Context(), actor, c.Param("id"), StatusCancelled, c.ClientIP())
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, t)
}

