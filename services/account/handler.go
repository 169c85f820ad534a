package account

import (
	"promohive/pkg/featureflags"
	"promohive/pkg/access"
	"promohive/pkg/httpapi"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

type Handler struct {
	group *gin.RouterGroup
	svc   *Service
	authz access.Authorizer
	flags featureflags.FeatureFlag
}

type HandlerParams struct {
	fx.In
	Group   *gin.RouterGroup
	Service *Service
	Authz   access.Authorizer
	Flags   featureflags.FeatureFlag `optional:"true"`
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{flags: p.Flags, group: p.Group, svc: p.Service, authz: p.Authz}
}

func (h *Handler) Register() {
	h.group.POST("/accounts", featureflags.Require(h.flags, featureflags.Registration), h.register)
	h.group.GET("/accounts/me", h.me)
	h.group.GET("/accounts/:id", h.get)
}

type registerRequest struct {
	Username     string `json:"username" binding:"required"`
	Email        string `json:"email" binding:"required"`
	ReferralCode string `json:"referral_code"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if !httpapi.BindJSON(c, &req) {
		return
	}

	acc, err := h.svc.Register(c.Request.Context(), RegisterParams{
		Username:     req.Username,
		Email:        req.Email,
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.Created(c, acc)
}

func (h *Handler) me(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	acc, err := h.svc.Get(c.Request.Context(), actor.ID)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, acc)
}

func (h *Handler) get(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}

	id := c.Param("id")
	if id != actor.ID {
		if err := h.authz.Check(actor.Role, access.ActionUserView); err != nil {
			httpapi.Fail(c, err)
			return
		}
	}

	acc, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, acc)
}
