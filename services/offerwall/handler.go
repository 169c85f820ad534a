package offerwall

import (
	"promohive/pkg/featureflags"
	"promohive/pkg/errutil"
	"promohive/pkg/httpapi"
	"promohive/services/account"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

type Handler struct {
	group    *gin.RouterGroup
	svc      *Service
	accounts *account.Service
	flags    featureflags.FeatureFlag
}

type HandlerParams struct {
	fx.In
	Group    *gin.RouterGroup
	Service  *Service
	Accounts *account.Service
	Flags    featureflags.FeatureFlag `optional:"true"`
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{flags: p.Flags, group: p.Group, svc: p.Service, accounts: p.Accounts}
}

func (h *Handler) Register() {
	h.group.GET("/offerwall/postback", featureflags.Require(h.flags, featureflags.OfferwallPostback), h.postback)
	h.group.GET("/offerwall/offers", h.offers)
	h.group.GET("/offerwall/completions", h.completions)

	h.group.PUT("/admin/offerwall/offers", h.upsert)
}

type postbackQuery struct {
	SubID     string `form:"sub_id" binding:"required"`
	OfferID   string `form:"offer_id" binding:"required"`
	TransID   string `form:"trans_id" binding:"required"`
	Amount    string `form:"amount" binding:"required"`
	Signature string `form:"signature" binding:"required"`
}

// postback is called by the offer network, not by a member session, so the
// signature stands in for identity.
func (h *Handler) postback(c *gin.Context) {
	var q postbackQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		httpapi.Fail(c, errutil.BadRequest("invalid postback", err))
		return
	}
	if err := h.svc.VerifySignature(q.SubID, q.TransID, q.Amount, q.Signature); err != nil {
		httpapi.Fail(c, err)
		return
	}
	earned, ok := httpapi.Amount(c, q.Amount)
	if !ok {
		return
	}

	res, err := h.svc.TrackCompletion(c.Request.Context(), CompletionParams{
		UserID:  q.SubID,
		OfferID: q.OfferID,
		TxRef:   q.TransID,
		Earned:  earned,
	})
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, res)
}

func (h *Handler) offers(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	acc, err := h.accounts.Get(ctx, actor.ID)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	items, err := h.svc.ListOffers(ctx, acc.LevelID)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, items)
}

func (h *Handler) completions(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	p, ok := httpapi.Page(c)
	if !ok {
		return
	}
	page, err := h.svc.ListCompletions(c.Request.Context(), actor.ID, p)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, page)
}

func (h *Handler) upsert(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	var req OfferParams
	if !httpapi.BindJSON(c, &req) {
		return
	}
	offer, err := h.svc.UpsertOffer(c.Request.Context(), actor, req, c.ClientIP())
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, offer)
}
