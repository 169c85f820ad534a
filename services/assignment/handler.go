package assignment

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
	h.group.POST("/tasks/:id/accept", h.accept)
	h.group.GET("/assignments", h.mine)
	h.group.POST("/assignments/:id/start", h.start)
	h.group.POST("/assignments/:id/upload-url", h.uploadURL)
	h.group.POST("/assignments/:id/proof", h.submitProof)

	h.group.GET("/admin/proofs", h.pending)
	h.group.POST("/admin/assignments/:id/review", h.review)
}

func (h *Handler) accept(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	a, err := h.svc.Accept(c.Request.Context(), actor.ID, c.Param("id"))
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.Created(c, a)
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

func (h *Handler) start(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	a, err := h.svc.Start(c.Request.Context(), c.Param("id"), actor.ID)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, a)
}

type uploadRequest struct {
	Filename string `json:"filename" binding:"required,max=255"`
}

func (h *Handler) uploadURL(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	var req uploadRequest
	if !httpapi.BindJSON(c, &req) {
		return
	}
	url, key, err := h.svc.ProofUploadURL(c.Request.Context(), c.Param("id"), actor.ID, req.Filename)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, gin.H{"upload_url": url, "object_key": key})
}

type proofRequest struct {
	ProofURL  string `json:"proof_url" binding:"max=2048"`
	ProofText string `json:"proof_text" binding:"max=5000"`
}

func (h *Handler) submitProof(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	var req proofRequest
	if !httpapi.BindJSON(c, &req) {
		return
	}
	a, err := h.svc.SubmitProof(c.Request.Context(), c.Param("id"), actor.ID, Proof{URL: req.ProofURL, Text: req.ProofText})
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, a)
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
	page, err := h.svc.PendingProofs(c.Request.Context(), actor, p)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, page)
}

type reviewRequest struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"rejection_reason" binding:"max=1000"`
}

func (h *Handler) review(c *gin.Context) {
	actor, ok := httpapi.Actor(c)
	if !ok {
		return
	}
	var req reviewRequest
	if !httpapi.BindJSON(c, &req) {
		return
	}
	result, err := h.svc.Review(c.Request.Context(), actor, ReviewParams{
		AssignmentID: c.Param("id"),
		Approved:     req.Approved,
		Reason:       req.Reason,
		IPAddress:    c.ClientIP(),
	})
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	httpapi.OK(c, result)
}
