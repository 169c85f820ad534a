// Package httpapi holds the pieces shared by every service's gin handlers:
// the versioned route group and request/response helpers.
package httpapi

import (
	"net/http"

	"promohive/pkg/access"
	"promohive/pkg/db/pagination"
	"promohive/pkg/errutil"
	"promohive/pkg/middleware"
	"promohive/pkg/money"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewV1),
)

// NewV1 is the /v1 group every service registers its routes on.
func NewV1(r *gin.Engine) *gin.RouterGroup {
	return r.Group("/v1")
}

// Actor returns the authenticated caller, recording Unauthorized on c when absent.
func Actor(c *gin.Context) (access.Actor, bool) {
	id, ok := middleware.RequireIdentity(c)
	if !ok {
		return access.Actor{}, false
	}
	return id.Actor(), true
}

func BindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return false
	}
	return true
}

func Page(c *gin.Context) (pagination.Pagination, bool) {
	var p pagination.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return p, false
	}
	return p.Normalize(), true
}

// Amount converts a human entered dollar string to cents, flooring once.
func Amount(c *gin.Context, dollars string) (money.Money, bool) {
	m, err := money.ParseDollars(dollars)
	if err != nil {
		_ = c.Error(err)
		return 0, false
	}
	return m, true
}

func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
}

func OK(c *gin.Context, body any) {
	c.JSON(http.StatusOK, body)
}

func Created(c *gin.Context, body any) {
	c.JSON(http.StatusCreated, body)
}
