package featureflags

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"promohive/pkg/config"

	"github.com/Flagsmith/flagsmith-go-client/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestEnabledWithoutProvider(t *testing.T) {
	f := ProvideFeatureFlag(FeatureParams{Config: &config.Config{}})
	require.True(t, f.Enabled(context.Background(), Withdrawals, "", true))
	require.False(t, f.Enabled(context.Background(), Withdrawals, "", false))
}

type unreachable struct{ calls int }

func (u *unreachable) GetEnvironmentFlags() (flagsmith.Flags, error) {
	u.calls++
	return flagsmith.Flags{}, errors.New("dial tcp: connection refused")
}

func (u *unreachable) GetIdentityFlags(string, []*flagsmith.Trait) (flagsmith.Flags, error) {
	u.calls++
	return flagsmith.Flags{}, errors.New("dial tcp: connection refused")
}

func TestEnabledFallsBackWhenProviderFails(t *testing.T) {
	src := &unreachable{}
	f := &featureflag{client: src}
	require.True(t, f.Enabled(context.Background(), OfferwallPostback, "", true))
	require.False(t, f.Enabled(context.Background(), OfferwallPostback, "user-1", false))
	require.Equal(t, 2, src.calls)
}

func TestRequire(t *testing.T) {
	gin.SetMode(gin.TestMode)

	serve := func(f FeatureFlag) *httptest.ResponseRecorder {
		r := gin.New()
		r.Use(func(c *gin.Context) {
			c.Next()
			if c.Errors.Last() != nil {
				c.Status(http.StatusServiceUnavailable)
			}
		})
		r.POST("/withdrawals", Require(f, Withdrawals), func(c *gin.Context) { c.Status(http.StatusCreated) })
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/withdrawals", nil))
		return w
	}

	require.Equal(t, http.StatusCreated, serve(nil).Code)
	require.Equal(t, http.StatusCreated, serve(Static{}).Code)
	require.Equal(t, http.StatusServiceUnavailable, serve(Static{Withdrawals: false}).Code)
	require.Equal(t, http.StatusCreated, serve(Static{Registration: false}).Code)
}
