// Package featureflags exposes operational kill switches backed by Flagsmith.
// Without an API key every flag reports its fallback.
package featureflags

import (
	"context"

	"promohive/pkg/config"
	"promohive/pkg/errutil"
	"promohive/pkg/logger"

	"github.com/Flagsmith/flagsmith-go-client/v2"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Flags checked by the HTTP surface.
const (
	OfferwallPostback = "offerwall_postback"
	Withdrawals       = "withdrawals"
	Registration      = "registration"
)

var ErrDisabled = errutil.Sentinel(errutil.StatusServiceUnavailable, "feature is temporarily disabled")

var Module = fx.Module("featureflags", fx.Provide(ProvideFeatureFlag))

type FeatureFlag interface {
	// Enabled reports whether name is on for identifier. Lookup failures
	// return fallback.
	Enabled(ctx context.Context, name, identifier string, fallback bool) bool
}

type source interface {
	GetEnvironmentFlags() (flagsmith.Flags, error)
	GetIdentityFlags(identifier string, traits []*flagsmith.Trait) (flagsmith.Flags, error)
}

type featureflag struct {
	client source
}

type FeatureParams struct {
	fx.In
	Config *config.Config
}

func ProvideFeatureFlag(p FeatureParams) FeatureFlag {
	if p.Config.Flagsmith.ApiKey == "" {
		return &featureflag{}
	}

	var opts []flagsmith.Option
	if p.Config.Flagsmith.Addr != "" {
		opts = append(opts, flagsmith.WithBaseURL(p.Config.Flagsmith.Addr))
	}

	return &featureflag{
		client: flagsmith.NewClient(p.Config.Flagsmith.ApiKey, opts...),
	}
}

func (s *featureflag) Enabled(ctx context.Context, name, identifier string, fallback bool) bool {
	if s.client == nil {
		return fallback
	}

	var (
		flags flagsmith.Flags
		err   error
	)
	if identifier == "" {
		flags, err = s.client.GetEnvironmentFlags()
	} else {
		flags, err = s.client.GetIdentityFlags(identifier, nil)
	}
	if err != nil {
		logger.FromContext(ctx).Warn("feature flag lookup failed", zap.String("flag", name), zap.Error(err))
		return fallback
	}

	on, err := flags.IsFeatureEnabled(name)
	if err != nil {
		return fallback
	}
	return on
}

// Static is a fixed flag set, used when no remote provider is wired.
type Static map[string]bool

func (s Static) Enabled(_ context.Context, name, _ string, fallback bool) bool {
	if on, ok := s[name]; ok {
		return on
	}
	return fallback
}

// Require aborts the request with ErrDisabled while name is off. Flags
// default to on. A nil f lets every request through.
func Require(f FeatureFlag, name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if f == nil || f.Enabled(c.Request.Context(), name, "", true) {
			c.Next()
			return
		}
		_ = c.Error(ErrDisabled)
		c.Abort()
	}
}
