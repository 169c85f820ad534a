package profiling

import (
	"testing"

	"promohive/pkg/config"

	"github.com/grafana/pyroscope-go"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	cfg := &config.Config{AppName: "promohive", AppEnv: "staging"}
	require.False(t, Enabled(cfg))

	cfg.Profiling.Addr = "http://pyroscope:4040"
	require.True(t, Enabled(cfg))

	pc := NewConfig(cfg)
	require.Equal(t, "promohive", pc.ApplicationName)
	require.Equal(t, "staging", pc.Tags["env"])
	require.NotContains(t, pc.ProfileTypes, pyroscope.ProfileMutexCount)

	cfg.Profiling.Contention = true
	require.Contains(t, NewConfig(cfg).ProfileTypes, pyroscope.ProfileMutexCount)
}
