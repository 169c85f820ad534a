package gen

import (
	"fmt"

	"promohive/pkg/config"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("snowflake",
	fx.Provide(NewSnowflakeNode),
)

// NewSnowflakeNode returns the id generator for this process. SNOWFLAKE.NODE
// must be unique per running instance.
func NewSnowflakeNode(cfg *config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.Snowflake.Node)
	if err != nil {
		return nil, fmt.Errorf("init snowflake node %d: %w", cfg.Snowflake.Node, err)
	}
	zap.L().Info("[Snowflake] node ready", zap.Int64("node", cfg.Snowflake.Node))
	return node, nil
}
