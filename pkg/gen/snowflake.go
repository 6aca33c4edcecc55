package gen

import (
	"activations-controlplane/pkg/config"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("snowflake", fx.Provide(NewSnowflakeNode))

// NewSnowflakeNode builds the ID generator for this process. NODE_ID must be
// unique per replica, otherwise IDs can collide.
func NewSnowflakeNode(cfg *config.Config) (*snowflake.Node, error) {
	nodeID := int64(1)
	if cfg != nil && cfg.NodeID > 0 {
		nodeID = cfg.NodeID
	}
	return snowflake.NewNode(nodeID)
}
