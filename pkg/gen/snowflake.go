package gen

import (
	"reviewhub/pkg/config"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("snowflake", fx.Provide(NewSnowflakeNode))

type IDGenerator interface {
	GenerateID() snowflake.ID
}

type SnowflakeNode struct {
	node *snowflake.Node
}

func NewSnowflakeNode(cfg *config.Config) (IDGenerator, error) {
	node, err := snowflake.NewNode(cfg.Snowflake.NodeID)
	if err != nil {
		return nil, err
	}
	return &SnowflakeNode{node: node}, nil
}

func (s *SnowflakeNode) GenerateID() snowflake.ID {
	return s.node.Generate()
}
