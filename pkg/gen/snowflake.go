package gen

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("snowflake", fx.Provide(NewNode))

// NewNode returns the id generator shared by every service.
func NewNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

// NextID returns a new snowflake id as string.
func NextID(node *snowflake.Node) string {
	return node.Generate().String()
}
