package id

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init sets up the comment id generator for this process. Every server
// replica writing to the same database needs its own node id. Only the first
// call has an effect.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		if nodeID < 0 || nodeID > maxNode() {
			err = fmt.Errorf("snowflake node id %d out of range [0, %d]", nodeID, maxNode())
			return
		}
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a new comment ID. IDs are time-ordered, so sorting comments
// by ID matches their creation order within one node.
func New() int64 {
	if node == nil {
		panic("id: New called before Init")
	}
	return node.Generate().Int64()
}

func maxNode() int64 {
	return -1 ^ (-1 << snowflake.NodeBits)
}
