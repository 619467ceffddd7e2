package utilities

import (
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

var (
	nodeMu sync.Mutex
	node   *snowflake.Node
	nodeID int64 = 1
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// SetSnowflakeNode selects the node used by NewSnowflakeID. Call it once at
// startup; ids from different processes only stay unique when each uses its
// own node.
func SetSnowflakeNode(id int64) error {
	n, err := snowflake.NewNode(id)
	if err != nil {
		return err
	}
	nodeMu.Lock()
	node, nodeID = n, id
	nodeMu.Unlock()
	return nil
}

// NewSnowflakeID generates a snowflake ID string from the shared node. If the
// node cannot be initialized it falls back to a KSUID string.
func NewSnowflakeID() string {
	nodeMu.Lock()
	defer nodeMu.Unlock()
	if node == nil {
		n, err := snowflake.NewNode(nodeID)
		if err != nil {
			return NewKSUID()
		}
		node = n
	}
	return node.Generate().String()
}
