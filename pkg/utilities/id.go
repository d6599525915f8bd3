package utilities

import (
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

var (
	nodeMu sync.Mutex
	nodes  = map[int64]*snowflake.Node{}
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// SnowflakeNode returns the shared generator for nodeID. A node must be
// reused across calls, otherwise two generators on the same node can hand out
// the same id within one millisecond.
func SnowflakeNode(nodeID int64) (*snowflake.Node, error) {
	nodeMu.Lock()
	defer nodeMu.Unlock()
	if n, ok := nodes[nodeID]; ok {
		return n, nil
	}
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}
	nodes[nodeID] = n
	return n, nil
}

// NewSnowflakeIDWithNode generates a snowflake ID string using the provided node ID.
// If the node cannot be initialized, it falls back to a KSUID string.
func NewSnowflakeIDWithNode(nodeID int64) string {
	node, err := SnowflakeNode(nodeID)
	if err != nil {
		return NewKSUID()
	}
	return node.Generate().String()
}
