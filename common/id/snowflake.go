package id

import (
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID.
// Each process that may run concurrently (worker, one-shot command) should use its own node ID.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a time-ordered unique int64 ID. Used for run IDs.
func New() int64 {
	return node.Generate().Int64()
}

// NewToken returns a unique opaque string, used as the value of a run lease
// so only its holder can release it.
func NewToken() string {
	return strconv.FormatInt(New(), 36)
}
