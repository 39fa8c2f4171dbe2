package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

var (
	nodeOnce sync.Once
	generate func() string
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// NewSnowflakeID generates a snowflake ID string. The node is created once from
// SNOWFLAKE_NODE (default 1); if it cannot be created a KSUID is returned instead.
func NewSnowflakeID() string {
	nodeOnce.Do(func() {
		nodeID := int64(1)
		if v := os.Getenv("SNOWFLAKE_NODE"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				nodeID = n
			}
		}
		generate = snowflakeGenerator(nodeID)
	})
	return generate()
}

// snowflakeGenerator returns an ID generator for nodeID, or NewKSUID when the
// node cannot be initialized.
func snowflakeGenerator(nodeID int64) func() string {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return NewKSUID
	}
	return func() string { return n.Generate().String() }
}
