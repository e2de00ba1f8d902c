// Package idgen provides a process-local batch id generator for deployments
// running without Redis.
package idgen

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"

	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
)

// Snowflake issues time-ordered 63-bit ids. Each process must use a distinct
// node number.
type Snowflake struct {
	node *snowflake.Node
}

// NewSnowflake creates a generator for node, which must lie in [0, 1023].
func NewSnowflake(node int64) (*Snowflake, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", node, err)
	}
	return &Snowflake{node: n}, nil
}

var _ domainRenewal.BatchIDGenerator = (*Snowflake)(nil)

func (s *Snowflake) NextBatchID(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.node.Generate().Int64(), nil
}
