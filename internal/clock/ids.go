package clock

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// ExecutionIDGenerator produces unique execution ids for submitted signals.
type ExecutionIDGenerator struct{}

// NewExecutionIDGenerator creates an execution id generator.
func NewExecutionIDGenerator() *ExecutionIDGenerator {
	return &ExecutionIDGenerator{}
}

// Next returns a new execution id.
func (g *ExecutionIDGenerator) Next() string {
	return fmt.Sprintf("exec-%s", uuid.New().String())
}

// OrderIDGenerator produces monotonically increasing order ids, unique
// process-wide.
type OrderIDGenerator struct {
	last atomic.Int64
}

// NewOrderIDGenerator creates an order id generator starting after seed.
func NewOrderIDGenerator(seed int64) *OrderIDGenerator {
	g := &OrderIDGenerator{}
	g.last.Store(seed)
	return g
}

// Next returns the next order id.
func (g *OrderIDGenerator) Next() int64 {
	return g.last.Add(1)
}
