// Package idgen выдаёт идентификаторы строк PaymentProcess и Payment.
package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"

	"github.com/vladislavdragonenkov/paycore/internal/domain"
)

// Snowflake генерирует монотонно растущие 63-битные идентификаторы.
// Каждому экземпляру сервиса нужен свой NodeID.
type Snowflake struct {
	node *snowflake.Node
}

// NewSnowflake создаёт генератор для узла nodeID (0..1023).
func NewSnowflake(nodeID int64) (*Snowflake, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("create snowflake node %d: %w", nodeID, err)
	}
	return &Snowflake{node: node}, nil
}

// NextID возвращает следующий идентификатор.
func (s *Snowflake) NextID() int64 {
	return s.node.Generate().Int64()
}

var _ domain.IDGenerator = (*Snowflake)(nil)
