package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// RecomputeMessage asks the worker to rebuild the metrics table. It carries
// no data; the worker always recomputes from the full ledger.
type RecomputeMessage struct {
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewRecomputeMessage creates a recompute request stamped with the current time
func NewRecomputeMessage(reason string) *RecomputeMessage {
	return &RecomputeMessage{
		Reason:      reason,
		RequestedAt: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *RecomputeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RecomputeMessageFromJSON creates a message from JSON bytes
func RecomputeMessageFromJSON(data []byte) (*RecomputeMessage, error) {
	var msg RecomputeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.RequestedAt.IsZero() {
		return nil, fmt.Errorf("recompute message without requested_at")
	}
	return &msg, nil
}
