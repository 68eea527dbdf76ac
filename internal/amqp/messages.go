package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	OpCreated = "created"
	OpDeleted = "deleted"
)

// LedgerChangeMessage notifies the refresh worker that the transaction
// ledger changed. It carries only the transaction ID and the kind of
// change; the aggregate is rebuilt from the ledger, so no payload is
// needed beyond the trigger itself.
type LedgerChangeMessage struct {
	TransactionID int64     `json:"transaction_id"`
	Op            string    `json:"op"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewLedgerChangeMessage(transactionID int64, op string) *LedgerChangeMessage {
	return &LedgerChangeMessage{
		TransactionID: transactionID,
		Op:            op,
		Timestamp:     time.Now(),
	}
}

func (m *LedgerChangeMessage) Validate() error {
	if m.TransactionID <= 0 {
		return fmt.Errorf("invalid transaction id %d", m.TransactionID)
	}
	switch m.Op {
	case OpCreated, OpDeleted:
	default:
		return fmt.Errorf("unknown op %q", m.Op)
	}
	return nil
}

// ToJSON converts the message to JSON bytes
func (m *LedgerChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerChangeMessageFromJSON creates a message from JSON bytes
func LedgerChangeMessageFromJSON(data []byte) (*LedgerChangeMessage, error) {
	var msg LedgerChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
