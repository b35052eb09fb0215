package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// Sync actions carried by TransactionSyncMessage.
const (
	ActionUpsert = "upsert"
	ActionDelete = "delete"
)

// TransactionSyncMessage asks the worker to mirror one transaction into the
// spreadsheet. It carries only the id; the worker reads the current row from
// the database so stale messages cannot overwrite newer data.
type TransactionSyncMessage struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

func NewTransactionSyncMessage(id, action string) *TransactionSyncMessage {
	return &TransactionSyncMessage{
		ID:        id,
		Action:    action,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *TransactionSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// TransactionSyncMessageFromJSON decodes and validates a message body.
func TransactionSyncMessageFromJSON(data []byte) (*TransactionSyncMessage, error) {
	var msg TransactionSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ID == "" {
		return nil, fmt.Errorf("sync message without id")
	}
	switch msg.Action {
	case ActionUpsert, ActionDelete:
	case "":
		msg.Action = ActionUpsert
	default:
		return nil, fmt.Errorf("unknown sync action %q", msg.Action)
	}
	return &msg, nil
}
