package amqp

import (
	"encoding/json"
	"time"
)

// NotifyMessage asks the outbound worker to re-render the balance message of
// a chat and acknowledge the entry in its origin topic. It carries the
// already-computed delta line so the worker does not repeat the arithmetic.
type NotifyMessage struct {
	ChatID    int64     `json:"chat_id"`
	ThreadID  int64     `json:"thread_id"`
	Category  string    `json:"category"`
	Direction string    `json:"direction"`
	DeltaLine string    `json:"delta_line"`
	Note      string    `json:"note"`
	Timestamp time.Time `json:"timestamp"`
}

// EntrySyncMessage asks the worker to export one audit entry. Only the row
// id travels; the worker fetches the full entry from storage.
type EntrySyncMessage struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewEntrySyncMessage(id, chatID int64) *EntrySyncMessage {
	return &EntrySyncMessage{ID: id, ChatID: chatID, Timestamp: time.Now()}
}

func (m *NotifyMessage) ToJSON() ([]byte, error)    { return json.Marshal(m) }
func (m *EntrySyncMessage) ToJSON() ([]byte, error) { return json.Marshal(m) }

func NotifyMessageFromJSON(data []byte) (*NotifyMessage, error) {
	var msg NotifyMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func EntrySyncMessageFromJSON(data []byte) (*EntrySyncMessage, error) {
	var msg EntrySyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
