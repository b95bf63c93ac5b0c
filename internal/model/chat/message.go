package chat

import "time"

// Message senders.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// Message is one spoken turn, kept as history for the reply chain.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
