package models

// EventType discriminates frames pushed over a thread's fan-out channel.
type EventType string

const (
	// EventMessage is an appended message.
	EventMessage EventType = "message"
	// EventMessageUpdate is a delivery-state change on an existing message.
	EventMessageUpdate EventType = "message_update"
	// EventTyping is an ephemeral typing-state change.
	EventTyping EventType = "typing"
)

// Event is the single frame type delivered to fan-out subscribers.
// Exactly one of Message or Typing is set, according to Type.
type Event struct {
	Type    EventType    `json:"type"`
	Thread  string       `json:"thread"`
	Message *Message     `json:"message,omitempty"`
	Typing  *TypingState `json:"typing,omitempty"`
}

// TypingState is the ephemeral per-user composition signal. It is never
// persisted; subscribers joining mid-session only observe updates from that
// point forward.
type TypingState struct {
	Thread string `json:"thread"`
	User   string `json:"user"`
	Typing bool   `json:"typing"`
	TS     int64  `json:"ts"`
}
