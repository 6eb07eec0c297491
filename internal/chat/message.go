package chat

// Message is an appended chat message. It is never mutated after append;
// only its delivery set grows.
type Message struct {
	ID           string
	Conversation ConversationID
	Sender       string
	Text         string
	// Timestamp is unix milliseconds assigned by the message log clock.
	Timestamp   int64
	DeliveredTo []string
}

// Recipient returns the participant that did not send the message.
func (m Message) Recipient() string {
	other, _ := m.Conversation.Other(m.Sender)
	return other
}
