package ai

// Role identifies the sender of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat request.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation builds the message list for a single-shot request. The
// system prompt, if any, is always first.
func Conversation(systemPrompt string, turns ...Message) []Message {
	msgs := make([]Message, 0, len(turns)+1)
	if systemPrompt != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: systemPrompt})
	}
	return append(msgs, turns...)
}
