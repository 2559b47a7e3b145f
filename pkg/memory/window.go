package memory

import (
	"strings"
	"sync"
	"time"
)

const (
	// DefaultExchanges is the number of exchanges retained before FIFO
	// eviction kicks in.
	DefaultExchanges = 10

	// promptMessages caps how many recent messages PromptText renders.
	// This is a rendering window for prompt economy, independent of the
	// eviction bound.
	promptMessages = 10
)

// RoleUser and RoleAssistant are the only roles a conversation window holds.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single conversation turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Window is a bounded ordered log of conversation messages. It retains at
// most 2*W messages where W is the configured exchange count.
type Window struct {
	mu       sync.Mutex
	messages []Message
	limit    int // 2*W
}

// NewWindow creates a conversation window keeping the last w exchanges.
// Non-positive w falls back to DefaultExchanges.
func NewWindow(w int) *Window {
	if w <= 0 {
		w = DefaultExchanges
	}
	return &Window{limit: 2 * w}
}

// Append pushes one message and evicts from the front until the window is
// back within its bound.
func (w *Window) Append(role, content string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.messages = append(w.messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})

	if excess := len(w.messages) - w.limit; excess > 0 {
		w.messages = append(w.messages[:0], w.messages[excess:]...)
	}
}

// Len returns the current message count.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.messages)
}

// Clear empties the log.
func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = nil
}

// Export returns a copy of the retained messages in order.
func (w *Window) Export() []Message {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]Message, len(w.messages))
	copy(out, w.messages)
	return out
}

// Import clears the window and replays entries through Append, so the
// eviction rule applies to the imported sequence exactly as it would have
// applied incrementally.
func (w *Window) Import(messages []Message) {
	w.Clear()
	for _, m := range messages {
		w.Append(m.Role, m.Content)
	}
}

// PromptText renders the most recent messages as alternating
// "Human:"/"Assistant:" lines for inclusion in the system prompt. Returns
// "No previous conversation." when the window is empty.
func (w *Window) PromptText() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.messages) == 0 {
		return "No previous conversation."
	}

	start := 0
	if len(w.messages) > promptMessages {
		start = len(w.messages) - promptMessages
	}

	var b strings.Builder
	for i, m := range w.messages[start:] {
		if i > 0 {
			b.WriteByte('\n')
		}
		switch m.Role {
		case RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			b.WriteString("Human: ")
		}
		b.WriteString(m.Content)
	}

	return b.String()
}
