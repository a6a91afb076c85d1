package core

import (
	"sync"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation log.
type Message struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`

	// WorkflowID is set on entries appended by a workflow run.
	WorkflowID WorkflowID `json:"workflow_id,omitempty"`
}

// MessageLog is an append-only, concurrency-safe conversation log.
// Readers may take snapshots while a run is appending.
// Appends are serialized with the sink, so the sink sees entries in
// log order.
type MessageLog struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	entries []Message
	sink    func(Message)
}

// MessageLogOption configures a MessageLog.
type MessageLogOption func(*MessageLog)

// WithMessageSink registers a callback invoked after every append.
func WithMessageSink(fn func(Message)) MessageLogOption {
	return func(l *MessageLog) {
		l.sink = fn
	}
}

// WithInitialMessages seeds the log, e.g. from persisted history.
func WithInitialMessages(msgs []Message) MessageLogOption {
	return func(l *MessageLog) {
		l.entries = append(l.entries, msgs...)
	}
}

// NewMessageLog creates an empty log.
func NewMessageLog(opts ...MessageLogOption) *MessageLog {
	l := &MessageLog{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append adds an entry and returns it.
func (l *MessageLog) Append(role Role, text string) Message {
	return l.append(Message{Role: role, Text: text, CreatedAt: time.Now()})[0]
}

// AppendPair adds a user entry and its assistant reply as one unit; no
// other entry lands between them. workflowID may be empty.
func (l *MessageLog) AppendPair(workflowID WorkflowID, prompt, reply string) (Message, Message) {
	now := time.Now()
	msgs := l.append(
		Message{Role: RoleUser, Text: prompt, CreatedAt: now, WorkflowID: workflowID},
		Message{Role: RoleAssistant, Text: reply, CreatedAt: now, WorkflowID: workflowID},
	)
	return msgs[0], msgs[1]
}

func (l *MessageLog) append(msgs ...Message) []Message {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.Lock()
	l.entries = append(l.entries, msgs...)
	sink := l.sink
	l.mu.Unlock()

	if sink != nil {
		for _, m := range msgs {
			sink(m)
		}
	}
	return msgs
}

// Entries returns a snapshot of the log.
func (l *MessageLog) Entries() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Message, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *MessageLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Clear empties the log.
func (l *MessageLog) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}
