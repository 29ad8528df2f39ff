package session

import (
	"sync"

	"github.com/google/uuid"
)

// Status represents the current lifecycle state of a session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// ModelConfig holds the model parameters sent with every request built from
// this session.
type ModelConfig struct {
	// Model is the provider model identifier.
	Model string `json:"model"`
	// MaxTokens bounds the model's output per call.
	MaxTokens int `json:"max_tokens"`
	// Temperature is an optional sampling temperature.
	Temperature *float64 `json:"temperature,omitempty"`
}

// DefaultModelConfig returns the default model configuration.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Model:     "gpt-4o",
		MaxTokens: 4096,
	}
}

// Session is the shared conversation state for one agent run. The transcript
// is append-only: messages are never mutated or removed once added, so tool
// call ids referenced by later results always stay resolvable. A single mutex
// guards the transcript and status; it is held only for the instant of an
// append or snapshot, never across an LLM call or tool execution.
type Session struct {
	id           string
	systemPrompt string
	model        ModelConfig

	mu       sync.Mutex
	messages []Message
	status   Status
}

// New creates an idle session with the given model configuration and system
// prompt.
func New(model ModelConfig, systemPrompt string) *Session {
	return &Session{
		id:           uuid.New().String(),
		systemPrompt: systemPrompt,
		model:        model,
		status:       StatusIdle,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// SystemPrompt returns the system prompt text.
func (s *Session) SystemPrompt() string { return s.systemPrompt }

// Model returns the model configuration.
func (s *Session) Model() ModelConfig { return s.model }

// Status returns the current run status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus transitions the run status. Status transitions are owned by the
// agent loop; the store itself accepts any transition.
func (s *Session) SetStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Append pushes a message onto the transcript. Legal in any status.
func (s *Session) Append(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// Transcript returns an ordered snapshot of the messages. The returned slice
// is a copy; callers may iterate it while the loop keeps appending.
func (s *Session) Transcript() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make([]Message, len(s.messages))
	copy(snapshot, s.messages)
	return snapshot
}

// MessageCount returns the number of messages in the transcript.
func (s *Session) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Clear drops all messages. It is a no-op while the session is running; the
// transcript of an in-flight run is never truncated underneath the loop.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusRunning {
		return
	}
	s.messages = nil
}
