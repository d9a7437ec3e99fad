// Package convo holds the conversation state of one session: the append-only
// message log, its provider-ready view, token estimation, compaction,
// snapshots, and JSONL persistence.
package convo

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tern-dev/tern/pkg/ai"
)

// Persistence receives every appended message and saved snapshot. Failures
// are logged by the Store and never propagated; the in-memory log is the
// source of truth for the running session.
type Persistence interface {
	AppendMessage(msg ai.Message) error
	SaveSnapshot(id, label string, msgs []ai.Message) error
}

// Store is the conversation context of one session. All methods are safe for
// concurrent use; in practice only the session's turn driver mutates it.
type Store struct {
	mu        sync.Mutex
	system    string
	messages  []ai.Message
	snapshots []Snapshot
	persist   Persistence
	logger    *slog.Logger
}

// Options configures a Store.
type Options struct {
	SystemPrompt string
	Persistence  Persistence
	Logger       *slog.Logger
}

// New returns an empty Store.
func New(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{
		system:  opts.SystemPrompt,
		persist: opts.Persistence,
		logger:  logger,
	}
}

// SystemPrompt returns the session's system prompt.
func (s *Store) SystemPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.system
}

// SetSystemPrompt replaces the system prompt. It is not part of the message
// log and is not persisted with it.
func (s *Store) SetSystemPrompt(p string) {
	s.mu.Lock()
	s.system = p
	s.mu.Unlock()
}

// AddUser appends a user message.
func (s *Store) AddUser(text string) { s.Append(ai.UserMessage(text)) }

// AddSystem appends an in-log system message (compaction placeholders,
// injected notices). The session system prompt is separate.
func (s *Store) AddSystem(text string) { s.Append(ai.SystemMessage(text)) }

// AddAssistant appends an assistant message; the role is forced.
func (s *Store) AddAssistant(msg ai.Message) {
	msg.Role = ai.RoleAssistant
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	s.Append(msg)
}

// AddToolResult appends a role=tool message answering callID.
func (s *Store) AddToolResult(callID, content string) {
	s.Append(ai.ToolMessage(callID, content))
}

// Append adds msg to the log and mirrors it to persistence when attached.
func (s *Store) Append(msg ai.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	p := s.persist
	s.mu.Unlock()

	if p != nil {
		if err := p.AppendMessage(msg); err != nil {
			s.logger.Error("append message to persistence failed", "role", string(msg.Role), "err", err)
		}
	}
}

// Replace swaps the whole log, e.g. when seeding from disk. The replacement
// is not mirrored to persistence.
func (s *Store) Replace(msgs []ai.Message) {
	s.mu.Lock()
	s.messages = cloneMessages(msgs)
	s.mu.Unlock()
}

// Messages returns the provider-ready view: the system prompt first (when
// set), then a copy of the log. Mutating the result does not affect the
// Store.
func (s *Store) Messages() []ai.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ai.Message, 0, len(s.messages)+1)
	if s.system != "" {
		out = append(out, ai.Message{Role: ai.RoleSystem, Content: s.system})
	}
	for _, m := range s.messages {
		out = append(out, m.Clone())
	}
	return out
}

// History returns a copy of the raw log without the system prompt.
func (s *Store) History() []ai.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMessages(s.messages)
}

// Len returns the number of logged messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// TokenEstimate is the cheap length heuristic over the system prompt and the
// log: total bytes divided by three. It is recomputed on demand, so a reload
// or compaction is reflected immediately.
func (s *Store) TokenEstimate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estimateLocked()
}

// ValidatePairing checks the tool-call invariant over msgs: every assistant
// message with tool calls is followed, before the next assistant message, by
// exactly one role=tool message per call id and no stray tool messages.
func ValidatePairing(msgs []ai.Message) error {
	pending := map[string]bool{}
	for i, m := range msgs {
		switch m.Role {
		case ai.RoleAssistant:
			if len(pending) > 0 {
				return fmt.Errorf("message %d: assistant message while %d tool calls unanswered", i, len(pending))
			}
			for _, tc := range m.ToolCalls {
				if pending[tc.ID] {
					return fmt.Errorf("message %d: duplicate tool call id %q", i, tc.ID)
				}
				pending[tc.ID] = true
			}
		case ai.RoleTool:
			if !pending[m.ToolCallID] {
				return fmt.Errorf("message %d: tool result %q has no open tool call", i, m.ToolCallID)
			}
			delete(pending, m.ToolCallID)
		}
	}
	if len(pending) > 0 {
		return fmt.Errorf("%d tool calls unanswered at end of log", len(pending))
	}
	return nil
}

func cloneMessages(msgs []ai.Message) []ai.Message {
	out := make([]ai.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
