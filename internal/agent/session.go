// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Recorder persists messages as they are appended.
type Recorder interface {
	Record(sessionID string, seq int, msg Message) error
}

// Session is the append-only conversation history. It is owned by one
// orchestrator and is not safe for concurrent use.
type Session struct {
	id       string
	system   string
	messages []Message

	recorder Recorder
	log      logrus.FieldLogger
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithRecorder persists every appended message through r.
func WithRecorder(r Recorder) SessionOption {
	return func(s *Session) { s.recorder = r }
}

// WithSessionLogger sets the logger used to report recorder failures.
func WithSessionLogger(l logrus.FieldLogger) SessionOption {
	return func(s *Session) { s.log = l }
}

// NewSession starts a session whose first message is the system prompt.
func NewSession(systemPrompt string, opts ...SessionOption) *Session {
	s := &Session{
		system: systemPrompt,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reset()
	return s
}

// ID identifies the session. Clear assigns a new one.
func (s *Session) ID() string {
	return s.id
}

// SystemPrompt returns the prompt the session starts with.
func (s *Session) SystemPrompt() string {
	return s.system
}

// Append adds a copy of msg to the history.
func (s *Session) Append(msg Message) {
	msg = msg.Clone()
	s.messages = append(s.messages, msg)
	s.record(len(s.messages)-1, msg)
}

// Messages returns a copy of the history, oldest first.
func (s *Session) Messages() []Message {
	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// Len returns the number of messages, including the system prompt.
func (s *Session) Len() int {
	return len(s.messages)
}

// Last returns the most recent message.
func (s *Session) Last() (Message, bool) {
	if len(s.messages) == 0 {
		return Message{}, false
	}
	return s.messages[len(s.messages)-1].Clone(), true
}

// Clear resets the history to the system prompt and starts a new session ID.
func (s *Session) Clear() {
	s.reset()
}

func (s *Session) reset() {
	s.id = uuid.NewString()
	s.messages = nil
	s.Append(SystemMessage(s.system))
}

// record failures are logged, never returned: losing a transcript line must
// not end the conversation.
func (s *Session) record(seq int, msg Message) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(s.id, seq, msg); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"session": s.id,
			"seq":     seq,
		}).Warn("failed to persist message")
	}
}
