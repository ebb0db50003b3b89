package state

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrSessionNotFound = errors.New("conversation session not found")
	ErrSessionExists   = errors.New("conversation session already exists")
	ErrNilSession      = errors.New("conversation session is nil")
	ErrInvalidSession  = errors.New("session key is empty")
	ErrMissingThread   = errors.New("conversation session has no thread id")
)

// ConversationSession maps a caller-scoped key (phone number or call sid) to
// the remote assistant thread holding that caller's conversation.
type ConversationSession struct {
	SessionKey string    `json:"session_key"`
	ThreadID   string    `json:"thread_id"`
	Channel    string    `json:"channel"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func NewConversationSession(sessionKey, threadID, channel string, now time.Time) *ConversationSession {
	now = now.UTC()
	return &ConversationSession{
		SessionKey: sessionKey,
		ThreadID:   threadID,
		Channel:    channel,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (s *ConversationSession) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

func (s *ConversationSession) Validate() error {
	if s == nil {
		return ErrNilSession
	}
	if strings.TrimSpace(s.SessionKey) == "" {
		return ErrInvalidSession
	}
	if strings.TrimSpace(s.ThreadID) == "" {
		return ErrMissingThread
	}
	return nil
}

// normalize fills timestamps before a write.
func (s *ConversationSession) normalize(now time.Time) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now.UTC()
	} else {
		s.CreatedAt = s.CreatedAt.UTC()
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now.UTC()
	} else {
		s.UpdatedAt = s.UpdatedAt.UTC()
	}
}

func (s *ConversationSession) clone() *ConversationSession {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
