package session

import (
	"maps"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/catalogqa/internal/intent"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Question string         `json:"question"`
	Answer   string         `json:"answer"`
	Intent   *intent.Intent `json:"intent,omitempty"`
	At       time.Time      `json:"at"`
}

type Message struct {
	Content string    `json:"content"`
	Role    Role      `json:"role"`
	At      time.Time `json:"at"`
}

// LastContext is the most recent query shape, carried into the next prompt.
type LastContext struct {
	QueryType  intent.QueryType  `json:"query_type,omitempty"`
	Conditions intent.Conditions `json:"conditions,omitempty"`
	Sort       string            `json:"sort,omitempty"`
	Limit      int               `json:"limit,omitempty"`
}

func (c LastContext) empty() bool { return c.QueryType == "" }

// Session is one dialogue. The turn history and the raw message log are two
// views written by the same AddTurn call.
type Session struct {
	mu         sync.Mutex
	id         string
	userID     string
	createdAt  time.Time
	lastActive time.Time
	closed     bool

	turns    []Turn
	messages []Message
	context  map[string]any
	last     LastContext
	prefs    Preferences
}

func newSession(id, userID string, now time.Time) *Session {
	return &Session{
		id:         id,
		userID:     userID,
		createdAt:  now,
		lastActive: now,
		context:    map[string]any{},
		prefs:      newPreferences(),
	}
}

func (s *Session) ID() string { return s.id }

// expired must be called with s.mu held.
func (s *Session) expired(now time.Time, timeout time.Duration) bool {
	return s.closed || now.Sub(s.lastActive) > timeout
}

func (s *Session) appendMessage(m Message, limit int) {
	s.messages = append(s.messages, m)
	if over := len(s.messages) - limit; over > 0 {
		s.messages = append(s.messages[:0:0], s.messages[over:]...)
	}
}

// Snapshot is a point-in-time copy of a session, safe to hand out.
type Snapshot struct {
	ID          string         `json:"session_id"`
	UserID      string         `json:"user_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	LastActive  time.Time      `json:"last_active"`
	Turns       []Turn         `json:"turns"`
	Messages    []Message      `json:"messages"`
	Context     map[string]any `json:"context,omitempty"`
	LastContext LastContext    `json:"last_context"`
	Preferences Preferences    `json:"preferences"`
}

func (s *Session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := make([]Turn, len(s.turns))
	copy(turns, s.turns)
	messages := make([]Message, len(s.messages))
	copy(messages, s.messages)
	last := s.last
	last.Conditions = s.last.Conditions.Clone()
	return Snapshot{
		ID:          s.id,
		UserID:      s.userID,
		CreatedAt:   s.createdAt,
		LastActive:  s.lastActive,
		Turns:       turns,
		Messages:    messages,
		Context:     maps.Clone(s.context),
		LastContext: last,
		Preferences: s.prefs.clone(),
	}
}
