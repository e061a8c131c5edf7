package session

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/MikeSquared-Agency/catalogqa/internal/intent"
)

const (
	DefaultTimeout      = 30 * time.Minute
	DefaultMaxTurns     = 10
	DefaultMaxMessages  = 50
	DefaultContextTurns = 5
)

type Config struct {
	Timeout      time.Duration
	MaxTurns     int
	MaxMessages  int
	ContextTurns int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	if c.MaxMessages <= 0 {
		c.MaxMessages = DefaultMaxMessages
	}
	if c.ContextTurns <= 0 {
		c.ContextTurns = DefaultContextTurns
	}
	return c
}

type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store owns every live session. Entries never expire inside the arena on
// their own; staleness is judged against the injected clock on each access,
// and Sweep (driven by a Reaper) removes what has gone stale.
type Store struct {
	// mu orders removals against creates so a stale remove never drops a
	// session created after it.
	mu     sync.Mutex
	arena  *cache.Cache
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

func NewStore(cfg Config, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		// No janitor goroutine: the Reaper owns cleanup.
		arena:  cache.New(cache.NoExpiration, 0),
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (st *Store) Config() Config { return st.cfg }

// GetOrCreate returns the live session for id, creating one when it is
// unknown or expired. An empty id gets a fresh one.
func (st *Store) GetOrCreate(id, userID string) (*Session, bool) {
	if id == "" {
		id = uuid.NewString()
	}
	for {
		if s, ok := st.lookup(id); ok {
			s.mu.Lock()
			if !s.expired(st.now(), st.cfg.Timeout) {
				s.lastActive = st.now()
				s.mu.Unlock()
				return s, false
			}
			s.closed = true
			s.mu.Unlock()
			st.remove(id, s)
		}

		s := newSession(id, userID, st.now())
		st.mu.Lock()
		err := st.arena.Add(id, s, cache.NoExpiration)
		st.mu.Unlock()
		if err == nil {
			st.logger.Debug("session created", "session_id", id)
			return s, true
		}
		// Lost a race with a concurrent create; use theirs.
	}
}

// Get returns the session if it exists and has not expired. Expired sessions
// are removed on the way out.
func (st *Store) Get(id string) (*Session, bool) {
	s, ok := st.lookup(id)
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	expired := s.expired(st.now(), st.cfg.Timeout)
	if expired {
		s.closed = true
	}
	s.mu.Unlock()
	if expired {
		st.remove(id, s)
		st.logger.Debug("session expired on access", "session_id", id)
		return nil, false
	}
	return s, true
}

func (st *Store) lookup(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	v, ok := st.arena.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// remove drops id only while it still maps to s.
func (st *Store) remove(id string, s *Session) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if cur, ok := st.lookup(id); !ok || cur != s {
		return false
	}
	st.arena.Delete(id)
	return true
}

// Snapshot returns a copy of the session state.
func (st *Store) Snapshot(id string) (Snapshot, bool) {
	s, ok := st.Get(id)
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshot(), true
}

// AddTurn records a question/answer pair. It reports false, without
// changing anything, when the session is unknown, expired or full.
func (st *Store) AddTurn(id, question, answer string, in *intent.Intent) bool {
	s, ok := st.Get(id)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := st.now()
	if s.expired(now, st.cfg.Timeout) || len(s.turns) >= st.cfg.MaxTurns {
		return false
	}

	var stored *intent.Intent
	if in != nil {
		c := in.Clone()
		stored = &c
	}
	s.turns = append(s.turns, Turn{Question: question, Answer: answer, Intent: stored, At: now})
	s.appendMessage(Message{Content: question, Role: RoleUser, At: now}, st.cfg.MaxMessages)
	s.appendMessage(Message{Content: answer, Role: RoleAssistant, At: now}, st.cfg.MaxMessages)
	s.lastActive = now

	if stored != nil && stored.IsQuery() {
		s.last = LastContext{
			QueryType:  stored.Type,
			Conditions: stored.Conditions.Clone(),
			Sort:       stored.Sort,
			Limit:      stored.Limit,
		}
	}
	return true
}

// AddMessage appends to the raw message log only.
func (st *Store) AddMessage(id string, role Role, content string) bool {
	s, ok := st.Get(id)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := st.now()
	s.appendMessage(Message{Content: content, Role: role, At: now}, st.cfg.MaxMessages)
	s.lastActive = now
	return true
}

// Messages returns a copy of the message log.
func (st *Store) Messages(id string) []Message {
	snap, ok := st.Snapshot(id)
	if !ok {
		return nil
	}
	return snap.Messages
}

// UpdateContext merges free-form values into the session context. The keys
// lastQueryType, lastSort and lastLimit also update the last query context.
func (st *Store) UpdateContext(id string, values map[string]any) bool {
	s, ok := st.Get(id)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		switch k {
		case "lastQueryType":
			if t, ok := v.(string); ok {
				s.last.QueryType = intent.QueryType(t)
			}
		case "lastSort":
			if t, ok := v.(string); ok {
				s.last.Sort = t
			}
		case "lastLimit":
			if n, ok := v.(int); ok {
				s.last.Limit = n
			}
		default:
			s.context[k] = v
		}
	}
	s.lastActive = st.now()
	return true
}

// Observe folds the question into the session preferences and returns a copy.
func (st *Store) Observe(id, question string) (Preferences, bool) {
	s, ok := st.Get(id)
	if !ok {
		return newPreferences(), false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs.Observe(question)
	return s.prefs.clone(), true
}

func (st *Store) Destroy(id string) bool {
	s, ok := st.lookup(id)
	if !ok {
		return false
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	st.remove(id, s)
	st.logger.Info("session destroyed", "session_id", id)
	return true
}

// Sweep removes expired sessions and reports how many went.
func (st *Store) Sweep() int {
	now := st.now()
	removed := 0
	for id, item := range st.arena.Items() {
		s := item.Object.(*Session)
		s.mu.Lock()
		expired := s.expired(now, st.cfg.Timeout)
		if expired {
			s.closed = true
		}
		s.mu.Unlock()
		if expired && st.remove(id, s) {
			removed++
		}
	}
	if removed > 0 {
		st.logger.Info("expired sessions removed", "count", removed)
	}
	return removed
}

// ActiveCount counts sessions that have not expired.
func (st *Store) ActiveCount() int {
	now := st.now()
	n := 0
	for _, item := range st.arena.Items() {
		s := item.Object.(*Session)
		s.mu.Lock()
		if !s.expired(now, st.cfg.Timeout) {
			n++
		}
		s.mu.Unlock()
	}
	return n
}

type Stats struct {
	Total        int           `json:"total_sessions"`
	Active       int           `json:"active_sessions"`
	Timeout      time.Duration `json:"session_timeout"`
	MaxTurns     int           `json:"max_turns"`
	ContextTurns int           `json:"context_turns"`
}

func (st *Store) Stats() Stats {
	return Stats{
		Total:        st.arena.ItemCount(),
		Active:       st.ActiveCount(),
		Timeout:      st.cfg.Timeout,
		MaxTurns:     st.cfg.MaxTurns,
		ContextTurns: st.cfg.ContextTurns,
	}
}

// BuildContext renders the recent turns and the last query context as a
// prompt block. Unknown, expired and empty sessions render as "".
func (st *Store) BuildContext(id string) string {
	snap, ok := st.Snapshot(id)
	if !ok || len(snap.Turns) == 0 {
		return ""
	}

	turns := snap.Turns
	if len(turns) > st.cfg.ContextTurns {
		turns = turns[len(turns)-st.cfg.ContextTurns:]
	}

	var b strings.Builder
	b.WriteString("以下是最近的对话历史，用于理解当前查询的上下文：\n")
	for i, t := range turns {
		fmt.Fprintf(&b, "\n[轮次 %d]\n", i+1)
		fmt.Fprintf(&b, "用户问题：%s\n", t.Question)
		fmt.Fprintf(&b, "助手回复：%s\n", t.Answer)
		if t.Intent != nil && t.Intent.IsQuery() {
			fmt.Fprintf(&b, "查询类型：%s\n", t.Intent.Type)
			if len(t.Intent.Conditions) > 0 {
				fmt.Fprintf(&b, "查询条件：%s\n", conditionsText(t.Intent.Conditions))
			}
		}
	}

	if last := snap.LastContext; !last.empty() {
		b.WriteString("\n[当前上下文]\n")
		fmt.Fprintf(&b, "最后查询类型：%s\n", last.QueryType)
		if len(last.Conditions) > 0 {
			fmt.Fprintf(&b, "最后查询条件：%s\n", conditionsText(last.Conditions))
		}
		if last.Sort != "" {
			fmt.Fprintf(&b, "最后排序方式：%s\n", last.Sort)
		}
		if last.Limit > 0 {
			fmt.Fprintf(&b, "最后限制数量：%d\n", last.Limit)
		}
	}
	b.WriteString("\n" + snap.Preferences.Summary() + "\n")
	return b.String()
}

func conditionsText(cs intent.Conditions) string {
	data, err := cs.MarshalJSON()
	if err != nil {
		return "{}"
	}
	return string(data)
}
