package session

import (
	"fmt"
	"sync"
)

// Fallback budget for models missing from the configured table, matching
// the largest configured context.
const defaultTokenBudget = 16384

// StoreConfig carries the values the store needs from configuration.
type StoreConfig struct {
	Defaults       Params
	Budgets        map[string]int // model name -> context token budget
	Personality    string
	Preload        []Turn
	PreloadEnabled bool
}

// Store keys sessions by user identifier. Sessions are created lazily and
// live for the process lifetime; each one serializes its own mutations.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	defaults       Params
	budgets        map[string]int
	personality    string
	preload        []Turn
	preloadEnabled bool
}

// NewStore builds a store. The budget table and defaults are copied so later
// administrative reloads never race in-flight reads.
func NewStore(cfg StoreConfig) *Store {
	budgets := make(map[string]int, len(cfg.Budgets))
	for k, v := range cfg.Budgets {
		budgets[k] = v
	}
	preload := make([]Turn, len(cfg.Preload))
	copy(preload, cfg.Preload)
	return &Store{
		sessions:       make(map[string]*Session),
		defaults:       cfg.Defaults,
		budgets:        budgets,
		personality:    cfg.Personality,
		preload:        preload,
		preloadEnabled: cfg.PreloadEnabled,
	}
}

// GetOrCreate returns the session for a user, initializing it on first
// contact with the personality turn and, when enabled, the preloaded example
// dialogue. The username, if given, is woven into the system turn.
func (s *Store) GetOrCreate(userID, username string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[userID]; ok {
		return sess
	}

	system := s.personality
	if username != "" {
		system += fmt.Sprintf("\nYou are talking to user '%s'.", username)
	}
	history := make([]Turn, 0, 1+len(s.preload))
	history = append(history, Turn{Role: RoleSystem, Content: system})
	if s.preloadEnabled {
		history = append(history, s.preload...)
	}

	sess := &Session{
		userID:    userID,
		history:   history,
		pinnedLen: len(history),
	}
	s.sessions[userID] = sess
	return sess
}

// Lookup returns an existing session, or nil when the user has none yet.
func (s *Store) Lookup(userID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[userID]
}

// Clear resets a user's session to its pinned prefix. A no-op for unknown
// users.
func (s *Store) Clear(userID string) {
	if sess := s.Lookup(userID); sess != nil {
		sess.Clear()
	}
}

// Defaults returns a copy of the global default parameters.
func (s *Store) Defaults() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaults
}

// SetDefaults replaces the global default parameter table as a whole. The
// administrative reload path; per-user overrides are unaffected.
func (s *Store) SetDefaults(p Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults = p
}

// ParamsFor returns the effective sampling parameters for a session: global
// defaults merged with the user's overrides, copied at read time.
func (s *Store) ParamsFor(sess *Session) Params {
	return sess.Effective(s.Defaults())
}

// SaveRerollSnapshot captures the session's effective temperature and top-p.
func (s *Store) SaveRerollSnapshot(sess *Session) error {
	return sess.SaveRerollSnapshot(s.Defaults())
}

// BudgetFor returns the context token budget of a model.
func (s *Store) BudgetFor(model string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.budgets[model]; ok {
		return b
	}
	return defaultTokenBudget
}

// Trim enforces the token budget of the session's effective model against
// its history.
func (s *Store) Trim(sess *Session) {
	sess.TrimToBudget(s.BudgetFor(s.ParamsFor(sess).Model))
}

// TrimForRequest enforces the model budget while reserving room for a
// candidate turn that joins the outgoing request without being part of
// stored history yet. The assembled request then fits the budget unless
// the pinned prefix plus the candidate alone exceed it.
func (s *Store) TrimForRequest(sess *Session, candidate string) {
	budget := s.BudgetFor(s.ParamsFor(sess).Model) - EstimateTokens(candidate)
	sess.TrimToBudget(budget)
}
