// Package session owns per-user conversation state: ordered history with a
// pinned prefix, the last-response cache, reroll bookkeeping and the sampling
// parameter overlay. All mutation goes through Store and Session methods,
// which serialize access per user.
package session

import (
	"errors"
	"sync"
)

// Role tags a turn as system, user or assistant content.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged message in a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ErrSnapshotHeld is returned when a reroll snapshot is requested while a
// previous one is still outstanding.
var ErrSnapshotHeld = errors.New("session: reroll parameter snapshot already held")

// Session is the conversation state for a single user. History index 0 is
// the system turn once initialized; turns below pinnedLen are never evicted.
type Session struct {
	mu sync.Mutex

	userID    string
	history   []Turn
	pinnedLen int

	lastResponse  string
	pendingPrompt string
	displayedRef  string

	overrides      Overrides
	rerollSnapshot *paramSnapshot
	rerollCount    int
}

type paramSnapshot struct {
	temperature float32
	topP        float32
}

// UserID returns the owning user identifier.
func (s *Session) UserID() string { return s.userID }

// PinnedLen returns the number of leading turns exempt from trimming.
func (s *Session) PinnedLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pinnedLen
}

// History returns a defensive copy of the conversation history.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// HistoryWithoutTrailingAssistant returns a copy of the history minus the
// trailing assistant turn, if any. Used to rebuild the prompt context of the
// original exchange when rerolling; the stored history is untouched.
func (s *Session) HistoryWithoutTrailingAssistant() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.history)
	if n > 0 && s.history[n-1].Role == RoleAssistant {
		n--
	}
	out := make([]Turn, n)
	copy(out, s.history[:n])
	return out
}

// AppendUser appends a user turn.
func (s *Session) AppendUser(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Turn{Role: RoleUser, Content: text})
}

// AppendOrReplaceAssistant replaces the content of the trailing assistant
// turn, or appends a new one when the history does not end with an assistant
// turn. The last-response cache is updated to match.
func (s *Session) AppendOrReplaceAssistant(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendOrReplaceAssistantLocked(text)
}

func (s *Session) appendOrReplaceAssistantLocked(text string) {
	if n := len(s.history); n > 0 && s.history[n-1].Role == RoleAssistant {
		s.history[n-1].Content = text
	} else {
		s.history = append(s.history, Turn{Role: RoleAssistant, Content: text})
	}
	s.lastResponse = text
}

// CommitExchange appends the user turn and the assistant turn of one
// completed round trip in a single critical section, so a failure can never
// leave a half-appended exchange behind.
func (s *Session) CommitExchange(prompt, userTurn, assistantText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Turn{Role: RoleUser, Content: userTurn})
	s.appendOrReplaceAssistantLocked(assistantText)
	s.pendingPrompt = prompt
}

// AppendToLastResponse concatenates a continuation onto the cached last
// response with a paragraph break, writes it through to the trailing
// assistant turn, and returns the combined text.
func (s *Session) AppendToLastResponse(continuation string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	combined := s.lastResponse + "\n\n" + continuation
	s.appendOrReplaceAssistantLocked(combined)
	return combined
}

// LastResponse returns the cached text of the most recent assistant turn.
func (s *Session) LastResponse() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResponse, s.lastResponse != ""
}

// PendingPrompt returns the user-authored text that produced the last
// response.
func (s *Session) PendingPrompt() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingPrompt, s.pendingPrompt != ""
}

// DisplayedRef returns the opaque handle of the currently visible rendering
// of the last response.
func (s *Session) DisplayedRef() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayedRef, s.displayedRef != ""
}

// SetDisplayedRef records the platform handle for the visible response.
func (s *Session) SetDisplayedRef(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.displayedRef = ref
}

// IncrementReroll bumps the per-session reroll counter and returns the new
// value. Kept for logging only; there is no reroll cap.
func (s *Session) IncrementReroll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rerollCount++
	return s.rerollCount
}

// TrimToBudget evicts the oldest non-pinned turns, strictly FIFO, until the
// estimated token total fits the budget or only the pinned prefix remains.
// Calling it again when already under budget is a no-op.
func (s *Session) TrimToBudget(budget int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, t := range s.history {
		total += EstimateTokens(t.Content)
	}
	for total > budget && len(s.history) > s.pinnedLen {
		total -= EstimateTokens(s.history[s.pinnedLen].Content)
		s.history = append(s.history[:s.pinnedLen], s.history[s.pinnedLen+1:]...)
	}
}

// Clear reinitializes the history to the pinned prefix and discards the
// last-response cache, pending prompt, displayed reference and any reroll
// bookkeeping. The session object itself survives.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = s.history[:s.pinnedLen:s.pinnedLen]
	s.lastResponse = ""
	s.pendingPrompt = ""
	s.displayedRef = ""
	s.rerollSnapshot = nil
	s.rerollCount = 0
}
