// Package agent coordinates chat, continue, reroll and clear against the
// session store and the completion gateway. A small per-user state machine
// gates generation so two operations for the same user can never race
// against the same response.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"

	"github.com/seleneai/selene/internal/llm"
	"github.com/seleneai/selene/internal/logger"
	"github.com/seleneai/selene/internal/repair"
	"github.com/seleneai/selene/internal/session"
)

// Generation states, per user.
var (
	stateIdle               stateless.State = "Idle"
	stateAwaitingGeneration stateless.State = "AwaitingGeneration"
)

// Generation triggers.
var (
	triggerBegin  stateless.Trigger = "Begin"
	triggerFinish stateless.Trigger = "Finish"
)

var (
	// ErrBusy rejects a generation requested while one is already in
	// flight for the same user.
	ErrBusy = errors.New("agent: a generation is already in progress")
	// ErrNoLastResponse rejects a continue with nothing to continue from.
	ErrNoLastResponse = errors.New("agent: no previous response to continue from")
	// ErrNothingToReroll rejects a reroll with no pending prompt or
	// displayed response.
	ErrNothingToReroll = errors.New("agent: no response available to re-roll")
)

const defaultContinuationPrompt = "Please continue from where you left off, but finish quickly."

// Action names a control the platform layer may render alongside a
// response.
type Action string

const (
	ActionReroll   Action = "reroll"
	ActionContinue Action = "continue"
	ActionClear    Action = "clear"
)

var defaultActions = []Action{ActionReroll, ActionContinue, ActionClear}

// Directive tells the platform layer what to display. A non-empty RetireRef
// means the referenced artifact must be deleted and Text published under
// Ref; the coordinator never assumes a message can be edited in place.
type Directive struct {
	Text      string   `json:"text"`
	Ref       string   `json:"ref,omitempty"`
	RetireRef string   `json:"retire_ref,omitempty"`
	Actions   []Action `json:"actions"`
}

// Auditor receives committed history snapshots for durable storage.
// Implementations must never fail the caller.
type Auditor interface {
	Append(userID string, history []session.Turn)
}

type userState struct {
	mu  sync.Mutex
	fsm *stateless.StateMachine
}

func newGenerationFSM() *stateless.StateMachine {
	m := stateless.NewStateMachine(stateIdle)
	m.Configure(stateIdle).Permit(triggerBegin, stateAwaitingGeneration)
	m.Configure(stateAwaitingGeneration).Permit(triggerFinish, stateIdle)
	return m
}

// Agent is the reroll coordinator.
type Agent struct {
	gateway            llm.Gateway
	store              *session.Store
	repairer           *repair.Repairer
	audit              Auditor
	continuationPrompt string

	mu    sync.Mutex
	users map[string]*userState
}

// New creates an agent. audit may be nil to disable persistence; an empty
// continuation prompt selects the default.
func New(gateway llm.Gateway, store *session.Store, repairer *repair.Repairer, audit Auditor, continuationPrompt string) *Agent {
	if continuationPrompt == "" {
		continuationPrompt = defaultContinuationPrompt
	}
	return &Agent{
		gateway:            gateway,
		store:              store,
		repairer:           repairer,
		audit:              audit,
		continuationPrompt: continuationPrompt,
		users:              make(map[string]*userState),
	}
}

// Chat runs one user message through the model and commits the exchange.
// Nothing is committed on failure: the request context is assembled from a
// copy of history plus the candidate user turn, and both turns land together
// only after the completion succeeds.
func (a *Agent) Chat(ctx context.Context, userID, username, text string) (Directive, error) {
	if err := a.begin(userID); err != nil {
		return Directive{}, err
	}
	defer a.end(userID)
	log := logger.ForUser(userID)

	sess := a.store.GetOrCreate(userID, username)

	userTurn := text
	if username != "" {
		userTurn = username + ": " + text
	}
	a.store.TrimForRequest(sess, userTurn)
	turns := append(sess.History(), session.Turn{Role: session.RoleUser, Content: userTurn})

	res, err := a.gateway.Generate(ctx, turns, a.store.ParamsFor(sess))
	if err != nil {
		log.Error("chat generation failed", "error", err)
		return Directive{}, err
	}
	reply := a.finishText(res, log)

	sess.CommitExchange(text, userTurn, reply)
	ref := uuid.NewString()
	sess.SetDisplayedRef(ref)
	a.store.Trim(sess)
	a.persist(userID, sess)
	log.Info("chat exchange committed", "ref", ref)

	return Directive{Text: reply, Ref: ref, Actions: defaultActions}, nil
}

// Continue asks the model for more text and appends it to the last response
// with a paragraph break. The continuation prompt is synthetic: it goes into
// the outbound request only and is never stored as a user turn, so the
// pending prompt for reroll stays intact.
func (a *Agent) Continue(ctx context.Context, userID string) (Directive, error) {
	if err := a.begin(userID); err != nil {
		return Directive{}, err
	}
	defer a.end(userID)
	log := logger.ForUser(userID)

	sess := a.store.Lookup(userID)
	if sess == nil {
		return Directive{}, ErrNoLastResponse
	}
	if _, ok := sess.LastResponse(); !ok {
		return Directive{}, ErrNoLastResponse
	}
	a.store.TrimForRequest(sess, a.continuationPrompt)

	turns := append(sess.History(), session.Turn{Role: session.RoleUser, Content: a.continuationPrompt})

	res, err := a.gateway.Generate(ctx, turns, a.store.ParamsFor(sess))
	if err != nil {
		log.Error("continue generation failed", "error", err)
		return Directive{}, err
	}
	continuation := a.finishText(res, log)

	sess.AppendToLastResponse(continuation)
	a.store.Trim(sess)
	a.persist(userID, sess)
	log.Info("response continued")

	return Directive{Text: continuation, Actions: defaultActions}, nil
}

// Reroll regenerates the last response from the same prompt context with
// boosted sampling parameters scoped to this user. The old assistant turn
// stays in history until the replacement commits, so a failed reroll leaves
// the session exactly as it was apart from the snapshot/restore of
// parameters.
func (a *Agent) Reroll(ctx context.Context, userID string) (Directive, error) {
	if err := a.begin(userID); err != nil {
		return Directive{}, err
	}
	defer a.end(userID)
	log := logger.ForUser(userID)

	sess := a.store.Lookup(userID)
	if sess == nil {
		return Directive{}, ErrNothingToReroll
	}
	if _, ok := sess.PendingPrompt(); !ok {
		return Directive{}, ErrNothingToReroll
	}
	oldRef, ok := sess.DisplayedRef()
	if !ok {
		return Directive{}, ErrNothingToReroll
	}

	attempt := sess.IncrementReroll()
	log.Info("rerolling response", "attempt", attempt)

	if err := a.store.SaveRerollSnapshot(sess); err != nil {
		return Directive{}, err
	}
	defer sess.RestoreRerollSnapshot()

	eff := a.store.ParamsFor(sess)
	temperature := eff.Temperature + 0.1
	topP := min(eff.TopP+0.05, float32(1.0))
	sess.ApplyOverrides(session.Overrides{Temperature: &temperature, TopP: &topP})

	a.store.Trim(sess)
	turns := sess.HistoryWithoutTrailingAssistant()

	res, err := a.gateway.Generate(ctx, turns, a.store.ParamsFor(sess))
	if err != nil {
		log.Error("reroll generation failed", "error", err)
		return Directive{}, err
	}
	reply := a.finishText(res, log)

	sess.AppendOrReplaceAssistant(reply)
	newRef := uuid.NewString()
	sess.SetDisplayedRef(newRef)
	a.store.Trim(sess)
	a.persist(userID, sess)
	log.Info("response rerolled", "retired_ref", oldRef, "ref", newRef)

	return Directive{Text: reply, Ref: newRef, RetireRef: oldRef, Actions: defaultActions}, nil
}

// Clear resets the user's session to its pinned prefix. Always available;
// permission checks belong to the platform layer.
func (a *Agent) Clear(userID string) {
	a.store.Clear(userID)
	logger.ForUser(userID).Info("conversation history cleared")
}

// History returns a copy of a user's conversation history, or nil for an
// unknown user.
func (a *Agent) History(userID string) []session.Turn {
	if sess := a.store.Lookup(userID); sess != nil {
		return sess.History()
	}
	return nil
}

// Params returns the user's effective sampling parameters.
func (a *Agent) Params(userID string) session.Params {
	if sess := a.store.Lookup(userID); sess != nil {
		return a.store.ParamsFor(sess)
	}
	return a.store.Defaults()
}

// ReloadDefaults replaces the global default parameter table as a whole.
func (a *Agent) ReloadDefaults(p session.Params) {
	a.store.SetDefaults(p)
	logger.L.Info("default parameters reloaded", "model", p.Model)
}

func (a *Agent) finishText(res llm.Result, log *slog.Logger) string {
	if res.StoppedNaturally {
		return res.Text
	}
	repaired := a.repairer.Repair(res.Text)
	if repaired != res.Text {
		log.Debug("repaired truncated response", "before_len", len(res.Text), "after_len", len(repaired))
	}
	return repaired
}

// persist hands the committed history to the auditor. Best-effort by
// contract; a nil auditor disables it.
func (a *Agent) persist(userID string, sess *session.Session) {
	if a.audit == nil {
		return
	}
	a.audit.Append(userID, sess.History())
}

func (a *Agent) userState(userID string) *userState {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[userID]
	if !ok {
		u = &userState{fsm: newGenerationFSM()}
		a.users[userID] = u
	}
	return u
}

func (a *Agent) begin(userID string) error {
	u := a.userState(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.fsm.Fire(triggerBegin); err != nil {
		return ErrBusy
	}
	return nil
}

func (a *Agent) end(userID string) {
	u := a.userState(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.fsm.Fire(triggerFinish); err != nil {
		logger.ForUser(userID).Warn("generation state machine fire error", "error", err)
	}
}

// UserMessage maps any operation error to the fixed, non-technical string
// shown to the user.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrBusy):
		return "I'm still working on your previous request. Please wait for it to finish."
	case errors.Is(err, ErrNoLastResponse):
		return "There's no previous response to continue from."
	case errors.Is(err, ErrNothingToReroll):
		return "There's no response to re-roll yet."
	default:
		return llm.UserMessage(err)
	}
}
