package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testStore(preloadEnabled bool) *Store {
	return NewStore(StoreConfig{
		Defaults:    Params{Model: "magnum-72b", Temperature: 1.0, TopP: 1.0, MaxTokens: 200},
		Budgets:     map[string]int{"magnum-72b": 16384, "goliath-120b": 6144},
		Personality: "You are Selene.",
		Preload: []Turn{
			{Role: RoleUser, Content: "alice: hi"},
			{Role: RoleAssistant, Content: "Hello!"},
		},
		PreloadEnabled: preloadEnabled,
	})
}

func TestGetOrCreate_InitializesPinnedPrefix(t *testing.T) {
	store := testStore(true)
	sess := store.GetOrCreate("u1", "alice")

	history := sess.History()
	require.Len(t, history, 3)
	require.Equal(t, RoleSystem, history[0].Role)
	require.Contains(t, history[0].Content, "You are Selene.")
	require.Contains(t, history[0].Content, "You are talking to user 'alice'.")
	require.Equal(t, 3, sess.PinnedLen())

	// Second call returns the same session, no duplicated prefix.
	again := store.GetOrCreate("u1", "alice")
	require.Same(t, sess, again)
	require.Len(t, again.History(), 3)
}

func TestGetOrCreate_PreloadDisabled(t *testing.T) {
	store := testStore(false)
	sess := store.GetOrCreate("u1", "")

	require.Len(t, sess.History(), 1)
	require.Equal(t, 1, sess.PinnedLen())
	require.Equal(t, "You are Selene.", sess.History()[0].Content)
}

func TestAppendOrReplaceAssistant(t *testing.T) {
	store := testStore(false)
	sess := store.GetOrCreate("u1", "")

	sess.AppendUser("hello")
	sess.AppendOrReplaceAssistant("first")
	require.Len(t, sess.History(), 3)

	// Trailing turn is an assistant turn, so the content is replaced.
	sess.AppendOrReplaceAssistant("second")
	history := sess.History()
	require.Len(t, history, 3)
	require.Equal(t, "second", history[2].Content)

	last, ok := sess.LastResponse()
	require.True(t, ok)
	require.Equal(t, "second", last)
}

func TestCommitExchange_AppendsBothTurns(t *testing.T) {
	store := testStore(false)
	sess := store.GetOrCreate("u1", "")

	sess.CommitExchange("hello", "alice: hello", "Hi there.")
	history := sess.History()
	require.Len(t, history, 3)
	require.Equal(t, Turn{Role: RoleUser, Content: "alice: hello"}, history[1])
	require.Equal(t, Turn{Role: RoleAssistant, Content: "Hi there."}, history[2])

	prompt, ok := sess.PendingPrompt()
	require.True(t, ok)
	require.Equal(t, "hello", prompt)
}

func TestAppendToLastResponse(t *testing.T) {
	store := testStore(false)
	sess := store.GetOrCreate("u1", "")
	sess.CommitExchange("hello", "hello", "First part.")

	combined := sess.AppendToLastResponse("Second part.")
	require.Equal(t, "First part.\n\nSecond part.", combined)

	history := sess.History()
	require.Equal(t, combined, history[len(history)-1].Content)
	last, _ := sess.LastResponse()
	require.Equal(t, combined, last)
}

func TestClear_ResetsToPinnedPrefix(t *testing.T) {
	store := testStore(true)
	sess := store.GetOrCreate("u1", "alice")
	sess.CommitExchange("hello", "hello", "Hi there.")
	sess.SetDisplayedRef("msg-1")
	require.NoError(t, store.SaveRerollSnapshot(sess))

	store.Clear("u1")

	require.Len(t, sess.History(), sess.PinnedLen())
	_, ok := sess.LastResponse()
	require.False(t, ok)
	_, ok = sess.PendingPrompt()
	require.False(t, ok)
	_, ok = sess.DisplayedRef()
	require.False(t, ok)

	// The snapshot was discarded, so a new one can be taken.
	require.NoError(t, store.SaveRerollSnapshot(sess))
}

func TestClear_UnknownUserIsNoop(t *testing.T) {
	store := testStore(false)
	store.Clear("nobody")
	require.Nil(t, store.Lookup("nobody"))
}

func TestParamsFor_MergesOverrides(t *testing.T) {
	store := testStore(false)
	sess := store.GetOrCreate("u1", "")

	require.Equal(t, store.Defaults(), store.ParamsFor(sess))

	temp := float32(0.5)
	sess.ApplyOverrides(Overrides{Temperature: &temp})
	p := store.ParamsFor(sess)
	require.Equal(t, float32(0.5), p.Temperature)
	require.Equal(t, float32(1.0), p.TopP)

	// Other users are untouched.
	other := store.GetOrCreate("u2", "")
	require.Equal(t, float32(1.0), store.ParamsFor(other).Temperature)
}

func TestSetDefaults_ReplacesTableAsWhole(t *testing.T) {
	store := testStore(false)
	sess := store.GetOrCreate("u1", "")
	temp := float32(0.5)
	sess.ApplyOverrides(Overrides{Temperature: &temp})

	store.SetDefaults(Params{Model: "goliath-120b", Temperature: 0.9, TopP: 0.8})

	p := store.ParamsFor(sess)
	require.Equal(t, "goliath-120b", p.Model)
	require.Equal(t, float32(0.5), p.Temperature, "override survives a defaults reload")
	require.Equal(t, float32(0.8), p.TopP)
}

func TestRerollSnapshot_SaveAndRestore(t *testing.T) {
	store := testStore(false)
	sess := store.GetOrCreate("u1", "")

	require.NoError(t, store.SaveRerollSnapshot(sess))
	require.ErrorIs(t, store.SaveRerollSnapshot(sess), ErrSnapshotHeld)

	// Boost, then restore: the pre-boost values come back.
	temp, topP := float32(1.1), float32(1.0)
	sess.ApplyOverrides(Overrides{Temperature: &temp, TopP: &topP})
	sess.RestoreRerollSnapshot()

	p := store.ParamsFor(sess)
	require.Equal(t, float32(1.0), p.Temperature)
	require.Equal(t, float32(1.0), p.TopP)

	// Snapshot slot is free again.
	require.NoError(t, store.SaveRerollSnapshot(sess))
}

func TestBudgetFor(t *testing.T) {
	store := testStore(false)
	require.Equal(t, 6144, store.BudgetFor("goliath-120b"))
	require.Equal(t, defaultTokenBudget, store.BudgetFor("unknown-model"))
}
