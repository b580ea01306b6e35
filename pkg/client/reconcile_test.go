package client

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashika-verma/highschool-presentation/pkg/protocol"
)

// The client is never connected in these tests, so every outbound action
// lands in the offline queue where it can be inspected.
func newReconcilerFixture(t *testing.T) (*Client, *Reconciler, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	c := New(Options{
		Logger: newTestLogger(),
		Dial:   func(context.Context) (Conn, error) { panic("unreachable") },
	})
	r := NewReconciler(newTestLogger(), c, fc)
	t.Cleanup(r.Detach)
	return c, r, fc
}

func publish(c *Client, raw string) {
	var env protocol.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		panic(err)
	}
	c.Bus().Publish(env.Type, json.RawMessage(raw))
}

func queuedKinds(c *Client) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.queue))
	for i, a := range c.queue {
		out[i] = a.kind
	}
	return out
}

const welcomeJSON = `{
	"type":"welcome","mode":"color","participantCount":3,"totalChangeCount":12,
	"sharedColor":"#ff6eb4",
	"reactionCounts":{"❤️":4,"👏":0,"👀":1,"🔥":0,"😂":2},
	"textEntries":[{"name":"Mia","text":"hello","color":"#112233"},{"name":"Zoe","text":"hi all","color":"#445566"}],
	"questionEntries":[{"name":"Mia","text":"when is lunch","color":"#112233"}],
	"roster":[{"name":"Mia","color":"#112233","changeCount":5}]
}`

func TestWelcomeReplacesViewWholesale(t *testing.T) {
	c, r, _ := newReconcilerFixture(t)

	publish(c, welcomeJSON)

	v := r.View()
	assert.Equal(t, "color", v.Mode)
	assert.Equal(t, 3, v.ParticipantCount)
	assert.Equal(t, 12, v.TotalChangeCount)
	assert.Equal(t, "#ff6eb4", v.SharedColor)
	assert.Equal(t, 4, v.ReactionCounts["❤️"])
	require.Len(t, v.TextEntries, 2)
	require.Len(t, v.QuestionEntries, 1)
	require.Len(t, v.Roster, 1)

	// a second identical snapshot must not double anything
	publish(c, welcomeJSON)

	v = r.View()
	assert.Len(t, v.TextEntries, 2)
	assert.Len(t, v.QuestionEntries, 1)
	assert.Equal(t, 12, v.TotalChangeCount)
}

func TestRejoinSentAfterReconnectWelcome(t *testing.T) {
	c, r, _ := newReconcilerFixture(t)

	require.True(t, r.Join("Ana", "#FF0000"))
	publish(c, `{"type":"joined","participantCount":1}`)

	// the next welcome means the server forgot us
	publish(c, welcomeJSON)

	assert.Equal(t, []string{"join", "join"}, queuedKinds(c))

	c.mu.Lock()
	rejoin := c.queue[1]
	c.mu.Unlock()
	var j protocol.Join
	require.NoError(t, json.Unmarshal(rejoin.payload, &j))
	assert.Equal(t, "Ana", j.Name)
	assert.Equal(t, "#ff0000", j.Color)
}

func TestNoRejoinBeforeFirstJoinCompletes(t *testing.T) {
	c, r, _ := newReconcilerFixture(t)

	require.True(t, r.Join("Ana", "#ff0000"))
	// no joined ack yet, so the welcome is the first connection's snapshot
	publish(c, welcomeJSON)

	assert.Equal(t, []string{"join"}, queuedKinds(c))
}

func TestJoinRejectsInvalidInput(t *testing.T) {
	c, r, _ := newReconcilerFixture(t)

	assert.False(t, r.Join("   ", "#ff0000"))
	assert.False(t, r.Join("Ana", "red"))
	assert.Empty(t, queuedKinds(c))
}

func TestOwnEchoConsumedExactlyOnce(t *testing.T) {
	c, r, _ := newReconcilerFixture(t)

	require.True(t, r.Join("Ana", "#ff0000"))
	publish(c, `{"type":"joined","participantCount":1}`)
	require.True(t, r.SubmitText("big day today"))

	require.Len(t, r.View().TextEntries, 1, "optimistic insert is immediate")

	echo := `{"type":"text","name":"Ana","text":"big day today","color":"#ff0000"}`
	publish(c, echo)
	assert.Len(t, r.View().TextEntries, 1, "echo of our own submission is consumed")

	// same name and text again is a genuine new event, not our echo
	publish(c, echo)
	assert.Len(t, r.View().TextEntries, 2)
}

func TestOtherSendersEntriesAlwaysApply(t *testing.T) {
	c, r, _ := newReconcilerFixture(t)

	publish(c, `{"type":"text","name":"Mia","text":"hello","color":"#112233"}`)
	publish(c, `{"type":"question","name":"Mia","text":"why","color":"#112233"}`)

	v := r.View()
	require.Len(t, v.TextEntries, 1)
	assert.Equal(t, "Mia", v.TextEntries[0].Name)
	require.Len(t, v.QuestionEntries, 1)
	assert.Equal(t, "why", v.QuestionEntries[0].Text)
}

func TestDedupKeysClearAfterModeChange(t *testing.T) {
	c, r, fc := newReconcilerFixture(t)

	require.True(t, r.Join("Ana", "#ff0000"))
	publish(c, `{"type":"joined","participantCount":1}`)
	require.True(t, r.SubmitText("hello"))

	publish(c, `{"type":"mode","mode":"text"}`)
	fc.Advance(dedupClearDelay)

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.pendingText) == 0
	}, time.Second, time.Millisecond, "pending keys clear shortly after a mode change")

	// the late echo now lands as a visible duplicate, the documented tradeoff
	publish(c, `{"type":"text","name":"Ana","text":"hello","color":"#ff0000"}`)
	assert.Len(t, r.View().TextEntries, 2)
}

func TestLocalRateLimitsMirrorServerWindows(t *testing.T) {
	_, r, fc := newReconcilerFixture(t)

	require.True(t, r.Join("Ana", "#ff0000"))

	assert.True(t, r.SetColor("#00ff00"))
	assert.False(t, r.SetColor("#0000ff"), "inside the color window")
	fc.Advance(colorWindow)
	assert.True(t, r.SetColor("#0000ff"))

	assert.True(t, r.SubmitText("one"))
	assert.False(t, r.SubmitText("two"), "inside the text window")
	fc.Advance(textWindow)
	assert.True(t, r.SubmitText("two"))

	assert.True(t, r.SubmitQuestion("why one"))
	assert.False(t, r.SubmitQuestion("why two"), "inside the question window")
	fc.Advance(questionWindow)
	assert.True(t, r.SubmitQuestion("why two"))
}

func TestLocalColorChangeAppliesOptimistically(t *testing.T) {
	c, r, _ := newReconcilerFixture(t)

	publish(c, welcomeJSON)
	require.True(t, r.SetColor("#ABCDEF"))

	v := r.View()
	assert.Equal(t, "#abcdef", v.SharedColor)
	assert.Equal(t, 13, v.TotalChangeCount)
	assert.Equal(t, []string{"color"}, queuedKinds(c))
}

func TestReactionCountsTrackLocalAndRemote(t *testing.T) {
	c, r, _ := newReconcilerFixture(t)

	require.True(t, r.SendReaction("❤️"))
	assert.False(t, r.SendReaction("💣"))

	publish(c, `{"type":"reaction","name":"Mia","symbol":"❤️"}`)
	publish(c, `{"type":"reaction","name":"Mia","symbol":"🔥"}`)

	v := r.View()
	assert.Equal(t, 2, v.ReactionCounts["❤️"])
	assert.Equal(t, 1, v.ReactionCounts["🔥"])
	assert.Equal(t, []string{"reaction"}, queuedKinds(c))
}

func TestParticipantCountFollowsMembershipEvents(t *testing.T) {
	c, r, _ := newReconcilerFixture(t)

	publish(c, `{"type":"participant-joined","name":"Mia","color":"#112233","participantCount":4}`)
	assert.Equal(t, 4, r.View().ParticipantCount)

	publish(c, `{"type":"participant-left","name":"Mia","participantCount":3}`)
	assert.Equal(t, 3, r.View().ParticipantCount)
}
