package http

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trivia-match-service/internal/domain"
)

func TestHubPresence(t *testing.T) {
	hub := NewHub()
	_, cancelA := hub.Subscribe("m1", "alice")
	_, cancelB := hub.Subscribe("m1", "alice")

	assert.True(t, hub.Online("m1", "alice"))
	assert.False(t, hub.Online("m1", "bob"))
	assert.False(t, hub.Online("m2", "alice"))

	cancelA()
	assert.True(t, hub.Online("m1", "alice"), "second connection keeps alice online")
	cancelB()
	cancelB()
	assert.False(t, hub.Online("m1", "alice"))
	assert.Zero(t, hub.Subscribers("m1"))
}

func TestHubDropsOldestForSlowSubscriber(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("m1", "alice")
	defer cancel()

	for i := 0; i < subscriberBuffer+5; i++ {
		hub.PublishMatch("m1", domain.MatchSnapshot{MatchID: "m1", Players: make([]string, i)})
	}
	require.Len(t, ch, subscriberBuffer)

	var last outboundMessage[any]
	for len(ch) > 0 {
		last = <-ch
	}
	snap, ok := last.Payload.(domain.MatchSnapshot)
	require.True(t, ok)
	assert.Len(t, snap.Players, subscriberBuffer+4)
}

func TestHubErrorIsScopedToMatch(t *testing.T) {
	hub := NewHub()
	m1, cancel1 := hub.Subscribe("m1", "alice")
	defer cancel1()
	m2, cancel2 := hub.Subscribe("m2", "bob")
	defer cancel2()

	hub.PublishError("m1", "alice", "invalid question id")

	require.Len(t, m1, 1)
	assert.Empty(t, m2)
	msg := <-m1
	assert.Equal(t, "matchError", msg.Type)
	assert.Equal(t, matchErrorPayload{PlayerID: "alice", ErrorMessage: "invalid question id"}, msg.Payload)
}
