package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"trivia-match-service/internal/domain"
	"trivia-match-service/internal/infra/memory"
)

var t0 = time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

var errBankDown = errors.New("bank unavailable")

// scriptedBank serves q1..qN (correct index 0) for regular rounds and "tb" (correct index 2)
// for tiebreakers. failNext makes the next calls fail.
type scriptedBank struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (b *scriptedBank) SampleRandom(_ context.Context, count int) ([]domain.BankQuestion, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.failures > 0 {
		b.failures--
		return nil, errBankDown
	}
	if count == 1 {
		return []domain.BankQuestion{{
			Question:     domain.Question{ID: "tb", Text: "tiebreaker", Options: []string{"a", "b", "c", "d"}},
			CorrectIndex: 2,
		}}, nil
	}
	out := make([]domain.BankQuestion, count)
	for i := range out {
		out[i] = domain.BankQuestion{
			Question:     domain.Question{ID: fmt.Sprintf("q%d", i+1), Text: fmt.Sprintf("question %d", i+1), Options: []string{"a", "b", "c", "d"}},
			CorrectIndex: 0,
		}
	}
	return out, nil
}

func (b *scriptedBank) failNext(n int) {
	b.mu.Lock()
	b.failures = n
	b.mu.Unlock()
}

// flakyStore wraps the in-memory store, counts reads and can be told to reject writes.
type flakyStore struct {
	*memory.MatchStore
	failWrites atomic.Bool
	reads      atomic.Int64
}

func (s *flakyStore) FindByID(ctx context.Context, matchID string) (domain.MatchSnapshot, bool, error) {
	s.reads.Add(1)
	return s.MatchStore.FindByID(ctx, matchID)
}

func (s *flakyStore) Upsert(ctx context.Context, snapshot domain.MatchSnapshot) error {
	if s.failWrites.Load() {
		return errors.New("store unavailable")
	}
	return s.MatchStore.Upsert(ctx, snapshot)
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []domain.MatchSnapshot
}

func (b *recordingBroadcaster) PublishMatch(_ string, snapshot domain.MatchSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, snapshot)
}

func (b *recordingBroadcaster) count(matchID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.MatchID == matchID {
			n++
		}
	}
	return n
}

func (b *recordingBroadcaster) last(matchID string) (domain.MatchSnapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.events) - 1; i >= 0; i-- {
		if b.events[i].MatchID == matchID {
			return b.events[i], true
		}
	}
	return domain.MatchSnapshot{}, false
}

type fixture struct {
	registry *Registry
	store    *flakyStore
	bank     *scriptedBank
	ledger   *memory.RewardLedger
	events   *recordingBroadcaster
	clock    *clockwork.FakeClock
}

func newFixture(t *testing.T, opts ...RegistryOption) *fixture {
	t.Helper()
	f := &fixture{
		store:  &flakyStore{MatchStore: memory.NewMatchStore()},
		bank:   &scriptedBank{},
		ledger: memory.NewRewardLedger(),
		events: &recordingBroadcaster{},
		clock:  clockwork.NewFakeClockAt(t0),
	}
	var seq atomic.Int64
	factory := NewTriviaFactory(f.bank, f.ledger, f.clock, domain.TiebreakerWindow, nil)
	all := append([]RegistryOption{
		WithGameFactory(factory),
		WithBroadcaster(f.events),
		WithClock(f.clock),
		WithIDGenerator(func() string { return fmt.Sprintf("match-%d", seq.Add(1)) }),
	}, opts...)
	f.registry = NewRegistry(f.store, all...)
	t.Cleanup(f.registry.Close)
	return f
}

func (f *fixture) ctx() context.Context { return context.Background() }

// waiting creates a match by alice with the given players seated.
func (f *fixture) waiting(t *testing.T, players ...string) string {
	t.Helper()
	id, err := f.registry.CreateMatch(f.ctx(), domain.GameKindTrivia, "alice")
	require.NoError(t, err)
	for _, p := range players {
		_, err := f.registry.Join(f.ctx(), id, p)
		require.NoError(t, err)
	}
	return id
}

func (f *fixture) started(t *testing.T) string {
	t.Helper()
	id := f.waiting(t, "alice", "bob")
	_, err := f.registry.Start(f.ctx(), id)
	require.NoError(t, err)
	return id
}

func (f *fixture) answer(t *testing.T, id, player, questionID string, idx int) domain.MatchSnapshot {
	t.Helper()
	snap, err := f.registry.ApplyAnswer(f.ctx(), id, player, domain.Move{QuestionID: questionID, AnswerIndex: idx})
	require.NoError(t, err)
	return snap
}

// playRegular answers all regular questions; the scripted bank's correct index is always 0.
func (f *fixture) playRegular(t *testing.T, id string, aliceCorrect, bobCorrect bool) domain.MatchSnapshot {
	t.Helper()
	pick := func(correct bool) int {
		if correct {
			return 0
		}
		return 1
	}
	var snap domain.MatchSnapshot
	for i := 1; i <= domain.RegularQuestionCount; i++ {
		qid := fmt.Sprintf("q%d", i)
		f.answer(t, id, "alice", qid, pick(aliceCorrect))
		snap = f.answer(t, id, "bob", qid, pick(bobCorrect))
	}
	return snap
}

// tiebreaker starts a match and plays it level so the tiebreaker is armed.
func (f *fixture) tiebreaker(t *testing.T) string {
	t.Helper()
	id := f.started(t)
	snap := f.playRegular(t, id, true, true)
	require.True(t, snap.Trivia.IsTiebreaker)
	return id
}

func (f *fixture) stored(t *testing.T, id string) domain.MatchSnapshot {
	t.Helper()
	snap, ok, err := f.store.FindByID(f.ctx(), id)
	require.NoError(t, err)
	require.True(t, ok)
	return snap
}
