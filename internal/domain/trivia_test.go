package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

func bankQuestions(prefix string, n int) []BankQuestion {
	qs := make([]BankQuestion, n)
	for i := range qs {
		qs[i] = BankQuestion{
			Question: Question{
				ID:      fmt.Sprintf("%s%d", prefix, i),
				Text:    fmt.Sprintf("question %d", i),
				Options: []string{"a", "b", "c", "d"},
			},
			CorrectIndex: i % OptionCount,
		}
	}
	return qs
}

func startedMatch(t *testing.T) *TriviaMatch {
	t.Helper()
	m := NewTriviaMatch("m1", "alice", t0)
	require.NoError(t, m.Join("alice", t0))
	require.NoError(t, m.Join("bob", t0))
	require.NoError(t, m.Start(bankQuestions("q", RegularQuestionCount), t0))
	return m
}

func wrong(correct int) int { return (correct + 1) % OptionCount }

// playRegular answers every regular question; p1Correct/p2Correct decide per index.
func playRegular(t *testing.T, m *TriviaMatch, p1Correct, p2Correct func(i int) bool) AnswerOutcome {
	t.Helper()
	var last AnswerOutcome
	for i := 0; i < RegularQuestionCount; i++ {
		snap := m.Snapshot(true)
		qid := snap.Trivia.Questions[i].ID
		correct := snap.Trivia.CorrectAnswers[i]
		a1, a2 := wrong(correct), wrong(correct)
		if p1Correct(i) {
			a1 = correct
		}
		if p2Correct(i) {
			a2 = correct
		}
		_, err := m.ApplyAnswer("alice", Move{QuestionID: qid, AnswerIndex: a1}, t0)
		require.NoError(t, err)
		last, err = m.ApplyAnswer("bob", Move{QuestionID: qid, AnswerIndex: a2}, t0)
		require.NoError(t, err)
	}
	return last
}

func always(int) bool { return true }
func never(int) bool  { return false }

func TestJoinAssignsSlotsInOrder(t *testing.T) {
	m := NewTriviaMatch("m1", "alice", t0)
	require.NoError(t, m.Join("alice", t0))
	require.NoError(t, m.Join("bob", t0))

	snap := m.Snapshot(false)
	assert.Equal(t, []string{"alice", "bob"}, snap.Players)
	assert.Equal(t, "alice", snap.Trivia.Player1)
	assert.Equal(t, "bob", snap.Trivia.Player2)

	assert.ErrorIs(t, m.Join("alice", t0), ErrAlreadyJoined)
	assert.ErrorIs(t, m.Join("carol", t0), ErrMatchFull)
}

func TestJoinRejectsEmptyPlayer(t *testing.T) {
	m := NewTriviaMatch("m1", "alice", t0)
	before := m.Revision()

	assert.ErrorIs(t, m.Join("", t0), ErrInvalidPlayer)
	assert.Empty(t, m.Players())
	assert.Equal(t, before, m.Revision())
	assert.True(t, IsValidation(ErrInvalidPlayer))
}

func TestJoinRefusedAfterStart(t *testing.T) {
	m := startedMatch(t)
	assert.ErrorIs(t, m.Join("carol", t0), ErrAlreadyStarted)
}

func TestLeaveWhileWaitingFreesSlot(t *testing.T) {
	m := NewTriviaMatch("m1", "alice", t0)
	require.NoError(t, m.Join("alice", t0))
	require.NoError(t, m.Leave("alice", t0))

	assert.Equal(t, StatusWaitingToStart, m.Status())
	assert.Empty(t, m.Players())
	assert.ErrorIs(t, m.Leave("alice", t0), ErrNotInMatch)

	// Freed slot 1 is preferred again.
	require.NoError(t, m.Join("bob", t0))
	assert.Equal(t, "bob", m.Snapshot(false).Trivia.Player1)
}

func TestLeaveInProgressEndsMatch(t *testing.T) {
	m := startedMatch(t)
	require.NoError(t, m.Leave("bob", t0))

	snap := m.Snapshot(false)
	assert.Equal(t, StatusOver, snap.Status)
	assert.Equal(t, []string{"alice"}, snap.Winners)
	assert.Equal(t, []string{"alice"}, snap.Players)
	assert.ErrorIs(t, m.Leave("alice", t0), ErrMatchOver)
}

func TestStartPreconditions(t *testing.T) {
	m := NewTriviaMatch("m1", "alice", t0)
	require.NoError(t, m.Join("alice", t0))
	assert.ErrorIs(t, m.Start(bankQuestions("q", RegularQuestionCount), t0), ErrInsufficientPlayers)

	require.NoError(t, m.Join("bob", t0))
	assert.ErrorIs(t, m.Start(bankQuestions("q", 3), t0), ErrNotEnoughQuestions)
	assert.Equal(t, StatusWaitingToStart, m.Status())

	require.NoError(t, m.Start(bankQuestions("q", RegularQuestionCount), t0))
	assert.ErrorIs(t, m.Start(bankQuestions("q", RegularQuestionCount), t0), ErrNotWaiting)

	snap := m.Snapshot(false)
	assert.Equal(t, StatusInProgress, snap.Status)
	assert.Len(t, snap.Trivia.Questions, RegularQuestionCount)
	assert.Nil(t, snap.Trivia.CorrectAnswers)
	assert.Equal(t, 0, snap.Trivia.CurrentQuestionIndex)
}

func TestApplyAnswerValidation(t *testing.T) {
	m := startedMatch(t)
	q0 := m.Snapshot(false).Trivia.Questions[0].ID

	tests := []struct {
		name   string
		player string
		move   Move
		want   error
	}{
		{"stranger", "carol", Move{QuestionID: q0, AnswerIndex: 0}, ErrPlayerNotInMatch},
		{"negative index", "alice", Move{QuestionID: q0, AnswerIndex: -1}, ErrAnswerOutOfRange},
		{"index too large", "alice", Move{QuestionID: q0, AnswerIndex: 4}, ErrAnswerOutOfRange},
		{"wrong question", "alice", Move{QuestionID: "q5", AnswerIndex: 0}, ErrInvalidQuestionID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.ApplyAnswer(tt.player, tt.move, t0)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := m.ApplyAnswer("alice", Move{QuestionID: q0, AnswerIndex: 0}, t0)
	require.NoError(t, err)
	_, err = m.ApplyAnswer("alice", Move{QuestionID: q0, AnswerIndex: 1}, t0)
	assert.ErrorIs(t, err, ErrAlreadyAnswered)

	waiting := NewTriviaMatch("m2", "alice", t0)
	_, err = waiting.ApplyAnswer("alice", Move{QuestionID: q0}, t0)
	assert.ErrorIs(t, err, ErrNotInProgress)
}

func TestScoreOnlyIncreasesOnCorrectAnswer(t *testing.T) {
	m := startedMatch(t)
	snap := m.Snapshot(true)
	q0, correct := snap.Trivia.Questions[0].ID, snap.Trivia.CorrectAnswers[0]

	out, err := m.ApplyAnswer("alice", Move{QuestionID: q0, AnswerIndex: correct}, t0)
	require.NoError(t, err)
	assert.True(t, out.Correct)
	out, err = m.ApplyAnswer("bob", Move{QuestionID: q0, AnswerIndex: wrong(correct)}, t0)
	require.NoError(t, err)
	assert.False(t, out.Correct)

	snap = m.Snapshot(false)
	assert.Equal(t, 1, snap.Trivia.Player1Score)
	assert.Equal(t, 0, snap.Trivia.Player2Score)
}

func TestAdvanceIsOrderIndependent(t *testing.T) {
	for _, order := range [][]string{{"alice", "bob"}, {"bob", "alice"}} {
		t.Run(order[0]+" first", func(t *testing.T) {
			m := startedMatch(t)
			q0 := m.Snapshot(false).Trivia.Questions[0].ID

			out, err := m.ApplyAnswer(order[0], Move{QuestionID: q0, AnswerIndex: 0}, t0)
			require.NoError(t, err)
			assert.False(t, out.Advanced)
			assert.Equal(t, 0, m.Snapshot(false).Trivia.CurrentQuestionIndex)

			out, err = m.ApplyAnswer(order[1], Move{QuestionID: q0, AnswerIndex: 0}, t0)
			require.NoError(t, err)
			assert.True(t, out.Advanced)

			snap := m.Snapshot(false)
			assert.Equal(t, 1, snap.Trivia.CurrentQuestionIndex)
			assert.Equal(t, []int{0}, snap.Trivia.Player1Answers)
			assert.Equal(t, []int{0}, snap.Trivia.Player2Answers)
			assert.Equal(t, 1, snap.Trivia.Player1Score)
			assert.Equal(t, 1, snap.Trivia.Player2Score)
		})
	}
}

func TestRegularPlayWinner(t *testing.T) {
	m := startedMatch(t)
	last := playRegular(t, m, always, never)

	snap := m.Snapshot(false)
	assert.Equal(t, StatusOver, snap.Status)
	assert.Equal(t, []string{"alice"}, snap.Winners)
	assert.Equal(t, 10, snap.Trivia.Player1Score)
	assert.Equal(t, 0, snap.Trivia.Player2Score)
	assert.False(t, last.TiebreakerDue)
	assert.Equal(t, []Award{{"alice", WinnerPoints}, {"bob", LoserPoints}}, last.Awards)
}

func armedTiebreaker(t *testing.T) *TriviaMatch {
	t.Helper()
	m := startedMatch(t)
	last := playRegular(t, m, always, always)
	require.True(t, last.TiebreakerDue)
	require.True(t, m.TiebreakerDue())
	require.NoError(t, m.ArmTiebreaker(BankQuestion{
		Question:     Question{ID: "tb", Text: "sudden death", Options: []string{"a", "b", "c", "d"}},
		CorrectIndex: 2,
	}, t0))
	return m
}

func TestTiebreakerTrigger(t *testing.T) {
	m := armedTiebreaker(t)
	snap := m.Snapshot(false)
	assert.True(t, snap.Trivia.IsTiebreaker)
	assert.Len(t, snap.Trivia.Questions, RegularQuestionCount+1)
	assert.Equal(t, StatusInProgress, snap.Status)
	assert.Equal(t, RegularQuestionCount, snap.Trivia.CurrentQuestionIndex)
	require.NotNil(t, snap.Trivia.TiebreakerStartTime)
	assert.True(t, snap.Trivia.TiebreakerStartTime.Equal(t0))
	assert.False(t, m.TiebreakerDue())

	deadline, ok := m.TiebreakerDeadline(TiebreakerWindow)
	assert.True(t, ok)
	assert.True(t, deadline.Equal(t0.Add(TiebreakerWindow)))
}

func TestTiebreakerBothAnswered(t *testing.T) {
	tests := []struct {
		name    string
		alice   int
		bob     int
		winners []string
		awards  []Award
	}{
		{"alice correct", 2, 1, []string{"alice"}, []Award{{"alice", 10}, {"bob", 2}}},
		{"bob correct", 0, 2, []string{"bob"}, []Award{{"bob", 10}, {"alice", 2}}},
		{"both correct", 2, 2, []string{"alice", "bob"}, []Award{{"alice", 10}, {"bob", 10}}},
		{"both wrong", 0, 1, []string{"alice", "bob"}, []Award{{"alice", 10}, {"bob", 10}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := armedTiebreaker(t)
			out, err := m.ApplyAnswer("alice", Move{QuestionID: "tb", AnswerIndex: tt.alice}, t0)
			require.NoError(t, err)
			assert.Empty(t, out.Awards)

			_, err = m.ApplyAnswer("alice", Move{QuestionID: "tb", AnswerIndex: tt.alice}, t0)
			assert.ErrorIs(t, err, ErrAlreadyAnswered)

			out, err = m.ApplyAnswer("bob", Move{QuestionID: "tb", AnswerIndex: tt.bob}, t0)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.awards, out.Awards)
			assert.Equal(t, StatusOver, m.Status())
			assert.Equal(t, tt.winners, m.Snapshot(false).Winners)
		})
	}
}

func TestTiebreakerRejectsRegularQuestionID(t *testing.T) {
	m := armedTiebreaker(t)
	_, err := m.ApplyAnswer("alice", Move{QuestionID: "q9", AnswerIndex: 0}, t0)
	assert.ErrorIs(t, err, ErrInvalidQuestionID)
}

func TestTiebreakerDeadline(t *testing.T) {
	late := t0.Add(11 * time.Second)

	t.Run("not yet expired", func(t *testing.T) {
		m := armedTiebreaker(t)
		_, err := m.ResolveTiebreakerDeadline(t0.Add(5*time.Second), TiebreakerWindow)
		assert.ErrorIs(t, err, ErrTiebreakerNotExpired)
		assert.Equal(t, StatusInProgress, m.Status())
	})

	t.Run("zero answers is a tie", func(t *testing.T) {
		m := armedTiebreaker(t)
		awarded, err := m.ResolveTiebreakerDeadline(late, TiebreakerWindow)
		require.NoError(t, err)
		assert.Equal(t, StatusOver, m.Status())
		assert.Equal(t, []string{"alice", "bob"}, m.Snapshot(false).Winners)
		assert.Len(t, awarded, 2)
	})

	t.Run("lone correct answer wins", func(t *testing.T) {
		m := armedTiebreaker(t)
		_, err := m.ApplyAnswer("bob", Move{QuestionID: "tb", AnswerIndex: 2}, t0)
		require.NoError(t, err)
		awarded, err := m.ResolveTiebreakerDeadline(late, TiebreakerWindow)
		require.NoError(t, err)
		assert.Equal(t, []string{"bob"}, m.Snapshot(false).Winners)
		assert.ElementsMatch(t, []Award{{"bob", 10}, {"alice", 2}}, awarded)
	})

	t.Run("lone wrong answer is a tie", func(t *testing.T) {
		m := armedTiebreaker(t)
		_, err := m.ApplyAnswer("alice", Move{QuestionID: "tb", AnswerIndex: 3}, t0)
		require.NoError(t, err)
		_, err = m.ResolveTiebreakerDeadline(late, TiebreakerWindow)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob"}, m.Snapshot(false).Winners)
	})

	t.Run("already resolved", func(t *testing.T) {
		m := armedTiebreaker(t)
		_, err := m.ResolveTiebreakerDeadline(late, TiebreakerWindow)
		require.NoError(t, err)
		_, err = m.ResolveTiebreakerDeadline(late, TiebreakerWindow)
		assert.ErrorIs(t, err, ErrNotInProgress)
	})
}

func TestRestoreRoundTrip(t *testing.T) {
	m := armedTiebreaker(t)
	_, err := m.ApplyAnswer("alice", Move{QuestionID: "tb", AnswerIndex: 1}, t0)
	require.NoError(t, err)

	restored, err := RestoreTriviaMatch(m.Snapshot(true))
	require.NoError(t, err)
	assert.Equal(t, m.Snapshot(true), restored.Snapshot(true))
	assert.Equal(t, m.Snapshot(false), restored.Snapshot(false))

	// Hidden answers survive, so the restored match can still resolve.
	_, err = restored.ApplyAnswer("bob", Move{QuestionID: "tb", AnswerIndex: 2}, t0)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, restored.Snapshot(false).Winners)
}

func TestRestoreRejectsOtherKinds(t *testing.T) {
	_, err := RestoreTriviaMatch(MatchSnapshot{MatchID: "x", GameKind: "chess"})
	assert.ErrorIs(t, err, ErrUnsupportedGameKind)
}

func TestForceEnd(t *testing.T) {
	m := startedMatch(t)
	m.ForceEnd("bob", t0)
	assert.Equal(t, StatusOver, m.Status())
	assert.Equal(t, []string{"bob"}, m.Snapshot(false).Winners)
}

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(fmt.Errorf("wrapped: %w", ErrAlreadyAnswered)))
	assert.True(t, IsValidation(ErrMatchNotFound))
	assert.False(t, IsValidation(ErrQuestionFetchFailed))
}
