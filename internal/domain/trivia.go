package domain

import (
	"fmt"
	"time"
)

const (
	// RegularQuestionCount is the number of questions answered before any tiebreaker.
	RegularQuestionCount = 10
	// OptionCount is the number of answer options per question.
	OptionCount = 4
	// TiebreakerWindow is how long players have to answer the tiebreaker question.
	TiebreakerWindow = 10 * time.Second

	WinnerPoints = 10
	LoserPoints  = 2
)

// AnswerOutcome describes what an accepted answer changed.
type AnswerOutcome struct {
	Correct bool
	// Advanced is set when both players have answered the current question.
	Advanced bool
	// TiebreakerDue is set when regular play ended level and a tiebreaker question must be armed.
	TiebreakerDue bool
	Awards        []Award
}

// TriviaMatch is the state machine for one two-player trivia match. It performs no I/O:
// questions are handed in by the caller and reward grants are returned as Awards.
// It is not safe for concurrent use.
type TriviaMatch struct {
	id        string
	createdBy string
	status    Status

	player1 string
	player2 string

	questions      []Question
	correctAnswers []int
	player1Answers []int
	player2Answers []int
	player1Score   int
	player2Score   int
	currentIndex   int

	isTiebreaker        bool
	tiebreakerStartTime *time.Time
	tiebreakerAnswer1   *int
	tiebreakerAnswer2   *int

	winners   []string
	createdAt time.Time
	updatedAt time.Time
	// revision counts in-memory mutations; it is not persisted.
	revision uint64
}

// NewTriviaMatch creates an empty match waiting for players.
func NewTriviaMatch(id, createdBy string, now time.Time) *TriviaMatch {
	return &TriviaMatch{
		id:        id,
		createdBy: createdBy,
		status:    StatusWaitingToStart,
		createdAt: now,
		updatedAt: now,
	}
}

// RestoreTriviaMatch rebuilds a match from a durable snapshot, hidden answers included.
func RestoreTriviaMatch(s MatchSnapshot) (*TriviaMatch, error) {
	if s.GameKind != GameKindTrivia {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGameKind, s.GameKind)
	}
	m := &TriviaMatch{
		id:        s.MatchID,
		createdBy: s.CreatedBy,
		status:    s.Status,
		winners:   copyStrings(s.Winners),
		createdAt: s.CreatedAt,
		updatedAt: s.UpdatedAt,
	}
	t := s.Trivia
	if t == nil {
		// Older rows may lack trivia state; fall back to the ordered player list.
		if len(s.Players) > 0 {
			m.player1 = s.Players[0]
		}
		if len(s.Players) > 1 {
			m.player2 = s.Players[1]
		}
		return m, nil
	}
	if len(t.CorrectAnswers) != len(t.Questions) {
		return nil, fmt.Errorf("restore match %s: %d questions but %d correct answers", s.MatchID, len(t.Questions), len(t.CorrectAnswers))
	}
	m.player1 = t.Player1
	m.player2 = t.Player2
	m.questions = copyQuestions(t.Questions)
	m.correctAnswers = copyInts(t.CorrectAnswers)
	m.player1Answers = copyInts(t.Player1Answers)
	m.player2Answers = copyInts(t.Player2Answers)
	m.player1Score = t.Player1Score
	m.player2Score = t.Player2Score
	m.currentIndex = t.CurrentQuestionIndex
	m.isTiebreaker = t.IsTiebreaker
	m.tiebreakerStartTime = copyTime(t.TiebreakerStartTime)
	m.tiebreakerAnswer1 = copyInt(t.TiebreakerPlayer1Answer)
	m.tiebreakerAnswer2 = copyInt(t.TiebreakerPlayer2Answer)
	return m, nil
}

func (m *TriviaMatch) ID() string        { return m.id }
func (m *TriviaMatch) CreatedBy() string { return m.createdBy }
func (m *TriviaMatch) Status() Status    { return m.status }

// UpdatedAt returns the time of the last state change.
func (m *TriviaMatch) UpdatedAt() time.Time { return m.updatedAt }

// Revision increases on every accepted mutation.
func (m *TriviaMatch) Revision() uint64 { return m.revision }

func (m *TriviaMatch) touch(now time.Time) {
	m.updatedAt = now
	m.revision++
}

// Players returns the occupied slots in slot order.
func (m *TriviaMatch) Players() []string {
	players := make([]string, 0, 2)
	if m.player1 != "" {
		players = append(players, m.player1)
	}
	if m.player2 != "" {
		players = append(players, m.player2)
	}
	return players
}

func (m *TriviaMatch) HasPlayer(player string) bool {
	return m.slot(player) != 0
}

// slot returns 1 or 2 for a seated player, 0 otherwise.
func (m *TriviaMatch) slot(player string) int {
	switch {
	case player == "":
		return 0
	case player == m.player1:
		return 1
	case player == m.player2:
		return 2
	}
	return 0
}

// Join seats player in the first free slot, player1 first.
func (m *TriviaMatch) Join(player string, now time.Time) error {
	if player == "" {
		return ErrInvalidPlayer
	}
	if m.status != StatusWaitingToStart {
		return ErrAlreadyStarted
	}
	if m.HasPlayer(player) {
		return ErrAlreadyJoined
	}
	switch {
	case m.player1 == "":
		m.player1 = player
	case m.player2 == "":
		m.player2 = player
	default:
		return ErrMatchFull
	}
	m.touch(now)
	return nil
}

// CanStart validates the start preconditions without changing state.
func (m *TriviaMatch) CanStart() error {
	if m.status != StatusWaitingToStart {
		return ErrNotWaiting
	}
	if m.player1 == "" || m.player2 == "" {
		return ErrInsufficientPlayers
	}
	return nil
}

// Start moves the match into play with the given regular questions.
func (m *TriviaMatch) Start(questions []BankQuestion, now time.Time) error {
	if err := m.CanStart(); err != nil {
		return err
	}
	if len(questions) != RegularQuestionCount {
		return fmt.Errorf("%w: want %d, got %d", ErrNotEnoughQuestions, RegularQuestionCount, len(questions))
	}
	m.questions = make([]Question, 0, RegularQuestionCount+1)
	m.correctAnswers = make([]int, 0, RegularQuestionCount+1)
	for _, q := range questions {
		m.questions = append(m.questions, copyQuestion(q.Question))
		m.correctAnswers = append(m.correctAnswers, q.CorrectIndex)
	}
	m.player1Answers = []int{}
	m.player2Answers = []int{}
	m.player1Score, m.player2Score = 0, 0
	m.currentIndex = 0
	m.status = StatusInProgress
	m.touch(now)
	return nil
}

// Leave removes player from the match. Leaving a match in play ends it and the
// remaining player, if any, wins by default.
func (m *TriviaMatch) Leave(player string, now time.Time) error {
	if m.status == StatusOver {
		return ErrMatchOver
	}
	slot := m.slot(player)
	if slot == 0 {
		return ErrNotInMatch
	}
	remaining := m.player2
	if slot == 1 {
		m.player1 = ""
	} else {
		m.player2 = ""
		remaining = m.player1
	}
	if m.status == StatusInProgress {
		m.status = StatusOver
		m.winners = nil
		if remaining != "" {
			m.winners = []string{remaining}
		}
	}
	m.touch(now)
	return nil
}

// ApplyAnswer validates and records one answer.
func (m *TriviaMatch) ApplyAnswer(player string, move Move, now time.Time) (AnswerOutcome, error) {
	if m.status != StatusInProgress {
		return AnswerOutcome{}, ErrNotInProgress
	}
	slot := m.slot(player)
	if slot == 0 {
		return AnswerOutcome{}, ErrPlayerNotInMatch
	}
	if move.AnswerIndex < 0 || move.AnswerIndex >= OptionCount {
		return AnswerOutcome{}, ErrAnswerOutOfRange
	}
	if m.isTiebreaker {
		return m.applyTiebreakerAnswer(slot, move, now)
	}
	return m.applyRegularAnswer(slot, move, now)
}

func (m *TriviaMatch) applyTiebreakerAnswer(slot int, move Move, now time.Time) (AnswerOutcome, error) {
	last := len(m.questions) - 1
	if move.QuestionID != m.questions[last].ID {
		return AnswerOutcome{}, ErrInvalidQuestionID
	}
	answer := &m.tiebreakerAnswer1
	if slot == 2 {
		answer = &m.tiebreakerAnswer2
	}
	if *answer != nil {
		return AnswerOutcome{}, ErrAlreadyAnswered
	}
	idx := move.AnswerIndex
	*answer = &idx
	m.touch(now)

	outcome := AnswerOutcome{Correct: idx == m.correctAnswers[last]}
	if m.tiebreakerAnswer1 != nil && m.tiebreakerAnswer2 != nil {
		outcome.Awards = m.resolveTiebreaker(now)
	}
	return outcome, nil
}

func (m *TriviaMatch) applyRegularAnswer(slot int, move Move, now time.Time) (AnswerOutcome, error) {
	if m.currentIndex >= len(m.questions) || move.QuestionID != m.questions[m.currentIndex].ID {
		return AnswerOutcome{}, ErrInvalidQuestionID
	}
	answers, score := &m.player1Answers, &m.player1Score
	if slot == 2 {
		answers, score = &m.player2Answers, &m.player2Score
	}
	if len(*answers) > m.currentIndex {
		return AnswerOutcome{}, ErrAlreadyAnswered
	}

	var outcome AnswerOutcome
	*answers = append(*answers, move.AnswerIndex)
	if move.AnswerIndex == m.correctAnswers[m.currentIndex] {
		*score++
		outcome.Correct = true
	}
	m.touch(now)

	if len(m.player1Answers) > m.currentIndex && len(m.player2Answers) > m.currentIndex {
		m.currentIndex++
		outcome.Advanced = true
		if m.currentIndex == RegularQuestionCount && !m.isTiebreaker {
			outcome.Awards, outcome.TiebreakerDue = m.endCheck(now)
		}
	}
	return outcome, nil
}

// endCheck runs once both players answered every regular question.
func (m *TriviaMatch) endCheck(now time.Time) ([]Award, bool) {
	if m.player1Score == m.player2Score {
		return nil, true
	}
	winner, loser := m.player1, m.player2
	if m.player2Score > m.player1Score {
		winner, loser = m.player2, m.player1
	}
	m.finish([]string{winner}, now)
	return awards(winner, loser), false
}

// TiebreakerDue reports whether regular play ended level but no tiebreaker question is armed yet.
func (m *TriviaMatch) TiebreakerDue() bool {
	return m.status == StatusInProgress &&
		!m.isTiebreaker &&
		m.currentIndex >= RegularQuestionCount &&
		m.player1Score == m.player2Score
}

// ArmTiebreaker appends the sudden-death question and starts its clock.
func (m *TriviaMatch) ArmTiebreaker(q BankQuestion, now time.Time) error {
	if !m.TiebreakerDue() {
		return ErrNotInProgress
	}
	m.questions = append(m.questions, copyQuestion(q.Question))
	m.correctAnswers = append(m.correctAnswers, q.CorrectIndex)
	m.isTiebreaker = true
	started := now
	m.tiebreakerStartTime = &started
	m.touch(now)
	return nil
}

// TiebreakerDeadline returns when the armed tiebreaker expires.
func (m *TriviaMatch) TiebreakerDeadline(window time.Duration) (time.Time, bool) {
	if m.status != StatusInProgress || !m.isTiebreaker || m.tiebreakerStartTime == nil {
		return time.Time{}, false
	}
	return m.tiebreakerStartTime.Add(window), true
}

// ResolveTiebreakerDeadline ends an expired tiebreaker with whatever answers were given.
// A lone wrong answer counts the same as no answer, so it produces a tie.
func (m *TriviaMatch) ResolveTiebreakerDeadline(now time.Time, window time.Duration) ([]Award, error) {
	deadline, ok := m.TiebreakerDeadline(window)
	if !ok {
		return nil, fmt.Errorf("%w: no tiebreaker pending", ErrNotInProgress)
	}
	if now.Before(deadline) {
		return nil, ErrTiebreakerNotExpired
	}
	return m.resolveTiebreaker(now), nil
}

// resolveTiebreaker picks a sole winner only when exactly one player answered correctly.
func (m *TriviaMatch) resolveTiebreaker(now time.Time) []Award {
	correct := m.correctAnswers[len(m.correctAnswers)-1]
	p1 := m.tiebreakerAnswer1 != nil && *m.tiebreakerAnswer1 == correct
	p2 := m.tiebreakerAnswer2 != nil && *m.tiebreakerAnswer2 == correct

	switch {
	case p1 && !p2:
		m.finish([]string{m.player1}, now)
		return awards(m.player1, m.player2)
	case p2 && !p1:
		m.finish([]string{m.player2}, now)
		return awards(m.player2, m.player1)
	}
	m.finish([]string{m.player1, m.player2}, now)
	return []Award{
		{Username: m.player1, Points: WinnerPoints},
		{Username: m.player2, Points: WinnerPoints},
	}
}

// ForceEnd ends the match immediately with winner as sole winner.
func (m *TriviaMatch) ForceEnd(winner string, now time.Time) {
	var winners []string
	if winner != "" {
		winners = []string{winner}
	}
	m.finish(winners, now)
}

func (m *TriviaMatch) finish(winners []string, now time.Time) {
	m.status = StatusOver
	m.winners = winners
	m.touch(now)
}

// Snapshot exports the current state. Hidden correct answers are included only
// when includeHidden is set, for durable storage.
func (m *TriviaMatch) Snapshot(includeHidden bool) MatchSnapshot {
	state := &TriviaState{
		Player1:                 m.player1,
		Player2:                 m.player2,
		Questions:               copyQuestions(m.questions),
		Player1Answers:          copyInts(m.player1Answers),
		Player2Answers:          copyInts(m.player2Answers),
		Player1Score:            m.player1Score,
		Player2Score:            m.player2Score,
		CurrentQuestionIndex:    m.currentIndex,
		IsTiebreaker:            m.isTiebreaker,
		TiebreakerStartTime:     copyTime(m.tiebreakerStartTime),
		TiebreakerPlayer1Answer: copyInt(m.tiebreakerAnswer1),
		TiebreakerPlayer2Answer: copyInt(m.tiebreakerAnswer2),
	}
	if includeHidden {
		state.CorrectAnswers = copyInts(m.correctAnswers)
	}
	return MatchSnapshot{
		MatchID:   m.id,
		GameKind:  GameKindTrivia,
		CreatedBy: m.createdBy,
		Players:   m.Players(),
		Status:    m.status,
		Winners:   copyStrings(m.winners),
		Trivia:    state,
		CreatedAt: m.createdAt,
		UpdatedAt: m.updatedAt,
	}
}

func awards(winner, loser string) []Award {
	out := []Award{{Username: winner, Points: WinnerPoints}}
	if loser != "" {
		out = append(out, Award{Username: loser, Points: LoserPoints})
	}
	return out
}

func copyQuestion(q Question) Question {
	q.Options = copyStrings(q.Options)
	return q
}

func copyQuestions(in []Question) []Question {
	if in == nil {
		return nil
	}
	out := make([]Question, len(in))
	for i, q := range in {
		out[i] = copyQuestion(q)
	}
	return out
}

func copyInts(in []int) []int {
	if in == nil {
		return nil
	}
	return append(make([]int, 0, len(in)), in...)
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append(make([]string, 0, len(in)), in...)
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
