package domain

import "time"

// GameKind discriminates the match variant stored in a snapshot.
type GameKind string

const (
	GameKindTrivia GameKind = "trivia"
)

// Status is the lifecycle stage of a match.
type Status string

const (
	StatusWaitingToStart Status = "WAITING_TO_START"
	StatusInProgress     Status = "IN_PROGRESS"
	StatusOver           Status = "OVER"
)

// Open reports whether the status still accepts players or moves.
func (s Status) Open() bool {
	return s == StatusWaitingToStart || s == StatusInProgress
}

// Question is the client-visible part of a trivia question.
type Question struct {
	ID      string   `json:"questionId"`
	Text    string   `json:"questionText"`
	Options []string `json:"options"`
}

// BankQuestion is a question as supplied by the question bank, including its answer.
type BankQuestion struct {
	Question
	CorrectIndex int `json:"correctIndex"`
}

// Move is a single answer submission.
type Move struct {
	QuestionID  string `json:"questionId"`
	AnswerIndex int    `json:"answerIndex"`
}

// Award is a reward grant produced when a match resolves.
type Award struct {
	Username string
	Points   int
}

// MatchSnapshot is a self-contained, serializable view of a match. It is used for
// client broadcasts (hidden fields stripped) and for durable storage.
type MatchSnapshot struct {
	MatchID   string       `json:"matchId"`
	GameKind  GameKind     `json:"gameKind"`
	CreatedBy string       `json:"createdBy"`
	Players   []string     `json:"players"`
	Status    Status       `json:"status"`
	Winners   []string     `json:"winners,omitempty"`
	Trivia    *TriviaState `json:"trivia,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// HasPlayer reports whether player occupies a slot in the snapshot.
func (s MatchSnapshot) HasPlayer(player string) bool {
	for _, p := range s.Players {
		if p == player {
			return true
		}
	}
	return false
}

// TriviaState holds the trivia-specific game fields of a snapshot.
type TriviaState struct {
	Player1                 string     `json:"player1,omitempty"`
	Player2                 string     `json:"player2,omitempty"`
	Questions               []Question `json:"questions"`
	CorrectAnswers          []int      `json:"correctAnswers,omitempty"`
	Player1Answers          []int      `json:"player1Answers"`
	Player2Answers          []int      `json:"player2Answers"`
	Player1Score            int        `json:"player1Score"`
	Player2Score            int        `json:"player2Score"`
	CurrentQuestionIndex    int        `json:"currentQuestionIndex"`
	IsTiebreaker            bool       `json:"isTiebreaker"`
	TiebreakerStartTime     *time.Time `json:"tiebreakerStartTime,omitempty"`
	TiebreakerPlayer1Answer *int       `json:"tiebreakerPlayer1Answer,omitempty"`
	TiebreakerPlayer2Answer *int       `json:"tiebreakerPlayer2Answer,omitempty"`
}
