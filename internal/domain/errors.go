package domain

import "errors"

// Validation errors are rejected synchronously and surfaced verbatim to the acting player.
var (
	// ErrAlreadyStarted is returned when joining a match that is no longer waiting.
	ErrAlreadyStarted = errors.New("match has already started")
	// ErrInvalidPlayer is returned when a player id is empty.
	ErrInvalidPlayer = errors.New("player id is required")
	// ErrAlreadyJoined is returned when a player tries to take a second slot.
	ErrAlreadyJoined = errors.New("player already joined this match")
	// ErrMatchFull is returned when both slots are occupied.
	ErrMatchFull = errors.New("match is full")
	// ErrNotWaiting is returned when starting a match that is not waiting to start.
	ErrNotWaiting = errors.New("match is not waiting to start")
	// ErrInsufficientPlayers is returned when starting without two players.
	ErrInsufficientPlayers = errors.New("match needs two players to start")
	// ErrNotInMatch is returned when a player leaves a match they never joined.
	ErrNotInMatch = errors.New("player is not in this match")
	// ErrNotInProgress is returned when answering a match that is not in progress.
	ErrNotInProgress = errors.New("match is not in progress")
	// ErrPlayerNotInMatch is returned when a non-participant submits an answer.
	ErrPlayerNotInMatch = errors.New("player is not a participant of this match")
	ErrAnswerOutOfRange = errors.New("answer index out of range")
	// ErrInvalidQuestionID is returned when the answer targets a question other than the current one.
	ErrInvalidQuestionID = errors.New("invalid question id")
	ErrAlreadyAnswered   = errors.New("question already answered")
	// ErrMatchOver is returned for any mutation against a terminal match.
	ErrMatchOver = errors.New("match is over")
	// ErrTiebreakerNotExpired is returned when deadline resolution runs early.
	ErrTiebreakerNotExpired = errors.New("tiebreaker deadline has not expired")
	ErrNotAuthorized        = errors.New("not authorized")
	// ErrMatchNotStale is returned when deleting a match that is still active.
	ErrMatchNotStale = errors.New("match is not stale")
)

var (
	// ErrMatchNotFound means no live or stored state exists for a match id.
	ErrMatchNotFound = errors.New("match does not exist")
	// ErrUnsupportedGameKind is returned for game kinds without a registered factory.
	ErrUnsupportedGameKind = errors.New("unsupported game kind")
)

var (
	// ErrQuestionFetchFailed wraps question bank failures during start or tiebreaker arming.
	ErrQuestionFetchFailed = errors.New("failed to fetch questions")
	// ErrNotEnoughQuestions is returned by banks that cannot satisfy a sample request.
	ErrNotEnoughQuestions = errors.New("not enough questions in bank")
)

var validationErrors = []error{
	ErrAlreadyStarted,
	ErrInvalidPlayer,
	ErrAlreadyJoined,
	ErrMatchFull,
	ErrNotWaiting,
	ErrInsufficientPlayers,
	ErrNotInMatch,
	ErrNotInProgress,
	ErrPlayerNotInMatch,
	ErrAnswerOutOfRange,
	ErrInvalidQuestionID,
	ErrAlreadyAnswered,
	ErrMatchOver,
	ErrNotAuthorized,
	ErrMatchNotStale,
	ErrMatchNotFound,
	ErrUnsupportedGameKind,
}

// IsValidation reports whether err is a client-facing validation or not-found error
// whose message can be shown to the player verbatim.
func IsValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
