package app

import (
	"context"
	"time"

	"trivia-match-service/internal/domain"
)

// Game is the capability set the Registry needs from any match variant.
// Implementations are not safe for concurrent use; the Registry serializes access.
type Game interface {
	ID() string
	Kind() domain.GameKind
	Status() domain.Status
	UpdatedAt() time.Time
	// Revision changes whenever the game state changes.
	Revision() uint64
	HasPlayer(player string) bool
	Players() []string
	Join(player string) error
	Leave(player string) error
	Start(ctx context.Context) error
	ApplyMove(ctx context.Context, player string, move domain.Move) error
	ForceEnd(winner string)
	Snapshot(includeHidden bool) domain.MatchSnapshot
}

// DeadlineGame is implemented by variants with a wall-clock deadline, such as the trivia tiebreaker.
type DeadlineGame interface {
	Game
	// DeadlineDue reports a deadline phase that has begun but is not set up yet.
	DeadlineDue() bool
	// ArmDeadline sets up a due deadline phase.
	ArmDeadline(ctx context.Context) error
	// Deadline reports the pending deadline, if any.
	Deadline() (time.Time, bool)
	ResolveDeadline(ctx context.Context) error
}

// GameFactory creates and rehydrates games of one kind.
type GameFactory interface {
	Kind() domain.GameKind
	New(matchID, createdBy string) Game
	Restore(snapshot domain.MatchSnapshot) (Game, error)
}
