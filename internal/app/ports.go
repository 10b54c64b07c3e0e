package app

import (
	"context"

	"trivia-match-service/internal/domain"
)

// MatchStore persists durable match snapshots (in-memory, Redis, Postgres).
type MatchStore interface {
	Upsert(ctx context.Context, snapshot domain.MatchSnapshot) error
	// FindByID returns false when no snapshot is stored for matchID.
	FindByID(ctx context.Context, matchID string) (domain.MatchSnapshot, bool, error)
	// FindOpenByPlayer returns stored matches in WAITING_TO_START or IN_PROGRESS that seat player.
	FindOpenByPlayer(ctx context.Context, player string) ([]domain.MatchSnapshot, error)
	DeleteByID(ctx context.Context, matchID string) error
}

// QuestionBank samples trivia questions without replacement within a call.
type QuestionBank interface {
	SampleRandom(ctx context.Context, count int) ([]domain.BankQuestion, error)
}

// RewardService grants reward points. Failures never block match resolution.
type RewardService interface {
	Award(ctx context.Context, username string, points int) error
}

// Broadcaster delivers public match snapshots to everyone subscribed to a match channel.
type Broadcaster interface {
	PublishMatch(matchID string, snapshot domain.MatchSnapshot)
}

type nopBroadcaster struct{}

func (nopBroadcaster) PublishMatch(string, domain.MatchSnapshot) {}
