package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const rewardsKey = "trivia:rewards"

// RewardLedger accumulates reward points in a sorted set: ZINCRBY trivia:rewards {points} {username}
type RewardLedger struct {
	client *redis.Client
}

func NewRewardLedger(client *redis.Client) *RewardLedger {
	return &RewardLedger{client: client}
}

func (l *RewardLedger) Award(ctx context.Context, username string, points int) error {
	if err := l.client.ZIncrBy(ctx, rewardsKey, float64(points), username).Err(); err != nil {
		return fmt.Errorf("award %s: %w", username, err)
	}
	return nil
}

// Points returns the total awarded to username.
func (l *RewardLedger) Points(ctx context.Context, username string) (int, error) {
	score, err := l.client.ZScore(ctx, rewardsKey, username).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int(score), nil
}
