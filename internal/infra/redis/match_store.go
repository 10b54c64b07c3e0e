package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"trivia-match-service/internal/domain"
)

// MatchStore keeps match snapshots in Redis.
// Snapshots are stored as JSON:  SET trivia:match:{matchID} {snapshot}
// Players are indexed as:        SADD trivia:player:{player}:matches {matchID}
// The player index is pruned lazily when lookups find closed or vacated matches.
type MatchStore struct {
	client  *redis.Client
	overTTL time.Duration
}

// NewMatchStore builds a store; finished matches expire after overTTL (0 keeps them).
func NewMatchStore(client *redis.Client, overTTL time.Duration) *MatchStore {
	return &MatchStore{client: client, overTTL: overTTL}
}

func (s *MatchStore) Upsert(ctx context.Context, snapshot domain.MatchSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal match: %w", err)
	}
	var ttl time.Duration
	if snapshot.Status == domain.StatusOver {
		ttl = s.overTTL
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.matchKey(snapshot.MatchID), data, ttl)
	for _, player := range snapshot.Players {
		pipe.SAdd(ctx, s.playerKey(player), snapshot.MatchID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("upsert match %s: %w", snapshot.MatchID, err)
	}
	return nil
}

func (s *MatchStore) FindByID(ctx context.Context, matchID string) (domain.MatchSnapshot, bool, error) {
	data, err := s.client.Get(ctx, s.matchKey(matchID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.MatchSnapshot{}, false, nil
	}
	if err != nil {
		return domain.MatchSnapshot{}, false, fmt.Errorf("get match %s: %w", matchID, err)
	}
	var snapshot domain.MatchSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return domain.MatchSnapshot{}, false, fmt.Errorf("unmarshal match %s: %w", matchID, err)
	}
	return snapshot, true, nil
}

func (s *MatchStore) FindOpenByPlayer(ctx context.Context, player string) ([]domain.MatchSnapshot, error) {
	indexKey := s.playerKey(player)
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list matches for %s: %w", player, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.matchKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load matches for %s: %w", player, err)
	}

	var (
		out   []domain.MatchSnapshot
		stale []interface{}
	)
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var snapshot domain.MatchSnapshot
		if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
			return nil, fmt.Errorf("unmarshal match %s: %w", ids[i], err)
		}
		if !snapshot.Status.Open() || !snapshot.HasPlayer(player) {
			stale = append(stale, ids[i])
			continue
		}
		out = append(out, snapshot)
	}
	if len(stale) > 0 {
		// best-effort index cleanup
		_ = s.client.SRem(ctx, indexKey, stale...).Err()
	}
	return out, nil
}

func (s *MatchStore) DeleteByID(ctx context.Context, matchID string) error {
	snapshot, ok, err := s.FindByID(ctx, matchID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.matchKey(matchID))
	for _, player := range snapshot.Players {
		pipe.SRem(ctx, s.playerKey(player), matchID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete match %s: %w", matchID, err)
	}
	return nil
}

func (s *MatchStore) matchKey(matchID string) string {
	return "trivia:match:" + matchID
}

func (s *MatchStore) playerKey(player string) string {
	return "trivia:player:" + player + ":matches"
}
