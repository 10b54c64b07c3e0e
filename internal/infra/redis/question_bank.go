package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
	"trivia-match-service/internal/domain"
)

// QuestionLoader fetches the full question set from a backing store (e.g., Postgres).
type QuestionLoader interface {
	LoadQuestions(ctx context.Context) ([]domain.BankQuestion, error)
}

// QuestionBank caches questions in Redis and falls back to a loader on cache miss.
// Question ids are stored as:  SADD trivia:questions:ids {questionID}
// Questions are stored as:     HSET trivia:questions:data {questionID} {json}
// Sampling uses SRANDMEMBER with a positive count, which never repeats a member.
type QuestionBank struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuestionBank(client *redis.Client, loader QuestionLoader, ttl time.Duration) *QuestionBank {
	return &QuestionBank{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *QuestionBank) SampleRandom(ctx context.Context, count int) ([]domain.BankQuestion, error) {
	if err := b.ensureCached(ctx); err != nil {
		return nil, err
	}

	ids, err := b.client.SRandMemberN(ctx, b.idsKey(), int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("sample question ids: %w", err)
	}
	if len(ids) < count {
		return nil, fmt.Errorf("%w: want %d, have %d", domain.ErrNotEnoughQuestions, count, len(ids))
	}

	values, err := b.client.HMGet(ctx, b.dataKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("load sampled questions: %w", err)
	}
	out := make([]domain.BankQuestion, 0, count)
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("question %s missing from cache", ids[i])
		}
		var q domain.BankQuestion
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return nil, fmt.Errorf("unmarshal question %s: %w", ids[i], err)
		}
		out = append(out, q)
	}
	return out, nil
}

func (b *QuestionBank) ensureCached(ctx context.Context) error {
	n, err := b.client.SCard(ctx, b.idsKey()).Result()
	if err == nil && n > 0 {
		return nil
	}

	_, err, _ = b.sf.Do("questions", func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		n, err := b.client.SCard(ctx, b.idsKey()).Result()
		if err == nil && n > 0 {
			return nil, nil
		}

		questions, err := b.loader.LoadQuestions(ctx)
		if err != nil {
			return nil, err
		}
		if len(questions) == 0 {
			return nil, domain.ErrNotEnoughQuestions
		}

		fields := make(map[string]interface{}, len(questions))
		ids := make([]interface{}, 0, len(questions))
		for _, q := range questions {
			data, err := json.Marshal(q)
			if err != nil {
				return nil, fmt.Errorf("marshal question %s: %w", q.ID, err)
			}
			fields[q.ID] = data
			ids = append(ids, q.ID)
		}

		ttl := b.ttlWithJitter()
		pipe := b.client.TxPipeline()
		pipe.Del(ctx, b.idsKey(), b.dataKey())
		pipe.HSet(ctx, b.dataKey(), fields)
		pipe.SAdd(ctx, b.idsKey(), ids...)
		if ttl > 0 {
			pipe.Expire(ctx, b.idsKey(), ttl)
			pipe.Expire(ctx, b.dataKey(), ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("cache questions: %w", err)
		}
		return nil, nil
	})
	return err
}

func (b *QuestionBank) idsKey() string {
	return "trivia:questions:ids"
}

func (b *QuestionBank) dataKey() string {
	return "trivia:questions:data"
}

func (b *QuestionBank) ttlWithJitter() time.Duration {
	if b.ttl <= 0 {
		return 0
	}
	jitterMax := int64(b.ttl) / 10
	b.rndMu.Lock()
	defer b.rndMu.Unlock()
	return b.ttl + time.Duration(b.rnd.Int63n(jitterMax+1))
}
