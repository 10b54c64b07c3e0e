package memory

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"
	"trivia-match-service/internal/domain"
)

// QuestionLoader fetches the full trivia question set from a backing store.
type QuestionLoader interface {
	LoadQuestions(ctx context.Context) ([]domain.BankQuestion, error)
}

// QuestionBank caches the loaded question set with a TTL and samples from it.
type QuestionBank struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu        sync.RWMutex
	questions []domain.BankQuestion
	expiresAt time.Time

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuestionBank(loader QuestionLoader, ttl time.Duration) *QuestionBank {
	return &QuestionBank{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SampleRandom returns count distinct questions in random order.
func (b *QuestionBank) SampleRandom(ctx context.Context, count int) ([]domain.BankQuestion, error) {
	all, err := b.all(ctx)
	if err != nil {
		return nil, err
	}
	if count > len(all) {
		return nil, fmt.Errorf("%w: want %d, have %d", domain.ErrNotEnoughQuestions, count, len(all))
	}

	b.rndMu.Lock()
	perm := b.rnd.Perm(len(all))[:count]
	b.rndMu.Unlock()

	out := make([]domain.BankQuestion, count)
	for i, idx := range perm {
		q := all[idx]
		q.Options = append([]string(nil), q.Options...)
		out[i] = q
	}
	return out, nil
}

func (b *QuestionBank) all(ctx context.Context) ([]domain.BankQuestion, error) {
	now := b.clock()
	b.mu.RLock()
	if b.questions != nil && b.expiresAt.After(now) {
		qs := b.questions
		b.mu.RUnlock()
		return qs, nil
	}
	b.mu.RUnlock()

	result, err, _ := b.sf.Do("questions", func() (interface{}, error) {
		now := b.clock()
		b.mu.RLock()
		if b.questions != nil && b.expiresAt.After(now) {
			qs := b.questions
			b.mu.RUnlock()
			return qs, nil
		}
		b.mu.RUnlock()

		qs, err := b.loader.LoadQuestions(ctx)
		if err != nil {
			return nil, err
		}

		b.mu.Lock()
		b.questions = qs
		b.expiresAt = now.Add(b.ttlWithJitter())
		b.mu.Unlock()
		return qs, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.BankQuestion), nil
}

func (b *QuestionBank) ttlWithJitter() time.Duration {
	if b.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(b.ttl) / 10
	b.rndMu.Lock()
	defer b.rndMu.Unlock()
	return b.ttl + time.Duration(b.rnd.Int63n(jitterMax+1))
}

// StaticQuestionLoader is a simple loader backed by a fixed slice (useful for tests/demos).
type StaticQuestionLoader struct {
	questions []domain.BankQuestion
}

func NewStaticQuestionLoader(questions []domain.BankQuestion) *StaticQuestionLoader {
	return &StaticQuestionLoader{questions: questions}
}

func (l *StaticQuestionLoader) LoadQuestions(_ context.Context) ([]domain.BankQuestion, error) {
	return l.questions, nil
}

// FileQuestionLoader reads questions from a YAML file.
type FileQuestionLoader struct {
	path string
}

func NewFileQuestionLoader(path string) *FileQuestionLoader {
	return &FileQuestionLoader{path: path}
}

type questionFile struct {
	Questions []struct {
		ID      string   `yaml:"id"`
		Text    string   `yaml:"text"`
		Options []string `yaml:"options"`
		Correct int      `yaml:"correct"`
	} `yaml:"questions"`
}

func (l *FileQuestionLoader) LoadQuestions(_ context.Context) ([]domain.BankQuestion, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}
	var file questionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse questions: %w", err)
	}
	out := make([]domain.BankQuestion, 0, len(file.Questions))
	for _, q := range file.Questions {
		if len(q.Options) != domain.OptionCount || q.Correct < 0 || q.Correct >= domain.OptionCount {
			return nil, fmt.Errorf("question %q: need %d options and a valid correct index", q.ID, domain.OptionCount)
		}
		out = append(out, domain.BankQuestion{
			Question:     domain.Question{ID: q.ID, Text: q.Text, Options: q.Options},
			CorrectIndex: q.Correct,
		})
	}
	return out, nil
}
