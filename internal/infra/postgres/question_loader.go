package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"trivia-match-service/internal/domain"
)

// QuestionLoader loads the trivia question bank from Postgres.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

func (l *QuestionLoader) LoadQuestions(ctx context.Context) ([]domain.BankQuestion, error) {
	rows, err := l.pool.Query(ctx, `SELECT id, text, options, correct_index FROM trivia_questions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	var out []domain.BankQuestion
	for rows.Next() {
		var (
			q   domain.BankQuestion
			raw []byte
		)
		if err := rows.Scan(&q.ID, &q.Text, &raw, &q.CorrectIndex); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if err := json.Unmarshal(raw, &q.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options for %s: %w", q.ID, err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	return out, nil
}

// Seed inserts questions that are not present yet and reports how many were added.
func (l *QuestionLoader) Seed(ctx context.Context, questions []domain.BankQuestion) (int, error) {
	batch := &pgx.Batch{}
	for _, q := range questions {
		options, err := json.Marshal(q.Options)
		if err != nil {
			return 0, fmt.Errorf("marshal options for %s: %w", q.ID, err)
		}
		batch.Queue(
			`INSERT INTO trivia_questions (id, text, options, correct_index) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`,
			q.ID, q.Text, options, q.CorrectIndex,
		)
	}

	results := l.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range questions {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("seed questions: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}
