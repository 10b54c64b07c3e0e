package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"trivia-match-service/internal/domain"
)

type matchRow struct {
	bun.BaseModel `bun:"table:trivia_matches,alias:m"`

	ID        string          `bun:"id,pk"`
	GameKind  string          `bun:"game_kind,notnull"`
	CreatedBy string          `bun:"created_by,notnull"`
	Player1   string          `bun:"player1,nullzero"`
	Player2   string          `bun:"player2,nullzero"`
	Status    string          `bun:"status,notnull"`
	State     json.RawMessage `bun:"state,type:jsonb,notnull"`
	UpdatedAt time.Time       `bun:"updated_at,notnull"`
}

// MatchStore persists match snapshots in the trivia_matches table.
// The full snapshot lives in the state column; players and status are
// denormalized for the open-matches lookup.
type MatchStore struct {
	db *bun.DB
}

func NewMatchStore(db *bun.DB) *MatchStore {
	return &MatchStore{db: db}
}

func (s *MatchStore) Upsert(ctx context.Context, snapshot domain.MatchSnapshot) error {
	state, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal match: %w", err)
	}
	row := &matchRow{
		ID:        snapshot.MatchID,
		GameKind:  string(snapshot.GameKind),
		CreatedBy: snapshot.CreatedBy,
		Status:    string(snapshot.Status),
		State:     state,
		UpdatedAt: snapshot.UpdatedAt,
	}
	if len(snapshot.Players) > 0 {
		row.Player1 = snapshot.Players[0]
	}
	if len(snapshot.Players) > 1 {
		row.Player2 = snapshot.Players[1]
	}

	_, err = s.db.NewInsert().
		Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("player1 = EXCLUDED.player1").
		Set("player2 = EXCLUDED.player2").
		Set("status = EXCLUDED.status").
		Set("state = EXCLUDED.state").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert match %s: %w", snapshot.MatchID, err)
	}
	return nil
}

func (s *MatchStore) FindByID(ctx context.Context, matchID string) (domain.MatchSnapshot, bool, error) {
	row := new(matchRow)
	err := s.db.NewSelect().Model(row).Where("m.id = ?", matchID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MatchSnapshot{}, false, nil
	}
	if err != nil {
		return domain.MatchSnapshot{}, false, fmt.Errorf("find match %s: %w", matchID, err)
	}
	snapshot, err := row.snapshot()
	if err != nil {
		return domain.MatchSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func (s *MatchStore) FindOpenByPlayer(ctx context.Context, player string) ([]domain.MatchSnapshot, error) {
	var rows []matchRow
	err := s.db.NewSelect().
		Model(&rows).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("m.player1 = ?", player).WhereOr("m.player2 = ?", player)
		}).
		Where("m.status IN (?)", bun.In([]string{string(domain.StatusWaitingToStart), string(domain.StatusInProgress)})).
		Order("m.updated_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("find matches for %s: %w", player, err)
	}

	out := make([]domain.MatchSnapshot, 0, len(rows))
	for i := range rows {
		snapshot, err := rows[i].snapshot()
		if err != nil {
			return nil, err
		}
		out = append(out, snapshot)
	}
	return out, nil
}

func (s *MatchStore) DeleteByID(ctx context.Context, matchID string) error {
	_, err := s.db.NewDelete().Model((*matchRow)(nil)).Where("id = ?", matchID).Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete match %s: %w", matchID, err)
	}
	return nil
}

func (r *matchRow) snapshot() (domain.MatchSnapshot, error) {
	var snapshot domain.MatchSnapshot
	if err := json.Unmarshal(r.State, &snapshot); err != nil {
		return domain.MatchSnapshot{}, fmt.Errorf("unmarshal match %s: %w", r.ID, err)
	}
	return snapshot, nil
}
