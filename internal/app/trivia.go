package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"trivia-match-service/internal/domain"
)

// TriviaFactory builds trivia games wired to a question bank and reward service.
type TriviaFactory struct {
	bank    QuestionBank
	rewards RewardService
	clock   clockwork.Clock
	window  time.Duration
	logger  *zap.Logger
}

func NewTriviaFactory(bank QuestionBank, rewards RewardService, clock clockwork.Clock, window time.Duration, logger *zap.Logger) *TriviaFactory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if window <= 0 {
		window = domain.TiebreakerWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TriviaFactory{bank: bank, rewards: rewards, clock: clock, window: window, logger: logger}
}

func (f *TriviaFactory) Kind() domain.GameKind { return domain.GameKindTrivia }

func (f *TriviaFactory) New(matchID, createdBy string) Game {
	return &triviaGame{match: domain.NewTriviaMatch(matchID, createdBy, f.clock.Now()), f: f}
}

func (f *TriviaFactory) Restore(snapshot domain.MatchSnapshot) (Game, error) {
	match, err := domain.RestoreTriviaMatch(snapshot)
	if err != nil {
		return nil, err
	}
	return &triviaGame{match: match, f: f}, nil
}

// triviaGame performs the question fetches and reward grants around the pure state machine.
type triviaGame struct {
	match *domain.TriviaMatch
	f     *TriviaFactory
}

func (g *triviaGame) ID() string                   { return g.match.ID() }
func (g *triviaGame) Kind() domain.GameKind        { return domain.GameKindTrivia }
func (g *triviaGame) Status() domain.Status        { return g.match.Status() }
func (g *triviaGame) UpdatedAt() time.Time         { return g.match.UpdatedAt() }
func (g *triviaGame) Revision() uint64             { return g.match.Revision() }
func (g *triviaGame) HasPlayer(player string) bool { return g.match.HasPlayer(player) }
func (g *triviaGame) Players() []string            { return g.match.Players() }

func (g *triviaGame) Join(player string) error {
	return g.match.Join(player, g.f.clock.Now())
}

func (g *triviaGame) Leave(player string) error {
	return g.match.Leave(player, g.f.clock.Now())
}

// Start validates first so a failed fetch leaves the match waiting and retryable.
func (g *triviaGame) Start(ctx context.Context) error {
	if err := g.match.CanStart(); err != nil {
		return err
	}
	questions, err := g.sample(ctx, domain.RegularQuestionCount)
	if err != nil {
		return err
	}
	return g.match.Start(questions, g.f.clock.Now())
}

// ApplyMove arms the tiebreaker right away when the answer opens one. If that fetch fails
// the answer stays recorded and the Registry retries arming through DeadlineDue.
func (g *triviaGame) ApplyMove(ctx context.Context, player string, move domain.Move) error {
	outcome, err := g.match.ApplyAnswer(player, move, g.f.clock.Now())
	if err != nil {
		return err
	}
	g.award(ctx, outcome.Awards)
	if outcome.TiebreakerDue {
		return g.armTiebreaker(ctx)
	}
	return nil
}

func (g *triviaGame) armTiebreaker(ctx context.Context) error {
	questions, err := g.sample(ctx, 1)
	if err != nil {
		return err
	}
	return g.match.ArmTiebreaker(questions[0], g.f.clock.Now())
}

func (g *triviaGame) DeadlineDue() bool { return g.match.TiebreakerDue() }

func (g *triviaGame) ArmDeadline(ctx context.Context) error {
	return g.armTiebreaker(ctx)
}

func (g *triviaGame) Deadline() (time.Time, bool) {
	return g.match.TiebreakerDeadline(g.f.window)
}

func (g *triviaGame) ResolveDeadline(ctx context.Context) error {
	awards, err := g.match.ResolveTiebreakerDeadline(g.f.clock.Now(), g.f.window)
	if err != nil {
		return err
	}
	g.award(ctx, awards)
	return nil
}

func (g *triviaGame) ForceEnd(winner string) {
	g.match.ForceEnd(winner, g.f.clock.Now())
}

func (g *triviaGame) Snapshot(includeHidden bool) domain.MatchSnapshot {
	return g.match.Snapshot(includeHidden)
}

func (g *triviaGame) sample(ctx context.Context, count int) ([]domain.BankQuestion, error) {
	questions, err := g.f.bank.SampleRandom(ctx, count)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrQuestionFetchFailed, err)
	}
	if len(questions) != count {
		return nil, fmt.Errorf("%w: %w: want %d, got %d", domain.ErrQuestionFetchFailed, domain.ErrNotEnoughQuestions, count, len(questions))
	}
	return questions, nil
}

func (g *triviaGame) award(ctx context.Context, awards []domain.Award) {
	if g.f.rewards == nil {
		return
	}
	for _, a := range awards {
		if a.Username == "" {
			continue
		}
		if err := g.f.rewards.Award(ctx, a.Username, a.Points); err != nil {
			g.f.logger.Warn("reward award failed",
				zap.String("matchId", g.match.ID()),
				zap.String("username", a.Username),
				zap.Int("points", a.Points),
				zap.Error(err))
		}
	}
}
