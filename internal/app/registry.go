package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"trivia-match-service/internal/domain"
)

// DefaultStaleAfter is how long a match may sit in WAITING_TO_START before it counts as stale.
const DefaultStaleAfter = 30 * time.Minute

// acquireAttempts bounds retries when an entry is evicted between lookup and lock.
const acquireAttempts = 3

// Backoff bounds for retrying a deadline phase whose setup failed, such as a tiebreaker
// question fetch.
const (
	armRetryBase = time.Second
	armRetryMax  = 30 * time.Second
)

// Registry is the single authority over live matches. It is the only way callers reach a
// live Game, and every mutation of a match runs under that match's entry lock.
type Registry struct {
	store       MatchStore
	factories   map[domain.GameKind]GameFactory
	broadcaster Broadcaster
	scheduler   *TiebreakerScheduler
	clock       clockwork.Clock
	staleAfter  time.Duration
	newID       func() string
	logger      *zap.Logger

	mu   sync.RWMutex
	live map[string]*entry
	sf   singleflight.Group
}

// entry guards one live game. The timer flags and unsaved are bookkeeping only and never persisted.
type entry struct {
	mu          sync.Mutex
	game        Game
	timerArmed  bool
	retryArmed  bool
	armFailures int
	// unsaved is set while the latest state has not reached the store.
	unsaved bool
	evicted atomic.Bool
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

func WithGameFactory(f GameFactory) RegistryOption {
	return func(r *Registry) { r.factories[f.Kind()] = f }
}

func WithBroadcaster(b Broadcaster) RegistryOption {
	return func(r *Registry) { r.broadcaster = b }
}

func WithClock(c clockwork.Clock) RegistryOption {
	return func(r *Registry) { r.clock = c }
}

func WithLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

func WithStaleAfter(d time.Duration) RegistryOption {
	return func(r *Registry) { r.staleAfter = d }
}

// WithIDGenerator replaces the uuid-based match id generator.
func WithIDGenerator(fn func() string) RegistryOption {
	return func(r *Registry) { r.newID = fn }
}

func NewRegistry(store MatchStore, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:       store,
		factories:   make(map[domain.GameKind]GameFactory),
		broadcaster: nopBroadcaster{},
		clock:       clockwork.NewRealClock(),
		staleAfter:  DefaultStaleAfter,
		newID:       uuid.NewString,
		logger:      zap.NewNop(),
		live:        make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.scheduler = NewTiebreakerScheduler(r.clock, r.onDeadline)
	return r
}

// Scheduler exposes the deadline scheduler, mainly for inspection in tests.
func (r *Registry) Scheduler() *TiebreakerScheduler { return r.scheduler }

// Close stops all pending deadline timers.
func (r *Registry) Close() {
	r.scheduler.Stop()
}

// CreateMatch registers a new waiting match and persists its first snapshot.
func (r *Registry) CreateMatch(ctx context.Context, kind domain.GameKind, createdBy string) (string, error) {
	factory, ok := r.factories[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedGameKind, kind)
	}
	id := r.newID()
	game := factory.New(id, createdBy)
	if err := r.store.Upsert(ctx, game.Snapshot(true)); err != nil {
		return "", fmt.Errorf("persist new match: %w", err)
	}

	r.mu.Lock()
	r.live[id] = &entry{game: game}
	r.mu.Unlock()

	r.logger.Info("match created",
		zap.String("matchId", id),
		zap.String("gameKind", string(kind)),
		zap.String("createdBy", createdBy))
	return id, nil
}

// GetLive returns the public snapshot of a live match without touching storage.
func (r *Registry) GetLive(matchID string) (domain.MatchSnapshot, bool) {
	r.mu.RLock()
	e, ok := r.live[matchID]
	r.mu.RUnlock()
	if !ok {
		return domain.MatchSnapshot{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted.Load() {
		return domain.MatchSnapshot{}, false
	}
	return e.game.Snapshot(false), true
}

// GetOrLoad returns the public snapshot of a match, rehydrating it from storage on a miss.
// Terminal matches are returned but never registered live. The live Game itself never
// leaves the registry.
func (r *Registry) GetOrLoad(ctx context.Context, matchID string) (domain.MatchSnapshot, error) {
	e, err := r.acquire(ctx, matchID)
	if err != nil {
		return domain.MatchSnapshot{}, err
	}
	defer e.mu.Unlock()
	return e.game.Snapshot(false), nil
}

// Remove evicts a match from the live map only; the stored row is kept.
func (r *Registry) Remove(matchID string) bool {
	r.mu.Lock()
	e, ok := r.live[matchID]
	if ok {
		delete(r.live, matchID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.evicted.Store(true)
	r.scheduler.Cancel(matchID)
	return true
}

// Join seats player. Joining again with an already seated player returns the
// current snapshot unchanged so reconnecting clients can re-join freely.
func (r *Registry) Join(ctx context.Context, matchID, player string) (domain.MatchSnapshot, error) {
	return r.mutate(ctx, matchID, func(g Game) (bool, error) {
		if g.HasPlayer(player) {
			return true, nil
		}
		return false, g.Join(player)
	})
}

func (r *Registry) Start(ctx context.Context, matchID string) (domain.MatchSnapshot, error) {
	return r.mutate(ctx, matchID, func(g Game) (bool, error) {
		return false, g.Start(ctx)
	})
}

func (r *Registry) Leave(ctx context.Context, matchID, player string) (domain.MatchSnapshot, error) {
	return r.mutate(ctx, matchID, func(g Game) (bool, error) {
		return false, g.Leave(player)
	})
}

// ApplyAnswer applies one move and arms the deadline timer when the move opened a tiebreaker.
func (r *Registry) ApplyAnswer(ctx context.Context, matchID, player string, move domain.Move) (domain.MatchSnapshot, error) {
	return r.mutate(ctx, matchID, func(g Game) (bool, error) {
		return false, g.ApplyMove(ctx, player, move)
	})
}

// mutate runs op under the entry lock. op returns skip=true for no-op short-circuits.
// Any state change is persisted and broadcast even when op also returns an error,
// since the in-memory game is the source of truth.
func (r *Registry) mutate(ctx context.Context, matchID string, op func(Game) (bool, error)) (domain.MatchSnapshot, error) {
	e, err := r.acquire(ctx, matchID)
	if err != nil {
		return domain.MatchSnapshot{}, err
	}
	defer e.mu.Unlock()

	before := e.game.Revision()
	skip, opErr := op(e.game)
	if skip {
		return e.game.Snapshot(false), nil
	}
	if e.game.Revision() == before {
		if opErr != nil {
			return domain.MatchSnapshot{}, opErr
		}
		return e.game.Snapshot(false), nil
	}

	commitErr := r.commitLocked(ctx, e)
	if opErr != nil {
		return e.game.Snapshot(false), opErr
	}
	return e.game.Snapshot(false), commitErr
}

// commitLocked persists, broadcasts, arms timers and evicts terminal matches.
// A terminal match stays live until its final snapshot is stored. The caller holds e.mu.
func (r *Registry) commitLocked(ctx context.Context, e *entry) error {
	id := e.game.ID()
	persistErr := r.persistLocked(ctx, e)

	public := e.game.Snapshot(false)
	if public.Status == domain.StatusOver {
		// evict first so observers of the final snapshot never find it live
		if persistErr == nil {
			r.Remove(id)
		}
		r.broadcaster.PublishMatch(id, public)
		r.logger.Info("match over",
			zap.String("matchId", id),
			zap.Strings("winners", public.Winners))
		return persistErr
	}
	r.broadcaster.PublishMatch(id, public)
	r.armLocked(e)
	return persistErr
}

// persistLocked writes the full hidden snapshot and tracks whether it landed. The caller holds e.mu.
func (r *Registry) persistLocked(ctx context.Context, e *entry) error {
	id := e.game.ID()
	if err := r.store.Upsert(ctx, e.game.Snapshot(true)); err != nil {
		e.unsaved = true
		r.logger.Error("persist match snapshot failed", zap.String("matchId", id), zap.Error(err))
		return fmt.Errorf("persist match %s: %w", id, err)
	}
	e.unsaved = false
	return nil
}

// flushLocked retries a write that failed earlier and evicts the match once a terminal
// snapshot is stored. The caller holds e.mu.
func (r *Registry) flushLocked(ctx context.Context, e *entry) error {
	if !e.unsaved {
		return nil
	}
	if err := r.persistLocked(ctx, e); err != nil {
		return err
	}
	if e.game.Status() == domain.StatusOver {
		r.Remove(e.game.ID())
	}
	return nil
}

// FlushUnsaved retries every pending snapshot write and reports how many are still unsaved.
func (r *Registry) FlushUnsaved(ctx context.Context) int {
	pending := 0
	for _, e := range r.entries() {
		e.mu.Lock()
		if !e.evicted.Load() && r.flushLocked(ctx, e) != nil {
			pending++
		}
		e.mu.Unlock()
	}
	return pending
}

// armLocked schedules at most one timer per phase: a setup retry while the deadline phase
// is due but not yet set up, then the deadline itself. The caller holds e.mu.
func (r *Registry) armLocked(e *entry) {
	if e.evicted.Load() {
		return
	}
	dg, ok := e.game.(DeadlineGame)
	if !ok {
		return
	}
	if dg.DeadlineDue() {
		if e.retryArmed {
			return
		}
		e.retryArmed = true
		delay := armBackoff(e.armFailures)
		r.scheduler.Schedule(e.game.ID(), delay)
		r.logger.Debug("deadline setup retry scheduled", zap.String("matchId", e.game.ID()), zap.Duration("delay", delay))
		return
	}
	if e.timerArmed {
		return
	}
	deadline, ok := dg.Deadline()
	if !ok {
		return
	}
	e.timerArmed = true
	e.retryArmed = false
	delay := deadline.Sub(r.clock.Now())
	if delay < 0 {
		delay = 0
	}
	r.scheduler.Schedule(e.game.ID(), delay)
	r.logger.Debug("deadline armed", zap.String("matchId", e.game.ID()), zap.Duration("delay", delay))
}

func armBackoff(failures int) time.Duration {
	d := armRetryBase
	for i := 0; i < failures && d < armRetryMax; i++ {
		d *= 2
	}
	if d > armRetryMax {
		d = armRetryMax
	}
	return d
}

// onDeadline is the scheduler callback. It sets up a due deadline phase or resolves a
// pending one, and only acts on a live match, which makes late or duplicate firings harmless.
func (r *Registry) onDeadline(matchID string) {
	r.mu.RLock()
	e, ok := r.live[matchID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted.Load() {
		return
	}
	dg, ok := e.game.(DeadlineGame)
	if !ok {
		return
	}

	ctx := context.Background()
	if dg.DeadlineDue() {
		e.retryArmed = false
		if err := dg.ArmDeadline(ctx); err != nil {
			e.armFailures++
			r.logger.Warn("deadline setup failed",
				zap.String("matchId", matchID),
				zap.Int("attempt", e.armFailures),
				zap.Error(err))
			r.armLocked(e)
			return
		}
		e.armFailures = 0
		if err := r.commitLocked(ctx, e); err != nil {
			r.logger.Warn("deadline setup commit failed", zap.String("matchId", matchID), zap.Error(err))
		}
		return
	}
	if _, pending := dg.Deadline(); !pending {
		return
	}
	if err := dg.ResolveDeadline(ctx); err != nil {
		if errors.Is(err, domain.ErrTiebreakerNotExpired) {
			// Fired early against the match clock; try again at the real deadline.
			e.timerArmed = false
			r.armLocked(e)
			return
		}
		r.logger.Warn("deadline resolution failed", zap.String("matchId", matchID), zap.Error(err))
		return
	}
	if err := r.commitLocked(ctx, e); err != nil {
		r.logger.Warn("deadline commit failed", zap.String("matchId", matchID), zap.Error(err))
	}
}

// FindMatchesForPlayer unions open live matches seating player with open stored matches.
// Any live entry takes precedence over its stored row, even one player has since left.
func (r *Registry) FindMatchesForPlayer(ctx context.Context, player string) ([]domain.MatchSnapshot, error) {
	seen := make(map[string]struct{})
	results := make([]domain.MatchSnapshot, 0)
	for _, e := range r.entries() {
		e.mu.Lock()
		if !e.evicted.Load() {
			seen[e.game.ID()] = struct{}{}
			if e.game.Status().Open() && e.game.HasPlayer(player) {
				results = append(results, e.game.Snapshot(false))
			}
		}
		e.mu.Unlock()
	}

	stored, err := r.store.FindOpenByPlayer(ctx, player)
	if err != nil {
		return nil, fmt.Errorf("find stored matches for %s: %w", player, err)
	}
	for _, snap := range stored {
		if _, ok := seen[snap.MatchID]; ok {
			continue
		}
		if !snap.Status.Open() || !snap.HasPlayer(player) {
			continue
		}
		seen[snap.MatchID] = struct{}{}
		results = append(results, publicSnapshot(snap))
	}
	return results, nil
}

// EndByDisconnect forces a match over with remaining as the sole winner. It never fails;
// problems are logged because it runs on connection cleanup paths.
func (r *Registry) EndByDisconnect(ctx context.Context, matchID, disconnected, remaining string) {
	e, err := r.acquire(ctx, matchID)
	if err != nil {
		r.logger.Debug("disconnect cleanup skipped", zap.String("matchId", matchID), zap.Error(err))
		return
	}
	defer e.mu.Unlock()

	if e.game.Status() == domain.StatusOver {
		return
	}
	e.game.ForceEnd(remaining)
	r.logger.Info("match ended by disconnect",
		zap.String("matchId", matchID),
		zap.String("disconnected", disconnected),
		zap.String("winner", remaining))
	if err := r.commitLocked(ctx, e); err != nil {
		r.logger.Warn("disconnect commit failed", zap.String("matchId", matchID), zap.Error(err))
	}
}

// DeleteMatch removes a stale match from memory and storage. Only the creator or a seated
// player may delete, and only matches that are over or have waited longer than staleAfter.
func (r *Registry) DeleteMatch(ctx context.Context, matchID, actor string) error {
	e, err := r.acquire(ctx, matchID)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	snap := e.game.Snapshot(false)
	if actor == "" || (actor != snap.CreatedBy && !snap.HasPlayer(actor)) {
		return domain.ErrNotAuthorized
	}
	if !r.isStale(e.game, r.clock.Now()) && snap.Status != domain.StatusOver {
		return domain.ErrMatchNotStale
	}
	if err := r.store.DeleteByID(ctx, matchID); err != nil {
		return fmt.Errorf("delete match %s: %w", matchID, err)
	}
	r.Remove(matchID)
	r.logger.Info("match deleted", zap.String("matchId", matchID), zap.String("actor", actor))
	return nil
}

// EvictStale drops live matches that have waited for players longer than staleAfter.
// Stored rows are kept so the match can still be rehydrated.
func (r *Registry) EvictStale() int {
	now := r.clock.Now()
	evicted := 0
	for _, e := range r.entries() {
		e.mu.Lock()
		if !e.evicted.Load() && r.isStale(e.game, now) && r.Remove(e.game.ID()) {
			evicted++
		}
		e.mu.Unlock()
	}
	return evicted
}

// LiveCount reports how many matches are held in memory.
func (r *Registry) LiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}

func (r *Registry) entries() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]*entry, 0, len(r.live))
	for _, e := range r.live {
		entries = append(entries, e)
	}
	return entries
}

func (r *Registry) isStale(g Game, now time.Time) bool {
	return g.Status() == domain.StatusWaitingToStart && now.Sub(g.UpdatedAt()) > r.staleAfter
}

// acquire loads the entry for matchID and returns it locked.
func (r *Registry) acquire(ctx context.Context, matchID string) (*entry, error) {
	for i := 0; i < acquireAttempts; i++ {
		e, err := r.load(ctx, matchID)
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		if !e.evicted.Load() {
			// best effort; a failed retry leaves the entry unsaved for the next access
			_ = r.flushLocked(ctx, e)
			return e, nil
		}
		e.mu.Unlock()
	}
	return nil, fmt.Errorf("match %s: evicted concurrently", matchID)
}

// load finds the live entry or rehydrates it. Concurrent misses for the same id share
// one storage read so only one instance is ever registered.
func (r *Registry) load(ctx context.Context, matchID string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.live[matchID]
	r.mu.RUnlock()
	if ok {
		return e, nil
	}

	v, err, _ := r.sf.Do(matchID, func() (interface{}, error) {
		r.mu.RLock()
		e, ok := r.live[matchID]
		r.mu.RUnlock()
		if ok {
			return e, nil
		}

		snap, found, err := r.store.FindByID(ctx, matchID)
		if err != nil {
			return nil, fmt.Errorf("load match %s: %w", matchID, err)
		}
		if !found {
			return nil, domain.ErrMatchNotFound
		}
		factory, ok := r.factories[snap.GameKind]
		if !ok {
			r.logger.Warn("stored match has unsupported game kind",
				zap.String("matchId", matchID),
				zap.String("gameKind", string(snap.GameKind)))
			return nil, domain.ErrMatchNotFound
		}
		game, err := factory.Restore(snap)
		if err != nil {
			return nil, fmt.Errorf("restore match %s: %w", matchID, err)
		}

		e = &entry{game: game}
		if game.Status() == domain.StatusOver {
			return e, nil
		}
		r.mu.Lock()
		if existing, ok := r.live[matchID]; ok {
			r.mu.Unlock()
			return existing, nil
		}
		r.live[matchID] = e
		r.mu.Unlock()

		// Deadline timers never survive a restart; re-arm from the stored start time.
		e.mu.Lock()
		r.armLocked(e)
		e.mu.Unlock()

		r.logger.Info("match rehydrated", zap.String("matchId", matchID), zap.String("status", string(game.Status())))
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*entry), nil
}

func publicSnapshot(s domain.MatchSnapshot) domain.MatchSnapshot {
	if s.Trivia != nil {
		t := *s.Trivia
		t.CorrectAnswers = nil
		s.Trivia = &t
	}
	return s
}
