package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
	"trivia-match-service/internal/app"
	"trivia-match-service/internal/config"
	"trivia-match-service/internal/domain"
	"trivia-match-service/internal/infra/memory"
	pgstore "trivia-match-service/internal/infra/postgres"
	redisstore "trivia-match-service/internal/infra/redis"
	"trivia-match-service/internal/logger"
	transport "trivia-match-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the trivia match server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// backends holds the optional external connections opened for a run.
type backends struct {
	redis *redis.Client
	pool  *pgxpool.Pool
	db    *bun.DB
}

func (b *backends) Close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
	if b.db != nil {
		_ = b.db.Close()
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Env)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	store, err := buildMatchStore(cfg, b)
	if err != nil {
		return err
	}
	bank, rewards := buildQuestionBank(ctx, cfg, b, log), buildRewards(b)

	clock := clockwork.NewRealClock()
	hub := transport.NewHub()
	factory := app.NewTriviaFactory(bank, rewards, clock,
		config.Duration(cfg.Match.TiebreakerWindow, domain.TiebreakerWindow), log.Named("trivia"))
	registry := app.NewRegistry(store,
		app.WithGameFactory(factory),
		app.WithBroadcaster(hub),
		app.WithClock(clock),
		app.WithLogger(log.Named("registry")),
		app.WithStaleAfter(config.Duration(cfg.Match.StaleAfter, app.DefaultStaleAfter)),
	)
	defer registry.Close()

	sweeper, err := app.NewSweeper(registry, config.Duration(cfg.Match.SweepInterval, time.Minute), clock, log.Named("sweeper"))
	if err != nil {
		return err
	}
	sweeper.Start()
	defer func() { _ = sweeper.Stop() }()

	wsHandler := transport.NewWSHandler(registry, hub, log.Named("ws"))
	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      transport.NewRouter(registry, wsHandler, log.Named("http")),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting trivia match service", zap.String("port", finalPort), zap.String("store", cfg.Match.Store))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func openBackends(ctx context.Context, cfg config.Config, log *zap.Logger) (*backends, error) {
	b := &backends{}
	if cfg.Redis.Addr != "" {
		b.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	if cfg.Postgres.URL != "" {
		b.db = openBun(cfg.Postgres.URL)
		if err := migrateDB(ctx, b.db, log); err != nil {
			b.Close()
			return nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.pool = pool
	}
	return b, nil
}

func buildMatchStore(cfg config.Config, b *backends) (app.MatchStore, error) {
	switch cfg.Match.Store {
	case config.StoreMemory:
		return memory.NewMatchStore(), nil
	case config.StoreRedis:
		if b.redis == nil {
			return nil, fmt.Errorf("match store %q requires redis.addr", cfg.Match.Store)
		}
		return redisstore.NewMatchStore(b.redis, config.Duration(cfg.Redis.TTL, 24*time.Hour)), nil
	case config.StorePostgres:
		if b.db == nil {
			return nil, fmt.Errorf("match store %q requires postgres.url", cfg.Match.Store)
		}
		return pgstore.NewMatchStore(b.db), nil
	default:
		return nil, fmt.Errorf("unknown match store %q", cfg.Match.Store)
	}
}

// buildQuestionBank picks the question source (Postgres, YAML file, built-in) and the
// cache in front of it (Redis when configured, in-process otherwise).
func buildQuestionBank(ctx context.Context, cfg config.Config, b *backends, log *zap.Logger) app.QuestionBank {
	var loader memory.QuestionLoader = memory.NewStaticQuestionLoader(sampleQuestions())
	if cfg.Questions.File != "" {
		if _, err := os.Stat(cfg.Questions.File); err == nil {
			loader = memory.NewFileQuestionLoader(cfg.Questions.File)
		} else {
			log.Warn("question file unavailable, using built-in questions", zap.String("file", cfg.Questions.File), zap.Error(err))
		}
	}
	if b.pool != nil {
		pgLoader := pgstore.NewQuestionLoader(b.pool)
		seed, err := loader.LoadQuestions(ctx)
		if err == nil {
			var added int
			added, err = pgLoader.Seed(ctx, seed)
			if added > 0 {
				log.Info("seeded question bank", zap.Int("added", added))
			}
		}
		if err != nil {
			log.Warn("seeding question bank failed", zap.Error(err))
		}
		loader = pgLoader
	}

	ttl := config.Duration(cfg.Questions.TTL, 10*time.Minute)
	if b.redis != nil {
		return redisstore.NewQuestionBank(b.redis, loader, ttl)
	}
	return memory.NewQuestionBank(loader, ttl)
}

func buildRewards(b *backends) app.RewardService {
	if b.redis != nil {
		return redisstore.NewRewardLedger(b.redis)
	}
	return memory.NewRewardLedger()
}

// sampleQuestions is the built-in bank used when neither Postgres nor a question file is configured.
func sampleQuestions() []domain.BankQuestion {
	q := func(id, text string, correct int, options ...string) domain.BankQuestion {
		return domain.BankQuestion{
			Question:     domain.Question{ID: id, Text: text, Options: options},
			CorrectIndex: correct,
		}
	}
	return []domain.BankQuestion{
		q("builtin-01", "What is 2 + 2?", 1, "3", "4", "5", "22"),
		q("builtin-02", "Which planet is known as the Red Planet?", 2, "Venus", "Jupiter", "Mars", "Saturn"),
		q("builtin-03", "How many continents are there?", 3, "4", "5", "6", "7"),
		q("builtin-04", "What is the boiling point of water at sea level in Celsius?", 0, "100", "90", "110", "120"),
		q("builtin-05", "Which animal is the largest mammal?", 1, "Elephant", "Blue whale", "Giraffe", "Hippo"),
		q("builtin-06", "What colour do you get by mixing blue and yellow?", 2, "Purple", "Orange", "Green", "Brown"),
		q("builtin-07", "How many minutes are in an hour?", 0, "60", "100", "30", "90"),
		q("builtin-08", "Which language has the most native speakers?", 3, "English", "Spanish", "Hindi", "Mandarin"),
		q("builtin-09", "What is the freezing point of water in Fahrenheit?", 1, "0", "32", "100", "-40"),
		q("builtin-10", "Which metal is liquid at room temperature?", 2, "Iron", "Lead", "Mercury", "Tin"),
		q("builtin-11", "How many legs does a spider have?", 3, "4", "6", "10", "8"),
		q("builtin-12", "What is the tallest mountain on Earth?", 0, "Everest", "K2", "Kilimanjaro", "Denali"),
	}
}
