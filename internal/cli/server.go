package cli

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"agile-quiz-service/internal/aggregate"
	"agile-quiz-service/internal/clock"
	"agile-quiz-service/internal/config"
	"agile-quiz-service/internal/domain"
	"agile-quiz-service/internal/infra/memory"
	pginfra "agile-quiz-service/internal/infra/postgres"
	redisinfra "agile-quiz-service/internal/infra/redis"
	"agile-quiz-service/internal/infra/sqlite"
	"agile-quiz-service/internal/persist"
	"agile-quiz-service/internal/room"
	"agile-quiz-service/internal/session"
	transport "agile-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	// question bank: postgres-backed when available, cached in redis when
	// available, in-process otherwise
	var loader memory.SetLoader = memory.NewStaticLoader(sampleQuestionSets())
	if pool != nil {
		loader = pginfra.NewQuestionLoader(pool)
	}
	questionTTL := config.TTLDuration(cfg.Questions.TTL, 10*time.Minute)
	var bank transport.QuestionBank
	if redisClient != nil {
		bank = redisinfra.NewQuestionCache(redisClient, loader, questionTTL)
	} else {
		bank = memory.NewQuestionBank(loader, questionTTL)
	}

	// result pipeline: remote store plus a local write buffer that survives
	// restarts when a buffer file is configured
	var remote persist.RemoteStore = memory.NewResultStore()
	if pool != nil {
		remote = pginfra.NewResultStore(pool)
	}
	var buffer persist.Buffer = memory.NewBuffer(cfg.Buffer.Cap)
	if cfg.Buffer.Path != "" {
		durable, err := sqlite.Open(cfg.Buffer.Path, cfg.Buffer.Cap)
		if err != nil {
			return err
		}
		defer durable.Close()
		buffer = durable
	}
	pipeline := persist.New(remote, buffer, logger)

	engine := aggregate.New(pipeline, memory.NewRoster(nil), logger)

	var liveness room.Liveness
	if redisClient != nil {
		liveness = redisinfra.NewRoomStore(redisClient, redisTTL)
	}
	clk := clock.Wall{}
	coordinator := room.NewCoordinator(clk, logger, liveness)

	restHandler := transport.NewRESTHandler(transport.RESTConfig{
		Bank:         bank,
		Registry:     session.NewRegistry(),
		Pipeline:     pipeline,
		Engine:       engine,
		Clock:        clk,
		Logger:       logger,
		ExamBudget:   cfg.Exam.BudgetSeconds,
		AdvanceDelay: config.TTLDuration(cfg.Learning.AdvanceDelay, session.DefaultAdvanceDelay),
	})
	roomWindow := config.TTLDuration(cfg.Room.Window, room.DefaultWindow)
	wsHandler := transport.NewWSHandler(coordinator, bank, roomWindow, logger)

	mux := http.NewServeMux()
	restHandler.Register(mux)
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	// flush the buffer on an interval, independently of aggregation requests
	reconcileEvery := config.TTLDuration(cfg.Reconcile.Interval, 30*time.Second)
	stopReconcile := clk.TickEvery(reconcileEvery, func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), reconcileEvery)
		defer cancel()
		if flushed, remaining, err := pipeline.Reconcile(flushCtx); err != nil {
			logger.Warn("background reconcile failed", "error", err)
		} else if flushed > 0 {
			logger.Info("background reconcile", "flushed", flushed, "remaining", remaining)
		}
	})
	defer stopReconcile()

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting quiz session service", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuestionSets provides minimal seed data so the service runs without
// Postgres during development.
func sampleQuestionSets() map[string]domain.QuestionSet {
	return map[string]domain.QuestionSet{
		"set-1": {
			ID:    "set-1",
			Title: "Arithmetic warm-up",
			Questions: []domain.Question{
				{
					ID:            "q1",
					Prompt:        "What is 2 + 2?",
					Options:       []string{"3", "4", "5"},
					CorrectOption: 1,
					Explanation:   "2 + 2 = 4",
					Category:      "math",
				},
				{
					ID:            "q2",
					Prompt:        "What is 7 * 6?",
					Options:       []string{"42", "48", "36"},
					CorrectOption: 0,
					Category:      "math",
				},
			},
		},
	}
}
