package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"agile-quiz-service/internal/aggregate"
	"agile-quiz-service/internal/domain"
	"agile-quiz-service/internal/infra/memory"
	pginfra "agile-quiz-service/internal/infra/postgres"
	pgmigrations "agile-quiz-service/internal/infra/postgres/migrations"
	redisinfra "agile-quiz-service/internal/infra/redis"
	"agile-quiz-service/internal/persist"
	"agile-quiz-service/internal/session"
)

func TestSessionResultEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedQuestionSet(t, ctx, pgURL, sampleSet())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bank := redisinfra.NewQuestionCache(redisClient, pginfra.NewQuestionLoader(pool), 5*time.Minute)
	pipeline := persist.New(pginfra.NewResultStore(pool), memory.NewBuffer(100), logger)
	engine := aggregate.New(pipeline, memory.NewRoster(map[string]string{"alice": "Alice"}), logger)

	set, err := bank.QuestionSet(ctx, "set-1")
	if err != nil {
		t.Fatalf("load set through cache: %v", err)
	}
	if len(set.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %+v", set)
	}

	s, err := session.New(session.Config{
		LearnerID: "alice",
		Mode:      domain.ModeTest,
		Set:       set,
		Sink: session.SubmitterFunc(func(ctx context.Context, result domain.QuizResult) error {
			_, err := pipeline.Submit(ctx, result)
			return err
		}),
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.SelectAnswer(set.Questions[0].CorrectOption); err != nil {
		t.Fatalf("answer: %v", err)
	}
	s.Navigate(1)
	if _, err := s.SelectAnswer((set.Questions[1].CorrectOption + 1) % len(set.Questions[1].Options)); err != nil {
		t.Fatalf("answer 2: %v", err)
	}
	result, err := s.Finish(ctx)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if result.CorrectCount != 1 || result.Percentage != 50 {
		t.Fatalf("unexpected result %+v", result)
	}

	// The stored result is visible with live provenance.
	stored, provenance, err := pipeline.List(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if provenance != domain.ProvenanceLive || len(stored) != 1 {
		t.Fatalf("expected one live result, got %s %+v", provenance, stored)
	}
	if stored[0].ResultID != result.ResultID {
		t.Fatalf("result id mismatch: %s vs %s", stored[0].ResultID, result.ResultID)
	}

	// And it ranks on the leaderboard under the roster display name.
	rows, provenance, err := engine.Leaderboard(ctx, 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if provenance != domain.ProvenanceLive || len(rows) != 1 {
		t.Fatalf("expected one live row, got %s %+v", provenance, rows)
	}
	if rows[0].DisplayName != "Alice" || rows[0].AveragePercentage != 50 {
		t.Fatalf("unexpected row %+v", rows[0])
	}

	// Submitting the same result again must not duplicate it.
	if _, err := pipeline.Submit(ctx, result); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	stored, _, err = pipeline.List(ctx, "alice")
	if err != nil {
		t.Fatalf("list after resubmit: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("resubmission duplicated the result: %+v", stored)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedQuestionSet(t *testing.T, ctx context.Context, dsn string, set domain.QuestionSet) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal set: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO question_sets (id, data) VALUES (?, ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, set.ID, string(data)); err != nil {
		t.Fatalf("insert question set: %v", err)
	}
}

func sampleSet() domain.QuestionSet {
	return domain.QuestionSet{
		ID:    "set-1",
		Title: "Arithmetic",
		Questions: []domain.Question{
			{
				ID:            "q1",
				Prompt:        "What is 2 + 2?",
				Options:       []string{"3", "4", "5"},
				CorrectOption: 1,
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
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
