package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"

	"live-classroom-service/internal/app"
	"live-classroom-service/internal/domain"
	natsbus "live-classroom-service/internal/infra/nats"
	"live-classroom-service/internal/infra/postgres"
	infraredis "live-classroom-service/internal/infra/redis"
)

// Two service instances share Redis and NATS: one hosts the session, the other
// serves a participant. The final ranking lands in Postgres.
func TestSessionAcrossInstances(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()
	natsURL, natsCleanup := startNATS(t, ctx)
	defer natsCleanup()

	db := postgres.OpenBun(pgURL)
	defer db.Close()
	if _, err := postgres.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	seedQuiz(t, ctx, db, sampleQuiz())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	loader := postgres.NewQuizLoader(pool)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	sink := postgres.NewResultSink(db)
	newInstance := func() *app.LiveService {
		nc, err := natsbus.Connect(natsURL, zerolog.Nop())
		if err != nil {
			t.Fatalf("connect nats: %v", err)
		}
		t.Cleanup(nc.Close)
		return app.NewLiveService(ctx,
			infraredis.NewSessionStore(redisClient, 5*time.Minute),
			infraredis.NewQuizRepository(redisClient, loader, 5*time.Minute, zerolog.Nop()),
			natsbus.NewBus(nc, zerolog.Nop()),
			app.WithResultSink(sink),
		)
	}
	hostInstance := newInstance()
	edgeInstance := newInstance()

	host, err := hostInstance.CreateSession(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	code := host.Code()

	if _, err := edgeInstance.Session(code); err == nil {
		t.Fatalf("edge instance must not host the session")
	}
	client, err := edgeInstance.Connect(ctx, code, "u1")
	if err != nil {
		t.Fatalf("connect through edge: %v", err)
	}
	defer client.Leave()
	if err := client.Join(ctx, "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitFor(t, func() bool {
		snap, err := host.View(ctx)
		return err == nil && len(snap.Participants) == 1
	})

	if err := hostInstance.Start(ctx, code); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool {
		snap, ok := client.Snapshot()
		return ok && snap.Phase == domain.PhaseQuestion
	})
	if err := client.SubmitOption(ctx, 1); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool {
		snap, ok := client.Snapshot()
		return ok && snap.Phase == domain.PhaseLeaderboard
	})

	if err := hostInstance.Advance(ctx, code); err != nil {
		t.Fatalf("advance: %v", err)
	}
	hostInstance.Wait()

	ranking, err := sink.Ranking(ctx, code)
	if err != nil {
		t.Fatalf("ranking: %v", err)
	}
	if len(ranking) != 1 || ranking[0].Score <= 0 {
		t.Fatalf("unexpected stored ranking %+v", ranking)
	}
	want := []domain.RankingEntry{{Rank: 1, ParticipantID: "u1", DisplayName: "Alice", Score: ranking[0].Score}}
	if diff := cmp.Diff(want, ranking); diff != "" {
		t.Fatalf("ranking mismatch (-want +got):\n%s", diff)
	}

	if err := hostInstance.CloseSession(ctx, code); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-client.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("edge participant not disconnected")
	}
	if _, err := edgeInstance.Connect(ctx, code, "u2"); err == nil {
		t.Fatalf("closed session should not accept new participants")
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
		_ = container.Terminate(context.Background())
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
		_ = container.Terminate(context.Background())
	}
}

func startNATS(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "nats:2.10-alpine",
		ExposedPorts: []string{"4222/tcp"},
		WaitingFor:   wait.ForListeningPort("4222/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start nats: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("nats host: %v", err)
	}
	port, err := container.MappedPort(ctx, "4222/tcp")
	if err != nil {
		t.Fatalf("nats port: %v", err)
	}
	url := fmt.Sprintf("nats://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(context.Background())
	}
}

func seedQuiz(t *testing.T, ctx context.Context, db *bun.DB, quiz domain.Quiz) {
	t.Helper()
	data, err := json.Marshal(quiz)
	if err != nil {
		t.Fatalf("marshal quiz: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO quizzes (id, data) VALUES (?, ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, quiz.ID, string(data)); err != nil {
		t.Fatalf("insert quiz: %v", err)
	}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Arithmetic",
		Questions: []domain.Question{
			{
				Prompt:       "What is 2 + 2?",
				Options:      []string{"3", "4", "5"},
				CorrectIndex: 1,
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

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
