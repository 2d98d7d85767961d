package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
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

	"examprep-sync-service/internal/app"
	"examprep-sync-service/internal/domain"
	pgstore "examprep-sync-service/internal/infra/postgres"
	pgmigrations "examprep-sync-service/internal/infra/postgres/migrations"
	redisroom "examprep-sync-service/internal/infra/redis"
	"examprep-sync-service/internal/infra/sqlite"
)

func TestSyncPassEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()

	seedRemote(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	remote := pgstore.NewRemoteStore(pool)

	cache, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer cache.Close()

	// Two results recorded while offline.
	created := time.Now().UTC().Truncate(time.Millisecond)
	for i, id := range []string{"r1", "r2"} {
		if err := cache.Enqueue(ctx, domain.PendingResult{
			LocalID:          id,
			UserID:           "u1",
			LicenseID:        "lic-1",
			ExamKind:         domain.KindPractice,
			Score:            6 + i,
			TotalQuestions:   10,
			TimeSpentSeconds: 400,
			CreatedAt:        created.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	coordinator := app.NewSyncCoordinator(remote, cache, cache, cache, "u1", "lic-1", 30*time.Second)
	report := coordinator.RunOnce(ctx)
	if report.DrainErr != nil || report.BankErr != nil || report.ProfileErr != nil {
		t.Fatalf("expected clean pass, got %+v", report)
	}
	if report.Drained != 2 {
		t.Fatalf("expected 2 drained, got %d", report.Drained)
	}
	if report.Profile != app.ProfileRemoteApplied {
		t.Fatalf("expected remote profile applied, got %q", report.Profile)
	}

	bank, ok, err := cache.QuestionBank(ctx, "lic-1")
	if err != nil || !ok || len(bank.Subjects) != 1 {
		t.Fatalf("expected bank cached, got ok=%v err=%v %+v", ok, err, bank)
	}
	profile, ok, _ := cache.Profile(ctx)
	if !ok || profile.DisplayName != "Alice" {
		t.Fatalf("expected mirrored profile, got ok=%v %+v", ok, profile)
	}

	// Re-running the pass must not duplicate remote rows.
	report = coordinator.RunOnce(ctx)
	if report.DrainErr != nil || report.Drained != 0 {
		t.Fatalf("expected empty second drain, got %+v", report)
	}
	if n := countResults(t, ctx, pgURL); n != 2 {
		t.Fatalf("expected exactly 2 remote results, got %d", n)
	}
}

func TestPresenceMirrorEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	client, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	store := redisroom.NewRoomStore(client, 5*time.Minute)
	service := app.NewRoomService(store, store, 30*time.Second, 0)

	if _, err := service.Join(ctx, "room-1", "u1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := service.PushProgress(ctx, "room-1", "u1", app.Progress{CurrentIndex: 2, TimeLeftSeconds: 500, LiveScore: 1, Seq: 1}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if _, err := service.Submit(ctx, "room-1", "u1", 8); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// A late deferred disconnect must not override the submission.
	service.ResolveDisconnect(ctx, "room-1", "u1")

	p, err := store.Participant(ctx, "room-1", "u1")
	if err != nil {
		t.Fatalf("read participant: %v", err)
	}
	if p.Status != domain.StatusSubmitted || p.LiveScore != 8 {
		t.Fatalf("expected submitted state mirrored, got %+v", p)
	}
}

func seedRemote(t *testing.T, ctx context.Context, dsn string) {
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

	if _, err := db.ExecContext(ctx, `INSERT INTO users (id, display_name, role, assigned_course_id, offline_access_allowed, updated_at)
		VALUES ('u1', 'Alice', 'student', 'course-1', TRUE, now())`); err != nil {
		t.Fatalf("insert user: %v", err)
	}

	bank := domain.QuestionBank{
		LicenseID: "lic-1",
		Subjects: []domain.Subject{
			{ID: "s1", Name: "Navigation", Questions: []domain.Question{
				{ID: "q1", Prompt: "What is 2 + 2?", Options: []domain.Option{
					{ID: "o1", Text: "3"},
					{ID: "o2", Text: "4", Correct: true},
				}},
			}},
		},
	}
	data, err := json.Marshal(bank)
	if err != nil {
		t.Fatalf("marshal bank: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO question_banks (license_id, data) VALUES ('lic-1', ?::jsonb)`, string(data)); err != nil {
		t.Fatalf("insert bank: %v", err)
	}
}

func countResults(t *testing.T, ctx context.Context, dsn string) int {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	defer sqldb.Close()
	var n int
	if err := sqldb.QueryRowContext(ctx, `SELECT count(*) FROM exam_results`).Scan(&n); err != nil {
		t.Fatalf("count results: %v", err)
	}
	return n
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "prep", "POSTGRES_PASSWORD": "preppass", "POSTGRES_DB": "prepdb"},
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
	dsn := fmt.Sprintf("postgres://prep:preppass@%s:%s/prepdb?sslmode=disable", host, port.Port())
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
