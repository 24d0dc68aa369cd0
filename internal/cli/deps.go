package cli

import (
	"context"
	"database/sql"
	"time"

	"exam-attempt-service/internal/app"
	"exam-attempt-service/internal/config"
	"exam-attempt-service/internal/domain"
	"exam-attempt-service/internal/infra/memory"
	pgstore "exam-attempt-service/internal/infra/postgres"
	redisstore "exam-attempt-service/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"go.uber.org/zap"
)

// deps is everything the commands wire together. Postgres and Redis are optional;
// without them the in-memory stores, cache and hub are used.
type deps struct {
	registry *prometheus.Registry
	hub      *app.Hub
	bus      *redisstore.UpdateBus
	attempts *app.AttemptService
	catalog  *app.CatalogService
	learners *pgstore.LearnerDirectory

	closers []func()
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func openBun(url string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(url)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func buildDeps(ctx context.Context, cfg config.Config, log *zap.Logger) (*deps, error) {
	d := &deps{registry: prometheus.NewRegistry(), hub: app.NewHub()}
	d.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var (
		examStore  app.ExamStore
		attempts   app.AttemptRepository
		cascade    app.ExamCascade
		directory  app.LearnerDirectory
		examCache  app.ExamCatalog
		notifier   app.Notifier = d.hub
		lockWindow              = config.TTLDuration(cfg.Submit.LockTimeout, 2*time.Second)
	)

	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, pool.Close)
		db := openBun(cfg.Postgres.URL)
		d.closers = append(d.closers, func() { _ = db.Close() })

		store := pgstore.NewAttemptStore(db, lockWindow)
		d.learners = pgstore.NewLearnerDirectory(pool)
		examStore = pgstore.NewExamStore(pool)
		attempts, cascade, directory = store, store, d.learners
	} else {
		log.Warn("postgres url not configured, using in-memory stores")
		store := memory.NewAttemptStore()
		examStore = memory.NewExamStore(sampleExams()...)
		attempts, cascade = store, store
		directory = memory.NewLearnerDirectory(map[string]string{"learner-1": "Ada", "learner-2": "Grace"})
	}

	catalogTTL := config.TTLDuration(cfg.Catalog.TTL, 10*time.Minute)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		d.closers = append(d.closers, func() { _ = client.Close() })
		examCache = redisstore.NewCatalog(client, examStore, catalogTTL)
		d.bus = redisstore.NewUpdateBus(client, d.hub, log.Named("bus"))
		notifier = d.bus
	} else {
		examCache = memory.NewCatalog(examStore, catalogTTL)
	}

	d.attempts = app.NewAttemptService(attempts, examCache,
		app.WithLogger(log.Named("attempts")),
		app.WithMetrics(app.NewMetrics(d.registry)),
		app.WithNotifier(notifier),
		app.WithLearnerDirectory(directory),
		app.WithMaxRetries(cfg.MaxRetries(3)),
	)
	d.catalog = app.NewCatalogService(examStore, examCache, cascade, log.Named("catalog"))
	return d, nil
}

// sampleExams seeds the in-memory catalog for local runs.
func sampleExams() []domain.Exam {
	return []domain.Exam{
		{
			ID:       "exam-1",
			CourseID: "course-1",
			Title:    "Arithmetic warm-up",
			Duration: 15 * time.Minute,
			Active:   true,
			Questions: []domain.Question{
				{ID: "q1", Text: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectAnswer: "4", Marks: 2, Difficulty: domain.DifficultyEasy},
				{ID: "q2", Text: "What is 6 * 7?", Options: []string{"42", "36", "48"}, CorrectAnswer: "42", Marks: 3, Difficulty: domain.DifficultyMedium},
				{ID: "q3", Text: "What is 2 ^ 10?", Options: []string{"512", "1024", "2048"}, CorrectAnswer: "1024", Marks: 5, Difficulty: domain.DifficultyHard},
			},
		},
	}
}
