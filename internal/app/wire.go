package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-essay-detector/internal/adapter/ai/detector"
	"github.com/fairyhunter13/ai-essay-detector/internal/adapter/blob/fsstore"
	"github.com/fairyhunter13/ai-essay-detector/internal/adapter/events"
	"github.com/fairyhunter13/ai-essay-detector/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-essay-detector/internal/adapter/textextractor/tika"
	"github.com/fairyhunter13/ai-essay-detector/internal/config"
	"github.com/fairyhunter13/ai-essay-detector/internal/domain"
	"github.com/fairyhunter13/ai-essay-detector/internal/service/ratelimiter"
	"github.com/fairyhunter13/ai-essay-detector/internal/usecase"
)

// detectorBucket is the limiter bucket gating calls to the detection service.
const detectorBucket = "detector"

// Deps holds everything the server and worker processes share.
type Deps struct {
	Pool      *pgxpool.Pool
	Tasks     *postgres.TaskRepo
	Documents *postgres.DocumentRepo
	Results   *postgres.ResultRepo
	Batches   *postgres.BatchRepo
	Teachers  *postgres.TeacherRepo
	Blobs     *fsstore.Store
	Extractor *tika.Client
	Detector  *detector.Client
	Events    *events.Producer
	Limiter   ratelimiter.Limiter
	Quota     *usecase.QuotaService
}

// BuildDeps connects to the database, runs migrations, and constructs the
// adapters. Call Close when done.
func BuildDeps(ctx context.Context, cfg config.Config) (*Deps, error) {
	if err := postgres.Migrate(cfg.DBURL); err != nil {
		return nil, fmt.Errorf("op=app.migrate: %w", err)
	}
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("op=app.pool: %w", err)
	}

	blobs, err := fsstore.New(cfg.BlobDir)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("op=app.blobs: %w", err)
	}

	producer, err := events.NewProducer(cfg.KafkaBrokers, cfg.EventsTopic)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("op=app.events: %w", err)
	}

	var limiter ratelimiter.Limiter
	if cfg.RedisURL != "" && cfg.DetectorPerMin > 0 {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("op=app.redis: %w", err)
		}
		limiter = ratelimiter.NewRedisLuaLimiter(redis.NewClient(opts), map[string]ratelimiter.BucketConfig{
			detectorBucket: ratelimiter.NewBucketConfigFromPerMinute(cfg.DetectorPerMin),
		})
	}

	teachers := postgres.NewTeacherRepo(pool)
	quota := usecase.NewQuotaService(teachers, map[domain.Plan]usecase.PlanLimits{
		domain.PlanFree: {Words: cfg.FreeMonthlyWords, Characters: cfg.FreeMonthlyChars},
		domain.PlanPro:  {Words: cfg.ProMonthlyWords, Characters: cfg.ProMonthlyChars},
	})

	return &Deps{
		Pool:      pool,
		Tasks:     postgres.NewTaskRepo(pool),
		Documents: postgres.NewDocumentRepo(pool),
		Results:   postgres.NewResultRepo(pool),
		Batches:   postgres.NewBatchRepo(pool),
		Teachers:  teachers,
		Blobs:     blobs,
		Extractor: tika.New(cfg.TikaURL),
		Detector:  detector.New(cfg.DetectorURL, cfg.DetectorTimeout),
		Events:    producer,
		Limiter:   limiter,
		Quota:     quota,
	}, nil
}

// Ready probes the database; used by /readyz.
func (d *Deps) Ready(ctx context.Context) error {
	return d.Pool.Ping(ctx)
}

// Close releases held connections.
func (d *Deps) Close() {
	if d.Events != nil {
		d.Events.Close()
	}
	d.Pool.Close()
}

// EventPublisher returns the producer as the domain port, or nil when
// publishing is disabled.
func (d *Deps) EventPublisher() domain.EventPublisher {
	if d.Events == nil {
		return nil
	}
	return d.Events
}
