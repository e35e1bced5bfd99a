package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/famiq/permiso/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SnapshotPrimer loads one principal's grant snapshot into the cache.
// Satisfied by the permission service.
type SnapshotPrimer interface {
	Prime(ctx context.Context, principalID int64) error
}

// PrincipalSource lists principals worth warming, most recently active first.
type PrincipalSource interface {
	ListActivePrincipals(ctx context.Context, limit int) ([]int64, error)
}

// GrantsWarmupJob pre-populates the grant cache for active principals so the
// first capability check after a deploy does not pay the store round trip.
type GrantsWarmupJob struct {
	Primer      SnapshotPrimer
	Source      PrincipalSource
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	BatchSize   int
	Concurrency int
}

// NewGrantsWarmupJob wires dependencies for the warmup handler.
func NewGrantsWarmupJob(primer SnapshotPrimer, source PrincipalSource, logger *slog.Logger, metrics *jobmetrics.Metrics) *GrantsWarmupJob {
	return &GrantsWarmupJob{
		Primer:      primer,
		Source:      source,
		Logger:      logger,
		Metrics:     metrics,
		BatchSize:   200,
		Concurrency: 8,
	}
}

// Handle processes grants warmup tasks.
func (j *GrantsWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Primer == nil || j.Source == nil {
		return errors.New("grants warmup: handler not configured")
	}
	var payload GrantsWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	limit := payload.Limit
	if limit <= 0 {
		limit = j.BatchSize
	}
	if limit <= 0 {
		limit = 200
	}

	tracker := j.metrics().Track(TaskGrantsWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	start := time.Now()

	principals, err := j.Source.ListActivePrincipals(ctx, limit)
	if err != nil {
		resultErr = err
		logger.Error("list active principals", slog.Any("error", err))
		return resultErr
	}
	if len(principals) == 0 {
		logger.Info("no principals discovered for warmup")
		return resultErr
	}

	concurrency := j.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}

	var primed atomic.Int64
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, principalID := range principals {
		g.Go(func() error {
			if err := j.Primer.Prime(groupCtx, principalID); err != nil {
				return err
			}
			primed.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		resultErr = err
		logger.Error("prime snapshots", slog.Any("error", err))
	}

	j.metrics().AddPrimed(TaskGrantsWarmup, int(primed.Load()))
	logger.Info("completed grants warmup",
		slog.Int64("primed", primed.Load()),
		slog.Int("candidates", len(principals)),
		slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *GrantsWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskGrantsWarmup))
	}
	return slog.Default().With(slog.String("job", TaskGrantsWarmup))
}

func (j *GrantsWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

// PgPrincipalSource reads warmup candidates from the users table.
type PgPrincipalSource struct {
	Pool *pgxpool.Pool
}

// ListActivePrincipals returns active user ids, most recently touched first.
func (s PgPrincipalSource) ListActivePrincipals(ctx context.Context, limit int) ([]int64, error) {
	if s.Pool == nil {
		return nil, errors.New("grants warmup: pool not configured")
	}
	rows, err := s.Pool.Query(ctx, `SELECT id FROM users WHERE is_active ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0, limit)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
