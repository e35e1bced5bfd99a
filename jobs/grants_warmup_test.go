package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakePrimer struct {
	mu     sync.Mutex
	primed []int64
	fail   map[int64]error
}

func (p *fakePrimer) Prime(ctx context.Context, principalID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail[principalID]; err != nil {
		return err
	}
	p.primed = append(p.primed, principalID)
	return nil
}

type fakeSource struct {
	ids      []int64
	err      error
	sawLimit int
}

func (s *fakeSource) ListActivePrincipals(ctx context.Context, limit int) ([]int64, error) {
	s.sawLimit = limit
	if s.err != nil {
		return nil, s.err
	}
	if limit < len(s.ids) {
		return s.ids[:limit], nil
	}
	return s.ids, nil
}

func warmupTask(t *testing.T, payload GrantsWarmupPayload) *asynq.Task {
	t.Helper()
	task, err := NewGrantsWarmupTask(payload)
	require.NoError(t, err)
	return task
}

func TestGrantsWarmupPrimesEveryPrincipal(t *testing.T) {
	primer := &fakePrimer{}
	source := &fakeSource{ids: []int64{1, 2, 3, 4, 5}}
	job := NewGrantsWarmupJob(primer, source, nil, nil)

	err := job.Handle(context.Background(), warmupTask(t, GrantsWarmupPayload{}))
	require.NoError(t, err)
	require.Len(t, primer.primed, 5)
	require.Equal(t, 200, source.sawLimit)
}

func TestGrantsWarmupHonoursPayloadLimit(t *testing.T) {
	primer := &fakePrimer{}
	source := &fakeSource{ids: []int64{1, 2, 3, 4, 5}}
	job := NewGrantsWarmupJob(primer, source, nil, nil)

	err := job.Handle(context.Background(), warmupTask(t, GrantsWarmupPayload{Limit: 2}))
	require.NoError(t, err)
	require.Len(t, primer.primed, 2)
	require.Equal(t, 2, source.sawLimit)
}

func TestGrantsWarmupReportsSourceError(t *testing.T) {
	primer := &fakePrimer{}
	source := &fakeSource{err: errors.New("boom")}
	job := NewGrantsWarmupJob(primer, source, nil, nil)

	err := job.Handle(context.Background(), warmupTask(t, GrantsWarmupPayload{}))
	require.Error(t, err)
	require.Empty(t, primer.primed)
}

func TestGrantsWarmupSurfacesPrimeFailure(t *testing.T) {
	primer := &fakePrimer{fail: map[int64]error{3: errors.New("load failed")}}
	source := &fakeSource{ids: []int64{1, 2, 3}}
	job := NewGrantsWarmupJob(primer, source, nil, nil)
	job.Concurrency = 1

	err := job.Handle(context.Background(), warmupTask(t, GrantsWarmupPayload{}))
	require.Error(t, err)
}

func TestGrantsWarmupMalformedPayloadSkipsRetry(t *testing.T) {
	primer := &fakePrimer{}
	source := &fakeSource{ids: []int64{1}}
	job := NewGrantsWarmupJob(primer, source, nil, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskGrantsWarmup, []byte("{not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, primer.primed)
}
