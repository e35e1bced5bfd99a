package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	payloads []GrantsWarmupPayload
	err      error
}

func (e *fakeEnqueuer) EnqueueGrantsWarmup(_ context.Context, payload GrantsWarmupPayload) (*asynq.TaskInfo, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.payloads = append(e.payloads, payload)
	return &asynq.TaskInfo{ID: "task-1", Queue: QueueDefault}, nil
}

func newJobsRouter(enqueuer WarmupEnqueuer) chi.Router {
	h := NewHandler(nil, enqueuer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func TestWarmupEndpointEnqueuesTask(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	router := newJobsRouter(enqueuer)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/warmup", strings.NewReader(`{"limit":50}`)))

	require.Equal(t, 202, rec.Code)
	require.Len(t, enqueuer.payloads, 1)
	require.Equal(t, 50, enqueuer.payloads[0].Limit)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "task-1", body["task_id"])
	require.Equal(t, QueueDefault, body["queue"])
}

func TestWarmupEndpointDefaultsEmptyBody(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	router := newJobsRouter(enqueuer)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/warmup", nil))

	require.Equal(t, 202, rec.Code)
	require.Len(t, enqueuer.payloads, 1)
	require.Zero(t, enqueuer.payloads[0].Limit)
}

func TestWarmupEndpointRejectsMalformedBody(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	router := newJobsRouter(enqueuer)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/warmup", strings.NewReader(`{not json`)))

	require.Equal(t, 400, rec.Code)
	require.Empty(t, enqueuer.payloads)
}

func TestWarmupEndpointReportsQueueFailure(t *testing.T) {
	router := newJobsRouter(&fakeEnqueuer{err: errors.New("queue down")})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/warmup", strings.NewReader(`{}`)))

	require.Equal(t, 503, rec.Code)
}

func TestWarmupEndpointWithoutEnqueuer(t *testing.T) {
	router := newJobsRouter(nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/warmup", nil))

	require.Equal(t, 503, rec.Code)
}
