package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowdesk/referral-pipeline/internal/analytics"
	"github.com/glowdesk/referral-pipeline/internal/api/dto"
	"github.com/glowdesk/referral-pipeline/internal/pipeline/domain"
	"github.com/glowdesk/referral-pipeline/internal/pipeline/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStore struct {
	runs      map[string]*domain.Run
	jobs      map[string][]domain.Job
	resetErr  error
	resetIDs  []string
	listErr   error
	listCalls []storage.RunFilter
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		runs: map[string]*domain.Run{},
		jobs: map[string][]domain.Job{},
	}
}

func (f *fakeStore) FindOrCreateRun(ctx context.Context, triggerType, resourceID, payload string) (*domain.Run, bool, error) {
	id := domain.CorrelationID(triggerType, resourceID)
	if run, ok := f.runs[id]; ok {
		return run, true, nil
	}
	run := &domain.Run{
		CorrelationID: id,
		TriggerType:   triggerType,
		ResourceID:    resourceID,
		Payload:       payload,
		Stage:         string(domain.InitialStage),
		Status:        domain.RunStatusPending,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	f.runs[id] = run
	return run, false, nil
}

func (f *fakeStore) GetRun(ctx context.Context, correlationID string) (*domain.Run, error) {
	run, ok := f.runs[correlationID]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return run, nil
}

func (f *fakeStore) ListRuns(ctx context.Context, filter storage.RunFilter) ([]domain.Run, error) {
	f.listCalls = append(f.listCalls, filter)
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.Run
	for _, run := range f.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, *run)
	}
	return out, nil
}

func (f *fakeStore) ListJobsByRun(ctx context.Context, correlationID string) ([]domain.Job, error) {
	return f.jobs[correlationID], nil
}

func (f *fakeStore) ResetJob(ctx context.Context, jobID string) error {
	if f.resetErr != nil {
		return f.resetErr
	}
	f.resetIDs = append(f.resetIDs, jobID)
	return nil
}

func (f *fakeStore) CountRunsByStatus(ctx context.Context) (map[string]int, error) {
	counts := map[string]int{}
	for _, run := range f.runs {
		counts[run.Status]++
	}
	return counts, nil
}

func (f *fakeStore) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	return map[string]int{domain.JobStatusQueued: 1}, nil
}

func (f *fakeStore) CountDeadLetters(ctx context.Context) (int, error) {
	return 2, nil
}

type okPublisher struct{}

func (okPublisher) Publish(ctx context.Context, body []byte, contentType string) error { return nil }

type noopDeadLetters struct{}

func (noopDeadLetters) InsertDeadLetter(ctx context.Context, eventType, payload string) error {
	return nil
}

func (noopDeadLetters) ListOldestDeadLetters(ctx context.Context, limit int) ([]domain.AnalyticsDeadLetter, error) {
	return nil, nil
}

func (noopDeadLetters) DeleteDeadLetter(ctx context.Context, id int64) error { return nil }

func newTestHandler(store PipelineStore) *RunHandler {
	logger := slog.New(slog.DiscardHandler)
	return NewRunHandler(&Dependencies{
		Logger:   logger,
		Store:    store,
		Recorder: analytics.NewRecorder(okPublisher{}, noopDeadLetters{}, logger),
	})
}

func performJSON(t *testing.T, handlerFunc gin.HandlerFunc, method, target string, body interface{}, params gin.Params) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, target, reader)
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = params

	handlerFunc(c)
	return w
}

func TestReceiveWebhook(t *testing.T) {
	t.Run("new event creates a run", func(t *testing.T) {
		store := newFakeStore()
		h := newTestHandler(store)

		event := map[string]interface{}{
			"event_id": "evt-1",
			"type":     "booking.created",
			"data": map[string]interface{}{
				"object_id": "bk-100",
				"object":    map[string]interface{}{"booking_id": "bk-100", "customer_id": "cust-1"},
			},
		}

		w := performJSON(t, h.ReceiveWebhook, http.MethodPost, "/webhooks/platform", event, nil)

		assert.Equal(t, http.StatusCreated, w.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "booking_created:bk-100", resp["correlation_id"])
		assert.Equal(t, false, resp["reused"])

		run := store.runs["booking_created:bk-100"]
		require.NotNil(t, run)
		assert.Contains(t, run.Payload, "bk-100")
	})

	t.Run("redelivery reuses the existing run", func(t *testing.T) {
		store := newFakeStore()
		h := newTestHandler(store)

		event := map[string]interface{}{
			"type": "customer.created",
			"data": map[string]interface{}{
				"object_id": "cust-7",
				"object":    map[string]interface{}{"customer_id": "cust-7"},
			},
		}

		first := performJSON(t, h.ReceiveWebhook, http.MethodPost, "/webhooks/platform", event, nil)
		second := performJSON(t, h.ReceiveWebhook, http.MethodPost, "/webhooks/platform", event, nil)

		assert.Equal(t, http.StatusCreated, first.Code)
		assert.Equal(t, http.StatusOK, second.Code)
		assert.Len(t, store.runs, 1)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
		assert.Equal(t, true, resp["reused"])
	})

	t.Run("unhandled event type is acknowledged and dropped", func(t *testing.T) {
		store := newFakeStore()
		h := newTestHandler(store)

		event := map[string]interface{}{
			"type": "inventory.count.updated",
			"data": map[string]interface{}{"object_id": "x"},
		}

		w := performJSON(t, h.ReceiveWebhook, http.MethodPost, "/webhooks/platform", event, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, store.runs)
	})

	t.Run("missing envelope fields rejected", func(t *testing.T) {
		h := newTestHandler(newFakeStore())

		w := performJSON(t, h.ReceiveWebhook, http.MethodPost, "/webhooks/platform", map[string]interface{}{"type": "booking.created"}, nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCreateRun(t *testing.T) {
	t.Run("manual trigger starts a run", func(t *testing.T) {
		store := newFakeStore()
		h := newTestHandler(store)

		req := dto.CreateRunRequest{
			TriggerType: domain.TriggerManual,
			ResourceID:  "cust-55",
			Payload:     `{"customer_id":"cust-55"}`,
		}

		w := performJSON(t, h.CreateRun, http.MethodPost, "/api/v1/runs", req, nil)

		assert.Equal(t, http.StatusCreated, w.Code)

		var resp dto.RunDTO
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "manual:cust-55", resp.CorrelationID)
		assert.Equal(t, domain.RunStatusPending, resp.Status)
	})

	t.Run("unknown trigger type rejected", func(t *testing.T) {
		h := newTestHandler(newFakeStore())

		req := dto.CreateRunRequest{TriggerType: "mystery", ResourceID: "r1"}
		w := performJSON(t, h.CreateRun, http.MethodPost, "/api/v1/runs", req, nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetRun(t *testing.T) {
	t.Run("returns run with jobs", func(t *testing.T) {
		store := newFakeStore()
		_, _, err := store.FindOrCreateRun(context.Background(), domain.TriggerBookingCreated, "bk-9", "{}")
		require.NoError(t, err)

		store.jobs["booking_created:bk-9"] = []domain.Job{
			{
				ID:            "6d2f8a04-4b4f-4df2-9a38-0a5e6c2c9b11",
				CorrelationID: "booking_created:bk-9",
				Stage:         domain.StageCustomerIngest,
				Status:        domain.JobStatusCompleted,
				Attempts:      1,
				MaxAttempts:   domain.DefaultMaxAttempts,
			},
		}

		h := newTestHandler(store)
		w := performJSON(t, h.GetRun, http.MethodGet, "/api/v1/runs/booking_created:bk-9", nil,
			gin.Params{{Key: "correlation_id", Value: "booking_created:bk-9"}})

		assert.Equal(t, http.StatusOK, w.Code)

		var resp dto.RunDetailResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "booking_created:bk-9", resp.Run.CorrelationID)
		require.Len(t, resp.Jobs, 1)
		assert.Equal(t, string(domain.StageCustomerIngest), resp.Jobs[0].Stage)
	})

	t.Run("unknown run yields 404", func(t *testing.T) {
		h := newTestHandler(newFakeStore())

		w := performJSON(t, h.GetRun, http.MethodGet, "/api/v1/runs/nope", nil,
			gin.Params{{Key: "correlation_id", Value: "nope"}})

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestListRuns(t *testing.T) {
	t.Run("invalid status rejected", func(t *testing.T) {
		h := newTestHandler(newFakeStore())

		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/runs?status=BOGUS", nil)
		h.ListRuns(c)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("page size is clamped", func(t *testing.T) {
		store := newFakeStore()
		h := newTestHandler(store)

		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/runs?page_size=9999", nil)
		h.ListRuns(c)

		assert.Equal(t, http.StatusOK, w.Code)
		require.Len(t, store.listCalls, 1)
		assert.Equal(t, maxPageSize, store.listCalls[0].PageSize)
	})

	t.Run("invalid cursor rejected", func(t *testing.T) {
		h := newTestHandler(newFakeStore())

		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/runs?cursor=%21%21not-base64", nil)
		h.ListRuns(c)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestResetJob(t *testing.T) {
	t.Run("valid uuid resets", func(t *testing.T) {
		store := newFakeStore()
		h := newTestHandler(store)

		jobID := "6d2f8a04-4b4f-4df2-9a38-0a5e6c2c9b11"
		w := performJSON(t, h.ResetJob, http.MethodPost, "/api/v1/jobs/"+jobID+"/reset", nil,
			gin.Params{{Key: "job_id", Value: jobID}})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{jobID}, store.resetIDs)
	})

	t.Run("malformed uuid rejected", func(t *testing.T) {
		h := newTestHandler(newFakeStore())

		w := performJSON(t, h.ResetJob, http.MethodPost, "/api/v1/jobs/abc/reset", nil,
			gin.Params{{Key: "job_id", Value: "abc"}})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unresettable job yields 404", func(t *testing.T) {
		store := newFakeStore()
		store.resetErr = domain.ErrJobNotFound
		h := newTestHandler(store)

		jobID := "6d2f8a04-4b4f-4df2-9a38-0a5e6c2c9b11"
		w := performJSON(t, h.ResetJob, http.MethodPost, "/api/v1/jobs/"+jobID+"/reset", nil,
			gin.Params{{Key: "job_id", Value: jobID}})

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestGetStats(t *testing.T) {
	store := newFakeStore()
	_, _, err := store.FindOrCreateRun(context.Background(), domain.TriggerManual, "r1", "{}")
	require.NoError(t, err)

	h := newTestHandler(store)
	w := performJSON(t, h.GetStats, http.MethodGet, "/api/v1/stats", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp dto.StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Runs[domain.RunStatusPending])
	assert.Equal(t, 1, resp.Jobs[domain.JobStatusQueued])
	assert.Equal(t, 2, resp.DeadLetters)
}

func TestRunCursorRoundTrip(t *testing.T) {
	t.Run("empty cursor means first page", func(t *testing.T) {
		cursor, err := DecodeRunCursor("")
		require.NoError(t, err)
		assert.Nil(t, cursor)
	})

	t.Run("round trip preserves position", func(t *testing.T) {
		original := &storage.RunCursor{
			CreatedAt:     time.Date(2026, 3, 14, 9, 26, 53, 589793, time.UTC),
			CorrelationID: "booking_created:bk-42",
		}

		decoded, err := DecodeRunCursor(EncodeRunCursor(original))
		require.NoError(t, err)
		require.NotNil(t, decoded)
		assert.True(t, original.CreatedAt.Equal(decoded.CreatedAt))
		assert.Equal(t, original.CorrelationID, decoded.CorrelationID)
	})

	t.Run("correlation id with separator survives", func(t *testing.T) {
		original := &storage.RunCursor{
			CreatedAt:     time.Now().UTC(),
			CorrelationID: "manual:odd|resource",
		}

		decoded, err := DecodeRunCursor(EncodeRunCursor(original))
		require.NoError(t, err)
		assert.Equal(t, original.CorrelationID, decoded.CorrelationID)
	})

	t.Run("garbage rejected", func(t *testing.T) {
		for _, cursor := range []string{"!!!", "bm90LWEtY3Vyc29y", fmt.Sprintf("%x", "zz")} {
			_, err := DecodeRunCursor(cursor)
			assert.Error(t, err, "cursor %q should not decode", cursor)
		}
	})
}
