package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerFixture struct {
	*serviceFixture
	router chi.Router
}

func newHandlerFixture() *handlerFixture {
	f := newServiceFixture()
	r := chi.NewRouter()
	NewHandler(f.svc).RegisterRoutes(r)
	return &handlerFixture{serviceFixture: f, router: r}
}

func (f *handlerFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var resp struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Error.Message
}

func TestHandler_Enqueue(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(t, http.MethodPost, "/queue/items", map[string]any{
		"notification_id": "n1",
		"priority":        2,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeData[Item](t, rec)
	assert.Equal(t, "n1", created.NotificationID)
	assert.Equal(t, 2, created.Priority)
	assert.Equal(t, StatusPending, created.Status)

	rec = f.do(t, http.MethodPost, "/queue/items", map[string]any{"notification_id": "n1"})
	require.Equal(t, http.StatusOK, rec.Code)
	existing := decodeData[Item](t, rec)
	assert.Equal(t, created.ID, existing.ID)
}

func TestHandler_Enqueue_Validation(t *testing.T) {
	f := newHandlerFixture()

	tests := []struct {
		name string
		body any
	}{
		{"missing notification id", map[string]any{"priority": 1}},
		{"priority too high", map[string]any{"notification_id": "n1", "priority": 9}},
		{"negative max retries", map[string]any{"notification_id": "n1", "max_retries": -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/queue/items", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "validation error", decodeError(t, rec))
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/queue/items", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid json", decodeError(t, rec))
}

func TestHandler_GetItem(t *testing.T) {
	f := newHandlerFixture()
	item := f.enqueue(t, "n1", 3)

	rec := f.do(t, http.MethodGet, "/queue/items/"+item.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, item.ID, decodeData[Item](t, rec).ID)

	rec = f.do(t, http.MethodGet, "/queue/items/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "queue item not found", decodeError(t, rec))
}

func TestHandler_ClaimCompleteFlow(t *testing.T) {
	f := newHandlerFixture()
	item := f.enqueue(t, "n1", 3)

	rec := f.do(t, http.MethodPost, "/queue/items/"+item.ID+"/claim", map[string]string{"worker_id": "ext-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	claimed := decodeData[Item](t, rec)
	assert.Equal(t, StatusProcessing, claimed.Status)
	require.NotNil(t, claimed.ProcessingNode)
	assert.Equal(t, "ext-1", *claimed.ProcessingNode)

	rec = f.do(t, http.MethodPost, "/queue/items/"+item.ID+"/claim", map[string]string{"worker_id": "ext-2"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "queue item already claimed", decodeError(t, rec))

	rec = f.do(t, http.MethodPost, "/queue/items/"+item.ID+"/cancel", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/queue/items/"+item.ID+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusCompleted, decodeData[Item](t, rec).Status)

	rec = f.do(t, http.MethodPost, "/queue/items/missing/claim", map[string]string{"worker_id": "ext-1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/queue/items/"+item.ID+"/claim", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Fail(t *testing.T) {
	f := newHandlerFixture()
	retryItem := f.enqueue(t, "n1", 3)
	permItem := f.enqueue(t, "n2", 3)

	for _, id := range []string{retryItem.ID, permItem.ID} {
		_, err := f.svc.Claim(context.Background(), id, "ext-1")
		require.NoError(t, err)
	}

	rec := f.do(t, http.MethodPost, "/queue/items/"+retryItem.ID+"/fail", map[string]any{"error": "timeout"})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeData[Item](t, rec)
	assert.Equal(t, StatusRetryScheduled, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	rec = f.do(t, http.MethodPost, "/queue/items/"+permItem.ID+"/fail", map[string]any{"error": "bounced", "retryable": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusFailed, decodeData[Item](t, rec).Status)

	rec = f.do(t, http.MethodPost, "/queue/items/"+permItem.ID+"/fail", map[string]any{"error": "again"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Cancel(t *testing.T) {
	f := newHandlerFixture()
	item := f.enqueue(t, "n1", 3)

	for range 2 {
		rec := f.do(t, http.MethodPost, "/queue/items/"+item.ID+"/cancel", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, StatusCancelled, decodeData[Item](t, rec).Status)
	}

	rec := f.do(t, http.MethodPost, "/queue/items/missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_ListEndpoints(t *testing.T) {
	f := newHandlerFixture()
	f.enqueue(t, "low", 5)
	urgent := f.enqueue(t, "urgent", 1)

	rec := f.do(t, http.MethodGet, "/queue/items/next?batch_size=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	next := decodeData[[]Item](t, rec)
	require.Len(t, next, 1)
	assert.Equal(t, urgent.ID, next[0].ID)

	rec = f.do(t, http.MethodGet, "/queue/items?status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[[]Item](t, rec), 2)

	rec = f.do(t, http.MethodGet, "/queue/items?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/queue/notifications/urgent/items", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[[]Item](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/queue/retryable", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeData[[]Item](t, rec))
}

func TestHandler_Sweeps(t *testing.T) {
	ctx := context.Background()
	f := newHandlerFixture()

	stuck := f.enqueue(t, "stuck", 3)
	_, err := f.svc.Claim(ctx, stuck.ID, "gone")
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	rec := f.do(t, http.MethodPost, "/queue/sweeps/stuck", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int64{"recovered": 1}, decodeData[map[string]int64](t, rec))

	f.clock.Advance(time.Minute)
	rec = f.do(t, http.MethodPost, "/queue/sweeps/retryable", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int64{"readmitted": 1}, decodeData[map[string]int64](t, rec))

	rec = f.do(t, http.MethodPost, "/queue/sweeps/cleanup", map[string]int{"days_to_keep": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/queue/sweeps/cleanup", map[string]int{"days_to_keep": 7})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int64{"deleted": 0}, decodeData[map[string]int64](t, rec))
}

func TestHandler_StatsAndSize(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(t, http.MethodGet, "/queue/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, QueueStats{}, decodeData[QueueStats](t, rec))

	f.enqueue(t, "a", 3)
	f.enqueue(t, "b", 3)

	rec = f.do(t, http.MethodGet, "/queue/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, QueueStats{Pending: 2}, decodeData[QueueStats](t, rec))

	rec = f.do(t, http.MethodGet, "/queue/size?status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	size := decodeData[struct {
		Status Status `json:"status"`
		Size   int64  `json:"size"`
	}](t, rec)
	assert.Equal(t, StatusPending, size.Status)
	assert.Equal(t, int64(2), size.Size)

	rec = f.do(t, http.MethodGet, "/queue/size", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
