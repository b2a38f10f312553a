package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) (*Queue, *JobStore, http.Handler) {
	t.Helper()
	store := setupTestStore(t)
	// Run is never started, so accepted jobs stay queued.
	queue := NewQueue(store, &fakeProcessor{}, DefaultJobConfig(), nil)
	return queue, store, Router(queue, store)
}

func postSubmission(t *testing.T, h http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/index/classic", bytes.NewReader(buf))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestEnqueueHandlerAccepts(t *testing.T) {
	queue, store, h := setupRouter(t)

	w := postSubmission(t, h, map[string]string{"url": "https://example.com/widget.git", "email": "dev@example.com"})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	jobID := resp["jobId"]
	require.NotEmpty(t, jobID)

	job, err := store.Get(context.Background(), jobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "https://example.com/widget.git", job.RepositoryURL)
	assert.Equal(t, "dev@example.com", job.NotifyAddress)
	assert.Equal(t, JobStateQueued, job.State)

	pending, active := queue.Stats()
	assert.Equal(t, 1, pending)
	assert.Equal(t, 0, active)
}

func TestEnqueueHandlerEmailOptional(t *testing.T) {
	_, _, h := setupRouter(t)

	w := postSubmission(t, h, map[string]string{"url": "git://example.com/widget.git"})
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestEnqueueHandlerRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{"missing url", map[string]string{"email": "dev@example.com"}},
		{"bad scheme", map[string]string{"url": "ftp://example.com/widget.git"}},
		{"no host", map[string]string{"url": "https:///widget.git"}},
		{"bad email", map[string]string{"url": "https://example.com/widget.git", "email": "not an address"}},
		{"not json", "just a string"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			queue, _, h := setupRouter(t)

			w := postSubmission(t, h, tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			pending, _ := queue.Stats()
			assert.Equal(t, 0, pending)
		})
	}
}

func TestEnqueueHandlerQueueClosed(t *testing.T) {
	queue, _, h := setupRouter(t)
	queue.mu.Lock()
	queue.closed = true
	queue.mu.Unlock()

	w := postSubmission(t, h, map[string]string{"url": "https://example.com/widget.git"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetJobHandler(t *testing.T) {
	_, store, h := setupRouter(t)
	ctx := context.Background()

	job := newTestJob("https://example.com/widget.git", time.Now())
	require.NoError(t, store.Create(ctx, job))
	require.NoError(t, store.Fail(ctx, job.ID, "discovering-versions", "version mismatch", 10))

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp jobResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, job.ID, resp.ID)
	assert.Equal(t, "failed", resp.State)
	assert.Equal(t, "discovering-versions", resp.FailedPhase)
	assert.Equal(t, "version mismatch", resp.LastError)
	assert.NotEmpty(t, resp.FinishedAt)
	assert.NotContains(t, w.Body.String(), "dev@example.com")
}

func TestGetJobHandlerNotFound(t *testing.T) {
	_, _, h := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/nonexistent", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListJobsHandler(t *testing.T) {
	_, store, h := setupRouter(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Create(ctx, newTestJob("https://example.com/a.git", base.Add(time.Duration(i)*time.Second))))
	}

	req := httptest.NewRequest(http.MethodGet, "/jobs?pageSize=2&state=queued", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Jobs          []jobResponse `json:"jobs"`
		NextPageToken string        `json:"nextPageToken"`
		TotalSize     int           `json:"totalSize"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Len(t, resp.Jobs, 2)
	assert.Equal(t, 3, resp.TotalSize)
	assert.NotEmpty(t, resp.NextPageToken)
}

func TestListJobsHandlerBadToken(t *testing.T) {
	_, _, h := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs?pageToken=garbage", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
