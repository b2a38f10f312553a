package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// allowedSchemes are the repository URL schemes accepted for submission.
var allowedSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"git":   true,
	"ssh":   true,
}

type submitRequest struct {
	URL   string `json:"url"`
	Email string `json:"email"`
}

// EnqueueHandler handles POST /index/classic
// Body: {"url": "<repository>", "email": "<notify address>"}
func EnqueueHandler(queue *Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		if err := validateRepositoryURL(req.URL); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Email != "" {
			if _, err := mail.ParseAddress(req.Email); err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid email: %v", err))
				return
			}
		}

		handle, err := queue.Enqueue(r.Context(), req.URL, req.Email)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrQueueClosed) {
				status = http.StatusServiceUnavailable
			}
			writeError(w, status, fmt.Sprintf("failed to enqueue submission: %v", err))
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{"jobId": handle.ID})
	}
}

func validateRepositoryURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if !allowedSchemes[strings.ToLower(u.Scheme)] {
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("url must include a host")
	}
	return nil
}

// GetJobHandler handles GET /jobs/{jobId}
func GetJobHandler(store *JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobId")
		if jobID == "" {
			writeError(w, http.StatusBadRequest, "missing job ID")
			return
		}

		job, err := store.Get(r.Context(), jobID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get job: %v", err))
			return
		}
		if job == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("job %q not found", jobID))
			return
		}

		writeJSON(w, http.StatusOK, jobToResponse(job))
	}
}

// ListJobsHandler handles GET /jobs
// Query params: state, url, pageSize, pageToken
func ListJobsHandler(store *JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := JobListFilter{
			State:         r.URL.Query().Get("state"),
			RepositoryURL: r.URL.Query().Get("url"),
		}

		pageSize := 20
		if ps := r.URL.Query().Get("pageSize"); ps != "" {
			if v, err := strconv.Atoi(ps); err == nil && v > 0 {
				pageSize = v
			}
		}
		pageToken := r.URL.Query().Get("pageToken")

		records, nextToken, total, err := store.List(r.Context(), filter, pageSize, pageToken)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list jobs: %v", err))
			return
		}

		jobs := make([]jobResponse, len(records))
		for i := range records {
			jobs[i] = jobToResponse(&records[i])
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"jobs":          jobs,
			"nextPageToken": nextToken,
			"totalSize":     total,
		})
	}
}

// jobResponse is the API response for a submission job.
type jobResponse struct {
	ID              string `json:"id"`
	RepositoryURL   string `json:"url"`
	RequestedAt     string `json:"requestedAt"`
	State           string `json:"state"`
	Message         string `json:"message,omitempty"`
	StartedAt       string `json:"startedAt,omitempty"`
	FinishedAt      string `json:"finishedAt,omitempty"`
	LastError       string `json:"lastError,omitempty"`
	FailedPhase     string `json:"failedPhase,omitempty"`
	PackageName     string `json:"packageName,omitempty"`
	VersionsIndexed int    `json:"versionsIndexed,omitempty"`
	DurationMs      int64  `json:"durationMs,omitempty"`
}

// jobToResponse omits the notify address.
func jobToResponse(job *SubmissionJob) jobResponse {
	resp := jobResponse{
		ID:              job.ID,
		RepositoryURL:   job.RepositoryURL,
		RequestedAt:     job.RequestedAt.Format(time.RFC3339),
		State:           string(job.State),
		Message:         job.Message,
		LastError:       job.LastError,
		FailedPhase:     job.FailedPhase,
		PackageName:     job.PackageName,
		VersionsIndexed: job.VersionsIndexed,
		DurationMs:      job.DurationMs,
	}
	if job.StartedAt != nil {
		resp.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.FinishedAt != nil {
		resp.FinishedAt = job.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
