package jobs

import (
	"github.com/go-chi/chi/v5"
)

// Router creates a chi.Router for submission intake and job status.
func Router(queue *Queue, store *JobStore) chi.Router {
	r := chi.NewRouter()

	r.Post("/index/classic", EnqueueHandler(queue))
	r.Get("/jobs", ListJobsHandler(store))
	r.Get("/jobs/{jobId}", GetJobHandler(store))

	return r
}
