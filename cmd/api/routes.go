package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/dre-pipeline/internal/api/handlers"
	"github.com/dvloznov/dre-pipeline/internal/api/middleware"
	"github.com/dvloznov/dre-pipeline/internal/app"
	"github.com/dvloznov/dre-pipeline/internal/jobs"
	"github.com/rs/zerolog"
)

// newRouter registers every endpoint and wraps the mux in middleware.
func newRouter(a *app.App, publisher jobs.Publisher, jobStore jobs.JobStore, token string, log zerolog.Logger) http.Handler {
	importsHandler := handlers.NewImportsHandler(a.Runner, publisher, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, log)
	executionsHandler := handlers.NewExecutionsHandler(a.Backend, log)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/imports", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			importsHandler.CreateImport(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Jobs endpoints
	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobsHandler.ListJobs(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		if jobID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		jobsHandler.GetJob(w, r, jobID)
	})

	// Executions endpoints
	mux.HandleFunc("/api/executions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			executionsHandler.ListExecutions(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/executions/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		executionID := strings.TrimPrefix(r.URL.Path, "/api/executions/")
		if executionID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Execution ID is required")
			return
		}
		executionsHandler.GetExecution(w, r, executionID)
	})

	mux.Handle("/metrics", a.Metrics.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"backend": a.Config.Backend.Type,
			"time":    time.Now().Format(time.RFC3339),
		})
	})

	return middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(
					middleware.Auth(token, "/health", "/metrics")(mux),
				),
			),
		),
	)
}
