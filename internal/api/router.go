// Package api wires the HTTP routes of the subscription service.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/subscription-tracker/internal/api/handlers"
	"github.com/dvloznov/subscription-tracker/internal/api/middleware"
	"github.com/rs/zerolog"
)

// Deps are the collaborators of the router.
type Deps struct {
	Subscriptions *handlers.SubscriptionsHandler
	Jobs          *handlers.JobsHandler
	Insights      *handlers.InsightsHandler
	JWTSecret     string
	Log           zerolog.Logger
}

// NewRouter builds the mux and wraps it in the middleware stack.
func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			d.Subscriptions.List(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/subscriptions/detect", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			d.Subscriptions.Detect(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/subscriptions/detect-async", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			d.Jobs.EnqueueDetection(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/subscriptions/due-soon", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			d.Subscriptions.DueSoon(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/subscriptions/audit", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			d.Subscriptions.Audit(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/subscriptions/insights", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			d.Insights.Get(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// /api/subscriptions/{id}/ignore
	mux.HandleFunc("/api/subscriptions/", func(w http.ResponseWriter, r *http.Request) {
		id, ok := handlers.ParseIgnorePath(r.URL.Path)
		if !ok {
			middleware.WriteError(w, http.StatusNotFound, "Not found")
			return
		}
		if r.Method == http.MethodPut || r.Method == http.MethodPost {
			d.Subscriptions.Ignore(w, r, id)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			d.Jobs.ListJobs(w, r)
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
		d.Jobs.GetJob(w, r, jobID)
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return middleware.Chain(mux,
		middleware.Recovery(d.Log),
		middleware.RequestID,
		middleware.Logger(d.Log),
		middleware.CORS,
		middleware.Auth(d.JWTSecret),
	)
}
