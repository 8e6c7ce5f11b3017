// Package ops serves the operational HTTP endpoints: metrics, health and job administration.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tigerroll/riptide/example/reminder/internal/reminder"
	"github.com/tigerroll/riptide/pkg/flow/component/archive"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/repository"
	"github.com/tigerroll/riptide/pkg/flow/engine/job"
	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

const readinessTimeout = 2 * time.Second

// Deps are the services behind the routes. Metrics and Archiver may be nil.
type Deps struct {
	Metrics   http.Handler
	Store     repository.JobStore
	Manager   *job.Manager
	Reminders *reminder.Service
	Archiver  *archive.Archiver
}

type scheduleRequest struct {
	Recipient string        `json:"recipient"`
	Message   string        `json:"message"`
	DueIn     time.Duration `json:"due_in"`
	Repeat    string        `json:"repeat"`
}

type resubmitRequest struct {
	Retries int `json:"retries"`
}

// NewRouter builds the ops router.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), readinessTimeout)
		defer cancel()
		if _, err := d.Store.CountByCollection(ctx, model.CollectionReady); err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	r.Get("/collections", func(w http.ResponseWriter, req *http.Request) {
		counts := make(map[model.Collection]int64, len(model.Collections))
		for _, c := range model.Collections {
			n, err := d.Store.CountByCollection(req.Context(), c)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			counts[c] = n
		}
		writeJSON(w, http.StatusOK, counts)
	})

	r.Route("/reminders", func(r chi.Router) {
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			var body scheduleRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			j, err := d.Reminders.Schedule(req.Context(),
				reminder.Reminder{Recipient: body.Recipient, Message: body.Message},
				time.Now().Add(body.DueIn), body.Repeat)
			if err != nil {
				writeError(w, statusOf(err), err)
				return
			}
			writeJSON(w, http.StatusCreated, j)
		})
	})

	r.Route("/jobs/{id}", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			j, err := d.Manager.FindJob(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeError(w, statusOf(err), err)
				return
			}
			writeJSON(w, http.StatusOK, j)
		})
		r.Post("/resubmit", func(w http.ResponseWriter, req *http.Request) {
			body := resubmitRequest{Retries: 3}
			if req.ContentLength > 0 {
				if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
					writeError(w, http.StatusBadRequest, err)
					return
				}
			}
			if err := d.Manager.ResubmitDeadLetterJob(req.Context(), chi.URLParam(req, "id"), body.Retries); err != nil {
				writeError(w, statusOf(err), err)
				return
			}
			w.WriteHeader(http.StatusAccepted)
		})
	})

	r.Route("/correlations/{id}", func(r chi.Router) {
		r.Post("/suspend", func(w http.ResponseWriter, req *http.Request) {
			n, err := d.Manager.SuspendJobs(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeError(w, statusOf(err), err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]int{"suspended": n})
		})
		r.Post("/activate", func(w http.ResponseWriter, req *http.Request) {
			n, err := d.Manager.ActivateJobs(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeError(w, statusOf(err), err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]int{"activated": n})
		})
	})

	if d.Archiver != nil {
		r.Post("/archive", func(w http.ResponseWriter, req *http.Request) {
			res, err := d.Archiver.Archive(req.Context())
			if err != nil {
				writeError(w, statusOf(err), err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})
	}
	return r
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, repository.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, job.ErrInvalidJob), errors.Is(err, repository.ErrInvalidTransition):
		return http.StatusBadRequest
	case exception.IsConfigurationError(err):
		return http.StatusUnprocessableEntity
	case exception.IsTemporary(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("ops: failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": exception.ExtractErrorMessage(err)})
}
