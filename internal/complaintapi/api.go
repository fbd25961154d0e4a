// Package complaintapi exposes complaint submission, listing and status
// administration over HTTP.
package complaintapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/grievance/internal/authmw"
	"github.com/linnemanlabs/grievance/internal/complaint"
	"github.com/linnemanlabs/grievance/internal/triage"
)

// ComplaintService defines the business operations complaintapi needs.
type ComplaintService interface {
	Submit(ctx context.Context, sub *complaint.Submission) (*triage.Result, error)
	Get(ctx context.Context, id string) (*complaint.Record, bool, error)
	List(ctx context.Context, f complaint.ListFilter) ([]*complaint.Record, error)
	SetStatus(ctx context.Context, id string, st complaint.Status) (*complaint.Record, bool, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    ComplaintService
	auth   func(http.Handler) http.Handler
}

// New creates a new API handler. auth must place an identity on the request
// context (see authmw.Authenticate).
func New(logger log.Logger, svc ComplaintService, auth func(http.Handler) http.Handler) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("complaint service is required"))
	}
	if auth == nil {
		panic(xerrors.New("auth middleware is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
		auth:   auth,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(a.auth)

		r.Post("/complaints", a.handleSubmit)
		r.Get("/complaints", a.handleListOwn)
		r.Get("/complaints/{id}", a.handleGet)

		r.Route("/admin/complaints", func(r chi.Router) {
			r.Use(authmw.RequireAdmin)
			r.Get("/", a.handleListAll)
			r.Get("/{id}", a.handleGet)
			r.Patch("/{id}", a.handleSetStatus)
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps the complaint error taxonomy onto HTTP statuses.
func (a *API) writeServiceError(r *http.Request, w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, complaint.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, complaint.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, complaint.ErrModelUnavailable):
		a.logger.Error(r.Context(), err, msg)
		writeError(w, http.StatusServiceUnavailable, "classification unavailable")
	case errors.Is(err, complaint.ErrPersistence):
		a.logger.Error(r.Context(), err, msg)
		writeError(w, http.StatusServiceUnavailable, "complaint could not be stored")
	case errors.Is(err, complaint.ErrUnroutableCategory):
		a.logger.Error(r.Context(), err, msg)
		writeError(w, http.StatusInternalServerError, "no department configured for category")
	default:
		a.logger.Error(r.Context(), err, msg)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
