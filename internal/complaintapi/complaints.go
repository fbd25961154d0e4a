package complaintapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/grievance/internal/authmw"
	"github.com/linnemanlabs/grievance/internal/complaint"
)

type submitRequest struct {
	Location    string `json:"location"`
	Description string `json:"description"`
	Urgency     string `json:"urgency,omitempty"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type listResponse struct {
	Complaints []*complaint.Record `json:"complaints"`
	Page       int                 `json:"page"`
	Limit      int                 `json:"limit"`
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := authmw.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	res, err := a.svc.Submit(r.Context(), &complaint.Submission{
		Description:     req.Description,
		Location:        req.Location,
		Submitter:       id,
		UrgencyOverride: complaint.Urgency(req.Urgency),
	})
	if err != nil {
		a.writeServiceError(r, w, err, "complaint submission failed")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("grievance.complaint.id", res.ID),
		attribute.String("grievance.category", res.Category.String()),
		attribute.String("grievance.urgency", string(res.Urgency)),
	)
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	caller, ok := authmw.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("grievance.complaint.id", id))

	rec, found, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.writeServiceError(r, w, err, "failed to get complaint")
		return
	}
	// other users' complaints are indistinguishable from missing ones
	if !found || (!caller.IsAdmin() && rec.Email != caller.Email) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleListOwn(w http.ResponseWriter, r *http.Request) {
	caller, ok := authmw.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	a.list(w, r, caller.Email)
}

func (a *API) handleListAll(w http.ResponseWriter, r *http.Request) {
	a.list(w, r, "")
}

func (a *API) list(w http.ResponseWriter, r *http.Request, email string) {
	page, err := queryInt(r, "page", 1, 1, complaint.MaxPage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", complaint.DefaultPageLimit, 1, complaint.MaxPageLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := a.svc.List(r.Context(), complaint.Page(email, page, limit))
	if err != nil {
		a.writeServiceError(r, w, err, "failed to list complaints")
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Complaints: recs, Page: page, Limit: limit})
}

func (a *API) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("grievance.complaint.id", id))

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	st, err := complaint.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, found, err := a.svc.SetStatus(r.Context(), id, st)
	if err != nil {
		a.writeServiceError(r, w, err, "failed to update complaint status")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// queryInt reads an integer query parameter. A zero max means unbounded.
func queryInt(r *http.Request, name string, def, minVal, maxVal int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < minVal || (maxVal > 0 && n > maxVal) {
		if maxVal > 0 {
			return 0, &paramError{name: name, msg: "must be an integer between " + strconv.Itoa(minVal) + " and " + strconv.Itoa(maxVal)}
		}
		return 0, &paramError{name: name, msg: "must be an integer >= " + strconv.Itoa(minVal)}
	}
	return n, nil
}

type paramError struct {
	name string
	msg  string
}

func (e *paramError) Error() string { return e.name + " " + e.msg }
