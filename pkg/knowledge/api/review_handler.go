package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/render"
	"github.com/tendant/simple-knowledge/pkg/knowledge"
)

// ReviewDecisionRequest is the optional body of approve and reject.
type ReviewDecisionRequest struct {
	Note string `json:"note"`
}

// ReviewDecisionResponse reports the outcome of a moderation action.
type ReviewDecisionResponse struct {
	Success bool               `json:"success"`
	Status  knowledge.Status   `json:"status"`
	Message string             `json:"message"`
	Note    string             `json:"note,omitempty"`
	Package *knowledge.Package `json:"package"`
}

// PendingResponse lists packages waiting for review.
type PendingResponse struct {
	Results []packageView `json:"results"`
	Count   int           `json:"count"`
}

// PendingReviews lists pending packages, newest first.
func (h *Handler) PendingReviews(w http.ResponseWriter, r *http.Request) {
	pkgs, err := h.service.PendingReviews(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, PendingResponse{Results: newPackageViews(pkgs), Count: len(pkgs)})
}

// ReviewStats counts packages per review state.
func (h *Handler) ReviewStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.ReviewStats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, stats)
}

// Approve publishes a pending package.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, knowledge.StatusApproved)
}

// Reject declines a pending package.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, knowledge.StatusRejected)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, to knowledge.Status) {
	note, err := reviewNote(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ref, err := h.resolve(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	req := knowledge.ReviewRequest{ID: ref.ID, Note: note}
	var pkg *knowledge.Package
	if to == knowledge.StatusApproved {
		pkg, err = h.service.Approve(r.Context(), req)
	} else {
		pkg, err = h.service.Reject(r.Context(), req)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.JSON(w, r, ReviewDecisionResponse{
		Success: true,
		Status:  pkg.Status,
		Message: "Package " + pkg.Name + " " + string(pkg.Status),
		Note:    pkg.ReviewNote,
		Package: pkg,
	})
}

// reviewNote reads the note from a JSON body, a form field or the query.
func reviewNote(r *http.Request) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body ReviewDecisionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return "", &knowledge.ValidationError{
				Reason:  knowledge.ReasonInvalidField,
				Field:   "note",
				Message: "request body must be a JSON object",
			}
		}
		return body.Note, nil
	}
	return r.FormValue("note"), nil
}

// Reconcile repairs packages whose archive location disagrees with their status.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Reconcile(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, report)
}
