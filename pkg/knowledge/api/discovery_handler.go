package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/simple-knowledge/pkg/knowledge"
)

// Search ranks packages against the q parameter.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req := knowledge.SearchRequest{
		Query:     q.Get("q"),
		Category:  q.Get("category"),
		Framework: q.Get("framework"),
		Sort:      q.Get("sort"),
		Status:    q.Get("status"),
		Limit:     limit,
		Offset:    offset,
	}

	search := func(w http.ResponseWriter, r *http.Request) {
		result, err := h.service.Search(r.Context(), req)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		render.JSON(w, r, result)
	}
	if needsModerator(req.Status) {
		h.asModerator(w, r, search)
		return
	}
	search(w, r)
}

// CategoryCount is one entry of GET /categories.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// CategoriesResponse lists categories of approved packages.
type CategoriesResponse struct {
	Categories []CategoryCount `json:"categories"`
	Total      int             `json:"total"`
}

// Categories returns approved package counts per category.
func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	facets, err := h.service.Categories(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := CategoriesResponse{Categories: make([]CategoryCount, 0, len(facets)), Total: len(facets)}
	for _, f := range facets {
		resp.Categories = append(resp.Categories, CategoryCount{Category: f.Value, Count: f.Count})
	}
	render.JSON(w, r, resp)
}

// FrameworkCount is one entry of GET /frameworks.
type FrameworkCount struct {
	Framework string `json:"framework"`
	Count     int    `json:"count"`
}

// FrameworksResponse lists frameworks of approved packages.
type FrameworksResponse struct {
	Frameworks []FrameworkCount `json:"frameworks"`
	Total      int              `json:"total"`
}

// Frameworks returns approved package counts per framework.
func (h *Handler) Frameworks(w http.ResponseWriter, r *http.Request) {
	facets, err := h.service.Frameworks(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := FrameworksResponse{Frameworks: make([]FrameworkCount, 0, len(facets)), Total: len(facets)}
	for _, f := range facets {
		resp.Frameworks = append(resp.Frameworks, FrameworkCount{Framework: f.Value, Count: f.Count})
	}
	render.JSON(w, r, resp)
}

// TopRatedResponse lists the best scored approved packages.
type TopRatedResponse struct {
	Results []packageView `json:"results"`
	Count   int           `json:"count"`
}

// TopRated returns approved packages ordered by score.
func (h *Handler) TopRated(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	pkgs, err := h.service.TopRated(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, TopRatedResponse{Results: newPackageViews(pkgs), Count: len(pkgs)})
}

// VoteResponse is the rating snapshot after a vote.
type VoteResponse struct {
	Success bool  `json:"success"`
	ID      int64 `json:"id"`
	knowledge.Rating
}

// Vote records an anonymous upvote or downvote.
func (h *Handler) Vote(w http.ResponseWriter, r *http.Request) {
	var dir knowledge.VoteDirection
	switch strings.ToLower(chi.URLParam(r, "direction")) {
	case "upvote", "up":
		dir = knowledge.VoteUp
	case "downvote", "down":
		dir = knowledge.VoteDown
	default:
		h.writeError(w, r, &knowledge.ValidationError{
			Reason:  knowledge.ReasonInvalidField,
			Field:   "direction",
			Message: "must be upvote or downvote",
		})
		return
	}

	pkg, err := h.resolve(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rating, err := h.service.Vote(r.Context(), pkg.ID, dir)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, VoteResponse{Success: true, ID: pkg.ID, Rating: *rating})
}

// Health reports database and storage reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.service.Health(r.Context())
	if !status.Healthy() {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, status)
}
