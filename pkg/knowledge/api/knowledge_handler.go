package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/render"
	"github.com/tendant/simple-knowledge/pkg/knowledge"
)

// UploadResponse is returned by POST /knowledge.
type UploadResponse struct {
	Success  bool             `json:"success"`
	ID       int64            `json:"id"`
	Name     string           `json:"name"`
	FileHash string           `json:"file_hash"`
	FileSize int64            `json:"file_size"`
	Status   knowledge.Status `json:"status"`
	Message  string           `json:"message"`
}

// ListResponse is one page of GET /knowledge.
type ListResponse struct {
	Results []packageView `json:"results"`
	Count   int           `json:"count"`
	Total   int           `json:"total"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
}

// multipartMemory is the part of a multipart body kept in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

// Upload accepts a multipart archive submission.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+uploadOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			h.writeError(w, r, err)
			return
		}
		h.writeError(w, r, &knowledge.ValidationError{
			Reason:  knowledge.ReasonInvalidField,
			Field:   "file",
			Message: "request must be multipart/form-data",
		})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, &knowledge.ValidationError{
			Reason:  knowledge.ReasonMissingField,
			Field:   "file",
			Message: "file is required",
		})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	req := knowledge.UploadRequest{
		FileName:      header.Filename,
		Data:          data,
		Name:          r.FormValue("name"),
		Title:         r.FormValue("title"),
		Description:   r.FormValue("description"),
		Category:      r.FormValue("category"),
		Framework:     r.FormValue("framework"),
		Version:       r.FormValue("version"),
		SourceURL:     r.FormValue("source_url"),
		UploaderName:  r.FormValue("uploader_name"),
		UploaderEmail: r.FormValue("uploader_email"),
		Tags:          r.FormValue("tags"),
		ConfigJSON:    r.FormValue("config_json"),
	}
	if raw := strings.TrimSpace(r.FormValue("page_count")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, r, &knowledge.ValidationError{
				Reason:  knowledge.ReasonInvalidField,
				Field:   "page_count",
				Message: "must be a non-negative integer",
			})
			return
		}
		req.PageCount = &n
	}

	pkg, err := h.service.Upload(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, UploadResponse{
		Success:  true,
		ID:       pkg.ID,
		Name:     pkg.Name,
		FileHash: pkg.FileHash,
		FileSize: pkg.FileSize,
		Status:   pkg.Status,
		Message:  "Package uploaded successfully and is pending review",
	})
}

// List returns a filtered page of packages. Statuses other than approved are
// moderator only.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
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
	req := knowledge.ListRequest{
		Category:  q.Get("category"),
		Framework: q.Get("framework"),
		Status:    q.Get("status"),
		Limit:     limit,
		Offset:    offset,
	}

	list := func(w http.ResponseWriter, r *http.Request) {
		result, err := h.service.List(r.Context(), req)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		render.JSON(w, r, ListResponse{
			Results: newPackageViews(result.Items),
			Count:   result.Count,
			Total:   result.Total,
			Limit:   result.Limit,
			Offset:  result.Offset,
		})
	}
	if needsModerator(req.Status) {
		h.asModerator(w, r, list)
		return
	}
	list(w, r)
}

// needsModerator reports whether a status filter reaches past approved packages.
func needsModerator(status string) bool {
	s := strings.ToLower(strings.TrimSpace(status))
	return s != "" && s != string(knowledge.StatusApproved)
}

// Get returns full metadata for a package in any review state.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	pkg, err := h.resolve(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, newPackageView(pkg))
}

// Download streams the archive and counts the download.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	download := func(includeUnapproved bool) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ref, err := h.resolve(r)
			if err != nil {
				h.writeError(w, r, err)
				return
			}
			pkg, rc, err := h.service.Download(r.Context(), knowledge.DownloadRequest{
				ID:                ref.ID,
				IncludeUnapproved: includeUnapproved,
			})
			if err != nil {
				h.writeError(w, r, err)
				return
			}
			defer rc.Close()

			w.Header().Set("Content-Type", "application/zip")
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", pkg.Name+".zip"))
			w.Header().Set("Content-Length", strconv.FormatInt(pkg.FileSize, 10))
			w.Header().Set("ETag", strconv.Quote(pkg.FileHash))
			w.WriteHeader(http.StatusOK)
			if _, err := io.Copy(w, rc); err != nil {
				h.logger.WarnContext(r.Context(), "Download interrupted", "package_id", pkg.ID, "error", err)
			}
		}
	}

	if queryBool(r, "include_unapproved") {
		h.asModerator(w, r, download(true))
		return
	}
	download(false)(w, r)
}

// Preview returns the beginning of the manifest and archive counts.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	lines, err := queryInt(r, "lines")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	preview := func(includeUnapproved bool) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ref, err := h.resolve(r)
			if err != nil {
				h.writeError(w, r, err)
				return
			}
			p, err := h.service.Preview(r.Context(), knowledge.PreviewRequest{
				ID:                ref.ID,
				Lines:             lines,
				Full:              queryBool(r, "full"),
				IncludeUnapproved: includeUnapproved,
			})
			if err != nil {
				h.writeError(w, r, err)
				return
			}
			render.JSON(w, r, p)
		}
	}

	if queryBool(r, "include_unapproved") {
		h.asModerator(w, r, preview(true))
		return
	}
	preview(false)(w, r)
}

// RelatedResponse lists recommendations for one package.
type RelatedResponse struct {
	ID      int64                    `json:"id"`
	Results []*knowledge.RelatedItem `json:"results"`
	Count   int                      `json:"count"`
}

// Related returns approved packages similar to the given one.
func (h *Handler) Related(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	pkg, err := h.resolve(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items, err := h.service.Related(r.Context(), pkg.ID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, RelatedResponse{ID: pkg.ID, Results: items, Count: len(items)})
}

// SuggestTagsResponse lists vocabulary tags missing from a package.
type SuggestTagsResponse struct {
	ID            int64    `json:"id"`
	ExistingTags  []string `json:"existing_tags"`
	SuggestedTags []string `json:"suggested_tags"`
}

// SuggestTags returns candidate tags for a package.
func (h *Handler) SuggestTags(w http.ResponseWriter, r *http.Request) {
	pkg, err := h.resolve(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	tags, err := h.service.SuggestTags(r.Context(), pkg.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, SuggestTagsResponse{ID: pkg.ID, ExistingTags: pkg.Tags, SuggestedTags: tags})
}
