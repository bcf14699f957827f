package knowledge

import (
	"encoding/json"
	"net/mail"
	"net/url"
	"slices"
	"strings"
	"unicode/utf8"
)

const (
	maxNameLength      = 100
	maxTitleLength     = 200
	maxFrameworkLength = 100
	maxVersionLength   = 20
	maxTagLength       = 50
)

// UploadRequest contains the parameters of a package submission.
type UploadRequest struct {
	FileName string
	Data     []byte

	Name          string
	Title         string
	Description   string
	Category      string
	Framework     string
	Version       string
	SourceURL     string
	UploaderName  string
	UploaderEmail string
	// Tags accepts the comma separated form used by upload forms.
	Tags       string
	ConfigJSON string
	PageCount  *int
}

// normalize validates the descriptive fields and returns the cleaned values.
// It does not look at the archive.
func (r UploadRequest) normalize() (UploadRequest, []string, error) {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"name", r.Name},
		{"title", r.Title},
		{"description", r.Description},
		{"category", r.Category},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return r, nil, newValidationError(ReasonMissingField, strings.Join(missing, ","),
			"missing required fields: %s", strings.Join(missing, ", "))
	}

	out := r
	out.Name = SanitizeName(r.Name)
	if out.Name == "" {
		return r, nil, newValidationError(ReasonInvalidField, "name", "name contains no usable characters")
	}
	if isNumeric(out.Name) {
		// Numeric references resolve to package ids.
		return r, nil, newValidationError(ReasonInvalidField, "name", "name must contain a non-digit character")
	}
	if len(out.Name) > maxNameLength {
		return r, nil, newValidationError(ReasonInvalidField, "name", "name exceeds %d characters", maxNameLength)
	}
	out.Title = strings.TrimSpace(r.Title)
	if utf8.RuneCountInString(out.Title) > maxTitleLength {
		return r, nil, newValidationError(ReasonInvalidField, "title", "title exceeds %d characters", maxTitleLength)
	}
	out.Description = strings.TrimSpace(r.Description)
	out.Category = NormalizeCategory(r.Category)
	out.Framework = strings.TrimSpace(r.Framework)
	if utf8.RuneCountInString(out.Framework) > maxFrameworkLength {
		return r, nil, newValidationError(ReasonInvalidField, "framework", "framework exceeds %d characters", maxFrameworkLength)
	}
	out.Version = strings.TrimSpace(r.Version)
	if len(out.Version) > maxVersionLength {
		return r, nil, newValidationError(ReasonInvalidField, "version", "version exceeds %d characters", maxVersionLength)
	}

	out.SourceURL = strings.TrimSpace(r.SourceURL)
	if out.SourceURL != "" {
		u, err := url.ParseRequestURI(out.SourceURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return r, nil, newValidationError(ReasonInvalidField, "source_url", "source_url must be an absolute URL")
		}
	}

	out.UploaderName = strings.TrimSpace(r.UploaderName)
	out.UploaderEmail = strings.TrimSpace(r.UploaderEmail)
	if out.UploaderEmail != "" {
		if _, err := mail.ParseAddress(out.UploaderEmail); err != nil {
			return r, nil, newValidationError(ReasonInvalidField, "uploader_email", "uploader_email is not a valid address")
		}
	}

	out.ConfigJSON = strings.TrimSpace(r.ConfigJSON)
	if out.ConfigJSON != "" && !json.Valid([]byte(out.ConfigJSON)) {
		return r, nil, newValidationError(ReasonInvalidField, "config_json", "config_json is not valid JSON")
	}

	if r.PageCount != nil && *r.PageCount < 0 {
		return r, nil, newValidationError(ReasonInvalidField, "page_count", "page_count must not be negative")
	}

	tags, err := ParseTags(r.Tags)
	if err != nil {
		return r, nil, err
	}
	return out, tags, nil
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// SanitizeName keeps ASCII letters, digits, dots, dashes and underscores.
// Whitespace becomes an underscore and leading dots are dropped so a name is
// always a safe single path segment.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == ' ' || r == '\t':
			b.WriteRune('_')
		}
	}
	return strings.TrimLeft(b.String(), "._")
}

// NormalizeCategory maps unknown categories to CategoryOther.
func NormalizeCategory(category string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	if slices.Contains(Categories, c) {
		return c
	}
	return CategoryOther
}

// ParseTags splits a comma separated tag list, lowercasing and de-duplicating
// entries in their original order.
func ParseTags(raw string) ([]string, error) {
	tags := []string{}
	for _, part := range strings.Split(raw, ",") {
		tag := strings.ToLower(strings.TrimSpace(part))
		if tag == "" || slices.Contains(tags, tag) {
			continue
		}
		if utf8.RuneCountInString(tag) > maxTagLength {
			return nil, newValidationError(ReasonInvalidField, "tags", "tag %q exceeds %d characters", tag, maxTagLength)
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// ListRequest contains the parameters of a metadata listing. An empty Status
// lists approved packages; StatusAll lists every state.
type ListRequest struct {
	Category  string
	Framework string
	Status    string
	Limit     int
	Offset    int
}

// StatusAll selects packages in any review state.
const StatusAll = "all"

// ListResult is one page of packages.
type ListResult struct {
	Items  []*Package `json:"results"`
	Count  int        `json:"count"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// SearchRequest contains the parameters of a relevance search.
type SearchRequest struct {
	Query     string
	Category  string
	Framework string
	Sort      string
	Status    string
	Limit     int
	Offset    int
}

// DownloadRequest selects a package archive. IncludeUnapproved is the
// moderator override for packages that are not approved yet.
type DownloadRequest struct {
	ID                int64
	IncludeUnapproved bool
}

// PreviewRequest selects how much of the manifest to return.
type PreviewRequest struct {
	ID                int64
	Lines             int
	Full              bool
	IncludeUnapproved bool
}

// ReviewRequest is a moderation decision.
type ReviewRequest struct {
	ID   int64
	Note string
}

const (
	DefaultLimit   = 50
	MaxLimit       = 100
	DefaultRelated = 5
	MaxRelated     = 50
	DefaultTopN    = 10
)

// clampPage applies pagination defaults and bounds.
func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// resolveStatus maps a request status to a repository filter. An empty value
// means approved only.
func resolveStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return StatusApproved, nil
	case StatusAll:
		return "", nil
	}
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", newValidationError(ReasonInvalidField, "status", "unknown status %q", raw)
	}
	return s, nil
}
