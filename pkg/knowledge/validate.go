package knowledge

import (
	"archive/zip"
	"bytes"
	"strings"
)

const (
	// DefaultMaxUploadSize is the largest archive accepted by default.
	DefaultMaxUploadSize int64 = 100 * 1024 * 1024

	// ManifestName is the document every package carries at its root.
	ManifestName = "SKILL.md"

	// ReferencesDir is the directory that must hold at least one entry.
	ReferencesDir = "references/"

	archiveExtension = ".zip"
)

// Validator performs structural checks on uploaded archives. It never
// touches storage.
type Validator struct {
	MaxSize int64
}

// NewValidator returns a validator with the given size limit, or the default
// limit when maxSize is not positive.
func NewValidator(maxSize int64) *Validator {
	if maxSize <= 0 {
		maxSize = DefaultMaxUploadSize
	}
	return &Validator{MaxSize: maxSize}
}

// CheckFileName rejects uploads whose file name is not a zip archive.
func (v *Validator) CheckFileName(fileName string) error {
	if fileName == "" {
		return nil
	}
	if !strings.HasSuffix(strings.ToLower(fileName), archiveExtension) {
		return newValidationError(ReasonUnsupportedFormat, "file", "only .zip files are allowed")
	}
	return nil
}

// Validate checks size, container format and layout, in that order.
func (v *Validator) Validate(data []byte) error {
	if int64(len(data)) > v.MaxSize {
		return newValidationError(ReasonTooLarge, "file", "file too large (%d bytes, max %d)", len(data), v.MaxSize)
	}
	if len(data) == 0 {
		return newValidationError(ReasonUnsupportedFormat, "file", "file is empty")
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return newValidationError(ReasonUnsupportedFormat, "file", "file is not a valid zip archive")
	}

	manifests := 0
	hasReferences := false
	for _, f := range zr.File {
		switch {
		case f.Name == ManifestName:
			manifests++
		case strings.HasPrefix(f.Name, ReferencesDir):
			hasReferences = true
		}
	}

	switch {
	case manifests == 0:
		return newValidationError(ReasonInvalidStructure, "file", "missing required %s file at root", ManifestName)
	case manifests > 1:
		return newValidationError(ReasonInvalidStructure, "file", "archive contains %d %s entries", manifests, ManifestName)
	case !hasReferences:
		return newValidationError(ReasonInvalidStructure, "file", "missing required %s directory", ReferencesDir)
	}
	return nil
}
