package knowledge

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPreviewLines = 50
	MaxPreviewLines     = 200
	maxReferenceListing = 20
	maxManifestSize     = 4 * 1024 * 1024
)

// Preview is the manifest excerpt of a package archive.
type Preview struct {
	ID             int64          `json:"id"`
	Name           string         `json:"name"`
	Title          string         `json:"title"`
	Text           string         `json:"preview"`
	IsTruncated    bool           `json:"is_truncated"`
	TotalLines     int            `json:"total_lines"`
	PreviewLines   int            `json:"preview_lines"`
	FileCount      int            `json:"file_count"`
	ReferenceCount int            `json:"reference_count"`
	ReferenceFiles []string       `json:"reference_files"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// manifest is the parsed content of an archive.
type manifest struct {
	text       string
	fileCount  int
	references []string
}

func readManifest(data []byte) (*manifest, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, newValidationError(ReasonUnsupportedFormat, "file", "stored archive is not a valid zip")
	}

	m := &manifest{references: []string{}}
	var manifestFile *zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		m.fileCount++
		switch {
		case f.Name == ManifestName:
			manifestFile = f
		case strings.HasPrefix(f.Name, ReferencesDir):
			m.references = append(m.references, f.Name)
		}
	}
	if manifestFile == nil {
		return nil, newValidationError(ReasonInvalidStructure, "file", "missing required %s file at root", ManifestName)
	}

	rc, err := manifestFile.Open()
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(io.LimitReader(rc, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m.text = string(raw)
	return m, nil
}

// buildPreview cuts the manifest to the requested number of lines.
func buildPreview(pkg *Package, m *manifest, lines int, full bool) *Preview {
	if lines <= 0 {
		lines = DefaultPreviewLines
	}
	if lines > MaxPreviewLines {
		lines = MaxPreviewLines
	}

	all := strings.Split(strings.TrimRight(m.text, "\n"), "\n")
	if m.text == "" {
		all = nil
	}
	shown := all
	truncated := false
	if !full && len(all) > lines {
		shown = all[:lines]
		truncated = true
	}

	refs := m.references
	if len(refs) > maxReferenceListing {
		refs = refs[:maxReferenceListing]
	}

	return &Preview{
		ID:             pkg.ID,
		Name:           pkg.Name,
		Title:          pkg.Title,
		Text:           strings.Join(shown, "\n"),
		IsTruncated:    truncated,
		TotalLines:     len(all),
		PreviewLines:   len(shown),
		FileCount:      m.fileCount,
		ReferenceCount: len(m.references),
		ReferenceFiles: refs,
		Metadata:       frontMatter(m.text),
	}
}

// frontMatter parses a leading YAML block delimited by "---" lines. Invalid
// or missing front matter yields nil.
func frontMatter(text string) map[string]any {
	text = strings.TrimPrefix(text, "\ufeff")
	if !strings.HasPrefix(text, "---\n") && !strings.HasPrefix(text, "---\r\n") {
		return nil
	}
	rest := text[strings.Index(text, "\n")+1:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil
	}
	var meta map[string]any
	if err := yaml.Unmarshal([]byte(rest[:end]), &meta); err != nil {
		return nil
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}
