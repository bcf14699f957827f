package knowledge

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadManifest(t *testing.T) {
	entries := []string{ManifestName, "references/"}
	for i := range 25 {
		entries = append(entries, fmt.Sprintf("references/page-%02d.md", i))
	}
	m, err := readManifest(zipOf(t, entries...))
	require.NoError(t, err)

	assert.Equal(t, "content of "+ManifestName, m.text)
	assert.Equal(t, 26, m.fileCount)
	assert.Len(t, m.references, 25)

	_, err = readManifest(zipOf(t, "references/a.md"))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = readManifest([]byte("garbage"))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBuildPreview(t *testing.T) {
	pkg := &Package{ID: 7, Name: "godot", Title: "Godot"}
	lines := make([]string, 0, 300)
	for i := range 300 {
		lines = append(lines, fmt.Sprintf("line %d", i+1))
	}
	refs := make([]string, 0, 30)
	for i := range 30 {
		refs = append(refs, fmt.Sprintf("references/%02d.md", i))
	}
	m := &manifest{text: strings.Join(lines, "\n") + "\n", fileCount: 31, references: refs}

	tests := []struct {
		name      string
		lines     int
		full      bool
		wantShown int
		truncated bool
	}{
		{name: "default", wantShown: DefaultPreviewLines, truncated: true},
		{name: "explicit", lines: 3, wantShown: 3, truncated: true},
		{name: "capped", lines: 1000, wantShown: MaxPreviewLines, truncated: true},
		{name: "full", full: true, wantShown: 300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := buildPreview(pkg, m, tt.lines, tt.full)
			assert.Equal(t, int64(7), p.ID)
			assert.Equal(t, "godot", p.Name)
			assert.Equal(t, 300, p.TotalLines)
			assert.Equal(t, tt.wantShown, p.PreviewLines)
			assert.Equal(t, tt.truncated, p.IsTruncated)
			assert.True(t, strings.HasPrefix(p.Text, "line 1\n"))
			assert.Equal(t, 30, p.ReferenceCount)
			assert.Len(t, p.ReferenceFiles, 20)
			assert.Equal(t, 31, p.FileCount)
		})
	}

	short := buildPreview(pkg, &manifest{text: "one\ntwo\n", references: []string{}}, 50, false)
	assert.False(t, short.IsTruncated)
	assert.Equal(t, "one\ntwo", short.Text)

	empty := buildPreview(pkg, &manifest{references: []string{}}, 0, false)
	assert.Equal(t, 0, empty.TotalLines)
	assert.Equal(t, "", empty.Text)
}

func TestFrontMatter(t *testing.T) {
	tests := []struct {
		name string
		text string
		want map[string]any
	}{
		{
			name: "yaml block",
			text: "---\nname: react\nversion: 18\ntags: [ui, hooks]\n---\n# React\n",
			want: map[string]any{"name": "react", "version": 18, "tags": []any{"ui", "hooks"}},
		},
		{name: "crlf opener", text: "---\r\nname: vue\n---\nbody", want: map[string]any{"name": "vue"}},
		{name: "no front matter", text: "# Title\n---\n"},
		{name: "unterminated", text: "---\nname: x\n"},
		{name: "invalid yaml", text: "---\n: : :\n  - [\n---\n"},
		{name: "empty block", text: "---\n\n---\nbody"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, frontMatter(tt.text))
		})
	}
}
