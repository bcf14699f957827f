package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tendant/simple-knowledge/pkg/knowledge"
)

func TestParseFlag(t *testing.T) {
	tests := []struct {
		arg       string
		key, want string
	}{
		{"--note=looks good", "note", "looks good"},
		{"--json", "json", "true"},
		{"--note=a=b", "note", "a=b"},
		{"react", "", ""},
		{"-x", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			key, value := parseFlag(tt.arg)
			assert.Equal(t, tt.key, key)
			assert.Equal(t, tt.want, value)
		})
	}
}

func TestParseOptions(t *testing.T) {
	opts := parseOptions([]string{"react", "--note=ok", "--status=all", "--category=api", "--limit=5", "--offset=x", "--json"})

	assert.Equal(t, []string{"react"}, opts.args)
	assert.Equal(t, "ok", opts.note)
	assert.True(t, opts.useJSON)
	assert.Equal(t, knowledge.ListRequest{Status: "all", Category: "api", Limit: 5}, opts.list)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
