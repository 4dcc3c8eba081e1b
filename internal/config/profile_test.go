package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vecsync/internal/config"
	"vecsync/internal/text"
)

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadProfile_Default(t *testing.T) {
	p, err := config.LoadProfile("")
	require.NoError(t, err)
	assert.Equal(t, "content", p.TextField)
	assert.Equal(t, text.DefaultOptions(), p.Chunking)
}

func TestLoadProfile_File(t *testing.T) {
	path := writeProfile(t, `
text_field: body
source_tag: wiki
metadata_fields:
  - name: title
    type: text
  - name: lang
    type: keyword
  - name: views
    type: int
chunking:
  target_tokens: 200
  overlap_percent: 10
`)

	p, err := config.LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "body", p.TextField)
	assert.Equal(t, 200, p.Chunking.TargetTokens)
	assert.Equal(t, 10, p.Chunking.OverlapPercent)
	// untouched keys keep defaults
	assert.True(t, p.Chunking.PreserveSentenceBoundaries)
	assert.Equal(t, text.DefaultMinChunkChars, p.Chunking.MinChunkChars)

	m := p.Mapping()
	assert.Equal(t, []string{"title", "lang", "views"}, m.MetadataFields)
	assert.Equal(t, "wiki", m.SourceTag)

	props, err := p.Collection("Docs").Properties()
	require.NoError(t, err)
	names := make([]string, len(props))
	for i, prop := range props {
		names[i] = prop.Name
	}
	assert.Contains(t, names, "views")
}

func TestLoadProfile_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"Unknown Type", "text_field: body\nmetadata_fields:\n  - name: x\n    type: blob\n"},
		{"Duplicate Field", "text_field: body\nmetadata_fields:\n  - name: x\n  - name: x\n"},
		{"Unnamed Field", "text_field: body\nmetadata_fields:\n  - type: int\n"},
		{"Zero Target", "text_field: body\nchunking:\n  target_tokens: 0\n"},
		{"Overlap Above Range", "text_field: body\nchunking:\n  overlap_percent: 60\n"},
		{"Negative Overlap", "text_field: body\nchunking:\n  overlap_percent: -5\n"},
		{"Negative Min Chars", "text_field: body\nchunking:\n  min_chunk_chars: -1\n"},
		{"Min Chars Exceed Window", "text_field: body\nchunking:\n  target_tokens: 10\n  min_chunk_chars: 41\n"},
		{"Default Min Chars Exceed Window", "text_field: body\nchunking:\n  target_tokens: 12\n  min_chunk_chars: 0\n"},
		{"Malformed", "text_field: [unterminated\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadProfile(writeProfile(t, tt.body))
			assert.ErrorIs(t, err, config.ErrInvalid)
		})
	}

	t.Run("Boundary Values Accepted", func(t *testing.T) {
		p, err := config.LoadProfile(writeProfile(t, "text_field: body\nchunking:\n  target_tokens: 10\n  min_chunk_chars: 40\n  overlap_percent: 50\n"))
		require.NoError(t, err)
		assert.Equal(t, 40, p.Chunking.MinChunkChars)
		assert.Equal(t, 50, p.Chunking.OverlapPercent)
	})

	t.Run("Missing File", func(t *testing.T) {
		_, err := config.LoadProfile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("Blank Text Field", func(t *testing.T) {
		_, err := config.LoadProfile(writeProfile(t, "text_field: \"\"\n"))
		assert.ErrorIs(t, err, config.ErrMissingRequired)
	})
}
