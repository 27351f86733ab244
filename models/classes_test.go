package models

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLabels(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
		err      error
	}{
		{
			name:     "one per line",
			input:    "person\nbicycle\ncar\n",
			expected: []string{"person", "bicycle", "car"},
		},
		{
			name:     "crlf, padding and blank lines",
			input:    "  1 yuan \r\n\r\n5 yuan\r\n\n10 yuan",
			expected: []string{"1 yuan", "5 yuan", "10 yuan"},
		},
		{
			name:  "empty",
			input: "\n \n",
			err:   ErrNoLabels,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			labels, err := LoadLabels(strings.NewReader(tt.input))
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, labels)
		})
	}
}

func TestLoadLabelsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classes.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(COCOLabels, "\n")), 0o600))

	labels, err := LoadLabelsFile(path)
	require.NoError(t, err)
	assert.Equal(t, COCOLabels, labels)
	assert.Len(t, labels, 80)
	assert.Equal(t, "person", labels[0])
	assert.Equal(t, "toothbrush", labels[79])

	_, err = LoadLabelsFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
