package manifest

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    Entry
		ok      bool
		wantErr error
	}{
		{name: "simple", text: "Clip | https://example.com/v", want: Entry{Name: "Clip", URL: "https://example.com/v", Line: 3}, ok: true},
		{name: "first separator wins", text: "A|B|C", want: Entry{Name: "A", URL: "B|C", Line: 3}, ok: true},
		{name: "surrounding whitespace", text: "\t  Name  |  url  \r", want: Entry{Name: "Name", URL: "url", Line: 3}, ok: true},
		{name: "blank", text: "   "},
		{name: "comment", text: "  # comment"},
		{name: "comment with separator", text: "# a | b"},
		{name: "no separator", text: "NoSeparatorHere", wantErr: ErrMalformedLine},
		{name: "empty name", text: " | https://example.com", wantErr: ErrEmptyField},
		{name: "empty url", text: "Name |   ", wantErr: ErrEmptyField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := ParseLine(tt.text, 3)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				var le *LineError
				require.True(t, errors.As(err, &le))
				assert.Equal(t, 3, le.Line)
				assert.False(t, ok)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in       string
		want     string
		fellBack bool
	}{
		{"Song: Title? (Live)", "Song Title Live", false},
		{"keep_under-score 42", "keep_under-score 42", false},
		{"trailing dots...", "trailing dots", false},
		{"Café Ñandú", "Café Ñandú", false},
		{"Take ½ x²!", "Take ½ x²", false},
		{"Ⅻ Chapter", "Ⅻ Chapter", false},
		{"../../etc/passwd", "etcpasswd", false},
		{"?!:*", "video_7", true},
		{"   ", "video_7", true},
	}
	for _, tt := range tests {
		got, fellBack := Sanitize(tt.in, 7)
		assert.Equal(t, tt.want, got, "Sanitize(%q)", tt.in)
		assert.Equal(t, tt.fellBack, fellBack, "Sanitize(%q) fallback", tt.in)
	}
}

func TestReadLines(t *testing.T) {
	lines, err := ReadLines(strings.NewReader("\ufeffA | a\n\n# c\nB | b\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"A | a", "", "# c", "B | b"}, lines)

	lines, err = ReadLines(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, lines)
}
