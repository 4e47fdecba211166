// Package manifest parses "name | url" manifest files and turns entry names
// into filesystem-safe base names.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
)

// Separator splits the name from the url. Only the first occurrence counts.
const Separator = "|"

// Entry is one valid manifest line.
type Entry struct {
	Name string
	URL  string
	Line int
}

// ParseLine parses a single manifest line. ok is false for blank and comment
// lines, which are not entries and not errors.
func ParseLine(text string, line int) (e Entry, ok bool, err error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return Entry{}, false, nil
	}
	name, url, found := strings.Cut(trimmed, Separator)
	if !found {
		return Entry{}, false, &LineError{Line: line, Text: trimmed, Err: ErrMalformedLine}
	}
	name = strings.TrimSpace(name)
	url = strings.TrimSpace(url)
	if name == "" || url == "" {
		return Entry{}, false, &LineError{Line: line, Text: trimmed, Err: ErrEmptyField}
	}
	return Entry{Name: name, URL: url, Line: line}, true, nil
}

// ReadLines reads every line of r. A trailing newline does not produce an
// extra empty line.
func ReadLines(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	var lines []string
	for sc.Scan() {
		lines = append(lines, strings.TrimPrefix(sc.Text(), "\ufeff"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return lines, nil
}

// Sanitize keeps letters, numbers (including "²" and "½"), spaces,
// underscores and hyphens from name and trims trailing whitespace. When
// nothing survives it returns "video_<line>" and fellBack is true.
func Sanitize(name string, line int) (base string, fellBack bool) {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || r == ' ' || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	base = strings.TrimRight(b.String(), " ")
	if strings.TrimSpace(base) == "" {
		return "video_" + strconv.Itoa(line), true
	}
	return base, false
}
