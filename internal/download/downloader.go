package download

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"

	"vidbatch/internal/logging"
)

// DefaultFormat prefers an mp4 video stream paired with m4a audio so the
// merged container plays in a browser, falling back to a single mp4 and then
// to whatever is best.
const DefaultFormat = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"

// DefaultMergeFormat is the container separate streams are merged into.
const DefaultMergeFormat = "mp4"

// DefaultBinary is the fetcher executable looked up on PATH.
const DefaultBinary = "yt-dlp"

// Fetcher produces "<basePath>.<ext>" for a single source URL. On success it
// returns the artifact path it believes it wrote; any error is a *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, url, basePath string) (string, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url, basePath string) (string, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, url, basePath string) (string, error) {
	return f(ctx, url, basePath)
}

// YTDLPOptions configures the yt-dlp invocation.
type YTDLPOptions struct {
	Binary      string
	Format      string
	MergeFormat string
	ExtraArgs   []string
}

// YTDLP fetches media by running yt-dlp as a subprocess.
type YTDLP struct {
	opts YTDLPOptions
	log  logging.Emitter
}

// NewYTDLP creates a yt-dlp backed Fetcher. Empty options take the defaults.
func NewYTDLP(opts YTDLPOptions, em logging.Emitter) *YTDLP {
	if opts.Binary == "" {
		opts.Binary = DefaultBinary
	}
	if opts.Format == "" {
		opts.Format = DefaultFormat
	}
	if opts.MergeFormat == "" {
		opts.MergeFormat = DefaultMergeFormat
	}
	return &YTDLP{opts: opts, log: em}
}

// ParseExtraArgs splits a shell-style argument string.
func ParseExtraArgs(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	args, err := shellwords.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("parse extra args %q: %w", s, err)
	}
	return args, nil
}

// CheckBinary ensures the fetcher binary exists and supports --progress-template.
func CheckBinary(binary string) error {
	if binary == "" {
		binary = DefaultBinary
	}
	p, err := exec.LookPath(binary)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBinaryNotFound, err)
	}
	out, err := exec.Command(p, "--help").CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s not runnable: %w", binary, err)
	}
	if !strings.Contains(string(out), "--progress-template") {
		return fmt.Errorf("%w: missing --progress-template support", ErrBinaryOutdated)
	}
	return nil
}

// Fetch runs yt-dlp for url, writing to basePath with the extension yt-dlp picks.
// It blocks until the process exits.
func (y *YTDLP) Fetch(ctx context.Context, url, basePath string) (string, error) {
	em := y.log
	if fromCtx, ok := logging.FromContext(ctx); ok {
		em = fromCtx
	}

	args := buildYTDLPArgs(y.opts, url, basePath)
	em.Debug("fetch_command", "running fetcher", "binary", y.opts.Binary, "args", len(args))

	cmd := exec.CommandContext(ctx, y.opts.Binary, args...)
	output, err := y.executeWithProgressTracking(em, cmd)
	if err != nil {
		return "", classify(ctx, url, err)
	}

	if name := extractFilename(output); name != "" {
		p := name
		if !filepath.IsAbs(p) {
			p = filepath.Join(filepath.Dir(basePath), filepath.Base(name))
		}
		return p, nil
	}
	return basePath + "." + y.opts.MergeFormat, nil
}

// buildYTDLPArgs assembles the fixed fetch configuration for one URL.
func buildYTDLPArgs(opts YTDLPOptions, url, basePath string) []string {
	// yt-dlp treats % in the output template as a field reference.
	outTpl := strings.ReplaceAll(basePath, "%", "%%") + ".%(ext)s"
	args := []string{
		"--format", opts.Format,
		"--merge-output-format", opts.MergeFormat,
		"--no-playlist",
		"--newline",
		"--progress-template", "download:%(progress)j",
		"--output", outTpl,
	}
	args = append(args, opts.ExtraArgs...)
	return append(args, "--", url)
}

// runError carries the tail of stderr alongside the process error.
type runError struct {
	err  error
	tail string
}

func (e *runError) Error() string {
	if e.tail != "" {
		return fmt.Sprintf("yt-dlp: %v: %s", e.err, e.tail)
	}
	return fmt.Sprintf("yt-dlp: %v", e.err)
}

func (e *runError) Unwrap() error { return e.err }

// executeWithProgressTracking runs the command, reports progress and returns
// the combined output.
func (y *YTDLP) executeWithProgressTracking(em logging.Emitter, cmd *exec.Cmd) (string, error) {
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("stderr: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout: %w", err)
	}

	var stderrBuf, stdoutBuf bytes.Buffer

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start: %w", err)
	}

	tracker := &progressTracker{log: em, last: -1}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		tracker.parse(bufio.NewScanner(io.TeeReader(stderr, &stderrBuf)))
	}()
	go func() {
		defer wg.Done()
		tracker.parse(bufio.NewScanner(io.TeeReader(stdout, &stdoutBuf)))
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return "", &runError{err: err, tail: tailString(stderrBuf.String(), 512)}
	}

	// Some yt-dlp messages go to stderr.
	return strings.TrimSpace(stdoutBuf.String() + "\n" + stderrBuf.String()), nil
}

// classify maps a process failure onto a FetchError. yt-dlp exits with 1 when
// a download fails; any other exit status, a failed start or an interrupt is
// unexpected.
func classify(ctx context.Context, url string, err error) *FetchError {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &FetchError{Kind: KindUnexpected, URL: url, Detail: "interrupted", Err: ctxErr}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return &FetchError{Kind: KindFetch, URL: url, Detail: err.Error(), Err: err}
	}
	return &FetchError{Kind: KindUnexpected, URL: url, Detail: err.Error(), Err: err}
}

type progressData struct {
	Status             string  `json:"status"`
	DownloadedBytes    float64 `json:"downloaded_bytes"`
	TotalBytes         float64 `json:"total_bytes"`
	TotalBytesEstimate float64 `json:"total_bytes_estimate"`
}

// progressTracker turns JSON progress lines into events at whole-percent steps.
type progressTracker struct {
	log logging.Emitter

	mu   sync.Mutex
	last int
}

func (t *progressTracker) parse(sc *bufio.Scanner) {
	sc.Buffer(make([]byte, 4096), 256*1024)
	// yt-dlp rewrites progress on the same line using carriage returns.
	sc.Split(scanCRorLF)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] != '{' {
			continue
		}
		var progress progressData
		if err := json.Unmarshal([]byte(line), &progress); err != nil {
			continue
		}
		if progress.Status != "downloading" {
			continue
		}
		total := progress.TotalBytes
		if total <= 0 && progress.TotalBytesEstimate > 0 {
			total = progress.TotalBytesEstimate
		}
		if total <= 0 || progress.DownloadedBytes < 0 {
			continue
		}
		p := progress.DownloadedBytes / total * 100.0
		if p > 100 {
			p = 100
		}
		t.report(int(p))
	}
	if err := sc.Err(); err != nil {
		t.log.Warn("progress_scan_error", "progress scan error", "error", err)
	}
}

func (t *progressTracker) report(pct int) {
	t.mu.Lock()
	if pct == t.last {
		t.mu.Unlock()
		return
	}
	t.last = pct
	t.mu.Unlock()
	t.log.Debug("fetch_progress", "download progress", "percent", pct)
}

// extractFilename extracts the downloaded filename from yt-dlp output
func extractFilename(output string) string {
	lines := strings.Split(output, "\n")
	var (
		mergedName      string
		alreadyDLName   string
		lastDestination string
	)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// [Merger] Merging formats into "Title.mp4"
		if strings.Contains(line, "Merging formats into") {
			start := strings.IndexAny(line, "'\"")
			if start != -1 {
				quote := line[start]
				rest := line[start+1:]
				if end := strings.IndexByte(rest, quote); end != -1 {
					mergedName = rest[:end]
					continue
				}
			}
		}
		// [download] Title.mp4 has already been downloaded
		if strings.HasPrefix(line, "[download]") && strings.Contains(line, "has already been downloaded") {
			if i := strings.Index(line, "] "); i != -1 {
				rest := line[i+2:]
				if j := strings.Index(rest, " has already been downloaded"); j != -1 {
					alreadyDLName = strings.TrimSpace(rest[:j])
					continue
				}
			}
		}
		// Destination lines may name intermediate format files.
		if strings.Contains(line, "Destination:") {
			parts := strings.SplitN(line, "Destination:", 2)
			if len(parts) == 2 {
				lastDestination = strings.TrimSpace(parts[1])
				continue
			}
		}
	}
	switch {
	case mergedName != "":
		return mergedName
	case alreadyDLName != "":
		return alreadyDLName
	default:
		return lastDestination
	}
}

// scanCRorLF is like bufio.ScanLines but treats a bare '\r' as a line
// terminator as well. It also handles CRLF and strips a trailing CR.
func scanCRorLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' {
			line := data[:i]
			if i > 0 && data[i-1] == '\r' {
				line = data[:i-1]
			}
			return i + 1, line, nil
		}
		if data[i] == '\r' {
			if i+1 < len(data) && data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		if len(data) > 0 && data[len(data)-1] == '\r' {
			return len(data), data[:len(data)-1], nil
		}
		return len(data), data, nil
	}
	// Request more data.
	return 0, nil, nil
}

// tailString returns the last at most n bytes from s.
func tailString(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(s[len(s)-n:])
}
