// Package batch walks a manifest and drives every valid entry through the
// download orchestrator, one at a time.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"vidbatch/internal/artifact"
	"vidbatch/internal/download"
	"vidbatch/internal/logging"
	"vidbatch/internal/manifest"
	"vidbatch/internal/store"
)

// LockFileName is created in the output directory while a run holds it.
const LockFileName = ".vidbatch.lock"

const lockRetryDelay = 100 * time.Millisecond

// Processor handles a single entry. *download.Orchestrator implements it.
type Processor interface {
	ProcessOne(ctx context.Context, sourceURL, target string) download.Outcome
}

// Journal persists run history. *store.Store implements it.
type Journal interface {
	BeginRun(ctx context.Context, manifest, outputDir string) (string, error)
	RecordEntry(ctx context.Context, e store.Entry) (int64, error)
	FinishRun(ctx context.Context, runID, status string, t store.Totals) error
}

// Options configures a Runner.
type Options struct {
	OutputDir string
	// Journal is optional.
	Journal Journal
	Sink    logging.Sink
	// LockTimeout is how long to wait for another run to release the output
	// directory. Zero fails immediately.
	LockTimeout time.Duration
}

// Summary is the aggregate result of a run.
type Summary struct {
	RunID     string `json:"run_id,omitempty"`
	Manifest  string `json:"manifest"`
	OutputDir string `json:"output_dir"`
	store.Totals
	Interrupted bool          `json:"interrupted"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Runner processes manifests sequentially.
type Runner struct {
	proc Processor
	opts Options
	log  logging.Emitter
}

// NewRunner creates a Runner that hands valid entries to p.
func NewRunner(p Processor, opts Options) *Runner {
	return &Runner{proc: p, opts: opts, log: logging.NewEmitter(opts.Sink)}
}

// Run processes every line of the manifest at manifestPath. Only a missing or
// unreadable manifest, an unusable output directory or a held lock fail the
// run outright; per-entry problems are counted in the Summary. A cancelled
// ctx stops the run after the in-flight entry and returns the partial Summary
// together with the context error.
func (r *Runner) Run(ctx context.Context, manifestPath string) (Summary, error) {
	start := time.Now()
	outDir, err := filepath.Abs(r.opts.OutputDir)
	if err != nil {
		return Summary{}, fmt.Errorf("resolve output dir: %w", err)
	}
	sum := Summary{Manifest: manifestPath, OutputDir: outDir}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return sum, fmt.Errorf("create output dir: %w", err)
	}

	lines, err := readManifest(manifestPath)
	if err != nil {
		r.log.Error("manifest_unreadable", "cannot read manifest", "manifest", manifestPath, "error", err)
		return sum, err
	}

	unlock, err := r.lock(ctx, outDir)
	if err != nil {
		return sum, err
	}
	defer unlock()

	sum.TotalLines = len(lines)
	journal := r.beginJournal(ctx, &sum)
	r.log.Info("run_start", "processing manifest", "manifest", manifestPath, "output_dir", outDir, "total_lines", sum.TotalLines)

	for i, text := range lines {
		if ctx.Err() != nil {
			sum.Interrupted = true
			break
		}
		n := i + 1
		r.log.WithEntry(logging.EntryContext{Line: n}).
			Debug("line_start", fmt.Sprintf("[%d/%d] processing line", n, sum.TotalLines))

		entry, ok, perr := manifest.ParseLine(text, n)
		if perr != nil {
			sum.Malformed++
			r.log.WithEntry(logging.EntryContext{Line: n}).
				Warn("malformed_line", "skipping malformed line; expected 'name | url'", "error", perr)
			journal.record(ctx, store.Entry{Line: n, Outcome: store.OutcomeMalformed, ErrorMessage: perr.Error()})
			continue
		}
		if !ok {
			continue
		}

		r.processEntry(ctx, &sum, journal, outDir, entry)
		if ctx.Err() != nil {
			sum.Interrupted = true
			break
		}
	}

	status := store.StatusCompleted
	if sum.Interrupted {
		status = store.StatusInterrupted
	}
	journal.finish(ctx, status, sum.Totals)
	sum.Elapsed = time.Since(start)

	r.log.Info("run_complete", "download summary",
		"total_lines", sum.TotalLines,
		"downloaded", sum.Downloaded,
		"skipped", sum.Skipped,
		"errored", sum.Errored,
		"malformed", sum.Malformed,
		"output_dir", outDir,
		"interrupted", sum.Interrupted,
	)
	if sum.Interrupted {
		return sum, fmt.Errorf("run interrupted: %w", context.Cause(ctx))
	}
	return sum, nil
}

func (r *Runner) processEntry(ctx context.Context, sum *Summary, journal *journalWriter, outDir string, entry manifest.Entry) {
	base, fellBack := manifest.Sanitize(entry.Name, entry.Line)
	target := filepath.Join(outDir, base)
	em := r.log.WithEntry(logging.EntryContext{Line: entry.Line, Name: entry.Name, URL: entry.URL, Target: target})
	if fellBack {
		em.Warn("sanitize_fallback", "could not derive a safe filename; using fallback", "original", entry.Name, "substitute", base)
	}

	outcome := r.proc.ProcessOne(logging.NewContext(ctx, em), entry.URL, target)

	rec := store.Entry{Line: entry.Line, Name: entry.Name, URL: entry.URL, Target: target, Outcome: string(outcome)}
	canonical := artifact.Canonical(target)
	switch outcome {
	case download.OutcomeAlreadyExisted:
		sum.Skipped++
	case download.OutcomeSuccess:
		if fi, err := os.Stat(canonical); err == nil && fi.Mode().IsRegular() {
			sum.Downloaded++
			rec.SizeBytes = fi.Size()
		} else {
			// Success via an un-normalized sibling still counts as an error here.
			sum.Errored++
			rec.ErrorMessage = "canonical artifact missing after download"
			em.Warn("artifact_missing", "download reported success but the expected file is missing", "expected", canonical)
		}
	default:
		sum.Errored++
		rec.ErrorMessage = "download failed"
	}
	journal.record(ctx, rec)
}

func readManifest(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, path)
		}
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	return manifest.ReadLines(f)
}

// lock takes an exclusive advisory lock on the output directory.
func (r *Runner) lock(ctx context.Context, outDir string) (func(), error) {
	fl := flock.New(filepath.Join(outDir, LockFileName))
	var (
		locked bool
		err    error
	)
	if r.opts.LockTimeout > 0 {
		lctx, cancel := context.WithTimeout(ctx, r.opts.LockTimeout)
		locked, err = fl.TryLockContext(lctx, lockRetryDelay)
		cancel()
		if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
			err = nil
		}
	} else {
		locked, err = fl.TryLock()
	}
	if err != nil {
		return nil, fmt.Errorf("lock output dir: %w", err)
	}
	if !locked {
		r.log.Error("output_dir_locked", "another run is using the output directory", "output_dir", outDir)
		return nil, fmt.Errorf("%w: %s", ErrOutputDirLocked, outDir)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			r.log.Warn("unlock_failed", "could not release output directory lock", "error", err)
		}
	}, nil
}

// journalWriter records run history without ever failing the run. After the
// first write error it stops writing.
type journalWriter struct {
	j     Journal
	runID string
	log   logging.Emitter
}

func (r *Runner) beginJournal(ctx context.Context, sum *Summary) *journalWriter {
	w := &journalWriter{j: r.opts.Journal, log: r.log}
	if w.j == nil {
		return w
	}
	id, err := w.j.BeginRun(ctx, sum.Manifest, sum.OutputDir)
	if err != nil {
		w.disable("begin", err)
		return w
	}
	w.runID = id
	sum.RunID = id
	return w
}

func (w *journalWriter) record(ctx context.Context, e store.Entry) {
	if w.j == nil {
		return
	}
	e.RunID = w.runID
	if _, err := w.j.RecordEntry(context.WithoutCancel(ctx), e); err != nil {
		w.disable("record", err)
	}
}

func (w *journalWriter) finish(ctx context.Context, status string, t store.Totals) {
	if w.j == nil {
		return
	}
	if err := w.j.FinishRun(context.WithoutCancel(ctx), w.runID, status, t); err != nil {
		w.disable("finish", err)
	}
}

func (w *journalWriter) disable(op string, err error) {
	w.log.Warn("journal_failed", "run journal disabled", "op", op, "error", err)
	w.j = nil
}
