package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"vidbatch/internal/artifact"
	"vidbatch/internal/logging"
)

// Outcome is the result of processing one manifest entry.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeAlreadyExisted Outcome = "already_existed"
	OutcomeFailed         Outcome = "failed"
)

// Options configures an Orchestrator.
type Options struct {
	// MinFetchInterval spaces out consecutive fetch invocations. Zero disables it.
	MinFetchInterval time.Duration
	Sink             logging.Sink
}

// Orchestrator drives a single entry from existence check to a clean final
// state. After ProcessOne returns, either the delivered artifact (normally
// "<target>.mp4") is the only file sharing the target's base name, or no
// such file exists.
type Orchestrator struct {
	fetcher  Fetcher
	resolver *artifact.Resolver
	log      logging.Emitter
	limiter  *rate.Limiter
}

// NewOrchestrator creates an Orchestrator delegating fetches to f.
func NewOrchestrator(f Fetcher, opts Options) *Orchestrator {
	em := logging.NewEmitter(opts.Sink)
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.MinFetchInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.MinFetchInterval), 1)
	}
	return &Orchestrator{
		fetcher:  f,
		resolver: artifact.New(em),
		log:      em,
		limiter:  limiter,
	}
}

// ProcessOne downloads sourceURL to target + ".mp4" unless it is already there.
// It never returns an error: every failure ends as OutcomeFailed after cleanup.
func (o *Orchestrator) ProcessOne(ctx context.Context, sourceURL, target string) Outcome {
	em := o.emitterFor(ctx, sourceURL, target)
	res := o.resolver.With(em)

	if res.Exists(target) {
		em.Info("skip_existing", "artifact already exists; skipping download", "path", artifact.Canonical(target))
		return OutcomeAlreadyExisted
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		em.Error("prepare_failed", "could not create output directory", "error", err)
		return OutcomeFailed
	}

	if err := o.limiter.Wait(ctx); err != nil {
		em.Error("fetch_interrupted", "interrupted before fetch started", "error", err)
		return OutcomeFailed
	}

	em.Info("fetch_start", "starting download")
	path, err := o.fetch(logging.NewContext(ctx, em), sourceURL, target)
	if err != nil {
		fe := AsFetchError(sourceURL, err)
		em.Error("fetch_failed", "download failed; cleaning up", "kind", fe.Kind.String(), "error", fe)
		o.cleanup(res, target)
		return OutcomeFailed
	}

	return o.verify(em, res, target, path)
}

func (o *Orchestrator) emitterFor(ctx context.Context, sourceURL, target string) logging.Emitter {
	em, ok := logging.FromContext(ctx)
	if !ok {
		em = o.log
	}
	ec := em.Entry()
	if ec.URL == "" {
		ec.URL = sourceURL
	}
	if ec.Target == "" {
		ec.Target = target
	}
	return em.WithEntry(ec)
}

// fetch calls the fetcher, converting panics and foreign errors into FetchErrors.
func (o *Orchestrator) fetch(ctx context.Context, sourceURL, target string) (path string, err error) {
	defer func() {
		if r := recover(); r != nil {
			path = ""
			err = &FetchError{Kind: KindUnexpected, URL: sourceURL, Detail: fmt.Sprintf("panic: %v", r)}
		}
	}()
	path, err = o.fetcher.Fetch(ctx, sourceURL, target)
	if err != nil {
		return "", AsFetchError(sourceURL, err)
	}
	return path, nil
}

func (o *Orchestrator) verify(em logging.Emitter, res *artifact.Resolver, target, reported string) Outcome {
	canonical := artifact.Canonical(target)

	if res.Exists(target) {
		res.PurgeRelated(target, map[string]struct{}{canonical: {}})
		o.reportSuccess(em, canonical, reported)
		return OutcomeSuccess
	}

	if sibling, ok := res.FindSibling(target); ok {
		em.Warn("extension_mismatch", "artifact found with a different extension", "path", sibling)
		res.Normalize(sibling, target)
		// A failed rename leaves the sibling as the delivered artifact.
		keep := canonical
		if !res.Exists(target) {
			keep = sibling
		}
		res.PurgeRelated(target, map[string]struct{}{keep: {}})
		o.reportSuccess(em, keep, reported)
		return OutcomeSuccess
	}

	em.Error("verification_failed", "fetcher finished but no artifact was found", "expected", canonical)
	o.cleanup(res, target)
	return OutcomeFailed
}

func (o *Orchestrator) reportSuccess(em logging.Emitter, path, reported string) {
	kv := []any{"path", path}
	if reported != "" && reported != path {
		kv = append(kv, "reported", reported)
	}
	if fi, err := os.Stat(path); err == nil {
		kv = append(kv, "size", humanize.Bytes(uint64(fi.Size())))
	}
	em.Info("download_complete", "download successful", kv...)
}

// cleanup removes everything the failed attempt may have left behind. Each
// deletion is best-effort.
func (o *Orchestrator) cleanup(res *artifact.Resolver, target string) {
	canonical := artifact.Canonical(target)
	part := target + artifact.PartExt
	if res.Exists(target) {
		res.RemoveIfPresent(canonical)
	} else if _, err := os.Stat(part); err == nil {
		res.RemoveIfPresent(part)
	}
	res.PurgeRelated(target, nil)
}
