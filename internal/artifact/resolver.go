// Package artifact reconciles what the media fetcher actually wrote against
// the canonical "<target>.mp4" artifact.
package artifact

import (
	"os"
	"path/filepath"
	"strings"

	"vidbatch/internal/logging"
)

// CanonicalExt is the extension every finished artifact ends up with.
const CanonicalExt = ".mp4"

// PartExt is the suffix the fetcher uses for in-progress downloads.
const PartExt = ".part"

// partialSuffixes mark in-progress download remnants.
var partialSuffixes = []string{".part", ".ytdl"}

// Resolver inspects and mutates the files belonging to a single target path.
// A target path is a base path without extension.
type Resolver struct {
	log logging.Emitter
}

// New creates a Resolver that reports warnings through em.
func New(em logging.Emitter) *Resolver {
	return &Resolver{log: em}
}

// With returns a copy of r that emits through em.
func (r *Resolver) With(em logging.Emitter) *Resolver {
	cp := *r
	cp.log = em
	return &cp
}

// Canonical returns target + ".mp4".
func Canonical(target string) string {
	return target + CanonicalExt
}

// Exists reports whether target + ".mp4" is a regular file.
func (r *Resolver) Exists(target string) bool {
	return isRegular(Canonical(target))
}

// FindSibling returns a regular file in target's directory whose name minus
// its extension equals target's base name and whose extension is not ".mp4".
// An extensionless file named like the base counts too. Completed media is
// preferred over partial download remnants; within each group directory
// order decides.
func (r *Resolver) FindSibling(target string) (string, bool) {
	dir, base := filepath.Split(target)
	entries, err := os.ReadDir(filepath.Clean(dir))
	if err != nil {
		r.log.Warn("sibling_scan_failed", "could not scan output directory", "dir", dir, "error", err)
		return "", false
	}
	var partial string
	for _, e := range entries {
		name := e.Name()
		ext := filepath.Ext(name)
		if ext == CanonicalExt || strings.TrimSuffix(name, ext) != base {
			continue
		}
		p := filepath.Join(dir, name)
		if !isRegular(p) {
			continue
		}
		if !isPartial(name) {
			return p, true
		}
		if partial == "" {
			partial = p
		}
	}
	if partial != "" {
		r.log.Warn("partial_sibling", "only a partial download remnant matches the target", "path", partial)
		return partial, true
	}
	return "", false
}

// Normalize renames sibling to target + ".mp4". A failed rename is logged
// and still reported as success: the sibling's presence is taken as proof
// that the download finished.
func (r *Resolver) Normalize(sibling, target string) bool {
	dst := Canonical(target)
	if err := os.Rename(sibling, dst); err != nil {
		r.log.Warn("normalize_failed", "could not rename artifact to canonical name; keeping it as downloaded",
			"from", sibling, "to", dst, "error", err)
		return true
	}
	r.log.Info("normalized", "renamed artifact to canonical name", "from", sibling, "to", dst)
	return true
}

// RemoveIfPresent deletes path. Failures are logged, never returned.
func (r *Resolver) RemoveIfPresent(path string) {
	err := os.Remove(path)
	switch {
	case err == nil:
		r.log.Info("removed", "removed incomplete file", "path", path)
	case os.IsNotExist(err):
	default:
		r.log.Warn("cleanup_failed", "could not remove incomplete file", "path", path, "error", err)
	}
}

// PurgeRelated deletes every regular file in target's directory that shares
// target's base name, skipping the paths in except. Names are matched on
// "<base>." so that format-suffixed partials such as "<base>.f137.mp4.part"
// are caught as well, plus a bare "<base>".
func (r *Resolver) PurgeRelated(target string, except map[string]struct{}) {
	for _, p := range r.related(target) {
		if _, skip := except[p]; skip {
			continue
		}
		r.RemoveIfPresent(p)
	}
}

func (r *Resolver) related(target string) []string {
	dir, base := filepath.Split(target)
	entries, err := os.ReadDir(filepath.Clean(dir))
	if err != nil {
		if !os.IsNotExist(err) {
			r.log.Warn("cleanup_failed", "could not scan output directory", "dir", dir, "error", err)
		}
		return nil
	}
	prefix := base + "."
	var out []string
	for _, e := range entries {
		if e.Name() != base && !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if isRegular(p) {
			out = append(out, p)
		}
	}
	return out
}

func isPartial(name string) bool {
	for _, s := range partialSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

func isRegular(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}
