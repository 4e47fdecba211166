package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidbatch/internal/logging"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func newResolver() (*Resolver, *logging.Recorder) {
	rec := &logging.Recorder{}
	return New(logging.NewEmitter(rec)), rec
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "Clip")
	r, _ := newResolver()

	assert.False(t, r.Exists(target))

	touch(t, target+".mkv")
	assert.False(t, r.Exists(target), "a sibling is not the canonical artifact")

	touch(t, target+".mp4")
	assert.True(t, r.Exists(target))
}

func TestExists_DirectoryIsNotArtifact(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "Clip")
	require.NoError(t, os.MkdirAll(target+".mp4", 0o755))

	r, _ := newResolver()
	assert.False(t, r.Exists(target))
}

func TestFindSibling(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "Clip")
	r, _ := newResolver()

	_, ok := r.FindSibling(target)
	assert.False(t, ok)

	touch(t, filepath.Join(dir, "Clip Extended.mkv"))
	touch(t, filepath.Join(dir, "Clip.mp4.part"))
	touch(t, filepath.Join(dir, "Clip.f137.mp4"))
	_, ok = r.FindSibling(target)
	assert.False(t, ok, "other names and format-suffixed names are not siblings")

	touch(t, target+".webm")
	got, ok := r.FindSibling(target)
	require.True(t, ok)
	assert.Equal(t, target+".webm", got)
}

func TestFindSibling_PrefersMediaOverPartial(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "Clip")
	touch(t, target+".part")

	r, rec := newResolver()
	got, ok := r.FindSibling(target)
	require.True(t, ok, "a partial remnant still counts as a sibling")
	assert.Equal(t, target+".part", got)
	assert.True(t, rec.Has("partial_sibling"))

	touch(t, target+".webm")
	got, ok = r.FindSibling(target)
	require.True(t, ok)
	assert.Equal(t, target+".webm", got)
}

func TestFindSibling_Extensionless(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "Clip")
	touch(t, target)

	r, _ := newResolver()
	got, ok := r.FindSibling(target)
	require.True(t, ok)
	assert.Equal(t, target, got)
}

func TestFindSibling_IgnoresCanonicalAndDirectories(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "Clip")
	touch(t, target+".mp4")
	require.NoError(t, os.MkdirAll(target+".d", 0o755))

	r, _ := newResolver()
	_, ok := r.FindSibling(target)
	assert.False(t, ok)
}

func TestFindSibling_MissingDirectoryWarns(t *testing.T) {
	r, rec := newResolver()
	_, ok := r.FindSibling(filepath.Join(t.TempDir(), "missing", "Clip"))
	assert.False(t, ok)
	assert.True(t, rec.Has("sibling_scan_failed"))
}

func TestNormalize(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "Clip")
	touch(t, target+".mkv")

	r, rec := newResolver()
	assert.True(t, r.Normalize(target+".mkv", target))
	assert.True(t, r.Exists(target))
	assert.NoFileExists(t, target+".mkv")
	assert.True(t, rec.Has("normalized"))
}

func TestNormalize_FailureStillReportsSuccess(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "Clip")
	touch(t, target+".mkv")
	// A non-empty directory in the canonical slot makes the rename fail, even as root.
	touch(t, filepath.Join(target+".mp4", "inner"))

	r, rec := newResolver()
	assert.True(t, r.Normalize(target+".mkv", target))
	assert.FileExists(t, target+".mkv")
	assert.True(t, rec.Has("normalize_failed"))
}

func TestNormalize_MissingSourceStillReportsSuccess(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "Clip")

	r, rec := newResolver()
	assert.True(t, r.Normalize(target+".mkv", target))
	warns := rec.Named("normalize_failed")
	require.Len(t, warns, 1)
	assert.Equal(t, target+".mkv", warns[0].Fields["from"])
}

func TestRemoveIfPresent(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "Clip.part")
	touch(t, p)

	r, rec := newResolver()
	r.RemoveIfPresent(p)
	assert.NoFileExists(t, p)
	assert.True(t, rec.Has("removed"))

	// Missing files are silently ignored.
	r.RemoveIfPresent(p)
	assert.Len(t, rec.Named("removed"), 1)
	assert.False(t, rec.Has("cleanup_failed"))
}

func TestRemoveIfPresent_FailureIsOnlyLogged(t *testing.T) {
	dir := t.TempDir()
	nonEmpty := filepath.Join(dir, "Clip.d")
	touch(t, filepath.Join(nonEmpty, "inner"))

	r, rec := newResolver()
	assert.NotPanics(t, func() { r.RemoveIfPresent(nonEmpty) })
	assert.True(t, rec.Has("cleanup_failed"))
}

func TestPurgeRelated(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "Clip")
	for _, name := range []string{
		"Clip.mp4", "Clip.mkv", "Clip.part", "Clip.f137.mp4.part", "Clip.f251.webm",
		"Clip Extended.mp4", "Other.mp4", "Clipboard.txt",
	} {
		touch(t, filepath.Join(dir, name))
	}

	r, _ := newResolver()
	r.PurgeRelated(target, map[string]struct{}{target + ".mkv": {}})

	assert.ElementsMatch(t, []string{"Clip.mkv", "Clip Extended.mp4", "Other.mp4", "Clipboard.txt"}, listDir(t, dir))
}

func TestPurgeRelated_NilExcept(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "Clip")
	touch(t, target+".webm")
	touch(t, target+".mp4.part")

	r, _ := newResolver()
	r.PurgeRelated(target, nil)
	assert.Empty(t, listDir(t, dir))
}

func TestPurgeRelated_KeepsOnlyDeliveredArtifact(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "Clip")
	for _, name := range []string{"Clip.mp4", "Clip.webm", "Clip.mp4.part", "Clip.f137.mp4.part", "Clip.mp4.ytdl", "Clip"} {
		touch(t, filepath.Join(dir, name))
	}

	r, _ := newResolver()
	r.PurgeRelated(target, map[string]struct{}{Canonical(target): {}})
	assert.Equal(t, []string{"Clip.mp4"}, listDir(t, dir))
}
