package integration

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidbatch/internal/batch"
	"vidbatch/internal/download"
	"vidbatch/internal/logging"
	"vidbatch/internal/store"
)

// fakeYTDLP behaves according to the URL it is given:
//
//	.../ok     writes <base>.mp4 after leaving a .part behind
//	.../mkv    writes <base>.mkv only
//	.../404    leaves <base>.f137.mp4.part and <base>.part, exits 1
//	.../empty  exits 0 without writing anything
const fakeYTDLP = `#!/usr/bin/env bash
if [[ "${1:-}" == "--help" ]]; then echo "--progress-template"; exit 0; fi
out=""
while [[ $# -gt 0 ]]; do
  case "$1" in
    --output) out="$2"; shift 2;;
    --) shift; break;;
    *) shift;;
  esac
done
url="$1"
base="${out%.%(ext)s}"
case "$url" in
  */ok)
    printf 'x' > "${base}.f140.m4a.part"
    echo '{"status":"downloading","downloaded_bytes":1,"total_bytes":2}'
    printf 'video' > "${base}.mp4"
    rm -f "${base}.f140.m4a.part"
    echo "[Merger] Merging formats into \"${base}.mp4\""
    ;;
  */mkv)
    printf 'video' > "${base}.mkv"
    echo "[download] Destination: ${base}.mkv"
    ;;
  */404)
    printf 'x' > "${base}.f137.mp4.part"
    printf 'x' > "${base}.part"
    echo "ERROR: HTTP Error 404: Not Found" >&2
    exit 1
    ;;
  */empty)
    ;;
esac
exit 0
`

// installFakeYTDLP puts a fake yt-dlp first on PATH.
func installFakeYTDLP(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake yt-dlp requires bash")
	}
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	binDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "yt-dlp"), []byte(fakeYTDLP), 0o755))
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

type pipeline struct {
	out     string
	journal *store.Store
	events  *logging.Recorder
	runner  *batch.Runner
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	installFakeYTDLP(t)
	require.NoError(t, download.CheckBinary(download.DefaultBinary))

	p := &pipeline{out: filepath.Join(t.TempDir(), "videos"), events: &logging.Recorder{}}
	j, err := store.Open(filepath.Join(t.TempDir(), "journal.db"), p.events)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	p.journal = j

	fetcher := download.NewYTDLP(download.YTDLPOptions{}, logging.NewEmitter(p.events))
	orch := download.NewOrchestrator(fetcher, download.Options{Sink: p.events})
	p.runner = batch.NewRunner(orch, batch.Options{OutputDir: p.out, Journal: j, Sink: p.events})
	return p
}

func (p *pipeline) run(t *testing.T, lines ...string) batch.Summary {
	t.Helper()
	m := filepath.Join(t.TempDir(), "videos.txt")
	require.NoError(t, os.WriteFile(m, []byte(strings.Join(lines, "\n")), 0o644))
	sum, err := p.runner.Run(context.Background(), m)
	require.NoError(t, err)
	return sum
}

func (p *pipeline) files(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(p.out)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if e.Name() == batch.LockFileName {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestPipeline_NewDuplicateMalformed(t *testing.T) {
	p := newPipeline(t)
	require.NoError(t, os.MkdirAll(p.out, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(p.out, "Already Here.mp4"), []byte("old"), 0o644))

	sum := p.run(t,
		"Fresh: Clip! | https://example.com/ok",
		"Already Here | https://example.com/ok",
		"this line has no separator",
	)

	assert.Equal(t, 3, sum.TotalLines)
	assert.Equal(t, 1, sum.Downloaded)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.Malformed)
	assert.Equal(t, 0, sum.Errored)
	assert.Equal(t, []string{"Already Here.mp4", "Fresh Clip.mp4"}, p.files(t))
	assert.True(t, p.events.Has("fetch_progress"))
}

func TestPipeline_RerunIsIdempotent(t *testing.T) {
	p := newPipeline(t)
	first := p.run(t, "A | https://example.com/ok", "B | https://example.com/mkv")
	assert.Equal(t, 2, first.Downloaded)

	second := p.run(t, "A | https://example.com/ok", "B | https://example.com/mkv")
	assert.Equal(t, 0, second.Downloaded)
	assert.Equal(t, 2, second.Skipped)
	assert.Equal(t, []string{"A.mp4", "B.mp4"}, p.files(t))

	runs, err := p.journal.ListRuns(context.Background(), store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.RunID, runs[0].ID)
}

func TestPipeline_FailuresLeaveNoStrayFiles(t *testing.T) {
	p := newPipeline(t)
	sum := p.run(t,
		"Missing | https://example.com/404",
		"Silent | https://example.com/empty",
		"Good | https://example.com/ok",
	)

	assert.Equal(t, 2, sum.Errored)
	assert.Equal(t, 1, sum.Downloaded)
	assert.Equal(t, []string{"Good.mp4"}, p.files(t))

	failed := p.events.Named("fetch_failed")
	require.Len(t, failed, 1)
	assert.Equal(t, "fetch", failed[0].Fields["kind"])
	assert.Equal(t, 1, failed[0].Entry.Line)
	assert.True(t, p.events.Has("verification_failed"))

	entries, err := p.journal.ListEntries(context.Background(), sum.RunID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, string(download.OutcomeFailed), entries[0].Outcome)
	assert.Equal(t, string(download.OutcomeFailed), entries[1].Outcome)
	assert.Equal(t, string(download.OutcomeSuccess), entries[2].Outcome)
}

func TestPipeline_ExtensionMismatchNormalized(t *testing.T) {
	p := newPipeline(t)
	sum := p.run(t, "Odd Container | https://example.com/mkv")

	assert.Equal(t, 1, sum.Downloaded)
	assert.Equal(t, []string{"Odd Container.mp4"}, p.files(t))
	assert.True(t, p.events.Has("extension_mismatch"))
}
