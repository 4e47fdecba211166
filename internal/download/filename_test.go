package download

import "testing"

func TestExtractFilename_PrefersMergedOverDestination(t *testing.T) {
	log := `
[youtube] abc123: Downloading webpage
[download] Destination: /videos/Song Title Live.f137.mp4
[download] Destination: /videos/Song Title Live.f140.m4a
[Merger] Merging formats into "/videos/Song Title Live.mp4"
[ffmpeg] Post-process file 100%
`
	got := extractFilename(log)
	want := "/videos/Song Title Live.mp4"
	if got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestExtractFilename_SingleQuotedMerge(t *testing.T) {
	got := extractFilename(`[Merger] Merging formats into 'Clip.mp4'`)
	if got != "Clip.mp4" {
		t.Fatalf("want %q, got %q", "Clip.mp4", got)
	}
}

func TestExtractFilename_AlreadyDownloaded(t *testing.T) {
	log := `[download] /videos/Song Title Live.mp4 has already been downloaded`
	got := extractFilename(log)
	want := "/videos/Song Title Live.mp4"
	if got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestExtractFilename_FallbackDestination(t *testing.T) {
	log := `[download] Destination: /videos/Sample Title.webm`
	got := extractFilename(log)
	want := "/videos/Sample Title.webm"
	if got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestExtractFilename_Nothing(t *testing.T) {
	if got := extractFilename("[youtube] abc: Downloading webpage"); got != "" {
		t.Fatalf("want empty, got %q", got)
	}
}
