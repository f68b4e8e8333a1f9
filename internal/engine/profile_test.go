package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultProfileAudioBitrate(t *testing.T) {
	single := DefaultProfile(1)
	if single.AudioBitrateKbps != defaultAudioBitrateKbps {
		t.Fatalf("single-destination audio bitrate = %d, want %d", single.AudioBitrateKbps, defaultAudioBitrateKbps)
	}
	multi := DefaultProfile(3)
	if multi.AudioBitrateKbps != fanoutAudioBitrateKbps {
		t.Fatalf("fan-out audio bitrate = %d, want %d", multi.AudioBitrateKbps, fanoutAudioBitrateKbps)
	}
}

func TestProfileValidate(t *testing.T) {
	valid := DefaultProfile(1)
	if err := valid.Validate(); err != nil {
		t.Fatalf("default profile invalid: %v", err)
	}

	odd := DefaultProfile(1)
	odd.CanvasWidth = 1281
	if err := odd.Validate(); err == nil {
		t.Fatal("expected odd canvas width to fail validation")
	}

	zeroRate := DefaultProfile(1)
	zeroRate.FrameRate = 0
	if err := zeroRate.Validate(); err == nil {
		t.Fatal("expected zero frame rate to fail validation")
	}
}

func TestEncodeArgsConstantBitrate(t *testing.T) {
	profile := DefaultProfile(1)
	args := strings.Join(profile.encodeArgs(), " ")

	for _, want := range []string{
		"-b:v 2500k",
		"-minrate 2500k",
		"-maxrate 2500k",
		"-bufsize 5000k",
		"-g 48",
		"-sc_threshold 0",
		"-c:a aac",
		"-ar 44100",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("encode args missing %q: %s", want, args)
		}
	}
	if !strings.Contains(args, "asetpts=N/SR/TB,aresample=44100:async=1:first_pts=0") {
		t.Errorf("encode args missing audio timestamp regeneration: %s", args)
	}
}

func TestVideoFilterLetterboxes(t *testing.T) {
	profile := DefaultProfile(1)
	filter := profile.videoFilter()
	for _, want := range []string{
		"scale=1280:720:force_original_aspect_ratio=decrease",
		"pad=1280:720:(ow-iw)/2:(oh-ih)/2",
		"format=yuv420p",
	} {
		if !strings.Contains(filter, want) {
			t.Errorf("video filter missing %q: %s", want, filter)
		}
	}
}

func TestOverlayDegradesWithoutFont(t *testing.T) {
	profile := DefaultProfile(1)
	profile.OverlayText = "now playing"
	profile.FontFile = filepath.Join(t.TempDir(), "missing.ttf")

	if overlay := profile.overlayFilter(); overlay != "" {
		t.Fatalf("overlay with missing font = %q, want empty", overlay)
	}
	// The rest of the chain survives intact.
	if filter := profile.videoFilter(); !strings.Contains(filter, "format=yuv420p") {
		t.Fatalf("video filter degraded beyond the overlay: %s", filter)
	}
}

func TestOverlayUsesConfiguredFont(t *testing.T) {
	font := filepath.Join(t.TempDir(), "banner.ttf")
	if err := os.WriteFile(font, []byte("fontdata"), 0o600); err != nil {
		t.Fatalf("write font: %v", err)
	}

	profile := DefaultProfile(1)
	profile.OverlayText = "live: mix of the day"
	profile.FontFile = font

	overlay := profile.overlayFilter()
	if overlay == "" {
		t.Fatal("expected overlay filter with usable font")
	}
	for _, want := range []string{"drawtext=", "boxcolor=black@0.5", "y=h-80"} {
		if !strings.Contains(overlay, want) {
			t.Errorf("overlay missing %q: %s", want, overlay)
		}
	}
}

func TestEscapeFilterValue(t *testing.T) {
	got := escapeFilterValue(`dj's set: vol 1, [live]`)
	want := `dj\'s set\: vol 1\, \[live\]`
	if got != want {
		t.Fatalf("escaped = %q, want %q", got, want)
	}
}
