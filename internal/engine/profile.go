package engine

import (
	"fmt"
	"os"
	"strings"
)

// Encoding defaults for the audio+backdrop mode. The constant bitrate with
// min=max=target exists to keep ingest platforms from flagging the stream as
// "low bitrate" while the visual content is static, and the two second
// keyframe interval with scene-cut detection disabled keeps the keyframe
// schedule predictable for RTMP ingest servers.
const (
	defaultCanvasWidth      = 1280
	defaultCanvasHeight     = 720
	defaultFrameRate        = 24
	defaultKeyframeSeconds  = 2
	defaultVideoBitrateKbps = 2500
	defaultAudioBitrateKbps = 128
	fanoutAudioBitrateKbps  = 160
	defaultAudioSampleRate  = 44100
)

// fontCandidates lists common system font locations probed for the overlay.
var fontCandidates = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/TTF/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/liberation/LiberationSans-Regular.ttf",
	"/usr/share/fonts/liberation/LiberationSans-Regular.ttf",
	"/System/Library/Fonts/Helvetica.ttc",
}

// EncodeProfile is the typed encoding configuration for the audio+backdrop
// mode. It is validated once at session start and translated to subprocess
// arguments at the boundary rather than scattered through control flow.
type EncodeProfile struct {
	CanvasWidth      int
	CanvasHeight     int
	FrameRate        int
	KeyframeSeconds  int
	VideoBitrateKbps int
	AudioBitrateKbps int
	AudioSampleRate  int
	OverlayText      string
	// FontFile overrides overlay font discovery. Leave empty to probe
	// fontCandidates; if none exists the overlay silently degrades to none.
	FontFile string
}

// DefaultProfile returns the authoritative encoding contract for a broadcast
// fanning out to destinationCount targets. Multi-destination broadcasts get a
// higher audio bitrate.
func DefaultProfile(destinationCount int) EncodeProfile {
	profile := EncodeProfile{
		CanvasWidth:      defaultCanvasWidth,
		CanvasHeight:     defaultCanvasHeight,
		FrameRate:        defaultFrameRate,
		KeyframeSeconds:  defaultKeyframeSeconds,
		VideoBitrateKbps: defaultVideoBitrateKbps,
		AudioBitrateKbps: defaultAudioBitrateKbps,
		AudioSampleRate:  defaultAudioSampleRate,
	}
	if destinationCount > 1 {
		profile.AudioBitrateKbps = fanoutAudioBitrateKbps
	}
	return profile
}

// Validate checks the profile for values the encoder would reject.
func (p EncodeProfile) Validate() error {
	if p.CanvasWidth <= 0 || p.CanvasHeight <= 0 {
		return fmt.Errorf("canvas dimensions must be positive")
	}
	if p.CanvasWidth%2 != 0 || p.CanvasHeight%2 != 0 {
		return fmt.Errorf("canvas dimensions must be even for yuv420p")
	}
	if p.FrameRate <= 0 {
		return fmt.Errorf("frame rate must be positive")
	}
	if p.KeyframeSeconds <= 0 {
		return fmt.Errorf("keyframe interval must be positive")
	}
	if p.VideoBitrateKbps <= 0 {
		return fmt.Errorf("video bitrate must be positive")
	}
	if p.AudioBitrateKbps <= 0 {
		return fmt.Errorf("audio bitrate must be positive")
	}
	switch p.AudioSampleRate {
	case 44100, 48000:
	default:
		return fmt.Errorf("audio sample rate must be 44100 or 48000")
	}
	return nil
}

// keyframeInterval returns the GOP size in frames.
func (p EncodeProfile) keyframeInterval() int {
	return p.FrameRate * p.KeyframeSeconds
}

// videoFilter builds the filter chain that letterboxes the backdrop onto the
// canvas and, when configured and a font is available, composites the
// scrolling overlay banner.
func (p EncodeProfile) videoFilter() string {
	filters := []string{
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", p.CanvasWidth, p.CanvasHeight),
		fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2", p.CanvasWidth, p.CanvasHeight),
		"format=yuv420p",
	}
	if overlay := p.overlayFilter(); overlay != "" {
		filters = append(filters, overlay)
	}
	return strings.Join(filters, ",")
}

// overlayFilter renders the scrolling text banner. It returns an empty string
// when no overlay is configured or no usable font exists, so a missing system
// font never fails the session.
func (p EncodeProfile) overlayFilter() string {
	text := strings.TrimSpace(p.OverlayText)
	if text == "" {
		return ""
	}
	font := p.resolveFont()
	if font == "" {
		return ""
	}
	return fmt.Sprintf(
		"drawtext=fontfile=%s:text='%s':fontsize=36:fontcolor=white:box=1:boxcolor=black@0.5:boxborderw=12:x=w-mod(t*120\\,w+tw):y=h-80",
		escapeFilterValue(font), escapeFilterValue(text),
	)
}

func (p EncodeProfile) resolveFont() string {
	if p.FontFile != "" {
		if fileExists(p.FontFile) {
			return p.FontFile
		}
		return ""
	}
	for _, candidate := range fontCandidates {
		if fileExists(candidate) {
			return candidate
		}
	}
	return ""
}

// audioFilter regenerates audio presentation timestamps as a strictly
// increasing function of sample count. Without it the encoder dies with
// non-monotonic timestamp errors when the feeder loops or switches files.
func (p EncodeProfile) audioFilter() string {
	return fmt.Sprintf("asetpts=N/SR/TB,aresample=%d:async=1:first_pts=0", p.AudioSampleRate)
}

// encodeArgs translates the profile into encoder output arguments for the
// audio+backdrop mode.
func (p EncodeProfile) encodeArgs() []string {
	return []string{
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "stillimage",
		"-vf", p.videoFilter(),
		"-r", fmt.Sprintf("%d", p.FrameRate),
		"-g", fmt.Sprintf("%d", p.keyframeInterval()),
		"-sc_threshold", "0",
		"-b:v", fmt.Sprintf("%dk", p.VideoBitrateKbps),
		"-minrate", fmt.Sprintf("%dk", p.VideoBitrateKbps),
		"-maxrate", fmt.Sprintf("%dk", p.VideoBitrateKbps),
		"-bufsize", fmt.Sprintf("%dk", p.VideoBitrateKbps*2),
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", p.AudioBitrateKbps),
		"-ar", fmt.Sprintf("%d", p.AudioSampleRate),
		"-af", p.audioFilter(),
	}
}

// escapeFilterValue escapes characters that carry meaning inside an ffmpeg
// filter description.
func escapeFilterValue(value string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`:`, `\:`,
		`,`, `\,`,
		`[`, `\[`,
		`]`, `\]`,
	)
	return replacer.Replace(value)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
