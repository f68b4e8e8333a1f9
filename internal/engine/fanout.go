package engine

import (
	"fmt"
	"net/url"
	"strings"

	"litecast/internal/models"
)

// flvFlags disables duration and filesize markers in the FLV header; a live
// broadcast has no known total length.
const flvFlags = "no_duration_filesize"

// PublishURL joins a destination's ingest base URL with its secret stream key.
// The resulting URL contains the key and must only ever be handed to the
// encoder subprocess; use RedactDestination for anything user- or log-facing.
func PublishURL(dest models.Destination) (string, error) {
	base := strings.TrimSpace(dest.IngestURL)
	if base == "" {
		return "", fmt.Errorf("destination %q has no ingest URL", dest.Name)
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("destination %q has a malformed ingest URL", dest.Name)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "rtmp", "rtmps":
	default:
		return "", fmt.Errorf("destination %q must use an rtmp or rtmps ingest URL", dest.Name)
	}
	key := strings.TrimSpace(dest.StreamKey)
	if key == "" {
		return "", fmt.Errorf("destination %q has no stream key", dest.Name)
	}
	return strings.TrimRight(base, "/") + "/" + key, nil
}

// RedactDestination renders a destination's publish target with the stream key
// masked, safe for logs and telemetry.
func RedactDestination(dest models.Destination) string {
	base := strings.TrimRight(strings.TrimSpace(dest.IngestURL), "/")
	if base == "" {
		return dest.Name
	}
	return base + "/****"
}

// outputArgs configures the encoder to deliver one encoded signal to every
// destination. A single destination writes FLV directly; two or more share
// one encode pass through the tee muxer, so CPU cost stays proportional to a
// single stream. All tee branches abort together: one subprocess drives all
// outputs, so a failing destination fails the session (the accepted single
// failure domain trade-off). streamMaps selects the input streams the tee
// muxer forwards (the tee muxer requires explicit mapping).
func outputArgs(dests []models.Destination, streamMaps []string) ([]string, error) {
	urls := make([]string, 0, len(dests))
	for _, dest := range dests {
		publish, err := PublishURL(dest)
		if err != nil {
			return nil, err
		}
		urls = append(urls, publish)
	}
	switch len(urls) {
	case 0:
		return nil, fmt.Errorf("at least one destination is required")
	case 1:
		return []string{"-f", "flv", "-flvflags", flvFlags, urls[0]}, nil
	default:
		args := []string{"-f", "tee"}
		for _, mapping := range streamMaps {
			args = append(args, "-map", mapping)
		}
		branches := make([]string, len(urls))
		for i, publish := range urls {
			branches[i] = fmt.Sprintf("[f=flv:flvflags=%s:onfail=abort]%s", flvFlags, publish)
		}
		return append(args, strings.Join(branches, "|")), nil
	}
}

// destinationNames returns the display names for telemetry and listings.
func destinationNames(dests []models.Destination) []string {
	names := make([]string, len(dests))
	for i, dest := range dests {
		names[i] = dest.Name
	}
	return names
}
