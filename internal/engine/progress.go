package engine

import (
	"strconv"
	"strings"
)

// Progress is one parsed encoder progress report.
type Progress struct {
	// Timemark is the raw HH:MM:SS.cc elapsed media time.
	Timemark string
	// Seconds is Timemark converted to seconds.
	Seconds float64
	// BitrateKbps is the encoder's reported output bitrate, zero when the
	// report carried none.
	BitrateKbps float64
}

// parseProgress extracts a progress report from an encoder diagnostic line.
// Lines without a time= field are not progress reports.
func parseProgress(line string) (Progress, bool) {
	timemark, ok := fieldValue(line, "time=")
	if !ok || timemark == "N/A" {
		return Progress{}, false
	}
	seconds, ok := parseTimemark(timemark)
	if !ok {
		return Progress{}, false
	}
	progress := Progress{Timemark: timemark, Seconds: seconds}
	if raw, ok := fieldValue(line, "bitrate="); ok {
		progress.BitrateKbps = parseBitrate(raw)
	}
	return progress, true
}

func fieldValue(line, field string) (string, bool) {
	idx := strings.Index(line, field)
	if idx < 0 {
		return "", false
	}
	rest := strings.TrimLeft(line[idx+len(field):], " ")
	if rest == "" {
		return "", false
	}
	if end := strings.IndexByte(rest, ' '); end >= 0 {
		rest = rest[:end]
	}
	return rest, true
}

// parseTimemark converts HH:MM:SS.cc (hours may exceed two digits on long
// broadcasts) to seconds.
func parseTimemark(mark string) (float64, bool) {
	parts := strings.Split(mark, ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 {
		return 0, false
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || seconds < 0 || seconds >= 60 {
		return 0, false
	}
	return float64(hours)*3600 + float64(minutes)*60 + seconds, true
}

func parseBitrate(raw string) float64 {
	raw = strings.TrimSuffix(raw, "kbits/s")
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value < 0 {
		return 0
	}
	return value
}
