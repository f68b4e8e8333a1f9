package engine

import "strings"

// Cause is the closed taxonomy of human-actionable broadcast failure causes.
// Classification is advisory, used only for user-facing messaging; it never
// gates the teardown path.
type Cause string

const (
	CauseNone              Cause = ""
	CauseNetworkUnreach    Cause = "network-unreachable"
	CauseMissingFile       Cause = "missing-file"
	CauseBadConfiguration  Cause = "bad-configuration"
	CauseUnsupportedFormat Cause = "unsupported-format"
	CauseUnknown           Cause = "unknown"
)

// Message returns the human-readable explanation for the cause.
func (c Cause) Message() string {
	switch c {
	case CauseNone:
		return ""
	case CauseNetworkUnreach:
		return "the streaming destination could not be reached; check the ingest URL and your network"
	case CauseMissingFile:
		return "a media file could not be found; it may have been deleted"
	case CauseBadConfiguration:
		return "the broadcast configuration was rejected by the encoder"
	case CauseUnsupportedFormat:
		return "a media file uses a format the encoder cannot read"
	default:
		return "the broadcast stopped due to an unexpected encoder error"
	}
}

// causePatterns maps lowercase diagnostic substrings to causes. Order matters:
// the first match across the diagnostic tail wins, scanning newest lines
// first.
var causePatterns = []struct {
	needle string
	cause  Cause
}{
	{"connection refused", CauseNetworkUnreach},
	{"connection timed out", CauseNetworkUnreach},
	{"connection reset", CauseNetworkUnreach},
	{"network is unreachable", CauseNetworkUnreach},
	{"broken pipe", CauseNetworkUnreach},
	{"failed to connect", CauseNetworkUnreach},
	{"error writing trailer", CauseNetworkUnreach},
	{"name or service not known", CauseNetworkUnreach},
	{"no such file or directory", CauseMissingFile},
	{"could not open file", CauseMissingFile},
	{"permission denied", CauseMissingFile},
	{"unrecognized option", CauseBadConfiguration},
	{"option not found", CauseBadConfiguration},
	{"invalid argument", CauseBadConfiguration},
	{"error parsing", CauseBadConfiguration},
	{"unable to parse option", CauseBadConfiguration},
	{"invalid data found when processing input", CauseUnsupportedFormat},
	{"unsupported codec", CauseUnsupportedFormat},
	{"could not find codec", CauseUnsupportedFormat},
	{"decoder not found", CauseUnsupportedFormat},
	{"moov atom not found", CauseUnsupportedFormat},
}

// Classify maps the encoder's diagnostic tail and exit error to a failure
// cause. A deliberate termination (caller-issued kill) is not a failure and
// yields CauseNone regardless of diagnostics.
func Classify(tail []string, exitErr error, deliberate bool) Cause {
	if deliberate {
		return CauseNone
	}
	for i := len(tail) - 1; i >= 0; i-- {
		line := strings.ToLower(tail[i])
		for _, pattern := range causePatterns {
			if strings.Contains(line, pattern.needle) {
				return pattern.cause
			}
		}
	}
	if exitErr == nil {
		return CauseNone
	}
	return CauseUnknown
}
