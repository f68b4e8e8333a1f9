package engine

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Mode selects how a broadcast drives the encoder.
type Mode string

const (
	// ModeAudio composes a backdrop with the feeder's continuous audio
	// stream and re-encodes to video+audio.
	ModeAudio Mode = "audio"
	// ModeVideo forwards a video playlist without re-encoding.
	ModeVideo Mode = "video"
)

// Session is one running broadcast, from start to teardown. It exists exactly
// as long as its subprocess is alive or pending cleanup, and is present in
// the registry for exactly that window.
type Session struct {
	ID               string
	UserID           string
	Mode             Mode
	Loop             bool
	StartedAt        time.Time
	DestinationNames []string

	feeder       *Feeder
	proc         Process
	meter        *QuotaMeter
	manifestPath string
	registry     *Registry
	logger       *slog.Logger

	// deliberate marks a caller-issued termination (explicit stop or quota
	// enforcement) so the subprocess death is not reported as an error.
	deliberate atomic.Bool
	// quotaStop distinguishes quota exhaustion from a user stop.
	quotaStop atomic.Bool
	// noMedia is set when the feeder exhausted a full pass without one
	// readable file.
	noMedia atomic.Bool

	stopped  atomic.Bool
	teardown sync.Once
	// done closes once the supervisor has finished cleanup and telemetry.
	done chan struct{}
}

// Info is a read-only snapshot of a live session for listings.
type Info struct {
	SessionID        string   `json:"sessionId"`
	UserID           string   `json:"userId"`
	Mode             Mode     `json:"mode"`
	Loop             bool     `json:"loop"`
	StartedAt        string   `json:"startedAt"`
	DestinationNames []string `json:"destinationNames"`
}

// Snapshot returns the session's listing view.
func (s *Session) Snapshot() Info {
	return Info{
		SessionID:        s.ID,
		UserID:           s.UserID,
		Mode:             s.Mode,
		Loop:             s.Loop,
		StartedAt:        s.StartedAt.UTC().Format(time.RFC3339),
		DestinationNames: append([]string(nil), s.DestinationNames...),
	}
}

// Done is closed once the session has fully torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Stop requests a deliberate termination. The first call wins and reports
// true; repeat calls (and stops racing natural completion) report false.
// Cleanup and the final telemetry event are completed asynchronously by the
// session supervisor; wait on Done for full teardown.
func (s *Session) Stop() bool {
	if !s.stopped.CompareAndSwap(false, true) {
		return false
	}
	s.deliberate.Store(true)
	s.cleanup()
	return true
}

// stopForQuota terminates the session because the daily allowance ran out.
// Not an error state: it is a normal plan-limit outcome.
func (s *Session) stopForQuota() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	s.quotaStop.Store(true)
	s.deliberate.Store(true)
	s.cleanup()
}

// cleanup runs the single teardown path shared by every way a session ends:
// close the feeder sink (which also stops further files from being opened and
// unblocks any pending read), force-terminate the subprocess, and unlink
// session-scoped temp files. Every step executes even if an earlier one fails.
func (s *Session) cleanup() {
	s.teardown.Do(func() {
		if s.feeder != nil {
			s.feeder.Close()
		}
		if s.proc != nil {
			s.proc.Kill()
		}
		if s.manifestPath != "" {
			if err := os.Remove(s.manifestPath); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("remove playlist manifest", "error", err)
			}
		}
	})
}

// deregister removes the session from the registry. Called by the supervisor
// as the last teardown step so the registry invariant (present iff subprocess
// live or pending cleanup) holds.
func (s *Session) deregister() {
	if s.registry != nil {
		s.registry.remove(s.ID)
	}
}
