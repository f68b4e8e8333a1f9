// Package engine implements the broadcast engine: it keeps one encoder
// subprocess alive per broadcast, feeds it a gapless sequence of media items,
// fans the encoded output to multiple RTMP destinations in a single encode
// pass, meters wall-clock usage against subscription quotas, and classifies
// the failure modes of long-running encodes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"litecast/internal/models"
	"litecast/internal/observability/metrics"
)

var (
	// ErrNoMedia rejects a start request with an empty playlist.
	ErrNoMedia = errors.New("playlist must contain at least one media item")
	// ErrNoDestination rejects a start request without any destination.
	ErrNoDestination = errors.New("at least one destination is required")
	// ErrMixedPlaylist rejects playlists combining audio and video items.
	ErrMixedPlaylist = errors.New("playlist must be all audio or all video")
	// ErrQuotaExhausted rejects a start when the daily allowance is already
	// spent, before any subprocess is spawned.
	ErrQuotaExhausted = errors.New("daily broadcast allowance exhausted")
)

// DefaultStatsInterval throttles outbound stats telemetry; the encoder emits
// progress several times per second and dashboards need nothing close to
// that.
const DefaultStatsInterval = 5 * time.Second

// Config assembles an Engine. Runner and Usage are required; everything else
// has working defaults.
type Config struct {
	Runner   CommandRunner
	Usage    UsageStore
	Registry *Registry
	Sink     Sink
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
	// EncoderBinary overrides the ffmpeg executable name.
	EncoderBinary string
	// TempDir receives session-scoped playlist manifests. Defaults to the
	// OS temp directory.
	TempDir           string
	StatsInterval     time.Duration
	UsageBatchSeconds int64
}

// Engine owns the full broadcast lifecycle described above. All state is
// instance-scoped: two engines in one process do not share anything.
type Engine struct {
	runner        CommandRunner
	usage         UsageStore
	registry      *Registry
	sink          Sink
	logger        *slog.Logger
	metrics       *metrics.Recorder
	binary        string
	tempDir       string
	statsInterval time.Duration
	batchSeconds  int64
}

// New validates the configuration and returns a ready engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("engine: command runner is required")
	}
	if cfg.Usage == nil {
		return nil, fmt.Errorf("engine: usage store is required")
	}
	eng := &Engine{
		runner:        cfg.Runner,
		usage:         cfg.Usage,
		registry:      cfg.Registry,
		sink:          cfg.Sink,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		binary:        cfg.EncoderBinary,
		tempDir:       cfg.TempDir,
		statsInterval: cfg.StatsInterval,
		batchSeconds:  cfg.UsageBatchSeconds,
	}
	if eng.registry == nil {
		eng.registry = NewRegistry()
	}
	if eng.sink == nil {
		eng.sink = NopSink{}
	}
	if eng.logger == nil {
		eng.logger = slog.Default()
	}
	if eng.metrics == nil {
		eng.metrics = metrics.Default()
	}
	if eng.binary == "" {
		eng.binary = DefaultEncoderBinary
	}
	if eng.tempDir == "" {
		eng.tempDir = os.TempDir()
	}
	if eng.statsInterval <= 0 {
		eng.statsInterval = DefaultStatsInterval
	}
	return eng, nil
}

// Registry exposes the engine's session registry for concurrency-limit checks
// by the request layer.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// StartRequest carries everything a broadcast needs, resolved ahead of time
// by the request layer: the engine never touches the datastore for media or
// destinations.
type StartRequest struct {
	UserID       string
	Playlist     []models.MediaItem
	Destinations []models.Destination
	Loop         bool
	// Backdrop is the still image composed behind audio playlists. Nil
	// selects a generated solid-colour frame.
	Backdrop    *models.MediaItem
	OverlayText string
	// CurrentUsageSeconds seeds the quota meter with the usage already
	// accumulated today.
	CurrentUsageSeconds int64
	// DailyLimitSeconds is the plan allowance; zero disables enforcement.
	DailyLimitSeconds int64
}

// StartBroadcast validates the request, launches the encoder subprocess, and
// registers the session. Configuration problems are rejected synchronously
// before any subprocess starts; launch failures wrap the subprocess error.
func (e *Engine) StartBroadcast(ctx context.Context, req StartRequest) (string, error) {
	if len(req.Playlist) == 0 {
		return "", ErrNoMedia
	}
	if len(req.Destinations) == 0 {
		return "", ErrNoDestination
	}
	if req.DailyLimitSeconds > 0 && req.CurrentUsageSeconds >= req.DailyLimitSeconds {
		return "", ErrQuotaExhausted
	}
	mode, err := playlistMode(req.Playlist)
	if err != nil {
		return "", err
	}

	sessionID := uuid.NewString()
	logger := e.logger.With("session_id", sessionID, "user_id", req.UserID)

	var (
		spec     CommandSpec
		feeder   *Feeder
		manifest string
	)
	switch mode {
	case ModeAudio:
		profile := DefaultProfile(len(req.Destinations))
		profile.OverlayText = req.OverlayText
		if err := profile.Validate(); err != nil {
			return "", fmt.Errorf("encode profile: %w", err)
		}
		feeder = NewFeeder(playlistPaths(req.Playlist), req.Loop,
			WithFeederLogger(logger),
			WithSkipHandler(func(path string, skipErr error) {
				e.emitLog(sessionID, req.UserID, EventInfo,
					fmt.Sprintf("skipped unreadable media file %s", filepath.Base(path)))
				e.metrics.FeederSkip()
			}),
		)
		args, err := e.audioArgs(profile, req)
		if err != nil {
			feeder.Close()
			return "", err
		}
		spec = CommandSpec{Binary: e.binary, Args: args, Stdin: feeder.Output()}
	case ModeVideo:
		manifest, err = e.writeManifest(sessionID, req.Playlist)
		if err != nil {
			return "", fmt.Errorf("write playlist manifest: %w", err)
		}
		args, err := videoArgs(manifest, req)
		if err != nil {
			os.Remove(manifest)
			return "", err
		}
		spec = CommandSpec{Binary: e.binary, Args: args}
	}

	proc, err := e.runner.Start(ctx, spec)
	if err != nil {
		if feeder != nil {
			feeder.Close()
		}
		if manifest != "" {
			os.Remove(manifest)
		}
		return "", fmt.Errorf("start encoder: %w", err)
	}

	session := &Session{
		ID:               sessionID,
		UserID:           req.UserID,
		Mode:             mode,
		Loop:             req.Loop,
		StartedAt:        time.Now().UTC(),
		DestinationNames: destinationNames(req.Destinations),
		feeder:           feeder,
		proc:             proc,
		meter:            NewQuotaMeter(e.usage, req.UserID, req.CurrentUsageSeconds, req.DailyLimitSeconds, e.batchSeconds),
		manifestPath:     manifest,
		registry:         e.registry,
		logger:           logger,
		done:             make(chan struct{}),
	}
	e.registry.register(session)
	e.metrics.SessionStarted(string(mode))
	e.emitLog(sessionID, req.UserID, EventStart,
		fmt.Sprintf("broadcast started to %s (loop: %t)", strings.Join(session.DestinationNames, ", "), req.Loop))
	logger.Info("broadcast started",
		"mode", mode,
		"items", len(req.Playlist),
		"destinations", redactedDestinations(req.Destinations),
		"loop", req.Loop)

	go e.supervise(session)
	return sessionID, nil
}

// StopBroadcast stops a single session, every session of a user, or every
// session in the engine when both selectors are empty. It returns the number
// of sessions stopped; stopping nothing is not an error.
func (e *Engine) StopBroadcast(sessionID, userID string) int {
	switch {
	case sessionID != "":
		if e.registry.StopSession(sessionID) {
			return 1
		}
		return 0
	case userID != "":
		return e.registry.StopUser(userID)
	default:
		return e.registry.StopAll()
	}
}

// ListActiveSessions returns snapshots of the user's live sessions.
func (e *Engine) ListActiveSessions(userID string) []Info {
	sessions := e.registry.ListByUser(userID)
	infos := make([]Info, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.Snapshot())
	}
	return infos
}

// Close stops every live session and waits for teardown, bounded by the
// context.
func (e *Engine) Close(ctx context.Context) error {
	all := e.registry.all()
	for _, session := range all {
		session.Stop()
	}
	for _, session := range all {
		select {
		case <-session.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// supervise owns a session from launch to deregistration. The feeder task and
// the progress pump run alongside the subprocess wait; the subprocess exiting
// (for any reason) drives everything else down.
func (e *Engine) supervise(s *Session) {
	group := new(errgroup.Group)
	if s.feeder != nil {
		group.Go(func() error {
			if err := s.feeder.Run(context.Background()); errors.Is(err, ErrNoPlayableMedia) {
				s.noMedia.Store(true)
				// Nothing left to feed: the encoder sees EOF and exits
				// on its own, but terminate promptly anyway.
				s.proc.Kill()
			}
			return nil
		})
	}
	group.Go(func() error {
		e.pumpProgress(s)
		return nil
	})

	exitErr := s.proc.Wait()
	// Unblock the feeder and remove temp state regardless of how the
	// process died; cleanup is idempotent with any explicit stop.
	s.cleanup()
	_ = group.Wait()
	e.finish(s, exitErr)
}

// pumpProgress consumes diagnostic lines until the subprocess exits, feeding
// the quota meter and emitting throttled stats telemetry.
func (e *Engine) pumpProgress(s *Session) {
	ctx := context.Background()
	var lastStats time.Time
	for line := range s.proc.Lines() {
		progress, ok := parseProgress(line)
		if !ok {
			continue
		}
		exceeded, err := s.meter.Observe(ctx, progress.Seconds)
		if err != nil {
			s.logger.Warn("persist usage", "error", err)
		}
		if exceeded {
			if s.stopped.Load() {
				continue
			}
			e.emitLog(s.ID, s.UserID, EventInfo, "quota-exceeded: daily broadcast allowance reached, stopping stream")
			e.metrics.QuotaStop()
			s.stopForQuota()
			continue
		}
		if time.Since(lastStats) >= e.statsInterval {
			lastStats = time.Now()
			e.sink.Stats(StatsEvent{
				SessionID:             s.ID,
				UserID:                s.UserID,
				ElapsedTimemark:       progress.Timemark,
				BitrateKbps:           progress.BitrateKbps,
				UsageRemainingSeconds: s.meter.Remaining(),
				Timestamp:             time.Now().UTC(),
			})
		}
	}
}

// finish runs the tail of the single teardown path: flush usage, classify the
// exit, emit the one user-facing event for the outcome, and deregister.
func (e *Engine) finish(s *Session, exitErr error) {
	if err := s.meter.Flush(context.Background()); err != nil {
		s.logger.Warn("flush usage", "error", err)
	}

	deliberate := s.deliberate.Load()
	cause := Classify(s.proc.Tail(), exitErr, deliberate)
	if s.noMedia.Load() {
		cause = CauseMissingFile
	}

	switch {
	case s.quotaStop.Load():
		e.emitLog(s.ID, s.UserID, EventEnd, "broadcast stopped: daily allowance exhausted")
		e.metrics.SessionEnded("quota")
		s.logger.Info("broadcast stopped by quota")
	case deliberate:
		e.emitLog(s.ID, s.UserID, EventEnd, "broadcast stopped")
		e.metrics.SessionEnded("stopped")
		s.logger.Info("broadcast stopped by request")
	case cause == CauseNone:
		e.emitLog(s.ID, s.UserID, EventEnd, "broadcast finished")
		e.metrics.SessionEnded("completed")
		s.logger.Info("broadcast completed")
	default:
		e.emitLog(s.ID, s.UserID, EventError, cause.Message())
		e.metrics.SessionEnded(string(cause))
		s.logger.Error("broadcast failed", "cause", string(cause))
	}

	s.deregister()
	close(s.done)
}

func (e *Engine) emitLog(sessionID, userID string, kind EventKind, message string) {
	e.sink.Log(LogEvent{
		SessionID: sessionID,
		UserID:    userID,
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// audioArgs assembles the full argv for the audio+backdrop mode: backdrop
// input (still image or generated frame), the feeder's audio on stdin, the
// profile's encode settings, and the destination outputs.
func (e *Engine) audioArgs(profile EncodeProfile, req StartRequest) ([]string, error) {
	args := []string{"-hide_banner", "-loglevel", "info", "-stats"}
	if req.Backdrop != nil {
		args = append(args, "-loop", "1", "-thread_queue_size", "1024", "-i", req.Backdrop.Path)
	} else {
		args = append(args, "-f", "lavfi",
			"-i", fmt.Sprintf("color=c=black:s=%dx%d:r=%d", profile.CanvasWidth, profile.CanvasHeight, profile.FrameRate))
	}
	args = append(args, "-re", "-thread_queue_size", "1024", "-i", "pipe:0")
	args = append(args, profile.encodeArgs()...)
	args = append(args, "-shortest")
	outputs, err := outputArgs(req.Destinations, []string{"0:v", "1:a"})
	if err != nil {
		return nil, err
	}
	return append(args, outputs...), nil
}

// videoArgs assembles the argv for the passthrough mode: the concat manifest
// is streamed in real time and copied without re-encoding; looping repeats
// the manifest at the input level.
func videoArgs(manifestPath string, req StartRequest) ([]string, error) {
	args := []string{"-hide_banner", "-loglevel", "info", "-stats", "-re"}
	if req.Loop {
		args = append(args, "-stream_loop", "-1")
	}
	args = append(args,
		"-f", "concat", "-safe", "0", "-thread_queue_size", "1024",
		"-i", manifestPath,
		"-c:v", "copy", "-c:a", "copy",
	)
	outputs, err := outputArgs(req.Destinations, []string{"0:v?", "0:a?"})
	if err != nil {
		return nil, err
	}
	return append(args, outputs...), nil
}

// writeManifest materialises a session-scoped ffconcat playlist. The file is
// exclusively owned by its session and unlinked on teardown.
func (e *Engine) writeManifest(sessionID string, playlist []models.MediaItem) (string, error) {
	var builder strings.Builder
	builder.WriteString("ffconcat version 1.0\n")
	for _, item := range playlist {
		builder.WriteString("file '")
		builder.WriteString(strings.ReplaceAll(item.Path, "'", `'\''`))
		builder.WriteString("'\n")
	}
	path := filepath.Join(e.tempDir, fmt.Sprintf("litecast-playlist-%s.ffconcat", sessionID))
	if err := os.WriteFile(path, []byte(builder.String()), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// playlistMode derives the broadcast mode from the playlist contents. Image
// items never belong in a playlist: backdrops travel separately.
func playlistMode(playlist []models.MediaItem) (Mode, error) {
	var audio, video int
	for _, item := range playlist {
		switch item.Kind {
		case models.MediaAudio:
			audio++
		case models.MediaVideo:
			video++
		default:
			return "", fmt.Errorf("media item %q is not playable in a playlist", item.Filename)
		}
	}
	switch {
	case audio > 0 && video > 0:
		return "", ErrMixedPlaylist
	case video > 0:
		return ModeVideo, nil
	default:
		return ModeAudio, nil
	}
}

func playlistPaths(playlist []models.MediaItem) []string {
	paths := make([]string, len(playlist))
	for i, item := range playlist {
		paths[i] = item.Path
	}
	return paths
}

func redactedDestinations(dests []models.Destination) []string {
	out := make([]string, len(dests))
	for i, dest := range dests {
		out[i] = RedactDestination(dest)
	}
	return out
}
