package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// ErrNoPlayableMedia is reported by the feeder when every file in a full
// playlist pass failed to open.
var ErrNoPlayableMedia = errors.New("no playable media in playlist")

var errFeederStopped = errors.New("feeder stopped")

const feederCopyBufferSize = 64 * 1024

// Feeder turns an ordered playlist of files into one continuous byte stream.
// The encoder reads from Output as if it were a single giant file: the feeder
// opens each file in turn and pipes its bytes into the same sink without ever
// closing it between items. With loop enabled the playlist repeats until the
// feeder is closed.
type Feeder struct {
	paths  []string
	loop   bool
	logger *slog.Logger
	onSkip func(path string, err error)

	pr *io.PipeReader
	pw *io.PipeWriter

	closed atomic.Bool
	bytes  atomic.Int64
}

// FeederOption configures a Feeder.
type FeederOption func(*Feeder)

// WithFeederLogger attaches a logger used for skip and shutdown diagnostics.
func WithFeederLogger(logger *slog.Logger) FeederOption {
	return func(f *Feeder) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithSkipHandler installs a callback invoked whenever an unreadable playlist
// item is skipped. It runs on the feeder goroutine and must not block.
func WithSkipHandler(handler func(path string, err error)) FeederOption {
	return func(f *Feeder) {
		f.onSkip = handler
	}
}

// NewFeeder prepares a feeder for the given playlist. Run must be called to
// start piping bytes.
func NewFeeder(paths []string, loop bool, opts ...FeederOption) *Feeder {
	pr, pw := io.Pipe()
	feeder := &Feeder{
		paths:  append([]string(nil), paths...),
		loop:   loop,
		logger: slog.Default(),
		pr:     pr,
		pw:     pw,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(feeder)
		}
	}
	return feeder
}

// Output returns the read side of the continuous stream. It yields the exact
// concatenation of the playlist files in order, repeated when looping.
func (f *Feeder) Output() io.Reader {
	return f.pr
}

// Bytes reports how many bytes have been written into the sink so far.
func (f *Feeder) Bytes() int64 {
	return f.bytes.Load()
}

// Close cooperatively stops the feeder: no further files are opened, any
// in-flight pipe write is unblocked, and the sink is closed so downstream
// readers observe end-of-stream. Close is idempotent.
func (f *Feeder) Close() {
	if !f.closed.CompareAndSwap(false, true) {
		return
	}
	// Unblock a writer stuck in pw.Write first, then signal EOF downstream.
	f.pr.CloseWithError(errFeederStopped)
	f.pw.Close()
}

// Run pipes playlist bytes into the sink until the playlist completes (loop
// disabled), the feeder is closed, the context is cancelled, or a full pass
// yields no readable file. The sink is always closed before Run returns, so a
// blocked encoder read observes end-of-stream.
func (f *Feeder) Run(ctx context.Context) error {
	defer f.pw.Close()
	for {
		played := 0
		for _, path := range f.paths {
			if f.closed.Load() || ctx.Err() != nil {
				return nil
			}
			err := f.pipeFile(path)
			switch {
			case err == nil:
				played++
			case errors.Is(err, errFeederStopped):
				return nil
			default:
				f.skip(path, err)
			}
		}
		if played == 0 {
			f.logger.Error("playlist exhausted with no readable files")
			return ErrNoPlayableMedia
		}
		if !f.loop {
			return nil
		}
	}
}

// pipeFile copies one file into the sink. Open and read failures are returned
// for skipping; a failed pipe write means the consumer is gone and surfaces as
// errFeederStopped.
func (f *Feeder) pipeFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	buf := make([]byte, feederCopyBufferSize)
	for {
		n, readErr := file.Read(buf)
		if n > 0 {
			if _, writeErr := f.pw.Write(buf[:n]); writeErr != nil {
				return errFeederStopped
			}
			f.bytes.Add(int64(n))
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

func (f *Feeder) skip(path string, err error) {
	f.logger.Warn("skipping unreadable playlist item", "path", path, "error", err)
	if f.onSkip != nil {
		f.onSkip(path, err)
	}
}
