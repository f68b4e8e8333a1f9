package engine

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// DefaultEncoderBinary is the encoder executable resolved from PATH when no
// override is configured.
const DefaultEncoderBinary = "ffmpeg"

// stderrTailSize bounds how many diagnostic lines are retained for failure
// classification.
const stderrTailSize = 40

// CommandSpec describes one encoder invocation.
type CommandSpec struct {
	Binary string
	Args   []string
	// Stdin, when set, is wired to the subprocess standard input (the
	// feeder's continuous audio stream).
	Stdin io.Reader
}

// Process is a running encoder subprocess.
type Process interface {
	// Wait blocks until the subprocess exits and returns its exit error.
	Wait() error
	// Kill force-terminates the subprocess. Safe to call more than once.
	Kill()
	// Lines streams diagnostic output line by line. The channel is closed
	// when the subprocess exits. The producer never blocks on a slow
	// consumer: excess lines are dropped after being recorded in the tail.
	Lines() <-chan string
	// Tail returns the most recent diagnostic lines for classification.
	Tail() []string
}

// CommandRunner launches encoder subprocesses. Tests substitute a fake runner
// so no real encoder binary is required.
type CommandRunner interface {
	Start(ctx context.Context, spec CommandSpec) (Process, error)
}

// ExecRunner launches real subprocesses via os/exec.
type ExecRunner struct{}

// Start launches the described subprocess with its stderr wired to a
// line-splitting writer. Stderr is a writer rather than a pipe so Wait blocks
// until the final burst of diagnostics has been delivered; a pipe read
// concurrently with Wait can lose the trailing lines that carry the fatal
// error. The writer never blocks on a slow consumer: excess lines are dropped
// after being recorded in the tail.
func (ExecRunner) Start(ctx context.Context, spec CommandSpec) (Process, error) {
	binary := spec.Binary
	if binary == "" {
		binary = DefaultEncoderBinary
	}
	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, binary, spec.Args...)
	if spec.Stdin != nil {
		cmd.Stdin = spec.Stdin
	}
	proc := &execProcess{
		cancel: cancel,
		lines:  make(chan string, 256),
		done:   make(chan struct{}),
	}
	splitter := &stderrSplitter{proc: proc}
	cmd.Stderr = splitter
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, err
	}

	go func() {
		proc.err = cmd.Wait()
		splitter.flush()
		close(proc.lines)
		close(proc.done)
		cancel()
	}()
	return proc, nil
}

type execProcess struct {
	cancel context.CancelFunc
	lines  chan string
	done   chan struct{}
	err    error

	mu   sync.Mutex
	tail []string
}

func (p *execProcess) emit(raw []byte) {
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return
	}
	p.record(line)
	select {
	case p.lines <- line:
	default:
	}
}

// stderrSplitter delivers subprocess diagnostics line by line as they are
// written. os/exec copies the pipe into the writer and Wait returns only
// after that copy completes, so every write lands before the exit is
// observed. Writes are serialized by os/exec; no locking is needed on buf.
type stderrSplitter struct {
	proc *execProcess
	buf  []byte
}

func (w *stderrSplitter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		idx := bytes.IndexAny(w.buf, "\r\n")
		if idx < 0 {
			break
		}
		w.proc.emit(w.buf[:idx])
		w.buf = w.buf[idx+1:]
	}
	return len(p), nil
}

// flush emits a trailing line that was not newline-terminated. Called after
// Wait returns, when no further writes can arrive.
func (w *stderrSplitter) flush() {
	if len(w.buf) > 0 {
		w.proc.emit(w.buf)
		w.buf = nil
	}
}

func (p *execProcess) record(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tail = append(p.tail, line)
	if len(p.tail) > stderrTailSize {
		p.tail = p.tail[len(p.tail)-stderrTailSize:]
	}
}

func (p *execProcess) Wait() error {
	<-p.done
	return p.err
}

func (p *execProcess) Kill() {
	p.cancel()
}

func (p *execProcess) Lines() <-chan string {
	return p.lines
}

func (p *execProcess) Tail() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.tail...)
}
