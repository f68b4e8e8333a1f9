package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeMediaFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestFeederConcatenatesExactBytes(t *testing.T) {
	dir := t.TempDir()
	first := writeMediaFile(t, dir, "one.mp3", []byte("alpha-frames"))
	second := writeMediaFile(t, dir, "two.mp3", []byte("beta-frames"))

	feeder := NewFeeder([]string{first, second}, false)
	errCh := make(chan error, 1)
	go func() { errCh <- feeder.Run(context.Background()) }()

	got, err := io.ReadAll(feeder.Output())
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if runErr := <-errCh; runErr != nil {
		t.Fatalf("run: %v", runErr)
	}

	want := []byte("alpha-framesbeta-frames")
	if !bytes.Equal(got, want) {
		t.Fatalf("output = %q, want %q", got, want)
	}
	if feeder.Bytes() != int64(len(want)) {
		t.Fatalf("bytes = %d, want %d", feeder.Bytes(), len(want))
	}
}

func TestFeederLoopRepeatsPlaylist(t *testing.T) {
	dir := t.TempDir()
	path := writeMediaFile(t, dir, "loop.mp3", []byte("chunk"))

	feeder := NewFeeder([]string{path}, true)
	go feeder.Run(context.Background())

	// Read three full passes, then stop the feeder.
	buf := make([]byte, 15)
	if _, err := io.ReadFull(feeder.Output(), buf); err != nil {
		t.Fatalf("read looped output: %v", err)
	}
	feeder.Close()

	if string(buf) != "chunkchunkchunk" {
		t.Fatalf("looped output = %q", buf)
	}
}

func TestFeederSkipsUnreadableItems(t *testing.T) {
	dir := t.TempDir()
	good := writeMediaFile(t, dir, "good.mp3", []byte("payload"))
	missing := filepath.Join(dir, "deleted.mp3")

	var mu sync.Mutex
	var skipped []string
	feeder := NewFeeder([]string{missing, good}, false,
		WithSkipHandler(func(path string, err error) {
			mu.Lock()
			skipped = append(skipped, path)
			mu.Unlock()
		}),
	)
	errCh := make(chan error, 1)
	go func() { errCh <- feeder.Run(context.Background()) }()

	got, err := io.ReadAll(feeder.Output())
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if runErr := <-errCh; runErr != nil {
		t.Fatalf("run: %v", runErr)
	}
	if string(got) != "payload" {
		t.Fatalf("output = %q, want %q", got, "payload")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(skipped) != 1 || skipped[0] != missing {
		t.Fatalf("skipped = %v, want [%s]", skipped, missing)
	}
}

func TestFeederAllUnreadableIsFatal(t *testing.T) {
	dir := t.TempDir()
	feeder := NewFeeder([]string{
		filepath.Join(dir, "gone-one.mp3"),
		filepath.Join(dir, "gone-two.mp3"),
	}, true)

	errCh := make(chan error, 1)
	go func() { errCh <- feeder.Run(context.Background()) }()
	go io.Copy(io.Discard, feeder.Output())

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrNoPlayableMedia) {
			t.Fatalf("run error = %v, want ErrNoPlayableMedia", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("feeder did not fail a fully unreadable pass")
	}
}

func TestFeederCloseIsIdempotentAndUnblocksWriter(t *testing.T) {
	dir := t.TempDir()
	// Larger than the pipe buffer so Run blocks in the pipe write with no
	// reader attached.
	path := writeMediaFile(t, dir, "big.mp3", bytes.Repeat([]byte("x"), 1<<20))

	feeder := NewFeeder([]string{path}, true)
	errCh := make(chan error, 1)
	go func() { errCh <- feeder.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	feeder.Close()
	feeder.Close()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run after close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("close did not unblock the feeder")
	}

	// The consumer side observes end-of-stream, not a hang.
	if _, err := io.ReadAll(feeder.Output()); err == nil {
		t.Fatal("expected closed-pipe error on the read side")
	}
}
