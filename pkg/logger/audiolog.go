package logger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// AudioLog is a lock-free, drop-oldest diagnostic ring for the
// realtime audio-rendering goroutine (spec.md §4.1 "Failure semantics";
// SPEC_FULL.md §2 "the engine never logs synchronously from the
// audio-rendering goroutine... posts pre-formatted diagnostic events to
// a small lock-free drop-oldest ring that a background goroutine drains
// into slog"). Unlike package ring's MIDI event queue, which rejects new
// messages when full, this ring overwrites the oldest unread entry so a
// burst of diagnostics never blocks the caller waiting for a drain.
type AudioLog struct {
	slots []logEntry
	mask  uint64
	tail  atomic.Uint64
	head  atomic.Uint64

	logger *slog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

type logEntry struct {
	level slog.Level
	msg   string
}

// NewAudioLog starts a background drain goroutine writing to logger,
// with a ring sized to capacity (rounded up to a power of two).
func NewAudioLog(logger *slog.Logger, capacity int) *AudioLog {
	n := nextPow2(capacity)
	a := &AudioLog{
		slots:  make([]logEntry, n),
		mask:   uint64(n - 1),
		logger: logger,
		stopCh: make(chan struct{}),
	}
	a.wg.Add(1)
	go a.drain()
	return a
}

func nextPow2(n int) int {
	if n < 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Logf formats and enqueues a diagnostic message. It never blocks and
// never allocates beyond the fmt.Sprintf call itself; install it via
// voice.Mixer.SetLogSink so the render loop's only cost per call is one
// atomic increment and a slot write.
func (a *AudioLog) Logf(format string, args ...any) {
	a.logAt(slog.LevelWarn, format, args...)
}

func (a *AudioLog) logAt(level slog.Level, format string, args ...any) {
	tail := a.tail.Load()
	a.slots[tail&a.mask] = logEntry{level: level, msg: fmt.Sprintf(format, args...)}
	a.tail.Store(tail + 1)

	// If the producer has lapped the consumer, advance head past the
	// slot(s) just overwritten so the drain loop never re-reads stale
	// data and the ring stays drop-oldest rather than corrupt.
	head := a.head.Load()
	if tail+1-head > uint64(len(a.slots)) {
		a.head.CompareAndSwap(head, tail+1-uint64(len(a.slots)))
	}
}

func (a *AudioLog) drain() {
	defer a.wg.Done()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			a.drainOnce()
			return
		case <-ticker.C:
			a.drainOnce()
		}
	}
}

func (a *AudioLog) drainOnce() {
	for {
		head := a.head.Load()
		tail := a.tail.Load()
		if head == tail {
			return
		}
		e := a.slots[head&a.mask]
		a.head.Store(head + 1)
		a.logger.Log(context.Background(), e.level, e.msg)
	}
}

// Close stops the drain goroutine after flushing whatever is queued.
func (a *AudioLog) Close() {
	close(a.stopCh)
	a.wg.Wait()
}
