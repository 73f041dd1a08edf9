package logger

import (
	"bytes"
	"log/slog"
	"testing"
	"time"
)

func TestAudioLog_DrainsQueuedEntries(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	a := NewAudioLog(log, 8)
	defer a.Close()

	a.Logf("voice %d stole slot %d", 3, 7)

	deadline := time.Now().Add(time.Second)
	for buf.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if buf.Len() == 0 {
		t.Fatal("expected the background drain goroutine to write the queued entry")
	}
}

func TestAudioLog_OverwritesOldestWhenFull(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	a := NewAudioLog(log, 2) // rounds up to 2 slots

	for i := 0; i < 10; i++ {
		a.Logf("entry %d", i)
	}
	// Must not block or panic regardless of how far producer laps consumer.
	a.Close()
}
