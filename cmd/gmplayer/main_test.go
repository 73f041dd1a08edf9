package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/riffsynth/engine/pkg/cli"
)

func TestReadAssetFile_ResolvesCaseInsensitively(t *testing.T) {
	dir := t.TempDir()
	want := []byte("MThd fixture bytes")
	if err := os.WriteFile(filepath.Join(dir, "Song.MID"), want, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := readAssetFile(filepath.Join(dir, "song.mid"))
	if err != nil {
		t.Fatalf("readAssetFile: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("readAssetFile content = %q, want %q", got, want)
	}
}

func TestTimeLimit(t *testing.T) {
	tests := []struct {
		name string
		sec  int
		want time.Duration
	}{
		{"unlimited", 0, 0},
		{"thirty seconds", 30, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &cli.Config{TimeLimitSec: tt.sec}
			if got := timeLimit(cfg); got != tt.want {
				t.Errorf("timeLimit(%d) = %v, want %v", tt.sec, got, tt.want)
			}
		})
	}
}
