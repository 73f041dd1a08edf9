package sound

import (
	"encoding/binary"
	"testing"

	"github.com/riffsynth/engine/pkg/voice"
)

func buildWAV(frames int) []byte {
	dataBytes := frames * 4
	buf := make([]byte, 44+dataBytes)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataBytes))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], 2)
	binary.LittleEndian.PutUint32(buf[24:28], 44100)
	binary.LittleEndian.PutUint32(buf[28:32], 44100*4)
	binary.LittleEndian.PutUint16(buf[32:34], 4)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataBytes))
	for i := 0; i < frames; i++ {
		binary.LittleEndian.PutUint16(buf[44+i*4:], uint16(1000))
		binary.LittleEndian.PutUint16(buf[44+i*4+2:], uint16(1000))
	}
	return buf
}

func TestDecodeWAV_DownmixesStereoToMono(t *testing.T) {
	data := buildWAV(100)
	sample, err := DecodeWAV(data, 44100)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if len(sample.Data) != 100 {
		t.Fatalf("decoded frame count = %d, want 100", len(sample.Data))
	}
	if sample.Data[0] != 1000 {
		t.Fatalf("decoded sample[0] = %d, want 1000 (mono average of two equal channels)", sample.Data[0])
	}
}

func TestSound_PlayAllocatesVoice(t *testing.T) {
	table := voice.NewTable(4)
	data := buildWAV(50)
	sample, err := DecodeWAV(data, 44100)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	s := New(table, sample, 0xFFFF, 0)
	s.Play(100)
	if !s.IsPlaying() {
		t.Fatal("expected sound to be playing after Play")
	}
	if table.ActiveCount() != 1 {
		t.Fatalf("ActiveCount = %d, want 1", table.ActiveCount())
	}
}

func TestSound_ServiceReleasesAtEndWhenNotLooping(t *testing.T) {
	table := voice.NewTable(4)
	data := buildWAV(10)
	sample, err := DecodeWAV(data, 44100)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	s := New(table, sample, 0xFFFF, 0)
	s.Play(100)

	table.Voices()[s.voiceIdx].Phase = float64(len(sample.Data))
	s.Service()

	v := &table.Voices()[s.voiceIdx]
	if !v.Env.InRelease() {
		t.Fatal("expected envelope to enter release once phase reaches end of non-looping sample")
	}
}

func TestSound_ServiceLoopsWhenInfinite(t *testing.T) {
	table := voice.NewTable(4)
	data := buildWAV(10)
	sample, err := DecodeWAV(data, 44100)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	s := New(table, sample, 0xFFFF, 0)
	s.SetLoops(LoopInfinite)
	s.Play(100)

	table.Voices()[s.voiceIdx].Phase = float64(len(sample.Data))
	s.Service()

	v := &table.Voices()[s.voiceIdx]
	if v.Phase != 0 {
		t.Fatalf("Phase after loop restart = %v, want 0", v.Phase)
	}
	if !s.IsPlaying() {
		t.Fatal("expected sound to still be playing after an infinite loop restart")
	}
}
