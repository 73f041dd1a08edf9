package device

import (
	"bufio"
	"encoding/binary"
	"os"

	"github.com/riffsynth/engine/pkg/result"
)

// Recorder is the fill-callback side-tap that writes rendered PCM to a WAV
// file while the sink continues normal playback (spec §4.7 "Export-to-file
// recorder", §4.8 "Mixer_StartOutputToFile").
//
// No library in the reference dependency set encodes WAV (ebiten/v2/audio/wav
// only decodes), so the header/data writer here is a direct
// encoding/binary implementation; this is recorded in DESIGN.md as a
// justified standard-library choice.
type Recorder struct {
	f             *os.File
	w             *bufio.Writer
	sampleRate    int
	channels      int
	bitsPerSample int
	dataBytes     uint32
}

// NewRecorder creates path and writes a placeholder WAV header (patched
// with the final size on Close).
func NewRecorder(path string, sampleRate, channels, bitsPerSample int) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, result.Wrap(result.DeviceUnavailable, "failed to create export file", err)
	}
	r := &Recorder{
		f:             f,
		w:             bufio.NewWriter(f),
		sampleRate:    sampleRate,
		channels:      channels,
		bitsPerSample: bitsPerSample,
	}
	if err := r.writeHeader(0); err != nil {
		f.Close()
		return nil, result.Wrap(result.DeviceUnavailable, "failed to write WAV header", err)
	}
	return r, nil
}

func (r *Recorder) writeHeader(dataBytes uint32) error {
	byteRate := r.sampleRate * r.channels * r.bitsPerSample / 8
	blockAlign := r.channels * r.bitsPerSample / 8

	var hdr [44]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], 36+dataBytes)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(r.channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(r.sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:36], uint16(r.bitsPerSample))
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], dataBytes)

	if _, err := r.f.WriteAt(hdr[:], 0); err != nil {
		return err
	}
	_, err := r.f.Seek(44, 0)
	return err
}

// Write appends raw interleaved PCM bytes to the file (spec §4.7 "appends
// raw PCM to a WAV writer").
func (r *Recorder) Write(pcm []byte) {
	if r == nil || len(pcm) == 0 {
		return
	}
	n, err := r.w.Write(pcm)
	if err != nil {
		return
	}
	r.dataBytes += uint32(n)
}

// Close flushes buffered data, patches the WAV header with the final byte
// count, and closes the file.
func (r *Recorder) Close() error {
	if err := r.w.Flush(); err != nil {
		r.f.Close()
		return result.Wrap(result.DeviceUnavailable, "failed to flush export file", err)
	}
	if err := r.writeHeader(r.dataBytes); err != nil {
		r.f.Close()
		return result.Wrap(result.DeviceUnavailable, "failed to patch WAV header", err)
	}
	return r.f.Close()
}

// BytesWritten reports the number of PCM data bytes written so far.
func (r *Recorder) BytesWritten() uint32 { return r.dataBytes }
