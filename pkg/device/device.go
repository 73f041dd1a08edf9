// Package device is the boundary between the mixer and a platform audio
// backend: a pull-model Sink whose Fill method a backend calls repeatedly
// on its realtime thread (spec §4.7).
package device

import (
	"github.com/riffsynth/engine/pkg/voice"
)

// frame alignment target: bytes = frames * channels * (bits/8) must be a
// multiple of this (spec §4.7 "Slice sizing").
const byteAlignment = 64

// MinSliceMillis/MaxSliceMillis bound the engine's self-chosen slice size.
const (
	MinSliceMillis = 5
	MaxSliceMillis = 11
)

// Sink pulls rendered audio from a Mixer at a steady cadence and writes it
// into a caller- or backend-owned buffer (spec §4.7 "Pull model").
// It implements io.Reader so it can be registered directly with
// ebiten/v2/audio.Context's player, matching the reference project's
// MIDIStream.Read shape.
type Sink struct {
	mixer *voice.Mixer

	sliceFrames int
	sliceBytes  int
	bytesPerFrame int

	gain    int // 0..512, 256 = unity (spec §4.7 "Output gain and balance")
	balance int16 // -256..256

	recorder *Recorder

	muted bool
}

// NewSink picks a slice size in [MinSliceMillis, MaxSliceMillis] at the
// mixer's sample rate, rounded to a frame count whose byte size is a
// multiple of 64 bytes, and preallocates nothing beyond what the mixer
// itself preallocates (spec §4.7, §5 "preallocated on open").
func NewSink(m *voice.Mixer) *Sink {
	s := &Sink{mixer: m, gain: 256}
	s.bytesPerFrame = m.Channels * (m.BitsPerSample / 8)
	s.sliceFrames = chooseSliceFrames(m.SampleRate, s.bytesPerFrame)
	s.sliceBytes = s.sliceFrames * s.bytesPerFrame
	return s
}

func chooseSliceFrames(sampleRate, bytesPerFrame int) int {
	targetMillis := 8 // midpoint of the 5-11ms window
	frames := sampleRate * targetMillis / 1000
	if frames < 1 {
		frames = 1
	}
	for {
		if (frames*bytesPerFrame)%byteAlignment == 0 {
			break
		}
		frames++
		millis := frames * 1000 / sampleRate
		if millis > MaxSliceMillis {
			// No aligned frame count falls inside the window at this
			// format; use the next 64-byte-aligned count regardless of
			// the millisecond bound.
			for (frames*bytesPerFrame)%byteAlignment != 0 {
				frames++
			}
			break
		}
	}
	return frames
}

// SliceFrames reports the chosen slice size in frames.
func (s *Sink) SliceFrames() int { return s.sliceFrames }

// SetGain sets the post-mix output gain, clamped to [0, 512] (256 = unity).
func (s *Sink) SetGain(gain int) {
	if gain < 0 {
		gain = 0
	}
	if gain > 512 {
		gain = 512
	}
	s.gain = gain
}

// SetBalance sets the post-mix balance, clamped to [-256, 256].
func (s *Sink) SetBalance(balance int16) {
	if balance < -256 {
		balance = -256
	}
	if balance > 256 {
		balance = 256
	}
	s.balance = balance
}

// SetMuted silences the sink's output without stopping the mixer or the
// sequencers it drives underneath (spec §9's headless-mode guidance,
// mirrored from the reference project's AudioSystem.SetMuted).
func (s *Sink) SetMuted(muted bool) { s.muted = muted }

// SetRecorder installs a side-tap that receives a copy of every rendered
// slice (spec §4.7 "Export-to-file recorder"). Pass nil to remove it.
func (s *Sink) SetRecorder(r *Recorder) { s.recorder = r }

// Fill renders into out, applying post-mix gain/balance and forwarding a
// copy to the recorder side-tap if one is installed. It never allocates,
// never blocks on a non-RT lock, and never panics (spec §4.7, §4.1
// "Failure semantics") — the underlying Mixer.Process already guarantees
// this, and an installed log sink receives any internal diagnostics.
func (s *Sink) Fill(out []byte, frameCount int) int {
	if frameCount <= 0 || len(out) == 0 {
		return 0
	}
	n := s.mixer.Process(out, frameCount)
	s.applyGainBalance(out, n)
	if s.recorder != nil {
		s.recorder.Write(out[:n*s.bytesPerFrame])
	}
	if s.muted {
		for i := range out[:n*s.bytesPerFrame] {
			out[i] = 0
		}
	}
	return n
}

// Read implements io.Reader over a fixed request granularity of the
// sink's chosen slice size, matching the reference project's
// MIDIStream.Read contract for registration with ebiten/v2/audio.Context.
func (s *Sink) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	frames := len(p) / s.bytesPerFrame
	if frames == 0 {
		return 0, nil
	}
	n := s.Fill(p, frames)
	return n * s.bytesPerFrame, nil
}

func (s *Sink) applyGainBalance(out []byte, frameCount int) {
	if s.gain == 256 && s.balance == 0 {
		return
	}
	gain := float64(s.gain) / 256.0
	balance := float64(s.balance) / 256.0
	var lBal, rBal float64 = 1, 1
	if balance < 0 {
		rBal = 1 + balance
	} else if balance > 0 {
		lBal = 1 - balance
	}

	bits := s.mixer.BitsPerSample
	channels := s.mixer.Channels
	bytesPerSample := bits / 8
	for f := 0; f < frameCount; f++ {
		base := f * channels * bytesPerSample
		if channels == 1 {
			applyGainAt(out, base, gain, bits)
			continue
		}
		applyGainAt(out, base, gain*lBal, bits)
		applyGainAt(out, base+bytesPerSample, gain*rBal, bits)
	}
}

func applyGainAt(out []byte, offset int, gain float64, bits int) {
	if bits == 8 {
		v := float64(int(out[offset]) - 128)
		v = clamp8(v * gain)
		out[offset] = byte(v + 128)
		return
	}
	s := int16(out[offset]) | int16(out[offset+1])<<8
	v := clamp16(float64(s) * gain)
	out[offset] = byte(v)
	out[offset+1] = byte(v >> 8)
}

func clamp8(v float64) float64 {
	if v > 127 {
		return 127
	}
	if v < -128 {
		return -128
	}
	return v
}

func clamp16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
