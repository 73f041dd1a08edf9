package voice

import "math"

// ReverbType is one of the closed set of 12 reverb presets (spec §4.1).
type ReverbType int

const MaxReverbType = 11

// ChorusSend/ReverbSend gains are the per-channel CC91/CC93 values, 0..127,
// supplied by the channel router to the mixer at dispatch time; the mixer
// itself only needs the resulting scalar.

// SFRenderer is the boundary to the external SF2/DLS synthesizer (spec
// §4.1 step 6, §1 "deliberately out of scope... treated as a library").
// The concrete implementation lives in package bank, backed by
// go-meltysynth; Mixer depends only on this interface so the render path
// never imports the SF2 decoder directly.
type SFRenderer interface {
	Render(frames int) (left, right []float32)
	ActiveVoiceCount() int
	Reset()
}

// Mixer owns the voice table and produces interleaved PCM for each slice
// request (spec §4.1). It must not allocate or block on a non-RT lock from
// Process.
type Mixer struct {
	Table         *Table
	SampleRate    int
	Channels      int
	BitsPerSample int
	Interp        Interpolation

	MasterVolume  Q16_16 // Q16.16, [0, 1.0] plus configured overdrive headroom
	MasterBalance int16  // [-256, 256]

	ReverbEnabled bool
	ReverbType    ReverbType
	ChorusEnabled bool

	// ChannelGain is queried by the render loop for each active voice's
	// (song, channel): returns (volume*expression, reverbSend, chorusSend)
	// all as Q16.16/0..1 scalars. Supplied by package channel so voice
	// never imports the router.
	ChannelGain func(songID uint64, channel int) (vol Q16_16, reverbSend, chorusSend float64)

	// SF renderers currently contributing to the mix, one per Song that is
	// marked "use SoundFont" (spec §4.1 step 6).
	sfRenderers []sfMix

	dry    []float32 // interleaved stereo scratch buffer, reused across slices
	reverb []float32
	chorus []float32

	// reverbOut/chorusOut are the effect-processing scratch buffers for
	// applyReverbSend/applyChorusSend, preallocated here alongside
	// dry/reverb/chorus so neither ever allocates from Process (spec §4.1
	// "Must not allocate").
	reverbOut []float32
	chorusOut []float32

	log func(format string, args ...any) // internal diagnostics sink; never blocks, never nil
}

type sfMix struct {
	Renderer SFRenderer
	Volume   Q16_16
}

// NewMixer constructs a Mixer with a preallocated scratch buffer sized for
// MaxSliceFrames, matching spec §5's "preallocated on open" resource
// policy.
func NewMixer(sampleRate, channels, bits, maxVoices int, interp Interpolation) *Mixer {
	m := &Mixer{
		Table:         NewTable(maxVoices),
		SampleRate:    sampleRate,
		Channels:      channels,
		BitsPerSample: bits,
		Interp:        interp,
		MasterVolume:  q16One,
		MasterBalance: 0,
		log:           func(string, ...any) {},
	}
	m.growBuffers(MaxSliceFrames)
	return m
}

// MaxSliceFrames bounds the preallocated scratch buffer; Process renders
// at most this many frames per call, clamping larger requests (testable
// property 1).
const MaxSliceFrames = 4096

func (m *Mixer) growBuffers(frames int) {
	n := frames * 2
	if cap(m.dry) < n {
		m.dry = make([]float32, n)
		m.reverb = make([]float32, n)
		m.chorus = make([]float32, n)
		m.reverbOut = make([]float32, n)
		m.chorusOut = make([]float32, n)
	}
	m.dry = m.dry[:n]
	m.reverb = m.reverb[:n]
	m.chorus = m.chorus[:n]
	m.reverbOut = m.reverbOut[:n]
	m.chorusOut = m.chorusOut[:n]
}

// SetLogSink installs a non-blocking diagnostic callback (spec §9:
// callbacks are typed dynamic dispatch, never raw function pointers with
// unchecked lifetime). The sink must not itself block or allocate
// unboundedly; the default is a no-op.
func (m *Mixer) SetLogSink(sink func(format string, args ...any)) {
	if sink == nil {
		sink = func(string, ...any) {}
	}
	m.log = sink
}

// AddSFRenderer registers an SF2/DLS renderer to be mixed in at the
// given song volume (spec §4.1 step 6).
func (m *Mixer) AddSFRenderer(r SFRenderer, volume Q16_16) {
	m.sfRenderers = append(m.sfRenderers, sfMix{Renderer: r, Volume: volume})
}

// ClearSFRenderers removes all registered SF renderers. Song stop and
// delete do not call it.
func (m *Mixer) ClearSFRenderers() {
	m.sfRenderers = m.sfRenderers[:0]
}

// SetMasterVolume sets the Q16.16 master volume.
func (m *Mixer) SetMasterVolume(v Q16_16) { m.MasterVolume = v.Clamp01() }

// SetMasterBalance sets the master balance, clamped to [-256, 256].
func (m *Mixer) SetMasterBalance(b int16) {
	if b < -256 {
		b = -256
	}
	if b > 256 {
		b = 256
	}
	m.MasterBalance = b
}

// SliceMicros computes the slice duration in microseconds for a given
// frame count at the mixer's sample rate (spec §4.2 step 1, and testable
// property 2: monotonic in frameCount).
func SliceMicros(frameCount, sampleRate int) int64 {
	return int64(frameCount) * 1_000_000 / int64(sampleRate)
}

// Process renders frameCount frames into out (interleaved, Channels
// channels, BitsPerSample bits per sample). It never panics: on any
// internal failure it substitutes silence for the affected voices and
// logs via the installed sink (spec §4.1 "Failure semantics").
//
// frames_written = min(frameCount, buffer capacity) — testable property 1.
func (m *Mixer) Process(out []byte, frameCount int) int {
	if frameCount <= 0 {
		return 0
	}
	bytesPerFrame := m.Channels * (m.BitsPerSample / 8)
	maxFrames := len(out) / bytesPerFrame
	if frameCount > maxFrames {
		frameCount = maxFrames
	}
	if frameCount > MaxSliceFrames {
		frameCount = MaxSliceFrames
	}
	if frameCount <= 0 {
		return 0
	}

	m.growBuffers(frameCount)
	for i := range m.dry[:frameCount*2] {
		m.dry[i] = 0
	}
	for i := range m.reverb[:frameCount*2] {
		m.reverb[i] = 0
	}
	for i := range m.chorus[:frameCount*2] {
		m.chorus[i] = 0
	}

	m.renderVoices(frameCount)
	if m.ReverbEnabled {
		m.applyReverbSend(frameCount, m.ReverbType)
	}
	if m.ChorusEnabled {
		m.applyChorusSend(frameCount)
	}
	m.renderSF(frameCount)
	m.masterStage(out, frameCount)
	return frameCount
}

func (m *Mixer) renderVoices(frameCount int) {
	gainFn := m.ChannelGain
	voices := m.Table.Voices()

	for vi := range voices {
		v := &voices[vi]
		if !v.Active {
			continue
		}
		if v.Sample == nil {
			v.Env.Kill()
			m.log("voice %d has no sample; fading to silence", vi)
		}

		var chVol Q16_16 = q16One
		var reverbSend, chorusSend float64
		if gainFn != nil {
			chVol, reverbSend, chorusSend = gainFn(v.Key.SongID, v.Key.Channel)
		}

		left, right := StereoGain(v.Pan, m.Channels)

		for f := 0; f < frameCount; f++ {
			gain := v.Env.Advance()
			if gain <= 0 && v.Env.Done() {
				break
			}

			sampleVal := 0.0
			if v.Sample != nil {
				sampleVal = v.ReadSample(m.Interp)
				v.Phase += v.Step
			}

			total := sampleVal * gain.Float() * v.Volume.Float() * chVol.Float()
			lOut := total * left
			rOut := total * right

			m.dry[f*2] += float32(lOut)
			m.dry[f*2+1] += float32(rOut)

			if reverbSend > 0 {
				m.reverb[f*2] += float32(lOut * reverbSend)
				m.reverb[f*2+1] += float32(rOut * reverbSend)
			}
			if chorusSend > 0 {
				m.chorus[f*2] += float32(lOut * chorusSend)
				m.chorus[f*2+1] += float32(rOut * chorusSend)
			}

			if v.Env.Done() {
				break
			}
		}

		if v.Env.Done() {
			m.Table.Free(vi)
		}
	}
}

func (m *Mixer) renderSF(frameCount int) {
	if len(m.sfRenderers) == 0 {
		return
	}
	for _, sf := range m.sfRenderers {
		if sf.Renderer == nil {
			continue
		}
		left, right := sf.Renderer.Render(frameCount)
		vol := sf.Volume.Float()
		for f := 0; f < frameCount && f < len(left) && f < len(right); f++ {
			m.dry[f*2] += left[f] * float32(vol)
			m.dry[f*2+1] += right[f] * float32(vol)
		}
	}
}

func (m *Mixer) masterStage(out []byte, frameCount int) {
	masterGain := m.MasterVolume.Float()
	balance := float64(m.MasterBalance) / 256.0
	var lBal, rBal float64 = 1, 1
	if balance < 0 {
		rBal = 1 + balance
	} else if balance > 0 {
		lBal = 1 - balance
	}

	bytesPerSample := m.BitsPerSample / 8
	for f := 0; f < frameCount; f++ {
		l := float64(m.dry[f*2]) * masterGain * lBal
		r := float64(m.dry[f*2+1]) * masterGain * rBal

		if m.Channels == 1 {
			mono := (l + r) * 0.5
			writeSample(out, (f)*bytesPerSample, mono, m.BitsPerSample)
			continue
		}

		base := f * m.Channels * bytesPerSample
		writeSample(out, base, l, m.BitsPerSample)
		writeSample(out, base+bytesPerSample, r, m.BitsPerSample)
	}
}

func writeSample(out []byte, offset int, v float64, bits int) {
	if bits == 8 {
		v = clampF(v, -1, 1)
		out[offset] = byte(int16(v*127) + 128)
		return
	}
	v = clampF(v, -1, 1)
	s := int16(v * 32767)
	out[offset] = byte(s)
	out[offset+1] = byte(s >> 8)
}

func clampF(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// applyReverbSend runs the reverb-send buffer through the algorithm for
// the active preset and mixes it back into dry. The exact DSP structure
// is not mandated by the spec ("details not mandated"); this is a single
// feedback comb filter whose feedback and delay vary per preset index,
// with no allpass stage.
func (m *Mixer) applyReverbSend(frameCount int, t ReverbType) {
	reverb := m.reverb[:frameCount*2]
	out := m.reverbOut[:frameCount*2]

	feedback := 0.3 + 0.05*float64(t%MaxReverbType)
	delay := 200 + int(t)*37
	if delay >= len(reverb)/2 {
		delay = len(reverb)/2 - 1
	}
	if delay < 1 {
		mixInto(m.dry[:frameCount*2], reverb, 1.0)
		return
	}
	for i := range out {
		var tap float32
		if i-delay*2 >= 0 {
			tap = out[i-delay*2] * float32(feedback)
		}
		out[i] = reverb[i] + tap
	}
	mixInto(m.dry[:frameCount*2], out, 0.5)
}

// applyChorusSend mixes a short fixed-delay copy of the chorus-send buffer
// back into dry; the delay is not modulated.
func (m *Mixer) applyChorusSend(frameCount int) {
	const delay = 20 // frames, ~0.45ms at 44.1kHz — short enough to read as chorus, not slap delay
	chorus := m.chorus[:frameCount*2]
	out := m.chorusOut[:frameCount*2]

	for i := range out {
		var tap float32
		if i-delay*2 >= 0 {
			tap = chorus[i-delay*2]
		}
		out[i] = chorus[i]*0.6 + tap*0.4
	}
	mixInto(m.dry[:frameCount*2], out, 0.5)
}

func mixInto(dst, src []float32, gain float32) {
	n := len(dst)
	if len(src) < n {
		n = len(src)
	}
	for i := 0; i < n; i++ {
		dst[i] += src[i] * gain
	}
}
