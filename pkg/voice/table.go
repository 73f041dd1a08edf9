package voice

import "math"

// Interpolation selects the resampling algorithm used when reading a
// source sample at a fractional phase (spec §4.1).
type Interpolation int

const (
	InterpNearest Interpolation = iota
	InterpLinear
	InterpHermite
)

// Sample is the minimal instrument-sample contract the voice engine needs
// from a resolved bank entry (HSB native path, spec §4.4): PCM frames,
// base pitch, loop points and an envelope template. SF2/DLS-backed voices
// bypass this entirely and are rendered by the external synthesizer
// (package bank); Sample exists only for the HSB/native path.
type Sample struct {
	Data       []int16 // mono PCM, native sample rate
	SampleRate int
	BaseNote   int     // MIDI note this sample was recorded at, concert pitch
	LoopStart  int     // frame index, 0 if non-looping
	LoopEnd    int     // frame index (exclusive), equal to len(Data) if non-looping
	Loops      bool
	Attack     Q16_16
	Decay      Q16_16
	Sustain    Q16_16
	Release    Q16_16
}

// Key identifies the (song, channel, note) triple spec §3.2 constrains to
// at most one voice in attack/decay/sustain at a time.
type Key struct {
	SongID  uint64
	Channel int
	Note    int
}

// Voice is one slot of the fixed-size voice table.
type Voice struct {
	Active  bool
	Key     Key
	Sample  *Sample
	Env     *Envelope
	Phase   float64 // fractional playback index into Sample.Data
	Step    float64 // phase advance per output frame
	Pan     Q16_16  // -1.0..1.0 in Q16.16
	Volume  Q16_16  // channel volume * expression, pre-combined
	Percuss bool
	Age     uint64 // monotonically increasing allocation order, for steal precedence
	velocity int
}

// Table is the fixed-size voice pool. It never reallocates after
// construction (spec §3.2).
type Table struct {
	voices []Voice
	clock  uint64
}

// NewTable builds a Table with the given fixed voice count (spec's
// MAX_VOICES, capped at 64 by the caller per spec §4.8).
func NewTable(maxVoices int) *Table {
	if maxVoices > 64 {
		maxVoices = 64
	}
	if maxVoices < 1 {
		maxVoices = 1
	}
	t := &Table{voices: make([]Voice, maxVoices)}
	for i := range t.voices {
		t.voices[i].Env = &Envelope{Stage: StageIdle}
	}
	return t
}

// Len returns the fixed voice count.
func (t *Table) Len() int { return len(t.voices) }

// Voices exposes the backing slice for the mixer's render loop. Callers
// must not resize it.
func (t *Table) Voices() []Voice { return t.voices }

// Find returns the index of the active voice matching key in the
// attack/decay/sustain phase, or -1. Per spec §3.2 this is unique.
func (t *Table) Find(key Key) int {
	for i := range t.voices {
		v := &t.voices[i]
		if v.Active && v.Key == key && !v.Env.InRelease() {
			return i
		}
	}
	return -1
}

// Allocate assigns a free voice, or steals one per the spec §4.1
// precedence: (a) a voice in release phase, (b) the lowest-velocity voice
// on the same channel, (c) the oldest voice on any channel. Percussion
// voices rank below melodic voices when stealing.
func (t *Table) Allocate(key Key, s *Sample, env *Envelope, percussion bool) int {
	for i := range t.voices {
		if !t.voices[i].Active {
			t.clock++
			t.initVoice(i, key, s, env, percussion, t.clock)
			return i
		}
	}

	idx := t.stealCandidate(key.Channel, percussion)
	t.clock++
	t.initVoice(idx, key, s, env, percussion, t.clock)
	return idx
}

func (t *Table) initVoice(i int, key Key, s *Sample, env *Envelope, percussion bool, age uint64) {
	v := &t.voices[i]
	*v = Voice{
		Active:  true,
		Key:     key,
		Sample:  s,
		Env:     env,
		Pan:     0,
		Volume:  q16One,
		Percuss: percussion,
		Age:     age,
	}
}

func (t *Table) stealCandidate(channel int, percussion bool) int {
	// (a) a voice already in release/fast-fade.
	if i := t.firstInRelease(!percussion); i >= 0 {
		return i
	}
	// (b) lowest-velocity voice on the same channel.
	if i := t.lowestVelocityOnChannel(channel); i >= 0 {
		return i
	}
	// (c) the oldest voice on any channel, preferring percussion targets
	// first when the new note is itself melodic, so melodic content wins
	// contention (spec: "percussion notes... ranked below melodic voices
	// when stealing").
	return t.oldest(!percussion)
}

func (t *Table) firstInRelease(preferPercussionVictim bool) int {
	best := -1
	for i := range t.voices {
		v := &t.voices[i]
		if !v.Active || !v.Env.InRelease() {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		if preferPercussionVictim && v.Percuss && !t.voices[best].Percuss {
			best = i
		}
	}
	return best
}

func (t *Table) lowestVelocityOnChannel(channel int) int {
	best := -1
	for i := range t.voices {
		v := &t.voices[i]
		if !v.Active || v.Key.Channel != channel {
			continue
		}
		if best < 0 || v.velocity < t.voices[best].velocity {
			best = i
		}
	}
	return best
}

func (t *Table) oldest(preferPercussionVictim bool) int {
	best := -1
	for i := range t.voices {
		v := &t.voices[i]
		if !v.Active {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		bv := &t.voices[best]
		if preferPercussionVictim && v.Percuss != bv.Percuss {
			if v.Percuss {
				best = i
			}
			continue
		}
		if v.Age < bv.Age {
			best = i
		}
	}
	return best
}

// SetVelocity records the triggering note-on velocity, used by the
// lowest-velocity steal rule.
func (t *Table) SetVelocity(i, velocity int) { t.voices[i].velocity = velocity }

// SetStep sets the per-output-frame phase advance for voice i (spec §4.1
// "Compute fractional step per output frame from (sample_rate_source ×
// pitch_ratio) / sample_rate_output").
func (t *Table) SetStep(i int, step float64) { t.voices[i].Step = step }

// PitchRatio computes the playback rate multiplier for playing a sample
// recorded at baseNote when triggered by note, semitones apart on an
// equal-tempered scale (spec §4.1 "pitch_ratio").
func PitchRatio(note, baseNote int) float64 {
	return math.Pow(2, float64(note-baseNote)/12.0)
}

// Step computes the full per-frame phase advance for a sample recorded at
// sourceRate, triggered at note against baseNote, played out at
// outputRate (spec §4.1 step 4's fractional-step formula).
func Step(note, baseNote, sourceRate, outputRate int) float64 {
	if outputRate <= 0 {
		return 0
	}
	return PitchRatio(note, baseNote) * float64(sourceRate) / float64(outputRate)
}

// Free marks a voice slot as available.
func (t *Table) Free(i int) {
	t.voices[i].Active = false
}

// ActiveCount returns how many voices are currently attached (used by
// bank unload's drain-to-zero wait and by testable property 1).
func (t *Table) ActiveCount() int {
	n := 0
	for i := range t.voices {
		if t.voices[i].Active {
			n++
		}
	}
	return n
}

// KillAll force-releases every active voice into the fast-fade stage.
func (t *Table) KillAll() {
	for i := range t.voices {
		if t.voices[i].Active {
			t.voices[i].Env.Kill()
		}
	}
}

// KillChannel force-releases every voice belonging to (songID, channel).
func (t *Table) KillChannel(songID uint64, channel int) {
	for i := range t.voices {
		v := &t.voices[i]
		if v.Active && v.Key.SongID == songID && v.Key.Channel == channel {
			v.Env.Kill()
		}
	}
}

// ReleaseChannelSustain transitions every held (non-percussion-pedal-only)
// voice on (songID, channel) into release, for CC64 sustain-off and CC123
// All Notes Off (spec §4.3).
func (t *Table) ReleaseChannel(songID uint64, channel int) {
	for i := range t.voices {
		v := &t.voices[i]
		if v.Active && v.Key.SongID == songID && v.Key.Channel == channel {
			v.Env.Release()
		}
	}
}

// ReadSample resamples Sample.Data at Phase using the given interpolation
// mode, returning a float64 in roughly [-1, 1]. Loop wraparound is
// applied when the sample declares loop points.
func (v *Voice) ReadSample(mode Interpolation) float64 {
	s := v.Sample
	if s == nil || len(s.Data) == 0 {
		return 0
	}
	n := len(s.Data)

	wrap := func(i int) int {
		if !s.Loops || s.LoopEnd <= s.LoopStart {
			if i >= n {
				return n - 1
			}
			return i
		}
		loopLen := s.LoopEnd - s.LoopStart
		for i >= s.LoopEnd {
			i -= loopLen
		}
		return i
	}

	idx := int(math.Floor(v.Phase))
	frac := v.Phase - float64(idx)
	idx = wrap(idx)

	switch mode {
	case InterpNearest:
		return sampleAt(s.Data, idx)
	case InterpHermite:
		p0 := sampleAt(s.Data, wrap(idx-1))
		p1 := sampleAt(s.Data, idx)
		p2 := sampleAt(s.Data, wrap(idx+1))
		p3 := sampleAt(s.Data, wrap(idx+2))
		return hermite4(p0, p1, p2, p3, frac)
	default: // InterpLinear
		p1 := sampleAt(s.Data, idx)
		p2 := sampleAt(s.Data, wrap(idx+1))
		return p1 + (p2-p1)*frac
	}
}

func sampleAt(data []int16, i int) float64 {
	if i < 0 {
		i = 0
	}
	if i >= len(data) {
		i = len(data) - 1
	}
	return float64(data[i]) / 32768.0
}

// hermite4 is a 4-point Catmull-Rom-style Hermite interpolation between
// p1 and p2 at fractional position t, using p0/p3 as tangent context.
func hermite4(p0, p1, p2, p3, t float64) float64 {
	c0 := p1
	c1 := 0.5 * (p2 - p0)
	c2 := p0 - 2.5*p1 + 2*p2 - 0.5*p3
	c3 := 0.5*(p3-p0) + 1.5*(p1-p2)
	return ((c3*t+c2)*t+c1)*t + c0
}

// StereoGain returns the (left, right) gain multipliers for a pan value in
// Q16.16 [-1, 1] using a constant-power law, and a mono fallback factor of
// 0.5 when channels == 1 (spec §4.1).
func StereoGain(pan Q16_16, channels int) (left, right float64) {
	if channels == 1 {
		return 0.5, 0.5
	}
	p := pan.Float()
	if p < -1 {
		p = -1
	}
	if p > 1 {
		p = 1
	}
	// angle in [0, pi/2], 0 = full left, pi/2 = full right
	angle := (p + 1) * (math.Pi / 4)
	return math.Cos(angle), math.Sin(angle)
}
