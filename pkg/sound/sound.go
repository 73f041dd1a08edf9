// Package sound plays standalone PCM samples (WAV) through the same
// voice.Table the MIDI engine uses, supplementing spec.md's §3.1 "Sound"
// entity, which the componentized §4 view otherwise leaves unelaborated
// (SPEC_FULL.md §5.9). Grounded in the reference project's WAVPlayer
// (pkg/engine/wav_player.go), which decodes with ebiten/v2/audio/wav and
// hands the PCM to an ebiten audio.Player; here the decoded PCM instead
// becomes a voice.Sample fed through the shared voice pool so standalone
// sounds and GM notes compete for the same fixed-size voice table
// (spec §3.2).
package sound

import (
	"bytes"
	"io"

	"github.com/hajimehoshi/ebiten/v2/audio/wav"

	"github.com/riffsynth/engine/pkg/result"
	"github.com/riffsynth/engine/pkg/voice"
)

// LoopInfinite matches the sequencer's loop-forever sentinel (spec.md's
// Song_SetLoops(32767) convention extended to standalone sounds).
const LoopInfinite = 32767

// Sound owns one decoded PCM buffer, a loop count, and the voice slot it
// is currently playing through, if any.
type Sound struct {
	sample *voice.Sample

	table     *voice.Table
	songID    uint64
	channel   int
	voiceIdx  int
	loopCount int
	playing   bool
}

// DecodeWAV decodes WAV bytes at the mixer's output sample rate into a
// mono voice.Sample, downmixing stereo sources (spec §3.1 feeds voices
// through the same voice.Table as instrument samples, which are mono).
func DecodeWAV(data []byte, sampleRate int) (*voice.Sample, error) {
	stream, err := wav.DecodeWithSampleRate(sampleRate, bytes.NewReader(data))
	if err != nil {
		return nil, result.Wrap(result.BadFile, "failed to decode WAV", err)
	}
	raw, err := io.ReadAll(stream)
	if err != nil {
		return nil, result.Wrap(result.BadFile, "failed to read decoded WAV stream", err)
	}
	// ebiten's wav decoder always yields 16-bit stereo interleaved PCM.
	frames := len(raw) / 4
	mono := make([]int16, frames)
	for i := 0; i < frames; i++ {
		l := int16(raw[i*4]) | int16(raw[i*4+1])<<8
		r := int16(raw[i*4+2]) | int16(raw[i*4+3])<<8
		mono[i] = int16((int32(l) + int32(r)) / 2)
	}
	return &voice.Sample{
		Data:       mono,
		SampleRate: sampleRate,
		BaseNote:   60,
		LoopEnd:    len(mono),
		Attack:     voice.FromFloat(0.0),
		Decay:      voice.FromFloat(0.0),
		Sustain:    voice.FromFloat(1.0),
		Release:    voice.FromFloat(0.02),
	}, nil
}

// New constructs a Sound backed by sample, ready to Play through table.
// songID/channel form the voice Key namespace (spec §3.2); standalone
// sounds are given their own song id range by the caller so they never
// collide with a playing Song's (song, channel, note) triples.
func New(table *voice.Table, sample *voice.Sample, songID uint64, channel int) *Sound {
	return &Sound{sample: sample, table: table, songID: songID, channel: channel, voiceIdx: -1}
}

// SetLoops sets the replay count: 0 = play once, LoopInfinite = loop
// forever, other values = explicit repeat count (spec.md Song_SetLoops,
// extended here to standalone sounds per SPEC_FULL.md §5.9).
func (s *Sound) SetLoops(n int) { s.loopCount = n }

// Play allocates a voice and begins playback at note 60 (concert pitch,
// i.e. no pitch shift) and the given velocity.
func (s *Sound) Play(velocity int) {
	if s.table == nil || s.sample == nil {
		return
	}
	sample := *s.sample
	sample.Loops = s.loopCount != 0
	env := voice.NewEnvelope(sample.Attack, sample.Decay, sample.Sustain, sample.Release)
	key := voice.Key{SongID: s.songID, Channel: s.channel, Note: s.sample.BaseNote}
	s.voiceIdx = s.table.Allocate(key, &sample, env, false)
	s.table.SetVelocity(s.voiceIdx, velocity)
	s.table.SetStep(s.voiceIdx, voice.Step(sample.BaseNote, sample.BaseNote, sample.SampleRate, sample.SampleRate))
	s.playing = true
}

// Stop releases the sound's voice into its release phase.
func (s *Sound) Stop() {
	if !s.playing || s.voiceIdx < 0 {
		return
	}
	s.table.Voices()[s.voiceIdx].Env.Release()
	s.playing = false
}

// Service polls the sound's voice each control-thread tick to detect
// natural end-of-sample for non-looping playback (the mixer's per-frame
// render loop has no notion of "standalone sample finished"; that
// bookkeeping lives here, analogous to the sequencer's end-of-track
// check) and to restart looped playback after it reaches LoopInfinite or
// an explicit count's end, matching Song's loop semantics (spec §4.2)
// applied to a single non-looping-by-format PCM clip.
func (s *Sound) Service() {
	if !s.playing || s.voiceIdx < 0 || s.sample == nil {
		return
	}
	v := &s.table.Voices()[s.voiceIdx]
	if !v.Active {
		s.playing = false
		return
	}
	if int(v.Phase) < len(s.sample.Data) {
		return
	}
	if s.loopCount == LoopInfinite {
		v.Phase = 0
		return
	}
	if s.loopCount > 0 {
		s.loopCount--
		v.Phase = 0
		return
	}
	v.Env.Release()
	s.playing = false
}

// IsPlaying reports whether the sound currently occupies an active voice.
func (s *Sound) IsPlaying() bool {
	return s.playing && s.voiceIdx >= 0 && s.table.Voices()[s.voiceIdx].Active
}

// Position returns the current playback frame offset into the decoded
// sample, or 0 if not playing.
func (s *Sound) Position() int {
	if !s.IsPlaying() {
		return 0
	}
	return int(s.table.Voices()[s.voiceIdx].Phase)
}
