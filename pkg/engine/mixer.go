// Package engine is the facade: opaque Mixer/Song/Sound handles, a
// uniform result.Code return on every operation, preroll, and file-export
// driving (spec §4.8). It wires together voice, sequencer, channel, bank,
// container, device, and sound into the single process-wide playback
// context the reference project's pkg/engine.Engine plays for the FILLY
// VM — here the facade owns General MIDI playback instead of a VM.
package engine

import (
	"sync"

	"github.com/riffsynth/engine/pkg/bank"
	"github.com/riffsynth/engine/pkg/channel"
	"github.com/riffsynth/engine/pkg/container"
	"github.com/riffsynth/engine/pkg/device"
	"github.com/riffsynth/engine/pkg/result"
	"github.com/riffsynth/engine/pkg/sequencer"
	"github.com/riffsynth/engine/pkg/sound"
	"github.com/riffsynth/engine/pkg/voice"
)

// MaxVoices is the compiled voice-pool ceiling (spec §4.8 "caps
// midi_voices + sound_voices to the compiled MAX_VOICES").
const MaxVoices = 64

// Flags configures Mixer_Open behavior.
type Flags uint32

const (
	FlagNone Flags = 0
	// FlagEngageLater is accepted for parity with the reference API's
	// flags parameter; Open does not act on it.
	FlagEngageLater Flags = 1 << iota
)

// Mixer is the process-wide playback context (spec §3 "Mixer"). It owns
// the voice table, the device-sink slice pipeline, the bank resolver, and
// the set of active Songs and Sounds.
type Mixer struct {
	mu sync.Mutex

	voiceMixer *voice.Mixer
	sink       *device.Sink

	base     *bank.SoundFontHandle
	hsbBanks []bank.NativeBank

	sampleRate int
	interp     voice.Interpolation

	songs      []*songSlot
	freeSongs  []int
	sounds     []*soundSlot
	freeSounds []int
	nextSerial uint64 // distinct per-song/sound voice.Key namespace

	recorder *device.Recorder
	offline  bool

	closed bool
}

type songSlot struct {
	generation uint32
	song       *Song // nil when the slot is free
}

type soundSlot struct {
	generation uint32
	sound      *Sound
}

// Open constructs a Mixer at sampleRate with interp as the resampling
// mode, capping midiVoices+soundVoices at MaxVoices (spec §4.8
// Mixer_Open). mixLevel is the initial master volume as a percent (100 =
// unity). Neither engage nor flags changes what Open does: output starts
// when the host registers Sink() with a platform audio backend, and there
// is no separate Engage call.
func Open(sampleRate int, interp voice.Interpolation, flags Flags, midiVoices, soundVoices, mixLevel int, engage bool) (*Mixer, error) {
	if sampleRate <= 0 {
		return nil, result.New(result.ParamErr, "sample rate must be positive")
	}
	total := midiVoices + soundVoices
	if total <= 0 {
		total = MaxVoices
	}
	if total > MaxVoices {
		total = MaxVoices
	}

	vm := voice.NewMixer(sampleRate, 2, 16, total, interp)
	vm.SetMasterVolume(voice.FromFloat(float64(mixLevel) / 100.0))

	m := &Mixer{
		voiceMixer: vm,
		sampleRate: sampleRate,
		interp:     interp,
	}
	vm.ChannelGain = m.channelGain
	m.sink = device.NewSink(vm)
	_ = flags // FlagEngageLater is not acted on; see the doc comment above
	if engage {
		// Engagement with a concrete platform backend is the host's
		// responsibility (spec §1 Non-goals: platform audio backends);
		// nothing further to do until the host registers m.Sink() with
		// one.
	}
	return m, nil
}

// Sink exposes the pull-model device sink for registration with a
// platform audio backend (e.g. ebiten/v2/audio.Context.NewPlayer).
func (m *Mixer) Sink() *device.Sink { return m.sink }

// LoadBank installs data (sniffed as SF2 or DLS by magic) as the
// mixer-wide base SoundFont (spec §4.4 "base_sfid"), used by every Song's
// resolver as the fallback below its own XMF overlay.
func (m *Mixer) LoadBank(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, err := loadSoundFontOrDLS(data, m.sampleRate)
	if err != nil {
		return err
	}
	m.base = h
	return nil
}

func loadSoundFontOrDLS(data []byte, sampleRate int) (*bank.SoundFontHandle, error) {
	if looksLikeDLS(data) {
		return bank.LoadDLSMemory(data, sampleRate)
	}
	return bank.LoadSoundFontMemory(data, sampleRate)
}

func looksLikeDLS(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "DLS "
}

// channelGain is installed as voice.Mixer.ChannelGain (spec §4.3
// controller-map rows 7/11/91/93): it resolves songID to the owning
// Song's Router and defers the per-channel CC7/CC11/mute/CC91/CC93
// computation to channel.Router.Gain. Called from the render path with
// m.mu NOT held by the caller, so it takes the lock itself.
func (m *Mixer) channelGain(songID uint64, ch int) (vol voice.Q16_16, reverbSend, chorusSend float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sl := range m.songs {
		if sl.song != nil && sl.song.id == songID {
			return sl.song.router.Gain(ch)
		}
	}
	return voice.FromFloat(1.0), 0, 0
}

// AddNativeBank registers an HSB-style native bank for front-to-back
// resolution (spec §4.3 "search HSB banks front-to-back"). The HSB binary
// format has no published grammar (spec §4.4), so population of b is the
// host's responsibility; package bank ships MemBank as a minimal
// concrete implementation.
func (m *Mixer) AddNativeBank(b bank.NativeBank) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hsbBanks = append(m.hsbBanks, b)
}

// SetMasterVolume sets the master volume, percent where 100 = unity.
func (m *Mixer) SetMasterVolume(percent int) {
	m.voiceMixer.SetMasterVolume(voice.FromFloat(float64(percent) / 100.0))
}

// SetMasterBalance sets the master balance in [-256, 256].
func (m *Mixer) SetMasterBalance(b int16) { m.voiceMixer.SetMasterBalance(b) }

// SetReverbType selects one of the 12 closed reverb presets and enables
// reverb processing.
func (m *Mixer) SetReverbType(t voice.ReverbType) {
	m.voiceMixer.ReverbType = t
	m.voiceMixer.ReverbEnabled = true
}

// DisableReverb turns off reverb processing entirely.
func (m *Mixer) DisableReverb() { m.voiceMixer.ReverbEnabled = false }

// allocSongSlot reserves a slot, reusing a freed one and bumping its
// generation so a stale *Song referencing the old generation is
// detectable as dead (spec §9 "slot- or arena-table indexed handle...
// checks the generation counter").
func (m *Mixer) allocSongSlot(s *Song) (idx int, generation uint32) {
	if n := len(m.freeSongs); n > 0 {
		idx = m.freeSongs[n-1]
		m.freeSongs = m.freeSongs[:n-1]
		m.songs[idx].generation++
		m.songs[idx].song = s
		return idx, m.songs[idx].generation
	}
	m.songs = append(m.songs, &songSlot{song: s})
	return len(m.songs) - 1, 0
}

func (m *Mixer) freeSongSlot(idx int) {
	if idx < 0 || idx >= len(m.songs) {
		return
	}
	m.songs[idx].song = nil
	m.freeSongs = append(m.freeSongs, idx)
}

func (m *Mixer) allocSoundSlot(s *Sound) (idx int, generation uint32) {
	if n := len(m.freeSounds); n > 0 {
		idx = m.freeSounds[n-1]
		m.freeSounds = m.freeSounds[:n-1]
		m.sounds[idx].generation++
		m.sounds[idx].sound = s
		return idx, m.sounds[idx].generation
	}
	m.sounds = append(m.sounds, &soundSlot{sound: s})
	return len(m.sounds) - 1, 0
}

func (m *Mixer) freeSoundSlot(idx int) {
	if idx < 0 || idx >= len(m.sounds) {
		return
	}
	m.sounds[idx].sound = nil
	m.freeSounds = append(m.freeSounds, idx)
}

// LoadSongFromMemory sniffs and parses data (spec §4.8
// Song_LoadFromMemory), wiring a fresh channel.Router + sequencer.Song +
// per-song bank resolver (overlay = any bank embedded in the container,
// base/HSB = the mixer-wide ones).
func (m *Mixer) LoadSongFromMemory(data []byte) (*Song, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, err := container.LoadFromMemory(data, true)
	if err != nil {
		return nil, err
	}

	m.nextSerial++
	songID := m.nextSerial

	router := channel.NewRouter(songID, m.voiceMixer.Table)
	router.OutputSampleRate = m.sampleRate

	var overlay *bank.SoundFontHandle
	useSF := false
	if len(cs.EmbeddedBank) > 0 {
		if cs.EmbeddedBankIsSF {
			overlay, err = bank.LoadSoundFontMemory(cs.EmbeddedBank, m.sampleRate)
		} else {
			overlay, err = bank.LoadDLSMemory(cs.EmbeddedBank, m.sampleRate)
		}
		if err != nil {
			return nil, err
		}
		useSF = true
	}
	resolver := bank.NewResolver(overlay, m.base, m.hsbBanks)
	router.Resolver = resolver

	seq, err := sequencer.FromContainerSong(songID, cs, router)
	if err != nil {
		return nil, err
	}

	s := &Song{
		mixer:     m,
		id:        songID,
		seq:       seq,
		router:    router,
		resolver:  resolver,
		overlay:   overlay,
		useSF:     useSF,
		container: cs,
	}
	if useSF {
		m.voiceMixer.AddSFRenderer(overlay, voice.FromFloat(1.0))
	}
	idx, generation := m.allocSongSlot(s)
	s.slot = idx
	s.generation = generation
	return s, nil
}

// NewSoundFromMemory decodes WAV bytes into a Sound that plays through the
// same voice pool (spec.md §3.1 / SPEC_FULL.md §5.9).
func (m *Mixer) NewSoundFromMemory(data []byte) (*Sound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sample, err := sound.DecodeWAV(data, m.sampleRate)
	if err != nil {
		return nil, err
	}
	m.nextSerial++
	soundID := m.nextSerial

	snd := &Sound{
		mixer: m,
		id:    soundID,
		impl:  sound.New(m.voiceMixer.Table, sample, soundID, 0),
	}
	idx, generation := m.allocSoundSlot(snd)
	snd.slot = idx
	snd.generation = generation
	return snd, nil
}

// StartOutputToFile transitions the device sink into offline fast-render
// mode, writing WAV to path (spec §4.8 Mixer_StartOutputToFile). The host
// must then call ServiceAudioOutputToFile repeatedly until it returns
// false.
func (m *Mixer) StartOutputToFile(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := device.NewRecorder(path, m.sampleRate, m.voiceMixer.Channels, m.voiceMixer.BitsPerSample)
	if err != nil {
		return err
	}
	m.recorder = rec
	m.sink.SetRecorder(rec)
	m.offline = true
	return nil
}

// ServiceAudioOutputToFile renders one slice into the export recorder and
// reports whether any Song is still active (spec §4.8
// ServiceAudioOutputToFile "must be called from the host until the song
// completes").
func (m *Mixer) ServiceAudioOutputToFile() bool {
	m.mu.Lock()
	active := m.anyActiveLocked()
	m.mu.Unlock()
	if !active {
		return false
	}

	frames := m.sink.SliceFrames()
	buf := make([]byte, frames*m.voiceMixer.Channels*(m.voiceMixer.BitsPerSample/8))
	m.serviceSlice(buf, frames)
	return m.anyActive()
}

func (m *Mixer) anyActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.anyActiveLocked()
}

func (m *Mixer) anyActiveLocked() bool {
	for _, sl := range m.songs {
		if sl.song != nil && !sl.song.seq.Finished {
			return true
		}
	}
	return false
}

// serviceSlice advances every active Song's sequencer by one slice's
// worth of microseconds and renders the slice through the sink (spec
// §4.1 steps 2-3, §4.7). This is the single entry point both the offline
// file-export driver and a live Read/Fill call ultimately share.
func (m *Mixer) serviceSlice(buf []byte, frameCount int) int {
	m.mu.Lock()
	for _, sl := range m.songs {
		if sl.song == nil || sl.song.paused {
			continue
		}
		sl.song.drainLiveEvents()
		sl.song.seq.Advance(frameCount, m.sampleRate)
	}
	for _, sl := range m.sounds {
		if sl.sound != nil {
			sl.sound.impl.Service()
		}
	}
	m.mu.Unlock()
	return m.sink.Fill(buf, frameCount)
}

// Read implements io.Reader: it advances every active Song and Sound by
// exactly the number of frames p can hold, then renders that slice (spec
// §4.1 steps 2-3, §4.7 "Pull model"). Register a Mixer directly with a
// platform backend (e.g. ebiten/v2/audio.Context.NewPlayer) instead of
// Sink() for live playback, since Sink() alone never advances sequencers.
func (m *Mixer) Read(p []byte) (int, error) {
	bytesPerFrame := m.voiceMixer.Channels * (m.voiceMixer.BitsPerSample / 8)
	frames := len(p) / bytesPerFrame
	if frames == 0 {
		return 0, nil
	}
	n := m.serviceSlice(p, frames)
	return n * bytesPerFrame, nil
}

// StopOutputToFile finalizes and closes the export file.
func (m *Mixer) StopOutputToFile() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recorder == nil {
		return nil
	}
	m.sink.SetRecorder(nil)
	err := m.recorder.Close()
	m.recorder = nil
	m.offline = false
	return err
}

// Close force-releases every active voice and releases every resource the
// mixer owns: base/overlay SoundFont handles and any open export file
// (spec §5 "Mixer_Close... forces a hard stop").
func (m *Mixer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.voiceMixer.Table.KillAll()
	if m.base != nil {
		m.base.Close()
	}
	for _, sl := range m.songs {
		if sl.song != nil && sl.song.overlay != nil {
			sl.song.overlay.Close()
		}
	}
	if m.recorder != nil {
		m.recorder.Close()
		m.recorder = nil
	}
	m.closed = true
	return nil
}
