package engine

import (
	"github.com/riffsynth/engine/pkg/bank"
	"github.com/riffsynth/engine/pkg/channel"
	"github.com/riffsynth/engine/pkg/container"
	"github.com/riffsynth/engine/pkg/result"
	"github.com/riffsynth/engine/pkg/ring"
	"github.com/riffsynth/engine/pkg/sequencer"
)

// liveRingCapacity bounds queued-but-undispatched live MIDI events per
// Song; rounded up to a power of two by ring.New.
const liveRingCapacity = 256

// Song is an opaque playback handle over one loaded container (spec §4.8
// Song_LoadFromMemory/Start/Pause/Resume/Stop/SetLoops/SetTranspose). Its
// pointer identity is the handle; slot/generation back it in the owning
// Mixer's song table so a stopped-and-reused slot index never aliases a
// stale *Song a caller is still holding (spec §9 "weak handle... checks
// the generation counter").
type Song struct {
	mixer *Mixer

	id        uint64
	seq       *sequencer.Song
	router    *channel.Router
	resolver  *bank.Resolver
	overlay   *bank.SoundFontHandle
	useSF     bool
	container *container.Song

	slot       int
	generation uint32

	paused  bool
	started bool

	// liveRing queues raw short MIDI messages from a non-realtime source
	// (platform input callback, virtual keyboard) for dispatch at the
	// start of the next render slice (spec §4.6 EventRing). Allocated
	// lazily since most Songs never receive live input.
	liveRing *ring.Ring
}

func (m *Mixer) songAlive(s *Song) bool {
	if s == nil || s.slot < 0 || s.slot >= len(m.songs) {
		return false
	}
	return m.songs[s.slot].song == s && m.songs[s.slot].generation == s.generation
}

// Preroll warms instrument loading and measures the song's length without
// producing sound (spec §4.2 "Preroll", §4.8 Song_Preroll).
func (s *Song) Preroll() (lengthMicros int64, err error) {
	s.mixer.mu.Lock()
	defer s.mixer.mu.Unlock()
	if !s.mixer.songAlive(s) {
		return 0, result.New(result.ResourceNotFound, "song handle is stale")
	}
	length := s.seq.GetMicrosecondLength()
	s.seq.Preroll()
	return length, nil
}

// Start begins normal playback from the current position (spec §4.8
// Song_Start).
func (s *Song) Start() error {
	s.mixer.mu.Lock()
	defer s.mixer.mu.Unlock()
	if !s.mixer.songAlive(s) {
		return result.New(result.ResourceNotFound, "song handle is stale")
	}
	s.paused = false
	s.started = true
	return nil
}

// Pause suspends the sequencer in place and applies a soft all-notes-off
// on every channel, so sounding voices move into their release phase
// (spec §4.8 Song_Pause).
func (s *Song) Pause() error {
	s.mixer.mu.Lock()
	defer s.mixer.mu.Unlock()
	if !s.mixer.songAlive(s) {
		return result.New(result.ResourceNotFound, "song handle is stale")
	}
	s.router.AllChannelsNotesOff()
	s.paused = true
	return nil
}

// Resume un-suspends a paused song.
func (s *Song) Resume() error {
	s.mixer.mu.Lock()
	defer s.mixer.mu.Unlock()
	if !s.mixer.songAlive(s) {
		return result.New(result.ResourceNotFound, "song handle is stale")
	}
	s.paused = false
	return nil
}

// Stop silences every voice the song owns and marks it finished; the
// handle remains valid for inspection but Start will no longer advance it
// (spec §4.8 Song_Stop).
func (s *Song) Stop() error {
	s.mixer.mu.Lock()
	defer s.mixer.mu.Unlock()
	if !s.mixer.songAlive(s) {
		return result.New(result.ResourceNotFound, "song handle is stale")
	}
	s.router.AllChannelsNotesOff()
	s.seq.Finished = true
	s.paused = true
	return nil
}

// StopImmediate hard-kills every voice with no release fade instead of the
// soft release Stop applies, for the "-nf" no-fadeout CLI flag (spec §6).
func (s *Song) StopImmediate() error {
	s.mixer.mu.Lock()
	defer s.mixer.mu.Unlock()
	if !s.mixer.songAlive(s) {
		return result.New(result.ResourceNotFound, "song handle is stale")
	}
	s.router.AllChannelsSoundOff()
	s.seq.Finished = true
	s.paused = true
	return nil
}

// SeekTo fast-forwards playback to targetMicros (spec §4.2 "Seek
// semantics", §4.8 Song_SetPosition).
func (s *Song) SeekTo(targetMicros int64) error {
	s.mixer.mu.Lock()
	defer s.mixer.mu.Unlock()
	if !s.mixer.songAlive(s) {
		return result.New(result.ResourceNotFound, "song handle is stale")
	}
	s.seq.SeekTo(targetMicros)
	return nil
}

// SetLoops sets the remaining loop count: 0 plays once, 32767
// (sequencer.LoopInfinite) loops forever (spec §4.8 Song_SetLoops).
func (s *Song) SetLoops(count int) error {
	s.mixer.mu.Lock()
	defer s.mixer.mu.Unlock()
	if !s.mixer.songAlive(s) {
		return result.New(result.ResourceNotFound, "song handle is stale")
	}
	s.seq.LoopCount = count
	return nil
}

// SetTranspose shifts every subsequent native-path note-on by semitones,
// clamped to +/-12 (spec §4.8 Song_SetTranspose).
func (s *Song) SetTranspose(semitones int) error {
	s.mixer.mu.Lock()
	defer s.mixer.mu.Unlock()
	if !s.mixer.songAlive(s) {
		return result.New(result.ResourceNotFound, "song handle is stale")
	}
	if semitones > 12 {
		semitones = 12
	}
	if semitones < -12 {
		semitones = -12
	}
	s.router.Transpose = int8(semitones)
	return nil
}

// SetChannelMute mutes or unmutes one 0-based GM channel (0..15) at the
// mix stage (spec §6 "-mc" CLI flag).
func (s *Song) SetChannelMute(ch int, muted bool) error {
	s.mixer.mu.Lock()
	defer s.mixer.mu.Unlock()
	if !s.mixer.songAlive(s) {
		return result.New(result.ResourceNotFound, "song handle is stale")
	}
	s.router.MuteChannel(ch, muted)
	return nil
}

// IsFinished reports whether the song has reached its end with no loops
// remaining.
func (s *Song) IsFinished() bool {
	s.mixer.mu.Lock()
	defer s.mixer.mu.Unlock()
	return s.seq.Finished
}

// Metadata returns the container-declared title/artist/copyright strings,
// if any (spec §4.5 RMF/XMF metadata resources).
func (s *Song) Metadata() (title, artist, copyright string) {
	if s.container == nil {
		return "", "", ""
	}
	return s.container.Title, s.container.Artist, s.container.Copyright
}

// PushLiveEvent enqueues a raw short MIDI message (status byte plus up to
// two data bytes) from a non-realtime source for dispatch on the song's
// next render slice (spec §4.6 EventRing). It never blocks: if the ring
// is full the event is dropped and false is returned. SysEx must never be
// passed here — the ring is sized for channel and meta-derived messages
// only (spec §4.6 SysEx policy); route SysEx through SetMIDISink's sink or
// directly via the Router instead.
func (s *Song) PushLiveEvent(timestampSeconds float64, status, d1, d2 byte) bool {
	s.mixer.mu.Lock()
	defer s.mixer.mu.Unlock()
	if !s.mixer.songAlive(s) {
		return false
	}
	if s.liveRing == nil {
		s.liveRing = ring.New(liveRingCapacity)
	}
	return s.liveRing.Push(timestampSeconds, []byte{status, d1, d2})
}

// drainLiveEvents dispatches every queued live MIDI event through the
// song's Router. Called once per slice, before the sequencer advances,
// from Mixer.serviceSlice (spec §4.1 step 2).
func (s *Song) drainLiveEvents() {
	if s.liveRing == nil {
		return
	}
	for {
		ev, ok := s.liveRing.Pop()
		if !ok {
			return
		}
		s.router.Dispatch(ev.Data[0], ev.Data[1], ev.Data[2])
	}
}

// SetMIDISink installs an external MIDI pass-through sink (spec §4.3
// "forward to the external MIDI sink").
func (s *Song) SetMIDISink(sink channel.Sink) {
	s.mixer.mu.Lock()
	defer s.mixer.mu.Unlock()
	s.router.MIDISink = sink
}

// Delete releases the song's slot and unloads its overlay SoundFont, if
// any; an overlay renderer already registered with the voice mixer stays
// registered and renders silence.
// A *Song held by the caller after Delete is a stale handle: every method
// above will return ResourceNotFound (spec §9 generation-counter check).
func (s *Song) Delete() error {
	s.mixer.mu.Lock()
	defer s.mixer.mu.Unlock()
	if !s.mixer.songAlive(s) {
		return result.New(result.ResourceNotFound, "song handle is stale")
	}
	s.router.AllChannelsNotesOff()
	if s.overlay != nil {
		s.overlay.BeginUnload()
		s.overlay.Close()
	}
	s.mixer.freeSongSlot(s.slot)
	return nil
}
