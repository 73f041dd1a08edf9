package engine

import (
	"github.com/riffsynth/engine/pkg/result"
	baesound "github.com/riffsynth/engine/pkg/sound"
)

// Sound is an opaque standalone-PCM playback handle (spec.md §3.1
// "Sound", SPEC_FULL.md §5.9), backed by the same voice.Table as every
// playing Song.
type Sound struct {
	mixer *Mixer

	id   uint64
	impl *baesound.Sound

	slot       int
	generation uint32
}

func (m *Mixer) soundAlive(s *Sound) bool {
	if s == nil || s.slot < 0 || s.slot >= len(m.sounds) {
		return false
	}
	return m.sounds[s.slot].sound == s && m.sounds[s.slot].generation == s.generation
}

// SetLoops configures replay count (0 = once, sound.LoopInfinite =
// forever, spec.md Song_SetLoops convention extended to Sound).
func (s *Sound) SetLoops(count int) error {
	s.mixer.mu.Lock()
	defer s.mixer.mu.Unlock()
	if !s.mixer.soundAlive(s) {
		return result.New(result.ResourceNotFound, "sound handle is stale")
	}
	s.impl.SetLoops(count)
	return nil
}

// Play allocates a voice at the given velocity (0-127).
func (s *Sound) Play(velocity int) error {
	s.mixer.mu.Lock()
	defer s.mixer.mu.Unlock()
	if !s.mixer.soundAlive(s) {
		return result.New(result.ResourceNotFound, "sound handle is stale")
	}
	s.impl.Play(velocity)
	return nil
}

// Stop releases the sound's voice into its release phase.
func (s *Sound) Stop() error {
	s.mixer.mu.Lock()
	defer s.mixer.mu.Unlock()
	if !s.mixer.soundAlive(s) {
		return result.New(result.ResourceNotFound, "sound handle is stale")
	}
	s.impl.Stop()
	return nil
}

// IsPlaying reports whether the sound currently occupies an active voice.
func (s *Sound) IsPlaying() bool {
	s.mixer.mu.Lock()
	defer s.mixer.mu.Unlock()
	return s.impl.IsPlaying()
}

// Delete releases the sound's slot. A *Sound held by the caller after
// Delete is a stale handle: every method above returns ResourceNotFound.
func (s *Sound) Delete() error {
	s.mixer.mu.Lock()
	defer s.mixer.mu.Unlock()
	if !s.mixer.soundAlive(s) {
		return result.New(result.ResourceNotFound, "sound handle is stale")
	}
	s.impl.Stop()
	s.mixer.freeSoundSlot(s.slot)
	return nil
}
