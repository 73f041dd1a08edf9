package bank

import (
	"bytes"
	"fmt"
	"os"

	"github.com/sinshu/go-meltysynth/meltysynth"

	"github.com/riffsynth/engine/pkg/fileutil"
	"github.com/riffsynth/engine/pkg/result"
)

// SoundFontHandle wraps one loaded SF2/DLS SoundFont and its Synthesizer,
// implementing voice.SFRenderer so the mixer can pull rendered frames
// without depending on the decoder directly (spec §4.1 step 6, §4.4
// "SF2/DLS path").
type SoundFontHandle struct {
	sf      *meltysynth.SoundFont
	synth   *meltysynth.Synthesizer
	tempDLS string // non-empty if this handle owns a temp file to clean up on Unload

	unloading   bool
	activeNotes int // best-effort voice count: incremented/decremented on NoteOn/NoteOff

	// renderLeft/renderRight are Render's scratch output buffers, grown
	// on demand and reused across calls so the audio-thread render path
	// never allocates per slice (spec §4.1 "Must not allocate").
	renderLeft  []float32
	renderRight []float32
}

// LoadSoundFontMemory installs an in-memory SF2 loader over a borrowed
// byte slice (spec §4.4 "Memory load: if SF2, install an in-memory
// file-callback loader... that serves from a borrowed byte slice").
func LoadSoundFontMemory(data []byte, sampleRate int) (*SoundFontHandle, error) {
	sf, err := meltysynth.NewSoundFont(bytes.NewReader(data))
	if err != nil {
		return nil, result.Wrap(result.BadFile, "failed to parse SoundFont", err)
	}
	return newHandle(sf, sampleRate, "")
}

// LoadSoundFontPath opens path directly; used for base/overlay SF2 files
// supplied on the command line.
func LoadSoundFontPath(path string, sampleRate int) (*SoundFontHandle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, result.Wrap(result.BadFile, fmt.Sprintf("failed to read SoundFont %s", path), err)
	}
	return LoadSoundFontMemory(data, sampleRate)
}

// LoadDLSMemory writes data to a managed temp file, then parses the bank
// from the in-memory bytes; the temp file's path is kept on the handle and
// the file is removed by Close.
func LoadDLSMemory(data []byte, sampleRate int) (*SoundFontHandle, error) {
	path, err := fileutil.WriteTempCache("riffsynth-dls-*.dls", data)
	if err != nil {
		return nil, result.Wrap(result.MemoryErr, "failed to cache DLS bank to a temp file", err)
	}

	sf, err := meltysynth.NewSoundFont(bytes.NewReader(data))
	if err != nil {
		os.Remove(path)
		return nil, result.Wrap(result.BadFile, "failed to parse DLS bank", err)
	}
	h, err := newHandle(sf, sampleRate, path)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	return h, nil
}

func newHandle(sf *meltysynth.SoundFont, sampleRate int, tempDLS string) (*SoundFontHandle, error) {
	settings := meltysynth.NewSynthesizerSettings(sampleRate)
	synth, err := meltysynth.NewSynthesizer(sf, settings)
	if err != nil {
		return nil, result.Wrap(result.BadFile, "failed to create synthesizer", err)
	}
	return &SoundFontHandle{sf: sf, synth: synth, tempDLS: tempDLS}, nil
}

// PresetCount reports how many presets the underlying SoundFont declares,
// used by S3's "at least one preset enumerable" acceptance check.
func (h *SoundFontHandle) PresetCount() int {
	if h == nil || h.sf == nil {
		return 0
	}
	return len(h.sf.Presets)
}

// HasPreset reports whether (bankNum, program) resolves to a preset.
func (h *SoundFontHandle) HasPreset(bankNum, program int) bool {
	if h == nil || h.sf == nil {
		return false
	}
	for _, p := range h.sf.Presets {
		if int(p.BankNumber) == bankNum && int(p.PatchNumber) == program {
			return true
		}
	}
	return false
}

// NoteOn dispatches a note-on into the synthesizer (spec §4.1 step 6's
// SF2/DLS path receives raw MIDI events rather than voice-table slots).
func (h *SoundFontHandle) NoteOn(channel, note, velocity int) {
	if h.unloading || h.synth == nil {
		return
	}
	h.synth.NoteOn(int32(channel), int32(note), int32(velocity))
	h.activeNotes++
}

// NoteOff releases a note.
func (h *SoundFontHandle) NoteOff(channel, note int) {
	if h.unloading || h.synth == nil {
		return
	}
	h.synth.NoteOff(int32(channel), int32(note))
	if h.activeNotes > 0 {
		h.activeNotes--
	}
}

// ProgramChange selects (bankNum, program) on channel by sending a bank
// select (CC0) followed by a program change to that channel only; no other
// channel state is reset.
func (h *SoundFontHandle) ProgramChange(channel, bankNum, program int) {
	if h.unloading || h.synth == nil {
		return
	}
	h.synth.ProcessMidiMessage(int32(channel), 0xB0, 0, int32(bankNum))
	h.synth.ProcessMidiMessage(int32(channel), 0xC0, int32(program), 0)
}

// ControlChange forwards a raw CC to the synthesizer (volume, pan,
// expression, sustain, reverb/chorus send, all handled identically by the
// decoder's own MIDI-message interpreter).
func (h *SoundFontHandle) ControlChange(channel, controller, value int) {
	if h.unloading || h.synth == nil {
		return
	}
	h.synth.ProcessMidiMessage(int32(channel), 0xB0, int32(controller), int32(value))
}

// PitchBend forwards a 14-bit pitch bend value (0..16383, 8192=center).
func (h *SoundFontHandle) PitchBend(channel int, value14 int) {
	if h.unloading || h.synth == nil {
		return
	}
	lsb := int32(value14 & 0x7F)
	msb := int32((value14 >> 7) & 0x7F)
	h.synth.ProcessMidiMessage(int32(channel), 0xE0, lsb, msb)
}

// Render implements voice.SFRenderer, reusing preallocated scratch buffers
// across calls (grown only the first time a larger frame count is seen).
func (h *SoundFontHandle) Render(frames int) (left, right []float32) {
	if cap(h.renderLeft) < frames {
		h.renderLeft = make([]float32, frames)
		h.renderRight = make([]float32, frames)
	}
	left = h.renderLeft[:frames]
	right = h.renderRight[:frames]
	for i := range left {
		left[i] = 0
		right[i] = 0
	}
	if h.unloading || h.synth == nil {
		return left, right
	}
	h.synth.Render(left, right)
	return left, right
}

// ActiveVoiceCount implements voice.SFRenderer. It is a best-effort count
// derived from NoteOn/NoteOff bookkeeping rather than the decoder's
// internal voice pool, since the decoder is treated as an opaque library
// per spec §1.
func (h *SoundFontHandle) ActiveVoiceCount() int {
	return h.activeNotes
}

// Reset implements voice.SFRenderer.
func (h *SoundFontHandle) Reset() {
	if h.synth != nil {
		h.synth.Reset()
	}
	h.activeNotes = 0
}

// BeginUnload sets the unloading flag the audio thread observes to skip
// SF rendering, the first phase of the two-phase unload (spec §4.4
// "Unload is a two-phase operation").
func (h *SoundFontHandle) BeginUnload() { h.unloading = true }

// Unloading reports whether BeginUnload has been called.
func (h *SoundFontHandle) Unloading() bool { return h.unloading }

// Close releases the temp DLS file, if any (phase 3/4 of unload).
func (h *SoundFontHandle) Close() error {
	if h.tempDLS != "" {
		err := os.Remove(h.tempDLS)
		h.tempDLS = ""
		return err
	}
	return nil
}
