// Package bank resolves (bank, program, note, velocity) against either a
// proprietary HSB-style native sample table or an SF2/DLS SoundFont
// overlay, implementing channel.Resolver for the channel router and
// voice.SFRenderer for the mixer (spec §4.4).
package bank

import "github.com/riffsynth/engine/pkg/voice"

// NativeBank is the HSB native-path contract: given an instrument id
// (bank*128+program), return the sample metadata a voice needs to play a
// given note. The HSB binary format itself is proprietary and has no
// published grammar, so only this interface is specified; MemBank below
// is a minimal concrete implementation for self-describing instrument
// data, grounded in the original source's separation of bank metadata
// from the resident-sample cache (original_source bankinfo.h).
type NativeBank interface {
	// Lookup returns the sample for instrumentID, or false if this bank
	// does not define that instrument.
	Lookup(instrumentID int, note int) (*voice.Sample, bool)
}

// instrumentID computes the HSB native-path instrument index (spec §4.4
// "HSB native path").
func instrumentID(bank, program int) int {
	return bank*128 + program
}

// MemBank is a flat in-memory instrument table keyed by instrument id,
// the concrete self-describing HSB-like container this engine ships
// in-repo (SPEC_FULL.md §5.4).
type MemBank struct {
	instruments map[int]*voice.Sample
}

// NewMemBank constructs an empty MemBank.
func NewMemBank() *MemBank {
	return &MemBank{instruments: make(map[int]*voice.Sample)}
}

// AddInstrument installs sample at instrumentID = bank*128+program.
func (b *MemBank) AddInstrument(bankNum, program int, sample *voice.Sample) {
	b.instruments[instrumentID(bankNum, program)] = sample
}

// Lookup implements NativeBank.
func (b *MemBank) Lookup(instrumentID int, note int) (*voice.Sample, bool) {
	s, ok := b.instruments[instrumentID]
	return s, ok
}

// Has reports whether bankNum/program resolves to a resident instrument,
// used by the resolver's HSB front-to-back search (spec §4.3 "Program
// change" step 3).
func (b *MemBank) Has(bankNum, program int) bool {
	_, ok := b.instruments[instrumentID(bankNum, program)]
	return ok
}
