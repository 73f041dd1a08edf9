package bank

import (
	"github.com/riffsynth/engine/pkg/channel"
	"github.com/riffsynth/engine/pkg/voice"
)

const (
	drumBankSF2 = 128
	drumBankDLS = 120

	// Motor vibration quirk: bank 121 programs 124/125 drive vibration
	// hardware on certain phone MIDI files and must never resolve to a
	// preset (spec §4.4 "Motor vibration quirk").
	vibrationBank     = 121
	vibrationProgramA = 124
	vibrationProgramB = 125
)

// Resolver implements channel.Resolver over an ordered SF2/DLS overlay,
// base SoundFont, and a front-to-back list of HSB native banks (spec
// §4.4).
type Resolver struct {
	Overlay *SoundFontHandle
	Base    *SoundFontHandle
	HSB     []NativeBank

	// overlayUsesBankZero selects the HSB-emulation mapping applied when the
	// overlay declares bank-0 melodic content (spec §4.4: "applies
	// xmf_bank_offset = 2 when the host requests bank >= 2").
	overlayUsesBankZero bool
	overlayHasBank121   bool
}

// NewResolver wires overlay/base handles (either may be nil) and an
// ordered HSB bank list.
func NewResolver(overlay, base *SoundFontHandle, hsb []NativeBank) *Resolver {
	r := &Resolver{Overlay: overlay, Base: base, HSB: hsb}
	if overlay != nil {
		r.overlayUsesBankZero = overlay.HasPreset(0, 0) || overlayDeclaresAnyBankZero(overlay)
		r.overlayHasBank121 = overlayDeclaresBank(overlay, vibrationBank)
	}
	return r
}

func overlayDeclaresAnyBankZero(h *SoundFontHandle) bool {
	return overlayDeclaresBank(h, 0)
}

func overlayDeclaresBank(h *SoundFontHandle, bankNum int) bool {
	if h == nil || h.sf == nil {
		return false
	}
	for _, p := range h.sf.Presets {
		if int(p.BankNumber) == bankNum {
			return true
		}
	}
	return false
}

// adjustOverlayBank applies the XMF-overlay HSB-emulation offset and the
// bank-121/GS-capital-tone alias (spec §4.4).
func (r *Resolver) adjustOverlayBank(bank int) int {
	if r.overlayHasBank121 && bank == 0 {
		return vibrationBank
	}
	if r.overlayUsesBankZero && bank >= 2 {
		return bank - 2
	}
	return bank
}

// Resolve implements channel.Resolver (spec §4.3 "Program change", §4.4
// bank resolution algorithm).
func (r *Resolver) Resolve(bankNum, program int, isPercussion bool) (channel.Route, bool) {
	if bankNum == vibrationBank && (program == vibrationProgramA || program == vibrationProgramB) {
		return channel.RouteNone, false
	}

	if isPercussion {
		return r.resolvePercussion(bankNum, program)
	}

	if r.Overlay != nil {
		if adj := r.adjustOverlayBank(bankNum); r.Overlay.HasPreset(adj, program) {
			return channel.RouteSoundFont, true
		}
	}
	if r.Base != nil && r.Base.HasPreset(bankNum, program) {
		return channel.RouteSoundFont, true
	}
	for _, hb := range r.HSB {
		if mb, ok := hb.(*MemBank); ok && mb.Has(bankNum, program) {
			return channel.RouteNative, true
		}
	}

	// Fallback policy (spec §4.3 item 4): GM capital tone, then first
	// preset present.
	if bankNum != 0 {
		if route, ok := r.resolveMelodicAtBankZero(program); ok {
			return route, ok
		}
	}
	if route, ok := r.firstPresetPresent(); ok {
		return route, ok
	}
	return channel.RouteNone, false
}

func (r *Resolver) resolveMelodicAtBankZero(program int) (channel.Route, bool) {
	if r.Overlay != nil && r.Overlay.HasPreset(0, program) {
		return channel.RouteSoundFont, true
	}
	if r.Base != nil && r.Base.HasPreset(0, program) {
		return channel.RouteSoundFont, true
	}
	for _, hb := range r.HSB {
		if mb, ok := hb.(*MemBank); ok && mb.Has(0, program) {
			return channel.RouteNative, true
		}
	}
	return channel.RouteNone, false
}

func (r *Resolver) firstPresetPresent() (channel.Route, bool) {
	if r.Overlay != nil && r.Overlay.PresetCount() > 0 {
		return channel.RouteSoundFont, true
	}
	if r.Base != nil && r.Base.PresetCount() > 0 {
		return channel.RouteSoundFont, true
	}
	return channel.RouteNone, false
}

// resolvePercussion maps the requested drum bank to the decoder's
// percussion bank (128 for SF2, 120 for DLS) and, if no drum kit is
// present anywhere, returns ok=false so the channel is silenced rather
// than falling back to a melodic preset (spec §4.3 item 5, §4.4 "Drum-kit
// absence").
func (r *Resolver) resolvePercussion(bankNum, program int) (channel.Route, bool) {
	_ = bankNum // percussion always targets the decoder's drum bank regardless of the requested bank
	if r.Overlay != nil {
		if r.Overlay.HasPreset(drumBankSF2, program) || r.Overlay.HasPreset(drumBankDLS, program) {
			return channel.RouteSoundFont, true
		}
	}
	if r.Base != nil {
		if r.Base.HasPreset(drumBankSF2, program) || r.Base.HasPreset(drumBankDLS, program) {
			return channel.RouteSoundFont, true
		}
	}
	for _, hb := range r.HSB {
		if mb, ok := hb.(*MemBank); ok && (mb.Has(drumBankSF2, program) || mb.Has(drumBankDLS, program)) {
			return channel.RouteNative, true
		}
	}
	return channel.RouteNone, false
}

// LookupSample implements channel.Resolver's native-path sample fetch.
func (r *Resolver) LookupSample(bankNum, program, note int) (*voice.Sample, bool) {
	id := instrumentID(bankNum, program)
	for _, hb := range r.HSB {
		if s, ok := hb.Lookup(id, note); ok {
			return s, true
		}
	}
	return nil, false
}
