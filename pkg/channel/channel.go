// Package channel maintains per-song, per-channel General MIDI state and
// turns MIDI events into voice operations, SoundFont renderer calls, or
// forwards to an external MIDI sink (spec §4.3).
package channel

import "github.com/riffsynth/engine/pkg/voice"

const (
	numChannels = 16
	percussion  = 9
	drumBankSF2 = 128
	drumBankDLS = 120
)

// Route selects which renderer a program-change / note-on resolves to.
type Route int

const (
	RouteNone Route = iota
	RouteNative
	RouteSoundFont
)

// Sink receives raw MIDI bytes for external pass-through (spec §4.3
// "forward to the external MIDI sink").
type Sink interface {
	Send(status, data1, data2 byte)
}

// Resolver resolves (bank, program) against the active SoundFont overlay,
// base SoundFont, and HSB bank list (spec §4.3 program-change resolution,
// §4.4 bank resolver), and supplies playable HSB samples for the native
// path.
type Resolver interface {
	// Resolve reports which renderer (bank, program) plays through. ok is
	// false when percussion has no resolvable drum kit (spec §4.3 item 5)
	// or the "motor vibration" quirk denies a preset (spec §4.4).
	Resolve(bank, program int, isPercussion bool) (route Route, ok bool)

	// LookupSample fetches the HSB sample metadata for a resolved
	// (bank, program, note) triple. Only consulted when Resolve returns
	// RouteNative.
	LookupSample(bank, program, note int) (*voice.Sample, bool)
}

// Channel holds one MIDI channel's GM controller state.
type Channel struct {
	BankMSB    byte
	BankLSB    byte
	Program    byte
	ProgramSet bool
	Route      Route

	Volume     byte // CC7, default 100
	Expression byte // CC11, default 127
	Pan        int8 // -64..63, 0 = center (CC10, default 64 maps to 0)
	PitchBend  int16
	Modulation byte // CC1
	ReverbSend byte // CC91
	ChorusSend byte // CC93
	Sustain    bool // CC64

	// drumLatched codifies the spec's §9 Open Question rule: "channel 9
	// implies drum bank unless an explicit non-drum program change has
	// been received since the last all-notes-off".
	drumLatched bool

	// held tracks notes currently sounding (not yet note-off), so sustain
	// and all-notes-off can transition exactly the right set into release.
	held map[byte]bool

	// Muted silences the channel at the mix stage without touching voice
	// allocation or envelope state (spec §6 "-mc" CLI flag).
	Muted bool
}

func newChannel(index int) *Channel {
	c := &Channel{
		Volume:     100,
		Expression: 127,
		held:       make(map[byte]bool),
	}
	if index == percussion {
		c.drumLatched = true
	}
	return c
}

func (c *Channel) effectiveBank() int {
	bank := int(c.BankMSB)*128 + int(c.BankLSB)
	if c.drumLatched && bank == 0 {
		return drumBankSF2
	}
	return bank
}

func panToFloat(p int8) float64 {
	if p >= 0 {
		return float64(p) / 63.0
	}
	return float64(p) / 64.0
}

// Router owns the 16 GM channels for one song and dispatches events into
// the native voice table, an optional SoundFont renderer, and an optional
// external MIDI sink.
type Router struct {
	SongID uint64

	channels [numChannels]*Channel

	Table *voice.Table

	// SF2Rendered marks this song as routed through the SoundFont path
	// when the target instrument resolves there (spec §4.3 routing
	// decision).
	SF2Rendered bool

	Resolver Resolver
	MIDISink Sink
	Suppress bool // true during seek replay / preroll scan: no sink forwarding

	// OutputSampleRate is the mixer's configured output rate, needed to
	// convert a sample's native rate and triggering note into a playback
	// step (spec §4.1 step 4). Set once by the facade at Mixer_Open time.
	OutputSampleRate int

	// Transpose shifts every native-path note-on by this many semitones
	// before allocation, clamped to ±12 by the caller (spec §4.8
	// Song_SetTranspose).
	Transpose int8
}

// NewRouter constructs a Router with all 16 channels at GM defaults.
func NewRouter(songID uint64, table *voice.Table) *Router {
	r := &Router{SongID: songID, Table: table}
	for i := range r.channels {
		r.channels[i] = newChannel(i)
	}
	return r
}

// MuteChannel sets or clears the mute flag for ch (0..15), consulted by
// Gain on every render slice (spec §6 "-mc" CLI flag).
func (r *Router) MuteChannel(ch int, muted bool) {
	if c := r.Channel(ch); c != nil {
		c.Muted = muted
	}
}

// Gain matches voice.Mixer.ChannelGain's signature: combined volume from
// CC7*CC11 (spec §4.3 controller-map rows for 7 and 11), zeroed when the
// channel is muted, plus CC91/CC93 reverb/chorus sends as 0..1 scalars.
func (r *Router) Gain(ch int) (vol voice.Q16_16, reverbSend, chorusSend float64) {
	c := r.Channel(ch)
	if c == nil {
		return 0, 0, 0
	}
	if c.Muted {
		return 0, 0, 0
	}
	v := (float64(c.Volume) / 127.0) * (float64(c.Expression) / 127.0)
	return voice.FromFloat(v), float64(c.ReverbSend) / 127.0, float64(c.ChorusSend) / 127.0
}

// Channel returns the state for ch (0..15). Out-of-range ch returns nil.
func (r *Router) Channel(ch int) *Channel {
	if ch < 0 || ch >= numChannels {
		return nil
	}
	return r.channels[ch]
}

// NoteOn resolves the current program against the native voice table (SF2
// routing is handled upstream: when Channel.Route is RouteSoundFont, the
// mixer's SF2 renderer receives the raw event instead of calling NoteOn on
// the native path). A channel with no resolved program is silenced (spec
// §4.3 item 5: percussion with no drum kit produces no voice).
func (r *Router) NoteOn(ch int, note, velocity byte) {
	if velocity == 0 {
		r.NoteOff(ch, note, 0)
		return
	}
	c := r.Channel(ch)
	if c == nil || !c.ProgramSet || c.Route != RouteNative {
		return
	}

	c.held[note] = true
	if r.Table == nil || r.Resolver == nil {
		return
	}

	playedNote := int(note) + int(r.Transpose)
	sample, ok := r.Resolver.LookupSample(c.effectiveBank(), int(c.Program), playedNote)
	if !ok {
		return
	}
	env := voice.NewEnvelope(sample.Attack, sample.Decay, sample.Sustain, sample.Release)
	key := voice.Key{SongID: r.SongID, Channel: ch, Note: int(note)}
	idx := r.Table.Allocate(key, sample, env, ch == percussion)
	r.Table.SetVelocity(idx, int(velocity))

	outRate := r.OutputSampleRate
	srcRate := sample.SampleRate
	if outRate <= 0 {
		outRate = srcRate
	}
	if srcRate <= 0 {
		srcRate = outRate
	}
	r.Table.SetStep(idx, voice.Step(playedNote, sample.BaseNote, srcRate, outRate))

	r.forward(0x90|byte(ch), note, velocity)
}

// NoteOff transitions a voice into its release phase, or holds it if the
// channel's sustain pedal (CC64) is currently down.
func (r *Router) NoteOff(ch int, note, velocity byte) {
	c := r.Channel(ch)
	if c == nil {
		return
	}
	if c.Sustain {
		// Stays in the held set until CC64 releases it (spec §4.3 CC64 row).
		r.forward(0x80|byte(ch), note, velocity)
		return
	}
	delete(c.held, note)
	r.releaseVoice(ch, note)
	r.forward(0x80|byte(ch), note, velocity)
}

func (r *Router) releaseVoice(ch int, note byte) {
	if r.Table == nil {
		return
	}
	key := voice.Key{SongID: r.SongID, Channel: ch, Note: int(note)}
	if idx := r.Table.Find(key); idx >= 0 {
		r.Table.Voices()[idx].Env.Release()
	}
}

// ControlChange applies one of the controller-map rows in spec §4.3.
func (r *Router) ControlChange(ch int, controller, value byte) {
	c := r.Channel(ch)
	if c == nil {
		return
	}
	switch controller {
	case 0:
		c.BankMSB = value
	case 1:
		c.Modulation = value
	case 7:
		c.Volume = value
	case 10:
		c.Pan = ccToPan(value)
	case 11:
		c.Expression = value
	case 32:
		c.BankLSB = value
	case 64:
		wasOn := c.Sustain
		c.Sustain = value >= 64
		if wasOn && !c.Sustain {
			r.releaseSustainedNotes(c, ch)
		}
	case 91:
		c.ReverbSend = value
	case 93:
		c.ChorusSend = value
	case 120:
		r.AllSoundOff(ch)
	case 121:
		r.resetControllers(c)
	case 123:
		r.AllNotesOff(ch)
	}
	r.forward(0xB0|byte(ch), controller, value)
}

func ccToPan(value byte) int8 {
	// CC10 default 64 is center; map 0..127 onto -64..63.
	return int8(int(value) - 64)
}

func (r *Router) releaseSustainedNotes(c *Channel, ch int) {
	for note := range c.held {
		r.releaseVoice(ch, note)
		delete(c.held, note)
	}
}

func (r *Router) resetControllers(c *Channel) {
	c.Volume = 100
	c.Expression = 127
	c.Pan = 0
	c.PitchBend = 0
	c.Modulation = 0
	c.Sustain = false
	c.ReverbSend = 0
	c.ChorusSend = 0
}

// AllSoundOff immediately silences a channel's voices (spec CC120: hard
// silence, not a release).
func (r *Router) AllSoundOff(ch int) {
	c := r.Channel(ch)
	if c == nil {
		return
	}
	if r.Table != nil {
		r.Table.KillChannel(r.SongID, ch)
	}
	for note := range c.held {
		delete(c.held, note)
	}
	if ch == percussion {
		c.drumLatched = true
	}
}

// AllNotesOff transitions every held note on ch into release (spec CC123).
func (r *Router) AllNotesOff(ch int) {
	c := r.Channel(ch)
	if c == nil {
		return
	}
	if r.Table != nil {
		r.Table.ReleaseChannel(r.SongID, ch)
	}
	for note := range c.held {
		delete(c.held, note)
	}
	if ch == percussion {
		c.drumLatched = true
	}
}

// AllChannelsNotesOff applies a soft all-notes-off on every channel, used
// on loop wraparound, pause, and seek (spec §4.2, §4.8).
func (r *Router) AllChannelsNotesOff() {
	for ch := 0; ch < numChannels; ch++ {
		r.AllNotesOff(ch)
	}
}

// AllChannelsSoundOff hard-kills every channel's voices with no release
// fade, used for the "-nf" no-fadeout stop path (spec §6 "-nf").
func (r *Router) AllChannelsSoundOff() {
	for ch := 0; ch < numChannels; ch++ {
		r.AllSoundOff(ch)
	}
}

// PitchBendEvent updates channel pitch bend state. value is the signed
// 14-bit GM pitch bend value already centered at zero.
func (r *Router) PitchBendEvent(ch int, value int16) {
	c := r.Channel(ch)
	if c == nil {
		return
	}
	c.PitchBend = value
	lsb := byte(value & 0x7F)
	msb := byte((value >> 7) & 0x7F)
	r.forward(0xE0|byte(ch), lsb, msb)
}

// ProgramChange resolves (bank, program) against the Resolver, applying
// the percussion drum-latch rule; on success it records the resolved
// route so subsequent note-ons know whether to use the native table or
// defer to the SoundFont renderer (spec §4.3 program change).
func (r *Router) ProgramChange(ch int, program byte) {
	c := r.Channel(ch)
	if c == nil {
		return
	}
	c.Program = program
	isPercussion := ch == percussion

	if isPercussion {
		// An explicit non-drum program change un-latches the channel-9
		// drum-bank inference until the next all-notes-off.
		rawBank := int(c.BankMSB)*128 + int(c.BankLSB)
		c.drumLatched = rawBank == drumBankSF2 || rawBank == drumBankDLS || rawBank == 0
	}

	if r.Resolver == nil {
		c.ProgramSet = true
		c.Route = RouteNative
		r.forward(0xC0|byte(ch), program, 0)
		return
	}

	route, ok := r.Resolver.Resolve(c.effectiveBank(), int(program), isPercussion)
	if !ok {
		// Drum-kit absence / motor-vibration quirk: program unset,
		// channel silenced, no melodic fallback (spec §4.3 item 5, §4.4).
		c.ProgramSet = false
		c.Route = RouteNone
		return
	}
	c.Route = route
	if route == RouteSoundFont {
		r.SF2Rendered = true
	}
	c.ProgramSet = true
	r.forward(0xC0|byte(ch), program, 0)
}

// SysEx forwards a raw SysEx payload to the external MIDI sink only during
// normal playback (spec §4.3 "SysEx" row); the core never interprets it.
func (r *Router) SysEx(data []byte) {
	if r.Suppress || r.MIDISink == nil {
		return
	}
	for i := 0; i+2 < len(data); i += 3 {
		r.MIDISink.Send(data[i], data[i+1], data[i+2])
	}
}

// Dispatch decodes and applies one raw short MIDI message (status byte
// plus up to two data bytes), the same channel-message switch the
// sequencer uses for track bytes. It is the entry point for a live MIDI
// source (a platform input callback, a virtual keyboard) routed through
// an EventRing rather than an SMF track (spec §4.6).
func (r *Router) Dispatch(status, d1, d2 byte) {
	ch := int(status & 0x0F)
	switch status & 0xF0 {
	case 0x80:
		r.NoteOff(ch, d1, d2)
	case 0x90:
		r.NoteOn(ch, d1, d2)
	case 0xA0:
		// Polyphonic key pressure: informational only, not modeled.
	case 0xB0:
		r.ControlChange(ch, d1, d2)
	case 0xC0:
		r.ProgramChange(ch, d1)
	case 0xD0:
		// Channel pressure: informational only, not modeled.
	case 0xE0:
		value := int16(int(d2)<<7|int(d1)) - 8192
		r.PitchBendEvent(ch, value)
	}
}

func (r *Router) forward(status, d1, d2 byte) {
	if r.Suppress || r.MIDISink == nil {
		return
	}
	r.MIDISink.Send(status, d1, d2)
}
