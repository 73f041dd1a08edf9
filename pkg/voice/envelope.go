package voice

// Stage identifies where a voice is in its amplitude envelope.
type Stage int

const (
	StageAttack Stage = iota
	StageDecay
	StageSustain
	StageRelease
	StageFastFade // kill/steal: a few hundred microseconds to zero, to avoid clicks
	StageIdle     // envelope complete; voice is free
)

// FastFadeFrames is how many output frames a killed/stolen voice takes to
// reach silence (spec §4.1: "a few hundred microseconds"). At 44.1kHz this
// is a little under 300us.
const FastFadeFrames = 12

// Envelope tracks one voice's amplitude state machine. Rates are expressed
// in Q16.16 gain-change per frame, pre-scaled at note-on from the
// instrument's time constants and the current output sample rate (spec
// §4.1 "Numeric semantics").
type Envelope struct {
	Stage Stage
	Gain  Q16_16

	AttackRate  Q16_16
	DecayRate   Q16_16
	SustainGain Q16_16
	ReleaseRate Q16_16

	fadeFramesLeft int
	fadeStep       Q16_16
}

// NewEnvelope creates an Envelope in the attack stage at zero gain.
func NewEnvelope(attackRate, decayRate, sustainGain, releaseRate Q16_16) *Envelope {
	return &Envelope{
		Stage:       StageAttack,
		AttackRate:  attackRate,
		DecayRate:   decayRate,
		SustainGain: sustainGain,
		ReleaseRate: releaseRate,
	}
}

// Release transitions the envelope to its release stage (note-off, sustain
// pedal release, or a held note force-released per spec §3.2's
// at-most-one-voice-in-attack/decay/sustain invariant).
func (e *Envelope) Release() {
	if e.Stage == StageFastFade || e.Stage == StageIdle {
		return
	}
	e.Stage = StageRelease
}

// Kill forces a quick fade to silence over FastFadeFrames, used by voice
// stealing and kill_all_voices/kill_channel_voices (spec §4.1).
func (e *Envelope) Kill() {
	if e.Stage == StageIdle {
		return
	}
	e.Stage = StageFastFade
	e.fadeFramesLeft = FastFadeFrames
	e.fadeStep = e.Gain / Q16_16(FastFadeFrames)
	if e.fadeStep < 1 {
		e.fadeStep = 1
	}
}

// Advance steps the envelope by one output frame and returns the gain to
// apply for that frame. It never panics; an envelope in an unexpected
// state is treated as idle (silence).
func (e *Envelope) Advance() Q16_16 {
	switch e.Stage {
	case StageAttack:
		e.Gain += e.AttackRate
		if e.Gain >= q16One {
			e.Gain = q16One
			e.Stage = StageDecay
		}
	case StageDecay:
		if e.Gain > e.SustainGain {
			e.Gain -= e.DecayRate
			if e.Gain <= e.SustainGain {
				e.Gain = e.SustainGain
				e.Stage = StageSustain
			}
		} else {
			e.Stage = StageSustain
		}
	case StageSustain:
		e.Gain = e.SustainGain
	case StageRelease:
		e.Gain -= e.ReleaseRate
		if e.Gain <= 0 {
			e.Gain = 0
			e.Stage = StageIdle
		}
	case StageFastFade:
		e.Gain -= e.fadeStep
		e.fadeFramesLeft--
		if e.Gain <= 0 || e.fadeFramesLeft <= 0 {
			e.Gain = 0
			e.Stage = StageIdle
		}
	case StageIdle:
		e.Gain = 0
	}
	return e.Gain
}

// Done reports whether the voice's envelope has fully completed and the
// voice slot may be freed.
func (e *Envelope) Done() bool { return e.Stage == StageIdle }

// InRelease reports whether the envelope is releasing (used by the
// voice-stealing precedence rule, spec §4.1).
func (e *Envelope) InRelease() bool {
	return e.Stage == StageRelease || e.Stage == StageFastFade
}
