package voice

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestSliceMicrosMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("larger frame count yields larger or equal slice duration", prop.ForAll(
		func(rate, a, b int) bool {
			if a > b {
				a, b = b, a
			}
			return SliceMicros(a, rate) <= SliceMicros(b, rate)
		},
		gen.IntRange(8000, 192000),
		gen.IntRange(1, 4096),
		gen.IntRange(1, 4096),
	))

	properties.TestingRun(t)
}

func TestProcessNeverExceedsRequestedFrames(t *testing.T) {
	m := NewMixer(44100, 2, 16, 32, InterpLinear)
	out := make([]byte, 8*2*2) // room for 8 frames only
	got := m.Process(out, 1000)
	if got > 8 {
		t.Fatalf("Process wrote %d frames into an 8-frame buffer", got)
	}
}

func TestProcessZeroFramesIsNoop(t *testing.T) {
	m := NewMixer(44100, 2, 16, 32, InterpLinear)
	out := make([]byte, 64)
	if got := m.Process(out, 0); got != 0 {
		t.Fatalf("Process(_, 0) = %d, want 0", got)
	}
}

func TestVoiceAllocationNeverExceedsTableSize(t *testing.T) {
	tbl := NewTable(4)
	for i := 0; i < 20; i++ {
		key := Key{SongID: 1, Channel: 0, Note: i % 8}
		tbl.Allocate(key, nil, NewEnvelope(q16One, 0, q16One, FromFloat(0.01)), false)
		if tbl.ActiveCount() > 4 {
			t.Fatalf("active voice count %d exceeds table size 4", tbl.ActiveCount())
		}
	}
}

// TestAtMostOneVoiceInHeldPhasePerTriple validates spec §3.2 / §8 property 3:
// per (song, channel, note), at most one voice is in attack/decay/sustain.
func TestAtMostOneVoiceInHeldPhasePerTriple(t *testing.T) {
	tbl := NewTable(16)
	key := Key{SongID: 7, Channel: 2, Note: 60}

	env1 := NewEnvelope(q16One, 0, q16One, FromFloat(0.01))
	i1 := tbl.Allocate(key, nil, env1, false)
	tbl.SetVelocity(i1, 100)

	if existing := tbl.Find(key); existing != i1 {
		t.Fatalf("Find did not locate the held voice")
	}

	// A second note-on on the same triple must first release the existing
	// voice before a new one is considered held.
	tbl.Voices()[i1].Env.Release()
	if tbl.Find(key) != -1 {
		t.Fatalf("released voice should no longer be reported as held")
	}

	env2 := NewEnvelope(q16One, 0, q16One, FromFloat(0.01))
	i2 := tbl.Allocate(key, nil, env2, false)
	held := 0
	for i := range tbl.Voices() {
		v := &tbl.Voices()[i]
		if v.Active && v.Key == key && !v.Env.InRelease() {
			held++
		}
	}
	if held > 1 {
		t.Fatalf("more than one voice held for the same (song,channel,note) triple")
	}
	_ = i2
}

func TestEnvelopeFastFadeReachesSilenceWithinBudget(t *testing.T) {
	e := NewEnvelope(FromFloat(1), FromFloat(0.1), FromFloat(0.8), FromFloat(0.01))
	for i := 0; i < 50; i++ {
		e.Advance()
	}
	e.Kill()
	for i := 0; i < FastFadeFrames+1; i++ {
		e.Advance()
	}
	if !e.Done() {
		t.Fatalf("envelope did not reach idle within FastFadeFrames")
	}
}

func TestStereoGainMonoFallback(t *testing.T) {
	l, r := StereoGain(FromFloat(1), 1)
	if l != 0.5 || r != 0.5 {
		t.Fatalf("mono pan should always be (0.5, 0.5), got (%v, %v)", l, r)
	}
}
