package bank

import (
	"testing"

	"github.com/riffsynth/engine/pkg/channel"
	"github.com/riffsynth/engine/pkg/voice"
)

func testSample() *voice.Sample {
	return &voice.Sample{
		Data:    make([]int16, 10),
		Attack:  voice.FromFloat(0.01),
		Decay:   voice.FromFloat(0.01),
		Sustain: voice.FromFloat(1.0),
		Release: voice.FromFloat(0.01),
	}
}

func TestResolver_HSBFrontToBackSearch(t *testing.T) {
	back := NewMemBank()
	back.AddInstrument(0, 5, testSample())
	front := NewMemBank()
	front.AddInstrument(0, 5, testSample())

	r := NewResolver(nil, nil, []NativeBank{front, back})
	route, ok := r.Resolve(0, 5, false)
	if !ok || route != channel.RouteNative {
		t.Fatalf("Resolve(0,5) = (%v,%v), want (RouteNative,true)", route, ok)
	}
}

func TestResolver_PercussionSubstitutesDrumBank(t *testing.T) {
	drums := NewMemBank()
	drums.AddInstrument(drumBankSF2, 0, testSample())

	r := NewResolver(nil, nil, []NativeBank{drums})
	route, ok := r.Resolve(0, 0, true)
	if !ok || route != channel.RouteNative {
		t.Fatalf("Resolve percussion = (%v,%v), want (RouteNative,true)", route, ok)
	}
}

func TestResolver_PercussionWithoutDrumKitSilencesChannel(t *testing.T) {
	melodic := NewMemBank()
	melodic.AddInstrument(0, 0, testSample())

	r := NewResolver(nil, nil, []NativeBank{melodic})
	_, ok := r.Resolve(0, 0, true)
	if ok {
		t.Fatal("expected percussion with no drum kit present to fail resolution, not fall back melodic")
	}
}

func TestResolver_MotorVibrationQuirkAlwaysDenied(t *testing.T) {
	everything := NewMemBank()
	everything.AddInstrument(vibrationBank, vibrationProgramA, testSample())
	everything.AddInstrument(vibrationBank, vibrationProgramB, testSample())

	r := NewResolver(nil, nil, []NativeBank{everything})
	if _, ok := r.Resolve(vibrationBank, vibrationProgramA, false); ok {
		t.Fatal("bank 121 program 124 must never resolve (motor vibration quirk)")
	}
	if _, ok := r.Resolve(vibrationBank, vibrationProgramB, false); ok {
		t.Fatal("bank 121 program 125 must never resolve (motor vibration quirk)")
	}
}

func TestResolver_MelodicFallbackToBankZero(t *testing.T) {
	base := NewMemBank()
	base.AddInstrument(0, 40, testSample())

	r := NewResolver(nil, nil, []NativeBank{base})
	route, ok := r.Resolve(5, 40, false)
	if !ok || route != channel.RouteNative {
		t.Fatalf("Resolve(5,40) fallback = (%v,%v), want (RouteNative,true)", route, ok)
	}
}

func TestResolver_NoBanksAtAllFailsResolution(t *testing.T) {
	r := NewResolver(nil, nil, nil)
	if _, ok := r.Resolve(0, 0, false); ok {
		t.Fatal("expected resolution to fail with no overlay, base, or HSB banks present")
	}
}

func TestResolver_LookupSampleSearchesHSBInOrder(t *testing.T) {
	want := testSample()
	back := NewMemBank()
	back.AddInstrument(0, 5, testSample())
	front := NewMemBank()
	front.AddInstrument(0, 5, want)

	r := NewResolver(nil, nil, []NativeBank{front, back})
	got, ok := r.LookupSample(0, 5, 60)
	if !ok {
		t.Fatal("expected LookupSample to find the front bank's sample")
	}
	if got != want {
		t.Fatal("LookupSample returned a different sample than the front (first) bank's")
	}
}
