package ring

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestOverflowReplacesTailSideInserts exercises spec §8 scenario S4: ring
// capacity 8, 16 pushes without draining, expect 8 drops and the first 8
// inserts dequeued in original order.
func TestOverflowReplacesTailSideInserts(t *testing.T) {
	r := New(8)
	for i := 0; i < 16; i++ {
		r.Push(float64(i), []byte{byte(i)})
	}

	if got := r.Dropped(); got != 8 {
		t.Fatalf("dropped = %d, want 8", got)
	}

	for i := 0; i < 8; i++ {
		ev, ok := r.Pop()
		if !ok {
			t.Fatalf("expected event %d, ring empty", i)
		}
		if ev.Data[0] != byte(i) {
			t.Fatalf("event %d = %d, want %d", i, ev.Data[0], i)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Fatalf("expected ring empty after draining the first 8 inserts")
	}
}

func TestNewRoundsUpToPowerOfTwo(t *testing.T) {
	cases := map[int]int{0: 1, 1: 1, 2: 2, 3: 4, 5: 8, 2048: 2048, 2049: 4096}
	for in, want := range cases {
		if got := New(in).Cap(); got != want {
			t.Errorf("New(%d).Cap() = %d, want %d", in, got, want)
		}
	}
}

// TestProperty_FIFOOrdering validates spec §8 invariant 4: messages enqueued
// in order are dequeued in the same order, as long as no overflow occurs.
func TestProperty_FIFOOrdering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("messages drain in insertion order", prop.ForAll(
		func(msgs []byte) bool {
			r := New(4096)
			for _, b := range msgs {
				if !r.Push(0, []byte{b}) {
					return false
				}
			}
			for _, want := range msgs {
				ev, ok := r.Pop()
				if !ok || ev.Data[0] != want {
					return false
				}
			}
			_, ok := r.Pop()
			return !ok
		},
		gen.SliceOfN(500, gen.UInt8()),
	))

	properties.TestingRun(t)
}

func TestEmptyPopReturnsFalse(t *testing.T) {
	r := New(2)
	if _, ok := r.Pop(); ok {
		t.Fatalf("Pop on empty ring should return false")
	}
}
