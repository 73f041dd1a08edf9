// Package voice owns the fixed-size voice table and the per-slice render
// pipeline: envelope processing, interpolated sample playback, panning,
// and the master mix stage (spec §4.1).
package voice

// Q16_16 is a 32-bit fixed-point number with 16 integer bits and 16
// fractional bits, used throughout the mixer for volume, pitch, and
// envelope rates (spec §3.2, §4.1 "Numeric semantics").
type Q16_16 int32

const q16Shift = 16
const q16One = Q16_16(1 << q16Shift)

// FromFloat converts a float64 in (roughly) [-32768, 32767.99998] to Q16.16.
func FromFloat(f float64) Q16_16 {
	return Q16_16(f * float64(int64(1)<<q16Shift))
}

// Float converts a Q16.16 value back to float64.
func (q Q16_16) Float() float64 {
	return float64(q) / float64(int64(1)<<q16Shift)
}

// Mul multiplies two Q16.16 values, carrying the product through int64 to
// avoid overflow before rescaling.
func (q Q16_16) Mul(o Q16_16) Q16_16 {
	return Q16_16((int64(q) * int64(o)) >> q16Shift)
}

// Clamp01 restricts q to [0, 1.0] in Q16.16.
func (q Q16_16) Clamp01() Q16_16 {
	if q < 0 {
		return 0
	}
	if q > q16One {
		return q16One
	}
	return q
}
