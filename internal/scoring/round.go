package scoring

import "math"

// roundingGuard absorbs binary representation error so that values such as
// 23/20 (stored as 1.1499999…) round half-up to 1.2 as written.
const roundingGuard = 1e-9

// Round1 rounds to one decimal place, half-up.
func Round1(x float64) float64 {
	return math.Floor(x*10+0.5+roundingGuard) / 10
}

// RoundPercent rounds a ratio in [0,1] to a whole percentage, half-up.
func RoundPercent(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	return int(math.Floor(float64(part)*100/float64(whole) + 0.5 + roundingGuard))
}

// meanOf returns the rounded mean of the non-nil values, or nil when none are set.
func meanOf(values []*float64) *float64 {
	var sum float64
	n := 0
	for _, v := range values {
		if v == nil {
			continue
		}
		sum += *v
		n++
	}
	if n == 0 {
		return nil
	}
	m := Round1(sum / float64(n))
	return &m
}
