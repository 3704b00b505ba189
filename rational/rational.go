// Package rational implements the exact-period rational-number
// arithmetic capture uses to avoid the long-run drift a naive
// floating-point 1/fps period accumulates over an hours-long
// recording.
package rational

import "math"

// Rational is a reduced fraction Num/Den, Den always positive.
type Rational struct {
	Num int64
	Den int64
}

func New(num, den int64) Rational {
	return Rational{Num: num, Den: den}.Reduce()
}

func gcd(a, b int64) int64 {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}

// Reduce returns r in lowest terms with a positive denominator.
func (r Rational) Reduce() Rational {
	if r.Den == 0 {
		return Rational{0, 1}
	}
	if r.Den < 0 {
		r.Num, r.Den = -r.Num, -r.Den
	}
	g := gcd(r.Num, r.Den)
	return Rational{r.Num / g, r.Den / g}
}

func (r Rational) Float() float64 {
	return float64(r.Num) / float64(r.Den)
}

// Div returns a/b in lowest terms.
func Div(a, b Rational) Rational {
	return New(a.Num*b.Den, a.Den*b.Num)
}

// FromFloat approximates f as a fraction with denominator bounded by
// maxDen, using the standard continued-fraction expansion (the same
// technique ffmpeg's av_d2q uses to turn an arbitrary fps like 29.97
// into an exact ratio).
func FromFloat(f float64, maxDen int64) Rational {
	if f == 0 || math.IsNaN(f) {
		return Rational{0, 1}
	}

	sign := int64(1)
	if f < 0 {
		sign = -1
		f = -f
	}
	if maxDen < 1 {
		maxDen = 1
	}

	h1, h2 := int64(1), int64(0)
	k1, k2 := int64(0), int64(1)
	b := f

	for i := 0; i < 64; i++ {
		a := int64(math.Floor(b))
		h := a*h1 + h2
		k := a*k1 + k2
		if k > maxDen || k <= 0 {
			break
		}
		h2, h1 = h1, h
		k2, k1 = k1, k

		frac := b - float64(a)
		if frac < 1e-12 {
			break
		}
		b = 1 / frac
		if math.IsInf(b, 0) {
			break
		}
	}

	if k1 == 0 {
		k1 = 1
	}
	return Rational{sign * h1, k1}
}

// FPSPeriod decomposes a target frame rate into the three-tuple the
// capture hot path advances its clock by: a whole-nanosecond period,
// a remainder to add every remPeriod frames, and that period itself.
// Applying remainder once every remPeriod frames reproduces the exact
// long-run average rate instead of drifting the way periodNS alone
// would (e.g. 29.97 fps is 33366700ns plus 100ns every 2997 frames).
func FPSPeriod(fps float64) (periodNS int64, remainder int64, remPeriod int64) {
	a := FromFloat(fps, 1001000)
	oneSecond := Rational{1_000_000_000, 1}
	c := Div(oneSecond, a)

	periodNS = c.Num / c.Den
	remainder = c.Num % c.Den
	remPeriod = c.Den
	if remPeriod == 0 {
		remPeriod = 1
	}
	return periodNS, remainder, remPeriod
}
