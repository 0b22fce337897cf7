// Package valuerange maps between device capability ranges, application
// chosen practical ranges and the normalized 0-100 control position.
//
// A Range is either Continuous (integer end points, e.g. nanoseconds or ISO
// units) or Discrete (a list of legal values, e.g. apertures). Every consumer
// switches over both kinds explicitly.
package valuerange

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

const (
	// MinPosition and MaxPosition bound a normalized control position.
	MinPosition = 0
	MaxPosition = 100
)

var (
	ErrRangeUnavailable   = errors.New("range unavailable")
	ErrEmptyIntersection  = errors.New("ranges do not intersect")
	ErrInvertedRange      = errors.New("range lower bound is above upper bound")
	ErrDegenerateRange    = errors.New("range has zero width")
	ErrPositionOutOfRange = errors.New("position out of range")
	ErrNoMatch            = errors.New("value is not one of the discrete values")
)

// Range is a closed interval or a discrete set of values.
// It is implemented only by Continuous and Discrete.
type Range interface {
	isRange()
	String() string
}

// Continuous is the closed integer interval [Lower, Upper].
type Continuous struct {
	Lower int64 `json:"lower"`
	Upper int64 `json:"upper"`
}

func (Continuous) isRange() {}

func (c Continuous) String() string { return fmt.Sprintf("[%d, %d]", c.Lower, c.Upper) }

// Valid reports whether Lower <= Upper.
func (c Continuous) Valid() bool { return c.Lower <= c.Upper }

// Width returns Upper - Lower.
func (c Continuous) Width() int64 { return c.Upper - c.Lower }

// Contains reports whether v lies within the interval.
func (c Continuous) Contains(v float64) bool {
	return v >= float64(c.Lower) && v <= float64(c.Upper)
}

// Clamp limits v to the interval.
func (c Continuous) Clamp(v int64) int64 {
	return min(c.Upper, max(c.Lower, v))
}

// Discrete is an unordered list of legal values.
type Discrete struct {
	Values []float64 `json:"values"`
}

func (Discrete) isRange() {}

func (d Discrete) String() string { return fmt.Sprintf("%v", d.Values) }

// Sorted returns a sorted copy of the values. The receiver is not modified.
func (d Discrete) Sorted() []float64 {
	s := make([]float64, len(d.Values))
	copy(s, d.Values)
	sort.Float64s(s)
	return s
}

// Equal reports whether a and b describe the same values. Discrete ranges
// compare as sets in sorted order.
func Equal(a, b Range) bool {
	switch aa := a.(type) {
	case Continuous:
		bb, ok := b.(Continuous)
		return ok && aa == bb
	case Discrete:
		bb, ok := b.(Discrete)
		if !ok || len(aa.Values) != len(bb.Values) {
			return false
		}
		as, bs := aa.Sorted(), bb.Sorted()
		for i := range as {
			if as[i] != bs[i] {
				return false
			}
		}
		return true
	}
	return a == nil && b == nil
}

// Intersect returns [max(a.Lower, b.Lower), min(a.Upper, b.Upper)].
// Either input being nil yields ErrRangeUnavailable, an inverted input yields
// ErrInvertedRange and an inverted result yields ErrEmptyIntersection.
func Intersect(a, b *Continuous) (*Continuous, error) {
	if a == nil || b == nil {
		return nil, ErrRangeUnavailable
	}
	if !a.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvertedRange, a)
	}
	if !b.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvertedRange, b)
	}

	r := &Continuous{
		Lower: max(a.Lower, b.Lower),
		Upper: min(a.Upper, b.Upper),
	}
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %s and %s", ErrEmptyIntersection, a, b)
	}

	return r, nil
}

// Effective computes the range used for all position mapping of a channel.
//
// Continuous device ranges need a continuous practical range and are
// intersected with it. A discrete device range with no practical range is
// used as is; with a continuous practical range it is filtered to the values
// inside it.
func Effective(device, practical Range) (Range, error) {
	if device == nil {
		return nil, ErrRangeUnavailable
	}

	switch d := device.(type) {
	case Continuous:
		p, ok := practical.(Continuous)
		if !ok {
			return nil, fmt.Errorf("%w: no continuous practical range for device range %s", ErrRangeUnavailable, d)
		}
		r, err := Intersect(&d, &p)
		if err != nil {
			return nil, err
		}
		return *r, nil
	case Discrete:
		if len(d.Values) == 0 {
			return nil, ErrRangeUnavailable
		}
		switch p := practical.(type) {
		case nil:
			return Discrete{Values: d.Sorted()}, nil
		case Continuous:
			if !p.Valid() {
				return nil, fmt.Errorf("%w: %s", ErrInvertedRange, p)
			}
			var kept []float64
			for _, v := range d.Sorted() {
				if p.Contains(v) {
					kept = append(kept, v)
				}
			}
			if len(kept) == 0 {
				return nil, fmt.Errorf("%w: %s and %s", ErrEmptyIntersection, d, p)
			}
			return Discrete{Values: kept}, nil
		case Discrete:
			allowed := make(map[float64]struct{}, len(p.Values))
			for _, v := range p.Values {
				allowed[v] = struct{}{}
			}
			var kept []float64
			for _, v := range d.Sorted() {
				if _, ok := allowed[v]; ok {
					kept = append(kept, v)
				}
			}
			if len(kept) == 0 {
				return nil, fmt.Errorf("%w: %s and %s", ErrEmptyIntersection, d, p)
			}
			return Discrete{Values: kept}, nil
		}
	}

	return nil, fmt.Errorf("%w: unsupported range %T", ErrRangeUnavailable, device)
}

// ClampPosition limits p to [MinPosition, MaxPosition].
func ClampPosition(p int) int {
	return min(MaxPosition, max(MinPosition, p))
}

// ToValue maps a normalized position to a concrete value.
//
// Continuous: lower + (upper-lower)*clamp(position)/100 over the effective
// range, then clamped again into the device range.
//
// Discrete: index floor(position/101*count) into the sorted values. The 101
// divisor keeps position 100 inside the list.
func ToValue(effective, device Range, position int) (float64, error) {
	if effective == nil || device == nil {
		return 0, ErrRangeUnavailable
	}

	position = ClampPosition(position)

	switch e := effective.(type) {
	case Continuous:
		d, ok := device.(Continuous)
		if !ok {
			return 0, fmt.Errorf("%w: device range %s is not continuous", ErrRangeUnavailable, device)
		}
		if !e.Valid() || !d.Valid() {
			return 0, ErrInvertedRange
		}
		v := e.Lower + scale(e.Width(), position)
		v = e.Clamp(v)
		v = d.Clamp(v)
		return float64(v), nil
	case Discrete:
		if len(e.Values) == 0 {
			return 0, ErrRangeUnavailable
		}
		values := e.Sorted()
		idx := int(float64(position) / 101 * float64(len(values)))
		return values[idx], nil
	}

	return 0, fmt.Errorf("%w: unsupported range %T", ErrRangeUnavailable, effective)
}

// scale computes width*position/100 without overflowing int64 for wide ranges.
func scale(width int64, position int) int64 {
	p := int64(position)
	q, r := width/MaxPosition, width%MaxPosition
	return q*p + r*p/MaxPosition
}

// ToPosition is the inverse of ToValue.
//
// Continuous: |value-lower|*100/(upper-lower), truncated. Results above 100
// yield ErrPositionOutOfRange; a zero width range yields ErrDegenerateRange.
//
// Discrete: the index of the exactly equal value in the sorted list, or
// ErrNoMatch.
func ToPosition(value float64, effective Range) (int, error) {
	if effective == nil {
		return 0, ErrRangeUnavailable
	}

	switch e := effective.(type) {
	case Continuous:
		if !e.Valid() {
			return 0, ErrInvertedRange
		}
		if e.Width() == 0 {
			return 0, ErrDegenerateRange
		}
		diff := math.Abs(value - float64(e.Lower))
		pos := math.Floor(diff * MaxPosition / float64(e.Width()))
		if pos > MaxPosition {
			return 0, fmt.Errorf("%w: %v maps to %v", ErrPositionOutOfRange, value, pos)
		}
		return int(pos), nil
	case Discrete:
		for i, v := range e.Sorted() {
			if v == value {
				return i, nil
			}
		}
		return 0, fmt.Errorf("%w: %v", ErrNoMatch, value)
	}

	return 0, fmt.Errorf("%w: unsupported range %T", ErrRangeUnavailable, effective)
}
