package valuerange

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntersect(t *testing.T) {
	tests := []struct {
		name    string
		a, b    *Continuous
		want    *Continuous
		wantErr error
	}{
		{
			name: "practical inside device",
			a:    &Continuous{Lower: 50, Upper: 6400},
			b:    &Continuous{Lower: 100, Upper: 3200},
			want: &Continuous{Lower: 100, Upper: 3200},
		},
		{
			name: "partial overlap",
			a:    &Continuous{Lower: 13000, Upper: 683709000},
			b:    &Continuous{Lower: 3000000, Upper: 50090000},
			want: &Continuous{Lower: 3000000, Upper: 50090000},
		},
		{
			name: "unbounded practical upper",
			a:    &Continuous{Lower: 50, Upper: 6400},
			b:    &Continuous{Lower: 100, Upper: math.MaxInt64},
			want: &Continuous{Lower: 100, Upper: 6400},
		},
		{
			name: "touching end points",
			a:    &Continuous{Lower: 0, Upper: 10},
			b:    &Continuous{Lower: 10, Upper: 20},
			want: &Continuous{Lower: 10, Upper: 10},
		},
		{
			name:    "disjoint",
			a:       &Continuous{Lower: 0, Upper: 10},
			b:       &Continuous{Lower: 11, Upper: 20},
			wantErr: ErrEmptyIntersection,
		},
		{
			name:    "inverted input",
			a:       &Continuous{Lower: 10, Upper: 0},
			b:       &Continuous{Lower: 0, Upper: 20},
			wantErr: ErrInvertedRange,
		},
		{
			name:    "missing input",
			a:       nil,
			b:       &Continuous{Lower: 0, Upper: 20},
			wantErr: ErrRangeUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Intersect(tt.a, tt.b)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIntersectIdentity(t *testing.T) {
	for _, r := range []Continuous{
		{Lower: 0, Upper: 1},
		{Lower: 50, Upper: 6400},
		{Lower: -100, Upper: 100},
		{Lower: 13000, Upper: 683709000},
	} {
		got, err := Intersect(&r, &r)
		require.NoError(t, err)
		assert.Equal(t, r, *got)
	}
}

func TestEffective(t *testing.T) {
	got, err := Effective(Continuous{Lower: 50, Upper: 6400}, Continuous{Lower: 100, Upper: 3200})
	require.NoError(t, err)
	assert.Equal(t, Continuous{Lower: 100, Upper: 3200}, got)

	_, err = Effective(Continuous{Lower: 50, Upper: 6400}, nil)
	assert.ErrorIs(t, err, ErrRangeUnavailable)

	_, err = Effective(nil, Continuous{Lower: 100, Upper: 3200})
	assert.ErrorIs(t, err, ErrRangeUnavailable)

	_, err = Effective(Continuous{Lower: 0, Upper: 50}, Continuous{Lower: 100, Upper: 3200})
	assert.ErrorIs(t, err, ErrEmptyIntersection)

	got, err = Effective(Discrete{Values: []float64{2.8, 1.8, 4}}, nil)
	require.NoError(t, err)
	assert.Equal(t, Discrete{Values: []float64{1.8, 2.8, 4}}, got)

	got, err = Effective(Discrete{Values: []float64{2.8, 1.8, 4}}, Continuous{Lower: 2, Upper: 3})
	require.NoError(t, err)
	assert.Equal(t, Discrete{Values: []float64{2.8}}, got)

	_, err = Effective(Discrete{Values: []float64{2.8, 1.8}}, Continuous{Lower: 5, Upper: 8})
	assert.ErrorIs(t, err, ErrEmptyIntersection)

	_, err = Effective(Discrete{}, nil)
	assert.ErrorIs(t, err, ErrRangeUnavailable)
}

func TestToValueSensitivityScenario(t *testing.T) {
	device := Continuous{Lower: 50, Upper: 6400}
	effective, err := Effective(device, Continuous{Lower: 100, Upper: 3200})
	require.NoError(t, err)
	assert.Equal(t, Continuous{Lower: 100, Upper: 3200}, effective)

	tests := []struct {
		position int
		want     float64
	}{
		{0, 100},
		{50, 1650},
		{100, 3200},
		{-20, 100},
		{150, 3200},
	}
	for _, tt := range tests {
		got, err := ToValue(effective, device, tt.position)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "position %d", tt.position)
	}
}

func TestToValueClampsIntoDevice(t *testing.T) {
	device := Continuous{Lower: 100, Upper: 1000}
	// An effective range that overshoots the device range must never leak out.
	effective := Continuous{Lower: 0, Upper: 2000}
	for p := 0; p <= 100; p++ {
		got, err := ToValue(effective, device, p)
		require.NoError(t, err)
		assert.True(t, device.Contains(got), "position %d gave %v", p, got)
	}
}

func TestToValueWideRangeDoesNotOverflow(t *testing.T) {
	r := Continuous{Lower: 0, Upper: math.MaxInt64}
	got, err := ToValue(r, r, 100)
	require.NoError(t, err)
	assert.Equal(t, float64(math.MaxInt64), got)

	got, err = ToValue(r, r, 50)
	require.NoError(t, err)
	assert.InDelta(t, float64(math.MaxInt64)/2, got, 1e6)
}

func TestToValueDiscrete(t *testing.T) {
	apertures := Discrete{Values: []float64{4, 1.8, 2.4, 2.8, 16}}

	first, err := ToValue(apertures, apertures, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.8, first)

	last, err := ToValue(apertures, apertures, 100)
	require.NoError(t, err)
	assert.Equal(t, 16.0, last)

	// 50/101*5 = 2.47 -> index 2
	mid, err := ToValue(apertures, apertures, 50)
	require.NoError(t, err)
	assert.Equal(t, 2.8, mid)

	single := Discrete{Values: []float64{2.0}}
	for _, p := range []int{0, 50, 100} {
		got, err := ToValue(single, single, p)
		require.NoError(t, err)
		assert.Equal(t, 2.0, got)
	}
}

func TestToValueMissingRange(t *testing.T) {
	_, err := ToValue(nil, Continuous{Lower: 0, Upper: 1}, 0)
	assert.ErrorIs(t, err, ErrRangeUnavailable)
	_, err = ToValue(Continuous{Lower: 0, Upper: 1}, nil, 0)
	assert.ErrorIs(t, err, ErrRangeUnavailable)
	_, err = ToValue(Continuous{Lower: 0, Upper: 1}, Discrete{Values: []float64{1}}, 0)
	assert.ErrorIs(t, err, ErrRangeUnavailable)
}

func TestToPosition(t *testing.T) {
	r := Continuous{Lower: 100, Upper: 3200}

	got, err := ToPosition(1650, r)
	require.NoError(t, err)
	assert.Equal(t, 50, got)

	got, err = ToPosition(3200, r)
	require.NoError(t, err)
	assert.Equal(t, 100, got)

	_, err = ToPosition(6400, r)
	assert.ErrorIs(t, err, ErrPositionOutOfRange)

	_, err = ToPosition(100, Continuous{Lower: 100, Upper: 100})
	assert.ErrorIs(t, err, ErrDegenerateRange)

	_, err = ToPosition(100, nil)
	assert.ErrorIs(t, err, ErrRangeUnavailable)
}

func TestToPositionDiscrete(t *testing.T) {
	apertures := Discrete{Values: []float64{4, 1.8, 2.8}}

	got, err := ToPosition(2.8, apertures)
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	_, err = ToPosition(2.0, apertures)
	assert.ErrorIs(t, err, ErrNoMatch)

	// Values projected through ToValue always round trip by equality.
	for p := 0; p <= 100; p += 10 {
		v, err := ToValue(apertures, apertures, p)
		require.NoError(t, err)
		_, err = ToPosition(v, apertures)
		assert.NoError(t, err)
	}
}

func TestRoundTrip(t *testing.T) {
	ranges := []Continuous{
		{Lower: 100, Upper: 3200},
		{Lower: 3000000, Upper: 50090000},
		{Lower: 0, Upper: 101},
		{Lower: -500, Upper: 500},
	}
	for _, r := range ranges {
		for p := 0; p <= 100; p++ {
			v, err := ToValue(r, r, p)
			require.NoError(t, err)
			back, err := ToPosition(v, r)
			require.NoError(t, err)
			assert.LessOrEqual(t, abs(back-p), 1, "range %s position %d value %v", r, p, v)
		}
	}
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(Continuous{Lower: 1, Upper: 2}, Continuous{Lower: 1, Upper: 2}))
	assert.False(t, Equal(Continuous{Lower: 1, Upper: 2}, Continuous{Lower: 1, Upper: 3}))
	assert.True(t, Equal(Discrete{Values: []float64{2.8, 1.8}}, Discrete{Values: []float64{1.8, 2.8}}))
	assert.False(t, Equal(Discrete{Values: []float64{1.8}}, Discrete{Values: []float64{1.8, 2.8}}))
	assert.False(t, Equal(Continuous{Lower: 1, Upper: 1}, Discrete{Values: []float64{1}}))
	assert.False(t, Equal(Continuous{}, nil))
	assert.True(t, Equal(nil, nil))
}
