package stats

import (
	"math"
	"testing"

	"allais-survey-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCohenH(t *testing.T) {
	h, err := CohenH(0.5, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.0, h)

	h, err = CohenH(0, 1)
	require.NoError(t, err)
	assert.InDelta(t, math.Pi, h, 1e-12)

	h, err = CohenH(0.6, 0.2)
	require.NoError(t, err)
	assert.InDelta(t, 0.844859, h, 1e-5)

	// symmetric
	h2, err := CohenH(0.2, 0.6)
	require.NoError(t, err)
	assert.Equal(t, h, h2)
}

func TestCohenHRejectsOutOfRange(t *testing.T) {
	for _, p := range [][2]float64{{-0.1, 0.5}, {0.5, 1.01}, {math.NaN(), 0.5}} {
		_, err := CohenH(p[0], p[1])
		assert.ErrorIs(t, err, domain.ErrProportionOutOfRange, "p=%v", p)
	}
}

func TestChiSquareIdenticalGroups(t *testing.T) {
	group := []bool{true, true, true, false, false, false, false, false, false, false}
	res := ChiSquareTest(group, group, func(b bool) bool { return b })

	assert.False(t, res.InsufficientData)
	assert.InDelta(t, 0, res.ChiSquare, 1e-12)
	assert.Equal(t, 0.95, res.PValueBucket)
	assert.Equal(t, 1.0, res.PValue)
	assert.False(t, res.IsSignificant)
	assert.Equal(t, 1, res.DF)
}

func TestChiSquareEmptyGroup(t *testing.T) {
	res := ChiSquareTest([]bool{true, false}, nil, func(b bool) bool { return b })
	assert.True(t, res.InsufficientData)
	assert.False(t, res.IsSignificant)
	assert.False(t, math.IsNaN(res.ChiSquare))
	assert.False(t, math.IsNaN(res.PValue))

	res = ChiSquareCounts(0, 0, 0, 0)
	assert.True(t, res.InsufficientData)
}

func TestChiSquareKnownTable(t *testing.T) {
	res := ChiSquareCounts(6, 10, 2, 10)

	assert.Equal(t, [2][2]int{{6, 4}, {2, 8}}, res.Contingency)
	assert.InDelta(t, 4.0, res.Expected[0][0], 1e-12)
	assert.InDelta(t, 6.0, res.Expected[1][1], 1e-12)
	assert.InDelta(t, 10.0/3.0, res.ChiSquare, 1e-9)
	assert.Equal(t, 0.05, res.PValueBucket)
	assert.InDelta(t, 0.0679, res.PValue, 1e-3)
	assert.False(t, res.IsSignificant)
}

func TestChiSquareZeroExpectedCellsSkipped(t *testing.T) {
	// Nobody shows the outcome: the success column has zero expected frequency.
	res := ChiSquareCounts(0, 5, 0, 7)
	assert.False(t, res.InsufficientData)
	assert.Equal(t, 0.0, res.ChiSquare)
	assert.False(t, math.IsNaN(res.PValue))
}

func TestPValueBucket(t *testing.T) {
	cases := []struct {
		chi  float64
		want float64
	}{
		{0, 0.95},
		{0.01, 0.90},
		{0.5, 0.30},
		{3.0, 0.05},
		{3.9, 0.025},
		{7.0, 0.005},
		{10, 0.001},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, PValueBucket(tc.chi), "chi=%v", tc.chi)
	}
}

func TestChiSquarePValueMatchesCriticalValues(t *testing.T) {
	assert.InDelta(t, 0.05, ChiSquarePValue(3.841, 1), 1e-3)
	assert.InDelta(t, 0.01, ChiSquarePValue(6.635, 1), 1e-3)
	assert.Equal(t, 1.0, ChiSquarePValue(0, 1))
	assert.Equal(t, 1.0, ChiSquarePValue(5, 0))
}

func TestPowerZeroN(t *testing.T) {
	assert.Equal(t, 0.0, Power(0, 0.5, 0.05))
	assert.Equal(t, 0.0, PowerApprox(0, 0.5))
}

func TestPowerMonotonicInN(t *testing.T) {
	prevExact, prevApprox := 0.0, 0.0
	for n := 1; n <= 400; n++ {
		exact := Power(n, 0.3, 0.05)
		approx := PowerApprox(n, 0.3)
		require.GreaterOrEqual(t, exact, prevExact, "exact n=%d", n)
		require.GreaterOrEqual(t, approx, prevApprox, "approx n=%d", n)
		require.LessOrEqual(t, exact, 1.0)
		prevExact, prevApprox = exact, approx
	}
}

func TestPowerKnownValue(t *testing.T) {
	// 0.5*sqrt(32) - 1.96 = 0.868
	assert.InDelta(t, 0.807, Power(64, 0.5, 0.05), 5e-3)
	assert.InDelta(t, 0.807, PowerApprox(64, 0.5), 1e-2)
}

func TestRequiredSampleSize(t *testing.T) {
	n, err := RequiredSampleSizeLegacy(0.5)
	require.NoError(t, err)
	assert.Equal(t, 63, n)

	n, err = RequiredSampleSize(0.5, 0.8, 0.05)
	require.NoError(t, err)
	assert.Equal(t, 63, n)

	higher, err := RequiredSampleSize(0.5, 0.9, 0.05)
	require.NoError(t, err)
	assert.Greater(t, higher, n)

	_, err = RequiredSampleSize(0, 0.8, 0.05)
	assert.ErrorIs(t, err, domain.ErrInvalidEffectSize)
	_, err = RequiredSampleSizeLegacy(-1)
	assert.ErrorIs(t, err, domain.ErrInvalidEffectSize)
	_, err = RequiredSampleSize(0.5, 1.2, 0.05)
	assert.Error(t, err)
}

func TestConfidenceInterval(t *testing.T) {
	ci := ConfidenceInterval(5, 10, 0.95)
	assert.InDelta(t, 0.5, ci.Proportion, 1e-12)
	assert.InDelta(t, 0.1901, ci.Lower, 1e-3)
	assert.InDelta(t, 0.8099, ci.Upper, 1e-3)

	ci = ConfidenceInterval(10, 10, 0.95)
	assert.Equal(t, 1.0, ci.Upper)

	assert.Equal(t, domain.Interval{}, ConfidenceInterval(0, 0, 0.95))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, domain.Descriptive{}, Describe(nil))

	d := Describe([]float64{4, 1, 3, 2})
	assert.Equal(t, 4, d.Count)
	assert.Equal(t, 2.5, d.Mean)
	assert.Equal(t, 2.5, d.Median)
	assert.Equal(t, 1.29, d.Std)
	assert.Equal(t, 1.0, d.Min)
	assert.Equal(t, 4.0, d.Max)
	assert.Equal(t, 2.0, d.Q25)
	assert.Equal(t, 4.0, d.Q75)

	odd := Describe([]float64{9, 1, 5, 3, 7})
	assert.Equal(t, 3.0, odd.Q25)
	assert.Equal(t, 7.0, odd.Q75)

	single := Describe([]float64{7})
	assert.Equal(t, 0.0, single.Std)
	assert.Equal(t, 7.0, single.Q25)
	assert.Equal(t, 7.0, single.Q75)
}
