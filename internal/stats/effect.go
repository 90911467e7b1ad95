package stats

import (
	"math"

	"allais-survey-service/internal/domain"
)

// SignificanceLevel is the alpha used for the significance flag.
const SignificanceLevel = 0.05

// CohenH returns the absolute Cohen's h between two proportions.
func CohenH(p1, p2 float64) (float64, error) {
	if !inUnit(p1) || !inUnit(p2) {
		return 0, domain.ErrProportionOutOfRange
	}
	phi1 := 2 * math.Asin(math.Sqrt(p1))
	phi2 := 2 * math.Asin(math.Sqrt(p2))
	return math.Abs(phi1 - phi2), nil
}

func inUnit(p float64) bool {
	return !math.IsNaN(p) && p >= 0 && p <= 1
}

// ChiSquareTest builds the 2x2 table outcome x group from two samples and runs an uncorrected
// chi-square test of independence.
func ChiSquareTest[T any](groupA, groupB []T, outcome func(T) bool) domain.ChiSquareResult {
	return ChiSquareCounts(countIf(groupA, outcome), len(groupA), countIf(groupB, outcome), len(groupB))
}

// ChiSquareCounts runs the test from raw counts. Either group being empty yields an
// insufficient-data result.
//
// Cells with zero expected frequency are skipped rather than dividing by zero; on very sparse
// tables the statistic is therefore understated.
func ChiSquareCounts(aSuccess, aTotal, bSuccess, bTotal int) domain.ChiSquareResult {
	res := domain.ChiSquareResult{DF: 1}
	if aTotal <= 0 || bTotal <= 0 {
		res.InsufficientData = true
		res.PValue = 1
		res.PValueBucket = 1
		return res
	}

	observed := [2][2]int{
		{aSuccess, aTotal - aSuccess},
		{bSuccess, bTotal - bSuccess},
	}
	rowTotals := [2]float64{float64(aTotal), float64(bTotal)}
	colTotals := [2]float64{
		float64(observed[0][0] + observed[1][0]),
		float64(observed[0][1] + observed[1][1]),
	}
	grand := rowTotals[0] + rowTotals[1]

	var expected [2][2]float64
	chi := 0.0
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			expected[i][j] = rowTotals[i] * colTotals[j] / grand
			if expected[i][j] > 0 {
				d := float64(observed[i][j]) - expected[i][j]
				chi += d * d / expected[i][j]
			}
		}
	}

	res.ChiSquare = chi
	res.PValue = ChiSquarePValue(chi, res.DF)
	res.PValueBucket = PValueBucket(chi)
	res.IsSignificant = res.PValue < SignificanceLevel
	res.Contingency = observed
	res.Expected = expected
	return res
}

func countIf[T any](items []T, pred func(T) bool) int {
	n := 0
	for _, it := range items {
		if pred(it) {
			n++
		}
	}
	return n
}
