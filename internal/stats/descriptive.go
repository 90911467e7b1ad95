package stats

import (
	"math"
	"sort"

	"allais-survey-service/internal/domain"
	mstats "github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"
)

// ConfidenceInterval returns the Wald interval for successes/total, clamped to [0, 1].
func ConfidenceInterval(successes, total int, confidence float64) domain.Interval {
	if total <= 0 || !(confidence > 0 && confidence < 1) {
		return domain.Interval{}
	}
	p := float64(successes) / float64(total)
	z := distuv.UnitNormal.Quantile(1 - (1-confidence)/2)
	margin := z * math.Sqrt(p*(1-p)/float64(total))
	return domain.Interval{
		Lower:      math.Max(0, p-margin),
		Upper:      math.Min(1, p+margin),
		Proportion: p,
	}
}

// Describe summarizes values. The standard deviation is the sample (n-1) estimate. Quartiles take
// the element at floor(n*p) of the sorted values, so Describe([1 2 3 4]) has q25=2 and q75=4.
// An empty input returns the zero summary.
func Describe(values []float64) domain.Descriptive {
	if len(values) == 0 {
		return domain.Descriptive{}
	}
	data := mstats.Float64Data(values)

	mean, _ := mstats.Mean(data)
	median, _ := mstats.Median(data)
	lo, _ := mstats.Min(data)
	hi, _ := mstats.Max(data)
	sorted := append(mstats.Float64Data(nil), data...)
	sort.Float64s(sorted)

	std := 0.0
	if len(values) > 1 {
		std, _ = mstats.StandardDeviationSample(data)
	}

	return domain.Descriptive{
		Count:  len(values),
		Mean:   round2(mean),
		Median: round2(median),
		Std:    round2(std),
		Min:    lo,
		Max:    hi,
		Q25:    sorted[int(math.Floor(float64(len(sorted))*0.25))],
		Q75:    sorted[int(math.Floor(float64(len(sorted))*0.75))],
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
