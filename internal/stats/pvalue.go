package stats

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// criticalValue pairs a df=1 chi-square critical value with the p-value reported below it.
type criticalValue struct {
	chiSquare float64
	pValue    float64
}

// df1Buckets is the legacy df=1 lookup, ordered by critical value.
var df1Buckets = [...]criticalValue{
	{0.004, 0.95},
	{0.016, 0.90},
	{0.102, 0.75},
	{0.455, 0.50},
	{1.074, 0.30},
	{1.642, 0.20},
	{2.706, 0.10},
	{3.841, 0.05},
	{5.024, 0.025},
	{6.635, 0.01},
	{7.879, 0.005},
}

const floorPValue = 0.001

// PValueBucket maps a df=1 statistic onto the coarse table the first dashboard used. Kept for
// regression comparison; ChiSquarePValue is the value significance is decided on.
func PValueBucket(chiSquare float64) float64 {
	for _, b := range df1Buckets {
		if chiSquare < b.chiSquare {
			return b.pValue
		}
	}
	return floorPValue
}

// ChiSquarePValue returns the upper-tail probability of the chi-square distribution.
func ChiSquarePValue(chiSquare float64, df int) float64 {
	if df <= 0 || math.IsNaN(chiSquare) {
		return 1
	}
	if chiSquare <= 0 {
		return 1
	}
	dist := distuv.ChiSquared{K: float64(df)}
	return dist.Survival(chiSquare)
}
