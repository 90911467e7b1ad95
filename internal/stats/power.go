package stats

import (
	"math"

	"allais-survey-service/internal/domain"
	"gonum.org/v1/gonum/stat/distuv"
)

// Fixed z-scores of the legacy calculations: two-tailed alpha 0.05 and 80% power.
const (
	legacyZAlpha = 1.96
	legacyZBeta  = 0.84
)

// Power returns the power of a two-proportion comparison with n total participants
// split evenly across two arms, for Cohen's h effect and two-tailed alpha.
func Power(n int, effect, alpha float64) float64 {
	if n <= 0 || !(alpha > 0 && alpha < 1) {
		return 0
	}
	zAlpha := distuv.UnitNormal.Quantile(1 - alpha/2)
	zBeta := effect*math.Sqrt(float64(n)/2) - zAlpha
	return clamp01(distuv.UnitNormal.CDF(zBeta))
}

// PowerApprox is the closed-form approximation used by the first dashboard, with alpha fixed at 0.05:
// Phi(z) ~ 0.5(1 + sign(z) sqrt(1 - exp(-2z^2/pi))).
func PowerApprox(n int, effect float64) float64 {
	if n <= 0 {
		return 0
	}
	zBeta := effect*math.Sqrt(float64(n)/2) - legacyZAlpha
	return clamp01(approxNormalCDF(zBeta))
}

func approxNormalCDF(z float64) float64 {
	sign := 0.0
	switch {
	case z > 0:
		sign = 1
	case z < 0:
		sign = -1
	}
	return 0.5 * (1 + sign*math.Sqrt(1-math.Exp(-2*z*z/math.Pi)))
}

// RequiredSampleSize returns the total N (both arms) needed to detect effect with the given
// power at two-tailed alpha.
func RequiredSampleSize(effect, power, alpha float64) (int, error) {
	if !(effect > 0) || math.IsInf(effect, 0) {
		return 0, domain.ErrInvalidEffectSize
	}
	if !(power > 0 && power < 1) || !(alpha > 0 && alpha < 1) {
		return 0, domain.ErrProportionOutOfRange
	}
	zAlpha := distuv.UnitNormal.Quantile(1 - alpha/2)
	zBeta := distuv.UnitNormal.Quantile(power)
	return sampleSize(effect, zAlpha, zBeta), nil
}

// RequiredSampleSizeLegacy only supports the canonical 80% power / alpha 0.05 configuration.
func RequiredSampleSizeLegacy(effect float64) (int, error) {
	if !(effect > 0) || math.IsInf(effect, 0) {
		return 0, domain.ErrInvalidEffectSize
	}
	return sampleSize(effect, legacyZAlpha, legacyZBeta), nil
}

func sampleSize(effect, zAlpha, zBeta float64) int {
	ratio := (zAlpha + zBeta) / effect
	return int(math.Ceil(2 * ratio * ratio))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
