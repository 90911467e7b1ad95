package analysis

import (
	"math"
	"strconv"

	"allais-survey-service/internal/domain"
	"allais-survey-service/internal/stats"
)

const (
	minSequentialArm = 10
	minBayesArm      = 5
)

// SequentialAnalysis recommends whether data collection can stop early, using the font comparison.
// Alpha is divided by ln(N) to account for repeated looks.
func SequentialAnalysis(valid []domain.StoredResponse, opts Options) domain.SequentialDecision {
	opts = opts.withDefaults()
	n := len(valid)
	easy, hard := splitFont(valid)
	if len(easy) < minSequentialArm || len(hard) < minSequentialArm {
		return domain.SequentialDecision{
			Reason:         "Insufficient data for analysis",
			CurrentN:       n,
			Recommendation: "Continue data collection",
		}
	}

	test := stats.ChiSquareTest(easy, hard, isAllais)
	p := test.PValue
	if opts.Legacy {
		p = test.PValueBucket
	}
	power := currentPower(n, opts)
	adjustedAlpha := opts.Alpha / math.Log(float64(n))

	switch {
	case p < adjustedAlpha:
		return domain.SequentialDecision{
			ShouldStop:     true,
			Reason:         "Significant effect detected",
			CurrentN:       n,
			PValue:         &p,
			Recommendation: "Stop data collection - significant results obtained",
		}
	case power >= opts.TargetPower && p > 0.5:
		return domain.SequentialDecision{
			ShouldStop:     true,
			Reason:         "Sufficient power reached with no effect",
			CurrentN:       n,
			PValue:         &p,
			CurrentPower:   &power,
			Recommendation: "Stop data collection - adequate power for null result",
		}
	}

	rec := "Continue data collection"
	if required, err := requiredN(opts); err == nil {
		rec = "Continue until N = " + strconv.Itoa(required)
	}
	return domain.SequentialDecision{
		Reason:         "Continue data collection",
		CurrentN:       n,
		PValue:         &p,
		CurrentPower:   &power,
		Recommendation: rec,
	}
}

// EstimateBayesFactor buckets the absolute Allais-rate difference between font arms into a rough BF10.
// It is a monitoring heuristic, not a model-based Bayes factor.
func EstimateBayesFactor(valid []domain.StoredResponse) domain.BayesFactor {
	easy, hard := splitFont(valid)
	if len(easy) < minBayesArm || len(hard) < minBayesArm {
		return domain.BayesFactor{Interpretation: "Need more data"}
	}
	diff := math.Abs(allaisRate(easy) - allaisRate(hard))

	var bf float64
	switch {
	case diff < 0.05:
		bf = 0.1
	case diff < 0.1:
		bf = 0.3
	case diff < 0.2:
		bf = 1
	case diff < 0.3:
		bf = 3
	default:
		bf = 10
	}

	var interpretation string
	switch {
	case bf < 0.33:
		interpretation = "Evidence for null hypothesis"
	case bf < 3:
		interpretation = "Inconclusive evidence"
	case bf < 10:
		interpretation = "Moderate evidence for effect"
	default:
		interpretation = "Strong evidence for effect"
	}

	return domain.BayesFactor{
		Sufficient:     true,
		BF10:           bf,
		Interpretation: interpretation,
		RateDifference: math.Round(diff*1000) / 1000,
	}
}

func splitFont(rs []domain.StoredResponse) (easy, hard []domain.StoredResponse) {
	for _, r := range rs {
		switch r.FontCondition {
		case domain.FontEasy:
			easy = append(easy, r)
		case domain.FontHard:
			hard = append(hard, r)
		}
	}
	return easy, hard
}

func allaisRate(rs []domain.StoredResponse) float64 {
	if len(rs) == 0 {
		return 0
	}
	n := 0
	for _, r := range rs {
		if isAllais(r) {
			n++
		}
	}
	return float64(n) / float64(len(rs))
}
