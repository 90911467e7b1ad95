package analysis

import (
	"math"
	"strconv"
	"time"

	"allais-survey-service/internal/domain"
	"allais-survey-service/internal/quality"
	"allais-survey-service/internal/stats"
)

// Options tune the derived statistics of a report.
type Options struct {
	// AssumedEffectSize is the Cohen's h the power estimate is evaluated at.
	AssumedEffectSize float64
	// PowerThreshold is the valid N that must be exceeded before power is computed.
	PowerThreshold int
	Alpha          float64
	TargetPower    float64
	Confidence     float64
	// Legacy switches significance and power to the bucketed p-value and closed-form approximations.
	Legacy bool
	Now    func() time.Time
}

// DefaultOptions mirrors the study's monitoring setup.
func DefaultOptions() Options {
	return Options{
		AssumedEffectSize: 0.5,
		PowerThreshold:    10,
		Alpha:             stats.SignificanceLevel,
		TargetPower:       0.8,
		Confidence:        0.95,
		Now:               time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.AssumedEffectSize <= 0 {
		o.AssumedEffectSize = d.AssumedEffectSize
	}
	if o.PowerThreshold <= 0 {
		o.PowerThreshold = d.PowerThreshold
	}
	if !(o.Alpha > 0 && o.Alpha < 1) {
		o.Alpha = d.Alpha
	}
	if !(o.TargetPower > 0 && o.TargetPower < 1) {
		o.TargetPower = d.TargetPower
	}
	if !(o.Confidence > 0 && o.Confidence < 1) {
		o.Confidence = d.Confidence
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}

// Aggregate folds every stored response of an experiment into the dashboard report. Input is
// never modified; records with out-of-domain conditions still count in the quality metrics but
// land in no condition bucket.
func Aggregate(all []domain.StoredResponse, exp domain.Experiment, opts Options) domain.DashboardReport {
	opts = opts.withDefaults()
	valid := ValidResponses(all)

	report := domain.DashboardReport{
		Experiment:       exp,
		StatsByCondition: conditionBuckets(valid, opts.Confidence),
		EffectSizes: domain.EffectSizes{
			FontEffect: compare(valid, string(domain.FontEasy), string(domain.FontHard),
				func(r domain.StoredResponse) string { return string(r.FontCondition) }, opts),
			AttributionEffect: compare(valid, string(domain.AttributionPresent), string(domain.AttributionAbsent),
				func(r domain.StoredResponse) string { return string(r.AttributionCondition) }, opts),
		},
		PowerAnalysis:       powerReport(len(valid), exp.TargetSampleSize, opts),
		QualityMetrics:      qualityMetrics(all, len(valid)),
		FinancialSummary:    financialSummary(exp),
		CompletionTimeStats: stats.Describe(completionSeconds(valid)),
		Sequential:          SequentialAnalysis(valid, opts),
		BayesFactor:         EstimateBayesFactor(valid),
		LastUpdated:         opts.Now().UTC(),
	}
	return report
}

// ValidResponses keeps responses that passed every quality check.
func ValidResponses(all []domain.StoredResponse) []domain.StoredResponse {
	out := make([]domain.StoredResponse, 0, len(all))
	for _, r := range all {
		if r.Valid() {
			out = append(out, r)
		}
	}
	return out
}

// Summarize builds the overview row of an experiment.
func Summarize(exp domain.Experiment, all []domain.StoredResponse) domain.ExperimentSummary {
	validN := len(ValidResponses(all))
	s := domain.ExperimentSummary{
		Experiment:         exp,
		TotalResponses:     len(all),
		ValidResponses:     validN,
		ProgressPercentage: progress(validN, exp.TargetSampleSize),
	}
	if exp.Budget.Total > 0 {
		s.BudgetUtilization = int(math.Round(exp.Budget.Spent / exp.Budget.Total * 100))
	}
	return s
}

func patternOf(r domain.StoredResponse) domain.AllaisPattern {
	if r.AllaisPattern != "" {
		return r.AllaisPattern
	}
	return quality.AllaisPatternOf(r.Lottery1Choice, r.Lottery2Choice)
}

func isAllais(r domain.StoredResponse) bool {
	return patternOf(r) == domain.PatternAllais
}

func conditionBuckets(valid []domain.StoredResponse, confidence float64) map[string]domain.ConditionBucket {
	grouped := make(map[string][]domain.StoredResponse, len(domain.ConditionKeys))
	for _, r := range valid {
		key := domain.ConditionKey(r.FontCondition, r.AttributionCondition)
		grouped[key] = append(grouped[key], r)
	}

	out := make(map[string]domain.ConditionBucket, len(domain.ConditionKeys))
	for _, key := range domain.ConditionKeys {
		rs := grouped[key]
		dist := domain.NewChoiceDistribution()
		var totalMs int64
		allais := 0
		for _, r := range rs {
			if _, ok := dist.Lottery1[r.Lottery1Choice]; ok {
				dist.Lottery1[r.Lottery1Choice]++
			}
			if _, ok := dist.Lottery2[r.Lottery2Choice]; ok {
				dist.Lottery2[r.Lottery2Choice]++
			}
			p := patternOf(r)
			dist.AllaisPattern[p]++
			if p == domain.PatternAllais {
				allais++
			}
			totalMs += r.CompletionTimeMs
		}

		bucket := domain.ConditionBucket{
			SampleSize:         len(rs),
			ChoiceDistribution: dist,
			AllaisRateInterval: stats.ConfidenceInterval(allais, len(rs), confidence),
		}
		if len(rs) > 0 {
			bucket.AverageCompletionTime = int64(math.Round(float64(totalMs) / float64(len(rs)) / 1000))
		}
		out[key] = bucket
	}
	return out
}

// compare builds the Allais-rate comparison between two levels of a factor, or nil when either
// level has no valid responses.
func compare(valid []domain.StoredResponse, levelA, levelB string, level func(domain.StoredResponse) string, opts Options) *domain.EffectReport {
	var a, b []domain.StoredResponse
	for _, r := range valid {
		switch level(r) {
		case levelA:
			a = append(a, r)
		case levelB:
			b = append(b, r)
		}
	}
	if len(a) == 0 || len(b) == 0 {
		return nil
	}

	sig := stats.ChiSquareTest(a, b, isAllais)
	rateA := float64(sig.Contingency[0][0]) / float64(len(a))
	rateB := float64(sig.Contingency[1][0]) / float64(len(b))
	h, err := stats.CohenH(rateA, rateB)
	if err != nil {
		return nil
	}
	if opts.Legacy {
		sig.IsSignificant = sig.PValueBucket < opts.Alpha
	} else {
		sig.IsSignificant = sig.PValue < opts.Alpha
	}

	return &domain.EffectReport{
		GroupA:       levelA,
		GroupB:       levelB,
		RateA:        percent(rateA),
		RateB:        percent(rateB),
		CohensH:      h,
		Significance: sig,
	}
}

func powerReport(currentN, targetN int, opts Options) domain.PowerReport {
	pr := domain.PowerReport{
		CurrentN:           currentN,
		TargetN:            targetN,
		ProgressPercentage: progress(currentN, targetN),
	}
	if currentN > opts.PowerThreshold {
		pr.CurrentPower = currentPower(currentN, opts)
	}
	if required, err := requiredN(opts); err == nil {
		pr.RequiredN = required
	}
	return pr
}

func requiredN(opts Options) (int, error) {
	if opts.Legacy {
		return stats.RequiredSampleSizeLegacy(opts.AssumedEffectSize)
	}
	return stats.RequiredSampleSize(opts.AssumedEffectSize, opts.TargetPower, opts.Alpha)
}

func currentPower(n int, opts Options) float64 {
	if opts.Legacy {
		return stats.PowerApprox(n, opts.AssumedEffectSize)
	}
	return stats.Power(n, opts.AssumedEffectSize, opts.Alpha)
}

// progress is not clamped; over-enrollment reports more than 100.
func progress(current, target int) int {
	if target <= 0 {
		return 0
	}
	return int(math.Round(float64(current) / float64(target) * 100))
}

func qualityMetrics(all []domain.StoredResponse, validN int) domain.QualityMetrics {
	m := domain.QualityMetrics{
		TotalResponses:  len(all),
		ValidResponses:  validN,
		FailedResponses: len(all) - validN,
	}
	for _, r := range all {
		if !r.AttentionCheckPassed {
			m.AttentionCheckFailures++
		}
		if r.TimeOutOfBounds {
			m.TimeoutFailures++
		}
		m.DuplicateAttempts += r.DuplicateAttempts
	}
	return m
}

func financialSummary(exp domain.Experiment) domain.FinancialSummary {
	return domain.FinancialSummary{
		BudgetTotal:                 exp.Budget.Total,
		BudgetSpent:                 exp.Budget.Spent,
		BudgetRemaining:             exp.Budget.Total - exp.Budget.Spent,
		EstimatedCostPerParticipant: exp.Budget.RewardPerParticipant,
		ProjectedTotalCost:          exp.Budget.RewardPerParticipant * float64(exp.TargetSampleSize),
	}
}

func completionSeconds(rs []domain.StoredResponse) []float64 {
	out := make([]float64, len(rs))
	for i, r := range rs {
		out[i] = float64(r.CompletionTimeMs) / 1000
	}
	return out
}

func percent(rate float64) string {
	return strconv.FormatFloat(rate*100, 'f', 1, 64)
}
