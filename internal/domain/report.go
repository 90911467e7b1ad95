package domain

import (
	"encoding/json"
	"time"
)

// ConditionKey names one cell of the font x attribution design, e.g. "easyFont_present".
func ConditionKey(font FontCondition, attribution AttributionCondition) string {
	return string(font) + "Font_" + string(attribution)
}

// ConditionKeys lists the four design cells in reporting order.
var ConditionKeys = []string{
	ConditionKey(FontEasy, AttributionPresent),
	ConditionKey(FontEasy, AttributionAbsent),
	ConditionKey(FontHard, AttributionPresent),
	ConditionKey(FontHard, AttributionAbsent),
}

// ChoiceDistribution tallies choices and patterns inside one condition.
type ChoiceDistribution struct {
	Lottery1      map[string]int        `json:"lottery1"`
	Lottery2      map[string]int        `json:"lottery2"`
	AllaisPattern map[AllaisPattern]int `json:"allaisPattern"`
}

// NewChoiceDistribution returns a distribution with every bucket present at zero.
func NewChoiceDistribution() ChoiceDistribution {
	d := ChoiceDistribution{
		Lottery1:      map[string]int{ChoiceA: 0, ChoiceB: 0},
		Lottery2:      map[string]int{ChoiceC: 0, ChoiceD: 0},
		AllaisPattern: make(map[AllaisPattern]int, len(AllPatterns)),
	}
	for _, p := range AllPatterns {
		d.AllaisPattern[p] = 0
	}
	return d
}

// Interval is a proportion with its confidence bounds.
type Interval struct {
	Lower      float64 `json:"lower"`
	Upper      float64 `json:"upper"`
	Proportion float64 `json:"proportion"`
}

// ConditionBucket is the derived view of valid responses in one design cell.
type ConditionBucket struct {
	SampleSize            int                `json:"sampleSize"`
	ChoiceDistribution    ChoiceDistribution `json:"choiceDistribution"`
	AverageCompletionTime int64              `json:"averageCompletionTime"`
	AllaisRateInterval    Interval           `json:"allaisRateInterval"`
}

// ChiSquareResult is the outcome of a 2x2 independence test.
type ChiSquareResult struct {
	InsufficientData bool          `json:"insufficientData,omitempty"`
	ChiSquare        float64       `json:"chiSquare"`
	DF               int           `json:"df"`
	PValue           float64       `json:"pValue"`
	PValueBucket     float64       `json:"pValueBucket"`
	IsSignificant    bool          `json:"isSignificant"`
	Contingency      [2][2]int     `json:"contingencyTable"`
	Expected         [2][2]float64 `json:"expectedTable"`
}

// EffectReport compares the Allais rate between two groups. Rates are percentages with one decimal.
type EffectReport struct {
	GroupA       string
	GroupB       string
	RateA        string
	RateB        string
	CohensH      float64
	Significance ChiSquareResult
}

// MarshalJSON names the rates after their groups, e.g. easyAllaisRate / hardAllaisRate.
func (e EffectReport) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		e.GroupA + "AllaisRate": e.RateA,
		e.GroupB + "AllaisRate": e.RateB,
		"cohensH":               e.CohensH,
		"significance":          e.Significance,
	})
}

// EffectSizes holds the two planned comparisons; a comparison is nil when a side has no data.
type EffectSizes struct {
	FontEffect        *EffectReport `json:"fontEffect,omitempty"`
	AttributionEffect *EffectReport `json:"attributionEffect,omitempty"`
}

// PowerReport tracks enrollment against target.
type PowerReport struct {
	CurrentN           int     `json:"currentN"`
	TargetN            int     `json:"targetN"`
	CurrentPower       float64 `json:"currentPower"`
	RequiredN          int     `json:"requiredN"`
	ProgressPercentage int     `json:"progressPercentage"`
}

// QualityMetrics counts response outcomes across the whole experiment.
type QualityMetrics struct {
	TotalResponses         int `json:"totalResponses"`
	ValidResponses         int `json:"validResponses"`
	FailedResponses        int `json:"failedResponses"`
	AttentionCheckFailures int `json:"attentionCheckFailures"`
	TimeoutFailures        int `json:"timeoutFailures"`
	DuplicateAttempts      int `json:"duplicateAttempts"`
}

// FinancialSummary is a pass-through of the experiment budget.
type FinancialSummary struct {
	BudgetTotal                 float64 `json:"budgetTotal"`
	BudgetSpent                 float64 `json:"budgetSpent"`
	BudgetRemaining             float64 `json:"budgetRemaining"`
	EstimatedCostPerParticipant float64 `json:"estimatedCostPerParticipant"`
	ProjectedTotalCost          float64 `json:"projectedTotalCost"`
}

// Descriptive summarizes a numeric sample.
type Descriptive struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Q25    float64 `json:"q25"`
	Q75    float64 `json:"q75"`
}

// SequentialDecision is an early-stopping recommendation.
type SequentialDecision struct {
	ShouldStop     bool     `json:"shouldStop"`
	Reason         string   `json:"reason"`
	CurrentN       int      `json:"currentN"`
	PValue         *float64 `json:"pValue,omitempty"`
	CurrentPower   *float64 `json:"currentPower,omitempty"`
	Recommendation string   `json:"recommendation"`
}

// BayesFactor is a coarse evidence summary for the font effect.
type BayesFactor struct {
	Sufficient     bool    `json:"sufficient"`
	BF10           float64 `json:"bf10"`
	Interpretation string  `json:"interpretation"`
	RateDifference float64 `json:"rateDifference"`
}

// DashboardReport is the researcher-facing statistics payload.
type DashboardReport struct {
	Experiment          Experiment                 `json:"experimentControl"`
	StatsByCondition    map[string]ConditionBucket `json:"statsByCondition"`
	EffectSizes         EffectSizes                `json:"effectSizes"`
	PowerAnalysis       PowerReport                `json:"powerAnalysis"`
	QualityMetrics      QualityMetrics             `json:"qualityMetrics"`
	FinancialSummary    FinancialSummary           `json:"financialSummary"`
	CompletionTimeStats Descriptive                `json:"completionTimeStats"`
	Sequential          SequentialDecision         `json:"sequential"`
	BayesFactor         BayesFactor                `json:"bayesFactor"`
	LastUpdated         time.Time                  `json:"lastUpdated"`
}

// ExperimentSummary is one row of the experiments overview.
type ExperimentSummary struct {
	Experiment
	TotalResponses     int   `json:"totalResponses"`
	ValidResponses     int   `json:"validResponses"`
	ProgressPercentage int   `json:"completionPercentage"`
	BudgetUtilization  int   `json:"budgetUtilization"`
	LiveDashboards     int64 `json:"liveDashboards"`
}
