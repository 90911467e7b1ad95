package domain

import (
	"encoding/json"
	"sort"
	"time"
)

// FontCondition is the fluency manipulation a participant saw.
type FontCondition string

const (
	FontEasy FontCondition = "easy"
	FontHard FontCondition = "hard"
)

// AttributionCondition is the attribution manipulation a participant saw.
type AttributionCondition string

const (
	AttributionPresent AttributionCondition = "present"
	AttributionAbsent  AttributionCondition = "absent"
)

// Lottery choices. Lottery 1 offers A/B, lottery 2 offers C/D.
const (
	ChoiceA = "A"
	ChoiceB = "B"
	ChoiceC = "C"
	ChoiceD = "D"
)

// AllaisPattern tags the combination of the two lottery choices.
type AllaisPattern string

const (
	PatternRiskAverse  AllaisPattern = "consistent_risk_averse"
	PatternRiskSeeking AllaisPattern = "consistent_risk_seeking"
	PatternAllais      AllaisPattern = "allais_paradox"
	PatternOther       AllaisPattern = "other_pattern"
)

// AllPatterns lists every pattern in reporting order.
var AllPatterns = []AllaisPattern{PatternRiskAverse, PatternRiskSeeking, PatternAllais, PatternOther}

// FailureReason is a quality-control failure tag.
type FailureReason string

const (
	ReasonAttentionCheck  FailureReason = "attention_check"
	ReasonTimeLimit       FailureReason = "time_limit"
	ReasonDuplicate       FailureReason = "duplicate"
	ReasonInvalidResponse FailureReason = "invalid_response"
	ReasonTechnicalError  FailureReason = "technical_error"
)

// FailureSet is a set of failure reasons. Adding a reason twice is a no-op.
type FailureSet map[FailureReason]struct{}

// NewFailureSet builds a set from the given reasons.
func NewFailureSet(reasons ...FailureReason) FailureSet {
	s := make(FailureSet, len(reasons))
	for _, r := range reasons {
		s.Add(r)
	}
	return s
}

func (s FailureSet) Add(r FailureReason) {
	s[r] = struct{}{}
}

func (s FailureSet) Has(r FailureReason) bool {
	_, ok := s[r]
	return ok
}

func (s FailureSet) Len() int { return len(s) }

// Sorted returns the reasons in lexical order for stable output.
func (s FailureSet) Sorted() []FailureReason {
	out := make([]FailureReason, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings is Sorted as plain strings (storage and wire format).
func (s FailureSet) Strings() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, r := range sorted {
		out[i] = string(r)
	}
	return out
}

func (s FailureSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

func (s *FailureSet) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	set := make(FailureSet, len(raw))
	for _, r := range raw {
		set.Add(FailureReason(r))
	}
	*s = set
	return nil
}

// ParticipantKey identifies one crowdsourcing assignment; at most one response may exist per key.
type ParticipantKey struct {
	WorkerID     string
	AssignmentID string
}

func (k ParticipantKey) String() string {
	return k.WorkerID + ":" + k.AssignmentID
}

// Submission is the raw payload posted by the survey client.
type Submission struct {
	ExperimentID         string               `json:"experimentId"`
	WorkerID             string               `json:"workerId" validate:"required"`
	AssignmentID         string               `json:"assignmentId" validate:"required"`
	HITID                string               `json:"hitId" validate:"required"`
	FontCondition        FontCondition        `json:"fontCondition" validate:"oneof=easy hard"`
	AttributionCondition AttributionCondition `json:"attributionCondition" validate:"omitempty,oneof=present absent"`
	Responses            SubmissionAnswers    `json:"responses"`
	Timing               SubmissionTiming     `json:"timing"`
	BrowserInfo          BrowserInfo          `json:"browserInfo"`
	IPAddress            string               `json:"-"`
}

// Key returns the deduplication key of the submission.
func (s Submission) Key() ParticipantKey {
	return ParticipantKey{WorkerID: s.WorkerID, AssignmentID: s.AssignmentID}
}

// SubmissionAnswers holds the page answers. Math is the attention-check answer in whatever form the
// client sent it (number or string); it is parsed, not validated.
type SubmissionAnswers struct {
	Lottery1     string          `json:"lottery1" validate:"oneof=A B"`
	Lottery2     string          `json:"lottery2" validate:"oneof=C D"`
	Math         json.RawMessage `json:"math"`
	Demographics map[string]any  `json:"-"`
}

// UnmarshalJSON keeps every answer that is not a core field as a demographic answer.
func (a *SubmissionAnswers) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = SubmissionAnswers{Demographics: map[string]any{}}
	for k, v := range raw {
		switch k {
		case "lottery1":
			if err := json.Unmarshal(v, &a.Lottery1); err != nil {
				return err
			}
		case "lottery2":
			if err := json.Unmarshal(v, &a.Lottery2); err != nil {
				return err
			}
		case "math":
			a.Math = v
		default:
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return err
			}
			a.Demographics[k] = val
		}
	}
	return nil
}

// SubmissionTiming is the client-measured session window.
type SubmissionTiming struct {
	StartTime  time.Time `json:"startTime" validate:"required"`
	EndTime    time.Time `json:"endTime" validate:"required"`
	DurationMs *int64    `json:"durationMs"`
}

// BrowserInfo is informational only.
type BrowserInfo struct {
	UserAgent        string `json:"userAgent,omitempty"`
	Language         string `json:"language,omitempty"`
	Platform         string `json:"platform,omitempty"`
	ScreenResolution string `json:"screenResolution,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
}

// ClassifiedResponse is a submission plus the derived quality fields. It is never mutated once built.
type ClassifiedResponse struct {
	ExperimentID         string
	WorkerID             string
	AssignmentID         string
	HITID                string
	FontCondition        FontCondition
	AttributionCondition AttributionCondition
	Lottery1Choice       string
	Lottery2Choice       string
	AttentionCheckAnswer *int
	StartTime            time.Time
	EndTime              time.Time
	CompletionTimeMs     int64
	Demographics         map[string]any
	BrowserInfo          BrowserInfo
	IPAddress            string

	AttentionCheckPassed bool
	TimeOutOfBounds      bool
	FailureReasons       FailureSet
	AllaisPattern        AllaisPattern
}

// Failed is true iff at least one failure reason was recorded.
func (r ClassifiedResponse) Failed() bool {
	return r.FailureReasons.Len() > 0
}

// Valid reports whether the response counts towards statistics.
func (r ClassifiedResponse) Valid() bool {
	return !r.Failed() && r.AttentionCheckPassed
}

func (r ClassifiedResponse) Key() ParticipantKey {
	return ParticipantKey{WorkerID: r.WorkerID, AssignmentID: r.AssignmentID}
}

// StoredResponse is a classified response as persisted.
type StoredResponse struct {
	ClassifiedResponse
	ID                string
	CompletionCode    string
	DuplicateAttempts int
	CreatedAt         time.Time
}

// ExperimentStatus is the lifecycle state of an experiment.
type ExperimentStatus string

const (
	StatusDraft     ExperimentStatus = "draft"
	StatusActive    ExperimentStatus = "active"
	StatusPaused    ExperimentStatus = "paused"
	StatusCompleted ExperimentStatus = "completed"
	StatusArchived  ExperimentStatus = "archived"
)

// ValidStatus reports whether s is a known lifecycle state.
func ValidStatus(s ExperimentStatus) bool {
	switch s {
	case StatusDraft, StatusActive, StatusPaused, StatusCompleted, StatusArchived:
		return true
	}
	return false
}

// Budget tracks the money side of an experiment.
type Budget struct {
	Total                float64 `json:"total"`
	Spent                float64 `json:"spent"`
	RewardPerParticipant float64 `json:"rewardPerParticipant"`
	EstimatedFees        float64 `json:"estimatedFees"`
}

// QualityControls are the per-experiment classification thresholds. Zero values fall back to defaults.
type QualityControls struct {
	TimeLimitMs            int64 `json:"timeLimit"`
	MinimumCompletionMs    int64 `json:"minimumCompletionTime"`
	AttentionCheckRequired bool  `json:"attentionCheckRequired"`
	AttentionCheckAnswer   int   `json:"attentionCheckAnswer"`
}

// Experiment is the researcher-side configuration of a study.
type Experiment struct {
	ID               string           `json:"experimentId"`
	Title            string           `json:"title"`
	Description      string           `json:"description,omitempty"`
	Version          string           `json:"version"`
	Status           ExperimentStatus `json:"status"`
	TargetSampleSize int              `json:"targetSampleSize"`
	Budget           Budget           `json:"budget"`
	QualityControls  QualityControls  `json:"qualityControls"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// SubmissionResult is returned to the survey client.
type SubmissionResult struct {
	CompletionCode string   `json:"completionCode"`
	Failed         bool     `json:"failed"`
	FailureReasons []string `json:"failureReasons"`
	Duplicate      bool     `json:"duplicate,omitempty"`
	Message        string   `json:"message"`
}

// Participation answers the "has this worker taken part" query.
type Participation struct {
	HasParticipated   bool       `json:"hasParticipated"`
	ParticipationDate *time.Time `json:"participationDate,omitempty"`
	CompletionCode    string     `json:"completionCode,omitempty"`
}
