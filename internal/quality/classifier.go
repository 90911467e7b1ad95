package quality

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"allais-survey-service/internal/domain"
)

// Defaults applied when an experiment leaves a quality control unset.
const (
	DefaultAttentionAnswer     = 42
	DefaultMinCompletionMs     = 300_000
	DefaultMaxCompletionMs     = 3_600_000
	PreviewAssignmentID        = "ASSIGNMENT_ID_NOT_AVAILABLE"
	defaultAttributionFallback = domain.AttributionAbsent
)

// Rules are the thresholds a Classifier applies.
type Rules struct {
	AttentionAnswer int
	MinCompletionMs int64
	MaxCompletionMs int64
}

// DefaultRules returns the canonical study thresholds.
func DefaultRules() Rules {
	return Rules{
		AttentionAnswer: DefaultAttentionAnswer,
		MinCompletionMs: DefaultMinCompletionMs,
		MaxCompletionMs: DefaultMaxCompletionMs,
	}
}

// RulesFor derives rules from an experiment's quality controls, falling back to defaults per field.
func RulesFor(qc domain.QualityControls) Rules {
	r := DefaultRules()
	if qc.AttentionCheckAnswer != 0 {
		r.AttentionAnswer = qc.AttentionCheckAnswer
	}
	if qc.MinimumCompletionMs > 0 {
		r.MinCompletionMs = qc.MinimumCompletionMs
	}
	if qc.TimeLimitMs > 0 {
		r.MaxCompletionMs = qc.TimeLimitMs
	}
	return r
}

// Verdict is the result of classifying a submission. When Duplicate is set the submission must not
// be stored and the caller answers with the original's completion code.
type Verdict struct {
	Duplicate *domain.StoredResponse
	Response  domain.ClassifiedResponse
	Timing    TimingVerdict
}

// TimingVerdict keeps the direction of a timing failure for client messaging; storage only
// records time_limit.
type TimingVerdict struct {
	TooFast bool
	TooSlow bool
}

func (t TimingVerdict) OutOfBounds() bool { return t.TooFast || t.TooSlow }

// Classifier applies quality-control rules to submissions.
type Classifier struct {
	rules Rules
}

func NewClassifier(rules Rules) *Classifier {
	return &Classifier{rules: rules}
}

// Classify evaluates sub against the rules. prior holds the responses already stored for the same
// participant key; any match short-circuits with a duplicate verdict.
func (c *Classifier) Classify(sub domain.Submission, prior []domain.StoredResponse) Verdict {
	key := sub.Key()
	for i := range prior {
		if prior[i].Key() == key {
			dup := prior[i]
			return Verdict{Duplicate: &dup}
		}
	}

	reasons := domain.NewFailureSet()

	answer, parsed := ParseAttentionAnswer(sub.Responses.Math)
	var answerPtr *int
	if parsed {
		answerPtr = &answer
	}
	attentionPassed := parsed && answer == c.rules.AttentionAnswer
	if !attentionPassed {
		reasons.Add(domain.ReasonAttentionCheck)
	}

	completionMs, consistent := CompletionTime(sub.Timing)
	if !consistent {
		reasons.Add(domain.ReasonTechnicalError)
	}
	timing := c.Timing(completionMs)
	if timing.OutOfBounds() {
		reasons.Add(domain.ReasonTimeLimit)
	}

	if sub.AssignmentID == PreviewAssignmentID {
		reasons.Add(domain.ReasonInvalidResponse)
	}

	attribution := sub.AttributionCondition
	if attribution == "" {
		attribution = defaultAttributionFallback
	}

	return Verdict{
		Timing: timing,
		Response: domain.ClassifiedResponse{
			ExperimentID:         sub.ExperimentID,
			WorkerID:             strings.TrimSpace(sub.WorkerID),
			AssignmentID:         strings.TrimSpace(sub.AssignmentID),
			HITID:                strings.TrimSpace(sub.HITID),
			FontCondition:        sub.FontCondition,
			AttributionCondition: attribution,
			Lottery1Choice:       sub.Responses.Lottery1,
			Lottery2Choice:       sub.Responses.Lottery2,
			AttentionCheckAnswer: answerPtr,
			StartTime:            sub.Timing.StartTime,
			EndTime:              sub.Timing.EndTime,
			CompletionTimeMs:     completionMs,
			Demographics:         sub.Responses.Demographics,
			BrowserInfo:          sub.BrowserInfo,
			IPAddress:            sub.IPAddress,
			AttentionCheckPassed: attentionPassed,
			TimeOutOfBounds:      timing.OutOfBounds(),
			FailureReasons:       reasons,
			AllaisPattern:        AllaisPatternOf(sub.Responses.Lottery1, sub.Responses.Lottery2),
		},
	}
}

// Timing checks ms against the bounds. Both bounds are inclusive.
func (c *Classifier) Timing(ms int64) TimingVerdict {
	return TimingVerdict{
		TooFast: ms < c.rules.MinCompletionMs,
		TooSlow: ms > c.rules.MaxCompletionMs,
	}
}

// AttentionPassed reports whether raw parses to the expected answer.
func (c *Classifier) AttentionPassed(raw json.RawMessage) bool {
	v, ok := ParseAttentionAnswer(raw)
	return ok && v == c.rules.AttentionAnswer
}

// AllaisPatternOf maps the two lottery choices onto a pattern.
func AllaisPatternOf(lottery1, lottery2 string) domain.AllaisPattern {
	switch {
	case lottery1 == domain.ChoiceA && lottery2 == domain.ChoiceC:
		return domain.PatternRiskAverse
	case lottery1 == domain.ChoiceB && lottery2 == domain.ChoiceD:
		return domain.PatternRiskSeeking
	case lottery1 == domain.ChoiceA && lottery2 == domain.ChoiceD:
		return domain.PatternAllais
	default:
		return domain.PatternOther
	}
}

// CompletionTime returns the session duration in ms, normalized to be non-negative. The client's
// durationMs wins when present; otherwise end - start is used. consistent is false when the
// timestamps run backwards or the reported duration is negative.
func CompletionTime(t domain.SubmissionTiming) (ms int64, consistent bool) {
	consistent = !t.EndTime.Before(t.StartTime)
	if t.DurationMs != nil {
		ms = *t.DurationMs
	} else {
		ms = t.EndTime.Sub(t.StartTime).Milliseconds()
	}
	if ms < 0 {
		return 0, false
	}
	return ms, consistent
}

// ParseAttentionAnswer reads an integer the way a lenient form parser does: JSON numbers are
// truncated, strings contribute their leading integer ("42abc" -> 42). Anything else does not parse.
func ParseAttentionAnswer(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || math.Abs(x) > math.MaxInt32 {
			return 0, false
		}
		return int(x), true
	case string:
		return leadingInt(x)
	default:
		return 0, false
	}
}

func leadingInt(s string) (int, bool) {
	s = strings.TrimLeft(s, " \t\n\r")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	n, err := strconv.ParseInt(s[:end], 10, 32)
	if err != nil {
		return 0, false
	}
	return int(n), true
}
