package quality

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"allais-survey-service/internal/domain"
	"github.com/go-playground/validator/v10"
)

var (
	workerIDPattern     = regexp.MustCompile(`^A[A-Z0-9]{10,}$`)
	assignmentIDPattern = regexp.MustCompile(`^[0-9A-Z]{20,}$`)
	hitIDPattern        = regexp.MustCompile(`^[A-Z0-9]{20,}$`)
)

// Validator rejects malformed submissions before classification.
type Validator struct {
	validate  *validator.Validate
	strictIDs bool
}

// NewValidator builds a Validator. With strictIDs the crowdsourcing identifiers must match the
// platform's id formats; the preview assignment id is always accepted.
func NewValidator(strictIDs bool) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	return &Validator{validate: v, strictIDs: strictIDs}
}

// Validate returns a *domain.ValidationError listing every offending field, or nil.
func (v *Validator) Validate(sub domain.Submission) error {
	fields := map[string]string{}

	if err := v.validate.Struct(sub); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			fields[fieldPath(fe)] = describe(fe)
		}
	}

	for name, id := range map[string]string{
		"workerId":     sub.WorkerID,
		"assignmentId": sub.AssignmentID,
		"hitId":        sub.HITID,
	} {
		if strings.TrimSpace(id) == "" {
			fields[name] = "is required"
		}
	}

	if v.strictIDs {
		if !workerIDPattern.MatchString(sub.WorkerID) {
			fields["workerId"] = "invalid worker id format"
		}
		if sub.AssignmentID != PreviewAssignmentID && !assignmentIDPattern.MatchString(sub.AssignmentID) {
			fields["assignmentId"] = "invalid assignment id format"
		}
		if !hitIDPattern.MatchString(sub.HITID) {
			fields["hitId"] = "invalid HIT id format"
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return &domain.ValidationError{Fields: fields}
}

func jsonFieldName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// fieldPath drops the root struct name: "Submission.responses.lottery1" -> "responses.lottery1".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}
