package safety

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Rating factor bounds.
const (
	MinFactor = 1
	MaxFactor = 10
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("asil", func(fl validator.FieldLevel) bool {
		return ASIL(fl.Field().String()).Valid()
	})
	return v
}

// RPN returns the risk priority number severity × occurrence × detection.
func RPN(severity, occurrence, detection int) int {
	return severity * occurrence * detection
}

// ValidateElement trims and checks an element.
func ValidateElement(e *Element) error {
	e.Name = strings.TrimSpace(e.Name)
	e.Type = ElementType(strings.ToLower(strings.TrimSpace(string(e.Type))))
	if e.Type == "" {
		e.Type = ElementComponent
	}
	if e.ParentID != "" && e.ParentID == e.ID {
		return NewValidationError("parent_id", e.ParentID, ErrInvalid)
	}
	return check(e)
}

// ValidateFailure trims and checks a failure.
func ValidateFailure(f *Failure) error {
	f.Name = strings.TrimSpace(f.Name)
	return check(f)
}

// ValidateCausation checks that cause and effect are set and distinct.
func ValidateCausation(c *Causation) error {
	if err := check(c); err != nil {
		return err
	}
	if c.CauseID == c.EffectID {
		return NewValidationError("effect_id", c.EffectID, ErrSelfCausation)
	}
	return nil
}

// ValidateRiskRating normalizes the ASIL, checks the factors and recomputes
// the RPN. Any client-supplied RPN is overwritten.
func ValidateRiskRating(r *RiskRating) error {
	if err := normalizeASIL(&r.ASIL); err != nil {
		return err
	}
	if err := check(r); err != nil {
		return err
	}
	r.RPN = RPN(r.Severity, r.Occurrence, r.Detection)
	return nil
}

// ValidateTask defaults the status to open and checks the task.
func ValidateTask(t *Task) error {
	t.Name = strings.TrimSpace(t.Name)
	t.Status = TaskStatus(strings.ToLower(strings.TrimSpace(string(t.Status))))
	if t.Status == "" {
		t.Status = TaskOpen
	}
	t.Due = strings.TrimSpace(t.Due)
	return check(t)
}

// ValidateRequirement defaults kind to SR, normalizes the ASIL and checks the
// requirement.
func ValidateRequirement(r *Requirement) error {
	r.Name = strings.TrimSpace(r.Name)
	r.Kind = RequirementKind(strings.ToUpper(strings.TrimSpace(string(r.Kind))))
	if r.Kind == "" {
		r.Kind = KindSR
	}
	if err := normalizeASIL(&r.ASIL); err != nil {
		return err
	}
	for _, id := range r.FailureIDs {
		if strings.TrimSpace(id) == "" {
			return NewValidationError("failure_ids", id, ErrInvalid)
		}
	}
	return check(r)
}

func normalizeASIL(a *ASIL) error {
	if strings.TrimSpace(string(*a)) == "" {
		*a = ASILQM
		return nil
	}
	parsed, err := ParseASIL(string(*a))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// check runs the struct tags and converts the first failure into a
// ValidationError.
func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("validate: %w", err)
	}
	fe := fieldErrs[0]
	return NewValidationError(fe.Field(), fmt.Sprint(fe.Value()), sentinelFor(fe))
}

func sentinelFor(fe validator.FieldError) error {
	switch fe.Tag() {
	case "asil":
		return ErrInvalidASIL
	case "min", "max":
		switch fe.Field() {
		case "severity", "occurrence", "detection":
			return ErrRatingRange
		}
	}
	return ErrInvalid
}
