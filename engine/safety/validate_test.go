package safety

import (
	"errors"
	"testing"
)

func TestValidateElement(t *testing.T) {
	e := Element{Name: "  Brake ECU ", Type: "System"}
	if err := ValidateElement(&e); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if e.Name != "Brake ECU" || e.Type != ElementSystem {
		t.Errorf("not normalized: %+v", e)
	}

	e = Element{Name: "x"}
	if err := ValidateElement(&e); err != nil || e.Type != ElementComponent {
		t.Errorf("expected default component, got %q err=%v", e.Type, err)
	}
}

func TestValidateElement_Invalid(t *testing.T) {
	err := ValidateElement(&Element{Name: "", Type: ElementSystem})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "name" {
		t.Fatalf("expected name validation error, got %v", err)
	}

	err = ValidateElement(&Element{Name: "x", Type: "subsystem"})
	if !errors.As(err, &ve) || ve.Field != "type" {
		t.Fatalf("expected type validation error, got %v", err)
	}

	err = ValidateElement(&Element{ID: "a", Name: "x", ParentID: "a"})
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("self parent should be invalid, got %v", err)
	}
}

func TestValidateCausation(t *testing.T) {
	if err := ValidateCausation(&Causation{CauseID: "a", EffectID: "b"}); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if err := ValidateCausation(&Causation{CauseID: "a", EffectID: "a"}); !errors.Is(err, ErrSelfCausation) {
		t.Errorf("expected ErrSelfCausation, got %v", err)
	}
	if err := ValidateCausation(&Causation{CauseID: "a"}); !IsValidation(err) {
		t.Errorf("expected validation error for missing effect, got %v", err)
	}
}

func TestValidateRiskRating(t *testing.T) {
	r := RiskRating{Severity: 8, Occurrence: 3, Detection: 5, RPN: 1, ASIL: "asil c"}
	if err := ValidateRiskRating(&r); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if r.RPN != 120 {
		t.Errorf("RPN = %d, want 120", r.RPN)
	}
	if r.ASIL != ASILC {
		t.Errorf("ASIL = %q", r.ASIL)
	}

	r = RiskRating{Severity: 1, Occurrence: 1, Detection: 1}
	if err := ValidateRiskRating(&r); err != nil || r.ASIL != ASILQM {
		t.Errorf("expected QM default, got %q err=%v", r.ASIL, err)
	}
}

func TestValidateRiskRating_Range(t *testing.T) {
	cases := []RiskRating{
		{Severity: 0, Occurrence: 1, Detection: 1},
		{Severity: 1, Occurrence: 11, Detection: 1},
		{Severity: 1, Occurrence: 1, Detection: -2},
	}
	for _, r := range cases {
		if err := ValidateRiskRating(&r); !errors.Is(err, ErrRatingRange) {
			t.Errorf("%+v: expected ErrRatingRange, got %v", r, err)
		}
	}

	r := RiskRating{Severity: 1, Occurrence: 1, Detection: 1, ASIL: "E"}
	if err := ValidateRiskRating(&r); !errors.Is(err, ErrInvalidASIL) {
		t.Errorf("expected ErrInvalidASIL, got %v", err)
	}
}

func TestValidateTask(t *testing.T) {
	task := Task{Name: "Add watchdog"}
	if err := ValidateTask(&task); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if task.Status != TaskOpen {
		t.Errorf("status = %q, want open", task.Status)
	}

	task = Task{Name: "x", Status: "IN_PROGRESS", Due: "2026-03-01"}
	if err := ValidateTask(&task); err != nil || task.Status != TaskInProgress {
		t.Errorf("got %q err=%v", task.Status, err)
	}

	if err := ValidateTask(&Task{Name: "x", Status: "blocked"}); !IsValidation(err) {
		t.Errorf("expected validation error for status, got %v", err)
	}
	var ve *ValidationError
	if err := ValidateTask(&Task{Name: "x", Due: "01.03.2026"}); !errors.As(err, &ve) || ve.Field != "due" {
		t.Errorf("expected due validation error, got %v", err)
	}
}

func TestTaskStatusClosed(t *testing.T) {
	if TaskOpen.Closed() || TaskInProgress.Closed() {
		t.Error("open states reported closed")
	}
	if !TaskDone.Closed() || !TaskCancelled.Closed() {
		t.Error("closed states reported open")
	}
}

func TestValidateRequirement(t *testing.T) {
	r := Requirement{Name: "Brake pressure monitored", ASIL: "B(D)"}
	if err := ValidateRequirement(&r); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if r.Kind != KindSR || r.ASIL != ASILBD {
		t.Errorf("got kind=%q asil=%q", r.Kind, r.ASIL)
	}

	r = Requirement{Name: "x", Kind: "dfa"}
	if err := ValidateRequirement(&r); err != nil || r.Kind != KindDFA {
		t.Errorf("got kind=%q err=%v", r.Kind, err)
	}

	if err := ValidateRequirement(&Requirement{Name: "x", Kind: "arch"}); !IsValidation(err) {
		t.Errorf("expected invalid kind, got %v", err)
	}
	if err := ValidateRequirement(&Requirement{Name: "x", FailureIDs: []string{" "}}); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected blank failure id rejected, got %v", err)
	}
}

func TestErrConflictWrapping(t *testing.T) {
	if !errors.Is(ErrHasChildren, ErrConflict) || !errors.Is(ErrDuplicateCause, ErrConflict) {
		t.Fatal("conflict sentinels must wrap ErrConflict")
	}
}
