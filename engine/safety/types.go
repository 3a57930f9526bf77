// Package safety defines the FMEA domain: elements, failures, causations, risk
// ratings, safety tasks and safety requirements, plus their validation rules.
package safety

import "time"

// Node labels as stored in the graph.
const (
	LabelElement     = "ELEMENT"
	LabelFailure     = "FAILURE"
	LabelCausation   = "CAUSATION"
	LabelRiskRating  = "RISK_RATING"
	LabelTask        = "SAFETY_TASK"
	LabelRequirement = "SAFETY_REQUIREMENT"
)

// Relationship types as stored in the graph.
const (
	RelPartOf     = "PART_OF"    // (ELEMENT)->(ELEMENT parent)
	RelOccurrence = "OCCURRENCE" // (FAILURE)->(ELEMENT)
	RelFirst      = "FIRST"      // (CAUSATION)->(FAILURE cause)
	RelThen       = "THEN"       // (CAUSATION)->(FAILURE effect)
	RelRisk       = "RISK"       // (CAUSATION)->(RISK_RATING)
	RelMitigates  = "MITIGATES"  // (SAFETY_TASK)->(RISK_RATING)
	RelAddresses  = "ADDRESSES"  // (SAFETY_REQUIREMENT)->(FAILURE)
)

// ElementType classifies an element of the analysed architecture.
type ElementType string

const (
	ElementSystem    ElementType = "system"
	ElementComponent ElementType = "component"
	ElementFunction  ElementType = "function"
)

// Element is a system, component or function that failures occur at.
type Element struct {
	ID          string      `json:"id"`
	Name        string      `json:"name" validate:"required,max=200"`
	Type        ElementType `json:"type" validate:"required,oneof=system component function"`
	Description string      `json:"description,omitempty" validate:"max=4000"`
	ParentID    string      `json:"parent_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ElementNode is an element with its children, used for the element tree.
type ElementNode struct {
	Element
	Children []*ElementNode `json:"children"`
}

// Failure is a failure mode occurring at an element.
type Failure struct {
	ID          string    `json:"id"`
	ElementID   string    `json:"element_id"`
	Name        string    `json:"name" validate:"required,max=200"`
	Description string    `json:"description,omitempty" validate:"max=4000"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Causation links a cause failure (FIRST) to an effect failure (THEN).
type Causation struct {
	ID        string    `json:"id"`
	CauseID   string    `json:"cause_id" validate:"required"`
	EffectID  string    `json:"effect_id" validate:"required"`
	CreatedAt time.Time `json:"created_at"`
}

// CausationRole says which side of a causation a failure is on.
type CausationRole string

const (
	RoleCause  CausationRole = "cause"
	RoleEffect CausationRole = "effect"
)

// CausationView is a causation seen from one failure, with the failure on the
// other side resolved.
type CausationView struct {
	Causation
	Role  CausationRole `json:"role"`
	Other Failure       `json:"other"`
}

// RiskRating scores one causation chain.
type RiskRating struct {
	ID          string    `json:"id"`
	CausationID string    `json:"causation_id"`
	Severity    int       `json:"severity" validate:"min=1,max=10"`
	Occurrence  int       `json:"occurrence" validate:"min=1,max=10"`
	Detection   int       `json:"detection" validate:"min=1,max=10"`
	RPN         int       `json:"rpn"`
	ASIL        ASIL      `json:"asil" validate:"asil"`
	Comment     string    `json:"comment,omitempty" validate:"max=4000"`
	CreatedAt   time.Time `json:"created_at"`
}

// TaskStatus is the lifecycle state of a safety task.
type TaskStatus string

const (
	TaskOpen       TaskStatus = "open"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskCancelled  TaskStatus = "cancelled"
)

// Closed reports whether the task no longer needs attention.
func (s TaskStatus) Closed() bool { return s == TaskDone || s == TaskCancelled }

// Task is a mitigation action attached to a risk rating.
type Task struct {
	ID           string     `json:"id"`
	RiskRatingID string     `json:"risk_rating_id"`
	Name         string     `json:"name" validate:"required,max=200"`
	Description  string     `json:"description,omitempty" validate:"max=4000"`
	Responsible  string     `json:"responsible,omitempty" validate:"max=200"`
	Status       TaskStatus `json:"status" validate:"omitempty,oneof=open in_progress done cancelled"`
	Due          string     `json:"due,omitempty" validate:"omitempty,datetime=2006-01-02"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// RequirementKind distinguishes safety requirements from dependent failure
// analysis requirements.
type RequirementKind string

const (
	KindSR  RequirementKind = "SR"
	KindDFA RequirementKind = "DFA"
)

// Requirement is a safety requirement addressing one or more failures.
type Requirement struct {
	ID         string          `json:"id"`
	Name       string          `json:"name" validate:"required,max=200"`
	Text       string          `json:"text" validate:"max=8000"`
	ASIL       ASIL            `json:"asil" validate:"asil"`
	Kind       RequirementKind `json:"kind" validate:"omitempty,oneof=SR DFA"`
	FailureIDs []string        `json:"failure_ids,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// FMEARow is one line of the FMEA worksheet for an element: a failure mode,
// one of its causes, the failures it leads to and the current rating.
type FMEARow struct {
	Failure   Failure     `json:"failure"`
	Causation *Causation  `json:"causation,omitempty"`
	Cause     *Failure    `json:"cause,omitempty"`
	Effects   []string    `json:"effects"`
	Rating    *RiskRating `json:"rating,omitempty"`
	OpenTasks int         `json:"open_tasks"`
}
