package safety

import "strings"

// ASIL is an Automotive Safety Integrity Level. Decomposed levels carry the
// original level after an underscore, e.g. A_D is "ASIL A(D)".
type ASIL string

const (
	ASILQM ASIL = "QM"
	ASILA  ASIL = "A"
	ASILB  ASIL = "B"
	ASILC  ASIL = "C"
	ASILD  ASIL = "D"
	ASILAD ASIL = "A_D"
	ASILBD ASIL = "B_D"
	ASILCD ASIL = "C_D"
)

var asilRank = map[ASIL]int{
	ASILQM: 0,
	ASILA:  1,
	ASILB:  2,
	ASILC:  3,
	ASILD:  4,
	ASILAD: 1,
	ASILBD: 2,
	ASILCD: 3,
}

// Valid reports whether a is a known level.
func (a ASIL) Valid() bool {
	_, ok := asilRank[a]
	return ok
}

// Rank orders levels from QM (0) to D (4). Decomposed levels rank by their own
// letter. Unknown levels rank -1.
func (a ASIL) Rank() int {
	if r, ok := asilRank[a]; ok {
		return r
	}
	return -1
}

// Decomposed reports whether a was obtained by ASIL decomposition.
func (a ASIL) Decomposed() bool { return strings.HasSuffix(string(a), "_D") }

// Origin returns the level a was decomposed from (D for decomposed levels).
func (a ASIL) Origin() ASIL {
	if a.Decomposed() {
		return ASILD
	}
	return a
}

// ParseASIL normalizes user input such as "asil b", "B(D)" or "b_d".
func ParseASIL(s string) (ASIL, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	v = strings.TrimSpace(strings.TrimPrefix(v, "ASIL"))
	v = strings.TrimSpace(strings.TrimPrefix(v, "-"))
	if strings.HasSuffix(v, "(D)") {
		v = strings.TrimSpace(strings.TrimSuffix(v, "(D)")) + "_D"
	}
	a := ASIL(v)
	if !a.Valid() {
		return "", NewValidationError("asil", s, ErrInvalidASIL)
	}
	return a, nil
}
