package domain

// NextAction is the pedagogical move suggested by an assessment.
type NextAction string

const (
	ActionHint             NextAction = "hint"
	ActionRephraseQuestion NextAction = "rephrase_question"
	ActionAdvance          NextAction = "advance"
	ActionShowCode         NextAction = "show_code"
)

// Assessment grades one student answer. It is never persisted.
type Assessment struct {
	UnderstandingLevel MasteryLevel `json:"understanding_level"`
	CorrectPoints      []string     `json:"correct_points"`
	Misconceptions     []string     `json:"misconceptions"`
	NextAction         NextAction   `json:"next_action"`
	Reasoning          string       `json:"reasoning"`
}

// NeutralAssessment is returned whenever grading cannot be completed.
func NeutralAssessment() Assessment {
	return Assessment{
		UnderstandingLevel: MasteryPartial,
		CorrectPoints:      []string{"Attempting to engage"},
		Misconceptions:     []string{},
		NextAction:         ActionRephraseQuestion,
		Reasoning:          "Continue dialogue",
	}
}

// Valid reports whether every enum field holds a known value.
func (a Assessment) Valid() bool {
	if _, err := ParseMasteryLevel(string(a.UnderstandingLevel)); err != nil {
		return false
	}
	switch a.NextAction {
	case ActionHint, ActionRephraseQuestion, ActionAdvance, ActionShowCode:
		return true
	default:
		return false
	}
}
