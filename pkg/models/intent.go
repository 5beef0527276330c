package models

// Complexity is the intent classifier's coarse task-size estimate.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// Intent is the classification of one user turn. It seeds prompt tier
// selection and the skill-focus injection.
//
// RelevantSkillGroups distinguishes nil from empty: nil means the classifier
// made no selection (injectors fall back to the full skills prompt), while an
// empty list is an explicit "no skills needed".
type Intent struct {
	Complexity          Complexity `json:"complexity"`
	NeedsPlan           bool       `json:"needs_plan"`
	RelevantSkillGroups []string   `json:"relevant_skill_groups"`
	IsFollowUp          bool       `json:"is_follow_up"`
	SkipMemory          bool       `json:"skip_memory"`
	TaskType            string     `json:"task_type,omitempty"`
}

// DefaultIntent is the safe fallback used when classification fails: assume a
// medium planning task and keep memory on.
func DefaultIntent() *Intent {
	return &Intent{
		Complexity: ComplexityMedium,
		NeedsPlan:  true,
	}
}
