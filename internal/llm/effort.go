package llm

import "fmt"

// Effort is the coarse reasoning-depth signal passed to providers.
type Effort string

const (
	EffortNone   Effort = ""
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
)

// EffortForLevel maps a caller-supplied reasoning level to an effort.
// A nil level means the provider default; 1 or less is low, 2 or more is medium.
func EffortForLevel(level *int) Effort {
	if level == nil {
		return EffortNone
	}
	if *level <= 1 {
		return EffortLow
	}
	return EffortMedium
}

// ThinkingBudget returns the extended-thinking token budget for providers
// that express effort as a budget. Zero disables thinking.
func ThinkingBudget(e Effort) int64 {
	switch e {
	case EffortNone:
		return 0
	case EffortLow:
		return 1024
	case EffortMedium:
		return 4096
	default:
		panic(fmt.Sprintf("llm: unhandled effort %q", string(e)))
	}
}
