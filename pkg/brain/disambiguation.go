package brain

const ReasonAmbiguousIntent = "AMBIGUOUS_INTENT"

// Resolution is the disambiguation verdict. Clarify means the top
// candidates tie at a significant priority and the user has to choose.
type Resolution struct {
	Intent     string
	Clarify    bool
	Reason     string
	Candidates []string
}

// Disambiguate picks the highest-priority ranked intent. Ties below
// threshold resolve to the first ranked candidate.
func (r *Rules) Disambiguate(a Attention, threshold int) Resolution {
	if len(a.Ranked) <= 1 {
		return Resolution{Intent: a.Primary}
	}

	best := r.highest(a.Ranked)
	score := r.Priority(best)
	var competitors []string
	for _, in := range a.Ranked {
		if in != best && r.Priority(in) == score {
			competitors = appendUnique(competitors, in)
		}
	}
	if len(competitors) > 0 && score >= threshold {
		return Resolution{
			Clarify:    true,
			Reason:     ReasonAmbiguousIntent,
			Candidates: append([]string{best}, competitors...),
		}
	}
	return Resolution{Intent: best}
}
