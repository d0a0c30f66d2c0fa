package brain

import (
	"regexp"
	"strings"
)

const IntentUnknown = "UNKNOWN"

// Perception is what the sensor read from one utterance.
type Perception struct {
	Text       string   `json:"text"`
	Signals    []string `json:"signals"`
	Expression string   `json:"expression,omitempty"`
	Confidence float64  `json:"confidence"`
}

var (
	digitRe    = regexp.MustCompile(`\d`)
	operatorRe = regexp.MustCompile(`[+\-*/]`)
	spacesRe   = regexp.MustCompile(`\s+`)
	unsafeRe   = regexp.MustCompile(`[^0-9+\-*/().\s]`)
)

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Sense extracts signals and the arithmetic expression. It never decides
// what to do with them.
func (r *Rules) Sense(text string) Perception {
	norm := normalize(text)
	p := Perception{Text: norm}

	for _, s := range r.signals {
		if s.re.MatchString(norm) {
			p.Signals = appendUnique(p.Signals, s.name)
		}
	}
	if expr, ok := r.extractExpression(norm); ok {
		p.Signals = appendUnique(p.Signals, r.arithSignal)
		p.Expression = expr
	}

	if len(p.Signals) == 0 {
		p.Signals = []string{IntentUnknown}
		p.Confidence = r.unknownConfidence
		return p
	}
	p.Confidence = r.matchedConfidence
	return p
}

// extractExpression uses the whole text when it is made only of arithmetic
// characters, otherwise the first embedded binary expression.
func (r *Rules) extractExpression(norm string) (string, bool) {
	if r.arithWhole.MatchString(norm) {
		expr := strings.TrimSpace(norm)
		return expr, digitRe.MatchString(expr)
	}
	m := r.arithEmbedded.FindStringSubmatch(norm)
	if m == nil {
		return "", false
	}
	expr := strings.TrimSpace(m[len(m)-1])
	if digitRe.MatchString(expr) && operatorRe.MatchString(expr) {
		return expr, true
	}
	return "", false
}

// Attention splits sensed signals into a primary intent and the secondary
// query markers the planner works from.
type Attention struct {
	Primary    string   `json:"primary"`
	Secondary  []string `json:"secondary,omitempty"`
	Ranked     []string `json:"ranked"`
	Expression string   `json:"expression,omitempty"`
	Confidence float64  `json:"confidence"`
}

// Attend ranks the sensed signals and derives the secondary intents.
func (r *Rules) Attend(p Perception) Attention {
	a := Attention{
		Ranked:     append([]string(nil), p.Signals...),
		Confidence: p.Confidence,
	}
	a.Primary = r.highest(a.Ranked)

	text := spacesRe.ReplaceAllString(p.Text, " ")
	for _, in := range r.intents {
		if in.re.MatchString(text) {
			a.Secondary = append(a.Secondary, in.name)
		}
	}

	// The sensor's expression wins; the loose match only covers text the
	// sensor did not read as arithmetic and must carry an operator.
	candidate := p.Expression
	if candidate == "" {
		if m := r.arithLoose.FindString(text); operatorRe.MatchString(m) {
			candidate = m
		}
	}
	if expr := sanitizeExpression(candidate); expr != "" {
		a.Expression = expr
		a.Secondary = append(a.Secondary, r.arithIntent)
	}
	return a
}

// sanitizeExpression keeps only arithmetic characters and collapses spaces.
func sanitizeExpression(expr string) string {
	expr = unsafeRe.ReplaceAllString(strings.TrimSpace(expr), "")
	return strings.TrimSpace(spacesRe.ReplaceAllString(expr, " "))
}

// highest returns the first intent with the top priority.
func (r *Rules) highest(intents []string) string {
	if len(intents) == 0 {
		return IntentUnknown
	}
	best := intents[0]
	for _, in := range intents[1:] {
		if r.Priority(in) > r.Priority(best) {
			best = in
		}
	}
	return best
}

func appendUnique(list []string, s string) []string {
	for _, x := range list {
		if x == s {
			return list
		}
	}
	return append(list, s)
}
