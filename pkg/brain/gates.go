package brain

import (
	"strings"

	"github.com/dotsetgreg/mirabase/pkg/contract"
)

// Epistemic describes whether the turn asks for something the system
// cannot know.
type Epistemic struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// CheckEpistemic flags questions about the user's own internal state.
func (r *Rules) CheckEpistemic(norm string) Epistemic {
	for _, re := range r.epistemicPatterns {
		if re.MatchString(norm) {
			return Epistemic{State: r.epistemicState, Reason: r.epistemicReason}
		}
	}
	return Epistemic{State: contract.EpistemicOK}
}

const SecurityBlocked = "BLOCKED"

// CheckSecurity reports the block reason when text contains a high-risk
// phrase.
func (r *Rules) CheckSecurity(text string) (string, bool) {
	t := strings.ToLower(text)
	for _, phrase := range r.securityPhrases {
		if strings.Contains(t, phrase) {
			return r.securityReason, true
		}
	}
	return "", false
}

// PersonalFact is an explicitly stated fact about the user.
type PersonalFact struct {
	Key   string
	Value string
}

// ExtractPersonal matches strict self-statements only. Nothing is inferred.
func (r *Rules) ExtractPersonal(text string) (PersonalFact, bool) {
	t := strings.TrimSpace(text)
	for _, p := range r.personal {
		m := p.re.FindStringSubmatch(t)
		if m == nil {
			continue
		}
		if v := strings.TrimSpace(m[1]); v != "" {
			return PersonalFact{Key: p.name, Value: v}, true
		}
	}
	return PersonalFact{}, false
}

// Social act keys.
const (
	SocialHello    = "HELLO"
	SocialHelloAsk = "HELLO_ASK"
)

// ClassifySocial returns the phrase key of a conversational micro-act.
// Whole-utterance acts are checked before the anchored greeting so
// "ahoj zatím" reads as a farewell.
func (r *Rules) ClassifySocial(text string) (string, bool) {
	norm := normalize(text)
	if norm == "" {
		return "", false
	}
	bare := strings.TrimSpace(strings.TrimRight(norm, "!?.,… "))
	bare = spacesRe.ReplaceAllString(bare, " ")
	for _, act := range r.socialActs {
		if act.re.MatchString(bare) {
			return act.name, true
		}
	}
	if r.socialGreeting.MatchString(norm) {
		if r.socialQuestion.MatchString(norm) {
			return SocialHelloAsk, true
		}
		return SocialHello, true
	}
	return "", false
}

// ResolveTone maps the communication_style preference to a phrase tone.
// A frustrated or impaired user always gets the neutral wording.
func ResolveTone(style, emotion string) string {
	if emotion == EmotionFrustrated || emotion == EmotionImpaired {
		return contract.ToneNeutral
	}
	switch strings.ToLower(strings.TrimSpace(style)) {
	case "formal":
		return contract.ToneFormal
	case "casual", "friendly":
		return contract.ToneCasual
	}
	return contract.ToneNeutral
}
