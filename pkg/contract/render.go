package contract

import "fmt"

// Tones of the social phrase table.
const (
	ToneNeutral = "NEUTRAL"
	ToneFormal  = "FORMAL"
	ToneCasual  = "CASUAL"
)

const (
	phraseFallback  = "Promiň, ale tohle nevím."
	phraseEpistemic = "To bez dalších informací nevím."
	phraseClarify   = "Nejsem si jistá, co myslíš. Můžeš to upřesnit?"
)

// EpistemicOK is the state of a turn the system can answer.
const EpistemicOK = "OK"

var socialPhrases = map[string]map[string]string{
	"HELLO": {
		ToneNeutral: "Ahoj.",
		ToneFormal:  "Dobrý den.",
		ToneCasual:  "Čau.",
	},
	"HELLO_ASK": {
		ToneNeutral: "Ahoj, co potřebuješ?",
		ToneFormal:  "Dobrý den, s čím mohu pomoci?",
		ToneCasual:  "Čau, co potřebuješ?",
	},
	"THANKS": {
		ToneNeutral: "Rádo se stalo.",
	},
	"FAREWELL": {
		ToneNeutral: "Měj se.",
		ToneFormal:  "Na shledanou.",
	},
	"ACK": {
		ToneNeutral: "Dobře.",
	},
	"SMALLTALK_STATE": {
		ToneNeutral: "Mám se fajn.",
		ToneFormal:  "Mám se dobře, děkuji.",
	},
	"COMMAND_OK": {
		ToneNeutral: "Hotovo.",
	},
}

var errorPhrases = map[string]string{
	"SECURITY_BLOCKED":   "Na tohle odpovědět nemohu.",
	"MISSING_TIMEZONE":   "Nemám nastavené časové pásmo.",
	"BAD_TIMEZONE":       "Nemám nastavené časové pásmo.",
	"MISSING_EXPRESSION": "Tenhle příklad neumím spočítat.",
	"BAD_ARITHMETIC":     "Tenhle příklad neumím spočítat.",
	"COMMAND_BLOCKED":    "Tohle teď udělat nemohu.",
	"COMMAND_INVALID":    "Tomu příkazu nerozumím.",
	"COMMAND_FAILED":     "Tohle se nepovedlo.",
}

// SocialPhrase looks up key for tone, falling back to the neutral wording.
// ok is false for an unknown key.
func SocialPhrase(key, tone string) (string, bool) {
	row, ok := socialPhrases[key]
	if !ok {
		return "", false
	}
	if s, ok := row[tone]; ok {
		return s, true
	}
	return row[ToneNeutral], true
}

// ErrorPhrase returns the fixed wording for an error reason.
func ErrorPhrase(reason string) string {
	if s, ok := errorPhrases[reason]; ok {
		return s
	}
	return phraseFallback
}

// Render turns a contract into the reply text. It only reads the contract.
func Render(c Contract) string {
	if c.Has(SilentExit) {
		return ""
	}
	if c.EpistemicState != "" && c.EpistemicState != EpistemicOK {
		return phraseEpistemic
	}

	if p, ok := first(c.Payload, PayloadFacts); ok {
		return renderFact(*p.Fact)
	}
	if p, ok := first(c.Payload, PayloadSocial); ok {
		if p.Social.Text != "" {
			return p.Social.Text
		}
		if s, ok := SocialPhrase(p.Social.Key, p.Social.Tone); ok {
			return s
		}
		return phraseFallback
	}
	if p, ok := first(c.Payload, PayloadError); ok {
		return ErrorPhrase(p.Error.Reason)
	}
	if p, ok := first(c.Payload, PayloadUnknown); ok && p.Unknown.Reason == "AMBIGUOUS_INTENT" {
		return phraseClarify
	}
	// Also the GENERATIVE source: no generative backend is wired.
	return phraseFallback
}

func first(items []PayloadItem, t PayloadType) (PayloadItem, bool) {
	for _, p := range items {
		if p.Type == t {
			return p, true
		}
	}
	return PayloadItem{}, false
}

func renderFact(f Fact) string {
	switch f.Kind {
	case "TIME_NOW":
		return fmt.Sprintf("Je %s.", f.Value)
	case "DATE_TODAY", "DAY_TODAY":
		return fmt.Sprintf("Dnes je %s.", f.Value)
	case "ARITHMETIC":
		return fmt.Sprintf("%s = %s", f.Expression, f.Value)
	}
	if f.Value != "" {
		return f.Value
	}
	return phraseFallback
}
