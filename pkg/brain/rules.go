package brain

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// ruleFile is the on-disk schema of rules.yaml.
type ruleFile struct {
	Version int `yaml:"version"`
	Sensor  struct {
		MatchedConfidence float64       `yaml:"matched_confidence"`
		UnknownConfidence float64       `yaml:"unknown_confidence"`
		Signals           []signalRule  `yaml:"signals"`
		Arithmetic        sensorArithms `yaml:"arithmetic"`
	} `yaml:"sensor"`
	Attention struct {
		Intents    []intentRule `yaml:"intents"`
		Arithmetic struct {
			Intent  string `yaml:"intent"`
			Pattern string `yaml:"pattern"`
		} `yaml:"arithmetic"`
	} `yaml:"attention"`
	Priorities map[string]int `yaml:"priorities"`
	Epistemic  struct {
		State    string   `yaml:"state"`
		Reason   string   `yaml:"reason"`
		Patterns []string `yaml:"patterns"`
	} `yaml:"epistemic"`
	Security struct {
		Reason  string   `yaml:"reason"`
		Phrases []string `yaml:"phrases"`
	} `yaml:"security"`
	Social struct {
		Greeting string    `yaml:"greeting"`
		Question string    `yaml:"question"`
		Acts     []actRule `yaml:"acts"`
	} `yaml:"social"`
	Personal []actRule `yaml:"personal"`
}

type signalRule struct {
	Signal  string `yaml:"signal"`
	Pattern string `yaml:"pattern"`
}

type intentRule struct {
	Intent  string `yaml:"intent"`
	Pattern string `yaml:"pattern"`
}

type actRule struct {
	Key     string `yaml:"key"`
	Pattern string `yaml:"pattern"`
}

type sensorArithms struct {
	Signal   string `yaml:"signal"`
	Whole    string `yaml:"whole"`
	Embedded string `yaml:"embedded"`
}

type namedPattern struct {
	name string
	re   *regexp.Regexp
}

// Rules is the compiled classifier table shared by every stage. It is
// immutable after construction and safe for concurrent use.
type Rules struct {
	Version int

	matchedConfidence float64
	unknownConfidence float64
	signals           []namedPattern
	arithSignal       string
	arithWhole        *regexp.Regexp
	arithEmbedded     *regexp.Regexp

	intents     []namedPattern
	arithIntent string
	arithLoose  *regexp.Regexp

	priorities map[string]int

	epistemicState    string
	epistemicReason   string
	epistemicPatterns []*regexp.Regexp

	securityReason  string
	securityPhrases []string

	socialGreeting *regexp.Regexp
	socialQuestion *regexp.Regexp
	socialActs     []namedPattern

	personal []namedPattern
}

// DefaultRules returns the table compiled into the binary.
func DefaultRules() *Rules {
	r, err := ParseRules(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("brain: embedded rules are invalid: %v", err))
	}
	return r
}

// LoadRules reads a replacement table from path, or the embedded one when
// path is empty.
func LoadRules(path string) (*Rules, error) {
	if strings.TrimSpace(path) == "" {
		return ParseRules(defaultRulesYAML)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	r, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("rules %s: %w", path, err)
	}
	return r, nil
}

// ParseRules decodes and compiles a rule table.
func ParseRules(data []byte) (*Rules, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if f.Version <= 0 {
		return nil, fmt.Errorf("rules: missing version")
	}

	c := &compiler{}
	r := &Rules{
		Version:           f.Version,
		matchedConfidence: f.Sensor.MatchedConfidence,
		unknownConfidence: f.Sensor.UnknownConfidence,
		arithSignal:       f.Sensor.Arithmetic.Signal,
		arithWhole:        c.compile("sensor.arithmetic.whole", f.Sensor.Arithmetic.Whole),
		arithEmbedded:     c.compile("sensor.arithmetic.embedded", f.Sensor.Arithmetic.Embedded),
		arithIntent:       f.Attention.Arithmetic.Intent,
		arithLoose:        c.compile("attention.arithmetic", f.Attention.Arithmetic.Pattern),
		priorities:        f.Priorities,
		epistemicState:    f.Epistemic.State,
		epistemicReason:   f.Epistemic.Reason,
		securityReason:    f.Security.Reason,
		socialGreeting:    c.compile("social.greeting", f.Social.Greeting),
		socialQuestion:    c.compile("social.question", f.Social.Question),
	}
	for _, s := range f.Sensor.Signals {
		r.signals = append(r.signals, namedPattern{s.Signal, c.compile("sensor."+s.Signal, s.Pattern)})
	}
	for _, in := range f.Attention.Intents {
		r.intents = append(r.intents, namedPattern{in.Intent, c.compile("attention."+in.Intent, in.Pattern)})
	}
	for i, p := range f.Epistemic.Patterns {
		r.epistemicPatterns = append(r.epistemicPatterns, c.compile(fmt.Sprintf("epistemic[%d]", i), p))
	}
	for _, a := range f.Social.Acts {
		r.socialActs = append(r.socialActs, namedPattern{a.Key, c.compile("social."+a.Key, a.Pattern)})
	}
	for _, p := range f.Personal {
		re := c.compileWith("personal."+p.Key, "(?i)", p.Pattern)
		if re != nil && re.NumSubexp() < 1 {
			c.fail("personal."+p.Key, fmt.Errorf("pattern needs a capture group"))
		}
		r.personal = append(r.personal, namedPattern{p.Key, re})
	}
	for _, phrase := range f.Security.Phrases {
		if phrase = strings.ToLower(strings.TrimSpace(phrase)); phrase != "" {
			r.securityPhrases = append(r.securityPhrases, phrase)
		}
	}
	if r.priorities == nil {
		r.priorities = map[string]int{}
	}
	if c.err != nil {
		return nil, c.err
	}
	return r, nil
}

// Priority is the disambiguation score of an intent; unknown intents score 0.
func (r *Rules) Priority(intent string) int {
	return r.priorities[intent]
}

type compiler struct {
	err error
}

func (c *compiler) compile(name, pattern string) *regexp.Regexp {
	return c.compileWith(name, "", pattern)
}

// compileWith prepends flags after the boundary rewrite.
func (c *compiler) compileWith(name, flags, pattern string) *regexp.Regexp {
	if c.err != nil {
		return nil
	}
	if strings.TrimSpace(pattern) == "" {
		c.fail(name, fmt.Errorf("empty pattern"))
		return nil
	}
	re, err := regexp.Compile(flags + unicodeBoundaries(pattern))
	if err != nil {
		c.fail(name, err)
		return nil
	}
	return re
}

func (c *compiler) fail(name string, err error) {
	if c.err == nil {
		c.err = fmt.Errorf("rule %s: %w", name, err)
	}
}

const (
	wordBoundaryLead  = `(?:^|[^\p{L}\p{N}_])`
	wordBoundaryTrail = `(?:[^\p{L}\p{N}_]|$)`
)

// unicodeBoundaries rewrites \b so letters outside ASCII count as word
// characters. RE2's \b is ASCII-only and would split "děkuji" at "ě".
// A \b that opens the pattern or an alternative becomes a leading
// boundary; any other becomes a trailing one.
func unicodeBoundaries(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern) + 32)
	var prev byte
	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		if ch == '\\' && i+1 < len(pattern) {
			next := pattern[i+1]
			i++
			if next == 'b' {
				switch prev {
				case 0, '^', '|', '(', ':':
					b.WriteString(wordBoundaryLead)
				default:
					b.WriteString(wordBoundaryTrail)
				}
				prev = 'b'
				continue
			}
			b.WriteByte(ch)
			b.WriteByte(next)
			prev = next
			continue
		}
		b.WriteByte(ch)
		prev = ch
	}
	return b.String()
}
