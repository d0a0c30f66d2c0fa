// Package brain turns one utterance into a semantic decision through an
// ordered chain of classifier stages, any of which may end the turn. It
// never produces reply text; see package contract for rendering.
package brain

import (
	"context"
	"errors"
	"time"

	"github.com/dotsetgreg/mirabase/pkg/action"
	"github.com/dotsetgreg/mirabase/pkg/config"
	"github.com/dotsetgreg/mirabase/pkg/contract"
	"github.com/dotsetgreg/mirabase/pkg/facts"
	"github.com/dotsetgreg/mirabase/pkg/logger"
	"github.com/dotsetgreg/mirabase/pkg/memory"
	"github.com/dotsetgreg/mirabase/pkg/profile"
	"github.com/dotsetgreg/mirabase/pkg/utils"
)

// Command outcome keys carried in the payload of a COMMAND turn.
const (
	CommandOK      = "COMMAND_OK"
	CommandBlocked = "COMMAND_BLOCKED"
	CommandInvalid = "COMMAND_INVALID"
	CommandFailed  = "COMMAND_FAILED"
)

const (
	reasonEpistemic  = "EPISTEMIC"
	reasonGuard      = "GUARD"
	reasonFacts      = "FACTS_COMPUTED"
	reasonNoFactPath = "NO_DETERMINISTIC_PATH"
	reasonSocial     = "SOCIAL_HANDLER"
	reasonCommand    = "COMMAND"
	payloadSecurity  = "SECURITY_BLOCKED"
	styleKey         = "communication_style"
	maxLoggedTextLen = 120
)

// Commander runs a parsed slash command. *action.Dispatcher satisfies it.
type Commander interface {
	Dispatch(ctx context.Context, a action.Action, userID string, rc action.RequestContext) action.Outcome
}

// Deps are the collaborators of a Pipeline. LongTerm, Profiles and
// Commands are optional.
type Deps struct {
	Rules     *Rules
	ShortTerm memory.ShortTerm
	LongTerm  memory.LongTerm
	Facts     facts.Resolver
	Profiles  profile.Reader
	Commands  Commander
}

// Turn is one utterance to decide on.
type Turn struct {
	UserID string
	Text   string
	// TurnCount is the 1-based number of this turn in the user's session.
	TurnCount int
	RequestID string
	Channel   string
}

// Pipeline is safe for concurrent use by different users. Callers
// serialize turns of the same user.
type Pipeline struct {
	rules    *Rules
	stm      memory.ShortTerm
	ltm      memory.LongTerm
	facts    facts.Resolver
	profiles profile.Reader
	commands Commander
	cfg      config.BrainConfig
	now      func() time.Time
}

func NewPipeline(deps Deps, cfg config.BrainConfig) *Pipeline {
	rules := deps.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	stm := deps.ShortTerm
	if stm == nil {
		stm = memory.NewInMemoryShortTerm(memory.DefaultCapacity)
	}
	resolver := deps.Facts
	if resolver == nil {
		resolver = facts.NewEngine()
	}
	return &Pipeline{
		rules:    rules,
		stm:      stm,
		ltm:      deps.LongTerm,
		facts:    resolver,
		profiles: deps.Profiles,
		commands: deps.Commands,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithClock fixes the clock used for chrono and STM timestamps.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Rules returns the compiled rule table in use.
func (p *Pipeline) Rules() *Rules { return p.rules }

// Process runs the stage chain for one turn.
func (p *Pipeline) Process(ctx context.Context, t Turn) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	if action.IsCommand(t.Text) {
		d := p.command(ctx, t)
		p.log(t, d)
		return d, nil
	}

	history := p.history(ctx, t.UserID)

	perception := p.rules.Sense(t.Text)
	attention := p.rules.Attend(perception)
	d := Decision{
		Intent:     attention.Primary,
		Signals:    perception.Signals,
		Expression: attention.Expression,
		Confidence: perception.Confidence,
		Epistemic:  Epistemic{State: contract.EpistemicOK},
		Source:     contract.SourceStatic,
	}

	// An unresolved tie still passes the epistemic and security gates
	// before it ends the turn.
	res := p.rules.Disambiguate(attention, p.cfg.ClarifyThreshold)
	if res.Clarify {
		d.Intent = ""
	} else {
		d.Intent = res.Intent
		p.rememberPersonal(ctx, t)
	}

	if ep := p.rules.CheckEpistemic(perception.Text); ep.State != contract.EpistemicOK {
		d.Pipeline = PipelineEpistemic
		d.Epistemic = ep
		d.Reason = ep.Reason
		d.Constraints = []contract.Constraint{contract.NoGeneration, contract.NoMemoryWrite}
		d.Payload = []contract.PayloadItem{contract.UnknownItem(reasonEpistemic)}
		// Advisory only: the previous turn plus this one.
		d.MetaFlags = ResolveMeta(append(tail(history, 1), d.Summary(p.now())))
		return p.finish(ctx, t, d, time.Time{}), nil
	}

	if reason, blocked := p.rules.CheckSecurity(t.Text); blocked {
		d.Pipeline = PipelineSecurity
		d.Security = SecurityBlocked
		d.Reason = reason
		d.Constraints = []contract.Constraint{contract.NoGeneration, contract.NoMemoryWrite}
		d.Payload = []contract.PayloadItem{contract.ErrorItem(payloadSecurity)}
		return p.finish(ctx, t, d, time.Time{}), nil
	}

	if res.Clarify {
		d.Pipeline = PipelineClarify
		d.Reason = res.Reason
		d.Candidates = res.Candidates
		d.Constraints = []contract.Constraint{contract.NoGeneration, contract.NoMemoryWrite}
		d.Payload = []contract.PayloadItem{contract.UnknownItem(res.Reason, res.Candidates...)}
		return p.finish(ctx, t, d, time.Time{}), nil
	}

	d.Emotion = ResolveEmotion(history, p.cfg.Emotion)
	d.Homeostasis = ResolveHomeostasis(t.TurnCount, history, p.cfg.Homeostasis)

	if key, ok := p.rules.ClassifySocial(t.Text); ok {
		tone := ResolveTone(p.preference(ctx, t.UserID, styleKey), d.Emotion)
		d.Pipeline = PipelineSocial
		d.Reason = reasonSocial
		d.Actions = []string{ActionSocial}
		d.Constraints = []contract.Constraint{contract.NoMemoryWrite}
		d.Payload = []contract.PayloadItem{contract.SocialItem(contract.Social{Key: key, Tone: tone})}
		return p.finish(ctx, t, d, time.Time{}), nil
	}

	d.Actions = Plan(d.Intent, attention)
	d.MetaFlags = ResolveMeta(history)

	guardFlags, guardReason := ResolveGuard(GuardInput{
		Confidence:     d.Confidence,
		LowSignal:      p.cfg.LowSignal,
		EpistemicState: d.Epistemic.State,
		Actions:        d.Actions,
		MetaFlags:      d.MetaFlags,
	})
	if len(guardFlags) > 0 {
		d.Pipeline = PipelineGuard
		d.GuardFlags = guardFlags
		d.Reason = guardReason
		d.Constraints = []contract.Constraint{contract.NoGeneration, contract.NoMemoryWrite}
		if contains(guardFlags, GuardStallRisk) {
			d.Constraints = append(d.Constraints, contract.SilentExit)
		} else {
			d.Payload = []contract.PayloadItem{contract.UnknownItem(reasonGuard)}
		}
		return p.finish(ctx, t, d, time.Time{}), nil
	}

	source, rails := Route(d.Actions, d.Homeostasis)
	d.Source = source
	d.Constraints = append([]contract.Constraint{contract.NoGeneration, contract.NoMemoryWrite}, rails...)

	if source != contract.SourceDeterministic {
		d.Pipeline = PipelineFallback
		d.Reason = reasonNoFactPath
		return p.finish(ctx, t, d, time.Time{}), nil
	}

	result := p.facts.Resolve(d.Actions, d.Expression, p.cfg.Timezone)
	d.Pipeline = PipelineFact
	d.Reason = reasonFacts
	d.Facts = &result
	for _, it := range result.Items {
		d.Payload = append(d.Payload, contract.FactItem(contract.Fact{
			Kind:       it.Kind,
			Value:      it.Value,
			Expression: it.Expression,
		}))
	}
	if result.Err != nil {
		d.Payload = append(d.Payload, contract.ErrorItem(string(result.Err.Code)))
	}
	var factNow time.Time
	if _, ok := result.Get(facts.TimeNow); ok {
		factNow = result.Now
	}
	return p.finish(ctx, t, d, factNow), nil
}

// finish attaches the chrono block and records the turn in STM.
func (p *Pipeline) finish(ctx context.Context, t Turn, d Decision, factNow time.Time) Decision {
	now := p.now()
	d.Chrono = BuildChrono(factNow, p.cfg.Timezone, now)
	if d.Actions == nil {
		d.Actions = []string{}
	}
	if err := p.stm.Append(ctx, t.UserID, d.Summary(now)); err != nil {
		logger.WarnCF("brain", "STM append failed", map[string]interface{}{
			"user_id": t.UserID,
			"error":   err.Error(),
		})
	}
	p.log(t, d)
	return d
}

// command parses and dispatches a slash command. Commands are not
// conversational turns and leave STM alone.
func (p *Pipeline) command(ctx context.Context, t Turn) Decision {
	d := Decision{
		Pipeline:    PipelineCommand,
		Reason:      reasonCommand,
		Actions:     []string{},
		Confidence:  1,
		Epistemic:   Epistemic{State: contract.EpistemicOK},
		Source:      contract.SourceStatic,
		Constraints: []contract.Constraint{contract.NoGeneration},
		Chrono:      BuildChrono(time.Time{}, p.cfg.Timezone, p.now()),
	}

	a, err := action.Parse(t.Text)
	if err != nil {
		var out action.Outcome
		var pe *action.ParseError
		if errors.As(err, &pe) {
			out = pe.Outcome()
		} else {
			out = action.Failed("Invalid command", nil)
		}
		d.Command = &out
		d.Payload = []contract.PayloadItem{contract.ErrorItem(CommandInvalid)}
		return d
	}
	d.Intent = a.ActionType
	d.Actions = []string{a.ActionType}

	if p.commands == nil {
		out := action.Blocked("Commands are not available")
		d.Command = &out
		d.Payload = []contract.PayloadItem{contract.ErrorItem(CommandFailed)}
		return d
	}

	out := p.commands.Dispatch(ctx, a, t.UserID, action.RequestContext{
		RequestID: t.RequestID,
		Channel:   t.Channel,
	})
	d.Command = &out
	switch {
	case out.OK():
		d.Payload = []contract.PayloadItem{contract.SocialItem(contract.Social{Key: CommandOK, Tone: contract.ToneNeutral})}
	case out.ErrorType() == action.ErrorTypeBlocked:
		d.Payload = []contract.PayloadItem{contract.ErrorItem(CommandBlocked)}
	case out.ErrorType() == action.ErrorTypeParser:
		d.Payload = []contract.PayloadItem{contract.ErrorItem(CommandInvalid)}
	default:
		d.Payload = []contract.PayloadItem{contract.ErrorItem(CommandFailed)}
	}
	return d
}

// history reads the whole STM window. A read failure degrades to an empty
// history since every consumer is advisory.
func (p *Pipeline) history(ctx context.Context, userID string) []memory.Entry {
	entries, err := p.stm.Recent(ctx, userID, 0)
	if err != nil {
		logger.WarnCF("brain", "STM read failed", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		return nil
	}
	return entries
}

func (p *Pipeline) rememberPersonal(ctx context.Context, t Turn) {
	if p.ltm == nil {
		return
	}
	pf, ok := p.rules.ExtractPersonal(t.Text)
	if !ok {
		return
	}
	err := p.ltm.Upsert(ctx, t.UserID, pf.Key, memory.Fact{
		Value:      pf.Value,
		Confidence: 1.0,
		Source:     memory.SourceUserStatement,
		Locale:     "cs",
		UpdatedAt:  p.now().UTC(),
	})
	if err != nil {
		logger.WarnCF("brain", "Personal fact not stored", map[string]interface{}{
			"user_id": t.UserID,
			"key":     pf.Key,
			"error":   err.Error(),
		})
		return
	}
	logger.DebugCF("brain", "Personal fact stored", map[string]interface{}{
		"user_id": t.UserID,
		"key":     pf.Key,
	})
}

func (p *Pipeline) preference(ctx context.Context, userID, key string) string {
	if p.profiles == nil {
		return ""
	}
	prof, ok := p.profiles.GetCached(userID)
	if !ok {
		loaded, err := p.profiles.Load(ctx, userID)
		if err != nil {
			return ""
		}
		prof = loaded
	}
	return prof.Preference(key)
}

func (p *Pipeline) log(t Turn, d Decision) {
	logger.DebugCF("brain", "Turn decided", map[string]interface{}{
		"user_id":     t.UserID,
		"text":        utils.Truncate(t.Text, maxLoggedTextLen),
		"pipeline":    string(d.Pipeline),
		"intent":      d.Intent,
		"actions":     d.Actions,
		"reason":      d.Reason,
		"meta_flags":  d.MetaFlags,
		"guard_flags": d.GuardFlags,
	})
}
