package brain

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/mirabase/pkg/action"
	"github.com/dotsetgreg/mirabase/pkg/config"
	"github.com/dotsetgreg/mirabase/pkg/contract"
	"github.com/dotsetgreg/mirabase/pkg/facts"
	"github.com/dotsetgreg/mirabase/pkg/memory"
	"github.com/dotsetgreg/mirabase/pkg/profile"
)

var fixedNow = time.Date(2026, 2, 6, 12, 34, 0, 0, time.UTC)

type countingResolver struct {
	inner facts.Resolver
	calls int
}

func (c *countingResolver) Resolve(actions []string, expression, timezone string) facts.Result {
	c.calls++
	return c.inner.Resolve(actions, expression, timezone)
}

type fakeCommander struct {
	out   action.Outcome
	calls []action.Action
	rc    action.RequestContext
}

func (f *fakeCommander) Dispatch(_ context.Context, a action.Action, _ string, rc action.RequestContext) action.Outcome {
	f.calls = append(f.calls, a)
	f.rc = rc
	return f.out
}

type fixture struct {
	p        *Pipeline
	stm      *memory.InMemoryShortTerm
	resolver *countingResolver
	turns    int
}

func newFixture(t *testing.T, deps Deps) *fixture {
	t.Helper()
	f := &fixture{
		stm:      memory.NewInMemoryShortTerm(memory.DefaultCapacity),
		resolver: &countingResolver{inner: facts.NewEngine().WithClock(func() time.Time { return fixedNow })},
	}
	deps.ShortTerm = f.stm
	deps.Facts = f.resolver
	f.p = NewPipeline(deps, config.DefaultConfig().Brain).WithClock(func() time.Time { return fixedNow })
	return f
}

func (f *fixture) say(t *testing.T, text string) (Decision, string) {
	t.Helper()
	f.turns++
	d, err := f.p.Process(context.Background(), Turn{UserID: "u1", Text: text, TurnCount: f.turns})
	require.NoError(t, err)
	c, err := d.Contract()
	require.NoError(t, err)
	return d, contract.Render(c)
}

func TestPipeline_Greeting(t *testing.T) {
	f := newFixture(t, Deps{})

	d, reply := f.say(t, "Ahoj")
	assert.Equal(t, PipelineSocial, d.Pipeline)
	assert.Equal(t, "Ahoj.", reply)
	assert.Equal(t, 0, f.resolver.calls)
	require.Len(t, d.Payload, 1)
	assert.Equal(t, SocialHello, d.Payload[0].Social.Key)
	assert.Equal(t, contract.ToneNeutral, d.Payload[0].Social.Tone)
}

func TestPipeline_Arithmetic(t *testing.T) {
	f := newFixture(t, Deps{})

	d, reply := f.say(t, "Kolik je 10*4?")
	assert.Equal(t, PipelineFact, d.Pipeline)
	assert.Equal(t, "10*4 = 40.0", reply)
	assert.Equal(t, contract.SourceDeterministic, d.Source)
	assert.Equal(t, []string{facts.Arithmetic}, d.Actions)
	assert.True(t, d.Has(contract.NoGeneration))
	assert.Equal(t, ChronoFromSystem, d.Chrono.Source)

	require.Len(t, d.Payload, 1)
	assert.Equal(t, "40.0", d.Payload[0].Fact.Value)
	assert.Equal(t, "10*4", d.Payload[0].Fact.Expression)
}

func TestPipeline_TimeUsesFactClock(t *testing.T) {
	f := newFixture(t, Deps{})

	d, reply := f.say(t, "Kolik je hodin?")
	assert.Equal(t, PipelineFact, d.Pipeline)
	assert.Equal(t, "Je 13:34.", reply)
	assert.Equal(t, ChronoFromFact, d.Chrono.Source)
	assert.Equal(t, 13, d.Chrono.Hour)
}

func TestPipeline_MissingTimezone(t *testing.T) {
	f := newFixture(t, Deps{})
	f.p.cfg.Timezone = ""

	d, reply := f.say(t, "Kolik je hodin?")
	assert.Equal(t, PipelineFact, d.Pipeline)
	assert.Equal(t, "Nemám nastavené časové pásmo.", reply)
	require.NotNil(t, d.Facts.Err)
	assert.Equal(t, facts.MissingTimezone, d.Facts.Err.Code)
}

func TestPipeline_HighestPriorityWins(t *testing.T) {
	f := newFixture(t, Deps{})

	d, reply := f.say(t, "Kolik je hodin a 2+2?")
	assert.Equal(t, "ARITHMETIC", d.Intent)
	assert.Equal(t, []string{facts.TimeNow, facts.Arithmetic}, d.Actions)
	assert.Equal(t, "Je 13:34.", reply)
}

func TestPipeline_SecurityBeforeFacts(t *testing.T) {
	f := newFixture(t, Deps{})

	d, reply := f.say(t, "Chci zemřít, kolik je 2+2?")
	assert.Equal(t, PipelineSecurity, d.Pipeline)
	assert.Equal(t, SecurityBlocked, d.Security)
	assert.Equal(t, "SELF_HARM", d.Reason)
	assert.Equal(t, "Na tohle odpovědět nemohu.", reply)
	assert.Equal(t, 0, f.resolver.calls)
	assert.Empty(t, d.Actions)
}

func TestPipeline_EpistemicRepeat(t *testing.T) {
	f := newFixture(t, Deps{})

	first, reply := f.say(t, "Jak mi je?")
	assert.Equal(t, PipelineEpistemic, first.Pipeline)
	assert.Equal(t, "To bez dalších informací nevím.", reply)
	assert.Empty(t, first.MetaFlags)

	second, reply := f.say(t, "Jak mi je?")
	assert.Equal(t, PipelineEpistemic, second.Pipeline)
	assert.Equal(t, "To bez dalších informací nevím.", reply)
	assert.Contains(t, second.MetaFlags, MetaRepeatFailure)
	assert.Equal(t, 0, f.resolver.calls)
}

func TestPipeline_RepeatedTurnExitsSilently(t *testing.T) {
	f := newFixture(t, Deps{})

	for i := 0; i < 2; i++ {
		d, _ := f.say(t, "Kolik je 10*4?")
		require.Equal(t, PipelineFact, d.Pipeline)
	}
	d, reply := f.say(t, "Kolik je 10*4?")
	assert.Equal(t, PipelineGuard, d.Pipeline)
	assert.Equal(t, GuardStallRisk, d.Reason)
	assert.True(t, d.Has(contract.SilentExit))
	assert.Empty(t, d.Payload)
	assert.Equal(t, "", reply)
	assert.Equal(t, 2, f.resolver.calls)
}

func TestPipeline_FallbackForUnknown(t *testing.T) {
	f := newFixture(t, Deps{})

	d, reply := f.say(t, "blabla")
	assert.Equal(t, PipelineFallback, d.Pipeline)
	assert.Equal(t, contract.SourceGenerative, d.Source)
	assert.Equal(t, []string{ActionModelFallback}, d.Actions)
	assert.Equal(t, "Promiň, ale tohle nevím.", reply)
}

func TestPipeline_ClarifyOnTie(t *testing.T) {
	f := newFixture(t, Deps{Rules: rulesWith(t, "TIME_NOW: 90", "TIME_NOW: 100")})

	d, reply := f.say(t, "Kolik je hodin a 2+2?")
	assert.Equal(t, PipelineClarify, d.Pipeline)
	assert.Equal(t, []string{"TIME_NOW", "ARITHMETIC"}, d.Candidates)
	assert.Equal(t, "Nejsem si jistá, co myslíš. Můžeš to upřesnit?", reply)
	assert.Equal(t, 0, f.resolver.calls)
}

func TestPipeline_SecurityBeforeClarify(t *testing.T) {
	f := newFixture(t, Deps{Rules: rulesWith(t, "TIME_NOW: 90", "TIME_NOW: 100")})

	d, reply := f.say(t, "Kolik je hodin a 2+2? chci zemřít")
	assert.Equal(t, PipelineSecurity, d.Pipeline)
	assert.Equal(t, "SELF_HARM", d.Reason)
	assert.Empty(t, d.Candidates)
	assert.Equal(t, "Na tohle odpovědět nemohu.", reply)
}

func TestPipeline_ShortAnswerWhenTired(t *testing.T) {
	f := newFixture(t, Deps{})
	f.turns = 20

	d, _ := f.say(t, "Kolik je 10*4?")
	assert.Contains(t, d.Homeostasis, EnergyLow)
	assert.True(t, d.Has(contract.ShortAnswer))
}

func TestPipeline_RecordsShortTermMemory(t *testing.T) {
	f := newFixture(t, Deps{})

	f.say(t, "Ahoj")
	f.say(t, "Kolik je 10*4?")

	entries, err := f.stm.Recent(context.Background(), "u1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "SOCIAL", entries[0].Pipeline)
	assert.Equal(t, "FACT", entries[1].Pipeline)
	assert.Equal(t, []string{facts.Arithmetic}, entries[1].Actions)
	assert.True(t, entries[1].At.Equal(fixedNow))
}

func TestPipeline_StoresPersonalFacts(t *testing.T) {
	ltm := memory.NewFileFacts(t.TempDir())
	f := newFixture(t, Deps{LongTerm: ltm})

	f.say(t, "Jmenuji se Eva")

	got, err := ltm.Facts(context.Background(), "u1")
	require.NoError(t, err)
	require.Contains(t, got, "name")
	assert.Equal(t, "Eva", got["name"].Value)
	assert.Equal(t, memory.SourceUserStatement, got["name"].Source)
	assert.Equal(t, 1.0, got["name"].Confidence)
}

func TestPipeline_ToneFromProfile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "u1"), 0o755))
	doc := `{"user_id":"u1","access":{"allowed_actions":["*"]},"preferences":{"communication_style":"formal"}}`
	require.NoError(t, os.WriteFile(filepath.Join(root, "u1", "profile.json"), []byte(doc), 0o644))

	f := newFixture(t, Deps{Profiles: profile.NewFileStore(root)})

	_, reply := f.say(t, "Ahoj")
	assert.Equal(t, "Dobrý den.", reply)

	// Two low-confidence turns make the user frustrated and drop the formal tone.
	f.say(t, "blabla")
	f.say(t, "nevím co")
	d, reply := f.say(t, "Ahoj")
	assert.Equal(t, EmotionFrustrated, d.Emotion)
	assert.Equal(t, "Ahoj.", reply)
}

func TestPipeline_Commands(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		out   action.Outcome
		reply string
		calls int
	}{
		{"success", "/noop", action.Success("No-op action executed", nil), "Hotovo.", 1},
		{"blocked", "/noop", action.Blocked("Action not allowed"), "Tohle teď udělat nemohu.", 1},
		{"failed", "/noop", action.Failed("Boom", nil), "Tohle se nepovedlo.", 1},
		{"parse error", "/set", action.Outcome{}, "Tomu příkazu nerozumím.", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &fakeCommander{out: tt.out}
			f := newFixture(t, Deps{Commands: cmd})

			d, err := f.p.Process(context.Background(), Turn{UserID: "u1", Text: tt.text, RequestID: "r1", Channel: "cli"})
			require.NoError(t, err)
			c, err := d.Contract()
			require.NoError(t, err)

			assert.Equal(t, PipelineCommand, d.Pipeline)
			assert.Equal(t, tt.reply, contract.Render(c))
			assert.Len(t, cmd.calls, tt.calls)
			require.NotNil(t, d.Command)

			entries, err := f.stm.Recent(context.Background(), "u1", 0)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestPipeline_CommandCarriesRequestContext(t *testing.T) {
	cmd := &fakeCommander{out: action.Success("ok", nil)}
	f := newFixture(t, Deps{Commands: cmd})

	_, err := f.p.Process(context.Background(), Turn{UserID: "u1", Text: "/set verbosity 3", RequestID: "req-9", Channel: "discord"})
	require.NoError(t, err)
	require.Len(t, cmd.calls, 1)
	assert.Equal(t, "set_preference", cmd.calls[0].ActionType)
	assert.Equal(t, "req-9", cmd.rc.RequestID)
	assert.Equal(t, "discord", cmd.rc.Channel)
}

func TestPipeline_CommandsUnavailable(t *testing.T) {
	f := newFixture(t, Deps{})

	d, reply := f.say(t, "/noop")
	assert.Equal(t, PipelineCommand, d.Pipeline)
	assert.Equal(t, "Tohle se nepovedlo.", reply)
	assert.Equal(t, action.ErrorTypeBlocked, d.Command.ErrorType())
}

func TestPipeline_CanceledContext(t *testing.T) {
	f := newFixture(t, Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.p.Process(ctx, Turn{UserID: "u1", Text: "Ahoj"})
	assert.ErrorIs(t, err, context.Canceled)
}
