package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dotsetgreg/mirabase/pkg/action"
	"github.com/dotsetgreg/mirabase/pkg/bus"
	"github.com/dotsetgreg/mirabase/pkg/config"
	"github.com/dotsetgreg/mirabase/pkg/profile"
)

var fixedNow = time.Date(2026, 2, 6, 12, 34, 0, 0, time.UTC)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = dir
	cfg.Storage.ExecutionLog = filepath.Join(dir, "execution_log.jsonl")
	cfg.Storage.SQLitePath = filepath.Join(dir, "mira.db")
	return cfg
}

func newRuntime(t *testing.T, cfg *config.Config, opts ...Option) *Runtime {
	t.Helper()
	rt, err := New(cfg, append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func writeProfile(t *testing.T, cfg *config.Config, userID, allowed string) {
	t.Helper()
	dir := filepath.Join(UsersDir(cfg), userID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	doc := `{
  "user_id": "` + userID + `",
  "identity": {"status": "active"},
  "access": {"allowed_actions": ` + allowed + `, "denied_actions": [], "daily_limit": 100},
  "preferences": {"verbosity": 2}
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile.json"), []byte(doc), 0o644))
}

func TestRuntime_ProcessTurn(t *testing.T) {
	rt := newRuntime(t, testConfig(t))

	res, err := rt.ProcessTurn(context.Background(), "u1", "Kolik je 10*4?", action.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, "10*4 = 40.0", res.Reply)
	assert.Equal(t, "FACT", res.Contract.Pipeline)
	assert.NotEmpty(t, res.Contract.DecisionID)

	res, err = rt.ProcessTurn(context.Background(), "u1", "Kolik je hodin?", action.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, "Je 13:34.", res.Reply)
}

func TestRuntime_RejectsInvalidUser(t *testing.T) {
	rt := newRuntime(t, testConfig(t))

	_, err := rt.ProcessTurn(context.Background(), "../etc", "Ahoj", action.RequestContext{})
	assert.ErrorIs(t, err, profile.ErrInvalidUserID)
	assert.ErrorIs(t, rt.ClearShortTerm(context.Background(), ""), profile.ErrInvalidUserID)
}

func TestRuntime_ClearShortTermResetsSession(t *testing.T) {
	rt := newRuntime(t, testConfig(t))
	ctx := context.Background()

	for _, text := range []string{"Ahoj", "Kolik je 10*4?"} {
		_, err := rt.ProcessTurn(ctx, "u1", text, action.RequestContext{})
		require.NoError(t, err)
	}
	entries, err := rt.History(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, 2, rt.turns["u1"])

	require.NoError(t, rt.ClearShortTerm(ctx, "u1"))
	entries, err = rt.History(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Zero(t, rt.turns["u1"])
}

func TestRuntime_CommandsGoThroughGate(t *testing.T) {
	cfg := testConfig(t)
	writeProfile(t, cfg, "allowed", `["set_preference"]`)
	writeProfile(t, cfg, "denied", `["noop"]`)
	rt := newRuntime(t, cfg)
	ctx := context.Background()

	res, err := rt.ProcessTurn(ctx, "allowed", "/set verbosity 3", action.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, "Hotovo.", res.Reply)

	p, err := rt.Profiles().Load(ctx, "allowed")
	require.NoError(t, err)
	assert.Equal(t, json.Number("3"), p.Preferences()["verbosity"])

	res, err = rt.ProcessTurn(ctx, "denied", "/set verbosity 3", action.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, "Tohle teď udělat nemohu.", res.Reply)

	res, err = rt.ProcessTurn(ctx, "nobody", "/noop", action.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, "Tohle teď udělat nemohu.", res.Reply)

	res, err = rt.ProcessTurn(ctx, "allowed", "/set verbosity", action.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, "Tomu příkazu nerozumím.", res.Reply)
}

func TestRuntime_SetPreference(t *testing.T) {
	cfg := testConfig(t)
	writeProfile(t, cfg, "u1", `[]`)
	rt := newRuntime(t, cfg)

	out := rt.SetPreference(context.Background(), "u1", "communication_style", "formal")
	require.True(t, out.OK(), "%+v", out)

	res, err := rt.ProcessTurn(context.Background(), "u1", "Ahoj", action.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, "Dobrý den.", res.Reply)

	out = rt.SetPreference(context.Background(), "u1", "verbosity", 9)
	assert.False(t, out.OK())
}

func TestRuntime_SQLiteBackends(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.Backend = "sqlite"
	cfg.Memory.LTMBackend = "sqlite"
	writeProfile(t, cfg, "u1", `["*"]`)
	rt := newRuntime(t, cfg)
	ctx := context.Background()

	require.NoError(t, rt.Ready(ctx))

	_, err := rt.ProcessTurn(ctx, "u1", "Jmenuji se Eva", action.RequestContext{})
	require.NoError(t, err)
	got, err := rt.Facts(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Eva", got["name"].Value)

	rc := action.RequestContext{RequestID: "req-1"}
	first := rt.Dispatch(ctx, action.Action{ActionType: "noop"}, "u1", rc)
	require.True(t, first.OK())
	again := rt.Dispatch(ctx, action.Action{ActionType: "noop"}, "u1", rc)
	assert.True(t, again.Replayed())

	used, err := rt.Journal().CountForUserInWindow(ctx, "u1", 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, used)
}

func TestRuntime_RedisShortTerm(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig(t)
	cfg.Memory.STMBackend = "redis"
	cfg.Memory.STMCapacity = 2
	rt := newRuntime(t, cfg, WithRedisClient(rdb))
	ctx := context.Background()

	require.NoError(t, rt.Ready(ctx))
	for _, text := range []string{"Ahoj", "Kolik je 10*4?", "Kolik je hodin?"} {
		_, err := rt.ProcessTurn(ctx, "u1", text, action.RequestContext{})
		require.NoError(t, err)
	}
	entries, err := rt.History(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "ARITHMETIC", entries[0].Intent)
	assert.Equal(t, "TIME_NOW", entries[1].Intent)
	assert.True(t, mr.Exists(cfg.Memory.Redis.KeyPrefix+"u1"))

	require.NoError(t, rt.ClearShortTerm(ctx, "u1"))
	assert.False(t, mr.Exists(cfg.Memory.Redis.KeyPrefix+"u1"))
}

func TestRuntime_RunAnswersThroughBus(t *testing.T) {
	defer goleak.VerifyNone(t)

	rt := newRuntime(t, testConfig(t))
	mb := bus.NewMessageBus(8)
	defer mb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx, mb) }()

	mb.PublishInbound(bus.InboundMessage{Channel: "discord", ChatID: "c1", UserID: "bad/id", Content: "Ahoj"})
	mb.PublishInbound(bus.InboundMessage{Channel: "discord", ChatID: "c1", UserID: "discord:1", Content: "Ahoj"})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	out, ok := mb.SubscribeOutbound(waitCtx)
	require.True(t, ok)
	assert.Equal(t, bus.OutboundMessage{Channel: "discord", ChatID: "c1", Content: "Ahoj."}, out)

	cancel()
	require.NoError(t, <-done)
	assert.False(t, rt.IsRunning())
}

func TestRuntime_RunUsesChannelHandler(t *testing.T) {
	defer goleak.VerifyNone(t)

	rt := newRuntime(t, testConfig(t))
	mb := bus.NewMessageBus(8)
	mb.RegisterHandler("echo", func(_ context.Context, msg bus.InboundMessage) (string, error) {
		return "echo: " + msg.Content, nil
	})

	done := make(chan error, 1)
	go func() { done <- rt.Run(context.Background(), mb) }()

	mb.PublishInbound(bus.InboundMessage{Channel: "echo", ChatID: "x", UserID: "u1", Content: "hi"})
	waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, ok := mb.SubscribeOutbound(waitCtx)
	require.True(t, ok)
	assert.Equal(t, "echo: hi", out.Content)

	mb.Close()
	require.NoError(t, <-done)
}
