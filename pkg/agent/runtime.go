// Mira - deterministic Czech dialogue runtime
// License: MIT
//
// Copyright (c) 2026 Mira contributors

package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dotsetgreg/mirabase/pkg/action"
	"github.com/dotsetgreg/mirabase/pkg/action/handlers"
	"github.com/dotsetgreg/mirabase/pkg/brain"
	"github.com/dotsetgreg/mirabase/pkg/bus"
	"github.com/dotsetgreg/mirabase/pkg/config"
	"github.com/dotsetgreg/mirabase/pkg/contract"
	"github.com/dotsetgreg/mirabase/pkg/execlog"
	"github.com/dotsetgreg/mirabase/pkg/facts"
	"github.com/dotsetgreg/mirabase/pkg/logger"
	"github.com/dotsetgreg/mirabase/pkg/memory"
	"github.com/dotsetgreg/mirabase/pkg/profile"
	"github.com/dotsetgreg/mirabase/pkg/sqlitedb"
	"github.com/dotsetgreg/mirabase/pkg/utils"
)

// Runtime owns the stores and wires the dispatcher and the brain pipeline
// behind every adapter.
type Runtime struct {
	cfg        *config.Config
	profiles   *profile.FileStore
	journal    execlog.Journal
	dispatcher *action.Dispatcher
	pipeline   *brain.Pipeline
	stm        memory.ShortTerm
	ltm        memory.LongTerm

	db        *sql.DB
	rdb       redis.UniversalClient
	ownsRedis bool

	users   *utils.KeyedMutex
	turnsMu sync.Mutex
	turns   map[string]int
	running atomic.Bool
}

// Option adjusts how New builds the runtime.
type Option func(*options)

type options struct {
	rdb redis.UniversalClient
	now func() time.Time
}

// WithRedisClient makes the redis STM backend use rdb instead of dialing
// memory.redis.addr. The caller keeps ownership of rdb.
func WithRedisClient(rdb redis.UniversalClient) Option {
	return func(o *options) { o.rdb = rdb }
}

// WithClock fixes the clock of the gate, the fact engine and the pipeline.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// TurnResult is what one conversational turn produced.
type TurnResult struct {
	Reply    string            `json:"reply"`
	Decision brain.Decision    `json:"decision"`
	Contract contract.Contract `json:"contract"`
}

func New(cfg *config.Config, opts ...Option) (*Runtime, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	rt := &Runtime{
		cfg:      cfg,
		profiles: profile.NewFileStore(UsersDir(cfg)),
		users:    utils.NewKeyedMutex(),
		turns:    make(map[string]int),
	}
	if err := rt.openStores(o); err != nil {
		rt.Close()
		return nil, err
	}

	rules, err := brain.LoadRules(cfg.RulesPath())
	if err != nil {
		rt.Close()
		return nil, err
	}

	gate := action.NewGate(rt.profiles, rt.journal).WithClock(o.now)
	registry := action.NewRegistry()
	handlers.RegisterBuiltins(registry, rt.profiles)
	rt.dispatcher = action.NewDispatcher(gate, registry, rt.journal)

	rt.pipeline = brain.NewPipeline(brain.Deps{
		Rules:     rules,
		ShortTerm: rt.stm,
		LongTerm:  rt.ltm,
		Facts:     facts.NewEngine().WithClock(o.now),
		Profiles:  rt.profiles,
		Commands:  rt.dispatcher,
	}, cfg.Brain).WithClock(o.now)

	logger.InfoCF("agent", "Runtime initialized", map[string]interface{}{
		"journal":     cfg.Journal.Backend,
		"stm":         cfg.Memory.STMBackend,
		"ltm":         cfg.Memory.LTMBackend,
		"rules":       rules.Version,
		"actions":     registry.Count(),
		"data_dir":    cfg.DataDir(),
		"timezone":    cfg.Brain.Timezone,
		"redis_owned": rt.ownsRedis,
	})
	return rt, nil
}

// UsersDir is where profiles and file-backed facts live.
func UsersDir(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir(), "users")
}

func (rt *Runtime) openStores(o options) error {
	cfg := rt.cfg
	needSQL := strings.EqualFold(cfg.Journal.Backend, "sqlite") || strings.EqualFold(cfg.Memory.LTMBackend, "sqlite")
	if needSQL {
		db, err := sqlitedb.Open(cfg.SQLitePath())
		if err != nil {
			return err
		}
		rt.db = db
	}

	if strings.EqualFold(cfg.Journal.Backend, "sqlite") {
		j, err := execlog.NewSQLiteJournal(rt.db)
		if err != nil {
			return err
		}
		rt.journal = j.WithClock(o.now)
	} else {
		rt.journal = execlog.NewJSONLJournal(cfg.ExecutionLogPath()).WithClock(o.now)
	}

	capacity := cfg.Memory.STMCapacity
	if strings.EqualFold(cfg.Memory.STMBackend, "redis") {
		rt.rdb = o.rdb
		if rt.rdb == nil {
			rc := cfg.Memory.Redis
			rt.rdb = redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
			rt.ownsRedis = true
		}
		rt.stm = memory.NewRedisShortTerm(rt.rdb, cfg.Memory.Redis.KeyPrefix, capacity)
	} else {
		rt.stm = memory.NewInMemoryShortTerm(capacity)
	}

	if strings.EqualFold(cfg.Memory.LTMBackend, "sqlite") {
		f, err := memory.NewSQLiteFacts(rt.db)
		if err != nil {
			return err
		}
		rt.ltm = f
	} else {
		rt.ltm = memory.NewFileFacts(UsersDir(cfg))
	}
	return nil
}

// ProcessTurn decides and renders one utterance of userID. Turns of the
// same user are serialized.
func (rt *Runtime) ProcessTurn(ctx context.Context, userID, text string, rc action.RequestContext) (TurnResult, error) {
	if err := profile.ValidateUserID(userID); err != nil {
		return TurnResult{}, err
	}
	unlock := rt.users.Lock(userID)
	defer unlock()

	d, err := rt.pipeline.Process(ctx, brain.Turn{
		UserID:    userID,
		Text:      text,
		TurnCount: rt.nextTurn(userID),
		RequestID: rc.RequestID,
		Channel:   rc.Channel,
	})
	if err != nil {
		return TurnResult{}, fmt.Errorf("process turn: %w", err)
	}
	c, err := d.Contract()
	if err != nil {
		return TurnResult{}, fmt.Errorf("build contract: %w", err)
	}
	return TurnResult{Reply: contract.Render(c), Decision: d, Contract: c}, nil
}

func (rt *Runtime) nextTurn(userID string) int {
	rt.turnsMu.Lock()
	defer rt.turnsMu.Unlock()
	rt.turns[userID]++
	return rt.turns[userID]
}

// Dispatch runs a structured action through the gate.
func (rt *Runtime) Dispatch(ctx context.Context, a action.Action, userID string, rc action.RequestContext) action.Outcome {
	return rt.dispatcher.Dispatch(ctx, a, userID, rc)
}

// SetPreference validates and stores one preference value.
func (rt *Runtime) SetPreference(ctx context.Context, userID, key string, value interface{}) action.Outcome {
	h := handlers.NewSetPreference(rt.profiles)
	return h.Handle(ctx, action.Request{
		ActionType: h.Name(),
		Params:     map[string]interface{}{key: value},
		UserID:     userID,
	})
}

// ClearShortTerm drops the user's STM window and restarts the turn count.
func (rt *Runtime) ClearShortTerm(ctx context.Context, userID string) error {
	if err := profile.ValidateUserID(userID); err != nil {
		return err
	}
	unlock := rt.users.Lock(userID)
	defer unlock()
	if err := rt.stm.Clear(ctx, userID); err != nil {
		return fmt.Errorf("clear short-term memory: %w", err)
	}
	rt.turnsMu.Lock()
	delete(rt.turns, userID)
	rt.turnsMu.Unlock()
	return nil
}

func (rt *Runtime) History(ctx context.Context, userID string) ([]memory.Entry, error) {
	return rt.stm.Recent(ctx, userID, 0)
}

func (rt *Runtime) Facts(ctx context.Context, userID string) (map[string]memory.Fact, error) {
	return rt.ltm.Facts(ctx, userID)
}

func (rt *Runtime) Profiles() *profile.FileStore { return rt.profiles }
func (rt *Runtime) Registry() *action.Registry { return rt.dispatcher.Registry() }
func (rt *Runtime) Rules() *brain.Rules { return rt.pipeline.Rules() }
func (rt *Runtime) Config() *config.Config { return rt.cfg }
func (rt *Runtime) IsRunning() bool { return rt.running.Load() }
func (rt *Runtime) ShortTerm() memory.ShortTerm { return rt.stm }
func (rt *Runtime) Journal() execlog.Journal { return rt.journal }

// Ready pings the external backends in use.
func (rt *Runtime) Ready(ctx context.Context) error {
	var errs []error
	if rt.db != nil {
		if err := rt.db.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("sqlite: %w", err))
		}
	}
	if rt.rdb != nil {
		if err := rt.rdb.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// HandleInbound is the default bus handler: one chat message is one turn.
func (rt *Runtime) HandleInbound(ctx context.Context, msg bus.InboundMessage) (string, error) {
	res, err := rt.ProcessTurn(ctx, msg.UserID, msg.Content, action.RequestContext{
		RequestID: msg.RequestID,
		Channel:   msg.Channel,
	})
	if err != nil {
		return "", err
	}
	return res.Reply, nil
}

// Run consumes inbound messages until ctx is done or mb is closed, and
// publishes every non-empty reply back to the originating chat.
func (rt *Runtime) Run(ctx context.Context, mb *bus.MessageBus) error {
	rt.running.Store(true)
	defer rt.running.Store(false)

	for {
		msg, ok := mb.ConsumeInbound(ctx)
		if !ok {
			return nil
		}

		handler, found := mb.GetHandler(msg.Channel)
		if !found {
			handler = rt.HandleInbound
		}
		reply, err := handler(ctx, msg)
		if err != nil {
			logger.ErrorCF("agent", "Turn failed", map[string]interface{}{
				"channel": msg.Channel,
				"user_id": msg.UserID,
				"error":   err.Error(),
			})
			continue
		}
		if reply == "" {
			continue
		}
		mb.PublishOutbound(bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: reply,
		})
	}
}

// Close releases the database and any redis client the runtime dialed.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.db != nil {
		errs = append(errs, rt.db.Close())
		rt.db = nil
	}
	if rt.rdb != nil && rt.ownsRedis {
		errs = append(errs, rt.rdb.Close())
		rt.rdb = nil
	}
	return errors.Join(errs...)
}
