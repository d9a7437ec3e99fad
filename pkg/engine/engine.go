// Package engine drives agentic turns: it streams provider responses,
// executes tool batches through the gate, tracks spend, and publishes the
// session's event stream.
package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tern-dev/tern/pkg/ai"
	"github.com/tern-dev/tern/pkg/ai/models"
	"github.com/tern-dev/tern/pkg/artifacts"
	"github.com/tern-dev/tern/pkg/bus"
	"github.com/tern-dev/tern/pkg/convo"
	"github.com/tern-dev/tern/pkg/policy"
	"github.com/tern-dev/tern/pkg/runlog"
	"github.com/tern-dev/tern/pkg/tasks"
	"github.com/tern-dev/tern/pkg/tools"
)

// DefaultMaxSteps is the provider-call budget per turn when the caller does
// not choose one.
const DefaultMaxSteps = 40

// Options are the engine's tunables. The zero value of MaxSteps is honoured
// literally: a turn with no step budget ends immediately with
// step_limit_reached.
type Options struct {
	SessionID string

	MaxSteps    int
	MaxTokens   int
	Temperature float64

	// ProviderRetries is how many extra attempts a failed provider call
	// gets within one step.
	ProviderRetries int

	// Compaction. Threshold 0 derives from the model's context window.
	CompactionEnabled   bool
	CompactionThreshold int
	KeepRecent          int

	// ToolPool bounds concurrently running safe tools (default 4).
	ToolPool int

	// Sub-agent dispatch.
	SubAgentSteps    int
	SubAgentParallel int
	SubAgentTimeout  time.Duration

	Logger *slog.Logger
}

// Config wires an Engine's collaborators. Provider and Model are required;
// everything else has a working default.
type Config struct {
	Provider ai.Provider
	Model    string

	SystemPrompt string
	Workspace    string

	Store    *convo.Store
	Registry *tools.Registry
	Bus      *bus.Bus
	Tasks    *tasks.Manager
	Buffer   *artifacts.Buffer
	Sink     artifacts.Sink

	Policy     policy.Hook
	PolicyMode policy.Mode

	Log *runlog.Logger

	Options Options
}

// Engine owns one session: its context store, tool gate, cost tracker and
// event bus. One turn runs at a time.
type Engine struct {
	provider  ai.Provider
	model     string
	workspace string

	store    *convo.Store
	registry *tools.Registry
	bus      *bus.Bus
	tasks    *tasks.Manager
	buffer   *artifacts.Buffer
	sink     artifacts.Sink
	cost     *CostTracker
	gate     *gate
	log      *runlog.Logger
	logger   *slog.Logger

	hook policy.Hook
	mode policy.Mode

	opts Options

	// nested marks a sub-agent engine: it shares the parent's bus and
	// suppresses turn_start/done and the deferred flush.
	nested bool

	mu       sync.Mutex
	running  bool
	cancelFn context.CancelFunc
}

// New builds an Engine from cfg.
func New(cfg Config) (*Engine, error) {
	if cfg.Provider == nil {
		return nil, Errorf(KindInput, "engine: provider is required")
	}
	if cfg.Model == "" {
		return nil, Errorf(KindInput, "engine: model is required")
	}

	opts := cfg.Options
	if opts.SessionID == "" {
		opts.SessionID = uuid.New().String()[:8]
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.CompactionThreshold == 0 {
		opts.CompactionThreshold = compactionThresholdFor(cfg.Model)
	}
	if opts.KeepRecent == 0 {
		opts.KeepRecent = convo.DefaultKeepRecent
	}
	if opts.SubAgentSteps == 0 {
		opts.SubAgentSteps = DefaultSubAgentSteps
	}
	if opts.SubAgentParallel == 0 {
		opts.SubAgentParallel = DefaultSubAgentParallel
	}
	if opts.SubAgentTimeout == 0 {
		opts.SubAgentTimeout = DefaultSubAgentTimeout
	}

	e := &Engine{
		provider:  cfg.Provider,
		model:     cfg.Model,
		workspace: cfg.Workspace,
		store:     cfg.Store,
		registry:  cfg.Registry,
		bus:       cfg.Bus,
		tasks:     cfg.Tasks,
		buffer:    cfg.Buffer,
		sink:      cfg.Sink,
		hook:      cfg.Policy,
		mode:      cfg.PolicyMode,
		log:       cfg.Log,
		logger:    opts.Logger,
		cost:      NewCostTracker(),
		opts:      opts,
	}
	if e.store == nil {
		e.store = convo.New(convo.Options{SystemPrompt: cfg.SystemPrompt, Logger: e.logger})
	}
	if e.registry == nil {
		e.registry = tools.NewRegistry()
	}
	if e.bus == nil {
		e.bus = bus.New(opts.SessionID, e.logger)
	}
	if e.buffer == nil {
		e.buffer = artifacts.NewBuffer()
	}
	if e.log == nil {
		e.log = runlog.Discard()
	}
	if e.mode == "" {
		e.mode = policy.ModeOff
	}
	e.gate = newGate(e.registry, e.bus, e.log, e.hook, e.mode, opts.ToolPool)

	if e.tasks != nil {
		wireTaskEvents(e.tasks, e.bus)
	}
	return e, nil
}

// compactionThresholdFor is three quarters of the model's context window,
// with a floor for unknown models.
func compactionThresholdFor(model string) int {
	if w := models.ContextWindowFor(model); w > 0 {
		return w * 3 / 4
	}
	return 150000
}

// wireTaskEvents surfaces task lifecycle transitions on the bus. Callbacks
// already set by the caller are left alone.
func wireTaskEvents(m *tasks.Manager, b *bus.Bus) {
	if m.OnStarted == nil {
		m.OnStarted = func(t *tasks.Task) {
			b.Emit(bus.Event{Type: bus.EventTaskStarted, TaskID: t.ID, Command: t.Command})
		}
	}
	if m.OnCompleted == nil {
		m.OnCompleted = func(t *tasks.Task) {
			b.Emit(bus.Event{Type: bus.EventTaskCompleted, TaskID: t.ID, Command: t.Command, ExitCode: t.ExitCode()})
		}
	}
	if m.OnFailed == nil {
		m.OnFailed = func(t *tasks.Task) {
			b.Emit(bus.Event{Type: bus.EventTaskFailed, TaskID: t.ID, Command: t.Command, ExitCode: t.ExitCode()})
		}
	}
}

// Bus returns the session's event bus.
func (e *Engine) Bus() *bus.Bus { return e.bus }

// Store returns the session's context store.
func (e *Engine) Store() *convo.Store { return e.store }

// Registry returns the session's tool registry.
func (e *Engine) Registry() *tools.Registry { return e.registry }

// Cost returns the session's cost tracker.
func (e *Engine) Cost() *CostTracker { return e.cost }

// SessionID returns the session identifier.
func (e *Engine) SessionID() string { return e.opts.SessionID }

// TurnResult summarises one completed turn.
type TurnResult struct {
	FinalText        string
	Usage            ai.Usage
	CostUSD          float64
	Steps            int
	StepLimitReached bool
	Reason           string
	Events           []bus.Event
}

// RunTurn runs one turn to completion and returns its summary. The returned
// error is nil for normal and step-limited turns, KindCancelled after a
// cancel, KindProvider when the provider failed terminally.
func (e *Engine) RunTurn(ctx context.Context, prompt string) (*TurnResult, error) {
	tctx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer e.end()

	sub := e.bus.SubscribeCurrent()
	res, turnErr := e.drive(tctx, prompt)
	res.Events = sub.Events()
	return res, turnErr
}

// StreamTurn starts one turn and returns the live event channel. The channel
// closes after the turn's done event.
func (e *Engine) StreamTurn(ctx context.Context, prompt string) (<-chan bus.Event, error) {
	tctx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	ch := e.bus.Stream(ctx)
	go func() {
		defer e.end()
		e.drive(tctx, prompt)
	}()
	return ch, nil
}

// RunSubTask runs one sub-agent turn and returns its final text. The child
// shares this engine's workspace, bus, cost tracker and task manager but not
// its context.
func (e *Engine) RunSubTask(ctx context.Context, task string) (string, error) {
	child, err := e.newChild()
	if err != nil {
		return "", err
	}
	res, err := child.RunTurn(ctx, task)
	if err != nil {
		return "", err
	}
	return res.FinalText, nil
}

// Cancel requests cooperative cancellation of the running turn. It is safe
// to call at any time; with no turn running it is a no-op.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelFn != nil {
		e.cancelFn()
	}
}

func (e *Engine) begin(ctx context.Context) (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil, Errorf(KindInput, "engine: a turn is already running")
	}
	e.running = true
	tctx, cancel := context.WithCancel(ctx)
	e.cancelFn = cancel
	e.bus.Reopen()
	return tctx, nil
}

func (e *Engine) end() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	if e.cancelFn != nil {
		e.cancelFn()
		e.cancelFn = nil
	}
}
