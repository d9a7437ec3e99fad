package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tern-dev/tern/pkg/ai"
	"github.com/tern-dev/tern/pkg/bus"
	"github.com/tern-dev/tern/pkg/policy"
	"github.com/tern-dev/tern/pkg/runlog"
	"github.com/tern-dev/tern/pkg/tools"
)

const (
	// DefaultToolTimeout bounds one tool execution unless the tool
	// declares its own.
	DefaultToolTimeout = 120 * time.Second

	// DefaultToolPool is the number of concurrent-safe tools allowed to
	// run at once.
	DefaultToolPool = 4

	// maxToolRetries caps per-tool retry declarations.
	maxToolRetries = 3

	// defaultRetryBase is the first back-off delay; it doubles per attempt.
	defaultRetryBase = 500 * time.Millisecond

	// Output beyond maxToolOutput runes is cut to the first and last
	// truncKeep runes around a marker.
	maxToolOutput = 30000
	truncKeep     = 15000
)

// gate interposes on every tool execution of a session: validation, policy
// hooks, the read-only cache, timeouts, retries, output truncation and
// panic containment. One gate per engine; the cache lives for the session.
type gate struct {
	registry *tools.Registry
	bus      *bus.Bus
	log      *runlog.Logger
	hook     policy.Hook
	mode     policy.Mode
	pool     int

	mu    sync.Mutex
	cache map[string]tools.Result
}

func newGate(reg *tools.Registry, b *bus.Bus, log *runlog.Logger, hook policy.Hook, mode policy.Mode, pool int) *gate {
	if pool <= 0 {
		pool = DefaultToolPool
	}
	return &gate{
		registry: reg,
		bus:      b,
		log:      log,
		hook:     hook,
		mode:     mode,
		pool:     pool,
		cache:    map[string]tools.Result{},
	}
}

// batchResult pairs one call with its outcome.
type batchResult struct {
	Call     ai.ToolCall
	Result   tools.Result
	CacheHit bool
}

// ExecuteBatch runs the tool calls of one assistant step and returns results
// in completion order. Unsafe calls run sequentially in declared order; safe
// calls run in the bounded pool. Cancellation produces synthetic cancelled
// results for every call that did not finish.
func (g *gate) ExecuteBatch(ctx context.Context, step int, calls []ai.ToolCall) []batchResult {
	if len(calls) == 0 {
		return nil
	}

	var safe, unsafe []ai.ToolCall
	for _, c := range calls {
		if t := g.registry.Get(c.Name); t != nil && t.ConcurrentSafe {
			safe = append(safe, c)
		} else {
			unsafe = append(unsafe, c)
		}
	}

	out := make(chan batchResult, len(calls))
	var wg sync.WaitGroup

	sem := make(chan struct{}, g.pool)
	for _, c := range safe {
		wg.Add(1)
		go func(c ai.ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			out <- g.executeOne(ctx, step, c)
		}(c)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, c := range unsafe {
			out <- g.executeOne(ctx, step, c)
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	results := make([]batchResult, 0, len(calls))
	for r := range out {
		results = append(results, r)
	}
	return results
}

func (g *gate) executeOne(ctx context.Context, step int, call ai.ToolCall) batchResult {
	g.bus.Emit(bus.Event{
		Type:       bus.EventToolCall,
		Step:       step,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		ToolArgs:   call.Arguments,
	})

	res, cacheHit := g.run(ctx, step, call)
	res.Output = truncateOutput(res.Output)

	g.bus.Emit(bus.Event{
		Type:       bus.EventToolResult,
		Step:       step,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Output:     res.Output,
		IsError:    res.IsError,
		CacheHit:   cacheHit,
	})
	return batchResult{Call: call, Result: res, CacheHit: cacheHit}
}

func (g *gate) run(ctx context.Context, step int, call ai.ToolCall) (tools.Result, bool) {
	if ctx.Err() != nil {
		return cancelledResult(), false
	}

	t := g.registry.Get(call.Name)
	if t == nil {
		return tools.Errorf("unknown tool %q", call.Name), false
	}

	var rawArgs map[string]any
	if strings.TrimSpace(call.Arguments) != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &rawArgs); err != nil {
			return tools.Errorf("invalid tool arguments for %s: %v", call.Name, err), false
		}
	}
	args, err := tools.Validate(t, rawArgs, false)
	if err != nil {
		return tools.FromError(err), false
	}

	if g.mode != policy.ModeOff && g.hook != nil {
		findings := policy.Apply(g.mode, g.hook.Pre(call.Name, args))
		g.emitFindings(step, call, findings)
		if policy.Blocked(findings) {
			return tools.Errorf("blocked by policy: %s", findingSummary(findings)), false
		}
	}

	var cacheKey string
	if t.ReadOnly {
		cacheKey = cacheKeyFor(call.Name, args)
		g.mu.Lock()
		cached, ok := g.cache[cacheKey]
		g.mu.Unlock()
		if ok {
			g.log.ToolExec(runlog.ToolExec{Tool: call.Name, OutputLen: len(cached.Output), IsError: cached.IsError, CacheHit: true})
			return cached, true
		}
	}

	start := time.Now()
	res := g.runWithRetry(ctx, step, t, call, args)

	if g.mode != policy.ModeOff && g.hook != nil {
		post, findings := g.hook.Post(call.Name, args, res)
		findings = policy.Apply(g.mode, findings)
		g.emitFindings(step, call, findings)
		if g.mode == policy.ModeEnforce {
			res = post
		}
	}

	g.log.ToolExec(runlog.ToolExec{
		Tool:      call.Name,
		Elapsed:   time.Since(start),
		OutputLen: len(res.Output),
		IsError:   res.IsError,
	})

	if cacheKey != "" && !res.IsError && ctx.Err() == nil {
		g.mu.Lock()
		g.cache[cacheKey] = res
		g.mu.Unlock()
	}
	return res, false
}

// runWithRetry applies the timeout and the per-tool retry budget. Only plain
// tool errors are retried; timeout, cancellation and validation failures
// never are.
func (g *gate) runWithRetry(ctx context.Context, step int, t *tools.Tool, call ai.ToolCall, args map[string]any) tools.Result {
	retries := min(t.MaxRetries, maxToolRetries)
	delay := t.RetryBase
	if delay <= 0 {
		delay = defaultRetryBase
	}

	for attempt := 0; ; attempt++ {
		res, timedOut := g.runOnce(ctx, step, t, call, args)
		if ctx.Err() != nil {
			return cancelledResult()
		}
		if timedOut || !res.IsError || attempt >= retries {
			return res
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return cancelledResult()
		}
		delay *= 2
	}
}

// runOnce executes the tool under its timeout with panic containment. The
// second return is true when the deadline expired.
func (g *gate) runOnce(ctx context.Context, step int, t *tools.Tool, call ai.ToolCall, args map[string]any) (tools.Result, bool) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var progress tools.ProgressFn
	if t.Streaming() {
		progress = func(message string, pct float64) {
			g.bus.Emit(bus.Event{
				Type:       bus.EventToolProgress,
				Step:       step,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Progress:   message,
				Pct:        pct,
			})
		}
	}

	type outcome struct {
		res tools.Result
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- outcome{res: tools.Errorf("tool %s panicked: %v", call.Name, p)}
			}
		}()
		res, err := t.Execute(cctx, args, progress)
		ch <- outcome{res: res, err: err}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			return tools.FromError(o.err), false
		}
		return o.res, false
	case <-cctx.Done():
		if ctx.Err() != nil {
			return cancelledResult(), false
		}
		return tools.Errorf("tool %s timed out after %s", call.Name, timeout), true
	}
}

func (g *gate) emitFindings(step int, call ai.ToolCall, findings []policy.Finding) {
	for _, f := range findings {
		g.bus.Emit(bus.Event{
			Type:       bus.EventToolPolicyWarn,
			Step:       step,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Policy:     f.Policy,
			Severity:   string(f.Severity),
			Output:     f.Message,
		})
	}
}

func findingSummary(findings []policy.Finding) string {
	var parts []string
	for _, f := range findings {
		if f.Severity == policy.SeverityBlock {
			parts = append(parts, fmt.Sprintf("%s: %s", f.Policy, f.Message))
		}
	}
	return strings.Join(parts, "; ")
}

// cancelledResult is the synthetic result injected for calls that were
// cancelled before completing, keeping the pairing invariant intact.
func cancelledResult() tools.Result {
	return tools.Result{Output: "cancelled", IsError: true}
}

// cacheKeyFor builds the read-only cache key. json.Marshal emits map keys in
// sorted order, which canonicalises equivalent argument maps.
func cacheKeyFor(name string, args map[string]any) string {
	b, err := json.Marshal(args)
	if err != nil {
		return name + "\x00" + fmt.Sprint(args)
	}
	return name + "\x00" + string(b)
}

// truncateOutput keeps the first and last truncKeep runes of oversized
// output. Exactly maxToolOutput runes pass untouched.
func truncateOutput(s string) string {
	runes := []rune(s)
	if len(runes) <= maxToolOutput {
		return s
	}
	return string(runes[:truncKeep]) + "…[truncated]…" + string(runes[len(runes)-truncKeep:])
}
