package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tern-dev/tern/pkg/ai"
	"github.com/tern-dev/tern/pkg/ai/models"
	"github.com/tern-dev/tern/pkg/bus"
	"github.com/tern-dev/tern/pkg/runlog"
	"github.com/tern-dev/tern/pkg/tools"
)

// drive runs one turn: provider calls and tool batches until the model stops,
// the step budget runs out, something fails terminally, or the turn is
// cancelled. Exactly one done event is emitted per top-level turn.
func (e *Engine) drive(ctx context.Context, prompt string) (*TurnResult, error) {
	res := &TurnResult{Reason: bus.ReasonStop}

	if strings.TrimSpace(prompt) == "" {
		if !e.nested {
			e.bus.Emit(bus.Event{Type: bus.EventDone, Reason: bus.ReasonStop})
		}
		return res, nil
	}

	if !e.nested {
		e.bus.Emit(bus.Event{Type: bus.EventTurnStart})
	}
	e.cost.BeginTurn()
	e.store.AddUser(prompt)

	var turnErr error
	step := 0

	for {
		if ctx.Err() != nil {
			res.Reason = bus.ReasonCancelled
			break
		}
		if step >= e.opts.MaxSteps {
			res.Reason = bus.ReasonStepLimit
			res.StepLimitReached = true
			break
		}
		step++

		e.maybeCompact()

		out, err := e.callModel(ctx, step)
		if err != nil {
			// Salvage whatever text streamed in before the failure; the
			// partial carries no tool calls, so pairing is unaffected.
			if out.text != "" || out.reasoning != "" {
				e.store.AddAssistant(ai.Message{
					Role:             ai.RoleAssistant,
					Content:          out.text,
					ReasoningContent: out.reasoning,
					Timestamp:        time.Now().UnixMilli(),
				})
				res.FinalText = out.text
			}
			if ctx.Err() != nil {
				res.Reason = bus.ReasonCancelled
				break
			}
			e.bus.Emit(bus.Event{Type: bus.EventError, Step: step, Err: err.Error()})
			res.Reason = bus.ReasonError
			turnErr = E(KindProvider, err)
			break
		}

		stepCost := e.cost.Add(e.model, out.usage)
		res.Usage.Add(out.usage)
		u := out.usage
		e.bus.Emit(bus.Event{Type: bus.EventUsage, Step: step, Usage: &u, CostUSD: stepCost})

		e.store.AddAssistant(ai.Message{
			Role:             ai.RoleAssistant,
			Content:          out.text,
			ReasoningContent: out.reasoning,
			ToolCalls:        out.calls,
			Timestamp:        time.Now().UnixMilli(),
		})
		if out.text != "" {
			res.FinalText = out.text
			e.bus.Emit(bus.Event{Type: bus.EventText, Step: step, Text: out.text})
		}

		e.log.TurnStep(runlog.TurnStep{
			Step:         step,
			TextLen:      len(out.text),
			ToolCalls:    len(out.calls),
			InputTokens:  out.usage.InputTokens,
			OutputTokens: out.usage.OutputTokens,
			CostUSD:      stepCost,
		})

		if len(out.calls) == 0 {
			res.Reason = bus.ReasonStop
			break
		}

		for _, r := range e.gate.ExecuteBatch(ctx, step, out.calls) {
			e.store.AddToolResult(r.Call.ID, toolMessageContent(r.Result))
		}
	}

	if !e.nested {
		e.buffer.Flush(e.sink, e.opts.SessionID, e.bus, e.logger)
	}

	res.Steps = step
	res.CostUSD = e.cost.TurnDelta().USD
	if !e.nested {
		e.bus.Emit(bus.Event{
			Type:             bus.EventDone,
			Reason:           res.Reason,
			StepLimitReached: res.StepLimitReached,
		})
	}
	if res.Reason == bus.ReasonCancelled && turnErr == nil {
		turnErr = Errorf(KindCancelled, "turn cancelled")
	}
	return res, turnErr
}

func (e *Engine) maybeCompact() {
	if !e.opts.CompactionEnabled {
		return
	}
	if !e.store.ShouldCompact(e.opts.CompactionThreshold) {
		return
	}
	e.compact()
}

func (e *Engine) compact() {
	r := e.store.Compact(e.opts.KeepRecent)
	if r.Compacted {
		e.bus.Emit(bus.Event{Type: bus.EventCompaction, Elided: r.Elided})
	}
}

// stepOutcome is the accumulated output of one provider call.
type stepOutcome struct {
	text      string
	reasoning string
	calls     []ai.ToolCall
	usage     ai.Usage
	finish    ai.FinishReason

	// argsBytes is the length of partial tool-call arguments discarded on
	// a failed attempt.
	argsBytes int
}

// callModel performs one step's provider call with the retry budget. A
// context-length error gets one compaction attempt with an extra retry;
// other failures consume ordinary attempts. On terminal failure the partial
// outcome is returned alongside the error for salvage.
func (e *Engine) callModel(ctx context.Context, step int) (stepOutcome, error) {
	attempts := e.opts.ProviderRetries + 1
	compacted := false

	for attempt := 1; ; attempt++ {
		start := time.Now()
		out, err := e.streamOnce(ctx, step)

		rec := runlog.LLMCall{
			Model:            e.model,
			Attempt:          attempt,
			Elapsed:          time.Since(start),
			PromptTokens:     out.usage.InputTokens + out.usage.CachedTokens,
			CompletionTokens: out.usage.OutputTokens,
			FinishReason:     string(out.finish),
			ToolCalls:        len(out.calls),
		}
		if err == nil {
			e.log.LLMCall(rec)
			// A provider that accepted an over-long prompt without
			// complaint still forces compaction before the next step.
			if ai.IsSilentOverflow(out.usage, models.ContextWindowFor(e.model)) && e.opts.CompactionEnabled {
				e.compact()
			}
			return out, nil
		}

		rec.Err = err.Error()
		rec.DiscardedBytes = len(out.text) + len(out.reasoning) + out.argsBytes
		e.log.LLMCall(rec)

		if ctx.Err() != nil {
			return out, err
		}
		if ai.IsContextOverflow(err) && e.opts.CompactionEnabled && !compacted {
			compacted = true
			e.compact()
			continue
		}
		if attempt >= attempts {
			return out, err
		}
	}
}

// streamOnce submits the context to the provider and folds the chunk stream
// into a stepOutcome. Tool-call argument fragments are concatenated per
// index and parsed only at the execution boundary.
func (e *Engine) streamOnce(ctx context.Context, step int) (stepOutcome, error) {
	req := ai.Request{
		System:   e.store.SystemPrompt(),
		Messages: e.store.History(),
		Tools:    e.registry.Descriptors(),
		Options: ai.Options{
			MaxTokens:   e.opts.MaxTokens,
			Temperature: e.opts.Temperature,
		},
	}

	ch, wait := e.provider.Stream(ctx, e.model, req)

	type accum struct {
		id   string
		name string
		args strings.Builder
	}
	accums := map[int]*accum{}
	var text, reasoning strings.Builder
	var out stepOutcome

	for c := range ch {
		switch c.Kind {
		case ai.ChunkText:
			text.WriteString(c.Delta)
			e.bus.Emit(bus.Event{Type: bus.EventTextDelta, Step: step, Text: c.Delta})
		case ai.ChunkReasoning:
			reasoning.WriteString(c.Delta)
		case ai.ChunkToolCall:
			a := accums[c.Index]
			if a == nil {
				a = &accum{}
				accums[c.Index] = a
			}
			if c.ID != "" {
				a.id = c.ID
			}
			if c.Name != "" {
				a.name = c.Name
			}
			a.args.WriteString(c.ArgsFragment)
		case ai.ChunkUsage:
			out.usage = c.Usage
		case ai.ChunkDone:
			out.finish = c.FinishReason
		}
	}
	err := wait()

	out.text = text.String()
	out.reasoning = reasoning.String()

	if err != nil {
		// Partial tool calls are never salvaged; only their size survives,
		// in the structured log.
		for _, a := range accums {
			out.argsBytes += a.args.Len()
		}
		return out, err
	}

	indexes := make([]int, 0, len(accums))
	for idx := range accums {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		a := accums[idx]
		id := a.id
		if id == "" {
			id = "call_" + uuid.New().String()[:8]
		}
		out.calls = append(out.calls, ai.ToolCall{ID: id, Name: a.name, Arguments: a.args.String()})
	}
	return out, nil
}

// toolMessageContent renders a gate result as the tool message the model
// sees. Errors are prefixed so models without a structured error channel can
// tell them apart.
func toolMessageContent(r tools.Result) string {
	if r.IsError && !strings.HasPrefix(r.Output, "Error") {
		return "Error: " + r.Output
	}
	return r.Output
}
