package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/locushq/locus/pkg/models"
)

// Config tunes an Agent's turn loop.
type Config struct {
	// Model is the provider model ID. Empty selects the provider default.
	Model string

	// System is the composed system prompt for this agent.
	System string

	// MaxTokens caps each completion. Default: 4096.
	MaxTokens int

	// Temperature is passed through to the provider when positive.
	Temperature float32

	// MaxIterations bounds the completion/tool-call loop. Default: 5.
	MaxIterations int

	// Exposed lists the tool names offered to the model. Only these are
	// sent as schemas; everything else stays reachable through use_tool.
	Exposed []string
}

// TurnCallbacks let the caller observe and steer a turn while it runs.
// All fields are optional.
type TurnCallbacks struct {
	// OnDelta receives streamed response text as it arrives.
	OnDelta func(text string)

	// BeforeToolCall gates a tool call. Returning a non-nil result
	// substitutes it for the real execution, which is skipped. This is
	// where autonomy and approval decisions plug in.
	BeforeToolCall func(ctx context.Context, call models.ToolCall) *ToolResult

	// OnToolStart fires when a tool call is about to execute.
	OnToolStart func(call models.ToolCall)

	// OnToolEnd fires when a tool call finished, with its outcome.
	OnToolEnd func(call models.ToolCall, result models.ToolResult, duration time.Duration)

	// OnModelCall fires after each completion with token usage.
	OnModelCall func(provider, model string, inputTokens, outputTokens int, duration time.Duration)

	// OnMessage fires for each message the loop appends to the
	// conversation: the assistant turn and the tool results turn.
	OnMessage func(msg CompletionMessage)
}

// TurnResult summarises a completed turn.
type TurnResult struct {
	// Content is the assistant text of the final iteration.
	Content string

	// FinishReason is the provider's stop reason for the final completion.
	FinishReason string

	// Usage accumulates token counts across all iterations of the turn.
	Usage models.Usage

	// Iterations is how many completions the turn took.
	Iterations int

	// ToolCallCount is how many tool calls the turn executed or gated.
	ToolCallCount int
}

// Agent drives the completion/tool-call loop for one assembled agent.
//
// A turn sends the conversation to the provider, streams text back, and
// executes any requested tool calls, feeding results into the next
// completion until the model stops asking for tools or the iteration
// budget runs out.
type Agent struct {
	provider LLMProvider
	registry *Registry
	executor *Executor
	logger   *slog.Logger
	config   Config
}

// New creates an Agent over the provider and registry. A nil executor gets
// defaults; a nil logger discards.
func New(provider LLMProvider, registry *Registry, executor *Executor, logger *slog.Logger, config Config) *Agent {
	if executor == nil {
		executor = NewExecutor(registry, nil)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 4096
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = 5
	}
	return &Agent{
		provider: provider,
		registry: registry,
		executor: executor,
		logger:   logger,
		config:   config,
	}
}

// Registry returns the agent's tool registry.
func (a *Agent) Registry() *Registry {
	return a.registry
}

// Executor returns the agent's tool executor.
func (a *Agent) Executor() *Executor {
	return a.executor
}

// Config returns a copy of the agent's configuration.
func (a *Agent) Config() Config {
	return a.config
}

// Turn runs one conversation turn over the given history. The history must
// end with the message that triggered the turn. On ErrMaxIterations the
// returned result still carries whatever content and usage accumulated.
func (a *Agent) Turn(ctx context.Context, history []CompletionMessage, cb TurnCallbacks) (*TurnResult, error) {
	if a.provider == nil {
		return nil, ErrNoProvider
	}

	req := &CompletionRequest{
		Model:       a.config.Model,
		System:      a.config.System,
		Messages:    append([]CompletionMessage(nil), history...),
		Tools:       a.registry.Schemas(a.config.Exposed...),
		MaxTokens:   a.config.MaxTokens,
		Temperature: a.config.Temperature,
	}

	result := &TurnResult{FinishReason: "stop"}

	for iter := 0; iter < a.config.MaxIterations; iter++ {
		select {
		case <-ctx.Done():
			return result, &TurnError{Phase: PhaseCompletion, Iteration: iter, Err: ctx.Err()}
		default:
		}
		result.Iterations = iter + 1

		modelStart := time.Now()
		completion, err := a.provider.Complete(ctx, req)
		if err != nil {
			return result, &TurnError{Phase: PhaseCompletion, Iteration: iter, Err: err}
		}

		var text strings.Builder
		var toolCalls []models.ToolCall
		var inputTokens, outputTokens, cachedTokens int

		for chunk := range completion {
			if chunk == nil {
				continue
			}
			if chunk.Error != nil {
				return result, &TurnError{Phase: PhaseStreaming, Iteration: iter, Err: chunk.Error}
			}
			if chunk.Text != "" {
				if text.Len()+len(chunk.Text) > MaxResponseTextSize {
					err := fmt.Errorf("response text exceeds maximum size of %d bytes", MaxResponseTextSize)
					return result, &TurnError{Phase: PhaseStreaming, Iteration: iter, Err: err}
				}
				text.WriteString(chunk.Text)
				if cb.OnDelta != nil {
					cb.OnDelta(chunk.Text)
				}
			}
			if chunk.ToolCall != nil {
				if len(toolCalls) >= MaxToolCallsPerIteration {
					err := fmt.Errorf("tool calls exceed maximum of %d per iteration", MaxToolCallsPerIteration)
					return result, &TurnError{Phase: PhaseStreaming, Iteration: iter, Err: err}
				}
				tc := *chunk.ToolCall
				if tc.ID == "" {
					tc.ID = uuid.NewString()
				}
				toolCalls = append(toolCalls, tc)
			}
			if chunk.Done {
				inputTokens = chunk.InputTokens
				outputTokens = chunk.OutputTokens
				cachedTokens = chunk.CachedTokens
				if chunk.FinishReason != "" {
					result.FinishReason = chunk.FinishReason
				}
				break
			}
		}
		if ctx.Err() != nil {
			return result, &TurnError{Phase: PhaseStreaming, Iteration: iter, Err: ctx.Err()}
		}

		result.Usage.InputTokens += inputTokens
		result.Usage.OutputTokens += outputTokens
		result.Usage.CachedTokens += cachedTokens
		result.Usage.TotalTokens = result.Usage.InputTokens + result.Usage.OutputTokens
		if cb.OnModelCall != nil {
			cb.OnModelCall(a.provider.Name(), req.Model, inputTokens, outputTokens, time.Since(modelStart))
		}

		assistantMsg := CompletionMessage{
			Role:      "assistant",
			Content:   text.String(),
			ToolCalls: toolCalls,
		}
		req.Messages = append(req.Messages, assistantMsg)
		if cb.OnMessage != nil {
			cb.OnMessage(assistantMsg)
		}
		result.Content = text.String()

		if len(toolCalls) == 0 {
			return result, nil
		}
		result.ToolCallCount += len(toolCalls)

		toolResults := a.runToolCalls(ctx, toolCalls, cb)
		toolMsg := CompletionMessage{
			Role:        "tool",
			ToolResults: toolResults,
		}
		req.Messages = append(req.Messages, toolMsg)
		if cb.OnMessage != nil {
			cb.OnMessage(toolMsg)
		}
	}

	a.logger.Warn("turn hit iteration limit",
		"max_iterations", a.config.MaxIterations,
		"tool_calls", result.ToolCallCount)
	return result, ErrMaxIterations
}

// runToolCalls executes one iteration's tool calls. Gated calls get their
// substitute results; the rest run through the executor in parallel.
// Results come back in the same order as the calls.
func (a *Agent) runToolCalls(ctx context.Context, calls []models.ToolCall, cb TurnCallbacks) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))

	allowed := make([]models.ToolCall, 0, len(calls))
	allowedIdx := make([]int, 0, len(calls))
	started := make([]time.Time, len(calls))

	for i, call := range calls {
		if cb.BeforeToolCall != nil {
			if gated := cb.BeforeToolCall(ctx, call); gated != nil {
				results[i] = models.ToolResult{
					ToolCallID: call.ID,
					Content:    gated.Content,
					IsError:    gated.IsError,
				}
				if cb.OnToolEnd != nil {
					cb.OnToolEnd(call, results[i], 0)
				}
				continue
			}
		}
		started[i] = time.Now()
		if cb.OnToolStart != nil {
			cb.OnToolStart(call)
		}
		allowed = append(allowed, call)
		allowedIdx = append(allowedIdx, i)
	}

	execResults := a.executor.ExecuteAll(ctx, allowed)
	for j, er := range execResults {
		i := allowedIdx[j]
		if er.Error != nil {
			results[i] = models.ToolResult{
				ToolCallID: calls[i].ID,
				Content:    er.Error.Error(),
				IsError:    true,
			}
		} else if er.Result != nil {
			results[i] = models.ToolResult{
				ToolCallID: calls[i].ID,
				Content:    er.Result.Content,
				IsError:    er.Result.IsError,
			}
		}
		if cb.OnToolEnd != nil {
			cb.OnToolEnd(calls[i], results[i], er.Duration)
		}
	}

	for i := range results {
		if results[i].ToolCallID == "" {
			results[i].ToolCallID = calls[i].ID
		}
	}
	return results
}
