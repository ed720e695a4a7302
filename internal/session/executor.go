package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"

	"github.com/foreman-dev/foreman/internal/api"
)

// modelPricing holds USD prices per million input and output tokens for
// the models estimateCost knows; any other model is priced as
// claude-sonnet-4-20250514.
var modelPricing = map[string]struct{ InputPerMillion, OutputPerMillion float64 }{
	"claude-opus-4-5-20251101":   {15.00, 75.00},
	"claude-sonnet-4-20250514":   {3.00, 15.00},
	"claude-3-5-sonnet-20241022": {3.00, 15.00},
	"claude-3-5-haiku-20241022":  {0.80, 4.00},
}

func estimateCost(model string, input, output int64) float64 {
	p, ok := modelPricing[model]
	if !ok {
		p = modelPricing["claude-sonnet-4-20250514"]
	}
	return float64(input)/1_000_000*p.InputPerMillion + float64(output)/1_000_000*p.OutputPerMillion
}

// maxTurnIterations bounds the internal tool-call loop within a single
// Session turn.
const maxTurnIterations = 50

// APIExecutor is the production TurnExecutor, backed by the direct
// Anthropic API (or Bedrock, depending on how its *api.Client was built).
// It keeps one conversation history per external handle so a Session can
// resume across turns the way the runtime's own session resumption would.
type APIExecutor struct {
	client *api.Client

	mu        sync.Mutex
	histories map[string][]anthropic.MessageParam
}

// NewAPIExecutor wraps client as a session.TurnExecutor.
func NewAPIExecutor(client *api.Client) *APIExecutor {
	return &APIExecutor{
		client:    client,
		histories: make(map[string][]anthropic.MessageParam),
	}
}

// Turn implements TurnExecutor.
func (e *APIExecutor) Turn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	handle := req.ExternalHandle
	if handle == "" {
		handle = uuid.NewString()
	}

	e.mu.Lock()
	history := append([]anthropic.MessageParam{}, e.histories[handle]...)
	e.mu.Unlock()

	history = append(history, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Message)))

	model := e.client.Model()
	if req.Model != "" {
		model = e.client.TranslateModel(anthropic.Model(req.Model))
	}

	executor := api.NewToolExecutor(req.CWD)

	var delta TokenDelta
	var finalText string

	for i := 0; i < maxTurnIterations; i++ {
		select {
		case <-ctx.Done():
			return TurnResult{}, ctx.Err()
		default:
		}

		params := anthropic.MessageNewParams{
			Model:     model,
			MaxTokens: 8192,
			Messages:  history,
			Tools:     api.ToolDefinitions(),
		}

		resp, err := e.client.CreateMessage(ctx, params)
		if err != nil {
			return TurnResult{}, fmt.Errorf("turn: %w", err)
		}

		delta.InputTokens += resp.Usage.InputTokens
		delta.OutputTokens += resp.Usage.OutputTokens
		delta.CacheReadTokens += resp.Usage.CacheReadInputTokens
		delta.CacheWriteTokens += resp.Usage.CacheCreationInputTokens
		delta.CostUSD += estimateCost(string(model), resp.Usage.InputTokens, resp.Usage.OutputTokens)
		e.client.Tracker().Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

		var assistantBlocks []anthropic.ContentBlockParamUnion
		var toolResultBlocks []anthropic.ContentBlockParamUnion

		for _, block := range resp.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				finalText += variant.Text
				assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(variant.Text))

			case anthropic.ToolUseBlock:
				assistantBlocks = append(assistantBlocks, anthropic.NewToolUseBlock(variant.ID, variant.Input, variant.Name))

				if req.Guard != nil {
					var input map[string]any
					_ = json.Unmarshal(variant.Input, &input)
					if allow, reason := req.Guard.Check(variant.Name, input); !allow {
						toolResultBlocks = append(toolResultBlocks, anthropic.NewToolResultBlock(variant.ID, reason, true))
						continue
					}
				}

				result := executor.Execute(ctx, variant.Name, variant.Input)
				toolResultBlocks = append(toolResultBlocks, anthropic.NewToolResultBlock(variant.ID, result.Content, result.IsError))
			}
		}

		history = append(history, anthropic.NewAssistantMessage(assistantBlocks...))
		if len(toolResultBlocks) > 0 {
			history = append(history, anthropic.NewUserMessage(toolResultBlocks...))
		}

		if resp.StopReason == anthropic.StopReasonEndTurn {
			break
		}
	}

	e.mu.Lock()
	e.histories[handle] = history
	e.mu.Unlock()

	return TurnResult{Text: finalText, ExternalHandle: handle, Usage: delta}, nil
}

// Forget drops a conversation's retained history, used when a Session hard
// resets and the old handle will never be resumed.
func (e *APIExecutor) Forget(handle string) {
	if handle == "" {
		return
	}
	e.mu.Lock()
	delete(e.histories, handle)
	e.mu.Unlock()
}
