package llmcall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/agentexec/core/runtime/agent/model"
)

// ChunkSink receives streaming side-effect chunks while a call is in
// flight. runtime/events.Publisher does not implement it (its method is
// Publish, not PublishChunk); tests use a no-op fake.
type ChunkSink interface {
	PublishChunk(ctx context.Context, index int, chunk string, isFinal bool) error
}

// Request is C3's input contract: messages, model selection, the tool
// catalog, an optional streaming flag, and correlation ids.
type Request struct {
	Messages   []*model.Message
	Model      string
	ModelClass model.ModelClass
	Tools      []*model.ToolDefinition
	Streaming  bool

	TaskID      string
	AgentID     string
	ExecutionID string
}

// Result is C3's output contract:
// {role:"assistant", content, tool_calls, usage, cost}.
type Result struct {
	Content   string
	ToolCalls []ToolCall
	Usage     model.TokenUsage
	Cost      float64
}

// FailureKind classifies an activity failure per §4.4/§7.
type FailureKind string

const (
	FailureTransient FailureKind = "transient"
	FailurePermanent FailureKind = "permanent"
)

// Failure wraps an LLM call error with its retry classification so the
// reasoning loop (and the engine's activity retry policy) can tell
// transient failures (network, 5xx, rate-limit — retryable) from permanent
// ones (4xx auth, unknown model — fatal) apart, per §4.4/§7.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string { return f.Err.Error() }
func (f *Failure) Unwrap() error { return f.Err }

// Activity implements the LLM Call Activity (C3): a single-shot completion
// with streaming side-effects and cost computation.
type Activity struct {
	client client
	costs  CostTable
	chunks ChunkSink
}

// client narrows model.Client to what this activity needs, easing testing.
type client interface {
	Complete(ctx context.Context, req *model.Request) (*model.Response, error)
	Stream(ctx context.Context, req *model.Request) (model.Streamer, error)
}

// New builds an Activity. chunks may be nil, in which case streaming
// degrades to non-streaming completion (no side-effect chunks to publish).
func New(c client, costs CostTable, chunks ChunkSink) *Activity {
	if costs == nil {
		costs = DefaultCostTable()
	}
	return &Activity{client: c, costs: costs, chunks: chunks}
}

// Call performs the completion described by req, returning the normalized
// assistant message or a classified Failure.
func (a *Activity) Call(ctx context.Context, req Request) (Result, error) {
	modelReq := &model.Request{
		RunID:      req.ExecutionID,
		Model:      req.Model,
		ModelClass: req.ModelClass,
		Messages:   req.Messages,
		Tools:      req.Tools,
		Stream:     req.Streaming,
	}

	if req.Streaming && a.chunks != nil {
		result, err := a.callStreaming(ctx, modelReq)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, model.ErrStreamingUnsupported) {
			return Result{}, classify(err)
		}
		// Fall through to non-streaming completion: the final assembled
		// message is authoritative regardless of streaming support (§4.1
		// step 4).
	}

	resp, err := a.client.Complete(ctx, modelReq)
	if err != nil {
		return Result{}, classify(err)
	}
	return a.toResult(req.Model, resp), nil
}

func (a *Activity) callStreaming(ctx context.Context, req *model.Request) (Result, error) {
	streamer, err := a.client.Stream(ctx, req)
	if err != nil {
		return Result{}, err
	}
	defer streamer.Close()

	var (
		content string
		usage   model.TokenUsage
		acc     = NewStreamAccumulator()
		index   int
		slots   = map[string]int{}
	)
	for {
		chunk, err := streamer.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Result{}, err
		}
		switch chunk.Type {
		case model.ChunkTypeText:
			if chunk.Message != nil {
				for _, p := range chunk.Message.Parts {
					if tp, ok := p.(model.TextPart); ok {
						content += tp.Text
						_ = a.chunks.PublishChunk(ctx, index, tp.Text, false)
						index++
					}
				}
			}
		case model.ChunkTypeToolCallDelta:
			if chunk.ToolCallDelta != nil {
				d := chunk.ToolCallDelta
				slot, ok := slots[d.ID]
				if !ok {
					slot = len(slots)
					slots[d.ID] = slot
				}
				acc.Add(slot, d.ID, string(d.Name), d.Delta)
			}
		case model.ChunkTypeUsage:
			if chunk.UsageDelta != nil {
				usage = addUsage(usage, *chunk.UsageDelta)
			}
		case model.ChunkTypeStop:
			_ = a.chunks.PublishChunk(ctx, index, "", true)
		}
	}

	cost := a.costs.Cost(req.Model, usage)
	return Result{Content: content, ToolCalls: acc.Finish(), Usage: usage, Cost: cost}, nil
}

func (a *Activity) toResult(modelID string, resp *model.Response) Result {
	var content string
	for _, msg := range resp.Content {
		for _, p := range msg.Parts {
			if tp, ok := p.(model.TextPart); ok {
				content += tp.Text
			}
		}
	}
	calls := ExtractToolCalls(resp.ToolCalls, content)
	return Result{
		Content:   content,
		ToolCalls: calls,
		Usage:     resp.Usage,
		Cost:      a.costs.Cost(modelID, resp.Usage),
	}
}

func addUsage(a, b model.TokenUsage) model.TokenUsage {
	return model.TokenUsage{
		InputTokens:      a.InputTokens + b.InputTokens,
		OutputTokens:     a.OutputTokens + b.OutputTokens,
		TotalTokens:      a.TotalTokens + b.TotalTokens,
		CacheReadTokens:  a.CacheReadTokens + b.CacheReadTokens,
		CacheWriteTokens: a.CacheWriteTokens + b.CacheWriteTokens,
	}
}

// classify maps a provider error into a retryable/fatal Failure per §4.4:
// transient (network, 5xx, rate-limit) vs. permanent (4xx auth,
// model-not-found).
func classify(err error) *Failure {
	if errors.Is(err, model.ErrRateLimited) {
		return &Failure{Kind: FailureTransient, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: FailureTransient, Err: err}
	}
	if pe, ok := model.AsProviderError(err); ok && pe.Retryable() {
		return &Failure{Kind: FailureTransient, Err: err}
	}
	if errors.Is(err, model.ErrStreamingUnsupported) {
		return &Failure{Kind: FailurePermanent, Err: err}
	}
	return &Failure{Kind: FailurePermanent, Err: fmt.Errorf("llmcall: %w", err)}
}

// MarshalChunkData is a small helper activities use when building the
// events.LLMCallChunkData payload without importing the events package
// directly from provider-facing code paths.
func MarshalChunkData(index int, chunk string, isFinal bool) json.RawMessage {
	data, _ := json.Marshal(struct {
		Chunk   string `json:"chunk"`
		Index   int    `json:"index"`
		IsFinal bool   `json:"is_final"`
	}{chunk, index, isFinal})
	return data
}
