package llmcall_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentexec/core/runtime/agent/model"
	"github.com/agentexec/core/runtime/llmcall"
)

type fakeClient struct {
	resp *model.Response
	err  error
}

func (f *fakeClient) Complete(context.Context, *model.Request) (*model.Response, error) {
	return f.resp, f.err
}
func (f *fakeClient) Stream(context.Context, *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

type noopChunks struct{}

func (noopChunks) PublishChunk(context.Context, int, string, bool) error { return nil }

func TestActivityCallComputesCostFromUsage(t *testing.T) {
	resp := &model.Response{
		Content: []model.Message{{Role: "assistant", Parts: []model.Part{model.TextPart{Text: "42"}}}},
		Usage:   model.TokenUsage{InputTokens: 1000, OutputTokens: 1000},
	}
	client := &fakeClient{resp: resp}
	act := llmcall.New(client, llmcall.CostTable{"m": {InputPerToken: 0.001, OutputPerToken: 0.002}}, noopChunks{})

	result, err := act.Call(context.Background(), llmcall.Request{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "42", result.Content)
	assert.InDelta(t, 3.0, result.Cost, 1e-9)
}

func TestActivityCallClassifiesRateLimitAsTransient(t *testing.T) {
	client := &fakeClient{err: model.ErrRateLimited}
	act := llmcall.New(client, nil, noopChunks{})

	_, err := act.Call(context.Background(), llmcall.Request{Model: "m"})
	require.Error(t, err)
	var f *llmcall.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, llmcall.FailureTransient, f.Kind)
}

func TestActivityCallClassifiesOtherErrorsAsPermanent(t *testing.T) {
	client := &fakeClient{err: assertErr("auth failed")}
	act := llmcall.New(client, nil, noopChunks{})

	_, err := act.Call(context.Background(), llmcall.Request{Model: "m"})
	require.Error(t, err)
	var f *llmcall.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, llmcall.FailurePermanent, f.Kind)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
