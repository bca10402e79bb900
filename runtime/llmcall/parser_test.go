package llmcall_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentexec/core/runtime/agent/model"
	"github.com/agentexec/core/runtime/llmcall"
)

func TestExtractToolCallsStructuredPass(t *testing.T) {
	calls := llmcall.ExtractToolCalls([]model.ToolCall{
		{ID: "abc", Name: "calculator", Payload: json.RawMessage(`{"expression":"15+27"}`)},
	}, "")
	require.Len(t, calls, 1)
	assert.Equal(t, "abc", calls[0].ID)
	assert.Equal(t, "calculator", calls[0].Name)
	assert.JSONEq(t, `{"expression":"15+27"}`, calls[0].Arguments)
}

func TestExtractToolCallsStructuredNonObjectPayloadIsWrapped(t *testing.T) {
	calls := llmcall.ExtractToolCalls([]model.ToolCall{
		{ID: "x", Name: "echo", Payload: json.RawMessage(`"hello"`)},
	}, "")
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"value":"hello"}`, calls[0].Arguments)
}

func TestExtractToolCallsContentFullObject(t *testing.T) {
	content := `{"name":"task_complete","arguments":{"result":"ok","success":true}}`
	calls := llmcall.ExtractToolCalls(nil, content)
	require.Len(t, calls, 1)
	assert.Equal(t, "task_complete", calls[0].Name)
	assert.JSONEq(t, `{"result":"ok","success":true}`, calls[0].Arguments)
}

func TestExtractToolCallsContentEmbeddedRegexFallback(t *testing.T) {
	content := `Sure, here is my answer. {"name":"task_complete","arguments":{"result":"42","success":true}} Done.`
	calls := llmcall.ExtractToolCalls(nil, content)
	require.Len(t, calls, 1)
	assert.Equal(t, "task_complete", calls[0].Name)
	assert.JSONEq(t, `{"result":"42","success":true}`, calls[0].Arguments)
}

func TestExtractToolCallsLiteralTokenFallback(t *testing.T) {
	content := "I'm done now, task_complete."
	calls := llmcall.ExtractToolCalls(nil, content)
	require.Len(t, calls, 1)
	assert.Equal(t, "task_complete", calls[0].Name)
	var args struct {
		Result string `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(calls[0].Arguments), &args))
	assert.Equal(t, content, args.Result)
}

func TestExtractToolCallsNoMatchReturnsNil(t *testing.T) {
	calls := llmcall.ExtractToolCalls(nil, "just chatting, nothing to see")
	assert.Nil(t, calls)
}

func TestRecoverArguments(t *testing.T) {
	raw, ok := llmcall.RecoverArguments(`not json`)
	require.True(t, ok)
	assert.JSONEq(t, `{"text":"not json"}`, string(raw))

	raw, ok = llmcall.RecoverArguments(`{"a":1}`)
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(raw))
}

func TestStreamAccumulatorAssemblesDeltas(t *testing.T) {
	acc := llmcall.NewStreamAccumulator()
	acc.Add(0, "call-1", "calculator", `{"expr`)
	acc.Add(0, "", "", `ession":"1+1"}`)
	acc.Add(1, "call-2", "task_complete", `{"result":"done","success":true}`)

	calls := acc.Finish()
	require.Len(t, calls, 2)
	assert.Equal(t, "call-1", calls[0].ID)
	assert.JSONEq(t, `{"expression":"1+1"}`, calls[0].Arguments)
	assert.Equal(t, "call-2", calls[1].ID)
	assert.Equal(t, "task_complete", calls[1].Name)
}
