package goalcheck_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentexec/core/runtime/agent/model"
	"github.com/agentexec/core/runtime/goalcheck"
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

func TestEvaluateAchievedAboveThreshold(t *testing.T) {
	payload, _ := json.Marshal(map[string]any{"achieved": true, "final_response": "42", "confidence": 0.9})
	client := &fakeClient{resp: &model.Response{
		ToolCalls: []model.ToolCall{{Name: "report_goal_progress", Payload: payload}},
	}}
	ev := goalcheck.New(client, "cheap-model")

	verdict, _, err := ev.Evaluate(context.Background(), nil, []string{"answer the math question"})
	require.NoError(t, err)
	assert.True(t, verdict.Achieves(goalcheck.ConfidenceThreshold))
	assert.Equal(t, "42", verdict.FinalResponse)
}

func TestEvaluateBelowThresholdNotAchieved(t *testing.T) {
	payload, _ := json.Marshal(map[string]any{"achieved": true, "confidence": 0.5})
	client := &fakeClient{resp: &model.Response{
		ToolCalls: []model.ToolCall{{Name: "report_goal_progress", Payload: payload}},
	}}
	ev := goalcheck.New(client, "cheap-model")

	verdict, _, err := ev.Evaluate(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.False(t, verdict.Achieves(goalcheck.ConfidenceThreshold))
}

func TestEvaluateNoStructuredVerdictIsConservative(t *testing.T) {
	client := &fakeClient{resp: &model.Response{}}
	ev := goalcheck.New(client, "cheap-model")

	verdict, _, err := ev.Evaluate(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.False(t, verdict.Achieved)
}
