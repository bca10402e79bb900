package a2arpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentexec/core/runtime/agent/engine"
	"github.com/agentexec/core/runtime/agent/telemetry"
	"github.com/agentexec/core/runtime/events"
	"github.com/agentexec/core/runtime/eventstream"
	"github.com/agentexec/core/runtime/tasks"
	"github.com/agentexec/core/runtime/toolcatalog"
)

type fakeHandle struct{}

func (fakeHandle) Wait(context.Context, any) error           { return nil }
func (fakeHandle) Signal(context.Context, string, any) error { return nil }
func (fakeHandle) Cancel(context.Context) error              { return nil }

type fakeEngine struct{}

func (fakeEngine) RegisterWorkflow(context.Context, engine.WorkflowDefinition) error { return nil }
func (fakeEngine) RegisterActivity(context.Context, engine.ActivityDefinition) error { return nil }
func (fakeEngine) StartWorkflow(context.Context, engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	return fakeHandle{}, nil
}

type fakeSubscriber struct{}

func (fakeSubscriber) Subscribe(context.Context, string) (events.Subscription, error) {
	return &fakeSubscription{ch: make(chan events.Event)}, nil
}

type fakeSubscription struct{ ch chan events.Event }

func (s *fakeSubscription) Events() <-chan events.Event { return s.ch }
func (s *fakeSubscription) Close(context.Context) error { close(s.ch); return nil }

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	svc := tasks.NewService(tasks.NewMemoryStore(), fakeEngine{}, telemetry.NewNoopLogger())
	stream := eventstream.NewHandler(events.NewMemoryLog(), fakeSubscriber{}, telemetry.NewNoopLogger())
	agents := map[string]AgentMeta{
		"agent.demo": {
			Name:        "demo",
			Description: "a demo agent",
			Version:     "1.0.0",
			Tools: toolcatalog.NewStaticDiscoverer(map[string][]*toolcatalog.Descriptor{
				"agent.demo": {
					{Name: "search_docs", Description: "search the docs", Backend: toolcatalog.BackendBuiltin},
					{Name: "send_email", Description: "send an email", Backend: toolcatalog.BackendBuiltin},
				},
			}),
		},
	}
	return NewGateway(svc, stream, agents, "https://agents.example.com", telemetry.NewNoopLogger())
}

func bearerFor(userID, workspaceID string) string {
	header := `{"alg":"none"}`
	claims, _ := json.Marshal(map[string]string{"sub": userID, "workspace_id": workspaceID})
	enc := func(b []byte) string {
		// base64.RawURLEncoding inlined to avoid importing it twice in tests
		const tbl = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
		var out strings.Builder
		for i := 0; i < len(b); i += 3 {
			chunk := b[i:min(i+3, len(b))]
			n := len(chunk)
			var buf [3]byte
			copy(buf[:], chunk)
			out.WriteByte(tbl[buf[0]>>2])
			out.WriteByte(tbl[(buf[0]&0x3)<<4|buf[1]>>4])
			if n > 1 {
				out.WriteByte(tbl[(buf[1]&0xF)<<2|buf[2]>>6])
			}
			if n > 2 {
				out.WriteByte(tbl[buf[2]&0x3F])
			}
		}
		return out.String()
	}
	return "Bearer " + enc([]byte(header)) + "." + enc(claims) + ".sig"
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func TestMessageSendReturnsSnapshotAfterAwait(t *testing.T) {
	gw := newTestGateway(t)
	body := `{"jsonrpc":"2.0","id":1,"method":"message/send","params":{"message":{"role":"user","parts":[{"text":"hi"}]}}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/agents/agent.demo/rpc", strings.NewReader(body))
	req.Header.Set("Authorization", bearerFor("u1", "ws1"))
	rec := httptest.NewRecorder()

	gw.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Nil(t, resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var snap TaskSnapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	assert.Equal(t, string(tasks.StatusRunning), snap.Status)
}

func TestMessageSendRejectsMissingAuth(t *testing.T) {
	gw := newTestGateway(t)
	body := `{"jsonrpc":"2.0","id":1,"method":"message/send","params":{"message":{"role":"user","parts":[{"text":"hi"}]}}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/agents/agent.demo/rpc", strings.NewReader(body))
	rec := httptest.NewRecorder()

	gw.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTasksGetUnknownIDReturnsTaskNotFoundCode(t *testing.T) {
	gw := newTestGateway(t)
	body := `{"jsonrpc":"2.0","id":2,"method":"tasks/get","params":{"id":"task-does-not-exist"}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/agents/agent.demo/rpc", strings.NewReader(body))
	req.Header.Set("Authorization", bearerFor("u1", "ws1"))
	rec := httptest.NewRecorder()

	gw.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeTaskNotFound, resp.Error.Code)
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	gw := newTestGateway(t)
	body := `{"jsonrpc":"2.0","id":3,"method":"bogus/method","params":{}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/agents/agent.demo/rpc", strings.NewReader(body))
	req.Header.Set("Authorization", bearerFor("u1", "ws1"))
	rec := httptest.NewRecorder()

	gw.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestServeCardListsSkillsFromCatalog(t *testing.T) {
	gw := newTestGateway(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/agents/agent.demo/card", nil)
	req.Header.Set("Authorization", bearerFor("u1", "ws1"))
	rec := httptest.NewRecorder()

	gw.ServeHTTP(rec, req)

	var card Card
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &card))
	assert.Equal(t, "demo", card.Name)
	assert.True(t, card.Capabilities.Streaming)
	assert.Len(t, card.Skills, 2)
}

func TestServeCardAppliesDenySkillsHeader(t *testing.T) {
	gw := newTestGateway(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/agents/agent.demo/card", nil)
	req.Header.Set("Authorization", bearerFor("u1", "ws1"))
	req.Header.Set("X-A2A-Deny-Skills", "send_email")
	rec := httptest.NewRecorder()

	gw.ServeHTTP(rec, req)

	var card Card
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &card))
	require.Len(t, card.Skills, 1)
	assert.Equal(t, "search_docs", card.Skills[0].ID)
}
