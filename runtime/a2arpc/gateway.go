package a2arpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/agentexec/core/runtime/a2a/policy"
	"github.com/agentexec/core/runtime/agent/telemetry"
	"github.com/agentexec/core/runtime/eventstream"
	"github.com/agentexec/core/runtime/tasks"
	"github.com/agentexec/core/runtime/toolcatalog"
)

// AgentMeta is the static per-agent metadata exposed by the agent card
// (§6 agent discovery).
type AgentMeta struct {
	Name        string
	Description string
	Version     string
	Tools       toolcatalog.Discoverer
}

// Card is the `GET /v1/agents/{agent_id}/card` response shape.
type Card struct {
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	URL          string              `json:"url"`
	Version      string              `json:"version"`
	Capabilities CardCapabilities    `json:"capabilities"`
	Skills       []toolcatalog.Skill `json:"skills"`
}

// CardCapabilities reports the protocol features this gateway supports.
type CardCapabilities struct {
	Streaming              bool `json:"streaming"`
	PushNotifications      bool `json:"pushNotifications"`
	StateTransitionHistory bool `json:"stateTransitionHistory"`
}

// sendTimeout bounds how long message/send waits for a terminal outcome
// before returning the task's current (non-terminal) snapshot, per §4.9
// "wait for terminal state (bounded)".
const sendTimeout = 55 * time.Second

// Gateway implements C10: JSON-RPC dispatch for message/send,
// message/stream, tasks/get, tasks/cancel, plus the agent-card and SSE
// endpoints that round out the external interface (§6).
type Gateway struct {
	tasks   *tasks.Service
	stream  *eventstream.Handler
	agents  map[string]AgentMeta
	baseURL string
	log     telemetry.Logger
}

// NewGateway builds a Gateway over the Task Service, Event Stream Gateway,
// and a static per-agent metadata map (agent_id -> AgentMeta).
func NewGateway(svc *tasks.Service, stream *eventstream.Handler, agents map[string]AgentMeta, baseURL string, log telemetry.Logger) *Gateway {
	return &Gateway{tasks: svc, stream: stream, agents: agents, baseURL: baseURL, log: log}
}

// ServeHTTP routes:
//
//	POST /v1/agents/{agent_id}/rpc
//	GET  /v1/agents/{agent_id}/card
//	GET  /v1/tasks/{task_id}/events
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/rpc") && r.Method == http.MethodPost:
		g.serveRPC(w, r, agentIDFromPath(r.URL.Path, "/rpc"))
	case strings.HasSuffix(r.URL.Path, "/card") && r.Method == http.MethodGet:
		g.serveCard(w, r, agentIDFromPath(r.URL.Path, "/card"))
	case strings.Contains(r.URL.Path, "/tasks/") && strings.HasSuffix(r.URL.Path, "/events") && r.Method == http.MethodGet:
		g.serveEvents(w, r, taskIDFromEventsPath(r.URL.Path))
	default:
		http.NotFound(w, r)
	}
}

func agentIDFromPath(path, suffix string) string {
	trimmed := strings.TrimSuffix(path, suffix)
	trimmed = strings.TrimPrefix(trimmed, "/v1/agents/")
	return strings.Trim(trimmed, "/")
}

func taskIDFromEventsPath(path string) string {
	trimmed := strings.TrimSuffix(path, "/events")
	trimmed = strings.TrimPrefix(trimmed, "/v1/tasks/")
	return strings.Trim(trimmed, "/")
}

func (g *Gateway) serveCard(w http.ResponseWriter, r *http.Request, agentID string) {
	if _, err := authenticate(r); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	meta, ok := g.agents[agentID]
	if !ok {
		http.NotFound(w, r)
		return
	}
	var skills []toolcatalog.Skill
	if meta.Tools != nil {
		if descriptors, err := meta.Tools.DiscoverTools(r.Context(), agentID, ""); err == nil {
			if reg, err := toolcatalog.NewRegistry(descriptors); err == nil {
				skills = filterSkills(reg.Skills(), policy.ExtractPolicyFromHeaders(
					r.Header.Get(policy.AllowSkillsHeader), r.Header.Get(policy.DenySkillsHeader),
				))
			}
		}
	}
	card := Card{
		Name:        meta.Name,
		Description: meta.Description,
		URL:         g.baseURL,
		Version:     meta.Version,
		Capabilities: CardCapabilities{
			Streaming:              true,
			PushNotifications:      false,
			StateTransitionHistory: false,
		},
		Skills: skills,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(card)
}

// filterSkills applies an agent card request's allow/deny skill headers
// (§6 agent discovery over multiple tenants sharing a catalog) to the
// resolved skill list, preserving Skill order.
func filterSkills(skills []toolcatalog.Skill, p *policy.Policy) []toolcatalog.Skill {
	if p == nil || (len(p.AllowList) == 0 && len(p.DenyList) == 0) {
		return skills
	}
	out := make([]toolcatalog.Skill, 0, len(skills))
	for _, s := range skills {
		if policy.ValidateSkillAccess(s.ID, p) {
			out = append(out, s)
		}
	}
	return out
}

func (g *Gateway) serveEvents(w http.ResponseWriter, r *http.Request, taskID string) {
	if _, err := authenticate(r); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	g.stream.ServeTask(w, r, taskID)
}

func (g *Gateway) serveRPC(w http.ResponseWriter, r *http.Request, agentID string) {
	claims, err := authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	var req Request
	if decErr := json.NewDecoder(r.Body).Decode(&req); decErr != nil {
		writeResponse(w, errorResponse(nil, CodeParseError, "invalid JSON"))
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeResponse(w, errorResponse(req.ID, CodeInvalidRequest, "invalid JSON-RPC envelope"))
		return
	}
	if _, ok := g.agents[agentID]; !ok {
		writeResponse(w, errorResponse(req.ID, CodeInvalidParams, "unknown agent"))
		return
	}

	switch req.Method {
	case "message/send":
		g.messageSend(w, r.Context(), req, agentID, claims)
	case "message/stream":
		g.messageStream(w, r, req, agentID, claims)
	case "tasks/get":
		g.tasksGet(w, r.Context(), req)
	case "tasks/cancel":
		g.tasksCancel(w, r.Context(), req)
	default:
		writeResponse(w, errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method)))
	}
}

func (g *Gateway) decodeSendParams(req Request) (SendParams, tasks.SubmitRequest, *Error) {
	var params SendParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Message.text() == "" {
		return SendParams{}, tasks.SubmitRequest{}, &Error{Code: CodeInvalidParams, Message: "invalid message params"}
	}
	var meta sendMetadata
	if len(params.Metadata) > 0 {
		_ = json.Unmarshal(params.Metadata, &meta)
	}
	return params, tasks.SubmitRequest{
		Query:           params.Message.text(),
		WorkspaceID:     params.ContextID,
		SuccessCriteria: meta.SuccessCriteria,
		MaxIterations:   meta.MaxIterations,
		BudgetUSD:       meta.BudgetUSD,
	}, nil
}

func (g *Gateway) messageSend(w http.ResponseWriter, ctx context.Context, req Request, agentID string, claims Claims) {
	_, submit, rpcErr := g.decodeSendParams(req)
	if rpcErr != nil {
		writeResponse(w, Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr})
		return
	}
	submit.AgentID = agentID
	submit.UserID = claims.UserID
	if submit.WorkspaceID == "" {
		submit.WorkspaceID = claims.WorkspaceID
	}

	t, err := g.tasks.Submit(ctx, submit)
	if err != nil {
		writeResponse(w, errorResponse(req.ID, CodeInternalError, err.Error()))
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if final, err := g.tasks.Await(waitCtx, t.ID); err == nil {
		t = final
	} else {
		g.log.Warn(ctx, "a2arpc: message/send wait did not reach terminal state", "task_id", t.ID, "error", err)
	}
	writeResponse(w, successResponse(req.ID, toSnapshot(t)))
}

func (g *Gateway) messageStream(w http.ResponseWriter, r *http.Request, req Request, agentID string, claims Claims) {
	_, submit, rpcErr := g.decodeSendParams(req)
	if rpcErr != nil {
		writeResponse(w, Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr})
		return
	}
	submit.AgentID = agentID
	submit.UserID = claims.UserID
	if submit.WorkspaceID == "" {
		submit.WorkspaceID = claims.WorkspaceID
	}

	t, err := g.tasks.Submit(r.Context(), submit)
	if err != nil {
		writeResponse(w, errorResponse(req.ID, CodeInternalError, err.Error()))
		return
	}
	g.stream.ServeTask(w, r, t.ID)
}

func (g *Gateway) tasksGet(w http.ResponseWriter, ctx context.Context, req Request) {
	var params TaskIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		writeResponse(w, errorResponse(req.ID, CodeInvalidParams, "missing task id"))
		return
	}
	t, err := g.tasks.Get(ctx, params.ID)
	if err != nil {
		writeResponse(w, errorResponse(req.ID, CodeTaskNotFound, "task not found"))
		return
	}
	writeResponse(w, successResponse(req.ID, toSnapshot(t)))
}

func (g *Gateway) tasksCancel(w http.ResponseWriter, ctx context.Context, req Request) {
	var params TaskIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		writeResponse(w, errorResponse(req.ID, CodeInvalidParams, "missing task id"))
		return
	}
	t, err := g.tasks.Cancel(ctx, params.ID)
	if err != nil {
		writeResponse(w, errorResponse(req.ID, CodeTaskNotFound, err.Error()))
		return
	}
	writeResponse(w, successResponse(req.ID, toSnapshot(t)))
}

func toSnapshot(t tasks.Task) TaskSnapshot {
	return TaskSnapshot{
		ID:          t.ID,
		Status:      string(t.Status),
		Result:      t.Result,
		Error:       t.Error,
		CostAccrued: t.CostAccrued,
		BudgetUSD:   t.BudgetUSD,
		CreatedAt:   t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   t.UpdatedAt.Format(time.RFC3339),
	}
}

func writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	if resp.Error != nil {
		w.WriteHeader(http.StatusOK) // JSON-RPC errors still ride a 200 envelope
	}
	_ = json.NewEncoder(w).Encode(resp)
}
