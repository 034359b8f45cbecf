package dispatch

import (
	"context"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intake-cli/pkg/agent"
	"github.com/sells-group/intake-cli/pkg/anthropic"
)

// Call is one outbound agent query.
type Call struct {
	Route    Route
	CaseID   string
	Message  string
	ThreadID int
}

// Caller issues a call over one transport and returns the raw reply.
type Caller interface {
	Call(ctx context.Context, call Call) (map[string]any, error)
}

// HTTPCaller posts to the route's query endpoint.
type HTTPCaller struct {
	Client agent.Client
}

// Call implements Caller.
func (c HTTPCaller) Call(ctx context.Context, call Call) (map[string]any, error) {
	return c.Client.Query(ctx, call.Route.Endpoint, agent.Request{
		Message:     call.Message,
		ThreadID:    call.ThreadID,
		AgentConfig: call.Route.AgentConfig(),
	})
}

// LLMCaller asks a Claude model directly, using the route's system prompt or
// the system_message of its registry configuration.
type LLMCaller struct {
	Client    anthropic.Client
	MaxTokens int64
}

// Call implements Caller.
func (c LLMCaller) Call(ctx context.Context, call Call) (map[string]any, error) {
	system := call.Route.System
	if system == "" {
		system = stringAt(objectAt(call.Route.Registry, "Configuration"), "system_message")
	}

	resp, err := c.Client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     call.Route.Model,
		MaxTokens: c.MaxTokens,
		System:    system,
		Messages:  []anthropic.Message{{Role: "user", Content: call.Message}},
		UserID:    call.CaseID + ":" + strconv.Itoa(call.ThreadID),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "dispatch: llm call for %s", call.Route.Name)
	}
	resp.Usage.Log(resp.Model, call.Route.Name)

	return map[string]any{
		"result":    resp.Text,
		"thread_id": call.ThreadID,
		"model":     resp.Model,
	}, nil
}
