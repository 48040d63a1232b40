package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/r3labs/sse/v2"

	"github.com/tcmartin/flowcomposer/pkg/assist"
	"github.com/tcmartin/flowcomposer/pkg/graph"
	"github.com/tcmartin/flowcomposer/pkg/transport"
	"github.com/tcmartin/flowcomposer/pkg/utils"
)

// suggestRequest is the suggestion endpoint's request shape
type suggestRequest struct {
	Command string       `json:"command"`
	Nodes   []graph.Node `json:"nodes"`
	Edges   []graph.Edge `json:"edges"`
}

// SuggestEdits asks the backend for an edit plan for the command against
// the given graph
func (c *Client) SuggestEdits(ctx context.Context, command string, snapshot graph.Snapshot) (assist.Plan, error) {
	req := suggestRequest{Command: command, Nodes: snapshot.Nodes, Edges: snapshot.Edges}

	var plan assist.Plan
	if err := c.doJSON(ctx, http.MethodPost, c.suggestPath, req, &plan, true); err != nil {
		return assist.Plan{}, fmt.Errorf("failed to get edit suggestions: %w", err)
	}
	return plan, nil
}

// identifyRequest is the identity endpoint's request shape
type identifyRequest struct {
	Nodes []graph.Node `json:"nodes"`
	Edges []graph.Edge `json:"edges"`
}

// SuggestIdentity asks the backend to name and categorize the workflow.
// The endpoint is LLM-backed and sometimes wraps its JSON in a markdown
// code fence, so the body is parsed fence-tolerantly.
func (c *Client) SuggestIdentity(ctx context.Context, snapshot graph.Snapshot) (transport.WorkflowIdentity, error) {
	req := identifyRequest{Nodes: snapshot.Nodes, Edges: snapshot.Edges}

	body, err := c.doRaw(ctx, http.MethodPost, c.identifyPath, req, true)
	if err != nil {
		return transport.WorkflowIdentity{}, fmt.Errorf("failed to get workflow identity: %w", err)
	}

	var identity transport.WorkflowIdentity
	if err := utils.ParseJSON(string(body), &identity); err != nil {
		return transport.WorkflowIdentity{}, fmt.Errorf("failed to parse workflow identity: %w", err)
	}
	return identity, nil
}

// StreamAssistant subscribes to the assistant's SSE stream for a prompt
// and delivers each data chunk to onDelta. It returns when the stream
// ends or the context is cancelled.
func (c *Client) StreamAssistant(ctx context.Context, prompt string, onDelta func(data []byte)) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s%s?prompt=%s", c.baseURL, c.assistantPath, url.QueryEscape(prompt))
	stream := sse.NewClient(endpoint)
	if token != "" {
		stream.Headers["Authorization"] = fmt.Sprintf("Bearer %s", token)
	}

	err = stream.SubscribeWithContext(ctx, "message", func(msg *sse.Event) {
		if len(msg.Data) == 0 {
			return
		}
		onDelta(msg.Data)
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("assistant stream failed: %w", err)
	}
	return nil
}
