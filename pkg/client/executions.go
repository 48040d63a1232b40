package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tcmartin/flowcomposer/pkg/graph"
	"github.com/tcmartin/flowcomposer/pkg/transport"
)

// ExecuteRequest submits a workflow graph for execution
type ExecuteRequest struct {
	// Nodes in the graph
	Nodes []graph.Node `json:"nodes"`

	// Edges in the graph
	Edges []graph.Edge `json:"edges"`

	// Input is the run's input: a prompt string or a structured payload
	Input interface{} `json:"input"`
}

// Execute submits the graph and returns the initial execution status. A
// returned status of "running" means the caller should open a status
// subscription.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) (transport.ExecutionStatus, error) {
	var status transport.ExecutionStatus
	if err := c.doJSON(ctx, http.MethodPost, "/execute", req, &status, true); err != nil {
		return transport.ExecutionStatus{}, fmt.Errorf("failed to start execution: %w", err)
	}
	return status, nil
}

// GetExecution fetches the current snapshot for an execution. Its
// signature matches the transport's status fetcher, so the polling
// fallback can use it directly.
func (c *Client) GetExecution(ctx context.Context, executionID string) (transport.ExecutionStatus, error) {
	var status transport.ExecutionStatus
	path := fmt.Sprintf("/executions/%s", executionID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &status, true); err != nil {
		return transport.ExecutionStatus{}, fmt.Errorf("failed to fetch execution %s: %w", executionID, err)
	}
	return status, nil
}

// SubmitInput sends user-supplied text to a run waiting for input
func (c *Client) SubmitInput(ctx context.Context, executionID, input string) error {
	path := fmt.Sprintf("/executions/%s/input", executionID)
	body := map[string]string{"input": input}
	if err := c.doJSON(ctx, http.MethodPost, path, body, nil, true); err != nil {
		return fmt.Errorf("failed to submit input for execution %s: %w", executionID, err)
	}
	return nil
}

// StreamURL returns the WebSocket endpoint for an execution's event stream
func (c *Client) StreamURL(executionID string) string {
	base := c.baseURL
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return fmt.Sprintf("%s/ws/execution/%s", base, executionID)
}
