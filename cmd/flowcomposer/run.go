package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tcmartin/flowcomposer/pkg/execution"
	"github.com/tcmartin/flowcomposer/pkg/workflow"
)

var runInput string

// runWorkflow executes a workflow and renders tracker snapshots until
// the run reaches a terminal status or the user interrupts.
func runWorkflow(cmd *cobra.Command, args []string) {
	definition, err := resolveDefinition(args[0])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	backend := newClient()
	session := newSession(backend)

	if err := session.LoadDefinition(definition); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	render := newRenderer()
	done := make(chan execution.Snapshot, 1)
	waiting := make(chan string, 1)

	session.Tracker().Subscribe(func(snap execution.Snapshot) {
		render.update(snap)

		if snap.Overall == execution.OverallWaitingForInput {
			if id := waitingNode(snap); id != "" {
				select {
				case waiting <- id:
				default:
				}
			}
		}

		if snap.Overall.Terminal() {
			select {
			case done <- snap:
			default:
			}
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	executionID, err := session.Run(ctx, parseRunInput(runInput))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Execution started: %s\n", executionID)

	reader := bufio.NewReader(os.Stdin)
	for {
		select {
		case snap := <-done:
			finishRun(snap)
			return

		case nodeID := <-waiting:
			fmt.Printf("Input requested by %s: ", nodeID)
			text, err := reader.ReadString('\n')
			if err != nil {
				continue
			}
			if err := session.SubmitInput(ctx, strings.TrimSpace(text)); err != nil {
				fmt.Printf("Error: %v\n", err)
			}

		case <-ctx.Done():
			fmt.Println("\nStopping execution...")
			session.Stop()
			return
		}
	}
}

// finishRun prints the run summary and sets the exit code.
func finishRun(snap execution.Snapshot) {
	fmt.Printf("\nExecution %s: %s (cost $%.4f)\n", snap.ExecutionID, snap.Overall, snap.TotalCost)
	if snap.Error != "" {
		fmt.Printf("Error: %s\n", snap.Error)
	}
	if snap.Overall == execution.OverallFailed {
		os.Exit(1)
	}
}

// executionStatus prints the backend's view of one execution.
func executionStatus(cmd *cobra.Command, args []string) {
	backend := newClient()

	status, err := backend.GetExecution(context.Background(), args[0])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Execution: %s\n", status.ExecutionID)
	fmt.Printf("Status:    %s\n", status.Status)
	if status.Error != "" {
		fmt.Printf("Error:     %s\n", status.Error)
	}
	if status.Result != nil {
		result, err := json.MarshalIndent(status.Result, "", "  ")
		if err == nil {
			fmt.Printf("Result:\n%s\n", result)
		}
	}
}

// submitInput sends input to a waiting execution by id.
func submitInput(cmd *cobra.Command, args []string) {
	backend := newClient()

	if err := backend.SubmitInput(context.Background(), args[0], args[1]); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Input submitted")
}

// resolveDefinition loads a workflow from a file path, falling back to
// the configured library when no such file exists.
func resolveDefinition(ref string) (workflow.Definition, error) {
	if _, err := os.Stat(ref); err == nil {
		return workflow.Load(ref)
	}

	store := openStore()
	defer store.Close()

	content, err := store.Get(ref)
	if err != nil {
		return workflow.Definition{}, fmt.Errorf("'%s' is neither a file nor a stored workflow: %w", ref, err)
	}

	return workflow.Parse(content)
}

// parseRunInput interprets the --input flag: an inline JSON object
// becomes a structured payload, anything else is a prompt string.
func parseRunInput(raw string) interface{} {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") {
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(trimmed), &payload); err == nil {
			return payload
		}
	}
	return raw
}

// waitingNode returns a node currently waiting for input.
func waitingNode(snap execution.Snapshot) string {
	for id, state := range snap.Nodes {
		if state.Status == execution.StatusWaiting {
			return id
		}
	}
	return ""
}

// renderer prints tracker snapshot changes as log-style lines.
type renderer struct {
	mu       sync.Mutex
	statuses map[string]execution.NodeStatus
	overall  execution.OverallStatus
}

func newRenderer() *renderer {
	return &renderer{statuses: make(map[string]execution.NodeStatus)}
}

// update prints every node status transition since the last snapshot.
func (r *renderer) update(snap execution.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(snap.Nodes))
	for id := range snap.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		state := snap.Nodes[id]
		if r.statuses[id] == state.Status {
			continue
		}
		r.statuses[id] = state.Status

		line := fmt.Sprintf("  [%-9s] %s", state.Status, id)
		if state.Error != "" {
			line += ": " + state.Error
		}
		fmt.Println(line)
	}

	if snap.Overall != r.overall {
		r.overall = snap.Overall
		fmt.Printf("Status: %s (%.0f%%)\n", snap.Overall, snap.Progress)
	}
}
