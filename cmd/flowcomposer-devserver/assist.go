package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tcmartin/flowcomposer/pkg/assist"
	"github.com/tcmartin/flowcomposer/pkg/graph"
	"github.com/tcmartin/flowcomposer/pkg/logging"
	"github.com/tcmartin/flowcomposer/pkg/transport"
)

// suggestRequest is the suggest endpoint's request shape
type suggestRequest struct {
	Command string       `json:"command"`
	Nodes   []graph.Node `json:"nodes"`
	Edges   []graph.Edge `json:"edges"`
}

// handleSuggest turns a free-text command into an action plan using
// keyword heuristics, standing in for the production suggestion model
func (s *server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req suggestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	plan := buildPlan(req.Command, req.Nodes)
	s.logger.Info("suggested plan",
		logging.F("command", req.Command),
		logging.F("actions", len(plan.Actions)))

	writeJSON(w, http.StatusOK, plan)
}

// identifyRequest is the identify endpoint's request shape
type identifyRequest struct {
	Nodes []graph.Node `json:"nodes"`
	Edges []graph.Edge `json:"edges"`
}

// handleIdentify names and categorizes the submitted graph. The reply is
// wrapped in a markdown code fence because the production endpoint's LLM
// does that, and clients need to keep tolerating it.
func (s *server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	var req identifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	identity := identifyGraph(req.Nodes, req.Edges)

	payload, err := json.MarshalIndent(identity, "", "  ")
	if err != nil {
		http.Error(w, "failed to encode identity", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "```json\n%s\n```\n", payload)
}

// handleAssistant streams a canned assistant reply as server-sent events
func (s *server) handleAssistant(w http.ResponseWriter, r *http.Request) {
	prompt := r.URL.Query().Get("prompt")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	for _, chunk := range assistantChunks(prompt) {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(80 * time.Millisecond):
		}
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", chunk)
		flusher.Flush()
	}
}

// assistantChunks splits a canned reply into delta-sized pieces
func assistantChunks(prompt string) []string {
	reply := "Here is a thought on that. " +
		"Add an agent node for the main task, wire its output to an output node, " +
		"and use a conditional node when different inputs need different handling. " +
		"Run the workflow to watch each node report progress."
	if prompt != "" {
		reply = fmt.Sprintf("You asked about %q. %s", prompt, reply)
	}

	words := strings.Fields(reply)
	chunks := make([]string, 0, len(words)/4+1)
	for len(words) > 0 {
		n := 4
		if n > len(words) {
			n = len(words)
		}
		chunks = append(chunks, strings.Join(words[:n], " "))
		words = words[n:]
	}
	return chunks
}

// identifyGraph derives a workflow identity from the graph's shape
func identifyGraph(nodes []graph.Node, edges []graph.Edge) transport.WorkflowIdentity {
	if len(nodes) == 0 {
		return transport.WorkflowIdentity{Name: "Empty Workflow", Confidence: 0.2}
	}

	name := "Workflow"
	for _, node := range nodes {
		if node.Kind == graph.KindAgent {
			name = node.Label() + " Pipeline"
			break
		}
	}

	agents := 0
	conditionals := 0
	for _, node := range nodes {
		switch node.Kind {
		case graph.KindAgent:
			agents++
		case graph.KindConditional:
			conditionals++
		}
	}

	category := "general"
	switch {
	case conditionals > 0:
		category = "routing"
	case agents > 1:
		category = "multi-agent"
	case agents == 1:
		category = "assistant"
	}

	return transport.WorkflowIdentity{
		Name:        name,
		Description: fmt.Sprintf("A workflow with %d node(s) and %d connection(s)", len(nodes), len(edges)),
		Category:    category,
		Confidence:  0.7,
	}
}

// buildPlan maps add/delete/connect/rename phrasings onto typed actions.
// Unrecognized commands produce an empty plan, which the composer reports
// as "no changes suggested".
func buildPlan(command string, nodes []graph.Node) assist.Plan {
	words := strings.Fields(strings.ToLower(command))
	if len(words) == 0 {
		return assist.Plan{}
	}

	switch {
	case hasAny(words, "delete", "remove", "drop"):
		return deletePlan(command, nodes)
	case hasAny(words, "connect", "link", "wire"):
		return connectPlan(command, nodes)
	case hasAny(words, "rename"):
		return renamePlan(command, nodes)
	case hasAny(words, "add", "create", "insert"):
		return addPlan(command, nodes)
	}
	return assist.Plan{}
}

// hasAny reports whether any of the candidates appears in words
func hasAny(words []string, candidates ...string) bool {
	for _, word := range words {
		for _, candidate := range candidates {
			if word == candidate {
				return true
			}
		}
	}
	return false
}

// deletePlan targets every node whose label or id appears in the command
func deletePlan(command string, nodes []graph.Node) assist.Plan {
	lowered := strings.ToLower(command)

	var plan assist.Plan
	for _, node := range nodes {
		if strings.Contains(lowered, strings.ToLower(node.Label())) ||
			strings.Contains(lowered, strings.ToLower(node.ID)) {
			plan.Actions = append(plan.Actions, assist.Action{Type: assist.ActionDeleteNode, NodeID: node.ID})
		}
	}

	if plan.Empty() && (strings.Contains(lowered, "everything") || strings.Contains(lowered, "all nodes")) {
		for _, node := range nodes {
			plan.Actions = append(plan.Actions, assist.Action{Type: assist.ActionDeleteNode, NodeID: node.ID})
		}
	}
	return plan
}

// addPlan creates one node of the kind named in the command
func addPlan(command string, nodes []graph.Node) assist.Plan {
	lowered := strings.ToLower(command)

	kind := graph.KindAgent
	for _, candidate := range []graph.NodeKind{
		graph.KindAgent, graph.KindConditional, graph.KindTool, graph.KindOutput, graph.KindInput,
	} {
		if strings.Contains(lowered, string(candidate)) {
			kind = candidate
			break
		}
	}

	node := graph.Node{
		ID:       uuid.NewString(),
		Kind:     kind,
		Position: nextPosition(nodes),
		Data:     map[string]interface{}{},
	}
	if label := extractLabel(command); label != "" {
		node.Data["label"] = label
	}

	return assist.Plan{Actions: []assist.Action{{Type: assist.ActionAddNode, Node: &node}}}
}

// connectPlan wires the first two nodes the command mentions, in mention
// order
func connectPlan(command string, nodes []graph.Node) assist.Plan {
	lowered := strings.ToLower(command)

	type mention struct {
		id  string
		pos int
	}
	mentions := make([]mention, 0, 2)
	for _, node := range nodes {
		if idx := strings.Index(lowered, strings.ToLower(node.Label())); idx >= 0 {
			mentions = append(mentions, mention{id: node.ID, pos: idx})
		}
	}
	sort.Slice(mentions, func(i, j int) bool { return mentions[i].pos < mentions[j].pos })

	if len(mentions) < 2 {
		return assist.Plan{}
	}
	return assist.Plan{Actions: []assist.Action{{
		Type: assist.ActionCreateEdge,
		Edge: &assist.EdgeParams{Source: mentions[0].id, Target: mentions[1].id},
	}}}
}

// renamePlan relabels the node mentioned before " to " with the text after
func renamePlan(command string, nodes []graph.Node) assist.Plan {
	lowered := strings.ToLower(command)

	idx := strings.LastIndex(lowered, " to ")
	if idx < 0 {
		return assist.Plan{}
	}
	newName := strings.Trim(strings.TrimSpace(command[idx+len(" to "):]), `'"`)
	if newName == "" {
		return assist.Plan{}
	}

	head := lowered[:idx]
	for _, node := range nodes {
		if strings.Contains(head, strings.ToLower(node.Label())) {
			return assist.Plan{Actions: []assist.Action{{
				Type:   assist.ActionUpdateNode,
				NodeID: node.ID,
				Patch:  map[string]interface{}{"label": newName},
			}}}
		}
	}
	return assist.Plan{}
}

var quotedLabel = regexp.MustCompile(`['"]([^'"]+)['"]`)

// extractLabel pulls a label out of quotes or from a called/named clause
func extractLabel(command string) string {
	if match := quotedLabel.FindStringSubmatch(command); match != nil {
		return match[1]
	}

	lowered := strings.ToLower(command)
	for _, marker := range []string{" called ", " named "} {
		if idx := strings.Index(lowered, marker); idx >= 0 {
			return strings.TrimSpace(command[idx+len(marker):])
		}
	}
	return ""
}

// nextPosition places a new node to the right of the rightmost node
func nextPosition(nodes []graph.Node) graph.Position {
	if len(nodes) == 0 {
		return graph.Position{X: 100, Y: 200}
	}

	rightmost := nodes[0].Position
	for _, node := range nodes[1:] {
		if node.Position.X > rightmost.X {
			rightmost = node.Position
		}
	}
	return graph.Position{X: rightmost.X + 250, Y: rightmost.Y}
}
