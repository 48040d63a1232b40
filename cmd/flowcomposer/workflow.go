package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tcmartin/flowcomposer/pkg/graph"
	"github.com/tcmartin/flowcomposer/pkg/workflow"
)

// newWorkflow scaffolds a minimal input -> agent -> output workflow file.
func newWorkflow(cmd *cobra.Command, args []string) {
	name := args[0]
	filePath := args[1]

	definition := workflow.Definition{
		Metadata: workflow.Metadata{
			Name:    name,
			Version: "1",
		},
		Nodes: []graph.Node{
			{
				ID:       "input-1",
				Kind:     graph.KindInput,
				Position: graph.Position{X: 0, Y: 0},
			},
			{
				ID:       "agent-1",
				Kind:     graph.KindAgent,
				Position: graph.Position{X: 250, Y: 0},
				Data:     map[string]interface{}{"label": name},
			},
			{
				ID:       "output-1",
				Kind:     graph.KindOutput,
				Position: graph.Position{X: 500, Y: 0},
			},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "input-1", Target: "agent-1"},
			{ID: "e2", Source: "agent-1", Target: "output-1"},
		},
	}

	if err := definition.Save(filePath); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Workflow '%s' written to %s\n", name, filePath)
}

// listWorkflows prints the stored workflow library.
func listWorkflows(cmd *cobra.Command, args []string) {
	store := openStore()
	defer store.Close()

	list, err := store.List()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if len(list) == 0 {
		fmt.Println("No workflows found")
		return
	}

	fmt.Println("ID\t\tName\t\tCategory\t\tUpdated")
	fmt.Println("--\t\t----\t\t--------\t\t-------")
	for _, meta := range list {
		updated := time.Unix(meta.UpdatedAt, 0).Format("2006-01-02 15:04")
		fmt.Printf("%s\t%s\t\t%s\t\t%s\n", meta.ID, meta.Name, meta.Category, updated)
	}
}

// getWorkflow prints a stored workflow's YAML.
func getWorkflow(cmd *cobra.Command, args []string) {
	store := openStore()
	defer store.Close()

	definition, err := store.Get(args[0])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(string(definition))
}

// saveWorkflow validates a workflow file and stores it under the id.
func saveWorkflow(cmd *cobra.Command, args []string) {
	id := args[0]
	filePath := args[1]

	content, err := os.ReadFile(filePath)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	// Parse first so invalid definitions never enter the library
	if _, err := workflow.Parse(content); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	store := openStore()
	defer store.Close()

	if err := store.Save(id, content); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Workflow saved with ID: %s\n", id)
}

// deleteWorkflow removes a stored workflow after confirmation.
func deleteWorkflow(cmd *cobra.Command, args []string) {
	id := args[0]

	// Confirm deletion
	fmt.Printf("Are you sure you want to delete workflow %s? (y/N): ", id)
	var confirm string
	fmt.Scanln(&confirm)
	if strings.ToLower(confirm) != "y" {
		fmt.Println("Deletion cancelled")
		return
	}

	store := openStore()
	defer store.Close()

	if err := store.Delete(id); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Workflow deleted successfully")
}

// identifyWorkflow asks the assistant to name the workflow in a file.
func identifyWorkflow(cmd *cobra.Command, args []string) {
	definition, err := workflow.Load(args[0])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	backend := newClient()

	identity, err := backend.SuggestIdentity(context.Background(), definition.Snapshot())
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Name:        %s\n", identity.Name)
	if identity.Description != "" {
		fmt.Printf("Description: %s\n", identity.Description)
	}
	if identity.Category != "" {
		fmt.Printf("Category:    %s\n", identity.Category)
	}
	if identity.Confidence > 0 {
		fmt.Printf("Confidence:  %.0f%%\n", identity.Confidence*100)
	}
}
