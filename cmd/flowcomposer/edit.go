package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tcmartin/flowcomposer/pkg/workflow"
)

var editYes bool

// editWorkflow asks the assistant to edit a workflow file from a
// natural language instruction, confirming destructive plans first.
func editWorkflow(cmd *cobra.Command, args []string) {
	filePath := args[0]
	instruction := strings.Join(args[1:], " ")

	definition, err := workflow.Load(filePath)
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

	result, err := session.Edit(context.Background(), instruction)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if result.Pending {
		fmt.Println("The assistant proposes:")
		for _, line := range result.Plan.Describe() {
			fmt.Printf("  %s\n", line)
		}

		if !editYes {
			var confirm string
			fmt.Print("Apply these changes? (y/N): ")
			fmt.Scanln(&confirm)
			if strings.ToLower(confirm) != "y" {
				session.CancelEdit()
				fmt.Println("Edit cancelled")
				return
			}
		}

		if err := session.ConfirmEdit(); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	}

	if err := session.SaveDefinition().Save(filePath); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if result.Message != "" {
		fmt.Println(result.Message)
	}
	fmt.Printf("Workflow '%s' updated\n", filePath)
}
