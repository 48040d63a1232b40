package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tcmartin/flowcomposer/pkg/client"
	"github.com/tcmartin/flowcomposer/pkg/schedule"
	"github.com/tcmartin/flowcomposer/pkg/workflow"
)

var scheduleInput string

// newScheduler builds a scheduler against the configured Redis server.
func newScheduler(run schedule.RunFunc) *schedule.Scheduler {
	return schedule.NewScheduler(schedule.Config{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, run, schedule.WithSchedulerLogger(logger))
}

// addSchedule registers a cron schedule for a stored workflow.
func addSchedule(cmd *cobra.Command, args []string) {
	var input map[string]interface{}
	if scheduleInput != "" {
		if err := json.Unmarshal([]byte(scheduleInput), &input); err != nil {
			fmt.Printf("Error: --input must be a JSON object: %v\n", err)
			os.Exit(1)
		}
	}

	scheduler := newScheduler(nil)
	defer scheduler.Close()

	job, err := scheduler.Add(context.Background(), schedule.Job{
		WorkflowID: args[0],
		Spec:       args[1],
		Input:      input,
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Schedule created: %s\n", job.ID)
	fmt.Printf("Next run: %s\n", job.NextRunTime.Format("2006-01-02 15:04:05"))
}

// listSchedules prints all registered schedules.
func listSchedules(cmd *cobra.Command, args []string) {
	scheduler := newScheduler(nil)
	defer scheduler.Close()

	jobs, err := scheduler.List(context.Background())
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if len(jobs) == 0 {
		fmt.Println("No schedules found")
		return
	}

	fmt.Printf("Found %d schedule(s):\n", len(jobs))
	fmt.Println("ID\t\tWorkflow\t\tSpec\t\tNext Run")
	for _, job := range jobs {
		fmt.Printf("%s\t\t%s\t\t%s\t\t%s\n",
			job.ID, job.WorkflowID, job.Spec,
			job.NextRunTime.Format("2006-01-02 15:04:05"))
	}
}

// removeSchedule deletes a schedule after confirmation.
func removeSchedule(cmd *cobra.Command, args []string) {
	var confirm string
	fmt.Printf("Are you sure you want to delete schedule '%s'? (y/N): ", args[0])
	fmt.Scanln(&confirm)
	if strings.ToLower(confirm) != "y" {
		fmt.Println("Deletion cancelled")
		return
	}

	scheduler := newScheduler(nil)
	defer scheduler.Close()

	if err := scheduler.Remove(context.Background(), args[0]); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Schedule '%s' deleted successfully\n", args[0])
}

// showScheduleRuns prints the recent run history of one schedule.
func showScheduleRuns(cmd *cobra.Command, args []string) {
	scheduler := newScheduler(nil)
	defer scheduler.Close()

	records, err := scheduler.Runs(context.Background(), args[0], 20)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if len(records) == 0 {
		fmt.Println("No runs recorded")
		return
	}

	fmt.Printf("Last %d run(s):\n", len(records))
	for _, rec := range records {
		line := fmt.Sprintf("  %s  %s", rec.ExecutedAt.Format("2006-01-02 15:04:05"), rec.WorkflowID)
		if rec.Error != "" {
			line += "  FAILED: " + rec.Error
		}
		fmt.Println(line)
	}
}

// startScheduler runs the scheduler daemon, launching stored workflows
// on the backend when their cron schedules fire.
func startScheduler(cmd *cobra.Command, args []string) {
	store := openStore()
	defer store.Close()

	backend := newClient()

	launch := func(ctx context.Context, job schedule.Job) error {
		content, err := store.Get(job.WorkflowID)
		if err != nil {
			return fmt.Errorf("workflow %s: %w", job.WorkflowID, err)
		}

		definition, err := workflow.Parse(content)
		if err != nil {
			return fmt.Errorf("workflow %s: %w", job.WorkflowID, err)
		}

		var input interface{}
		if job.Input != nil {
			input = job.Input
		}

		status, err := backend.Execute(ctx, client.ExecuteRequest{
			Nodes: definition.Nodes,
			Edges: definition.Edges,
			Input: input,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Launched %s as execution %s\n", job.WorkflowID, status.ExecutionID)
		return nil
	}

	scheduler := newScheduler(launch)
	defer scheduler.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := scheduler.Start(ctx); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Scheduler started, press Ctrl+C to stop")
	<-ctx.Done()
	fmt.Println("\nScheduler stopping...")
}
