// Package main provides a CLI for composing, editing, and running
// workflows against a flowcomposer backend.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tcmartin/flowcomposer/pkg/client"
	"github.com/tcmartin/flowcomposer/pkg/composer"
	"github.com/tcmartin/flowcomposer/pkg/config"
	"github.com/tcmartin/flowcomposer/pkg/logging"
	"github.com/tcmartin/flowcomposer/pkg/scripting"
	"github.com/tcmartin/flowcomposer/pkg/secrets"
	"github.com/tcmartin/flowcomposer/pkg/storage"
	"github.com/tcmartin/flowcomposer/pkg/transport"
)

// Version information
const (
	AppName    = "flowcomposer"
	AppVersion = "0.1.0"
)

var (
	// Global flags
	serverURL  string
	tokenFlag  string
	configPath string

	// Resolved configuration, available to every command after
	// PersistentPreRun
	cfg     *config.Config
	cfgPath string
	logger  logging.Logger
)

func main() {
	// Load environment variables from .env file
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "flowcomposer",
		Short: "FlowComposer CLI",
		Long:  "Command-line interface for composing, editing, and running workflows",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			loadCLIConfig()
		},
	}

	// Add global flags
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Backend server URL")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "API token")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", AppName, AppVersion)
		},
	}

	// Workflow commands
	workflowCmd := &cobra.Command{
		Use:   "workflow",
		Short: "Workflow library management",
	}

	workflowNewCmd := &cobra.Command{
		Use:   "new [name] [file]",
		Short: "Scaffold a new workflow file",
		Args:  cobra.ExactArgs(2),
		Run:   newWorkflow,
	}

	workflowListCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored workflows",
		Run:   listWorkflows,
	}

	workflowGetCmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Print a stored workflow",
		Args:  cobra.ExactArgs(1),
		Run:   getWorkflow,
	}

	workflowSaveCmd := &cobra.Command{
		Use:   "save [id] [file]",
		Short: "Validate a workflow file and store it",
		Args:  cobra.ExactArgs(2),
		Run:   saveWorkflow,
	}

	workflowDeleteCmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a stored workflow",
		Args:  cobra.ExactArgs(1),
		Run:   deleteWorkflow,
	}

	workflowIdentifyCmd := &cobra.Command{
		Use:   "identify [file]",
		Short: "Ask the assistant to name a workflow",
		Args:  cobra.ExactArgs(1),
		Run:   identifyWorkflow,
	}

	workflowCmd.AddCommand(workflowNewCmd, workflowListCmd, workflowGetCmd,
		workflowSaveCmd, workflowDeleteCmd, workflowIdentifyCmd)

	// Run commands
	runCmd := &cobra.Command{
		Use:   "run [id-or-file]",
		Short: "Run a workflow and stream its progress",
		Args:  cobra.ExactArgs(1),
		Run:   runWorkflow,
	}
	runCmd.Flags().StringVar(&runInput, "input", "", "Run input: a prompt string or an inline JSON object")

	statusCmd := &cobra.Command{
		Use:   "status [execution-id]",
		Short: "Print the status of an execution",
		Args:  cobra.ExactArgs(1),
		Run:   executionStatus,
	}

	inputCmd := &cobra.Command{
		Use:   "input [execution-id] [text]",
		Short: "Submit input to a waiting execution",
		Args:  cobra.ExactArgs(2),
		Run:   submitInput,
	}

	// Edit command
	editCmd := &cobra.Command{
		Use:   "edit [file] [instruction...]",
		Short: "Apply an AI-suggested edit to a workflow file",
		Args:  cobra.MinimumNArgs(2),
		Run:   editWorkflow,
	}
	editCmd.Flags().BoolVarP(&editYes, "yes", "y", false, "Apply destructive edits without confirmation")

	// Secret commands
	secretCmd := &cobra.Command{
		Use:   "secret",
		Short: "Local secret vault management",
	}

	secretListCmd := &cobra.Command{
		Use:   "list",
		Short: "List secret keys",
		Run:   listSecrets,
	}

	secretGetCmd := &cobra.Command{
		Use:   "get [key]",
		Short: "Get a secret value",
		Args:  cobra.ExactArgs(1),
		Run:   getSecret,
	}

	secretSetCmd := &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Set a secret value",
		Args:  cobra.ExactArgs(2),
		Run:   setSecret,
	}

	secretDeleteCmd := &cobra.Command{
		Use:   "delete [key]",
		Short: "Delete a secret",
		Args:  cobra.ExactArgs(1),
		Run:   deleteSecret,
	}

	secretCmd.AddCommand(secretListCmd, secretGetCmd, secretSetCmd, secretDeleteCmd)

	// Schedule commands
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Recurring workflow runs",
	}

	scheduleAddCmd := &cobra.Command{
		Use:   "add [workflow-id] [cron-spec]",
		Short: "Schedule a stored workflow",
		Args:  cobra.ExactArgs(2),
		Run:   addSchedule,
	}
	scheduleAddCmd.Flags().StringVar(&scheduleInput, "input", "", "Run input as an inline JSON object")

	scheduleListCmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		Run:   listSchedules,
	}

	scheduleRemoveCmd := &cobra.Command{
		Use:   "remove [job-id]",
		Short: "Remove a scheduled job",
		Args:  cobra.ExactArgs(1),
		Run:   removeSchedule,
	}

	scheduleRunsCmd := &cobra.Command{
		Use:   "runs [job-id]",
		Short: "Show a job's recent runs",
		Args:  cobra.ExactArgs(1),
		Run:   showScheduleRuns,
	}

	scheduleStartCmd := &cobra.Command{
		Use:   "start",
		Short: "Run the scheduler, firing jobs until interrupted",
		Run:   startScheduler,
	}

	scheduleCmd.AddCommand(scheduleAddCmd, scheduleListCmd, scheduleRemoveCmd,
		scheduleRunsCmd, scheduleStartCmd)

	// Add commands to root
	rootCmd.AddCommand(versionCmd, loginCmd, workflowCmd, runCmd, statusCmd,
		inputCmd, editCmd, secretCmd, scheduleCmd)

	// Execute
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// loadCLIConfig resolves the effective configuration: file, then
// environment, then flags.
func loadCLIConfig() {
	cfgPath = configPath
	if cfgPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfgPath = filepath.Join(home, ".flowcomposer", "config.json")
		}
	}

	loaded, err := config.LoadConfig(cfgPath)
	if err != nil {
		loaded = config.DefaultConfig()
	}
	config.ApplyEnvironment(loaded)

	if serverURL != "" {
		loaded.Server.BaseURL = serverURL
	}
	if tokenFlag != "" {
		loaded.Server.Token = tokenFlag
	}

	cfg = loaded
	logger = logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
}

// newClient builds a backend client from the resolved configuration.
func newClient() *client.Client {
	if cfg.Server.BaseURL == "" {
		fmt.Println("Error: Server URL is required")
		os.Exit(1)
	}

	opts := []client.ClientOption{
		client.WithTimeout(cfg.Server.RequestTimeoutDuration()),
		client.WithClientLogger(logger),
	}
	if cfg.Assist.SuggestPath != "" || cfg.Assist.IdentifyPath != "" {
		opts = append(opts, client.WithAssistPaths(cfg.Assist.SuggestPath, cfg.Assist.IdentifyPath))
	}
	if cfg.Server.Token != "" {
		opts = append(opts, client.WithToken(cfg.Server.Token))
	}

	return client.New(cfg.Server.BaseURL, opts...)
}

// newSession builds a composer session wired with the configured
// transport and input evaluator.
func newSession(backend composer.Backend) *composer.Session {
	return composer.NewSession(backend,
		composer.WithSessionLogger(logger),
		composer.WithInputEvaluator(newEvaluator()),
		composer.WithTransportOptions(transport.Options{
			OpenTimeout:     cfg.Transport.OpenTimeoutDuration(),
			PollInterval:    cfg.Transport.PollIntervalDuration(),
			PollMaxAttempts: cfg.Transport.PollMaxAttempts,
			PollMaxWait:     cfg.Transport.PollMaxWaitDuration(),
			Logger:          logger,
		}),
	)
}

// newEvaluator returns a secret-aware evaluator when the vault is
// usable, degrading to the plain evaluator otherwise.
func newEvaluator() composer.InputEvaluator {
	if cfg.Secrets.Passphrase == "" {
		return scripting.NewEvaluator()
	}

	vault, err := secrets.Open(vaultPath(), cfg.Secrets.Passphrase)
	if err != nil {
		fmt.Printf("Warning: secret vault unavailable: %v\n", err)
		return scripting.NewEvaluator()
	}

	return scripting.NewSecretAwareEvaluator(vault)
}

// openStore opens the configured workflow store.
func openStore() storage.WorkflowStore {
	providerCfg := storage.ProviderConfig{Type: storage.ProviderType(cfg.Storage.Type)}

	switch cfg.Storage.Type {
	case "", "file":
		dir := cfg.Storage.Directory
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}
			dir = filepath.Join(home, ".flowcomposer", "workflows")
		}
		providerCfg.Type = storage.FileProviderType
		providerCfg.File = &storage.FileConfig{Directory: dir}

	case "memory":

	case "dynamodb":
		providerCfg.DynamoDB = &storage.DynamoDBConfig{
			Region:      cfg.Storage.DynamoDB.Region,
			Endpoint:    cfg.Storage.DynamoDB.Endpoint,
			TablePrefix: cfg.Storage.DynamoDB.TablePrefix,
		}

	case "postgres", "postgresql":
		providerCfg.Type = storage.PostgreSQLProviderType
		providerCfg.PostgreSQL = &storage.PostgresConfig{
			Host:     cfg.Storage.Postgres.Host,
			Port:     cfg.Storage.Postgres.Port,
			User:     cfg.Storage.Postgres.User,
			Password: cfg.Storage.Postgres.Password,
			Database: cfg.Storage.Postgres.Database,
			SSLMode:  cfg.Storage.Postgres.SSLMode,
		}
	}

	store, err := storage.NewProvider(providerCfg)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if err := store.Initialize(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	return store
}

// vaultPath resolves the secret vault location.
func vaultPath() string {
	if cfg.Secrets.FilePath != "" {
		return cfg.Secrets.FilePath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "secrets.vault"
	}
	return filepath.Join(home, ".flowcomposer", "secrets.vault")
}

// saveCLIConfig writes the resolved configuration back to disk.
func saveCLIConfig() {
	if cfgPath == "" {
		fmt.Println("Warning: No config path available, configuration not saved")
		return
	}
	if err := config.SaveConfig(cfg, cfgPath); err != nil {
		fmt.Printf("Warning: Failed to save config: %v\n", err)
	}
}
