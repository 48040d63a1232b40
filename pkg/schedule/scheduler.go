// Package schedule runs stored workflows on recurring cron schedules.
//
// Jobs are persisted to Redis so they survive restarts, and every firing
// is appended to a capped per-job run history. The actual workflow launch
// is delegated to a RunFunc so the scheduler stays decoupled from the
// backend client.
package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"

	"github.com/tcmartin/flowcomposer/pkg/logging"
)

// ErrJobNotFound is returned when a job ID does not exist in Redis.
var ErrJobNotFound = errors.New("scheduled job not found")

// runHistoryLimit caps the number of run records kept per job.
const runHistoryLimit = 100

// Job is a recurring run of a stored workflow.
type Job struct {
	// ID uniquely identifies the job
	ID string `json:"id"`

	// Spec is the cron expression, with or without a seconds field
	Spec string `json:"spec"`

	// WorkflowID names the stored workflow to run
	WorkflowID string `json:"workflow_id"`

	// Input is passed to the workflow on each firing
	Input map[string]interface{} `json:"input,omitempty"`

	// NextRunTime is when the job will fire next
	NextRunTime time.Time `json:"next_run_time"`

	// LastRunTime is when the job last fired
	LastRunTime time.Time `json:"last_run_time,omitempty"`

	// CreatedAt is when the job was added
	CreatedAt time.Time `json:"created_at"`
}

// RunRecord captures one firing of a job.
type RunRecord struct {
	// JobID is the job that fired
	JobID string `json:"job_id"`

	// WorkflowID is the workflow that was launched
	WorkflowID string `json:"workflow_id"`

	// ExecutedAt is when the firing happened
	ExecutedAt time.Time `json:"executed_at"`

	// Input is the payload the workflow was launched with
	Input map[string]interface{} `json:"input,omitempty"`

	// Error holds the launch failure, if any
	Error string `json:"error,omitempty"`
}

// RunFunc launches a workflow when its job fires.
type RunFunc func(ctx context.Context, job Job) error

// Config holds Redis connection settings for the scheduler.
type Config struct {
	// Addr is the Redis address, host:port
	Addr string

	// Password is the Redis password, empty for none
	Password string

	// DB is the Redis database number
	DB int
}

// Scheduler persists cron jobs to Redis and fires them through a RunFunc.
type Scheduler struct {
	redis      *redis.Client
	cron       *cron.Cron
	run        RunFunc
	logger     logging.Logger
	ownsClient bool

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSchedulerLogger sets the logger used by the scheduler.
func WithSchedulerLogger(logger logging.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewScheduler connects to Redis with the given config and returns a
// scheduler that launches workflows through run.
func NewScheduler(cfg Config, run RunFunc, opts ...Option) *Scheduler {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	s := NewSchedulerWithClient(client, run, opts...)
	s.ownsClient = true
	return s
}

// NewSchedulerWithClient returns a scheduler backed by an existing Redis
// client. The caller keeps ownership of the client.
func NewSchedulerWithClient(client *redis.Client, run RunFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		redis:   client,
		cron:    cron.New(),
		run:     run,
		logger:  logging.Default(),
		entries: make(map[string]cron.EntryID),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start verifies the Redis connection, re-registers persisted jobs, and
// begins firing them.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	jobs, err := s.List(ctx)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		schedule, err := parseSpec(job.Spec)
		if err != nil {
			s.logger.Warn("skipping job with invalid schedule",
				logging.F("job_id", job.ID),
				logging.F("error", err.Error()))
			continue
		}
		s.register(job.ID, schedule)
	}

	s.cron.Start()
	s.logger.Info("scheduler started", logging.F("jobs", len(jobs)))
	return nil
}

// Close stops the cron loop, waits for in-flight firings, and closes the
// Redis client if the scheduler created it.
func (s *Scheduler) Close() error {
	<-s.cron.Stop().Done()
	if s.ownsClient {
		return s.redis.Close()
	}
	return nil
}

// Add validates the job's cron spec, persists it, and registers it with
// the running scheduler. A missing ID is filled in, and CreatedAt and
// NextRunTime are computed. The stored job is returned.
func (s *Scheduler) Add(ctx context.Context, job Job) (Job, error) {
	schedule, err := parseSpec(job.Spec)
	if err != nil {
		return Job{}, err
	}

	if job.WorkflowID == "" {
		return Job{}, fmt.Errorf("workflow id is required")
	}

	if job.ID == "" {
		job.ID = fmt.Sprintf("%d", time.Now().UnixNano())
	}

	now := time.Now()
	job.CreatedAt = now
	job.NextRunTime = schedule.Next(now)

	if err := s.persist(ctx, job); err != nil {
		return Job{}, err
	}

	s.register(job.ID, schedule)

	s.logger.Info("job scheduled",
		logging.F("job_id", job.ID),
		logging.F("workflow_id", job.WorkflowID),
		logging.F("spec", job.Spec))

	return job, nil
}

// Get returns a job by ID.
func (s *Scheduler) Get(ctx context.Context, id string) (Job, error) {
	data, err := s.redis.Get(ctx, jobKey(id)).Result()
	if err == redis.Nil {
		return Job{}, ErrJobNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("failed to load job: %w", err)
	}

	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return Job{}, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return job, nil
}

// List returns all persisted jobs, oldest first.
func (s *Scheduler) List(ctx context.Context) ([]Job, error) {
	keys, err := s.redis.Keys(ctx, jobKey("*")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]Job, 0, len(keys))
	for _, key := range keys {
		data, err := s.redis.Get(ctx, key).Result()
		if err != nil {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			s.logger.Warn("skipping malformed job record", logging.F("key", key))
			continue
		}

		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	return jobs, nil
}

// Remove deletes a job and its run history and unregisters it from the
// cron loop.
func (s *Scheduler) Remove(ctx context.Context, id string) error {
	deleted, err := s.redis.Del(ctx, jobKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	s.redis.Del(ctx, runsKey(id))

	s.mu.Lock()
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if deleted == 0 {
		return ErrJobNotFound
	}

	s.logger.Info("job removed", logging.F("job_id", id))
	return nil
}

// Runs returns the most recent run records for a job, newest first.
// At most runHistoryLimit records are kept per job.
func (s *Scheduler) Runs(ctx context.Context, id string, limit int) ([]RunRecord, error) {
	if limit <= 0 || limit > runHistoryLimit {
		limit = runHistoryLimit
	}

	data, err := s.redis.LRange(ctx, runsKey(id), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load run history: %w", err)
	}

	records := make([]RunRecord, 0, len(data))
	for _, raw := range data {
		var rec RunRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

// register adds or replaces the cron entry for a job. Tracking entry IDs
// lets Remove actually cancel the firing, not just delete the record.
func (s *Scheduler) register(id string, schedule cron.Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[id]; ok {
		s.cron.Remove(old)
	}

	s.entries[id] = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.fire(id)
	}))
}

// fire re-reads the job, updates its run times, launches the workflow,
// and appends a run record. Reading at fire time picks up edits made
// since the entry was registered.
func (s *Scheduler) fire(id string) {
	ctx := context.Background()

	job, err := s.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrJobNotFound) {
			s.logger.Warn("failed to load job for firing", logging.F("job_id", id))
		}
		return
	}

	now := time.Now()
	job.LastRunTime = now
	if schedule, err := parseSpec(job.Spec); err == nil {
		job.NextRunTime = schedule.Next(now)
	}

	if err := s.persist(ctx, job); err != nil {
		s.logger.Warn("failed to update job after firing", logging.F("job_id", id))
	}

	record := RunRecord{
		JobID:      job.ID,
		WorkflowID: job.WorkflowID,
		ExecutedAt: now,
		Input:      job.Input,
	}

	if s.run != nil {
		if err := s.run(ctx, job); err != nil {
			record.Error = err.Error()
			s.logger.Warn("scheduled run failed",
				logging.F("job_id", job.ID),
				logging.F("workflow_id", job.WorkflowID),
				logging.F("error", err.Error()))
		}
	}

	s.record(ctx, record)
}

func (s *Scheduler) persist(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := s.redis.Set(ctx, jobKey(job.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}

	return nil
}

func (s *Scheduler) record(ctx context.Context, rec RunRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}

	key := runsKey(rec.JobID)
	s.redis.LPush(ctx, key, data)
	s.redis.LTrim(ctx, key, 0, runHistoryLimit-1)
}

// parseSpec accepts both 6-field (with seconds) and standard 5-field
// cron expressions.
func parseSpec(spec string) (cron.Schedule, error) {
	schedule, err := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow).Parse(spec)
	if err != nil {
		schedule, err = cron.ParseStandard(spec)
		if err != nil {
			return nil, fmt.Errorf("invalid cron schedule: %w", err)
		}
	}
	return schedule, nil
}

func jobKey(id string) string {
	return "composer:job:" + id
}

func runsKey(id string) string {
	return "composer:runs:" + id
}
