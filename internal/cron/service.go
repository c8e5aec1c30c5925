// Package cron runs persisted, named jobs on cron schedules.
package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	rcron "github.com/robfig/cron/v3"
	"github.com/stellarlinkco/remindme/internal/logging"
)

var parser = rcron.NewParser(rcron.Second | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor)

// ValidateExpr reports whether expr is a valid six-field cron expression.
func ValidateExpr(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

type Service struct {
	storePath string
	loc       *time.Location
	logger    *log.Logger

	mu       sync.Mutex
	jobs     []CronJob
	OnJob    func(ctx context.Context, job CronJob) (string, error)
	cron     *rcron.Cron
	entryMap map[string]rcron.EntryID // job ID -> cron entry ID
	runCtx   context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
}

// NewService creates a scheduler persisting jobs at storePath. Schedules are
// evaluated in loc; nil means time.Local.
func NewService(storePath string, loc *time.Location, logger *log.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		storePath: storePath,
		loc:       loc,
		logger:    logging.Component(logger, "cron"),
		entryMap:  make(map[string]rcron.EntryID),
	}
}

// Load reads persisted jobs without starting the scheduler.
func (s *Service) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})

	s.mu.Lock()
	if s.cron != nil {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("cron service already started")
	}
	if err := s.load(); err != nil {
		s.logger.Warn("failed to load jobs", "path", s.storePath, "err", err)
	}
	s.runCtx = runCtx
	s.cancel = cancel
	s.stopCh = stopCh
	s.cron = rcron.New(rcron.WithParser(parser), rcron.WithLocation(s.loc))
	for i := range s.jobs {
		if s.jobs[i].Enabled {
			s.registerJob(&s.jobs[i])
		}
	}
	count := len(s.jobs)
	s.cron.Start()
	s.mu.Unlock()

	s.logger.Info("started", "jobs", count, "location", s.loc.String())

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
			return
		}
	}()

	return nil
}

// registerJob must be called with s.mu held.
func (s *Service) registerJob(job *CronJob) {
	if job.Schedule.Kind != KindCron {
		s.logger.Warn("unsupported schedule kind", "job", job.Name, "kind", job.Schedule.Kind)
		return
	}
	jobID := job.ID
	id, err := s.cron.AddFunc(job.Schedule.Expr, func() {
		s.fire(jobID)
	})
	if err != nil {
		s.logger.Error("failed to register job", "job", job.Name, "expr", job.Schedule.Expr, "err", err)
		return
	}
	s.entryMap[job.ID] = id
}

// unregisterJob must be called with s.mu held.
func (s *Service) unregisterJob(jobID string) {
	if entryID, ok := s.entryMap[jobID]; ok {
		if s.cron != nil {
			s.cron.Remove(entryID)
		}
		delete(s.entryMap, jobID)
	}
}

func (s *Service) fire(jobID string) {
	s.mu.Lock()
	job, ok := s.find(jobID)
	ctx := s.runCtx
	s.mu.Unlock()
	if !ok {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.executeJob(ctx, job)
}

// RunJob executes a job immediately, outside its schedule.
func (s *Service) RunJob(ctx context.Context, id string) error {
	s.mu.Lock()
	job, ok := s.find(id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	s.executeJob(ctx, job)
	return nil
}

func (s *Service) executeJob(ctx context.Context, job CronJob) {
	s.logger.Info("executing job", "job", job.Name, "id", job.ID)

	if s.OnJob == nil {
		s.logger.Warn("no OnJob handler set")
		return
	}

	result, err := s.OnJob(ctx, job)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].ID != job.ID {
			continue
		}
		st := &s.jobs[i].State
		st.LastRunAtMs = time.Now().UnixMilli()
		if err != nil {
			st.LastStatus = "error"
			st.LastError = err.Error()
			st.LastResult = ""
			s.logger.Error("job failed", "job", job.Name, "err", err)
		} else {
			st.LastStatus = "ok"
			st.LastError = ""
			st.LastResult = truncate(result, 200)
			s.logger.Info("job finished", "job", job.Name, "result", st.LastResult)
		}

		if s.jobs[i].DeleteAfterRun {
			s.unregisterJob(job.ID)
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
		}
		break
	}

	if err := s.save(); err != nil {
		s.logger.Error("failed to save jobs", "err", err)
	}
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopCh := s.stopCh
	c := s.cron
	s.cancel = nil
	s.stopCh = nil
	s.cron = nil
	s.entryMap = make(map[string]rcron.EntryID)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stopCh != nil {
		close(stopCh)
	}
	if c != nil {
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			s.logger.Warn("stop timeout waiting for running jobs")
		}
		s.logger.Info("stopped")
	}
}

func (s *Service) AddJob(name string, schedule Schedule, payload Payload) (*CronJob, error) {
	job := NewCronJob(name, schedule, payload)
	if job.Schedule.Kind != KindCron {
		return nil, fmt.Errorf("unsupported schedule kind %q", job.Schedule.Kind)
	}
	if err := ValidateExpr(job.Schedule.Expr); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs = append(s.jobs, job)
	if s.cron != nil {
		s.registerJob(&s.jobs[len(s.jobs)-1])
	}
	if err := s.save(); err != nil {
		return nil, fmt.Errorf("save jobs: %w", err)
	}
	return &job, nil
}

// EnsureJob makes sure exactly one job with the given name exists with the
// given schedule and payload. An existing job keeps its id and run state and
// is re-enabled.
func (s *Service) EnsureJob(name string, schedule Schedule, payload Payload) (*CronJob, error) {
	if schedule.Kind == "" {
		schedule.Kind = KindCron
	}
	if err := ValidateExpr(schedule.Expr); err != nil {
		return nil, err
	}

	s.mu.Lock()
	idx := -1
	for i := range s.jobs {
		if s.jobs[i].Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return s.AddJob(name, schedule, payload)
	}
	defer s.mu.Unlock()

	job := &s.jobs[idx]
	changed := job.Schedule != schedule || job.Payload != payload || !job.Enabled
	if !changed {
		out := *job
		return &out, nil
	}
	job.Schedule = schedule
	job.Payload = payload
	job.Enabled = true
	if s.cron != nil {
		s.unregisterJob(job.ID)
		s.registerJob(job)
	}
	if err := s.save(); err != nil {
		return nil, fmt.Errorf("save jobs: %w", err)
	}
	s.logger.Info("job updated", "job", name, "expr", schedule.Expr)
	out := *job
	return &out, nil
}

func (s *Service) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, job := range s.jobs {
		if job.ID == id {
			s.unregisterJob(id)
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			if err := s.save(); err != nil {
				s.logger.Error("failed to save jobs", "err", err)
			}
			return true
		}
	}
	return false
}

func (s *Service) ListJobs() []CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]CronJob, len(s.jobs))
	copy(result, s.jobs)
	return result
}

// FindJob looks a job up by name.
func (s *Service) FindJob(name string) (CronJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.Name == name {
			return j, true
		}
	}
	return CronJob{}, false
}

// NextRun reports when a registered job fires next. It is zero when the
// scheduler is not running or the job is disabled.
func (s *Service) NextRun(id string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	entryID, ok := s.entryMap[id]
	if !ok || s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(entryID).Next
}

func (s *Service) EnableJob(id string, enabled bool) (*CronJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].ID != id {
			continue
		}
		s.jobs[i].Enabled = enabled
		if s.cron != nil {
			if enabled {
				if _, ok := s.entryMap[id]; !ok {
					s.registerJob(&s.jobs[i])
				}
			} else {
				s.unregisterJob(id)
			}
		}
		if err := s.save(); err != nil {
			return nil, fmt.Errorf("save jobs: %w", err)
		}
		job := s.jobs[i]
		return &job, nil
	}
	return nil, fmt.Errorf("job %s not found", id)
}

// find must be called with s.mu held.
func (s *Service) find(id string) (CronJob, bool) {
	for _, j := range s.jobs {
		if j.ID == id {
			return j, true
		}
	}
	return CronJob{}, false
}

func (s *Service) load() error {
	data, err := os.ReadFile(s.storePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var jobs []CronJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return fmt.Errorf("parse %s: %w", s.storePath, err)
	}
	s.jobs = jobs
	return nil
}

func (s *Service) save() error {
	dir := filepath.Dir(s.storePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.jobs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.storePath, data, 0644)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
