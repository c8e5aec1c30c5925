package cron

import (
	"time"

	"github.com/google/uuid"
)

// KindCron is the only schedule kind: a robfig cron expression with a
// leading seconds field.
const KindCron = "cron"

// PayloadReminderSweep asks the job handler to run the deadline sweep.
const PayloadReminderSweep = "reminder-sweep"

type CronJob struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          JobState `json:"state"`
	CreatedAtMs    int64    `json:"createdAtMs"`
	DeleteAfterRun bool     `json:"deleteAfterRun,omitempty"`
}

type Schedule struct {
	Kind string `json:"kind"`
	Expr string `json:"expr"`
}

// Payload tells the handler what a job should do when it fires.
type Payload struct {
	Kind    string `json:"kind"`
	Channel string `json:"channel,omitempty"`
}

type JobState struct {
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
	LastResult  string `json:"lastResult,omitempty"`
}

func NewCronJob(name string, schedule Schedule, payload Payload) CronJob {
	if schedule.Kind == "" {
		schedule.Kind = KindCron
	}
	return CronJob{
		ID:          uuid.NewString(),
		Name:        name,
		Enabled:     true,
		Schedule:    schedule,
		Payload:     payload,
		CreatedAtMs: time.Now().UnixMilli(),
	}
}

// LastRun returns the time of the last execution, or zero if it never ran.
func (j CronJob) LastRun() time.Time {
	if j.State.LastRunAtMs == 0 {
		return time.Time{}
	}
	return time.UnixMilli(j.State.LastRunAtMs)
}
