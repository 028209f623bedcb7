package model

import "time"

// JobKind is the recalculation job kind of spec §3/§4.7.
type JobKind string

const (
	JobRecomputeViolations JobKind = "recompute_violations"
	JobRefreshSingleView   JobKind = "refresh_single_view"
	JobRefreshAllViews     JobKind = "refresh_all_views"
)

// JobTrigger records why a job was enqueued.
type JobTrigger string

const (
	TriggerManual               JobTrigger = "manual"
	TriggerConfigurationChange  JobTrigger = "configuration_change"
	TriggerFormulaVersionChange JobTrigger = "formula_version_change"
)

// JobStatus is the recalculation job lifecycle of spec §3.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// JobScope narrows a recalculation job to a subset of telemetry. Every
// field is optional; an empty scope means "everything".
type JobScope struct {
	Identity   string
	Tenant     string
	DateFrom   *time.Time
	DateTo     *time.Time
}

// Job is a durable row in recalculation_queue (spec §6).
type Job struct {
	ID             int64
	Kind           JobKind
	Trigger        JobTrigger
	Status         JobStatus
	Priority       int // smaller = more urgent
	Reason         string
	Scope          JobScope
	ClaimedAt      *time.Time
	LeaseExpiresAt *time.Time
}
