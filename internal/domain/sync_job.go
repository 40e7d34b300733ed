package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SyncJobStatus enumerates the lifecycle states of a SyncJob.
type SyncJobStatus string

const (
	SyncJobQueued    SyncJobStatus = "queued"
	SyncJobRunning   SyncJobStatus = "running"
	SyncJobCompleted SyncJobStatus = "completed"
	SyncJobFailed    SyncJobStatus = "failed"
	SyncJobCancelled SyncJobStatus = "cancelled"
)

// Phase labels the dispatcher writes via UpdatePhase. Free-form per spec
// §3, these constants just name the ones the dispatcher itself emits.
const (
	PhaseWaiting    = "waiting"
	PhaseParsing    = "parsing"
	PhaseImporting  = "importing"
	PhaseThreading  = "threading"
	PhasePersisting = "persisting"
)

// SyncJob is one durable unit of ingestion work against one mailing list.
type SyncJob struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	MailingListID int32           `json:"mailing_list_id" db:"mailing_list_id"`
	Status        SyncJobStatus   `json:"status" db:"status"`
	Phase         string          `json:"phase" db:"phase"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	StartedAt     *time.Time      `json:"started_at" db:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at" db:"completed_at"`
	ErrorMessage  *string         `json:"error_message" db:"error_message"`
	Attempt       int             `json:"attempt" db:"attempt"`
	Metrics       JobMetrics      `json:"metrics" db:"metrics"`
	LastHeartbeat time.Time       `json:"last_heartbeat" db:"last_heartbeat"`
}

// JobMetrics is the opaque progress/metrics object spec §3 mentions,
// surfaced verbatim on the status endpoint.
type JobMetrics struct {
	EpochsTotal       int   `json:"epochs_total"`
	EpochsDone        int   `json:"epochs_done"`
	CommitsSeen       int64 `json:"commits_seen"`
	EmailsParsed      int64 `json:"emails_parsed"`
	EmailsSkipped     int64 `json:"emails_skipped"`
	EmailsImported    int64 `json:"emails_imported"`
	ThreadsWritten    int64 `json:"threads_written"`
	ThreadsUnchanged  int64 `json:"threads_unchanged"`
}

// Value implements driver.Valuer so JobMetrics can be stored as JSONB.
func (m JobMetrics) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner so JobMetrics can be read back from JSONB.
func (m *JobMetrics) Scan(src interface{}) error {
	if src == nil {
		*m = JobMetrics{}
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("job metrics: unsupported scan type %T", src)
	}
	if len(b) == 0 {
		*m = JobMetrics{}
		return nil
	}
	return json.Unmarshal(b, m)
}

// QueueStatus is the JobQueue.status() read model (spec §4.1).
type QueueStatus struct {
	Current   *SyncJob  `json:"current,omitempty"`
	Queued    []SyncJob `json:"queued"`
	IsRunning bool      `json:"is_running"`
}
