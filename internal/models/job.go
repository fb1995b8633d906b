package models

import (
	"fmt"
	"time"
)

// Status enumerates job lifecycle states persisted in Postgres.
type Status string

const (
	// StatusNone is the pseudo-state of a job that does not exist yet.
	StatusNone              Status = ""
	StatusDraft             Status = "DRAFT"
	StatusSent              Status = "SENT"
	StatusFailedSend        Status = "FAILED_SEND"
	StatusFactoryFailed     Status = "FACTORY_FAILED"
	StatusReadyForReview    Status = "READY_FOR_REVIEW"
	StatusRevisionRequested Status = "REVISION_REQUESTED"
	StatusDeployRequested   Status = "DEPLOY_REQUESTED"
	StatusDeployed          Status = "DEPLOYED"
	StatusRejected          Status = "REJECTED"
)

// AllStatuses lists every real status in declaration order.
var AllStatuses = []Status{
	StatusDraft,
	StatusSent,
	StatusFailedSend,
	StatusFactoryFailed,
	StatusReadyForReview,
	StatusRevisionRequested,
	StatusDeployRequested,
	StatusDeployed,
	StatusRejected,
}

// ParseStatus converts a raw string to a Status. The empty string is rejected;
// StatusNone is never accepted from the outside.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusDraft, StatusSent, StatusFailedSend, StatusFactoryFailed, StatusReadyForReview,
		StatusRevisionRequested, StatusDeployRequested, StatusDeployed, StatusRejected:
		return st, nil
	}
	return StatusNone, fmt.Errorf("unknown job status %q", s)
}

// String renders StatusNone as "null", matching how audit entries print it.
func (s Status) String() string {
	if s == StatusNone {
		return "null"
	}
	return string(s)
}

// Actor identifies who caused a status change. Always chosen server-side.
type Actor string

const (
	ActorBoss    Actor = "BOSS"
	ActorFactory Actor = "FACTORY"
	ActorSystem  Actor = "SYSTEM"
)

// ParseActor converts a raw string to an Actor.
func ParseActor(s string) (Actor, error) {
	a := Actor(s)
	switch a {
	case ActorBoss, ActorFactory, ActorSystem:
		return a, nil
	}
	return "", fmt.Errorf("unknown actor %q", s)
}

// FileType is the kind of uploaded document.
type FileType string

const (
	FileTypePDF  FileType = "PDF"
	FileTypeDOCX FileType = "DOCX"
	FileTypeTXT  FileType = "TXT"
	FileTypeMD   FileType = "MD"
)

// ParseFileType converts a raw string to a FileType.
func ParseFileType(s string) (FileType, error) {
	ft := FileType(s)
	switch ft {
	case FileTypePDF, FileTypeDOCX, FileTypeTXT, FileTypeMD:
		return ft, nil
	}
	return "", fmt.Errorf("unknown file type %q", s)
}

// QA results reported by the Factory.
const (
	QAPass = "PASS"
	QAFail = "FAIL"
)

// Job represents an uploaded document moving through generation and review.
// Only Status is owned by the state machine; the rest is payload.
type Job struct {
	JobID              string         `json:"job_id"`
	OriginalFilename   string         `json:"original_filename"`
	FileType           FileType       `json:"file_type"`
	FileSizeBytes      int64          `json:"file_size_bytes"`
	FileStorageKey     string         `json:"file_storage_key"`
	Status             Status         `json:"status"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	SubmittedAt        *time.Time     `json:"submitted_at,omitempty"`
	LastAttemptAt      *time.Time     `json:"last_attempt_at,omitempty"`
	FailureReason      *string        `json:"failure_reason,omitempty"`
	ToolID             *string        `json:"tool_id,omitempty"`
	ToolHTML           *string        `json:"-"`
	QAStatus           *string        `json:"qa_status,omitempty"`
	QAReport           map[string]any `json:"qa_report,omitempty"`
	CallbackReceivedAt *time.Time     `json:"callback_received_at,omitempty"`
	RevisionCount      int            `json:"revision_count"`
	RevisionNotes      *string        `json:"revision_notes,omitempty"`
	StateVersion       int            `json:"state_version"`
}

// AuditEntry is an immutable record of one status transition.
type AuditEntry struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	FromStatus Status    `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	Timestamp  time.Time `json:"timestamp"`
	Actor      Actor     `json:"actor"`
	Note       string    `json:"note,omitempty"`
}

// NewAuditEntry is an audit entry before the store assigns its id and timestamp.
type NewAuditEntry struct {
	JobID      string
	FromStatus Status
	ToStatus   Status
	Actor      Actor
	Note       string
}

// InitialAuditEntry is the null → DRAFT record every job starts with.
func InitialAuditEntry(jobID string) NewAuditEntry {
	return NewAuditEntry{
		JobID:      jobID,
		FromStatus: StatusNone,
		ToStatus:   StatusDraft,
		Actor:      ActorSystem,
	}
}
