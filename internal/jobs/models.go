package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Type identifies the kind of work a job carries.
type Type string

const (
	TypeTranscribe     Type = "transcribe"
	TypeAnalyze        Type = "analyze"
	TypeMatchScore     Type = "calculate_match_score"
	TypeGenerateReport Type = "generate_report"
	TypeSendEmail      Type = "send_email"
)

var allTypes = []Type{TypeTranscribe, TypeAnalyze, TypeMatchScore, TypeGenerateReport, TypeSendEmail}

// ParseType validates and normalizes a job type string.
func ParseType(value string) (Type, error) {
	candidate := Type(strings.ToLower(strings.TrimSpace(value)))
	for _, jobType := range allTypes {
		if candidate == jobType {
			return jobType, nil
		}
	}
	return "", fmt.Errorf("unknown job type %q", value)
}

// Status represents the lifecycle of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var allStatuses = []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed}

// ParseStatus validates and normalizes a status string.
func ParseStatus(value string) (Status, error) {
	candidate := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if candidate == status {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown job status %q", value)
}

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one queued unit of work.
type Job struct {
	ID           int64
	Type         Type
	Payload      json.RawMessage
	Status       Status
	RetryCount   int
	MaxRetries   int
	RunAt        time.Time
	Result       string
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// TranscribePayload identifies the voice note whose audio needs transcription.
type TranscribePayload struct {
	NoteID int64 `json:"note_id"`
}

// AnalyzePayload identifies the voice note whose transcript needs analysis.
type AnalyzePayload struct {
	NoteID int64 `json:"note_id"`
}

// MatchScorePayload identifies the visit to score against buyer preferences.
type MatchScorePayload struct {
	VisitID string `json:"visit_id"`
}

// GenerateReportPayload identifies the buyer whose visits feed the report.
type GenerateReportPayload struct {
	BuyerEmail string `json:"buyer_email"`
}

// SendEmailPayload identifies a stored report to deliver.
type SendEmailPayload struct {
	ReportID int64 `json:"report_id"`
}

// DecodePayload unmarshals the job payload into the struct matching its type.
// Every job type must have a case here; an unknown type is a validation bug,
// not a retryable condition.
func DecodePayload(job *Job) (any, error) {
	if job == nil {
		return nil, fmt.Errorf("decode payload: nil job")
	}
	decode := func(target any) (any, error) {
		if err := json.Unmarshal(job.Payload, target); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", job.Type, err)
		}
		return target, nil
	}
	switch job.Type {
	case TypeTranscribe:
		return decode(&TranscribePayload{})
	case TypeAnalyze:
		return decode(&AnalyzePayload{})
	case TypeMatchScore:
		return decode(&MatchScorePayload{})
	case TypeGenerateReport:
		return decode(&GenerateReportPayload{})
	case TypeSendEmail:
		return decode(&SendEmailPayload{})
	default:
		return nil, fmt.Errorf("decode payload: unknown job type %q", job.Type)
	}
}
