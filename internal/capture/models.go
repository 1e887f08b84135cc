package capture

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the upload lifecycle of a captured artifact.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusFailed    Status = "failed"
)

var allStatuses = []Status{StatusPending, StatusUploading, StatusFailed}

// ParseStatus validates and normalizes a status string.
func ParseStatus(value string) (Status, error) {
	candidate := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if candidate == status {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown capture status %q", value)
}

// Kind distinguishes the primary artifact types.
type Kind string

const (
	KindVoice Kind = "voice"
	KindPhoto Kind = "photo"
)

// ParseKind validates and normalizes a kind string.
func ParseKind(value string) (Kind, error) {
	switch candidate := Kind(strings.ToLower(strings.TrimSpace(value))); candidate {
	case KindVoice, KindPhoto:
		return candidate, nil
	default:
		return "", fmt.Errorf("unknown capture kind %q", value)
	}
}

// Artifact is one captured recording or photo awaiting upload. The payload
// bytes are not carried on the struct; fetch them with Store.Payload.
type Artifact struct {
	ID              string
	VisitID         string
	Kind            Kind
	Label           string
	MimeType        string
	DurationSeconds float64
	SizeBytes       int64
	Status          Status
	RetryCount      int
	LastError       string
	CreatedAt       time.Time
	LastAttemptAt   *time.Time
}

// Attachment is a secondary file tied to an artifact, such as a photo taken
// while a voice note was recording. Attachments ride along with the artifact
// and are deleted with it.
type Attachment struct {
	ID         int64
	ArtifactID string
	Label      string
	MimeType   string
	SizeBytes  int64
}

// Stats summarizes outbox state for operator commands.
type Stats struct {
	Pending    int
	Uploading  int
	Failed     int
	TotalBytes int64
}

// Total returns the number of artifacts across all statuses.
func (s Stats) Total() int {
	return s.Pending + s.Uploading + s.Failed
}
