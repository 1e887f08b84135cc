package records

import (
	"encoding/json"
	"time"
)

// Visit is one property viewing by a buyer. Preferences holds the buyer's
// stated wishlist as free-form JSON; match scoring reads it verbatim.
type Visit struct {
	ID              string
	PropertyAddress string
	BuyerEmail      string
	BuyerName       string
	Preferences     json.RawMessage
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// VoiceNote is a recorded observation attached to a visit. Transcript and
// Analysis start empty and are filled in by the pipeline stages.
type VoiceNote struct {
	ID               int64
	ClientArtifactID string
	VisitID          string
	Label            string
	MimeType         string
	DurationSeconds  float64
	AudioPath        string
	Transcript       string
	Language         string
	Analysis         json.RawMessage
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewVoiceNote carries the fields needed to register an uploaded recording.
type NewVoiceNote struct {
	ClientArtifactID string
	VisitID          string
	Label            string
	MimeType         string
	DurationSeconds  float64
	AudioPath        string
}

// MatchScore is the computed fit between a visit and the buyer's preferences.
type MatchScore struct {
	ID        int64
	VisitID   string
	Score     int
	Summary   string
	Reasons   json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Report is a rendered summary email for one buyer, covering all of their
// scored visits. SentAt is nil until delivery succeeds.
type Report struct {
	ID         int64
	BuyerEmail string
	Subject    string
	HTMLBody   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	SentAt     *time.Time
}
