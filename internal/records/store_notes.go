package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const voiceNoteColumns = `id, client_artifact_id, visit_id, label, mime_type, duration_seconds, audio_path, transcript, language, analysis_json, created_at, updated_at`

// CreateVoiceNote registers an uploaded recording. Uploads are retried by the
// client, so the client artifact id is the idempotency key: when a note with
// the same id already exists the stored row is returned and created is false.
func (s *Store) CreateVoiceNote(ctx context.Context, note NewVoiceNote) (*VoiceNote, bool, error) {
	artifactID := strings.TrimSpace(note.ClientArtifactID)
	if artifactID == "" {
		return nil, false, errors.New("client artifact id required")
	}
	if strings.TrimSpace(note.VisitID) == "" {
		return nil, false, errors.New("visit id required")
	}
	if strings.TrimSpace(note.AudioPath) == "" {
		return nil, false, errors.New("audio path required")
	}

	if existing, err := s.GetVoiceNoteByArtifact(ctx, artifactID); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, false, nil
	}

	now := nowString()
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO voice_notes (client_artifact_id, visit_id, label, mime_type, duration_seconds, audio_path, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(client_artifact_id) DO NOTHING`,
		artifactID,
		strings.TrimSpace(note.VisitID),
		nullableString(strings.TrimSpace(note.Label)),
		nullableString(strings.TrimSpace(note.MimeType)),
		note.DurationSeconds,
		strings.TrimSpace(note.AudioPath),
		now,
		now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("create voice note: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}

	stored, err := s.GetVoiceNoteByArtifact(ctx, artifactID)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, fmt.Errorf("voice note %s vanished after insert", artifactID)
	}
	return stored, affected > 0, nil
}

// GetVoiceNote returns the note with the given id, or nil when absent.
func (s *Store) GetVoiceNote(ctx context.Context, id int64) (*VoiceNote, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+voiceNoteColumns+` FROM voice_notes WHERE id = ?`, id)
	note, err := scanVoiceNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get voice note: %w", err)
	}
	return note, nil
}

// GetVoiceNoteByArtifact looks a note up by the client artifact id that
// produced it.
func (s *Store) GetVoiceNoteByArtifact(ctx context.Context, artifactID string) (*VoiceNote, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+voiceNoteColumns+` FROM voice_notes WHERE client_artifact_id = ?`, strings.TrimSpace(artifactID))
	note, err := scanVoiceNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get voice note by artifact: %w", err)
	}
	return note, nil
}

// ListVoiceNotesByVisit returns a visit's notes in upload order.
func (s *Store) ListVoiceNotesByVisit(ctx context.Context, visitID string) ([]*VoiceNote, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+voiceNoteColumns+` FROM voice_notes WHERE visit_id = ? ORDER BY id`,
		strings.TrimSpace(visitID),
	)
	if err != nil {
		return nil, fmt.Errorf("list voice notes: %w", err)
	}
	defer rows.Close()

	var notes []*VoiceNote
	for rows.Next() {
		note, err := scanVoiceNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

// SetTranscript records the transcription output for a note.
func (s *Store) SetTranscript(ctx context.Context, id int64, transcript, language string) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE voice_notes SET transcript = ?, language = ?, updated_at = ? WHERE id = ?`,
		transcript,
		nullableString(strings.TrimSpace(language)),
		nowString(),
		id,
	)
	if err != nil {
		return fmt.Errorf("set transcript: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("set transcript: voice note %d not found", id)
	}
	return nil
}

// SetAnalysis records the structured analysis for a note.
func (s *Store) SetAnalysis(ctx context.Context, id int64, analysis json.RawMessage) error {
	if len(analysis) == 0 || !json.Valid(analysis) {
		return errors.New("analysis must be valid JSON")
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE voice_notes SET analysis_json = ?, updated_at = ? WHERE id = ?`,
		string(analysis),
		nowString(),
		id,
	)
	if err != nil {
		return fmt.Errorf("set analysis: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("set analysis: voice note %d not found", id)
	}
	return nil
}

func scanVoiceNote(scanner interface{ Scan(dest ...any) error }) (*VoiceNote, error) {
	var (
		id         int64
		artifactID string
		visitID    string
		label      sql.NullString
		mimeType   sql.NullString
		duration   float64
		audioPath  string
		transcript sql.NullString
		language   sql.NullString
		analysis   sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(
		&id,
		&artifactID,
		&visitID,
		&label,
		&mimeType,
		&duration,
		&audioPath,
		&transcript,
		&language,
		&analysis,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	note := &VoiceNote{
		ID:               id,
		ClientArtifactID: artifactID,
		VisitID:          visitID,
		Label:            label.String,
		MimeType:         mimeType.String,
		DurationSeconds:  duration,
		AudioPath:        audioPath,
		Transcript:       transcript.String,
		Language:         language.String,
	}
	if analysis.Valid {
		note.Analysis = json.RawMessage(analysis.String)
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		note.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		note.UpdatedAt = updated
	}
	return note, nil
}
