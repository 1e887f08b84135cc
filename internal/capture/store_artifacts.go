package capture

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const artifactColumns = "id, visit_id, kind, label, mime_type, duration_seconds, size_bytes, status, retry_count, last_error, created_at, last_attempt_at"

// NewArtifact carries the fields required to persist a capture.
type NewArtifact struct {
	VisitID         string
	Kind            Kind
	Label           string
	MimeType        string
	DurationSeconds float64
	Payload         []byte
}

// Save persists a new artifact as pending and returns it with its assigned ID.
func (s *Store) Save(ctx context.Context, input NewArtifact) (*Artifact, error) {
	if strings.TrimSpace(input.VisitID) == "" {
		return nil, errors.New("save capture: visit id required")
	}
	if _, err := ParseKind(string(input.Kind)); err != nil {
		return nil, fmt.Errorf("save capture: %w", err)
	}
	if len(input.Payload) == 0 {
		return nil, errors.New("save capture: payload required")
	}
	if strings.TrimSpace(input.MimeType) == "" {
		return nil, errors.New("save capture: mime type required")
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO capture_artifacts (
            id, visit_id, kind, label, mime_type, duration_seconds,
            size_bytes, status, retry_count, created_at, payload
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		id,
		input.VisitID,
		input.Kind,
		nullableString(input.Label),
		input.MimeType,
		input.DurationSeconds,
		int64(len(input.Payload)),
		StatusPending,
		now,
		input.Payload,
	); err != nil {
		return nil, fmt.Errorf("insert capture: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches an artifact by identifier. Returns nil when absent.
func (s *Store) GetByID(ctx context.Context, id string) (*Artifact, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM capture_artifacts WHERE id = ?`, id)
	artifact, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get capture: %w", err)
	}
	return artifact, nil
}

// List returns artifacts filtered by status set, oldest first. With no
// statuses, all artifacts are returned.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Artifact, error) {
	baseQuery := `SELECT ` + artifactColumns + ` FROM capture_artifacts`
	orderClause := ` ORDER BY created_at, id`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list captures: %w", err)
	}
	defer rows.Close()

	return collectArtifacts(rows)
}

// ListByVisit returns all artifacts recorded during one visit, oldest first.
func (s *Store) ListByVisit(ctx context.Context, visitID string) ([]*Artifact, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+artifactColumns+` FROM capture_artifacts WHERE visit_id = ? ORDER BY created_at, id`,
		visitID,
	)
	if err != nil {
		return nil, fmt.Errorf("list captures by visit: %w", err)
	}
	defer rows.Close()

	return collectArtifacts(rows)
}

// NextPending returns the oldest pending artifact, or nil when the outbox is drained.
func (s *Store) NextPending(ctx context.Context) (*Artifact, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+artifactColumns+` FROM capture_artifacts WHERE status = ? ORDER BY created_at, id LIMIT 1`,
		StatusPending,
	)
	artifact, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next pending capture: %w", err)
	}
	return artifact, nil
}

// Payload returns the stored bytes for an artifact.
func (s *Store) Payload(ctx context.Context, id string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM capture_artifacts WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("capture %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("read capture payload: %w", err)
	}
	return payload, nil
}

// AddAttachment stores a secondary file under an existing artifact.
func (s *Store) AddAttachment(ctx context.Context, artifactID, label, mimeType string, payload []byte) (*Attachment, error) {
	if len(payload) == 0 {
		return nil, errors.New("add attachment: payload required")
	}
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO capture_attachments (artifact_id, label, mime_type, size_bytes, payload)
         VALUES (?, ?, ?, ?, ?)`,
		artifactID,
		nullableString(label),
		mimeType,
		int64(len(payload)),
		payload,
	)
	if err != nil {
		return nil, fmt.Errorf("insert attachment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return &Attachment{
		ID:         id,
		ArtifactID: artifactID,
		Label:      label,
		MimeType:   mimeType,
		SizeBytes:  int64(len(payload)),
	}, nil
}

// Attachments lists the attachments of an artifact without their payloads.
func (s *Store) Attachments(ctx context.Context, artifactID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, artifact_id, label, mime_type, size_bytes FROM capture_attachments WHERE artifact_id = ? ORDER BY id`,
		artifactID,
	)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var attachments []Attachment
	for rows.Next() {
		var (
			attachment Attachment
			label      sql.NullString
		)
		if err := rows.Scan(&attachment.ID, &attachment.ArtifactID, &label, &attachment.MimeType, &attachment.SizeBytes); err != nil {
			return nil, err
		}
		attachment.Label = label.String
		attachments = append(attachments, attachment)
	}
	return attachments, rows.Err()
}

// AttachmentPayload returns the stored bytes for one attachment.
func (s *Store) AttachmentPayload(ctx context.Context, id int64) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM capture_attachments WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attachment %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("read attachment payload: %w", err)
	}
	return payload, nil
}

// MarkUploading claims a pending artifact for upload. The conditional update
// keeps a concurrent sweep from picking up the same artifact twice.
func (s *Store) MarkUploading(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE capture_artifacts SET status = ?, last_attempt_at = ? WHERE id = ? AND status = ?`,
		StatusUploading,
		now,
		id,
		StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("mark uploading: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// RecordFailure notes a failed upload attempt. The artifact returns to
// pending for another try unless permanent is set, which parks it as failed.
func (s *Store) RecordFailure(ctx context.Context, id, message string, permanent bool) error {
	status := StatusPending
	if permanent {
		status = StatusFailed
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.execWithRetry(
		ctx,
		`UPDATE capture_artifacts
         SET status = ?, retry_count = retry_count + 1, last_error = ?, last_attempt_at = ?
         WHERE id = ?`,
		status,
		nullableString(message),
		now,
		id,
	); err != nil {
		return fmt.Errorf("record capture failure: %w", err)
	}
	return nil
}

// Delete removes an artifact and, via cascade, its attachments. Deletion is
// how a successful upload is recorded.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM capture_artifacts WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete capture: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// RetryFailed moves all failed artifacts back to pending with a fresh retry
// budget and returns how many were revived.
func (s *Store) RetryFailed(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE capture_artifacts SET status = ?, retry_count = 0, last_error = NULL WHERE status = ?`,
		StatusPending,
		StatusFailed,
	)
	if err != nil {
		return 0, fmt.Errorf("retry failed captures: %w", err)
	}
	return res.RowsAffected()
}

// ReclaimUploading returns artifacts stuck in uploading back to pending.
// Used at agent startup to recover from a crash mid-upload.
func (s *Store) ReclaimUploading(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE capture_artifacts SET status = ? WHERE status = ?`,
		StatusPending,
		StatusUploading,
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim uploading captures: %w", err)
	}
	return res.RowsAffected()
}

// Stats summarizes outbox contents grouped by status.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT status, COUNT(1), COALESCE(SUM(size_bytes), 0) FROM capture_artifacts GROUP BY status`,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("capture stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var (
			status Status
			count  int
			bytes  int64
		)
		if err := rows.Scan(&status, &count, &bytes); err != nil {
			return Stats{}, err
		}
		stats.TotalBytes += bytes
		switch status {
		case StatusPending:
			stats.Pending = count
		case StatusUploading:
			stats.Uploading = count
		case StatusFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

func collectArtifacts(rows *sql.Rows) ([]*Artifact, error) {
	var artifacts []*Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, rows.Err()
}

func scanArtifact(scanner interface{ Scan(dest ...any) error }) (*Artifact, error) {
	var (
		id             string
		visitID        string
		kind           string
		label          sql.NullString
		mimeType       string
		duration       float64
		sizeBytes      int64
		statusStr      string
		retryCount     int
		lastError      sql.NullString
		createdRaw     string
		lastAttemptRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&visitID,
		&kind,
		&label,
		&mimeType,
		&duration,
		&sizeBytes,
		&statusStr,
		&retryCount,
		&lastError,
		&createdRaw,
		&lastAttemptRaw,
	); err != nil {
		return nil, err
	}

	artifact := &Artifact{
		ID:              id,
		VisitID:         visitID,
		Kind:            Kind(kind),
		Label:           label.String,
		MimeType:        mimeType,
		DurationSeconds: duration,
		SizeBytes:       sizeBytes,
		Status:          Status(statusStr),
		RetryCount:      retryCount,
		LastError:       lastError.String,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		artifact.CreatedAt = created
	}
	if lastAttemptRaw.Valid {
		if attempt, err := parseTimeString(lastAttemptRaw.String); err == nil {
			artifact.LastAttemptAt = &attempt
		}
	}
	return artifact, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
