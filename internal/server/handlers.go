package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"hearth/internal/jobs"
	"hearth/internal/logging"
	"hearth/internal/records"
)

// maxUploadBytes bounds a single capture upload.
const maxUploadBytes = 256 << 20

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stats, err := s.jobs.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jobCounts := make(map[string]int, len(stats))
	for status, count := range stats {
		jobCounts[string(status)] = count
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"running": true,
		"jobs":    jobCounts,
	})
}

type visitRequest struct {
	ID              string          `json:"id"`
	PropertyAddress string          `json:"property_address"`
	BuyerEmail      string          `json:"buyer_email"`
	BuyerName       string          `json:"buyer_name"`
	Preferences     json.RawMessage `json:"preferences"`
}

func (s *Server) handleVisits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req visitRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	visit, err := s.records.UpsertVisit(r.Context(), records.Visit{
		ID:              req.ID,
		PropertyAddress: req.PropertyAddress,
		BuyerEmail:      req.BuyerEmail,
		BuyerName:       req.BuyerName,
		Preferences:     req.Preferences,
	})
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, visitView(visit))
}

func (s *Server) handleVisit(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/visits/")
	id, tail, found := strings.Cut(rest, "/")
	if found && tail == "score" {
		s.handleVisitScore(w, r, id)
		return
	}
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if id == "" || found {
		s.writeError(w, http.StatusNotFound, "visit not found")
		return
	}
	visit, err := s.records.GetVisit(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if visit == nil {
		s.writeError(w, http.StatusNotFound, "visit not found")
		return
	}

	notes, err := s.records.ListVoiceNotesByVisit(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	score, err := s.records.GetMatchScore(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	payload := map[string]any{"visit": visitView(visit)}
	noteViews := make([]map[string]any, 0, len(notes))
	for _, note := range notes {
		noteViews = append(noteViews, noteView(note))
	}
	payload["notes"] = noteViews
	if score != nil {
		payload["match_score"] = map[string]any{
			"score":   score.Score,
			"summary": score.Summary,
			"reasons": score.Reasons,
		}
	}
	s.writeJSON(w, http.StatusOK, payload)
}

// handleVisitScore starts the scoring chain for a visit. Scoring is not
// chained from note analysis; the buyer asks for a comparison and this
// endpoint enqueues the work.
func (s *Server) handleVisitScore(w http.ResponseWriter, r *http.Request, visitID string) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	visit, err := s.records.GetVisit(r.Context(), visitID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if visit == nil {
		s.writeError(w, http.StatusNotFound, "visit not found")
		return
	}

	job, err := s.jobs.Create(r.Context(), jobs.TypeMatchScore, jobs.MatchScorePayload{VisitID: visit.ID})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("match scoring requested",
		logging.Args(
			logging.String(logging.FieldVisitID, visit.ID),
			logging.Int64("job_id", job.ID),
		)...)
	s.writeJSON(w, http.StatusAccepted, map[string]any{"job_id": job.ID})
}

func (s *Server) handleCaptures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	artifactID := strings.TrimSpace(r.FormValue("artifact_id"))
	if artifactID == "" {
		artifactID = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}
	if artifactID == "" {
		s.writeError(w, http.StatusBadRequest, "artifact_id required")
		return
	}
	visitID := strings.TrimSpace(r.FormValue("visit_id"))
	if visitID == "" {
		s.writeError(w, http.StatusBadRequest, "visit_id required")
		return
	}

	visit, err := s.records.GetVisit(r.Context(), visitID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if visit == nil {
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("unknown visit %s", visitID))
		return
	}

	kind := strings.TrimSpace(r.FormValue("kind"))
	if kind == "" {
		kind = "voice"
	}
	mimeType := strings.TrimSpace(r.FormValue("mime_type"))
	duration, _ := strconv.ParseFloat(r.FormValue("duration_seconds"), 64)

	file, _, err := r.FormFile("payload")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "payload file required")
		return
	}
	defer file.Close()

	path, err := s.storeUpload(visitID, artifactID, mimeType, file)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Photos are kept as visit media with no pipeline to run.
	if kind != "voice" {
		s.writeJSON(w, http.StatusCreated, map[string]any{"stored": true})
		return
	}

	note, created, err := s.records.CreateVoiceNote(r.Context(), records.NewVoiceNote{
		ClientArtifactID: artifactID,
		VisitID:          visitID,
		Label:            strings.TrimSpace(r.FormValue("label")),
		MimeType:         mimeType,
		DurationSeconds:  duration,
		AudioPath:        path,
	})
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if created {
		if _, err := s.jobs.Create(r.Context(), jobs.TypeTranscribe, jobs.TranscribePayload{NoteID: note.ID}); err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.logger.Info("capture accepted",
			logging.Args(
				logging.String(logging.FieldArtifactID, artifactID),
				logging.String(logging.FieldVisitID, visitID),
				logging.Int64("note_id", note.ID),
			)...)
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"note_id": note.ID, "created": created})
}

func (s *Server) handleCaptureAttachments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/captures/")
	artifactID, tail, found := strings.Cut(rest, "/")
	if !found || tail != "attachments" || artifactID == "" {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}

	note, err := s.records.GetVoiceNoteByArtifact(r.Context(), artifactID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if note == nil {
		s.writeError(w, http.StatusNotFound, "capture not found")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("payload")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "payload file required")
		return
	}
	defer file.Close()

	name := artifactID + "-" + filepath.Base(header.Filename)
	path, err := s.storeUpload(note.VisitID, name, strings.TrimSpace(r.FormValue("mime_type")), file)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"stored": true, "path": filepath.Base(path)})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var statuses []jobs.Status
	for _, value := range r.URL.Query()["status"] {
		if strings.TrimSpace(value) == "" {
			continue
		}
		status, err := jobs.ParseStatus(value)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		statuses = append(statuses, status)
	}
	list, err := s.jobs.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]map[string]any, 0, len(list))
	for _, job := range list {
		views = append(views, jobView(job))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	idStr := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if idStr == "" || strings.Contains(idStr, "/") {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": jobView(job)})
}

// storeUpload writes an uploaded file into the visit's media directory.
func (s *Server) storeUpload(visitID, name, mimeType string, file io.Reader) (string, error) {
	dir := filepath.Join(s.mediaDir, visitID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure media directory: %w", err)
	}
	path := filepath.Join(dir, name+extensionForMime(mimeType, name))

	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create media file: %w", err)
	}
	if _, err := io.Copy(out, file); err != nil {
		_ = out.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write media file: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close media file: %w", err)
	}
	return path, nil
}

// extensionForMime picks a file extension, preferring the declared MIME type
// and keeping any extension already baked into the name.
func extensionForMime(mimeType, name string) string {
	if filepath.Ext(name) != "" {
		return ""
	}
	switch mimeType {
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "audio/mp4", "audio/m4a":
		return ".m4a"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/webm":
		return ".webm"
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	default:
		return ".bin"
	}
}

func visitView(visit *records.Visit) map[string]any {
	view := map[string]any{
		"id":               visit.ID,
		"property_address": visit.PropertyAddress,
		"buyer_email":      visit.BuyerEmail,
		"buyer_name":       visit.BuyerName,
		"created_at":       visit.CreatedAt.Format(time.RFC3339),
	}
	if len(visit.Preferences) > 0 {
		view["preferences"] = visit.Preferences
	}
	return view
}

func noteView(note *records.VoiceNote) map[string]any {
	view := map[string]any{
		"id":          note.ID,
		"artifact_id": note.ClientArtifactID,
		"label":       note.Label,
		"transcribed": note.Transcript != "",
		"analyzed":    len(note.Analysis) > 0,
	}
	if note.Transcript != "" {
		view["transcript"] = note.Transcript
		view["language"] = note.Language
	}
	if len(note.Analysis) > 0 {
		view["analysis"] = note.Analysis
	}
	return view
}

func jobView(job *jobs.Job) map[string]any {
	view := map[string]any{
		"id":          job.ID,
		"type":        string(job.Type),
		"status":      string(job.Status),
		"retry_count": job.RetryCount,
		"max_retries": job.MaxRetries,
		"run_at":      job.RunAt.Format(time.RFC3339),
		"created_at":  job.CreatedAt.Format(time.RFC3339),
	}
	if len(job.Payload) > 0 {
		view["payload"] = job.Payload
	}
	if job.Result != "" {
		view["result"] = job.Result
	}
	if job.ErrorMessage != "" {
		view["error"] = job.ErrorMessage
	}
	if job.StartedAt != nil {
		view["started_at"] = job.StartedAt.Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		view["completed_at"] = job.CompletedAt.Format(time.RFC3339)
	}
	return view
}
