package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"hearth/internal/jobs"
	"hearth/internal/logging"
	"hearth/internal/records"
	"hearth/internal/services"
	"hearth/internal/services/speech"
)

// TranscribeHandler turns a voice note's audio into a stored transcript and
// queues the analysis stage.
type TranscribeHandler struct {
	records     *records.Store
	transcriber Transcriber
	enqueue     Enqueuer
	logger      *slog.Logger
}

func NewTranscribeHandler(store *records.Store, transcriber Transcriber, enqueue Enqueuer, logger *slog.Logger) *TranscribeHandler {
	return &TranscribeHandler{
		records:     store,
		transcriber: transcriber,
		enqueue:     enqueue,
		logger:      logging.NewComponentLogger(logger, "transcribe"),
	}
}

func (h *TranscribeHandler) Handle(ctx context.Context, job *jobs.Job) (string, error) {
	decoded, err := jobs.DecodePayload(job)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "transcribe", "decode payload", "", err)
	}
	payload := decoded.(*jobs.TranscribePayload)

	note, err := h.records.GetVoiceNote(ctx, payload.NoteID)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "transcribe", "load note", "", err)
	}
	if note == nil {
		return "", services.Wrap(services.ErrNotFound, "transcribe", "load note", fmt.Sprintf("voice note %d does not exist", payload.NoteID), nil)
	}

	// Re-runs after a crash land here with the transcript already stored;
	// skip straight to queueing the next stage.
	if note.Transcript == "" {
		audio, err := os.Open(note.AudioPath)
		if err != nil {
			if os.IsNotExist(err) {
				return "", services.Wrap(services.ErrNotFound, "transcribe", "open audio", note.AudioPath, err)
			}
			return "", services.Wrap(services.ErrTransient, "transcribe", "open audio", note.AudioPath, err)
		}
		defer audio.Close()

		transcription, err := h.transcriber.Transcribe(ctx, audio, filepath.Base(note.AudioPath))
		if err != nil {
			return "", err
		}
		language := speech.NormalizeLanguage(transcription.Language)
		if err := h.records.SetTranscript(ctx, note.ID, transcription.Text, language); err != nil {
			return "", services.Wrap(services.ErrTransient, "transcribe", "store transcript", "", err)
		}
		note.Transcript = transcription.Text
		note.Language = language
		h.logger.Info("transcript stored",
			logging.Args(
				logging.String(logging.FieldVisitID, note.VisitID),
				logging.Int64("note_id", note.ID),
				logging.Int("chars", len(transcription.Text)),
				logging.String("language", language),
			)...)
	}

	if _, err := h.enqueue.Create(ctx, jobs.TypeAnalyze, jobs.AnalyzePayload{NoteID: note.ID}); err != nil {
		return "", services.Wrap(services.ErrTransient, "transcribe", "enqueue analysis", "", err)
	}

	result, err := json.Marshal(map[string]any{
		"note_id":  note.ID,
		"chars":    len(note.Transcript),
		"language": note.Language,
	})
	if err != nil {
		return "", err
	}
	return string(result), nil
}
