package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"hearth/internal/jobs"
	"hearth/internal/logging"
	"hearth/internal/records"
	"hearth/internal/services"
	"hearth/internal/services/llm"
)

const analyzeSystemPrompt = `You are an assistant that analyzes a home buyer's spoken notes from a property visit.
Respond with a single JSON object and nothing else, using exactly this schema:
{
  "sentiment": "positive" | "mixed" | "negative",
  "summary": "one or two sentences capturing the overall impression",
  "highlights": ["things the buyer liked"],
  "concerns": ["things the buyer disliked or worried about"],
  "rooms_mentioned": ["rooms or areas the note talks about"]
}
Use empty arrays when a category does not apply. Do not invent details that are not in the note.`

// NoteAnalysis is the structured reading of one transcript.
type NoteAnalysis struct {
	Sentiment      string   `json:"sentiment"`
	Summary        string   `json:"summary"`
	Highlights     []string `json:"highlights"`
	Concerns       []string `json:"concerns"`
	RoomsMentioned []string `json:"rooms_mentioned"`
}

// AnalyzeHandler extracts structured observations from a transcript. It is
// the terminal stage of the upload chain; match scoring runs as its own
// chain, triggered through the API when the buyer asks for a comparison.
type AnalyzeHandler struct {
	records   *records.Store
	completer Completer
	logger    *slog.Logger
}

func NewAnalyzeHandler(store *records.Store, completer Completer, logger *slog.Logger) *AnalyzeHandler {
	return &AnalyzeHandler{
		records:   store,
		completer: completer,
		logger:    logging.NewComponentLogger(logger, "analyze"),
	}
}

func (h *AnalyzeHandler) Handle(ctx context.Context, job *jobs.Job) (string, error) {
	decoded, err := jobs.DecodePayload(job)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "analyze", "decode payload", "", err)
	}
	payload := decoded.(*jobs.AnalyzePayload)

	note, err := h.records.GetVoiceNote(ctx, payload.NoteID)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "analyze", "load note", "", err)
	}
	if note == nil {
		return "", services.Wrap(services.ErrNotFound, "analyze", "load note", fmt.Sprintf("voice note %d does not exist", payload.NoteID), nil)
	}
	if strings.TrimSpace(note.Transcript) == "" {
		return "", services.Wrap(services.ErrValidation, "analyze", "load note", fmt.Sprintf("voice note %d has no transcript", note.ID), nil)
	}

	if len(note.Analysis) == 0 {
		content, err := h.completer.CompleteJSON(ctx, analyzeSystemPrompt, note.Transcript)
		if err != nil {
			return "", err
		}
		var analysis NoteAnalysis
		if err := llm.DecodeLLMJSON(content, &analysis); err != nil {
			// Malformed model output usually recovers on a retry.
			return "", services.Wrap(services.ErrTransient, "analyze", "decode response", "", err)
		}
		stored, err := json.Marshal(analysis)
		if err != nil {
			return "", err
		}
		if err := h.records.SetAnalysis(ctx, note.ID, stored); err != nil {
			return "", services.Wrap(services.ErrTransient, "analyze", "store analysis", "", err)
		}
		h.logger.Info("analysis stored",
			logging.Args(
				logging.String(logging.FieldVisitID, note.VisitID),
				logging.Int64("note_id", note.ID),
				logging.String("sentiment", analysis.Sentiment),
			)...)
	}

	result, err := json.Marshal(map[string]any{"note_id": note.ID, "visit_id": note.VisitID})
	if err != nil {
		return "", err
	}
	return string(result), nil
}
