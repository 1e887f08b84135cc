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

const matchScoreSystemPrompt = `You score how well a property matches a home buyer's stated preferences, based on the buyer's own notes from a visit.
Respond with a single JSON object and nothing else, using exactly this schema:
{
  "score": 0-100 integer where 100 is a perfect match,
  "summary": "one or two sentences explaining the score",
  "reasons": ["specific observations that raised or lowered the score"]
}
Weigh explicit preference matches and mismatches most heavily. Base the score only on the provided notes and preferences.`

type matchScoreResult struct {
	Score   int      `json:"score"`
	Summary string   `json:"summary"`
	Reasons []string `json:"reasons"`
}

// MatchScoreHandler scores a visit against the buyer's preferences and, when
// the visit has a buyer on record, queues report generation.
type MatchScoreHandler struct {
	records   *records.Store
	completer Completer
	enqueue   Enqueuer
	logger    *slog.Logger
}

func NewMatchScoreHandler(store *records.Store, completer Completer, enqueue Enqueuer, logger *slog.Logger) *MatchScoreHandler {
	return &MatchScoreHandler{
		records:   store,
		completer: completer,
		enqueue:   enqueue,
		logger:    logging.NewComponentLogger(logger, "match_score"),
	}
}

func (h *MatchScoreHandler) Handle(ctx context.Context, job *jobs.Job) (string, error) {
	decoded, err := jobs.DecodePayload(job)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "match_score", "decode payload", "", err)
	}
	payload := decoded.(*jobs.MatchScorePayload)

	visit, err := h.records.GetVisit(ctx, payload.VisitID)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "match_score", "load visit", "", err)
	}
	if visit == nil {
		return "", services.Wrap(services.ErrNotFound, "match_score", "load visit", fmt.Sprintf("visit %s does not exist", payload.VisitID), nil)
	}

	notes, err := h.records.ListVoiceNotesByVisit(ctx, visit.ID)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "match_score", "load notes", "", err)
	}
	userPrompt, analyzed := buildMatchScorePrompt(visit, notes)
	if analyzed == 0 {
		// Every note for this visit is still upstream in the pipeline.
		return "", services.Wrap(services.ErrTransient, "match_score", "load notes", fmt.Sprintf("visit %s has no analyzed notes yet", visit.ID), nil)
	}

	content, err := h.completer.CompleteJSON(ctx, matchScoreSystemPrompt, userPrompt)
	if err != nil {
		return "", err
	}
	var scored matchScoreResult
	if err := llm.DecodeLLMJSON(content, &scored); err != nil {
		return "", services.Wrap(services.ErrTransient, "match_score", "decode response", "", err)
	}
	if scored.Score < 0 {
		scored.Score = 0
	}
	if scored.Score > 100 {
		scored.Score = 100
	}
	reasons, err := json.Marshal(scored.Reasons)
	if err != nil {
		return "", err
	}
	if _, err := h.records.UpsertMatchScore(ctx, visit.ID, scored.Score, scored.Summary, reasons); err != nil {
		return "", services.Wrap(services.ErrTransient, "match_score", "store score", "", err)
	}
	h.logger.Info("match score stored",
		logging.Args(
			logging.String(logging.FieldVisitID, visit.ID),
			logging.Int("score", scored.Score),
			logging.Int("notes", analyzed),
		)...)

	if visit.BuyerEmail != "" {
		if _, err := h.enqueue.Create(ctx, jobs.TypeGenerateReport, jobs.GenerateReportPayload{BuyerEmail: visit.BuyerEmail}); err != nil {
			return "", services.Wrap(services.ErrTransient, "match_score", "enqueue report", "", err)
		}
	}

	result, err := json.Marshal(map[string]any{"visit_id": visit.ID, "score": scored.Score})
	if err != nil {
		return "", err
	}
	return string(result), nil
}

// buildMatchScorePrompt renders the visit context for the model and reports
// how many notes carried an analysis.
func buildMatchScorePrompt(visit *records.Visit, notes []*records.VoiceNote) (string, int) {
	var b strings.Builder
	fmt.Fprintf(&b, "Property: %s\n", visit.PropertyAddress)
	if len(visit.Preferences) > 0 {
		fmt.Fprintf(&b, "Buyer preferences (JSON): %s\n", visit.Preferences)
	} else {
		b.WriteString("Buyer preferences: none stated\n")
	}

	analyzed := 0
	for i, note := range notes {
		if len(note.Analysis) == 0 {
			continue
		}
		analyzed++
		fmt.Fprintf(&b, "\nNote %d", i+1)
		if note.Label != "" {
			fmt.Fprintf(&b, " (%s)", note.Label)
		}
		b.WriteString(":\n")
		if note.Transcript != "" {
			fmt.Fprintf(&b, "Transcript: %s\n", note.Transcript)
		}
		fmt.Fprintf(&b, "Analysis (JSON): %s\n", note.Analysis)
	}
	return b.String(), analyzed
}
