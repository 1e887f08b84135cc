package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"sort"
	"strings"

	"hearth/internal/jobs"
	"hearth/internal/logging"
	"hearth/internal/records"
	"hearth/internal/services"
)

// ReportHandler assembles a buyer's scored visits into an HTML report and
// queues its delivery.
type ReportHandler struct {
	records *records.Store
	enqueue Enqueuer
	logger  *slog.Logger
}

func NewReportHandler(store *records.Store, enqueue Enqueuer, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{
		records: store,
		enqueue: enqueue,
		logger:  logging.NewComponentLogger(logger, "report"),
	}
}

type reportVisit struct {
	PropertyAddress string
	Score           int
	HasScore        bool
	Summary         string
	Reasons         []string
	Highlights      []string
	Concerns        []string
	NoteCount       int
}

type reportData struct {
	BuyerName string
	Visits    []reportVisit
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<body>
<p>Hello{{if .BuyerName}} {{.BuyerName}}{{end}},</p>
<p>Here is a summary of the properties you have visited, ranked by how well they match what you are looking for.</p>
{{range .Visits}}
<h2>{{.PropertyAddress}}{{if .HasScore}} &mdash; {{.Score}}/100{{end}}</h2>
{{if .Summary}}<p>{{.Summary}}</p>{{end}}
{{if .Highlights}}<p><strong>What you liked</strong></p><ul>{{range .Highlights}}<li>{{.}}</li>{{end}}</ul>{{end}}
{{if .Concerns}}<p><strong>Concerns</strong></p><ul>{{range .Concerns}}<li>{{.}}</li>{{end}}</ul>{{end}}
{{if .Reasons}}<p><strong>Why this score</strong></p><ul>{{range .Reasons}}<li>{{.}}</li>{{end}}</ul>{{end}}
<p>Based on {{.NoteCount}} voice note{{if ne .NoteCount 1}}s{{end}}.</p>
{{end}}
<p>Happy house hunting,<br>Hearth</p>
</body>
</html>
`))

func (h *ReportHandler) Handle(ctx context.Context, job *jobs.Job) (string, error) {
	decoded, err := jobs.DecodePayload(job)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "report", "decode payload", "", err)
	}
	payload := decoded.(*jobs.GenerateReportPayload)

	visits, err := h.records.ListVisitsByBuyer(ctx, payload.BuyerEmail)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "report", "load visits", "", err)
	}
	if len(visits) == 0 {
		return "", services.Wrap(services.ErrNotFound, "report", "load visits", fmt.Sprintf("no visits recorded for %s", payload.BuyerEmail), nil)
	}

	data := reportData{BuyerName: visits[0].BuyerName}
	for _, visit := range visits {
		entry, err := h.buildVisitEntry(ctx, visit)
		if err != nil {
			return "", err
		}
		data.Visits = append(data.Visits, entry)
	}
	// Best matches first; unscored visits sink to the end.
	sort.SliceStable(data.Visits, func(i, j int) bool {
		if data.Visits[i].HasScore != data.Visits[j].HasScore {
			return data.Visits[i].HasScore
		}
		return data.Visits[i].Score > data.Visits[j].Score
	})

	var body strings.Builder
	if err := reportTemplate.Execute(&body, data); err != nil {
		return "", services.Wrap(services.ErrTransient, "report", "render", "", err)
	}

	subject := fmt.Sprintf("Your property visit summary: %d home", len(data.Visits))
	if len(data.Visits) != 1 {
		subject += "s"
	}
	report, err := h.records.UpsertReport(ctx, payload.BuyerEmail, subject, body.String())
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "report", "store report", "", err)
	}
	h.logger.Info("report stored",
		logging.Args(
			logging.String(logging.FieldBuyer, report.BuyerEmail),
			logging.Int("visits", len(data.Visits)),
		)...)

	if _, err := h.enqueue.Create(ctx, jobs.TypeSendEmail, jobs.SendEmailPayload{ReportID: report.ID}); err != nil {
		return "", services.Wrap(services.ErrTransient, "report", "enqueue delivery", "", err)
	}

	result, err := json.Marshal(map[string]any{"report_id": report.ID, "visits": len(data.Visits)})
	if err != nil {
		return "", err
	}
	return string(result), nil
}

func (h *ReportHandler) buildVisitEntry(ctx context.Context, visit *records.Visit) (reportVisit, error) {
	entry := reportVisit{PropertyAddress: visit.PropertyAddress}

	score, err := h.records.GetMatchScore(ctx, visit.ID)
	if err != nil {
		return entry, services.Wrap(services.ErrTransient, "report", "load score", "", err)
	}
	if score != nil {
		entry.HasScore = true
		entry.Score = score.Score
		entry.Summary = score.Summary
		if len(score.Reasons) > 0 {
			// Unparseable reasons are omitted from the report.
			_ = json.Unmarshal(score.Reasons, &entry.Reasons)
		}
	}

	notes, err := h.records.ListVoiceNotesByVisit(ctx, visit.ID)
	if err != nil {
		return entry, services.Wrap(services.ErrTransient, "report", "load notes", "", err)
	}
	entry.NoteCount = len(notes)
	for _, note := range notes {
		if len(note.Analysis) == 0 {
			continue
		}
		var analysis NoteAnalysis
		if err := json.Unmarshal(note.Analysis, &analysis); err != nil {
			continue
		}
		entry.Highlights = append(entry.Highlights, analysis.Highlights...)
		entry.Concerns = append(entry.Concerns, analysis.Concerns...)
	}
	return entry, nil
}
