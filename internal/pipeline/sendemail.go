package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"hearth/internal/jobs"
	"hearth/internal/logging"
	"hearth/internal/records"
	"hearth/internal/services"
	"hearth/internal/services/mailer"
)

// SendEmailHandler delivers a stored report to its buyer. It is the terminal
// pipeline stage and enqueues nothing.
type SendEmailHandler struct {
	records *records.Store
	mailer  mailer.Service
	logger  *slog.Logger
}

func NewSendEmailHandler(store *records.Store, mail mailer.Service, logger *slog.Logger) *SendEmailHandler {
	return &SendEmailHandler{
		records: store,
		mailer:  mail,
		logger:  logging.NewComponentLogger(logger, "send_email"),
	}
}

func (h *SendEmailHandler) Handle(ctx context.Context, job *jobs.Job) (string, error) {
	decoded, err := jobs.DecodePayload(job)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "send_email", "decode payload", "", err)
	}
	payload := decoded.(*jobs.SendEmailPayload)

	report, err := h.records.GetReport(ctx, payload.ReportID)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "send_email", "load report", "", err)
	}
	if report == nil {
		return "", services.Wrap(services.ErrNotFound, "send_email", "load report", fmt.Sprintf("report %d does not exist", payload.ReportID), nil)
	}

	// A regenerated report clears sent_at; a still-set marker means this is
	// a duplicate delivery job.
	if report.SentAt != nil {
		result, err := json.Marshal(map[string]any{"report_id": report.ID, "skipped": "already sent"})
		if err != nil {
			return "", err
		}
		return string(result), nil
	}

	if err := h.mailer.Send(ctx, mailer.Message{
		To:       report.BuyerEmail,
		Subject:  report.Subject,
		HTMLBody: report.HTMLBody,
	}); err != nil {
		return "", err
	}
	if err := h.records.MarkReportSent(ctx, report.ID); err != nil {
		return "", services.Wrap(services.ErrTransient, "send_email", "mark sent", "", err)
	}
	h.logger.Info("report delivered",
		logging.Args(
			logging.String(logging.FieldBuyer, report.BuyerEmail),
			logging.Bool("mailer_enabled", h.mailer.Enabled()),
		)...)

	result, err := json.Marshal(map[string]any{"report_id": report.ID, "to": report.BuyerEmail})
	if err != nil {
		return "", err
	}
	return string(result), nil
}
