package pipeline

import (
	"context"
	"io"
	"log/slog"

	"hearth/internal/jobs"
	"hearth/internal/records"
	"hearth/internal/services/mailer"
	"hearth/internal/services/speech"
)

// Transcriber converts recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (speech.Transcription, error)
}

// Completer produces a JSON completion for a prompt pair.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Enqueuer schedules follow-on jobs. Satisfied by *jobs.Store.
type Enqueuer interface {
	Create(ctx context.Context, jobType jobs.Type, payload any, opts ...jobs.CreateOption) (*jobs.Job, error)
}

// Services bundles the collaborators the stage handlers need.
type Services struct {
	Records     *records.Store
	Transcriber Transcriber
	Completer   Completer
	Mailer      mailer.Service
	Enqueuer    Enqueuer
	Logger      *slog.Logger
}

// Register installs every stage handler on the dispatcher.
func Register(dispatcher *jobs.Dispatcher, svc Services) {
	dispatcher.Register(jobs.TypeTranscribe, NewTranscribeHandler(svc.Records, svc.Transcriber, svc.Enqueuer, svc.Logger))
	dispatcher.Register(jobs.TypeAnalyze, NewAnalyzeHandler(svc.Records, svc.Completer, svc.Logger))
	dispatcher.Register(jobs.TypeMatchScore, NewMatchScoreHandler(svc.Records, svc.Completer, svc.Enqueuer, svc.Logger))
	dispatcher.Register(jobs.TypeGenerateReport, NewReportHandler(svc.Records, svc.Enqueuer, svc.Logger))
	dispatcher.Register(jobs.TypeSendEmail, NewSendEmailHandler(svc.Records, svc.Mailer, svc.Logger))
}
