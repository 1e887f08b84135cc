package pipeline_test

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hearth/internal/jobs"
	"hearth/internal/logging"
	"hearth/internal/pipeline"
	"hearth/internal/records"
	"hearth/internal/services"
	"hearth/internal/services/mailer"
	"hearth/internal/services/speech"
)

type fixture struct {
	jobs    *jobs.Store
	records *records.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	jobStore, err := jobs.Open(filepath.Join(t.TempDir(), "hearth.db"))
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	t.Cleanup(func() {
		if err := jobStore.Close(); err != nil {
			t.Errorf("close job store: %v", err)
		}
	})
	return &fixture{jobs: jobStore, records: records.NewStore(jobStore.DB())}
}

func (f *fixture) addVisit(t *testing.T, id, buyerEmail string, preferences string) *records.Visit {
	t.Helper()
	visit := records.Visit{ID: id, PropertyAddress: "12 Rose Lane", BuyerEmail: buyerEmail, BuyerName: "Ana"}
	if preferences != "" {
		visit.Preferences = json.RawMessage(preferences)
	}
	stored, err := f.records.UpsertVisit(context.Background(), visit)
	if err != nil {
		t.Fatalf("upsert visit: %v", err)
	}
	return stored
}

func (f *fixture) addNote(t *testing.T, visitID, artifactID, audioPath string) *records.VoiceNote {
	t.Helper()
	note, _, err := f.records.CreateVoiceNote(context.Background(), records.NewVoiceNote{
		ClientArtifactID: artifactID,
		VisitID:          visitID,
		Label:            "kitchen",
		AudioPath:        audioPath,
	})
	if err != nil {
		t.Fatalf("create note: %v", err)
	}
	return note
}

func (f *fixture) pendingTypes(t *testing.T) []jobs.Type {
	t.Helper()
	pending, err := f.jobs.List(context.Background(), jobs.StatusPending)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	types := make([]jobs.Type, 0, len(pending))
	for _, job := range pending {
		types = append(types, job.Type)
	}
	return types
}

type fakeTranscriber struct {
	calls  int
	result speech.Transcription
	err    error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio io.Reader, filename string) (speech.Transcription, error) {
	f.calls++
	if f.err != nil {
		return speech.Transcription{}, f.err
	}
	if _, err := io.ReadAll(audio); err != nil {
		return speech.Transcription{}, err
	}
	return f.result, nil
}

type fakeCompleter struct {
	calls    int
	response string
	err      error
	prompts  []string
}

func (f *fakeCompleter) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, userPrompt)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

type fakeMailer struct {
	sent []mailer.Message
	err  error
}

func (f *fakeMailer) Send(ctx context.Context, msg mailer.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeMailer) Enabled() bool { return true }

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "note.ogg")
	if err := os.WriteFile(path, []byte("not real audio"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}

func mustJob(t *testing.T, f *fixture, jobType jobs.Type, payload any) *jobs.Job {
	t.Helper()
	job, err := f.jobs.Create(context.Background(), jobType, payload)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func TestTranscribeHandlerStoresTranscriptAndQueuesAnalysis(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addVisit(t, "visit-1", "ana@example.com", "")
	note := f.addNote(t, "visit-1", "artifact-1", writeAudio(t))

	transcriber := &fakeTranscriber{result: speech.Transcription{Text: "the kitchen is bright", Language: "en"}}
	handler := pipeline.NewTranscribeHandler(f.records, transcriber, f.jobs, logging.NewNop())

	job := mustJob(t, f, jobs.TypeTranscribe, jobs.TranscribePayload{NoteID: note.ID})
	result, err := handler.Handle(ctx, job)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.Contains(result, `"language":"en"`) {
		t.Fatalf("result = %s", result)
	}

	stored, err := f.records.GetVoiceNote(ctx, note.ID)
	if err != nil {
		t.Fatalf("get note: %v", err)
	}
	if stored.Transcript != "the kitchen is bright" {
		t.Fatalf("transcript = %q", stored.Transcript)
	}
	if stored.Language != "en" {
		t.Fatalf("language = %q", stored.Language)
	}

	types := f.pendingTypes(t)
	found := false
	for _, jobType := range types {
		if jobType == jobs.TypeAnalyze {
			found = true
		}
	}
	if !found {
		t.Fatalf("pending types = %v, want analyze queued", types)
	}
}

func TestTranscribeHandlerSkipsTranscribedNote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addVisit(t, "visit-1", "", "")
	note := f.addNote(t, "visit-1", "artifact-1", writeAudio(t))
	if err := f.records.SetTranscript(ctx, note.ID, "already done", "english"); err != nil {
		t.Fatalf("set transcript: %v", err)
	}

	transcriber := &fakeTranscriber{}
	handler := pipeline.NewTranscribeHandler(f.records, transcriber, f.jobs, logging.NewNop())

	job := mustJob(t, f, jobs.TypeTranscribe, jobs.TranscribePayload{NoteID: note.ID})
	if _, err := handler.Handle(ctx, job); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if transcriber.calls != 0 {
		t.Fatalf("transcriber called %d times on a transcribed note", transcriber.calls)
	}
	if types := f.pendingTypes(t); len(types) == 0 {
		t.Fatal("expected analysis still queued")
	}
}

func TestTranscribeHandlerMissingNoteIsPermanent(t *testing.T) {
	f := newFixture(t)
	handler := pipeline.NewTranscribeHandler(f.records, &fakeTranscriber{}, f.jobs, logging.NewNop())

	job := mustJob(t, f, jobs.TypeTranscribe, jobs.TranscribePayload{NoteID: 404})
	_, err := handler.Handle(context.Background(), job)
	if err == nil {
		t.Fatal("expected error")
	}
	if !services.IsPermanent(err) {
		t.Fatalf("missing note should be permanent, got %v", err)
	}
}

func TestAnalyzeHandlerStoresAnalysisAndIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addVisit(t, "visit-1", "", "")
	note := f.addNote(t, "visit-1", "artifact-1", "/audio.ogg")
	if err := f.records.SetTranscript(ctx, note.ID, "lovely garden but the street is loud", "english"); err != nil {
		t.Fatalf("set transcript: %v", err)
	}

	completer := &fakeCompleter{response: `{"sentiment":"mixed","summary":"Garden is a plus, noise a minus.","highlights":["garden"],"concerns":["street noise"],"rooms_mentioned":["garden"]}`}
	handler := pipeline.NewAnalyzeHandler(f.records, completer, logging.NewNop())

	job := mustJob(t, f, jobs.TypeAnalyze, jobs.AnalyzePayload{NoteID: note.ID})
	if _, err := handler.Handle(ctx, job); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if completer.calls != 1 {
		t.Fatalf("completer calls = %d", completer.calls)
	}
	if !strings.Contains(completer.prompts[0], "lovely garden") {
		t.Fatalf("prompt = %q, want transcript included", completer.prompts[0])
	}

	stored, err := f.records.GetVoiceNote(ctx, note.ID)
	if err != nil {
		t.Fatalf("get note: %v", err)
	}
	var analysis pipeline.NoteAnalysis
	if err := json.Unmarshal(stored.Analysis, &analysis); err != nil {
		t.Fatalf("analysis = %s: %v", stored.Analysis, err)
	}
	if analysis.Sentiment != "mixed" || len(analysis.Concerns) != 1 {
		t.Fatalf("analysis = %+v", analysis)
	}

	for _, jobType := range f.pendingTypes(t) {
		if jobType == jobs.TypeMatchScore {
			t.Fatal("analysis queued match scoring; the scoring chain starts from the API, not from analysis")
		}
	}
}

func TestAnalyzeHandlerBadModelOutputIsTransient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addVisit(t, "visit-1", "", "")
	note := f.addNote(t, "visit-1", "artifact-1", "/audio.ogg")
	if err := f.records.SetTranscript(ctx, note.ID, "something", "english"); err != nil {
		t.Fatalf("set transcript: %v", err)
	}

	completer := &fakeCompleter{response: "I cannot help with that."}
	handler := pipeline.NewAnalyzeHandler(f.records, completer, logging.NewNop())

	job := mustJob(t, f, jobs.TypeAnalyze, jobs.AnalyzePayload{NoteID: note.ID})
	_, err := handler.Handle(ctx, job)
	if err == nil {
		t.Fatal("expected error")
	}
	if services.IsPermanent(err) {
		t.Fatalf("bad model output should retry, got %v", err)
	}
}

func TestMatchScoreHandlerScoresAndQueuesReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addVisit(t, "visit-1", "ana@example.com", `{"garden":true}`)
	note := f.addNote(t, "visit-1", "artifact-1", "/audio.ogg")
	if err := f.records.SetTranscript(ctx, note.ID, "lovely garden", "english"); err != nil {
		t.Fatalf("set transcript: %v", err)
	}
	if err := f.records.SetAnalysis(ctx, note.ID, json.RawMessage(`{"sentiment":"positive","highlights":["garden"]}`)); err != nil {
		t.Fatalf("set analysis: %v", err)
	}

	completer := &fakeCompleter{response: `{"score":138,"summary":"Strong garden match.","reasons":["garden matches preference"]}`}
	handler := pipeline.NewMatchScoreHandler(f.records, completer, f.jobs, logging.NewNop())

	job := mustJob(t, f, jobs.TypeMatchScore, jobs.MatchScorePayload{VisitID: "visit-1"})
	if _, err := handler.Handle(ctx, job); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.Contains(completer.prompts[0], `"garden":true`) {
		t.Fatalf("prompt = %q, want preferences included", completer.prompts[0])
	}

	score, err := f.records.GetMatchScore(ctx, "visit-1")
	if err != nil {
		t.Fatalf("get score: %v", err)
	}
	if score == nil || score.Score != 100 {
		t.Fatalf("score = %+v, want clamped to 100", score)
	}

	types := f.pendingTypes(t)
	found := false
	for _, jobType := range types {
		if jobType == jobs.TypeGenerateReport {
			found = true
		}
	}
	if !found {
		t.Fatalf("pending types = %v, want report queued", types)
	}
}

func TestMatchScoreHandlerWaitsForAnalyzedNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addVisit(t, "visit-1", "ana@example.com", "")
	f.addNote(t, "visit-1", "artifact-1", "/audio.ogg")

	completer := &fakeCompleter{}
	handler := pipeline.NewMatchScoreHandler(f.records, completer, f.jobs, logging.NewNop())

	job := mustJob(t, f, jobs.TypeMatchScore, jobs.MatchScorePayload{VisitID: "visit-1"})
	_, err := handler.Handle(ctx, job)
	if err == nil {
		t.Fatal("expected error while notes are unanalyzed")
	}
	if services.IsPermanent(err) {
		t.Fatalf("unanalyzed notes should retry, got %v", err)
	}
	if completer.calls != 0 {
		t.Fatalf("completer called %d times without analyzed notes", completer.calls)
	}
}

func TestReportHandlerRendersAndQueuesDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addVisit(t, "visit-1", "ana@example.com", "")
	note := f.addNote(t, "visit-1", "artifact-1", "/audio.ogg")
	if err := f.records.SetAnalysis(ctx, note.ID, json.RawMessage(`{"sentiment":"positive","highlights":["bright kitchen"],"concerns":["small bathroom"]}`)); err != nil {
		t.Fatalf("set analysis: %v", err)
	}
	if _, err := f.records.UpsertMatchScore(ctx, "visit-1", 72, "Good overall fit.", json.RawMessage(`["kitchen matches"]`)); err != nil {
		t.Fatalf("upsert score: %v", err)
	}

	handler := pipeline.NewReportHandler(f.records, f.jobs, logging.NewNop())
	job := mustJob(t, f, jobs.TypeGenerateReport, jobs.GenerateReportPayload{BuyerEmail: "ana@example.com"})
	if _, err := handler.Handle(ctx, job); err != nil {
		t.Fatalf("handle: %v", err)
	}

	report, err := f.records.GetReportByEmail(ctx, "ana@example.com")
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if report == nil {
		t.Fatal("report not stored")
	}
	for _, want := range []string{"12 Rose Lane", "72/100", "bright kitchen", "small bathroom", "Ana"} {
		if !strings.Contains(report.HTMLBody, want) {
			t.Fatalf("report body missing %q:\n%s", want, report.HTMLBody)
		}
	}

	types := f.pendingTypes(t)
	found := false
	for _, jobType := range types {
		if jobType == jobs.TypeSendEmail {
			found = true
		}
	}
	if !found {
		t.Fatalf("pending types = %v, want delivery queued", types)
	}
}

func TestReportHandlerNoVisitsIsPermanent(t *testing.T) {
	f := newFixture(t)
	handler := pipeline.NewReportHandler(f.records, f.jobs, logging.NewNop())
	job := mustJob(t, f, jobs.TypeGenerateReport, jobs.GenerateReportPayload{BuyerEmail: "nobody@example.com"})
	_, err := handler.Handle(context.Background(), job)
	if err == nil {
		t.Fatal("expected error")
	}
	if !services.IsPermanent(err) {
		t.Fatalf("unknown buyer should be permanent, got %v", err)
	}
}

func TestSendEmailHandlerDeliversOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	report, err := f.records.UpsertReport(ctx, "ana@example.com", "Your summary", "<html>hi</html>")
	if err != nil {
		t.Fatalf("upsert report: %v", err)
	}

	mail := &fakeMailer{}
	handler := pipeline.NewSendEmailHandler(f.records, mail, logging.NewNop())

	job := mustJob(t, f, jobs.TypeSendEmail, jobs.SendEmailPayload{ReportID: report.ID})
	if _, err := handler.Handle(ctx, job); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(mail.sent) != 1 {
		t.Fatalf("sent %d messages", len(mail.sent))
	}
	if mail.sent[0].To != "ana@example.com" || mail.sent[0].Subject != "Your summary" {
		t.Fatalf("message = %+v", mail.sent[0])
	}

	current, err := f.records.GetReport(ctx, report.ID)
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if current.SentAt == nil {
		t.Fatal("report not marked sent")
	}

	// A duplicate delivery job completes without sending again.
	duplicate := mustJob(t, f, jobs.TypeSendEmail, jobs.SendEmailPayload{ReportID: report.ID})
	result, err := handler.Handle(ctx, duplicate)
	if err != nil {
		t.Fatalf("duplicate handle: %v", err)
	}
	if len(mail.sent) != 1 {
		t.Fatalf("duplicate delivery sent again: %d messages", len(mail.sent))
	}
	if !strings.Contains(result, "already sent") {
		t.Fatalf("result = %s", result)
	}
}
