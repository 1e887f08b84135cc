package records_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"hearth/internal/jobs"
	"hearth/internal/records"
)

func openRecords(t *testing.T) *records.Store {
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
	return records.NewStore(jobStore.DB())
}

func TestUpsertVisitInsertsAndUpdates(t *testing.T) {
	store := openRecords(t)
	ctx := context.Background()

	visit, err := store.UpsertVisit(ctx, records.Visit{
		ID:              "visit-1",
		PropertyAddress: "12 Rose Lane",
		BuyerEmail:      "Ana@Example.COM",
		BuyerName:       "Ana",
		Preferences:     json.RawMessage(`{"garden":true}`),
	})
	if err != nil {
		t.Fatalf("upsert visit: %v", err)
	}
	if visit.BuyerEmail != "ana@example.com" {
		t.Fatalf("buyer email = %q, want lowercased", visit.BuyerEmail)
	}

	updated, err := store.UpsertVisit(ctx, records.Visit{
		ID:              "visit-1",
		PropertyAddress: "12 Rose Lane, rear unit",
		BuyerEmail:      "ana@example.com",
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if updated.PropertyAddress != "12 Rose Lane, rear unit" {
		t.Fatalf("address = %q", updated.PropertyAddress)
	}

	visits, err := store.ListVisitsByBuyer(ctx, "ana@example.com")
	if err != nil {
		t.Fatalf("list visits: %v", err)
	}
	if len(visits) != 1 {
		t.Fatalf("listed %d visits, want 1", len(visits))
	}
}

func TestUpsertVisitValidation(t *testing.T) {
	store := openRecords(t)
	ctx := context.Background()

	if _, err := store.UpsertVisit(ctx, records.Visit{PropertyAddress: "somewhere"}); err == nil {
		t.Fatal("expected error for missing id")
	}
	if _, err := store.UpsertVisit(ctx, records.Visit{ID: "v", PropertyAddress: "x", Preferences: json.RawMessage("{broken")}); err == nil {
		t.Fatal("expected error for invalid preferences JSON")
	}
}

func TestGetVisitAbsent(t *testing.T) {
	store := openRecords(t)
	visit, err := store.GetVisit(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get visit: %v", err)
	}
	if visit != nil {
		t.Fatalf("expected nil, got %+v", visit)
	}
}

func TestCreateVoiceNoteIsIdempotent(t *testing.T) {
	store := openRecords(t)
	ctx := context.Background()

	if _, err := store.UpsertVisit(ctx, records.Visit{ID: "visit-1", PropertyAddress: "12 Rose Lane"}); err != nil {
		t.Fatalf("upsert visit: %v", err)
	}

	note, created, err := store.CreateVoiceNote(ctx, records.NewVoiceNote{
		ClientArtifactID: "artifact-abc",
		VisitID:          "visit-1",
		Label:            "kitchen",
		MimeType:         "audio/ogg",
		DurationSeconds:  12.5,
		AudioPath:        "/var/lib/hearth/media/artifact-abc.ogg",
	})
	if err != nil {
		t.Fatalf("create note: %v", err)
	}
	if !created {
		t.Fatal("expected created on first insert")
	}

	duplicate, created, err := store.CreateVoiceNote(ctx, records.NewVoiceNote{
		ClientArtifactID: "artifact-abc",
		VisitID:          "visit-1",
		AudioPath:        "/elsewhere.ogg",
	})
	if err != nil {
		t.Fatalf("duplicate create: %v", err)
	}
	if created {
		t.Fatal("duplicate upload must not create a second note")
	}
	if duplicate.ID != note.ID {
		t.Fatalf("duplicate returned note %d, want %d", duplicate.ID, note.ID)
	}
	if duplicate.AudioPath != note.AudioPath {
		t.Fatalf("audio path = %q, want original preserved", duplicate.AudioPath)
	}
}

func TestSetTranscriptAndAnalysis(t *testing.T) {
	store := openRecords(t)
	ctx := context.Background()

	if _, err := store.UpsertVisit(ctx, records.Visit{ID: "visit-1", PropertyAddress: "12 Rose Lane"}); err != nil {
		t.Fatalf("upsert visit: %v", err)
	}
	note, _, err := store.CreateVoiceNote(ctx, records.NewVoiceNote{
		ClientArtifactID: "artifact-abc",
		VisitID:          "visit-1",
		AudioPath:        "/audio.ogg",
	})
	if err != nil {
		t.Fatalf("create note: %v", err)
	}

	if err := store.SetTranscript(ctx, note.ID, "the kitchen is bright", "english"); err != nil {
		t.Fatalf("set transcript: %v", err)
	}
	if err := store.SetAnalysis(ctx, note.ID, json.RawMessage(`{"sentiment":"positive"}`)); err != nil {
		t.Fatalf("set analysis: %v", err)
	}

	current, err := store.GetVoiceNote(ctx, note.ID)
	if err != nil {
		t.Fatalf("get note: %v", err)
	}
	if current.Transcript != "the kitchen is bright" || current.Language != "english" {
		t.Fatalf("note = %+v", current)
	}
	if string(current.Analysis) != `{"sentiment":"positive"}` {
		t.Fatalf("analysis = %s", current.Analysis)
	}

	if err := store.SetTranscript(ctx, 9999, "x", ""); err == nil {
		t.Fatal("expected error for missing note")
	}
	if err := store.SetAnalysis(ctx, note.ID, json.RawMessage("{broken")); err == nil {
		t.Fatal("expected error for invalid analysis JSON")
	}
}

func TestUpsertMatchScore(t *testing.T) {
	store := openRecords(t)
	ctx := context.Background()

	if _, err := store.UpsertMatchScore(ctx, "visit-1", 120, "", nil); err == nil {
		t.Fatal("expected error for out of range score")
	}

	score, err := store.UpsertMatchScore(ctx, "visit-1", 72, "good garden, noisy street", json.RawMessage(`["garden matches"]`))
	if err != nil {
		t.Fatalf("upsert score: %v", err)
	}
	if score.Score != 72 {
		t.Fatalf("score = %d", score.Score)
	}

	rescored, err := store.UpsertMatchScore(ctx, "visit-1", 80, "garden matches", nil)
	if err != nil {
		t.Fatalf("rescore: %v", err)
	}
	if rescored.Score != 80 {
		t.Fatalf("rescored = %d", rescored.Score)
	}
	if rescored.ID != score.ID {
		t.Fatalf("rescore created a new row: %d vs %d", rescored.ID, score.ID)
	}
}

func TestReportLifecycle(t *testing.T) {
	store := openRecords(t)
	ctx := context.Background()

	report, err := store.UpsertReport(ctx, "Ana@Example.com", "Your visit summaries", "<html>hi</html>")
	if err != nil {
		t.Fatalf("upsert report: %v", err)
	}
	if report.BuyerEmail != "ana@example.com" {
		t.Fatalf("buyer email = %q", report.BuyerEmail)
	}
	if report.SentAt != nil {
		t.Fatal("new report must not be marked sent")
	}

	if err := store.MarkReportSent(ctx, report.ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	sent, err := store.GetReport(ctx, report.ID)
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if sent.SentAt == nil {
		t.Fatal("expected sent_at set")
	}

	// Regeneration replaces the body and clears the sent marker.
	regenerated, err := store.UpsertReport(ctx, "ana@example.com", "Your visit summaries", "<html>v2</html>")
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if regenerated.ID != report.ID {
		t.Fatalf("regeneration created a new row: %d vs %d", regenerated.ID, report.ID)
	}
	if regenerated.HTMLBody != "<html>v2</html>" {
		t.Fatalf("body = %q", regenerated.HTMLBody)
	}
	if regenerated.SentAt != nil {
		t.Fatal("regeneration must clear sent_at")
	}

	if err := store.MarkReportSent(ctx, 9999); err == nil {
		t.Fatal("expected error for missing report")
	}
}
