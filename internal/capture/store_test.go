package capture_test

import (
	"context"
	"path/filepath"
	"testing"

	"hearth/internal/capture"
)

func openStore(t *testing.T) *capture.Store {
	t.Helper()
	store, err := capture.Open(filepath.Join(t.TempDir(), "capture.db"))
	if err != nil {
		t.Fatalf("open capture store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close capture store: %v", err)
		}
	})
	return store
}

func saveVoiceNote(t *testing.T, store *capture.Store, visitID string) *capture.Artifact {
	t.Helper()
	artifact, err := store.Save(context.Background(), capture.NewArtifact{
		VisitID:         visitID,
		Kind:            capture.KindVoice,
		Label:           "kitchen",
		MimeType:        "audio/mp4",
		DurationSeconds: 12.5,
		Payload:         []byte("audio payload"),
	})
	if err != nil {
		t.Fatalf("save artifact: %v", err)
	}
	return artifact
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	artifact := saveVoiceNote(t, store, "visit-1")
	if artifact.ID == "" {
		t.Fatal("expected generated artifact id")
	}
	if artifact.Status != capture.StatusPending {
		t.Fatalf("status = %s, want pending", artifact.Status)
	}
	if artifact.SizeBytes != int64(len("audio payload")) {
		t.Fatalf("size = %d", artifact.SizeBytes)
	}
	if artifact.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}

	payload, err := store.Payload(ctx, artifact.ID)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if string(payload) != "audio payload" {
		t.Fatalf("payload = %q", payload)
	}

	missing, err := store.GetByID(ctx, "nope")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Fatal("expected nil for missing artifact")
	}
}

func TestSaveValidatesInput(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	cases := []capture.NewArtifact{
		{Kind: capture.KindVoice, MimeType: "audio/mp4", Payload: []byte("x")},
		{VisitID: "v", Kind: "movie", MimeType: "audio/mp4", Payload: []byte("x")},
		{VisitID: "v", Kind: capture.KindVoice, MimeType: "audio/mp4"},
		{VisitID: "v", Kind: capture.KindVoice, Payload: []byte("x")},
	}
	for i, input := range cases {
		if _, err := store.Save(ctx, input); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestMarkUploadingClaimsOnce(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	artifact := saveVoiceNote(t, store, "visit-1")

	claimed, err := store.MarkUploading(ctx, artifact.ID)
	if err != nil {
		t.Fatalf("mark uploading: %v", err)
	}
	if !claimed {
		t.Fatal("expected first claim to succeed")
	}

	again, err := store.MarkUploading(ctx, artifact.ID)
	if err != nil {
		t.Fatalf("second mark uploading: %v", err)
	}
	if again {
		t.Fatal("expected second claim to fail")
	}

	current, err := store.GetByID(ctx, artifact.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.Status != capture.StatusUploading {
		t.Fatalf("status = %s, want uploading", current.Status)
	}
	if current.LastAttemptAt == nil {
		t.Fatal("expected last_attempt_at to be set")
	}
}

func TestRecordFailureRetriesThenParks(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	artifact := saveVoiceNote(t, store, "visit-1")

	if _, err := store.MarkUploading(ctx, artifact.ID); err != nil {
		t.Fatalf("mark uploading: %v", err)
	}
	if err := store.RecordFailure(ctx, artifact.ID, "connection refused", false); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	current, err := store.GetByID(ctx, artifact.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.Status != capture.StatusPending {
		t.Fatalf("status = %s, want pending after transient failure", current.Status)
	}
	if current.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", current.RetryCount)
	}
	if current.LastError != "connection refused" {
		t.Fatalf("last error = %q", current.LastError)
	}

	if err := store.RecordFailure(ctx, artifact.ID, "server rejected payload", true); err != nil {
		t.Fatalf("record permanent failure: %v", err)
	}
	current, err = store.GetByID(ctx, artifact.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.Status != capture.StatusFailed {
		t.Fatalf("status = %s, want failed after permanent failure", current.Status)
	}
	if current.RetryCount != 2 {
		t.Fatalf("retry count = %d, want 2", current.RetryCount)
	}
}

func TestDeleteCascadesAttachments(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	artifact := saveVoiceNote(t, store, "visit-1")

	if _, err := store.AddAttachment(ctx, artifact.ID, "living room", "image/jpeg", []byte("jpeg bytes")); err != nil {
		t.Fatalf("add attachment: %v", err)
	}
	attachments, err := store.Attachments(ctx, artifact.ID)
	if err != nil {
		t.Fatalf("attachments: %v", err)
	}
	if len(attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(attachments))
	}
	payload, err := store.AttachmentPayload(ctx, attachments[0].ID)
	if err != nil {
		t.Fatalf("attachment payload: %v", err)
	}
	if string(payload) != "jpeg bytes" {
		t.Fatalf("payload = %q", payload)
	}

	deleted, err := store.Delete(ctx, artifact.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Fatal("expected deletion")
	}

	attachments, err = store.Attachments(ctx, artifact.ID)
	if err != nil {
		t.Fatalf("attachments after delete: %v", err)
	}
	if len(attachments) != 0 {
		t.Fatalf("expected cascade delete, found %d attachments", len(attachments))
	}
}

func TestNextPendingReturnsOldest(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	first := saveVoiceNote(t, store, "visit-1")
	saveVoiceNote(t, store, "visit-1")

	next, err := store.NextPending(ctx)
	if err != nil {
		t.Fatalf("next pending: %v", err)
	}
	if next == nil || next.ID != first.ID {
		t.Fatalf("expected oldest artifact %s, got %+v", first.ID, next)
	}

	if _, err := store.MarkUploading(ctx, first.ID); err != nil {
		t.Fatalf("mark uploading: %v", err)
	}
	next, err = store.NextPending(ctx)
	if err != nil {
		t.Fatalf("next pending: %v", err)
	}
	if next == nil || next.ID == first.ID {
		t.Fatalf("expected second artifact, got %+v", next)
	}
}

func TestStatsAndRetryFailed(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	a := saveVoiceNote(t, store, "visit-1")
	saveVoiceNote(t, store, "visit-2")
	if _, err := store.MarkUploading(ctx, a.ID); err != nil {
		t.Fatalf("mark uploading: %v", err)
	}
	if err := store.RecordFailure(ctx, a.ID, "boom", true); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Pending != 1 || stats.Failed != 1 || stats.Uploading != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.TotalBytes != 2*int64(len("audio payload")) {
		t.Fatalf("total bytes = %d", stats.TotalBytes)
	}
	if stats.Total() != 2 {
		t.Fatalf("total = %d", stats.Total())
	}

	revived, err := store.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if revived != 1 {
		t.Fatalf("revived = %d", revived)
	}

	current, err := store.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.Status != capture.StatusPending || current.RetryCount != 0 || current.LastError != "" {
		t.Fatalf("after retry: %+v", current)
	}
}

func TestReclaimUploading(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	artifact := saveVoiceNote(t, store, "visit-1")

	if _, err := store.MarkUploading(ctx, artifact.ID); err != nil {
		t.Fatalf("mark uploading: %v", err)
	}
	reclaimed, err := store.ReclaimUploading(ctx)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("reclaimed = %d", reclaimed)
	}
	current, err := store.GetByID(ctx, artifact.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.Status != capture.StatusPending {
		t.Fatalf("status = %s, want pending", current.Status)
	}
}

func TestListByVisit(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	saveVoiceNote(t, store, "visit-1")
	saveVoiceNote(t, store, "visit-1")
	saveVoiceNote(t, store, "visit-2")

	artifacts, err := store.ListByVisit(ctx, "visit-1")
	if err != nil {
		t.Fatalf("list by visit: %v", err)
	}
	if len(artifacts) != 2 {
		t.Fatalf("len = %d, want 2", len(artifacts))
	}
	for _, artifact := range artifacts {
		if artifact.VisitID != "visit-1" {
			t.Fatalf("unexpected visit %q", artifact.VisitID)
		}
	}
}

func TestParseStatusAndKind(t *testing.T) {
	if status, err := capture.ParseStatus(" Pending "); err != nil || status != capture.StatusPending {
		t.Fatalf("ParseStatus = %v, %v", status, err)
	}
	if _, err := capture.ParseStatus("done"); err == nil {
		t.Fatal("expected error for unknown status")
	}
	if kind, err := capture.ParseKind("PHOTO"); err != nil || kind != capture.KindPhoto {
		t.Fatalf("ParseKind = %v, %v", kind, err)
	}
	if _, err := capture.ParseKind("video"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
