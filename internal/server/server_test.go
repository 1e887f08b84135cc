package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"hearth/internal/jobs"
	"hearth/internal/logging"
	"hearth/internal/records"
	"hearth/internal/server"
	"hearth/internal/testsupport"
)

type env struct {
	srv     *server.Server
	jobs    *jobs.Store
	records *records.Store
	token   string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithAPIToken("test-token"))
	jobStore := testsupport.MustOpenJobs(t, cfg)
	recordStore := testsupport.MustOpenRecords(t, jobStore)
	return &env{
		srv:     server.New(cfg, jobStore, recordStore, logging.NewNop()),
		jobs:    jobStore,
		records: recordStore,
		token:   cfg.Server.APIToken,
	}
}

func (e *env) do(t *testing.T, req *http.Request, authorized bool) *httptest.ResponseRecorder {
	t.Helper()
	if authorized {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	recorder := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(recorder, req)
	return recorder
}

func (e *env) addVisit(t *testing.T, id string) {
	t.Helper()
	if _, err := e.records.UpsertVisit(context.Background(), records.Visit{
		ID:              id,
		PropertyAddress: "12 Rose Lane",
		BuyerEmail:      "ana@example.com",
	}); err != nil {
		t.Fatalf("upsert visit: %v", err)
	}
}

func captureForm(t *testing.T, artifactID, visitID string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	fields := map[string]string{
		"artifact_id": artifactID,
		"visit_id":    visitID,
		"kind":        "voice",
		"label":       "kitchen",
		"mime_type":   "audio/ogg",
	}
	for name, value := range fields {
		if err := form.WriteField(name, value); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	part, err := form.CreateFormFile("payload", "note.ogg")
	if err != nil {
		t.Fatalf("create file part: %v", err)
	}
	if _, err := part.Write([]byte("fake audio")); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	if err := form.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}
	return body, form.FormDataContentType()
}

func TestAuthRequired(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	resp := e.do(t, req, false)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.Code)
	}

	resp = e.do(t, httptest.NewRequest(http.MethodGet, "/api/status", nil), true)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Code)
	}
}

func TestVisitUpsertAndFetch(t *testing.T) {
	e := newEnv(t)

	body := bytes.NewBufferString(`{"id":"visit-1","property_address":"12 Rose Lane","buyer_email":"ana@example.com","preferences":{"garden":true}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/visits", body)
	resp := e.do(t, req, true)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.Code, resp.Body)
	}

	resp = e.do(t, httptest.NewRequest(http.MethodGet, "/api/visits/visit-1", nil), true)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.Code, resp.Body)
	}
	var payload struct {
		Visit struct {
			PropertyAddress string `json:"property_address"`
		} `json:"visit"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Visit.PropertyAddress != "12 Rose Lane" {
		t.Fatalf("visit = %+v", payload)
	}

	resp = e.do(t, httptest.NewRequest(http.MethodGet, "/api/visits/missing", nil), true)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.Code)
	}
}

func TestVisitScoreEndpointQueuesScoringChain(t *testing.T) {
	e := newEnv(t)
	e.addVisit(t, "visit-1")

	resp := e.do(t, httptest.NewRequest(http.MethodPost, "/api/visits/visit-1/score", nil), true)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", resp.Code, resp.Body)
	}
	var payload struct {
		JobID int64 `json:"job_id"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}

	job, err := e.jobs.Get(context.Background(), payload.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job == nil || job.Type != jobs.TypeMatchScore || job.Status != jobs.StatusPending {
		t.Fatalf("job = %+v, want pending calculate_match_score", job)
	}

	resp = e.do(t, httptest.NewRequest(http.MethodPost, "/api/visits/missing/score", nil), true)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.Code)
	}

	resp = e.do(t, httptest.NewRequest(http.MethodGet, "/api/visits/visit-1/score", nil), true)
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.Code)
	}
}

func TestCaptureUploadCreatesNoteAndJob(t *testing.T) {
	e := newEnv(t)
	e.addVisit(t, "visit-1")

	body, contentType := captureForm(t, "artifact-1", "visit-1")
	req := httptest.NewRequest(http.MethodPost, "/api/captures", body)
	req.Header.Set("Content-Type", contentType)
	resp := e.do(t, req, true)
	if resp.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", resp.Code, resp.Body)
	}
	var ack struct {
		NoteID  int64 `json:"note_id"`
		Created bool  `json:"created"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !ack.Created || ack.NoteID == 0 {
		t.Fatalf("ack = %+v", ack)
	}

	pending, err := e.jobs.List(context.Background(), jobs.StatusPending)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(pending) != 1 || pending[0].Type != jobs.TypeTranscribe {
		t.Fatalf("pending = %+v, want one transcribe job", pending)
	}

	note, err := e.records.GetVoiceNote(context.Background(), ack.NoteID)
	if err != nil {
		t.Fatalf("get note: %v", err)
	}
	if note == nil || note.AudioPath == "" {
		t.Fatalf("note = %+v", note)
	}
	if filepath.Ext(note.AudioPath) != ".ogg" {
		t.Fatalf("audio path = %s", note.AudioPath)
	}
}

func TestCaptureUploadIsIdempotent(t *testing.T) {
	e := newEnv(t)
	e.addVisit(t, "visit-1")

	for i := 0; i < 2; i++ {
		body, contentType := captureForm(t, "artifact-1", "visit-1")
		req := httptest.NewRequest(http.MethodPost, "/api/captures", body)
		req.Header.Set("Content-Type", contentType)
		resp := e.do(t, req, true)
		if resp.Code != http.StatusCreated {
			t.Fatalf("attempt %d: status = %d: %s", i, resp.Code, resp.Body)
		}
	}

	pending, err := e.jobs.List(context.Background(), jobs.StatusPending)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("retried upload enqueued %d jobs, want 1", len(pending))
	}
}

func TestCaptureUploadUnknownVisitRejected(t *testing.T) {
	e := newEnv(t)

	body, contentType := captureForm(t, "artifact-1", "ghost-visit")
	req := httptest.NewRequest(http.MethodPost, "/api/captures", body)
	req.Header.Set("Content-Type", contentType)
	resp := e.do(t, req, true)
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.Code)
	}
}

func TestAttachmentUpload(t *testing.T) {
	e := newEnv(t)
	e.addVisit(t, "visit-1")

	body, contentType := captureForm(t, "artifact-1", "visit-1")
	req := httptest.NewRequest(http.MethodPost, "/api/captures", body)
	req.Header.Set("Content-Type", contentType)
	if resp := e.do(t, req, true); resp.Code != http.StatusCreated {
		t.Fatalf("capture status = %d", resp.Code)
	}

	attachment := &bytes.Buffer{}
	form := multipart.NewWriter(attachment)
	part, err := form.CreateFormFile("payload", "door.jpg")
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := io.WriteString(part, "jpeg bytes"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := form.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/captures/artifact-1/attachments", attachment)
	req.Header.Set("Content-Type", form.FormDataContentType())
	resp := e.do(t, req, true)
	if resp.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", resp.Code, resp.Body)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/captures/ghost/attachments", bytes.NewReader(nil))
	resp = e.do(t, req, true)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.Code)
	}
}

func TestJobEndpoints(t *testing.T) {
	e := newEnv(t)
	job, err := e.jobs.Create(context.Background(), jobs.TypeTranscribe, jobs.TranscribePayload{NoteID: 1})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	resp := e.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs?status=pending", nil), true)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.Code, resp.Body)
	}
	var list struct {
		Jobs []struct {
			ID   int64  `json:"id"`
			Type string `json:"type"`
		} `json:"jobs"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Jobs) != 1 || list.Jobs[0].ID != job.ID {
		t.Fatalf("jobs = %+v", list)
	}

	resp = e.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs?status=bogus", nil), true)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}

	resp = e.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/999", nil), true)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.Code)
	}
}
