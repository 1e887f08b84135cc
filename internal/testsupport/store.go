package testsupport

import (
	"testing"

	"hearth/internal/capture"
	"hearth/internal/config"
	"hearth/internal/jobs"
	"hearth/internal/records"
)

// MustOpenJobs opens the job store for a test config and closes it on
// cleanup.
func MustOpenJobs(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()
	store, err := jobs.Open(cfg.JobsDBPath())
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close job store: %v", err)
		}
	})
	return store
}

// MustOpenRecords opens the domain record store over the shared job
// database.
func MustOpenRecords(t testing.TB, store *jobs.Store) *records.Store {
	t.Helper()
	return records.NewStore(store.DB())
}

// MustOpenCapture opens the outbox store for a test config and closes it on
// cleanup.
func MustOpenCapture(t testing.TB, cfg *config.Config) *capture.Store {
	t.Helper()
	store, err := capture.Open(cfg.CaptureDBPath())
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
