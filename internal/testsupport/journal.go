package testsupport

import (
	"testing"

	"skein/internal/config"
	"skein/internal/journal"
)

// MustOpenJournal opens the journal for cfg, enabling it if needed, and
// closes it when the test ends.
func MustOpenJournal(t testing.TB, cfg *config.Config) *journal.Store {
	t.Helper()
	cfg.Journal.Enabled = true
	store, err := journal.Open(cfg)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
