package testsupport

import (
	"context"
	"testing"
	"time"

	"cadence/internal/catalog"
	"cadence/internal/config"
	"cadence/internal/database"
	"cadence/internal/logging"
	"cadence/internal/queue"
)

// MustOpenDatabase opens the configured database for tests and registers cleanup.
func MustOpenDatabase(t testing.TB, cfg *config.Config) *database.DB {
	t.Helper()

	db, err := database.Open(cfg)
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// MustOpenCatalog opens a catalog store over a fresh database.
func MustOpenCatalog(t testing.TB, cfg *config.Config) *catalog.Store {
	t.Helper()
	return catalog.New(MustOpenDatabase(t, cfg), logging.NewNop())
}

// MustOpenQueue opens a queue store over a fresh database.
func MustOpenQueue(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()
	return queue.New(MustOpenDatabase(t, cfg), logging.NewNop())
}

// MustOpenStores opens the catalog and queue over one shared database.
func MustOpenStores(t testing.TB, cfg *config.Config) (*catalog.Store, *queue.Store) {
	t.Helper()
	db := MustOpenDatabase(t, cfg)
	return catalog.New(db, logging.NewNop()), queue.New(db, logging.NewNop())
}

// NewTitle creates a title with sensible defaults; mutate customizes the request.
func NewTitle(t testing.TB, store *catalog.Store, mutate func(*catalog.NewTitle)) *catalog.Title {
	t.Helper()

	req := catalog.NewTitle{
		Title:       "Ten Budget Travel Tips",
		ContentType: catalog.ContentLong,
		Category:    "travel",
		Tags:        []string{"travel", "budget"},
		ChannelID:   "channel-1",
		ScriptMode:  catalog.ScriptAPI,
		MediaMode:   catalog.MediaGenerated,
		Model:       "default",
	}
	if mutate != nil {
		mutate(&req)
	}
	title, err := store.CreateTitle(context.Background(), req)
	if err != nil {
		t.Fatalf("store.CreateTitle: %v", err)
	}
	return title
}

// NewSchedule attaches a schedule at the given time to a title.
func NewSchedule(t testing.TB, store *catalog.Store, titleID int64, at time.Time) *catalog.Schedule {
	t.Helper()

	schedule, _, err := store.CreateSchedule(context.Background(), catalog.NewSchedule{
		TitleID:     titleID,
		ScheduledAt: at,
		Visibility:  catalog.VisibilityPrivate,
	})
	if err != nil {
		t.Fatalf("store.CreateSchedule: %v", err)
	}
	return schedule
}

// EnableAutomation flips the automation enabled setting on.
func EnableAutomation(t testing.TB, store *catalog.Store) {
	t.Helper()
	if err := store.SetSetting(context.Background(), catalog.SettingEnabled, "true"); err != nil {
		t.Fatalf("enable automation: %v", err)
	}
}
