package pipeline_test

import (
	"path/filepath"
	"testing"

	"cadence/internal/catalog"
	"cadence/internal/pipeline"
	"cadence/internal/testsupport"
)

func TestSlug(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Ten Budget Travel Tips", "ten-budget-travel-tips"},
		{"Café Crème: a Guide!", "cafe-creme-a-guide"},
		{"  --  ", "untitled"},
		{"", "untitled"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			if got := pipeline.Slug(tc.in); got != tc.want {
				t.Fatalf("Slug(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
	long := pipeline.Slug("an extremely long title that keeps going and going well past any sensible limit")
	if len(long) > 48 || long[len(long)-1] == '-' {
		t.Fatalf("slug not truncated cleanly: %q", long)
	}
}

func TestResolvePlaceholders(t *testing.T) {
	values := map[string]string{"title": "Desk Setup", "affiliate_link": "https://ex.test/r"}
	got := pipeline.ResolvePlaceholders("Buy {{ affiliate_link }} for {{title}} and {{unknown}}", values)
	want := "Buy https://ex.test/r for Desk Setup and {{unknown}}"
	if got != want {
		t.Fatalf("ResolvePlaceholders = %q, want %q", got, want)
	}
}

func TestPlaceholderValuesPrecedence(t *testing.T) {
	title := &catalog.Title{
		Title:    "Blender Review",
		Category: "kitchen",
		Metadata: &catalog.TitleMetadata{
			Kind:    catalog.MetadataProduct,
			Product: &catalog.Product{Name: "Blendo", AffiliateLink: "https://aff.test/b"},
		},
	}
	values := pipeline.PlaceholderValues(
		map[string]string{"Channel": "config", "title": "ignored"},
		map[string]string{"channel": "settings"},
		title,
	)
	if values["channel"] != "settings" {
		t.Fatalf("settings should override config, got %q", values["channel"])
	}
	if values["title"] != "Blender Review" || values["product_name"] != "Blendo" || values["affiliate_link"] != "https://aff.test/b" {
		t.Fatalf("unexpected title-derived values: %v", values)
	}
}

func TestHasMediaAssets(t *testing.T) {
	dir := t.TempDir()
	ok, err := pipeline.HasMediaAssets(dir)
	if err != nil || ok {
		t.Fatalf("empty dir: ok=%v err=%v", ok, err)
	}

	testsupport.WriteFile(t, filepath.Join(dir, "notes.txt"), 4)
	testsupport.WriteFile(t, filepath.Join(dir, "scene_x.png"), 4)
	if ok, _ := pipeline.HasMediaAssets(dir); ok {
		t.Fatalf("non-scene files should not count")
	}

	testsupport.WriteFile(t, filepath.Join(dir, "media", "scene_2.JPG"), 4)
	if ok, err := pipeline.HasMediaAssets(dir); err != nil || !ok {
		t.Fatalf("scene asset in media/ should count: ok=%v err=%v", ok, err)
	}

	if ok, err := pipeline.HasMediaAssets(filepath.Join(dir, "missing")); err != nil || ok {
		t.Fatalf("missing dir: ok=%v err=%v", ok, err)
	}
}

func TestStoryRoundTripsThroughProjectDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run-1-desk-setup")
	schedule := &catalog.Schedule{ID: 7, RunID: "run-1"}
	title := &catalog.Title{ID: 3, Title: "desk setup", ContentType: catalog.ContentShort}
	script := pipeline.Script{
		ID:     "s9",
		Scenes: []pipeline.Scene{{Text: "Welcome to {{title}}"}},
	}
	story := pipeline.NewStory(schedule, title, script, pipeline.PlaceholderValues(nil, nil, title))
	if err := pipeline.WriteStory(dir, story); err != nil {
		t.Fatalf("WriteStory failed: %v", err)
	}
	loaded, err := pipeline.ReadStory(dir)
	if err != nil {
		t.Fatalf("ReadStory failed: %v", err)
	}
	if loaded.DisplayTitle != "Desk Setup" || loaded.Scenes[0].Text != "Welcome to desk setup" || loaded.ScriptRef != "s9" {
		t.Fatalf("unexpected story: %+v", loaded)
	}
}
