package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"cadence/internal/catalog"
)

// StoryFile is the structured script document inside a project directory.
const StoryFile = "story.json"

// Story is the materialized script for a parked schedule.
type Story struct {
	RunID        string              `json:"run_id"`
	ScheduleID   int64               `json:"schedule_id"`
	TitleID      int64               `json:"title_id"`
	Title        string              `json:"title"`
	DisplayTitle string              `json:"display_title"`
	ContentType  catalog.ContentType `json:"content_type"`
	Category     string              `json:"category,omitempty"`
	Tags         []string            `json:"tags,omitempty"`
	ScriptRef    string              `json:"script_ref"`
	Description  string              `json:"description,omitempty"`
	Scenes       []StoryScene        `json:"scenes"`
	CreatedAt    time.Time           `json:"created_at"`
}

// StoryScene is one scene with the asset name the upload step should supply.
type StoryScene struct {
	Index  int    `json:"index"`
	Text   string `json:"text"`
	Prompt string `json:"prompt,omitempty"`
	Asset  string `json:"asset"`
}

var (
	placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)
	sceneAssetPattern  = regexp.MustCompile(`(?i)^scene_\d+\.(png|jpe?g|webp|gif|mp4)$`)
	slugSeparator      = regexp.MustCompile(`[^a-z0-9]+`)
)

const maxSlugLength = 48

// ResolvePlaceholders replaces {{name}} tokens with values. Unknown names stay intact.
func ResolvePlaceholders(text string, values map[string]string) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return placeholderPattern.ReplaceAllStringFunc(text, func(token string) string {
		name := strings.ToLower(placeholderPattern.FindStringSubmatch(token)[1])
		if value, ok := values[name]; ok {
			return value
		}
		return token
	})
}

// PlaceholderValues merges configured values, settings overrides, and
// title-derived values. Later sources win.
func PlaceholderValues(configured, settings map[string]string, title *catalog.Title) map[string]string {
	values := make(map[string]string, len(configured)+len(settings)+4)
	for k, v := range configured {
		values[strings.ToLower(k)] = v
	}
	for k, v := range settings {
		values[strings.ToLower(k)] = v
	}
	if title == nil {
		return values
	}
	values["title"] = title.Title
	if title.Category != "" {
		values["category"] = title.Category
	}
	if meta := title.Metadata; meta != nil && meta.Product != nil {
		values["product_name"] = meta.Product.Name
		if meta.Product.URL != "" {
			values["product_url"] = meta.Product.URL
		}
		if meta.Product.AffiliateLink != "" {
			values["affiliate_link"] = meta.Product.AffiliateLink
		}
	}
	return values
}

// Slug converts a title into a filesystem-friendly ASCII slug.
func Slug(title string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), title)
	if err != nil {
		folded = title
	}
	slug := strings.Trim(slugSeparator.ReplaceAllString(strings.ToLower(folded), "-"), "-")
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	if slug == "" {
		slug = "untitled"
	}
	return slug
}

// DisplayTitle title-cases a title for human-facing documents.
func DisplayTitle(title string) string {
	return cases.Title(language.English, cases.NoLower).String(strings.TrimSpace(title))
}

// ProjectDir returns the project directory for a run under root.
func ProjectDir(root, runID, title string) string {
	return filepath.Join(root, runID+"-"+Slug(title))
}

// NewStory builds the story document with placeholders resolved.
func NewStory(schedule *catalog.Schedule, title *catalog.Title, script Script, placeholders map[string]string) Story {
	story := Story{
		RunID:        schedule.RunID,
		ScheduleID:   schedule.ID,
		TitleID:      title.ID,
		Title:        title.Title,
		DisplayTitle: DisplayTitle(title.Title),
		ContentType:  title.ContentType,
		Category:     title.Category,
		Tags:         title.Tags,
		ScriptRef:    script.ID,
		Description:  ResolvePlaceholders(script.Description, placeholders),
		Scenes:       make([]StoryScene, 0, len(script.Scenes)),
		CreatedAt:    time.Now().UTC(),
	}
	for i, scene := range script.Scenes {
		story.Scenes = append(story.Scenes, StoryScene{
			Index:  i + 1,
			Text:   ResolvePlaceholders(scene.Text, placeholders),
			Prompt: ResolvePlaceholders(scene.Prompt, placeholders),
			Asset:  fmt.Sprintf("scene_%d", i+1),
		})
	}
	return story
}

// WriteStory writes story.json into dir, replacing any previous copy atomically.
func WriteStory(dir string, story Story) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}
	data, err := json.MarshalIndent(story, "", "  ")
	if err != nil {
		return fmt.Errorf("encode story: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".story-*.json")
	if err != nil {
		return fmt.Errorf("create temp story: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write story: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close story: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, StoryFile)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish story: %w", err)
	}
	return nil
}

// ReadStory loads story.json from dir.
func ReadStory(dir string) (Story, error) {
	var story Story
	data, err := os.ReadFile(filepath.Join(dir, StoryFile))
	if err != nil {
		return story, err
	}
	if err := json.Unmarshal(data, &story); err != nil {
		return story, fmt.Errorf("decode story: %w", err)
	}
	return story, nil
}

// HasMediaAssets reports whether dir, or its media/ subdirectory, holds at
// least one scene asset. Their presence is the upload step's completion signal.
func HasMediaAssets(dir string) (bool, error) {
	if strings.TrimSpace(dir) == "" {
		return false, nil
	}
	for _, candidate := range []string{dir, filepath.Join(dir, "media")} {
		entries, err := os.ReadDir(candidate)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return false, err
		}
		for _, entry := range entries {
			if entry.Type().IsRegular() && sceneAssetPattern.MatchString(entry.Name()) {
				return true, nil
			}
		}
	}
	return false, nil
}
