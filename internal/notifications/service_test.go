package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"cadence/internal/config"
	"cadence/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventPipelineFailed, notifications.Payload{"stage": "script"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "pipeline failed",
			event: notifications.EventPipelineFailed,
			payload: notifications.Payload{
				"schedule_id": int64(42),
				"title":       "Budget Travel Tips",
				"stage":       "script",
				"error":       "generator timed out",
			},
			expectTitle:    "Cadence - Pipeline Failed",
			expectMessage:  "❌ Budget Travel Tips failed at script: generator timed out\nSchedule #42",
			expectTags:     "cadence,pipeline,failed",
			expectPriority: "high",
		},
		{
			name:  "pipeline completed",
			event: notifications.EventPipelineCompleted,
			payload: notifications.Payload{
				"title": "Budget Travel Tips",
				"url":   "https://videos.example/u1",
			},
			expectTitle:   "Cadence - Published",
			expectMessage: "✅ Published: Budget Travel Tips\nhttps://videos.example/u1",
			expectTags:    "cadence,pipeline,completed",
		},
		{
			name:           "stuck tasks",
			event:          notifications.EventStuckTasks,
			payload:        notifications.Payload{"count": 2},
			expectTitle:    "Cadence - Stuck Tasks",
			expectMessage:  "⏳ 2 queue task(s) processing past the staleness threshold",
			expectTags:     "cadence,queue,stuck",
			expectPriority: "high",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Errorf("read body: %v", err)
				}
				captured.body = string(body)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceSuppressesCompletionsWhenDisabled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call for suppressed event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Completions = false

	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventPipelineCompleted, notifications.Payload{"title": "ignored"}); err != nil {
		t.Fatalf("expected no error for suppressed event, got %v", err)
	}
}

func TestDestinationOverridesTopic(t *testing.T) {
	var configuredHits, overrideHits atomic.Int32
	configured := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		configuredHits.Add(1)
	}))
	defer configured.Close()
	override := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		overrideHits.Add(1)
	}))
	defer override.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = configured.URL
	svc := notifications.NewService(&cfg, notifications.WithDestination(func(context.Context) string {
		return override.URL
	}))
	if err := svc.TestNotification(context.Background()); err != nil {
		t.Fatalf("TestNotification failed: %v", err)
	}
	if overrideHits.Load() != 1 || configuredHits.Load() != 0 {
		t.Fatalf("expected override destination only, got override=%d configured=%d", overrideHits.Load(), configuredHits.Load())
	}
}

func TestNtfyServiceReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad topic"))
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)
	if err := svc.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error for 400 response")
	}
}
