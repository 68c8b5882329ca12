package studio_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"cadence/internal/catalog"
	"cadence/internal/pipeline"
	"cadence/internal/services"
	"cadence/internal/studio"
	"cadence/internal/testsupport"
)

func newClient(t *testing.T, handler http.Handler) *studio.Client {
	t.Helper()
	return newRetryingClient(t, handler, 0)
}

func newRetryingClient(t *testing.T, handler http.Handler, retryMax int) *studio.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := testsupport.NewConfig(t, testsupport.WithStudioURL(srv.URL+"/"))
	cfg.Studio.APIToken = "secret"
	cfg.Studio.RetryMax = retryMax
	return studio.New(cfg)
}

func TestGenerateScriptSendsRequestAndDecodesScript(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/scripts", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["title"] != "Desk Setup" || body["content_type"] != "short" || body["mode"] != "api" {
			t.Errorf("unexpected body: %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"script_id":"s1","description":"d","scenes":[{"text":"one"},{"text":"two","prompt":"p"}]}`))
	})
	client := newClient(t, mux)

	script, err := client.GenerateScript(context.Background(), pipeline.ScriptRequest{
		Title:       "Desk Setup",
		ContentType: catalog.ContentShort,
		Mode:        catalog.ScriptAPI,
	})
	if err != nil {
		t.Fatalf("GenerateScript failed: %v", err)
	}
	if script.ID != "s1" || len(script.Scenes) != 2 || script.Scenes[1].Prompt != "p" {
		t.Fatalf("unexpected script: %+v", script)
	}
}

func TestRenderAwaitingInput(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"accepted status", http.StatusAccepted, `{}`},
		{"awaiting status field", http.StatusOK, `{"status":"awaiting_input"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			_, err := client.Render(context.Background(), pipeline.RenderRequest{ScriptRef: "s1"})
			if !errors.Is(err, services.ErrAwaitingInput) {
				t.Fatalf("expected ErrAwaitingInput, got %v", err)
			}
		})
	}
}

func TestRenderReturnsVideoRef(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["script_id"] != "s1" {
			t.Errorf("unexpected render body: %v", body)
		}
		_, _ = w.Write([]byte(`{"video_id":"v1"}`))
	}))
	ref, err := client.Render(context.Background(), pipeline.RenderRequest{ScriptRef: "s1"})
	if err != nil || ref != "v1" {
		t.Fatalf("Render = %q, %v", ref, err)
	}
}

func TestStatusCodesMapToErrorMarkers(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   error
	}{
		{"not found", http.StatusNotFound, services.ErrNotFound},
		{"bad request", http.StatusBadRequest, services.ErrValidation},
		{"unprocessable", http.StatusUnprocessableEntity, services.ErrValidation},
		{"server error", http.StatusInternalServerError, services.ErrExternalTool},
		{"rate limited", http.StatusTooManyRequests, services.ErrTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			_, err := client.Upload(context.Background(), pipeline.UploadRequest{VideoRef: "v1"})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestUploadAndPublish(t *testing.T) {
	publishAt := time.Date(2026, 11, 1, 15, 0, 0, 0, time.UTC)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/uploads", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"upload_id":"u1","url":"https://x/u1"}`))
	})
	mux.HandleFunc("POST /v1/uploads/{id}/publish", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "u1" {
			t.Errorf("unexpected upload id %q", r.PathValue("id"))
		}
		var body struct {
			PublishAt  time.Time `json:"publish_at"`
			Visibility string    `json:"visibility"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode publish body: %v", err)
		}
		if !body.PublishAt.Equal(publishAt) || body.Visibility != "public" {
			t.Errorf("unexpected publish body: %+v", body)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	client := newClient(t, mux)
	ctx := context.Background()

	result, err := client.Upload(ctx, pipeline.UploadRequest{VideoRef: "v1", Visibility: catalog.VisibilityPublic})
	if err != nil || result.UploadID != "u1" || result.URL != "https://x/u1" {
		t.Fatalf("Upload = %+v, %v", result, err)
	}
	if err := client.SchedulePublish(ctx, result.UploadID, &publishAt, catalog.VisibilityPublic); err != nil {
		t.Fatalf("SchedulePublish failed: %v", err)
	}
}

func TestTransportRetriesOnlyReads(t *testing.T) {
	var uploads, polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/uploads", func(w http.ResponseWriter, r *http.Request) {
		uploads.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("GET /v1/derivatives/{id}", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"pending"}`))
	})
	client := newRetryingClient(t, mux, 1)
	ctx := context.Background()

	_, err := client.Upload(ctx, pipeline.UploadRequest{VideoRef: "v1"})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool, got %v", err)
	}
	if n := uploads.Load(); n != 1 {
		t.Fatalf("upload must be sent once per call, server saw %d", n)
	}

	status, err := client.DerivativeStatus(ctx, "d1")
	if err != nil || status.State != pipeline.DerivativeJobPending {
		t.Fatalf("DerivativeStatus = %+v, %v", status, err)
	}
	if n := polls.Load(); n != 2 {
		t.Fatalf("status poll should retry once, server saw %d", n)
	}
}

func TestDerivativeLifecycle(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/derivatives", func(w http.ResponseWriter, r *http.Request) {
		var body pipeline.DerivativeRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.ParentURL != "https://x/u1" || body.Format != "short" {
			t.Errorf("unexpected derivative body: %+v", body)
		}
		_, _ = w.Write([]byte(`{"job_id":"d1"}`))
	})
	mux.HandleFunc("GET /v1/derivatives/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"completed","video_id":"short-1"}`))
	})
	client := newClient(t, mux)
	ctx := context.Background()

	jobID, err := client.RequestDerivative(ctx, pipeline.DerivativeRequest{ParentURL: "https://x/u1", Format: "short"})
	if err != nil || jobID != "d1" {
		t.Fatalf("RequestDerivative = %q, %v", jobID, err)
	}
	status, err := client.DerivativeStatus(ctx, jobID)
	if err != nil || status.State != pipeline.DerivativeJobCompleted || status.VideoRef != "short-1" {
		t.Fatalf("DerivativeStatus = %+v, %v", status, err)
	}
}

func TestCrawlAssets(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/crawls" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"assets":3}`))
	}))
	n, err := client.CrawlAssets(context.Background(), pipeline.CrawlRequest{ProjectDir: "/tmp/p"})
	if err != nil || n != 3 {
		t.Fatalf("CrawlAssets = %d, %v", n, err)
	}
}
