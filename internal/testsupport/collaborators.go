package testsupport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cadence/internal/catalog"
	"cadence/internal/pipeline"
)

// StubStudio implements every pipeline collaborator in memory. Each hook
// overrides the default success behaviour when set.
type StubStudio struct {
	ScriptFunc     func(ctx context.Context, req pipeline.ScriptRequest) (pipeline.Script, error)
	RenderFunc     func(ctx context.Context, req pipeline.RenderRequest) (string, error)
	UploadFunc     func(ctx context.Context, req pipeline.UploadRequest) (pipeline.UploadResult, error)
	PublishFunc    func(ctx context.Context, uploadRef string, at *time.Time, visibility catalog.Visibility) error
	DerivativeFunc func(ctx context.Context, req pipeline.DerivativeRequest) (string, error)
	StatusFunc     func(ctx context.Context, jobID string) (pipeline.DerivativeStatus, error)
	CrawlFunc      func(ctx context.Context, req pipeline.CrawlRequest) (int, error)

	mu          sync.Mutex
	calls       map[string]int
	uploads     []pipeline.UploadRequest
	derivatives []pipeline.DerivativeRequest
}

// NewStubStudio returns a stub whose collaborators all succeed.
func NewStubStudio() *StubStudio {
	return &StubStudio{calls: make(map[string]int)}
}

// Collaborators exposes the stub as every collaborator.
func (s *StubStudio) Collaborators() pipeline.Collaborators {
	return pipeline.Collaborators{
		Scripts:     s,
		Renderer:    s,
		Uploader:    s,
		Publisher:   s,
		Derivatives: s,
		Crawler:     s,
	}
}

// Calls reports how many times the named operation was invoked.
func (s *StubStudio) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

// Uploads returns the upload requests seen so far.
func (s *StubStudio) Uploads() []pipeline.UploadRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pipeline.UploadRequest(nil), s.uploads...)
}

// DerivativeRequests returns the derivative requests seen so far.
func (s *StubStudio) DerivativeRequests() []pipeline.DerivativeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pipeline.DerivativeRequest(nil), s.derivatives...)
}

func (s *StubStudio) record(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[name]++
	return s.calls[name]
}

func (s *StubStudio) GenerateScript(ctx context.Context, req pipeline.ScriptRequest) (pipeline.Script, error) {
	n := s.record("script")
	if s.ScriptFunc != nil {
		return s.ScriptFunc(ctx, req)
	}
	return pipeline.Script{
		ID:          fmt.Sprintf("s%d", n),
		Description: "About {{title}}",
		Scenes: []pipeline.Scene{
			{Text: "Intro to {{title}}", Prompt: "wide shot"},
			{Text: "Outro"},
		},
	}, nil
}

func (s *StubStudio) Render(ctx context.Context, req pipeline.RenderRequest) (string, error) {
	n := s.record("render")
	if s.RenderFunc != nil {
		return s.RenderFunc(ctx, req)
	}
	return fmt.Sprintf("v%d", n), nil
}

func (s *StubStudio) Upload(ctx context.Context, req pipeline.UploadRequest) (pipeline.UploadResult, error) {
	n := s.record("upload")
	s.mu.Lock()
	s.uploads = append(s.uploads, req)
	s.mu.Unlock()
	if s.UploadFunc != nil {
		return s.UploadFunc(ctx, req)
	}
	return pipeline.UploadResult{UploadID: fmt.Sprintf("u%d", n), URL: fmt.Sprintf("https://x/u%d", n)}, nil
}

func (s *StubStudio) SchedulePublish(ctx context.Context, uploadRef string, at *time.Time, visibility catalog.Visibility) error {
	s.record("publish")
	if s.PublishFunc != nil {
		return s.PublishFunc(ctx, uploadRef, at, visibility)
	}
	return nil
}

func (s *StubStudio) RequestDerivative(ctx context.Context, req pipeline.DerivativeRequest) (string, error) {
	n := s.record("derivative")
	s.mu.Lock()
	s.derivatives = append(s.derivatives, req)
	s.mu.Unlock()
	if s.DerivativeFunc != nil {
		return s.DerivativeFunc(ctx, req)
	}
	return fmt.Sprintf("d%d", n), nil
}

func (s *StubStudio) DerivativeStatus(ctx context.Context, jobID string) (pipeline.DerivativeStatus, error) {
	s.record("derivative_status")
	if s.StatusFunc != nil {
		return s.StatusFunc(ctx, jobID)
	}
	return pipeline.DerivativeStatus{State: pipeline.DerivativeJobPending}, nil
}

func (s *StubStudio) CrawlAssets(ctx context.Context, req pipeline.CrawlRequest) (int, error) {
	s.record("crawl")
	if s.CrawlFunc != nil {
		return s.CrawlFunc(ctx, req)
	}
	return 0, nil
}
