package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"cadence/internal/catalog"
)

// TitleRequest is the intake payload for a new title. The yaml tags let the
// CLI import the same shape from a file.
type TitleRequest struct {
	Title       string                 `json:"title" yaml:"title"`
	ContentType string                 `json:"contentType" yaml:"content_type"`
	Category    string                 `json:"category,omitempty" yaml:"category"`
	Tags        []string               `json:"tags,omitempty" yaml:"tags"`
	Metadata    *catalog.TitleMetadata `json:"metadata,omitempty" yaml:"metadata"`
	ChannelID   string                 `json:"channelId,omitempty" yaml:"channel_id"`
	ScriptMode  string                 `json:"scriptMode,omitempty" yaml:"script_mode"`
	MediaMode   string                 `json:"mediaMode,omitempty" yaml:"media_mode"`
	Model       string                 `json:"model,omitempty" yaml:"model"`
	Priority    int                    `json:"priority,omitempty" yaml:"priority"`
}

// NewTitle validates enum fields and converts the request for the catalog.
// Empty modes are left for the catalog to default from settings.
func (r TitleRequest) NewTitle() (catalog.NewTitle, error) {
	out := catalog.NewTitle{
		Title:     strings.TrimSpace(r.Title),
		Category:  r.Category,
		Tags:      r.Tags,
		Metadata:  r.Metadata,
		ChannelID: r.ChannelID,
		Model:     r.Model,
		Priority:  r.Priority,
	}
	contentType, err := catalog.ParseContentType(r.ContentType)
	if err != nil {
		return catalog.NewTitle{}, err
	}
	out.ContentType = contentType
	if r.ScriptMode != "" {
		if out.ScriptMode, err = catalog.ParseScriptMode(r.ScriptMode); err != nil {
			return catalog.NewTitle{}, err
		}
	}
	if r.MediaMode != "" {
		if out.MediaMode, err = catalog.ParseMediaMode(r.MediaMode); err != nil {
			return catalog.NewTitle{}, err
		}
	}
	return out, nil
}

type titleIDPath struct {
	ID int64 `path:"id"`
}

type titleOutput struct {
	Body Title
}

type titleListOutput struct {
	Body []Title
}

type titleLogsOutput struct {
	Body []LogLine
}

func registerTitles(api huma.API, deps Deps) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-title",
		Method:        http.MethodPost,
		Path:          "/titles",
		Summary:       "Add a title",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct{ Body TitleRequest }) (*titleOutput, error) {
		req, err := input.Body.NewTitle()
		if err != nil {
			return nil, handleError(err)
		}
		title, err := deps.Catalog.CreateTitle(ctx, req)
		if err != nil {
			return nil, handleError(err)
		}
		return &titleOutput{Body: FromTitle(title)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-titles",
		Method:      http.MethodGet,
		Path:        "/titles",
		Summary:     "List titles by priority",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Limit  int    `query:"limit" minimum:"0"`
	}) (*titleListOutput, error) {
		titles, err := deps.Catalog.ListTitles(ctx, catalog.TitleFilter{
			Status: catalog.TitleStatus(strings.ToLower(strings.TrimSpace(input.Status))),
			Limit:  input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := &titleListOutput{Body: make([]Title, 0, len(titles))}
		for _, t := range titles {
			out.Body = append(out.Body, FromTitle(t))
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-title",
		Method:      http.MethodGet,
		Path:        "/titles/{id}",
		Summary:     "Get a title",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *titleIDPath) (*titleOutput, error) {
		title, err := deps.Catalog.GetTitle(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &titleOutput{Body: FromTitle(title)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "title-logs",
		Method:      http.MethodGet,
		Path:        "/titles/{id}/logs",
		Summary:     "Recent title log entries",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    int64 `path:"id"`
		Limit int   `query:"limit" minimum:"0"`
	}) (*titleLogsOutput, error) {
		if _, err := deps.Catalog.GetTitle(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		entries, err := deps.Catalog.TitleLogs(ctx, input.ID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &titleLogsOutput{Body: FromLogEntries(entries)}, nil
	})
}
