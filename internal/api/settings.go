package api

import (
	"context"
	"net/http"
	"sort"

	"github.com/danielgtaylor/huma/v2"
)

type settingsOutput struct {
	Body map[string]string
}

func registerSettings(api huma.API, deps Deps) {
	huma.Register(api, huma.Operation{
		OperationID: "get-settings",
		Method:      http.MethodGet,
		Path:        "/settings",
		Summary:     "Automation settings",
	}, func(ctx context.Context, _ *struct{}) (*settingsOutput, error) {
		raw, err := deps.Catalog.RawSettings(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &settingsOutput{Body: raw}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-settings",
		Method:      http.MethodPut,
		Path:        "/settings",
		Summary:     "Update automation settings",
		Description: "Each key is validated independently; keys are applied in sorted order and the first invalid one stops the update.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct{ Body map[string]string }) (*settingsOutput, error) {
		keys := make([]string, 0, len(input.Body))
		for key := range input.Body {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if err := deps.Catalog.SetSetting(ctx, key, input.Body[key]); err != nil {
				return nil, handleError(err)
			}
		}
		raw, err := deps.Catalog.RawSettings(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &settingsOutput{Body: raw}, nil
	})
}
