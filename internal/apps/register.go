package apps

import (
	"context"
	"fmt"

	"github.com/vaakya/vaakya/internal/capability"
)

// Register adds the application launch family to the registry.
func Register(r *capability.Registry, launcher *Launcher) error {
	caps := []*capability.Capability{
		{
			Name:        "launch_app",
			Description: "Launch an installed application by name. Fuzzy matching resolves approximate names like 'notepad' or 'vs code'.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{
						"type":        "string",
						"description": "The application name to launch.",
					},
				},
				"required": []string{"name"},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				name, _ := args["name"].(string)
				if name == "" {
					return nil, fmt.Errorf("launch_app: name is required")
				}
				return launcher.Launch(ctx, name)
			},
		},
		{
			Name:        "list_apps",
			Description: "List the applications installed on this system.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				return launcher.catalog.Apps(), nil
			},
		},
	}

	for _, c := range caps {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}
