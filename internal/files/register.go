package files

import (
	"context"
	"fmt"

	"github.com/vaakya/vaakya/internal/capability"
)

// Register adds the file operation family to the registry. A disabled
// sandbox (no roots configured) registers nothing.
func Register(r *capability.Registry, ops *Ops) error {
	if !ops.sandbox.Enabled() {
		return nil
	}

	caps := []*capability.Capability{
		{
			Name:        "list_files",
			Description: "List the files and directories at a path. Paths are relative to the workspace unless absolute.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Directory to list. Use \".\" for the workspace root.",
					},
				},
				"required": []string{"path"},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				path, _ := args["path"].(string)
				return ops.List(ctx, path)
			},
		},
		{
			Name:        "read_file",
			Description: "Read the contents of a text file.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "File to read.",
					},
				},
				"required": []string{"path"},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				path, _ := args["path"].(string)
				return ops.Read(ctx, path)
			},
		},
		{
			Name:        "write_file",
			Description: "Create or replace a file with the given content. Parent directories are created as needed.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "File to write.",
					},
					"content": map[string]any{
						"type":        "string",
						"description": "Full content of the file.",
					},
				},
				"required": []string{"path", "content"},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				path, _ := args["path"].(string)
				content, _ := args["content"].(string)
				return ops.Write(ctx, path, content)
			},
		},
		{
			Name:        "create_directory",
			Description: "Create a directory, including any missing parent directories.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Directory to create.",
					},
				},
				"required": []string{"path"},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				path, _ := args["path"].(string)
				return ops.CreateDir(ctx, path)
			},
		},
		{
			Name:        "copy_file",
			Description: "Copy a file to a new location.",
			Parameters:  transferParams("Copy"),
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				src, _ := args["source"].(string)
				dst, _ := args["destination"].(string)
				return ops.Copy(ctx, src, dst)
			},
		},
		{
			Name:        "move_file",
			Description: "Move or rename a file.",
			Parameters:  transferParams("Move"),
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				src, _ := args["source"].(string)
				dst, _ := args["destination"].(string)
				return ops.Move(ctx, src, dst)
			},
		},
		{
			Name:        "delete_file",
			Description: "Delete a single file. Directories cannot be deleted.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "File to delete.",
					},
				},
				"required": []string{"path"},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				path, _ := args["path"].(string)
				return ops.Delete(ctx, path)
			},
		},
	}

	for _, c := range caps {
		if err := r.Register(c); err != nil {
			return fmt.Errorf("register %s: %w", c.Name, err)
		}
	}
	return nil
}

func transferParams(verb string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"source": map[string]any{
				"type":        "string",
				"description": verb + " this file.",
			},
			"destination": map[string]any{
				"type":        "string",
				"description": "Target path.",
			},
		},
		"required": []string{"source", "destination"},
	}
}
