package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bentman/jarvis/runtime/sandbox"
)

// Built-in tool names.
const (
	ToolReadFile      = "read_file"
	ToolListDirectory = "list_directory"
	ToolFileInfo      = "file_info"
	ToolSearchFiles   = "search_files"
	ToolWriteFile     = "write_file"
	ToolDeleteFile    = "delete_file"
	ToolWebSearch     = "web_search"
)

var pathOnlySchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"path": {"type": "string", "minLength": 1}
	},
	"required": ["path"],
	"additionalProperties": false
}`)

// RegisterFileTools registers the sandboxed filesystem tools plus the
// external web_search stub on the registry. All file I/O goes through the
// sandbox borrow; handlers never touch the filesystem directly.
func RegisterFileTools(registry *Registry, sb *sandbox.Sandbox) error {
	defs := []Definition{
		{
			Name:        ToolReadFile,
			Description: "Read a text file inside the sandbox.",
			Tier:        TierReadOnly,
			Schema:      pathOnlySchema,
			Handler: func(_ context.Context, payload map[string]any) (any, error) {
				content, err := sb.ReadText(payload["path"].(string))
				if err != nil {
					return nil, sandboxError(err)
				}
				return map[string]any{"content": content}, nil
			},
		},
		{
			Name:        ToolListDirectory,
			Description: "List a sandbox directory in sorted order.",
			Tier:        TierReadOnly,
			Schema:      pathOnlySchema,
			Handler: func(_ context.Context, payload map[string]any) (any, error) {
				entries, err := sb.ListDir(payload["path"].(string))
				if err != nil {
					return nil, sandboxError(err)
				}
				return map[string]any{"entries": entries}, nil
			},
		},
		{
			Name:        ToolFileInfo,
			Description: "Return metadata for a sandbox file or directory.",
			Tier:        TierReadOnly,
			Schema:      pathOnlySchema,
			Handler: func(_ context.Context, payload map[string]any) (any, error) {
				info, err := sb.FileInfo(payload["path"].(string))
				if err != nil {
					return nil, sandboxError(err)
				}
				return info, nil
			},
		},
		{
			Name:        ToolSearchFiles,
			Description: "Find files under a sandbox directory by glob pattern.",
			Tier:        TierReadOnly,
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "minLength": 1},
					"pattern": {"type": "string", "minLength": 1}
				},
				"required": ["path", "pattern"],
				"additionalProperties": false
			}`),
			Handler: func(_ context.Context, payload map[string]any) (any, error) {
				matches, err := sb.Search(payload["path"].(string), payload["pattern"].(string))
				if err != nil {
					return nil, sandboxError(err)
				}
				return map[string]any{"matches": matches}, nil
			},
		},
		{
			Name:        ToolWriteFile,
			Description: "Write a text file inside the sandbox.",
			Tier:        TierWriteSafe,
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "minLength": 1},
					"content": {"type": "string"}
				},
				"required": ["path", "content"],
				"additionalProperties": false
			}`),
			Handler: func(_ context.Context, payload map[string]any) (any, error) {
				path := payload["path"].(string)
				if err := sb.WriteText(path, payload["content"].(string)); err != nil {
					return nil, sandboxError(err)
				}
				return map[string]any{"path": path, "written": true}, nil
			},
		},
		{
			Name:        ToolDeleteFile,
			Description: "Delete a single file inside the sandbox.",
			Tier:        TierWriteSafe,
			Schema:      pathOnlySchema,
			Handler: func(_ context.Context, payload map[string]any) (any, error) {
				path := payload["path"].(string)
				if err := sb.Delete(path); err != nil {
					return nil, sandboxError(err)
				}
				return map[string]any{"path": path, "deleted": true}, nil
			},
		},
		{
			Name:        ToolWebSearch,
			Description: "Search the web. External; routes through the privacy wrapper.",
			Tier:        TierReadOnly,
			External:    true,
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "minLength": 1}
				},
				"required": ["query"],
				"additionalProperties": false
			}`),
			Handler: func(_ context.Context, payload map[string]any) (any, error) {
				// No search backend is wired yet; the privacy gate and
				// audit trail still apply to the stubbed call.
				return map[string]any{
					"query":   payload["query"].(string),
					"results": []any{},
					"note":    "web search backend not configured",
				}, nil
			},
		},
	}
	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return fmt.Errorf("register %s: %w", def.Name, err)
		}
	}
	return nil
}

// sandboxError surfaces a sandbox failure under its stable code.
func sandboxError(err error) error {
	if code := sandbox.CodeOf(err); code != "" {
		return &HandlerError{Code: code, Message: err.Error()}
	}
	return err
}
