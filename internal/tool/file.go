package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"aicoder/internal/domain"
	"aicoder/internal/workspace"
)

type pathInput struct {
	Path string `json:"path" jsonschema:"minLength=1" jsonschema_description:"Path relative to the project root"`
}

type listInput struct {
	Path string `json:"path,omitempty" jsonschema_description:"Directory relative to the project root. Defaults to the root"`
}

type writeInput struct {
	Path    string `json:"path" jsonschema:"minLength=1" jsonschema_description:"File path relative to the project root"`
	Content string `json:"content" jsonschema_description:"Full text to write"`
	Mode    string `json:"mode,omitempty" jsonschema:"enum=w,enum=a,default=w" jsonschema_description:"w overwrites the file and a appends to it"`
}

func asJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// --- ReadFileTool ---

// ReadFileTool returns the contents of a file inside the project.
type ReadFileTool struct {
	ws *workspace.Workspace
}

var _ domain.Tool = (*ReadFileTool)(nil)

func NewReadFileTool(ws *workspace.Workspace) *ReadFileTool {
	return &ReadFileTool{ws: ws}
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Read the full text of a file in the project."
}
func (t *ReadFileTool) Parameters() map[string]any { return SchemaFor(&pathInput{}) }

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (domain.ToolResult, error) {
	var in pathInput
	if err := decodeArgs(args, &in); err != nil {
		return domain.ToolResult{}, err
	}
	data, err := t.ws.ReadFile(in.Path)
	if err != nil {
		return domain.Fail(err), nil
	}
	return domain.OK(data), nil
}

// --- FileMetadataTool ---

// FileMetadataTool reports size, mode and timestamps of a path.
type FileMetadataTool struct {
	ws *workspace.Workspace
}

var _ domain.Tool = (*FileMetadataTool)(nil)

func NewFileMetadataTool(ws *workspace.Workspace) *FileMetadataTool {
	return &FileMetadataTool{ws: ws}
}

func (t *FileMetadataTool) Name() string { return "get_file_metadata" }
func (t *FileMetadataTool) Description() string {
	return "Get metadata for a file or directory: size, permissions, modification time and type."
}
func (t *FileMetadataTool) Parameters() map[string]any { return SchemaFor(&pathInput{}) }

func (t *FileMetadataTool) Execute(ctx context.Context, args map[string]any) (domain.ToolResult, error) {
	var in pathInput
	if err := decodeArgs(args, &in); err != nil {
		return domain.ToolResult{}, err
	}
	info, err := t.ws.Stat(in.Path)
	if err != nil {
		return domain.Fail(err), nil
	}
	return domain.OK(asJSON(info)), nil
}

// --- ListDirTool ---

// ListDirTool lists the files and subdirectories of a directory.
type ListDirTool struct {
	ws *workspace.Workspace
}

var _ domain.Tool = (*ListDirTool)(nil)

func NewListDirTool(ws *workspace.Workspace) *ListDirTool {
	return &ListDirTool{ws: ws}
}

func (t *ListDirTool) Name() string { return "list_directory_contents" }
func (t *ListDirTool) Description() string {
	return "List files and directories at the given path. Omit the path or use '.' for the project root."
}
func (t *ListDirTool) Parameters() map[string]any { return SchemaFor(&listInput{}) }

func (t *ListDirTool) Execute(ctx context.Context, args map[string]any) (domain.ToolResult, error) {
	var in listInput
	if err := decodeArgs(args, &in); err != nil {
		return domain.ToolResult{}, err
	}
	if in.Path == "" {
		in.Path = "."
	}
	listing, err := t.ws.List(in.Path)
	if err != nil {
		return domain.Fail(err), nil
	}
	return domain.OK(asJSON(listing)), nil
}

// --- WriteFileTool ---

// WriteFileTool writes or appends to a file, creating parent directories.
type WriteFileTool struct {
	ws *workspace.Workspace
}

var _ domain.Tool = (*WriteFileTool)(nil)

func NewWriteFileTool(ws *workspace.Workspace) *WriteFileTool {
	return &WriteFileTool{ws: ws}
}

func (t *WriteFileTool) Name() string { return "write_to_file" }
func (t *WriteFileTool) Description() string {
	return "Write content to a file. Missing parent directories are created. Mode 'w' (default) overwrites and 'a' appends."
}
func (t *WriteFileTool) Parameters() map[string]any { return SchemaFor(&writeInput{}) }

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (domain.ToolResult, error) {
	var in writeInput
	if err := decodeArgs(args, &in); err != nil {
		return domain.ToolResult{}, err
	}
	appendMode := in.Mode == "a"
	existed, err := t.ws.WriteFile(in.Path, in.Content, appendMode)
	if err != nil {
		return domain.Fail(err), nil
	}

	verb := "wrote"
	switch {
	case appendMode:
		verb = "appended"
	case existed:
		verb = "overwrote"
	}
	return domain.OK(fmt.Sprintf("%s %d bytes to %s", verb, len(in.Content), in.Path)), nil
}

// --- CreateDirTool ---

// CreateDirTool creates a directory and its parents.
type CreateDirTool struct {
	ws *workspace.Workspace
}

var _ domain.Tool = (*CreateDirTool)(nil)

func NewCreateDirTool(ws *workspace.Workspace) *CreateDirTool {
	return &CreateDirTool{ws: ws}
}

func (t *CreateDirTool) Name() string { return "create_directory" }
func (t *CreateDirTool) Description() string {
	return "Create a directory, including missing parents. An existing directory is not an error."
}
func (t *CreateDirTool) Parameters() map[string]any { return SchemaFor(&pathInput{}) }

func (t *CreateDirTool) Execute(ctx context.Context, args map[string]any) (domain.ToolResult, error) {
	var in pathInput
	if err := decodeArgs(args, &in); err != nil {
		return domain.ToolResult{}, err
	}
	created, err := t.ws.Mkdir(in.Path)
	if err != nil {
		return domain.Fail(err), nil
	}
	if !created {
		return domain.OK(fmt.Sprintf("directory %s already exists", in.Path)), nil
	}
	return domain.OK(fmt.Sprintf("created directory %s", in.Path)), nil
}
