package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AcrylicShrimp/fathom/internal/profile"
)

// ReplaceMode selects how many occurrences fs_replace rewrites.
type ReplaceMode string

const (
	ReplaceFirst ReplaceMode = "first"
	ReplaceAll   ReplaceMode = "all"
)

// ListTool lists entries under a managed:// or fs:// path.
type ListTool struct{}

func (t *ListTool) Name() string { return "fs_list" }

func (t *ListTool) Description() string {
	return "List entries under a managed:// or fs:// path."
}

func (t *ListTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "managed:// or fs:// path to list."}
		},
		"required": ["path"],
		"additionalProperties": false
	}`)
}

func (t *ListTool) Execute(ctx context.Context, inv Invocation, args json.RawMessage) (json.RawMessage, error) {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, Errorf(ErrInvalidArgs, "decode arguments: %v", err)
	}
	parsed, err := ParsePath(input.Path)
	if err != nil {
		return nil, err
	}
	if parsed.Managed != nil {
		return listManaged(inv, parsed.Managed)
	}
	return listWorkspace(inv, parsed.Rel)
}

func listWorkspace(inv Invocation, rel string) (json.RawMessage, error) {
	target, err := resolveWorkspacePath(inv.WorkspaceRoot, rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(target)
	if err != nil {
		return nil, mapIOError(err)
	}
	if !info.IsDir() {
		return nil, Errorf(ErrNotDirectory, "fs://%s is not a directory", rel)
	}

	dirents, err := os.ReadDir(target)
	if err != nil {
		return nil, mapIOError(err)
	}
	entries := make([]map[string]any, 0, len(dirents))
	for _, d := range dirents {
		kind := "other"
		switch {
		case d.IsDir():
			kind = "dir"
		case d.Type().IsRegular():
			kind = "file"
		}
		entry := map[string]any{
			"path": "fs://" + joinRel(rel, d.Name()),
			"name": d.Name(),
			"kind": kind,
		}
		if kind == "file" {
			if fi, err := d.Info(); err == nil {
				entry["size"] = fi.Size()
			}
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i]["path"].(string) < entries[j]["path"].(string)
	})
	return mustJSON(map[string]any{"entries": entries}), nil
}

func listManaged(inv Invocation, mp *ManagedPath) (json.RawMessage, error) {
	fields, err := managedFieldNames(inv, mp)
	if err != nil {
		return nil, err
	}
	base := fmt.Sprintf("managed://%s/%s", mp.Entity, mp.ID)
	if mp.Field != "" {
		if err := checkManagedField(mp); err != nil {
			return nil, err
		}
		return mustJSON(map[string]any{"entries": []map[string]any{{
			"path": base + "/" + mp.Field,
			"name": mp.Field,
			"kind": "file",
		}}}), nil
	}
	entries := make([]map[string]any, 0, len(fields))
	for _, field := range fields {
		entries = append(entries, map[string]any{
			"path": base + "/" + field,
			"name": field,
			"kind": "file",
		})
	}
	return mustJSON(map[string]any{"entries": entries}), nil
}

// ReadTool reads text content from a managed:// or fs:// file path.
type ReadTool struct{}

func (t *ReadTool) Name() string { return "fs_read" }

func (t *ReadTool) Description() string {
	return "Read text content from a managed:// or fs:// file path."
}

func (t *ReadTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "managed:// or fs:// path to read."}
		},
		"required": ["path"],
		"additionalProperties": false
	}`)
}

func (t *ReadTool) Execute(ctx context.Context, inv Invocation, args json.RawMessage) (json.RawMessage, error) {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, Errorf(ErrInvalidArgs, "decode arguments: %v", err)
	}
	parsed, err := ParsePath(input.Path)
	if err != nil {
		return nil, err
	}

	var content string
	if parsed.Managed != nil {
		content, err = readManagedField(inv, parsed.Managed)
		if err != nil {
			return nil, err
		}
	} else {
		target, rerr := resolveWorkspacePath(inv.WorkspaceRoot, parsed.Rel)
		if rerr != nil {
			return nil, rerr
		}
		info, serr := os.Stat(target)
		if serr != nil {
			return nil, mapIOError(serr)
		}
		if !info.Mode().IsRegular() {
			return nil, Errorf(ErrNotFile, "fs://%s is not a file", parsed.Rel)
		}
		data, rerr2 := os.ReadFile(target)
		if rerr2 != nil {
			return nil, mapIOError(rerr2)
		}
		content = string(data)
	}

	return mustJSON(map[string]any{"content": content, "bytes": len(content)}), nil
}

// WriteTool writes full text content to a managed:// or fs:// file path.
// Writing over existing content requires allow_override.
type WriteTool struct{}

func (t *WriteTool) Name() string { return "fs_write" }

func (t *WriteTool) Description() string {
	return "Write full text content to a managed:// or fs:// file path; set allow_override to overwrite."
}

func (t *WriteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "managed:// or fs:// path to write."},
			"content": {"type": "string", "description": "Full new content."},
			"allow_override": {"type": "boolean", "description": "Permit overwriting existing content."}
		},
		"required": ["path", "content", "allow_override"],
		"additionalProperties": false
	}`)
}

func (t *WriteTool) Execute(ctx context.Context, inv Invocation, args json.RawMessage) (json.RawMessage, error) {
	var input struct {
		Path          string `json:"path"`
		Content       string `json:"content"`
		AllowOverride bool   `json:"allow_override"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, Errorf(ErrInvalidArgs, "decode arguments: %v", err)
	}
	parsed, err := ParsePath(input.Path)
	if err != nil {
		return nil, err
	}

	if parsed.Managed != nil {
		current, err := readManagedField(inv, parsed.Managed)
		if err != nil {
			return nil, err
		}
		if current != "" && !input.AllowOverride {
			return nil, Errorf(ErrAlreadyExists, "managed field %q already contains content", parsed.Managed.Field)
		}
		if err := writeManagedField(inv, parsed.Managed, input.Content); err != nil {
			return nil, err
		}
		return mustJSON(map[string]any{
			"bytes_written": len(input.Content),
			"created":       current == "",
			"overwritten":   current != "",
		}), nil
	}

	target, err := resolveWorkspacePath(inv.WorkspaceRoot, parsed.Rel)
	if err != nil {
		return nil, err
	}
	existed := false
	if info, serr := os.Stat(target); serr == nil {
		if !info.Mode().IsRegular() {
			return nil, Errorf(ErrNotFile, "fs://%s is not a file", parsed.Rel)
		}
		if !input.AllowOverride {
			return nil, Errorf(ErrAlreadyExists, "fs://%s already exists", parsed.Rel)
		}
		existed = true
	} else if !errors.Is(serr, fs.ErrNotExist) {
		return nil, mapIOError(serr)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, mapIOError(err)
	}
	if err := os.WriteFile(target, []byte(input.Content), 0o644); err != nil {
		return nil, mapIOError(err)
	}
	return mustJSON(map[string]any{
		"bytes_written": len(input.Content),
		"created":       !existed,
		"overwritten":   existed,
	}), nil
}

// ReplaceTool rewrites occurrences of a pattern inside a managed:// or fs://
// file.
type ReplaceTool struct{}

func (t *ReplaceTool) Name() string { return "fs_replace" }

func (t *ReplaceTool) Description() string {
	return "Replace text inside a managed:// or fs:// file; mode selects first or all occurrences."
}

func (t *ReplaceTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "managed:// or fs:// path to edit."},
			"old": {"type": "string", "description": "Pattern to replace; must be non-empty."},
			"new": {"type": "string", "description": "Replacement text."},
			"mode": {"type": "string", "enum": ["first", "all"], "description": "Replace the first occurrence or all of them."}
		},
		"required": ["path", "old", "new", "mode"],
		"additionalProperties": false
	}`)
}

func (t *ReplaceTool) Execute(ctx context.Context, inv Invocation, args json.RawMessage) (json.RawMessage, error) {
	var input struct {
		Path string      `json:"path"`
		Old  string      `json:"old"`
		New  string      `json:"new"`
		Mode ReplaceMode `json:"mode"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, Errorf(ErrInvalidArgs, "decode arguments: %v", err)
	}
	if input.Old == "" {
		return nil, Errorf(ErrInvalidArgs, "replace.old must be non-empty")
	}
	parsed, err := ParsePath(input.Path)
	if err != nil {
		return nil, err
	}

	if parsed.Managed != nil {
		current, err := readManagedField(inv, parsed.Managed)
		if err != nil {
			return nil, err
		}
		updated, replacements := applyReplace(current, input.Old, input.New, input.Mode)
		if replacements == 0 {
			return nil, Errorf(ErrNotFound, "pattern not found in managed field %q", parsed.Managed.Field)
		}
		if err := writeManagedField(inv, parsed.Managed, updated); err != nil {
			return nil, err
		}
		return mustJSON(map[string]any{"replacements": replacements, "bytes": len(updated)}), nil
	}

	target, err := resolveWorkspacePath(inv.WorkspaceRoot, parsed.Rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(target)
	if err != nil {
		return nil, mapIOError(err)
	}
	if !info.Mode().IsRegular() {
		return nil, Errorf(ErrNotFile, "fs://%s is not a file", parsed.Rel)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return nil, mapIOError(err)
	}
	updated, replacements := applyReplace(string(data), input.Old, input.New, input.Mode)
	if replacements == 0 {
		return nil, Errorf(ErrNotFound, "pattern not found in fs://%s", parsed.Rel)
	}
	if err := os.WriteFile(target, []byte(updated), info.Mode().Perm()); err != nil {
		return nil, mapIOError(err)
	}
	return mustJSON(map[string]any{"replacements": replacements, "bytes": len(updated)}), nil
}

func applyReplace(current, old, new string, mode ReplaceMode) (string, int) {
	switch mode {
	case ReplaceAll:
		n := strings.Count(current, old)
		return strings.Replace(current, old, new, -1), n
	default:
		if !strings.Contains(current, old) {
			return current, 0
		}
		return strings.Replace(current, old, new, 1), 1
	}
}

func joinRel(rel, name string) string {
	if rel == "." || rel == "" {
		return name
	}
	return rel + "/" + name
}

func mapIOError(err error) *Error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Errorf(ErrNotFound, "%v", err)
	case errors.Is(err, fs.ErrPermission):
		return Errorf(ErrPathEscape, "%v", err)
	case errors.Is(err, fs.ErrExist):
		return Errorf(ErrAlreadyExists, "%v", err)
	default:
		return Errorf(ErrToolExecFailed, "%v", err)
	}
}

// Managed field plumbing shared by the fs tools.

func managedFieldNames(inv Invocation, mp *ManagedPath) ([]string, error) {
	switch mp.Entity {
	case EntityAgent:
		if _, err := inv.Profiles.GetAgent(mp.ID); err != nil {
			return nil, Errorf(ErrNotFound, "%v", err)
		}
		return profile.AgentFieldNames(), nil
	default:
		if _, err := inv.Profiles.GetUser(mp.ID); err != nil {
			return nil, Errorf(ErrNotFound, "%v", err)
		}
		return profile.UserFieldNames(), nil
	}
}

func checkManagedField(mp *ManagedPath) error {
	var known []string
	if mp.Entity == EntityAgent {
		known = profile.AgentFieldNames()
	} else {
		known = profile.UserFieldNames()
	}
	for _, field := range known {
		if field == mp.Field {
			return nil
		}
	}
	return Errorf(ErrInvalidPath, "field %q is not supported for %s profiles", mp.Field, mp.Entity)
}

func readManagedField(inv Invocation, mp *ManagedPath) (string, error) {
	if mp.Field == "" {
		return "", Errorf(ErrNotFile, "managed entity root is a directory; address a concrete field")
	}
	if err := checkManagedField(mp); err != nil {
		return "", err
	}
	var (
		content string
		err     error
	)
	if mp.Entity == EntityAgent {
		content, err = inv.Profiles.ReadAgentField(mp.ID, mp.Field)
	} else {
		content, err = inv.Profiles.ReadUserField(mp.ID, mp.Field)
	}
	if err != nil {
		if errors.Is(err, profile.ErrUnknownProfile) {
			return "", Errorf(ErrNotFound, "%v", err)
		}
		return "", Errorf(ErrToolExecFailed, "%v", err)
	}
	return content, nil
}

func writeManagedField(inv Invocation, mp *ManagedPath, content string) error {
	var err error
	if mp.Entity == EntityAgent {
		err = inv.Profiles.WriteAgentField(mp.ID, mp.Field, content)
	} else {
		err = inv.Profiles.WriteUserField(mp.ID, mp.Field, content)
	}
	if err != nil {
		if errors.Is(err, profile.ErrUnknownProfile) {
			return Errorf(ErrNotFound, "%v", err)
		}
		return Errorf(ErrToolExecFailed, "%v", err)
	}
	return nil
}
