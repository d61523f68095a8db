package tools

import (
	"os"
	"path/filepath"
	"strings"
)

// Path schemes understood by the filesystem tools.
const (
	managedPrefix = "managed://"
	fsPrefix      = "fs://"
)

// ManagedEntity distinguishes the two managed path spaces.
type ManagedEntity string

const (
	EntityAgent ManagedEntity = "agent"
	EntityUser  ManagedEntity = "user"
)

// ParsedPath is the result of parsing a tool path argument: either a managed
// profile address or a workspace-relative file address.
type ParsedPath struct {
	// Managed is non-nil for managed:// paths.
	Managed *ManagedPath
	// Rel is the cleaned workspace-relative path for fs:// paths.
	Rel string
}

// ManagedPath addresses a profile-backed field: managed://<entity>/<id>[/<field>].
type ManagedPath struct {
	Entity ManagedEntity
	ID     string
	Field  string
}

// ParsePath parses a managed:// or fs:// path argument.
func ParsePath(path string) (*ParsedPath, error) {
	if rest, ok := strings.CutPrefix(path, managedPrefix); ok {
		mp, err := parseManaged(rest)
		if err != nil {
			return nil, err
		}
		return &ParsedPath{Managed: mp}, nil
	}
	if rest, ok := strings.CutPrefix(path, fsPrefix); ok {
		rel, err := normalizeRelative(rest)
		if err != nil {
			return nil, err
		}
		return &ParsedPath{Rel: rel}, nil
	}
	return nil, Errorf(ErrInvalidPath, "path must use managed:// or fs:// prefix: %q", path)
}

func parseManaged(rest string) (*ManagedPath, error) {
	var segments []string
	for _, segment := range strings.Split(rest, "/") {
		if segment != "" {
			segments = append(segments, segment)
		}
	}
	if len(segments) < 2 || len(segments) > 3 {
		return nil, Errorf(ErrInvalidPath, "managed path must be managed://<agent|user>/<id>[/<field>]")
	}

	var entity ManagedEntity
	switch segments[0] {
	case "agent":
		entity = EntityAgent
	case "user":
		entity = EntityUser
	default:
		return nil, Errorf(ErrInvalidPath, "managed path entity must be agent or user, got %q", segments[0])
	}

	mp := &ManagedPath{Entity: entity, ID: segments[1]}
	if len(segments) == 3 {
		mp.Field = segments[2]
	}
	return mp, nil
}

// normalizeRelative lexically cleans an fs:// remainder, rejecting absolute
// paths and any traversal above the workspace root.
func normalizeRelative(raw string) (string, error) {
	if raw == "" {
		return ".", nil
	}
	if strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "\\") || filepath.IsAbs(raw) {
		return "", Errorf(ErrInvalidPath, "fs:// path must be workspace-relative, not absolute")
	}

	var segments []string
	for _, segment := range strings.Split(filepath.ToSlash(raw), "/") {
		switch segment {
		case "", ".":
		case "..":
			if len(segments) == 0 {
				return "", Errorf(ErrPathEscape, "fs:// path escapes workspace root")
			}
			segments = segments[:len(segments)-1]
		default:
			segments = append(segments, segment)
		}
	}
	if len(segments) == 0 {
		return ".", nil
	}
	return strings.Join(segments, "/"), nil
}

// resolveWorkspacePath joins a normalized relative path onto the workspace
// root and verifies, following symlinks on the nearest existing ancestor,
// that the target stays inside the root.
func resolveWorkspacePath(root, rel string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", Errorf(ErrToolExecFailed, "resolve workspace root: %v", err)
	}
	target := filepath.Join(rootAbs, filepath.FromSlash(rel))

	probe := target
	for {
		if _, statErr := os.Lstat(probe); statErr == nil {
			break
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			return "", Errorf(ErrPathEscape, "unable to resolve path within workspace root")
		}
		probe = parent
	}

	canonicalRoot, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return "", Errorf(ErrToolExecFailed, "canonicalize workspace root: %v", err)
	}
	canonicalProbe, err := filepath.EvalSymlinks(probe)
	if err != nil {
		return "", Errorf(ErrToolExecFailed, "canonicalize path: %v", err)
	}
	relToRoot, err := filepath.Rel(canonicalRoot, canonicalProbe)
	if err != nil || relToRoot == ".." || strings.HasPrefix(relToRoot, ".."+string(os.PathSeparator)) {
		return "", Errorf(ErrPathEscape, "path escapes configured workspace root")
	}
	return target, nil
}
