package executors

import (
	"context"
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"

	"github.com/aretw0/toolbus/pkg/domain"
	"github.com/aretw0/toolbus/pkg/executor"
)

// DefaultFilesServer is the server name the built-in executors call
// when the host doesn't configure one.
const DefaultFilesServer = "files"

// projectMarkers maps well-known top-level files to a project type.
var projectMarkers = map[string]string{
	"go.mod":           "go",
	"package.json":     "node",
	"pyproject.toml":   "python",
	"setup.py":         "python",
	"requirements.txt": "python",
	"Cargo.toml":       "rust",
	"pom.xml":          "java",
	"build.gradle":     "java",
	"Gemfile":          "ruby",
}

// Discovery inspects a directory through the files server and reports
// what kind of project lives there. The result is a summary: marker
// files and counts, never the listing itself.
type Discovery struct {
	executor.Base
	server string
}

type discoveryInput struct {
	Path string `mapstructure:"path"`
}

// NewDiscovery is the factory registered under "discovery".
func NewDiscovery(deps executor.Deps) executor.Executor {
	server := DefaultFilesServer
	if s, ok := deps.Config["files_server"].(string); ok && s != "" {
		server = s
	}
	return &Discovery{
		Base:   executor.NewBase("discovery", []string{server}, deps),
		server: server,
	}
}

// Execute implements executor.Executor.
func (d *Discovery) Execute(ctx context.Context, input map[string]any) (*domain.Result, error) {
	var in discoveryInput
	if err := mapstructure.Decode(input, &in); err != nil {
		return nil, d.Wrap("decode input", err)
	}
	if in.Path == "" {
		in.Path = "."
	}

	raw, err := d.Call(ctx, d.server, "list_dir", map[string]any{"path": in.Path})
	if err != nil {
		return nil, err
	}
	if msg, failed := isToolError(raw); failed {
		return nil, d.Wrap("list_dir", fmt.Errorf("%s", msg))
	}
	listing, ok := structuredContent(raw)
	if !ok {
		return nil, d.Wrap("list_dir", fmt.Errorf("unexpected result shape"))
	}

	files, dirs := 0, 0
	var markers []string
	projectType := "unknown"

	entries, _ := listing["entries"].([]any)
	for _, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		name, _ := entry["name"].(string)
		if isDir, _ := entry["dir"].(bool); isDir {
			dirs++
			continue
		}
		files++
		if kind, ok := projectMarkers[name]; ok {
			markers = append(markers, name)
			if projectType == "unknown" {
				projectType = kind
			}
		}
	}
	sort.Strings(markers)

	return d.NewResult(map[string]any{
		"path":        in.Path,
		"projectType": projectType,
		"markers":     markers,
		"files":       files,
		"dirs":        dirs,
	}), nil
}
