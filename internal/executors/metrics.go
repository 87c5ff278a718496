package executors

import (
	"context"
	"fmt"
	"path"
	"sort"

	"github.com/mitchellh/mapstructure"

	"github.com/aretw0/toolbus/pkg/domain"
	"github.com/aretw0/toolbus/pkg/executor"
)

// maxCountedFiles bounds how many files the metrics executor will ask
// the worker to count. Anything beyond it is reported as skipped.
const maxCountedFiles = 200

// maxReportedExtensions bounds the per-extension breakdown in the
// result, keeping Data a summary.
const maxReportedExtensions = 8

// Metrics walks a directory through the files server and produces line
// and file counts grouped by extension.
type Metrics struct {
	executor.Base
	server string
}

type metricsInput struct {
	Path string `mapstructure:"path"`
	// ProjectType is typically wired from the discovery step; it is
	// echoed into the result for the synthesis layer.
	ProjectType string `mapstructure:"projectType"`
}

// NewMetrics is the factory registered under "metrics".
func NewMetrics(deps executor.Deps) executor.Executor {
	server := DefaultFilesServer
	if s, ok := deps.Config["files_server"].(string); ok && s != "" {
		server = s
	}
	return &Metrics{
		Base:   executor.NewBase("metrics", []string{server}, deps),
		server: server,
	}
}

type extStat struct {
	ext   string
	files int
	lines int
}

// Execute implements executor.Executor.
func (m *Metrics) Execute(ctx context.Context, input map[string]any) (*domain.Result, error) {
	var in metricsInput
	if err := mapstructure.Decode(input, &in); err != nil {
		return nil, m.Wrap("decode input", err)
	}
	if in.Path == "" {
		in.Path = "."
	}

	raw, err := m.Call(ctx, m.server, "list_dir", map[string]any{
		"path":      in.Path,
		"recursive": true,
	})
	if err != nil {
		return nil, err
	}
	if msg, failed := isToolError(raw); failed {
		return nil, m.Wrap("list_dir", fmt.Errorf("%s", msg))
	}
	listing, ok := structuredContent(raw)
	if !ok {
		return nil, m.Wrap("list_dir", fmt.Errorf("unexpected result shape"))
	}

	var names []string
	entries, _ := listing["entries"].([]any)
	for _, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if isDir, _ := entry["dir"].(bool); isDir {
			continue
		}
		if name, _ := entry["name"].(string); name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	skipped := 0
	if len(names) > maxCountedFiles {
		skipped = len(names) - maxCountedFiles
		names = names[:maxCountedFiles]
	}

	totalLines := 0
	byExt := make(map[string]*extStat)
	for _, name := range names {
		raw, err := m.Call(ctx, m.server, "count_lines", map[string]any{
			"path": path.Join(in.Path, name),
		})
		if err != nil {
			return nil, err
		}
		counted, ok := structuredContent(raw)
		if !ok {
			continue
		}
		lines := 0
		if n, ok := counted["lines"].(float64); ok {
			lines = int(n)
		}

		ext := path.Ext(name)
		if ext == "" {
			ext = "(none)"
		}
		stat := byExt[ext]
		if stat == nil {
			stat = &extStat{ext: ext}
			byExt[ext] = stat
		}
		stat.files++
		stat.lines += lines
		totalLines += lines
	}

	// Keep only the heaviest extensions; the result is a summary, not
	// an inventory.
	stats := make([]*extStat, 0, len(byExt))
	for _, s := range byExt {
		stats = append(stats, s)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].lines != stats[j].lines {
			return stats[i].lines > stats[j].lines
		}
		return stats[i].ext < stats[j].ext
	})
	if len(stats) > maxReportedExtensions {
		stats = stats[:maxReportedExtensions]
	}
	breakdown := make(map[string]any, len(stats))
	for _, s := range stats {
		breakdown[s.ext] = map[string]any{"files": s.files, "lines": s.lines}
	}

	data := map[string]any{
		"path":        in.Path,
		"files":       len(names),
		"lines":       totalLines,
		"byExtension": breakdown,
	}
	if skipped > 0 {
		data["skippedFiles"] = skipped
	}
	if in.ProjectType != "" {
		data["projectType"] = in.ProjectType
	}
	return m.NewResult(data), nil
}
