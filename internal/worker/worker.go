// Package worker implements the embedded tool worker. It speaks the
// stdio protocol on stdin/stdout, so the supervisor can spawn it the
// same way it spawns any external server.
package worker

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// maxFileBytes bounds read_file responses. Files past the limit come
// back truncated with a flag set, never as an error.
const maxFileBytes = 256 * 1024

// maxListEntries bounds a single listing, mostly to keep recursive
// walks of big trees from flooding the pipe.
const maxListEntries = 10000

// DirEntry is one row of a list_dir result.
type DirEntry struct {
	Name string `json:"name" jsonschema_description:"Path relative to the listed directory"`
	Dir  bool   `json:"dir" jsonschema_description:"True when the entry is a directory"`
	Size int64  `json:"size,omitempty" jsonschema_description:"File size in bytes"`
}

// DirListing is the structured result of list_dir.
type DirListing struct {
	Path      string     `json:"path"`
	Entries   []DirEntry `json:"entries"`
	Truncated bool       `json:"truncated,omitempty" jsonschema_description:"True when the listing hit the entry limit"`
}

// FileContent is the structured result of read_file.
type FileContent struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
}

// LineCount is the structured result of count_lines.
type LineCount struct {
	Path  string `json:"path"`
	Lines int    `json:"lines"`
}

// Server wraps an MCP server exposing basic filesystem tools rooted at
// a single directory.
type Server struct {
	name      string
	root      string
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures a Server.
type Option func(*Server)

// WithRoot pins the worker to a directory other than the process cwd.
func WithRoot(root string) Option {
	return func(s *Server) { s.root = root }
}

// WithLogger sets the logger. Logging goes to stderr; stdout carries
// the protocol.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New builds a worker named after the server entry it backs.
func New(name, version string, opts ...Option) *Server {
	s := &Server{
		name:   name,
		root:   ".",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mcpServer = server.NewMCPServer(name, strings.TrimSpace(version))
	s.registerTools()
	return s
}

// ServeStdio blocks serving the protocol on stdin/stdout until the
// peer closes the pipe.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	// TOOL: echo
	s.mcpServer.AddTool(mcp.NewTool("echo",
		mcp.WithDescription("Echo the given arguments back, for connectivity checks."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultStructuredOnly(request.GetArguments()), nil
	})

	// TOOL: list_dir
	listTool := mcp.NewTool("list_dir",
		mcp.WithDescription("List a directory. With recursive=true, walks the whole subtree and reports paths relative to it."),
		mcp.WithString("path", mcp.Description("Directory to list, relative to the worker root (default \".\")")),
		mcp.WithBoolean("recursive", mcp.Description("Walk subdirectories as well")),
		mcp.WithOutputSchema[DirListing](),
	)
	s.mcpServer.AddTool(listTool, mcp.NewStructuredToolHandler(s.handleListDir))

	// TOOL: read_file
	readTool := mcp.NewTool("read_file",
		mcp.WithDescription("Read a text file. Large files are truncated."),
		mcp.WithString("path", mcp.Required(), mcp.Description("File to read, relative to the worker root")),
		mcp.WithOutputSchema[FileContent](),
	)
	s.mcpServer.AddTool(readTool, mcp.NewStructuredToolHandler(s.handleReadFile))

	// TOOL: count_lines
	countTool := mcp.NewTool("count_lines",
		mcp.WithDescription("Count newline-terminated lines in a file."),
		mcp.WithString("path", mcp.Required(), mcp.Description("File to count, relative to the worker root")),
		mcp.WithOutputSchema[LineCount](),
	)
	s.mcpServer.AddTool(countTool, mcp.NewStructuredToolHandler(s.handleCountLines))
}

// resolve maps a request path onto the worker root and rejects escapes.
func (s *Server) resolve(p string) (string, error) {
	if p == "" {
		p = "."
	}
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the worker root", p)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *Server) handleListDir(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (DirListing, error) {
	reqPath, _ := args["path"].(string)
	recursive, _ := args["recursive"].(bool)

	dir, err := s.resolve(reqPath)
	if err != nil {
		return DirListing{}, err
	}

	listing := DirListing{Path: reqPath}
	if listing.Path == "" {
		listing.Path = "."
	}

	if recursive {
		err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if p == dir {
				return nil
			}
			if len(listing.Entries) >= maxListEntries {
				listing.Truncated = true
				return fs.SkipAll
			}
			rel, relErr := filepath.Rel(dir, p)
			if relErr != nil {
				return relErr
			}
			entry := DirEntry{Name: filepath.ToSlash(rel), Dir: d.IsDir()}
			if info, infoErr := d.Info(); infoErr == nil && !d.IsDir() {
				entry.Size = info.Size()
			}
			listing.Entries = append(listing.Entries, entry)
			return nil
		})
		if err != nil {
			return DirListing{}, fmt.Errorf("walk %s: %w", listing.Path, err)
		}
	} else {
		entries, readErr := os.ReadDir(dir)
		if readErr != nil {
			return DirListing{}, fmt.Errorf("list %s: %w", listing.Path, readErr)
		}
		for _, d := range entries {
			if len(listing.Entries) >= maxListEntries {
				listing.Truncated = true
				break
			}
			entry := DirEntry{Name: d.Name(), Dir: d.IsDir()}
			if info, infoErr := d.Info(); infoErr == nil && !d.IsDir() {
				entry.Size = info.Size()
			}
			listing.Entries = append(listing.Entries, entry)
		}
	}

	sort.Slice(listing.Entries, func(i, j int) bool {
		return listing.Entries[i].Name < listing.Entries[j].Name
	})
	if listing.Entries == nil {
		listing.Entries = []DirEntry{}
	}
	s.logger.Debug("listed directory", "path", listing.Path, "entries", len(listing.Entries), "recursive", recursive)
	return listing, nil
}

func (s *Server) handleReadFile(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (FileContent, error) {
	reqPath, _ := args["path"].(string)
	if reqPath == "" {
		return FileContent{}, fmt.Errorf("path is required")
	}

	file, err := s.resolve(reqPath)
	if err != nil {
		return FileContent{}, err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return FileContent{}, fmt.Errorf("read %s: %w", reqPath, err)
	}

	out := FileContent{Path: reqPath}
	if len(data) > maxFileBytes {
		cut := maxFileBytes
		// Back up so the cut never splits a multi-byte UTF-8 sequence.
		for cut > 0 && cut > maxFileBytes-utf8.UTFMax && !utf8.RuneStart(data[cut]) {
			cut--
		}
		out.Content = string(data[:cut])
		out.Truncated = true
	} else {
		out.Content = string(data)
	}
	return out, nil
}

func (s *Server) handleCountLines(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (LineCount, error) {
	reqPath, _ := args["path"].(string)
	if reqPath == "" {
		return LineCount{}, fmt.Errorf("path is required")
	}

	file, err := s.resolve(reqPath)
	if err != nil {
		return LineCount{}, err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return LineCount{}, fmt.Errorf("count %s: %w", reqPath, err)
	}

	lines := strings.Count(string(data), "\n")
	// A trailing fragment without a newline still counts as a line.
	if len(data) > 0 && data[len(data)-1] != '\n' {
		lines++
	}
	return LineCount{Path: reqPath, Lines: lines}, nil
}
