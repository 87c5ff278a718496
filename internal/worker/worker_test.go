package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/demo\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "internal", "app"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "internal", "app", "app.go"), []byte("package app\n"), 0o644))
	return New("files", "test", WithRoot(root)), root
}

func TestListDir_Flat(t *testing.T) {
	s, _ := newTestServer(t)

	listing, err := s.handleListDir(context.Background(), mcp.CallToolRequest{}, map[string]interface{}{})
	require.NoError(t, err)

	assert.Equal(t, ".", listing.Path)
	names := make([]string, 0, len(listing.Entries))
	for _, e := range listing.Entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"go.mod", "internal", "main.go"}, names)

	for _, e := range listing.Entries {
		if e.Name == "internal" {
			assert.True(t, e.Dir)
		}
		if e.Name == "go.mod" {
			assert.False(t, e.Dir)
			assert.Greater(t, e.Size, int64(0))
		}
	}
}

func TestListDir_Recursive(t *testing.T) {
	s, _ := newTestServer(t)

	listing, err := s.handleListDir(context.Background(), mcp.CallToolRequest{}, map[string]interface{}{
		"path":      ".",
		"recursive": true,
	})
	require.NoError(t, err)

	names := make([]string, 0, len(listing.Entries))
	for _, e := range listing.Entries {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "internal/app/app.go")
	assert.Contains(t, names, "main.go")
}

func TestListDir_MissingDirectory(t *testing.T) {
	s, _ := newTestServer(t)

	_, err := s.handleListDir(context.Background(), mcp.CallToolRequest{}, map[string]interface{}{
		"path": "nope",
	})
	require.Error(t, err)
}

func TestReadFile(t *testing.T) {
	s, _ := newTestServer(t)

	out, err := s.handleReadFile(context.Background(), mcp.CallToolRequest{}, map[string]interface{}{
		"path": "go.mod",
	})
	require.NoError(t, err)
	assert.Equal(t, "module example.com/demo\n", out.Content)
	assert.False(t, out.Truncated)
}

func TestReadFile_Truncates(t *testing.T) {
	s, root := newTestServer(t)
	big := strings.Repeat("x", maxFileBytes+100)
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.txt"), []byte(big), 0o644))

	out, err := s.handleReadFile(context.Background(), mcp.CallToolRequest{}, map[string]interface{}{
		"path": "big.txt",
	})
	require.NoError(t, err)
	assert.Len(t, out.Content, maxFileBytes)
	assert.True(t, out.Truncated)
}

func TestReadFile_TruncatesOnRuneBoundary(t *testing.T) {
	s, root := newTestServer(t)
	// Two-byte runes straddle the byte limit; the cut must not leave a
	// dangling half of one.
	big := strings.Repeat("a", maxFileBytes-1) + strings.Repeat("é", 3)
	require.NoError(t, os.WriteFile(filepath.Join(root, "multi.txt"), []byte(big), 0o644))

	out, err := s.handleReadFile(context.Background(), mcp.CallToolRequest{}, map[string]interface{}{
		"path": "multi.txt",
	})
	require.NoError(t, err)
	assert.True(t, out.Truncated)
	assert.True(t, utf8.ValidString(out.Content))
	assert.Len(t, out.Content, maxFileBytes-1, "the split rune is dropped entirely")
}

func TestCountLines(t *testing.T) {
	s, root := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "three.txt"), []byte("a\nb\nc"), 0o644))

	out, err := s.handleCountLines(context.Background(), mcp.CallToolRequest{}, map[string]interface{}{
		"path": "three.txt",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Lines, "unterminated last line still counts")

	out, err = s.handleCountLines(context.Background(), mcp.CallToolRequest{}, map[string]interface{}{
		"path": "main.go",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Lines)
}

func TestResolve_RejectsEscapes(t *testing.T) {
	s, _ := newTestServer(t)

	for _, p := range []string{"../secrets", "/etc/passwd", "a/../../b"} {
		_, err := s.resolve(p)
		assert.Error(t, err, p)
	}

	got, err := s.resolve("internal/app")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(got, filepath.Join("internal", "app")))
}
