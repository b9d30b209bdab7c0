// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package filesystem is an MCP tool provider exposing read-only access to
// one directory tree.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

const (
	defaultMaxReadBytes = 1 << 20
	defaultSearchLimit  = 200
)

// Provider serves list_directory, read_file and search_files below Root.
type Provider struct {
	root         string
	maxReadBytes int64
	logger       *zap.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithMaxReadBytes caps how much of a file read_file returns.
func WithMaxReadBytes(n int64) Option {
	return func(p *Provider) { p.maxReadBytes = n }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Provider) { p.logger = logger }
}

// New creates a provider rooted at root, which must be a directory.
func New(root string, opts ...Option) (*Provider, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid root %q: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("invalid root %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %q is not a directory", root)
	}
	p := &Provider{root: abs, maxReadBytes: defaultMaxReadBytes, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Root returns the absolute root directory.
func (p *Provider) Root() string {
	return p.root
}

// MCPServer builds the MCP server exposing the provider's tools.
func (p *Provider) MCPServer(version string) *server.MCPServer {
	s := server.NewMCPServer("filesystem", version, server.WithToolCapabilities(true))
	s.AddTools(p.tools()...)
	return s
}

func (p *Provider) tools() []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.NewTool("list_directory",
				mcp.WithDescription("List the entries of a directory. Directories end with a slash."),
				mcp.WithString("path", mcp.Required(), mcp.Description("Directory relative to the provider root")),
			),
			Handler: p.ListDirectory,
		},
		{
			Tool: mcp.NewTool("read_file",
				mcp.WithDescription("Read the contents of a text file"),
				mcp.WithString("path", mcp.Required(), mcp.Description("File relative to the provider root")),
			),
			Handler: p.ReadFile,
		},
		{
			Tool: mcp.NewTool("search_files",
				mcp.WithDescription("Find files whose name matches a glob or contains a substring"),
				mcp.WithString("pattern", mcp.Required(), mcp.Description("Glob such as *.go, or a plain substring")),
				mcp.WithString("path", mcp.Description("Directory to search, default the root")),
				mcp.WithNumber("limit", mcp.Description("Maximum number of matches, default 200")),
			),
			Handler: p.SearchFiles,
		},
	}
}

// resolve maps a client path onto the root. Paths never escape the root.
func (p *Provider) resolve(path string) (string, error) {
	if path == "" {
		path = "."
	}
	if filepath.IsAbs(path) {
		rel, err := filepath.Rel(p.root, filepath.Clean(path))
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("path %q is outside the provider root", path)
		}
		path = rel
	}
	clean := filepath.Clean(string(filepath.Separator) + path)
	full := filepath.Join(p.root, clean)

	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("path %q does not exist", path)
		}
		return "", err
	}
	root, err := filepath.EvalSymlinks(p.root)
	if err != nil {
		return "", err
	}
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the provider root", path)
	}
	return resolved, nil
}

// ListDirectory handles list_directory.
func (p *Provider) ListDirectory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dir, err := p.resolve(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cannot list %s: %v", path, err)), nil
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText("(empty directory)"), nil
	}

	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Name())
		if e.IsDir() {
			b.WriteByte('/')
		}
		b.WriteByte('\n')
	}
	return mcp.NewToolResultText(strings.TrimSuffix(b.String(), "\n")), nil
}

// ReadFile handles read_file.
func (p *Provider) ReadFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	file, err := p.resolve(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	f, err := os.Open(file)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cannot read %s: %v", path, err)), nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cannot read %s: %v", path, err)), nil
	}
	if info.IsDir() {
		return mcp.NewToolResultError(fmt.Sprintf("%s is a directory", path)), nil
	}

	data, err := io.ReadAll(io.LimitReader(f, p.maxReadBytes))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cannot read %s: %v", path, err)), nil
	}
	text := string(data)
	if info.Size() > p.maxReadBytes {
		text += fmt.Sprintf("\n... (truncated, %d of %d bytes)", p.maxReadBytes, info.Size())
	}
	return mcp.NewToolResultText(text), nil
}

// SearchFiles handles search_files.
func (p *Provider) SearchFiles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pattern, err := req.RequireString("pattern")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	base, err := p.resolve(req.GetString("path", "."))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := intArg(req, "limit", defaultSearchLimit)

	glob := strings.ContainsAny(pattern, "*?[")
	if glob {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid pattern %q: %v", pattern, err)), nil
		}
	}
	needle := strings.ToLower(pattern)

	var matches []string
	errLimit := errors.New("limit reached")
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != base && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		var ok bool
		if glob {
			ok, _ = filepath.Match(pattern, name)
		} else {
			ok = strings.Contains(strings.ToLower(name), needle)
		}
		if !ok {
			return nil
		}
		rel, _ := filepath.Rel(base, path)
		matches = append(matches, filepath.ToSlash(rel))
		if len(matches) >= limit {
			return errLimit
		}
		return nil
	})
	if err != nil && !errors.Is(err, errLimit) {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	p.logger.Debug("search_files", zap.String("pattern", pattern), zap.Int("matches", len(matches)))

	if len(matches) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No files matching %q", pattern)), nil
	}
	return mcp.NewToolResultText(strings.Join(matches, "\n")), nil
}

func intArg(req mcp.CallToolRequest, key string, def int) int {
	switch v := req.GetArguments()[key].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return def
}
