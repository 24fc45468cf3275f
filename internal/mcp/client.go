package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kilnworks/kiln/internal/logging"
	"github.com/kilnworks/kiln/pkg/types"
)

// Client manages MCP server connections through the official MCP SDK.
type Client struct {
	mu        sync.RWMutex
	servers   map[string]*server
	sdkClient *sdkmcp.Client
}

type server struct {
	name    string
	config  *types.MCPConfig
	session *sdkmcp.ClientSession
	tools   []Tool
	status  Status
	err     string
}

// NewClient creates an MCP client.
func NewClient() *Client {
	return &Client{
		servers: make(map[string]*server),
		sdkClient: sdkmcp.NewClient(&sdkmcp.Implementation{
			Name:    "kiln",
			Version: "1.0.0",
		}, nil),
	}
}

// AddServer connects to a configured MCP server. A failed connection is
// recorded rather than fatal; the server shows up as failed in Status.
func (c *Client) AddServer(ctx context.Context, name string, config *types.MCPConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.servers[name]; ok {
		return fmt.Errorf("server already exists: %s", name)
	}

	if !config.Enabled {
		c.servers[name] = &server{name: name, config: config, status: StatusDisabled}
		return nil
	}

	srv, err := c.connect(ctx, name, config)
	if err != nil {
		c.servers[name] = &server{name: name, config: config, status: StatusFailed, err: err.Error()}
		logging.Warn().Err(err).Str("server", name).Msg("failed to connect MCP server")
		return err
	}

	c.servers[name] = srv
	logging.Info().Str("server", name).Int("tools", len(srv.tools)).Msg("MCP server connected")
	return nil
}

func (c *Client) connect(ctx context.Context, name string, config *types.MCPConfig) (*server, error) {
	timeout := time.Duration(config.Timeout) * time.Millisecond
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	srv := &server{name: name, config: config, status: StatusConnecting}

	switch config.Type {
	case TransportTypeRemote:
		httpClient := httpClientWithHeaders(config.Headers)
		candidates := []struct {
			name      string
			transport sdkmcp.Transport
		}{
			{"streamable", &sdkmcp.StreamableClientTransport{Endpoint: config.URL, HTTPClient: httpClient}},
			{"sse", &sdkmcp.SSEClientTransport{Endpoint: config.URL, HTTPClient: httpClient}},
		}

		var lastErr error
		for _, cand := range candidates {
			session, err := c.open(ctx, cand.transport, timeout, srv)
			if err != nil {
				lastErr = fmt.Errorf("%s transport: %w", cand.name, err)
				continue
			}
			srv.session = session
			srv.status = StatusConnected
			return srv, nil
		}
		return nil, lastErr

	case TransportTypeLocal, TransportTypeStdio:
		if len(config.Command) == 0 {
			return nil, fmt.Errorf("empty command")
		}

		connectCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.Command(config.Command[0], config.Command[1:]...)
		cmd.Env = os.Environ()
		for k, v := range config.Environment {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}

		session, err := c.open(connectCtx, &sdkmcp.CommandTransport{Command: cmd}, timeout, srv)
		if err != nil {
			return nil, err
		}
		srv.session = session
		srv.status = StatusConnected
		return srv, nil

	default:
		return nil, fmt.Errorf("unknown transport type: %s", config.Type)
	}
}

func (c *Client) open(ctx context.Context, transport sdkmcp.Transport, timeout time.Duration, srv *server) (*sdkmcp.ClientSession, error) {
	session, err := c.sdkClient.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	srv.session = session

	listCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.listTools(listCtx); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	return session, nil
}

func (s *server) listTools(ctx context.Context) error {
	result, err := s.session.ListTools(ctx, nil)
	if err != nil {
		return err
	}

	s.tools = make([]Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		var schemaJSON json.RawMessage
		if t.InputSchema != nil {
			schemaJSON, _ = json.Marshal(t.InputSchema)
		}
		s.tools = append(s.tools, Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaJSON,
		})
	}
	return nil
}

func httpClientWithHeaders(headers map[string]string) *http.Client {
	client := &http.Client{}
	if len(headers) == 0 {
		return client
	}
	client.Transport = &headerRoundTripper{headers: headers, next: http.DefaultTransport}
	return client
}

type headerRoundTripper struct {
	headers map[string]string
	next    http.RoundTripper
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	for k, v := range h.headers {
		cloned.Header.Set(k, v)
	}
	return h.next.RoundTrip(cloned)
}

// Tools returns the tools of all connected servers, each name prefixed
// with its server name to avoid collisions.
func (c *Client) Tools() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var all []Tool
	for name, srv := range c.servers {
		if srv.status != StatusConnected {
			continue
		}
		for _, t := range srv.tools {
			all = append(all, Tool{
				Name:        sanitizeToolName(name) + "_" + sanitizeToolName(t.Name),
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
		}
	}
	return all
}

// ExecuteTool calls a prefixed tool on the server it belongs to and returns
// the concatenated text content of the result.
func (c *Client) ExecuteTool(ctx context.Context, toolName string, args json.RawMessage) (string, error) {
	c.mu.RLock()
	var target *server
	var original string
	for name, srv := range c.servers {
		if srv.status != StatusConnected {
			continue
		}
		prefix := sanitizeToolName(name) + "_"
		if strings.HasPrefix(toolName, prefix) {
			target = srv
			original = strings.TrimPrefix(toolName, prefix)
			for _, t := range srv.tools {
				if sanitizeToolName(t.Name) == original {
					original = t.Name
					break
				}
			}
			break
		}
	}
	c.mu.RUnlock()

	if target == nil {
		return "", fmt.Errorf("no server found for tool: %s", toolName)
	}

	var argsMap map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &argsMap); err != nil {
			return "", fmt.Errorf("failed to parse arguments: %w", err)
		}
	}

	result, err := target.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      original,
		Arguments: argsMap,
	})
	if err != nil {
		return "", err
	}

	if result.IsError {
		for _, content := range result.Content {
			if text, ok := content.(*sdkmcp.TextContent); ok {
				return "", fmt.Errorf("tool error: %s", text.Text)
			}
		}
		return "", fmt.Errorf("tool execution failed")
	}

	var output strings.Builder
	for _, content := range result.Content {
		if text, ok := content.(*sdkmcp.TextContent); ok {
			output.WriteString(text.Text)
		}
	}
	return output.String(), nil
}

// Status reports the connection state of every configured server.
func (c *Client) Status() []ServerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []ServerStatus
	for name, srv := range c.servers {
		s := ServerStatus{Name: name, Status: srv.status, ToolCount: len(srv.tools)}
		if srv.err != "" {
			s.Error = &srv.err
		}
		out = append(out, s)
	}
	return out
}

// Close disconnects every server.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, srv := range c.servers {
		if srv.session != nil {
			srv.session.Close()
		}
	}
	c.servers = make(map[string]*server)
	return nil
}

// sanitizeToolName replaces non-alphanumeric characters with underscores.
func sanitizeToolName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}
