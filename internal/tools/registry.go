package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexvoice/internal/bus"
	"github.com/normanking/cortexvoice/internal/config"
)

// serverSession is the per-server connection surface. Real connections go
// through the MCP SDK; tests substitute sessionDialer with a fake.
type serverSession interface {
	ListTools(ctx context.Context) ([]*mcpsdk.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcpsdk.CallToolResult, error)
	Close() error
}

// sessionDialer is overridden in tests to stub server connections.
var sessionDialer = dialServer

// Registry connects to configured tool servers, discovers their tools, and
// exposes a single flat namespace for dispatch. First-registered-wins on
// name conflicts.
type Registry struct {
	logger      zerolog.Logger
	eventBus    *bus.EventBus
	callTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]serverSession
	tools    map[string]Tool
	order    []string // registration order for stable listing
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg config.ToolsConfig, eventBus *bus.EventBus, logger zerolog.Logger) *Registry {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Registry{
		logger:      logger.With().Str("component", "tools").Logger(),
		eventBus:    eventBus,
		callTimeout: timeout,
		sessions:    make(map[string]serverSession),
		tools:       make(map[string]Tool),
	}
}

// ConnectAll attempts every configured server. A single server's failure
// does not abort initialization; the catalog reflects whatever subset
// connected. Returns the number of servers that connected.
func (r *Registry) ConnectAll(ctx context.Context, servers []config.ToolServerConfig) int {
	connected := 0
	for _, sc := range servers {
		if err := r.Connect(ctx, sc); err != nil {
			r.logger.Warn().Err(err).Str("server", sc.Name).Msg("Tool server connection failed")
			continue
		}
		connected++
	}
	r.logger.Info().
		Int("connected", connected).
		Int("configured", len(servers)).
		Int("tools", len(r.ListTools())).
		Msg("Tool registry initialized")
	return connected
}

// Connect launches or attaches to one tool server and registers its catalog.
func (r *Registry) Connect(ctx context.Context, sc config.ToolServerConfig) error {
	if sc.Name == "" {
		return fmt.Errorf("tool server name is empty")
	}

	r.mu.Lock()
	if _, exists := r.sessions[sc.Name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("tool server %q already connected", sc.Name)
	}
	r.mu.Unlock()

	session, err := sessionDialer(ctx, sc)
	if err != nil {
		return fmt.Errorf("connect %s: %w", sc.Name, err)
	}

	catalog, err := session.ListTools(ctx)
	if err != nil {
		session.Close()
		return fmt.Errorf("list tools on %s: %w", sc.Name, err)
	}

	r.mu.Lock()
	r.sessions[sc.Name] = session
	registered := 0
	for _, t := range catalog {
		if t == nil || t.Name == "" {
			continue
		}
		if existing, ok := r.tools[t.Name]; ok {
			// First-registered-wins; partial availability beats total failure.
			r.logger.Warn().
				Str("tool", t.Name).
				Str("kept", existing.Server).
				Str("ignored", sc.Name).
				Msg("Tool name conflict")
			continue
		}
		r.tools[t.Name] = Tool{
			Name:        t.Name,
			Description: t.Description,
			Schema:      SanitizeSchema(asSchemaMap(t.InputSchema)),
			Server:      sc.Name,
		}
		r.order = append(r.order, t.Name)
		registered++
	}
	r.mu.Unlock()

	r.logger.Info().Str("server", sc.Name).Int("tools", registered).Msg("Tool server connected")
	if r.eventBus != nil {
		r.eventBus.Publish(bus.Event{
			Type: bus.EventTypeToolServerConnected,
			Data: map[string]any{"server": sc.Name, "tools": registered},
		})
	}
	return nil
}

// Disconnect closes one server session and drops its tools from the catalog.
func (r *Registry) Disconnect(serverName string) {
	r.mu.Lock()
	session, ok := r.sessions[serverName]
	if ok {
		delete(r.sessions, serverName)
		kept := r.order[:0]
		for _, name := range r.order {
			if r.tools[name].Server == serverName {
				delete(r.tools, name)
				continue
			}
			kept = append(kept, name)
		}
		r.order = kept
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	if err := session.Close(); err != nil {
		r.logger.Warn().Err(err).Str("server", serverName).Msg("Tool server close failed")
	}
	r.logger.Info().Str("server", serverName).Msg("Tool server disconnected")
	if r.eventBus != nil {
		r.eventBus.Publish(bus.Event{
			Type: bus.EventTypeToolServerDisconnected,
			Data: map[string]any{"server": serverName},
		})
	}
}

// ListTools returns the current catalog in registration order.
func (r *Registry) ListTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// CallTool executes one tool by name. An unknown tool is a normal runtime
// condition (the model hallucinating a name) and yields an Err result.
func (r *Registry) CallTool(ctx context.Context, req CallRequest) CallResult {
	r.mu.RLock()
	tool, ok := r.tools[req.Name]
	var session serverSession
	if ok {
		session = r.sessions[tool.Server]
	}
	r.mu.RUnlock()

	if !ok {
		return errResult(req, ErrUnknownTool.Error()+": "+req.Name)
	}
	if session == nil {
		return errResult(req, ErrServerUnavailable.Error()+": "+tool.Server)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	result, err := session.CallTool(callCtx, req.Name, req.Arguments)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return errResult(req, ErrCallTimeout.Error()+": "+req.Name)
		}
		return errResult(req, err.Error())
	}

	text := flattenContent(result)
	if result != nil && result.IsError {
		return errResult(req, text)
	}
	return CallResult{ID: req.ID, Name: req.Name, Text: text}
}

// Close disconnects every server.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]serverSession)
	r.tools = make(map[string]Tool)
	r.order = nil
	r.mu.Unlock()

	for name, session := range sessions {
		if err := session.Close(); err != nil {
			r.logger.Warn().Err(err).Str("server", name).Msg("Tool server close failed")
		}
	}
}

// flattenContent joins text content blocks from a call result.
func flattenContent(result *mcpsdk.CallToolResult) string {
	if result == nil {
		return ""
	}
	var sb strings.Builder
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// asSchemaMap coerces the SDK's schema payload into a plain map.
func asSchemaMap(schema any) map[string]any {
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	return nil
}

// mcpSession adapts a live MCP client session to serverSession.
type mcpSession struct {
	session *mcpsdk.ClientSession
}

func (s *mcpSession) ListTools(ctx context.Context) ([]*mcpsdk.Tool, error) {
	var out []*mcpsdk.Tool
	for tool, err := range s.session.Tools(ctx, nil) {
		if err != nil {
			return nil, err
		}
		out = append(out, tool)
	}
	return out, nil
}

func (s *mcpSession) CallTool(ctx context.Context, name string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	return s.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
}

func (s *mcpSession) Close() error {
	return s.session.Close()
}

// dialServer connects to one tool server using its transport spec.
func dialServer(ctx context.Context, sc config.ToolServerConfig) (serverSession, error) {
	transport, err := buildTransport(ctx, sc.Transport)
	if err != nil {
		return nil, err
	}
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "cortexvoice", Version: "0.1.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, err
	}
	return &mcpSession{session: session}, nil
}

const (
	stdioSchemePrefix = "stdio://"
	sseSchemePrefix   = "sse://"
)

// buildTransport parses a transport spec: stdio://cmd args, sse://url, or a
// plain http(s) URL for the streamable transport. A bare spec is treated as
// a stdio command line.
func buildTransport(ctx context.Context, spec string) (mcpsdk.Transport, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("transport spec is empty")
	}

	lowered := strings.ToLower(spec)
	switch {
	case strings.HasPrefix(lowered, stdioSchemePrefix):
		return buildStdioTransport(ctx, spec[len(stdioSchemePrefix):])
	case strings.HasPrefix(lowered, sseSchemePrefix):
		endpoint := spec[len(sseSchemePrefix):]
		if !strings.Contains(endpoint, "://") {
			endpoint = "https://" + endpoint
		}
		return &mcpsdk.SSEClientTransport{Endpoint: endpoint}, nil
	case strings.HasPrefix(lowered, "http://"), strings.HasPrefix(lowered, "https://"):
		return &mcpsdk.StreamableClientTransport{Endpoint: spec}, nil
	}
	return buildStdioTransport(ctx, spec)
}

func buildStdioTransport(ctx context.Context, cmdSpec string) (mcpsdk.Transport, error) {
	parts := strings.Fields(strings.TrimSpace(cmdSpec))
	if len(parts) == 0 {
		return nil, fmt.Errorf("stdio command is empty")
	}
	command := exec.CommandContext(ctx, parts[0], parts[1:]...)
	return &mcpsdk.CommandTransport{Command: command}, nil
}
