package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	sdk_client "github.com/mark3labs/mcp-go/client"
	sdk_mcp "github.com/mark3labs/mcp-go/mcp"
)

const (
	// ConnectTimeout is the hard cap on transport establishment plus the
	// MCP initialize handshake.
	ConnectTimeout = 30 * time.Second
	// CloseTimeout bounds the best-effort shutdown of a client.
	CloseTimeout = 5 * time.Second
)

// Client is the capability set every transport adapter implements. The
// supervisor programs exclusively against this interface; the three
// concrete adapters differ only in connection construction and in whether
// there is a child process (PID, stderr tail).
type Client interface {
	// Connect establishes the transport and performs the MCP initialize
	// handshake, bounded by ConnectTimeout.
	Connect(ctx context.Context) error
	// ListTools fetches the authoritative tool list from the worker.
	ListTools(ctx context.Context) ([]ToolInfo, error)
	// CallTool invokes a tool. A peer-reported failure comes back as a
	// *CallError; transport failures as ordinary errors.
	CallTool(ctx context.Context, tool string, args map[string]any) (*sdk_mcp.CallToolResult, error)
	// OnToolsChanged registers a callback fired when the worker announces
	// its tool list changed. Must be set before Connect.
	OnToolsChanged(fn func())
	// OnClosed registers a callback fired at most once when the transport
	// becomes unusable outside of an explicit Close. Must be set before
	// Connect.
	OnClosed(fn func())
	// PID returns the child process id, or 0 for network transports.
	PID() int
	// StderrTail returns the captured stderr tail. Nil for network
	// transports.
	StderrTail() []string
	// Close tears the transport down, best effort, bounded by
	// CloseTimeout. Always returns nil.
	Close() error
}

// Options carries adapter knobs that are not part of the worker config.
type Options struct {
	// StderrSink, when set, receives each stderr line of a local worker
	// as it is captured (in addition to the ring).
	StderrSink func(line string)
}

// New returns the adapter matching cfg.Transport. The config must already
// be validated.
func New(cfg Config, opts Options) Client {
	switch cfg.Transport {
	case TransportLocal:
		return newLocalClient(cfg, opts)
	default:
		return newStreamClient(cfg)
	}
}

// conn holds the state shared by all three adapters: the live SDK client
// and the two supervisor callbacks.
type conn struct {
	mu             sync.RWMutex
	inner          *sdk_client.Client
	onToolsChanged func()
	onClosed       func()
	closedOnce     sync.Once
	closing        bool
}

func (c *conn) OnToolsChanged(fn func()) {
	c.mu.Lock()
	c.onToolsChanged = fn
	c.mu.Unlock()
}

func (c *conn) OnClosed(fn func()) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}

// fireClosed invokes the closed callback exactly once, and never after an
// explicit Close has begun.
func (c *conn) fireClosed() {
	c.mu.RLock()
	closing := c.closing
	fn := c.onClosed
	c.mu.RUnlock()
	if closing {
		return
	}
	c.closedOnce.Do(func() {
		if fn != nil {
			fn()
		}
	})
}

func (c *conn) client() *sdk_client.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inner
}

// handshake runs Start, the notification wiring, and the MCP initialize
// exchange on a freshly constructed SDK client.
func (c *conn) handshake(ctx context.Context, name string, inner *sdk_client.Client) error {
	ctx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	if err := inner.Start(ctx); err != nil {
		_ = inner.Close()
		return fmt.Errorf("worker: start transport for %q: %w", name, err)
	}

	inner.OnNotification(func(n sdk_mcp.JSONRPCNotification) {
		if n.Method == "notifications/tools/list_changed" {
			c.mu.RLock()
			fn := c.onToolsChanged
			c.mu.RUnlock()
			if fn != nil {
				fn()
			}
		}
	})

	_, err := inner.Initialize(ctx, sdk_mcp.InitializeRequest{
		Params: sdk_mcp.InitializeParams{
			ProtocolVersion: sdk_mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: sdk_mcp.Implementation{
				Name:    "mcpswarm",
				Version: "0.3.0",
			},
		},
	})
	if err != nil {
		_ = inner.Close() // release resources on handshake failure
		return fmt.Errorf("worker: initialize %q: %w", name, err)
	}

	c.mu.Lock()
	c.inner = inner
	c.mu.Unlock()
	return nil
}

func (c *conn) listTools(ctx context.Context, name string) ([]ToolInfo, error) {
	inner := c.client()
	if inner == nil {
		return nil, fmt.Errorf("worker: client %q: %w", name, ErrNotConnected)
	}

	result, err := inner.ListTools(ctx, sdk_mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("worker: list tools %q: %w", name, err)
	}

	tools := make([]ToolInfo, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			schema = json.RawMessage("{}")
		}
		tools = append(tools, ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return tools, nil
}

func (c *conn) callTool(ctx context.Context, name, tool string, args map[string]any) (*sdk_mcp.CallToolResult, error) {
	inner := c.client()
	if inner == nil {
		return nil, fmt.Errorf("worker: client %q: %w", name, ErrNotConnected)
	}

	req := sdk_mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	result, err := inner.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("worker: call tool %q on %q: %w", tool, name, err)
	}
	if result.IsError {
		return result, &CallError{Message: flattenText(result)}
	}
	return result, nil
}

// close tears down the SDK client with the CloseTimeout budget. The SDK
// Close can block on a wedged transport, so it runs in a goroutine that is
// abandoned once the budget is spent.
func (c *conn) close(name string) {
	c.mu.Lock()
	c.closing = true
	inner := c.inner
	c.inner = nil
	c.mu.Unlock()

	if inner == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		_ = inner.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(CloseTimeout):
	}
}

// flattenText concatenates the text parts of a tool result, used for
// error messages and logs.
func flattenText(result *sdk_mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(sdk_mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
