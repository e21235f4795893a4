package worker

import (
	"context"
	"fmt"

	sdk_client "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	sdk_mcp "github.com/mark3labs/mcp-go/mcp"
)

// streamClient reaches a worker over a network transport: server-sent
// events or bidirectional streamable HTTP. There is no child process, so
// PID is 0 and the stderr tail is nil; transport death surfaces through
// call failures and the supervisor's health watchdog rather than an
// eager closed callback.
type streamClient struct {
	conn
	cfg Config
}

func newStreamClient(cfg Config) *streamClient {
	return &streamClient{cfg: cfg}
}

func (c *streamClient) Connect(ctx context.Context) error {
	var (
		inner *sdk_client.Client
		err   error
	)
	switch c.cfg.Transport {
	case TransportSSE:
		inner, err = sdk_client.NewSSEMCPClient(c.cfg.URL, transport.WithHeaders(c.cfg.Headers))
	case TransportStreamableHTTP:
		inner, err = sdk_client.NewStreamableHttpClient(c.cfg.URL, transport.WithHTTPHeaders(c.cfg.Headers))
	default:
		return fmt.Errorf("%w: transport %q is not network-based", ErrBadInput, c.cfg.Transport)
	}
	if err != nil {
		return fmt.Errorf("worker: create %s client %q: %w", c.cfg.Transport, c.cfg.Name, err)
	}
	return c.handshake(ctx, c.cfg.Name, inner)
}

func (c *streamClient) ListTools(ctx context.Context) ([]ToolInfo, error) {
	return c.listTools(ctx, c.cfg.Name)
}

func (c *streamClient) CallTool(ctx context.Context, tool string, args map[string]any) (*sdk_mcp.CallToolResult, error) {
	return c.callTool(ctx, c.cfg.Name, tool, args)
}

func (c *streamClient) PID() int { return 0 }

func (c *streamClient) StderrTail() []string { return nil }

func (c *streamClient) Close() error {
	c.close(c.cfg.Name)
	return nil
}
