package worker

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"context"

	sdk_client "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	sdk_mcp "github.com/mark3labs/mcp-go/mcp"
)

// localClient runs a worker as a child process and speaks MCP over its
// standard streams. The adapter exclusively owns the process, its pipes,
// and the stderr ring; ownership passes to the stop path only through the
// supervisor's base mutex.
type localClient struct {
	conn
	cfg  Config
	opts Options
	ring *StderrRing

	cmd      *exec.Cmd
	waitDone chan struct{} // closed after cmd.Wait returns
}

func newLocalClient(cfg Config, opts Options) *localClient {
	return &localClient{
		cfg:  cfg,
		opts: opts,
		ring: NewStderrRing(),
	}
}

// Connect spawns the child, wires its stdout/stdin into an MCP transport,
// starts the stderr reader, and performs the initialize handshake. On any
// failure the child is killed before returning.
func (c *localClient) Connect(ctx context.Context) error {
	cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
	cmd.Env = append(os.Environ(), envPairs(c.cfg.Env)...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("worker: stdin pipe for %q: %w", c.cfg.Name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("worker: stdout pipe for %q: %w", c.cfg.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("worker: stderr pipe for %q: %w", c.cfg.Name, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("worker: spawn %q: %w", c.cfg.Name, err)
	}
	c.cmd = cmd
	c.waitDone = make(chan struct{})

	go c.ring.Consume(stderr, c.opts.StderrSink)
	go func() {
		_ = cmd.Wait()
		close(c.waitDone)
		c.fireClosed()
	}()

	// The SDK transport owns only the stdio framing; the process itself
	// stays ours (PID table, kill on stop).
	inner := sdk_client.NewClient(transport.NewIO(stdout, stdin, io.NopCloser(strings.NewReader(""))))
	if err := c.handshake(ctx, c.cfg.Name, inner); err != nil {
		c.kill()
		return err
	}
	return nil
}

func (c *localClient) ListTools(ctx context.Context) ([]ToolInfo, error) {
	return c.listTools(ctx, c.cfg.Name)
}

func (c *localClient) CallTool(ctx context.Context, tool string, args map[string]any) (*sdk_mcp.CallToolResult, error) {
	return c.callTool(ctx, c.cfg.Name, tool, args)
}

func (c *localClient) PID() int {
	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

func (c *localClient) StderrTail() []string {
	return c.ring.Lines()
}

// Close shuts the transport down (which closes the child's stdin, the
// conventional MCP stop signal), waits up to CloseTimeout for the process
// to exit, then kills it.
func (c *localClient) Close() error {
	c.close(c.cfg.Name)
	if c.cmd == nil {
		return nil
	}
	select {
	case <-c.waitDone:
	case <-time.After(CloseTimeout):
		c.kill()
		<-c.waitDone
	}
	return nil
}

// kill force-terminates the child without waiting for a graceful exit.
// Used on handshake failure and when the close budget is spent.
func (c *localClient) kill() {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
}

// envPairs flattens a key/value env map into KEY=VALUE strings.
func envPairs(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	pairs := make([]string, 0, len(env))
	for k, v := range env {
		pairs = append(pairs, k+"="+v)
	}
	return pairs
}
