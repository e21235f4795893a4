package worker

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Transport selects how a worker is reached.
type Transport string

const (
	// TransportLocal spawns a child process and speaks MCP over its
	// standard streams.
	TransportLocal Transport = "local"
	// TransportSSE connects to a remote MCP endpoint over server-sent
	// events.
	TransportSSE Transport = "sse"
	// TransportStreamableHTTP connects to a remote MCP endpoint over
	// bidirectional streamable HTTP.
	TransportStreamableHTTP Transport = "streamable-http"
)

// nameRE constrains declared worker names. Derived instance names add the
// '#' and '@' markers internally; those never appear in a declared name.
var nameRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidName reports whether s is an acceptable declared worker name.
func ValidName(s string) bool {
	return nameRE.MatchString(s)
}

// Config is the declarative definition of one worker. It is what gets
// persisted; live instances carry a copy (possibly mutated for derived
// instances, which are never written back to the store).
type Config struct {
	Name        string            `json:"name"`
	Transport   Transport         `json:"transport"`
	Command     string            `json:"command,omitempty"` // local only
	Args        []string          `json:"args,omitempty"`    // local only
	Env         map[string]string `json:"env,omitempty"`     // local only
	URL         string            `json:"url,omitempty"`     // network transports
	Headers     map[string]string `json:"headers,omitempty"` // network transports
	Description string            `json:"description,omitempty"`
	Stateful    bool              `json:"stateful,omitempty"`
}

// Validate checks the transport/field combinations a declared config must
// satisfy. Returns an error wrapping ErrBadInput on violation.
func (c Config) Validate() error {
	if !ValidName(c.Name) {
		return fmt.Errorf("%w: invalid worker name %q", ErrBadInput, c.Name)
	}
	switch c.Transport {
	case TransportLocal:
		if c.Command == "" {
			return fmt.Errorf("%w: transport %q requires a command", ErrBadInput, c.Transport)
		}
	case TransportSSE, TransportStreamableHTTP:
		if c.URL == "" {
			return fmt.Errorf("%w: transport %q requires a url", ErrBadInput, c.Transport)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrBadInput, c.Transport)
	}
	return nil
}

// Clone returns a deep copy so derived instances can mutate args/env
// without touching the primary's config.
func (c Config) Clone() Config {
	out := c
	if c.Args != nil {
		out.Args = append([]string(nil), c.Args...)
	}
	if c.Env != nil {
		out.Env = make(map[string]string, len(c.Env))
		for k, v := range c.Env {
			out.Env[k] = v
		}
	}
	if c.Headers != nil {
		out.Headers = make(map[string]string, len(c.Headers))
		for k, v := range c.Headers {
			out.Headers[k] = v
		}
	}
	return out
}

// ToolInfo captures the metadata of a single tool exposed by a worker.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}
