// Package config resolves the runtime configuration from the environment.
// Values are read from SWARM_* variables, falling back to the legacy
// MCP_SWARM_* aliases, falling back to built-in defaults.
package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Mode selects how the supervisor exposes its tool surface.
const (
	ModeHTTP  = "http"  // multi-client streamable HTTP gateway
	ModeStdio = "stdio" // single client on the parent's standard streams
)

// envPrefixes is the resolution order for every variable.
var envPrefixes = []string{"SWARM_", "MCP_SWARM_"}

// Config is the fully-resolved runtime configuration.
type Config struct {
	DataDir    string `json:"data_dir"`
	DBPath     string `json:"db_path"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	SocketPath string `json:"socket_path,omitempty"` // overrides host:port when set
	Mode       string `json:"mode"`

	MaxSessions            int           `json:"max_sessions"`
	SessionIdleTimeout     time.Duration `json:"session_idle_timeout"`
	SessionCleanupInterval time.Duration `json:"session_cleanup_interval"`

	ToolCallTimeout time.Duration `json:"tool_call_timeout"`
	QueueTTL        time.Duration `json:"queue_ttl"`
	MaxPool         int           `json:"max_pool"`
	ScaleUpWait     time.Duration `json:"scale_up_wait"`
	IdleKill        time.Duration `json:"idle_kill"`
	HealthInterval  time.Duration `json:"health_interval"` // 0 disables the watchdog
	HealthTimeout   time.Duration `json:"health_timeout"`

	CORSEnabled bool `json:"cors_enabled"`
}

// StatefulNames is the built-in set of worker names treated as stateful
// when declared without an explicit stateful flag. These are the
// well-known browser/session-bound MCP servers whose correctness depends
// on uninterleaved per-caller state.
var StatefulNames = map[string]bool{
	"playwright": true,
	"puppeteer":  true,
	"browsermcp": true,
	"selenium":   true,
	"stagehand":  true,
}

// FromEnv resolves the full configuration. Invalid values are logged and
// replaced with defaults rather than failing startup.
func FromEnv() Config {
	dataDir := lookup("DATA_DIR")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dataDir = filepath.Join(home, ".mcpswarm")
	}
	dbPath := lookup("DB_PATH")
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "swarm.db")
	}
	mode := lookup("MODE")
	if mode != ModeStdio {
		mode = ModeHTTP
	}

	return Config{
		DataDir:    dataDir,
		DBPath:     dbPath,
		Host:       stringVal("HOST", "127.0.0.1"),
		Port:       intVal("PORT", 7466),
		SocketPath: lookup("SOCKET"),
		Mode:       mode,

		MaxSessions:            intVal("MAX_SESSIONS", 50),
		SessionIdleTimeout:     secondsVal("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		SessionCleanupInterval: secondsVal("SESSION_CLEANUP_INTERVAL", time.Minute),

		ToolCallTimeout: secondsVal("TOOL_TIMEOUT", time.Minute),
		QueueTTL:        secondsVal("QUEUE_TTL", time.Minute),
		MaxPool:         intVal("MAX_POOL", 4),
		ScaleUpWait:     secondsVal("SCALE_UP_WAIT", 5*time.Second),
		IdleKill:        secondsVal("IDLE_KILL", time.Minute),
		HealthInterval:  secondsVal("HEALTH_INTERVAL", time.Minute),
		HealthTimeout:   secondsVal("HEALTH_TIMEOUT", 10*time.Second),

		CORSEnabled: boolVal("CORS", false),
	}
}

// Addr returns the host:port listen address.
func (c Config) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// JSON renders the resolved configuration for the /api/config endpoint.
func (c Config) JSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// lookup returns the raw value of the first prefix under which the
// variable is set, or "".
func lookup(key string) string {
	for _, prefix := range envPrefixes {
		if v, ok := os.LookupEnv(prefix + key); ok {
			return v
		}
	}
	return ""
}

func stringVal(key, def string) string {
	if v := lookup(key); v != "" {
		return v
	}
	return def
}

func intVal(key string, def int) int {
	v := lookup(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		log.Printf("[Config] Invalid %s%s=%q, using default %d", envPrefixes[0], key, v, def)
		return def
	}
	return n
}

// secondsVal parses a whole-seconds value. Zero is accepted (it disables
// the health watchdog); negatives fall back to the default.
func secondsVal(key string, def time.Duration) time.Duration {
	v := lookup(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		log.Printf("[Config] Invalid %s%s=%q, using default %v", envPrefixes[0], key, v, def)
		return def
	}
	return time.Duration(n) * time.Second
}

func boolVal(key string, def bool) bool {
	v := lookup(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[Config] Invalid %s%s=%q, using default %v", envPrefixes[0], key, v, def)
		return def
	}
	return b
}
