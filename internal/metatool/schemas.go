package metatool

// Raw JSON schemas for the meta-tools. Kept as literals so the wire
// shape is exactly what is written here.

const emptySchema = `{
  "type": "object",
  "properties": {}
}`

const nameOnlySchema = `{
  "type": "object",
  "properties": {
    "name": {"type": "string", "description": "Worker or profile name"}
  },
  "required": ["name"]
}`

const discoverSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Free-text search query"},
    "limit": {"type": "integer", "description": "Maximum results (default 10)"}
  },
  "required": ["query"]
}`

const declareWorkerSchema = `{
  "type": "object",
  "properties": {
    "name": {"type": "string", "description": "Worker name ([A-Za-z0-9_-]+)"},
    "transport": {"type": "string", "enum": ["local", "sse", "streamable-http"], "description": "Transport (default local)"},
    "command": {"type": "string", "description": "Executable for local transport"},
    "args": {"type": "array", "items": {"type": "string"}, "description": "Command arguments"},
    "env": {"type": "object", "additionalProperties": {"type": "string"}, "description": "Extra environment variables"},
    "url": {"type": "string", "description": "Endpoint URL for network transports"},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}, "description": "HTTP headers for network transports"},
    "description": {"type": "string"},
    "stateful": {"type": "boolean", "description": "Per-session isolation; defaults from the well-known stateful name set"}
  },
  "required": ["name"]
}`

const updateWorkerSchema = `{
  "type": "object",
  "properties": {
    "name": {"type": "string", "description": "Worker to update"},
    "transport": {"type": "string", "enum": ["local", "sse", "streamable-http"]},
    "command": {"type": "string"},
    "args": {"type": "array", "items": {"type": "string"}},
    "env": {"type": "object", "additionalProperties": {"type": "string"}},
    "url": {"type": "string"},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}},
    "description": {"type": "string"},
    "stateful": {"type": "boolean"}
  },
  "required": ["name"]
}`

const listToolsSchema = `{
  "type": "object",
  "properties": {
    "server": {"type": "string", "description": "Worker name; omit for a summary of all workers"}
  }
}`

const callToolSchema = `{
  "type": "object",
  "properties": {
    "server": {"type": "string", "description": "Worker name"},
    "tool": {"type": "string", "description": "Tool name on that worker"},
    "args": {"type": "object", "description": "Tool arguments"}
  },
  "required": ["server", "tool"]
}`

const createProfileSchema = `{
  "type": "object",
  "properties": {
    "name": {"type": "string", "description": "Profile name ([A-Za-z0-9_-]+)"},
    "description": {"type": "string"},
    "entries": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "command": {"type": "string"},
          "args": {"type": "array", "items": {"type": "string"}},
          "env": {"type": "object", "additionalProperties": {"type": "string"}},
          "description": {"type": "string"}
        },
        "required": ["name", "command"]
      }
    }
  },
  "required": ["name", "entries"]
}`
