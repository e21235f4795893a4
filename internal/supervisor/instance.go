package supervisor

import (
	"strings"
	"sync"

	"github.com/mcpswarm/mcpswarm/internal/worker"
)

// State is the lifecycle state of one worker instance.
type State string

const (
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateError      State = "error"
	StateStopped    State = "stopped"
)

const (
	scaledMarker  = "#"
	sessionMarker = "@"
)

// Instance is one live attempt to run a worker. Fields other than callMu
// are guarded by the supervisor mutex; the client performs its own
// internal locking.
type Instance struct {
	InternalName string
	BaseName     string
	Index        int // 0 = primary, k for base#k, -1 for session-owned
	Config       worker.Config

	State          State
	Client         worker.Client
	PID            int
	Tools          []worker.ToolInfo
	LastError      string
	ReconnectCount int
	SessionID      string // owning session for base@prefix instances

	// callMu serializes direct (unqueued) calls so any single instance
	// has at most one outstanding call in flight. Pool-queued calls are
	// serialized by the admission queue's busy gate instead.
	callMu sync.Mutex
}

// Snapshot is the read-only view handed to the session layer and the
// control surface.
type Snapshot struct {
	InternalName   string            `json:"internal_name"`
	BaseName       string            `json:"base_name"`
	Index          int               `json:"index"`
	State          State             `json:"state"`
	Transport      worker.Transport  `json:"transport"`
	PID            int               `json:"pid,omitempty"`
	URL            string            `json:"url,omitempty"`
	Stateful       bool              `json:"stateful"`
	Tools          []worker.ToolInfo `json:"tools,omitempty"`
	ToolCount      int               `json:"tool_count"`
	LastError      string            `json:"last_error,omitempty"`
	ReconnectCount int               `json:"reconnect_count"`
	Description    string            `json:"description,omitempty"`
}

func (i *Instance) snapshot() Snapshot {
	return Snapshot{
		InternalName:   i.InternalName,
		BaseName:       i.BaseName,
		Index:          i.Index,
		State:          i.State,
		Transport:      i.Config.Transport,
		PID:            i.PID,
		URL:            i.Config.URL,
		Stateful:       i.Config.Stateful,
		Tools:          append([]worker.ToolInfo(nil), i.Tools...),
		ToolCount:      len(i.Tools),
		LastError:      i.LastError,
		ReconnectCount: i.ReconnectCount,
		Description:    i.Config.Description,
	}
}

// isDerived reports whether an internal name belongs to a scaled or
// session-owned instance. Derived configs are never written back to the
// store, so primaries can never be shadowed by their clones.
func isDerived(internalName string) bool {
	return strings.ContainsAny(internalName, scaledMarker+sessionMarker)
}

// isSessionOwned reports whether the internal name is a session-owned
// stateful instance (base@prefix).
func isSessionOwned(internalName string) bool {
	return strings.Contains(internalName, sessionMarker)
}

// baseOf strips the derived-instance markers from an internal name.
func baseOf(internalName string) string {
	if i := strings.IndexAny(internalName, scaledMarker+sessionMarker); i >= 0 {
		return internalName[:i]
	}
	return internalName
}
