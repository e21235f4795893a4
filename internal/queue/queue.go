// Package queue implements the per-pool FIFO admission queue. Calls for a
// base worker wait here until an idle pool instance picks them up; a 1 Hz
// tick expires stale calls and signals the supervisor to scale the pool
// when the head of a queue has waited too long with every instance busy.
//
// The queue holds no reference to the supervisor proper: the two
// callbacks (execute, onScaleUp) are injected at construction, which
// breaks the cyclic dependency between the two components.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	sdk_mcp "github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpswarm/mcpswarm/internal/worker"
)

// ExecuteFunc runs one tool call on a specific pool instance. Provided by
// the supervisor.
type ExecuteFunc func(ctx context.Context, internalName, tool string, args map[string]any) (*sdk_mcp.CallToolResult, error)

// ScaleUpFunc asks the supervisor to grow the pool for a base. Provided
// by the supervisor; invoked at most once per pending interval.
type ScaleUpFunc func(base string)

// instance is one registered pool member. All fields are guarded by the
// queue mutex.
type instance struct {
	internalName string
	index        int
	busy         bool
	lastActive   time.Time
}

// InstanceState is a point-in-time copy of a registered instance, used by
// the supervisor's idle reaper.
type InstanceState struct {
	InternalName string
	Index        int
	Busy         bool
	LastActive   time.Time
}

type callResult struct {
	result *sdk_mcp.CallToolResult
	err    error
}

type queuedCall struct {
	base       string
	tool       string
	args       map[string]any
	enqueuedAt time.Time
	done       chan callResult // buffered 1; delivered exactly once
}

// Queue is the shared admission queue for all pools.
type Queue struct {
	mu           sync.Mutex
	calls        map[string][]*queuedCall
	instances    map[string][]*instance // registration order
	pendingScale map[string]bool

	execute     ExecuteFunc
	onScaleUp   ScaleUpFunc
	ttl         time.Duration
	scaleUpWait time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

// New creates the queue and starts its 1 Hz maintenance tick.
func New(ttl, scaleUpWait time.Duration, execute ExecuteFunc, onScaleUp ScaleUpFunc) *Queue {
	q := &Queue{
		calls:        make(map[string][]*queuedCall),
		instances:    make(map[string][]*instance),
		pendingScale: make(map[string]bool),
		execute:      execute,
		onScaleUp:    onScaleUp,
		ttl:          ttl,
		scaleUpWait:  scaleUpWait,
		done:         make(chan struct{}),
	}
	go q.tickLoop()
	return q
}

// Close stops the maintenance tick and drains every queue.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })

	q.mu.Lock()
	bases := make([]string, 0, len(q.calls))
	for base := range q.calls {
		bases = append(bases, base)
	}
	q.mu.Unlock()
	for _, base := range bases {
		q.Drain(base)
	}
}

// Submit enqueues one call and blocks until it completes, expires, or is
// drained. The caller's ctx only abandons the wait; a dispatched call
// still runs to completion on the worker side.
func (q *Queue) Submit(ctx context.Context, base, tool string, args map[string]any) (*sdk_mcp.CallToolResult, error) {
	cc := &queuedCall{
		base:       base,
		tool:       tool,
		args:       args,
		enqueuedAt: time.Now(),
		done:       make(chan callResult, 1),
	}

	q.mu.Lock()
	q.calls[base] = append(q.calls[base], cc)
	q.mu.Unlock()
	q.Dispatch(base)

	select {
	case r := <-cc.done:
		return r.result, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", worker.ErrCancelled, ctx.Err())
	}
}

// RegisterInstance adds a pool member in registration order and triggers
// a dispatch pass so the new instance picks up queued work immediately.
func (q *Queue) RegisterInstance(base, internalName string, index int) {
	q.mu.Lock()
	q.instances[base] = append(q.instances[base], &instance{
		internalName: internalName,
		index:        index,
		lastActive:   time.Now(),
	})
	q.mu.Unlock()
	q.Dispatch(base)
}

// UnregisterInstance removes one pool member. In-flight work on it is
// unaffected; its completion is simply no longer followed by a dispatch
// to that instance.
func (q *Queue) UnregisterInstance(base, internalName string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.instances[base]
	for i, inst := range list {
		if inst.internalName == internalName {
			q.instances[base] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Snapshot returns the current registered instances for a base.
func (q *Queue) Snapshot(base string) []InstanceState {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]InstanceState, 0, len(q.instances[base]))
	for _, inst := range q.instances[base] {
		out = append(out, InstanceState{
			InternalName: inst.internalName,
			Index:        inst.index,
			Busy:         inst.busy,
			LastActive:   inst.lastActive,
		})
	}
	return out
}

// Len returns the number of waiting (undispatched) calls for a base.
func (q *Queue) Len(base string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.calls[base])
}

// Drain atomically rejects every queued call for a base with a
// server-stopped error, clears its instance list, and clears the
// pending-scale-up flag. Called on supervisor stop of the base.
func (q *Queue) Drain(base string) {
	q.mu.Lock()
	rejected := q.calls[base]
	delete(q.calls, base)
	delete(q.instances, base)
	delete(q.pendingScale, base)
	q.mu.Unlock()

	for _, cc := range rejected {
		cc.done <- callResult{err: fmt.Errorf("%w: server stopped", worker.ErrCancelled)}
	}
}

// ClearScalePending marks a scale-up as resolved (success or failure) so
// the tick may signal again later.
func (q *Queue) ClearScalePending(base string) {
	q.mu.Lock()
	delete(q.pendingScale, base)
	q.mu.Unlock()
}

// Dispatch walks the instance list in registration order and hands one
// queued call to each idle instance. Runs on enqueue, on instance
// registration, and after every call completion; a single pass saturates
// every idle instance.
func (q *Queue) Dispatch(base string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, inst := range q.instances[base] {
		if inst.busy {
			continue
		}
		pending := q.calls[base]
		if len(pending) == 0 {
			return
		}
		cc := pending[0]
		q.calls[base] = pending[1:]
		inst.busy = true
		go q.run(inst, cc)
	}
}

// run executes one dispatched call and re-enters dispatch when done.
func (q *Queue) run(inst *instance, cc *queuedCall) {
	result, err := q.execute(context.Background(), inst.internalName, cc.tool, cc.args)
	cc.done <- callResult{result: result, err: err}

	q.mu.Lock()
	inst.busy = false
	inst.lastActive = time.Now()
	q.mu.Unlock()
	q.Dispatch(cc.base)
}

// tickLoop runs the 1 Hz maintenance pass: expire stale calls, then check
// each backed-up queue for scale-up.
func (q *Queue) tickLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-q.done:
			return
		case <-ticker.C:
			q.tick(time.Now())
		}
	}
}

func (q *Queue) tick(now time.Time) {
	var expired []*queuedCall
	var scale []string

	q.mu.Lock()
	for base, pending := range q.calls {
		// Expire first so a stale head cannot trigger a scale-up.
		keep := pending[:0]
		for _, cc := range pending {
			if now.Sub(cc.enqueuedAt) >= q.ttl {
				expired = append(expired, cc)
			} else {
				keep = append(keep, cc)
			}
		}
		q.calls[base] = keep

		if len(keep) == 0 || q.pendingScale[base] {
			continue
		}
		if now.Sub(keep[0].enqueuedAt) < q.scaleUpWait {
			continue
		}
		allBusy := true
		for _, inst := range q.instances[base] {
			if !inst.busy {
				allBusy = false
				break
			}
		}
		if allBusy {
			q.pendingScale[base] = true
			scale = append(scale, base)
		}
	}
	q.mu.Unlock()

	for _, cc := range expired {
		cc.done <- callResult{err: fmt.Errorf("%w: call %q waited %s in queue for %q",
			worker.ErrTimeout, cc.tool, q.ttl, cc.base)}
	}
	for _, base := range scale {
		go q.onScaleUp(base)
	}
}
