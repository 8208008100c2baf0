// Package coordinator implements the message bus capability of spec.md
// §6: RPC subscribers keyed by recipient id, broadcast subscribers keyed
// by exact subject, and an outbound rpc_send/broadcast_send/task_send
// surface for a Controller to drive processes remotely. The process
// package only ever consumes the small process.Coordinator interface
// (subscribe/unsubscribe/broadcast); this package is the concrete
// in-process bus that satisfies it and adds the sending half spec.md §6
// assigns to the Controller side.
//
// Grounded on orchestrate/hub/hub.go's registration map + RWMutex +
// per-subscriber dispatch shape, narrowed from hub.go's agent/channel/
// goroutine-per-agent model (built for concurrent multi-agent delivery)
// down to direct synchronous handler calls, since a Process's RPC
// handler (process.handleControlMessage) already runs on its own
// process loop and returns quickly — there is no inbox to drain.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"connectrpc.com/connect"

	"github.com/tailored-agentic-units/procrt/observability"
)

// RPCHandler answers a single addressed request, per spec.md §6's
// rpc_send(recipient_id, msg) -> Future.
type RPCHandler func(ctx context.Context, msg any) (any, error)

// BroadcastHandler observes a subject's broadcast traffic; it has no
// return value, matching process.Coordinator's AddBroadcastSubscriber.
type BroadcastHandler func(ctx context.Context, msg any)

// TaskHandler processes a task_send delivery, optionally replying.
type TaskHandler func(ctx context.Context, task any) (any, error)

// Coordinator is the in-process message bus: an RPC subscriber registry
// keyed by recipient id, a broadcast subscriber registry keyed by exact
// subject (hub.go's Subscribe/Publish topic-map pattern), and a task
// subscriber registry of the same shape.
type Coordinator struct {
	mu sync.RWMutex

	rpc       map[string]RPCHandler
	broadcast map[string]map[string]BroadcastHandler
	task      map[string]map[string]TaskHandler

	name     string
	logger   *slog.Logger
	observer observability.Observer

	defaultTimeout time.Duration
}

// Option customizes Coordinator construction.
type Option func(*Coordinator)

// WithName labels the coordinator in logs, per hub.HubConfig.Name.
func WithName(name string) Option { return func(c *Coordinator) { c.name = name } }

// WithLogger overrides the default slog.Default() logger, per
// hub.HubConfig.Logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithObserver wires observability events alongside slog lines.
func WithObserver(obs observability.Observer) Option {
	return func(c *Coordinator) { c.observer = obs }
}

// WithDefaultTimeout bounds RPCSend/TaskSend calls with no caller
// deadline, per hub.HubConfig.DefaultTimeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.defaultTimeout = d }
}

// New constructs a Coordinator. Safe for concurrent use by multiple
// Processes and Controllers.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		rpc:            make(map[string]RPCHandler),
		broadcast:      make(map[string]map[string]BroadcastHandler),
		task:           make(map[string]map[string]TaskHandler),
		logger:         slog.Default(),
		observer:       observability.NoOpObserver{},
		defaultTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// -- process.Coordinator --------------------------------------------------

// AddRPCSubscriber registers handler under id, replacing any existing
// registration (a Process recreated from a saved bundle subscribes again
// under the same pid, which replaces the old entry rather than being
// rejected the way hub.RegisterAgent
// rejects duplicates — spec.md §6 only requires subscribe/unsubscribe
// lifecycle, not identity uniqueness enforcement at this layer).
func (c *Coordinator) AddRPCSubscriber(id string, handler func(ctx context.Context, msg any) (any, error)) error {
	if id == "" {
		return fmt.Errorf("coordinator: empty rpc subscriber id")
	}
	c.mu.Lock()
	c.rpc[id] = handler
	c.mu.Unlock()
	c.emit(observability.EventCoordinatorSubscribe, map[string]any{"kind": "rpc", "id": id})
	c.logger.Debug("rpc subscriber added", "coordinator", c.name, "id", id)
	return nil
}

// RemoveRPCSubscriber unregisters id. Removing an unknown id is not an
// error, matching Process's unconditional unsubscribeCoordinator on
// cleanup.
func (c *Coordinator) RemoveRPCSubscriber(id string) error {
	c.mu.Lock()
	delete(c.rpc, id)
	c.mu.Unlock()
	c.emit(observability.EventCoordinatorUnsubscribe, map[string]any{"kind": "rpc", "id": id})
	return nil
}

// AddBroadcastSubscriber registers handler under subject, keyed
// internally by a generated id so the same subject can have more than
// one listener, per hub.go's map[topic]map[agentID]registration shape.
func (c *Coordinator) AddBroadcastSubscriber(subject string, handler func(ctx context.Context, msg any)) error {
	if subject == "" {
		return fmt.Errorf("coordinator: empty broadcast subject")
	}
	c.mu.Lock()
	if c.broadcast[subject] == nil {
		c.broadcast[subject] = make(map[string]BroadcastHandler)
	}
	id := fmt.Sprintf("sub-%d", len(c.broadcast[subject]))
	c.broadcast[subject][id] = handler
	c.mu.Unlock()
	c.emit(observability.EventCoordinatorSubscribe, map[string]any{"kind": "broadcast", "subject": subject})
	return nil
}

// RemoveBroadcastSubscriber drops every listener registered for subject.
// The Coordinator interface has no per-listener handle, so this removes
// the whole subject the way a Process's single broadcast subscription
// would expect on cleanup.
func (c *Coordinator) RemoveBroadcastSubscriber(subject string) error {
	c.mu.Lock()
	delete(c.broadcast, subject)
	c.mu.Unlock()
	c.emit(observability.EventCoordinatorUnsubscribe, map[string]any{"kind": "broadcast", "subject": subject})
	return nil
}

// BroadcastSend delivers body to every subject subscriber, best-effort:
// a delivery failure (a handler panic, recovered below) is logged and
// counted, never aborts the remaining fan-out, matching
// hub.Broadcast/Publish's "log and continue" behavior.
func (c *Coordinator) BroadcastSend(ctx context.Context, subject string, body any) error {
	c.mu.RLock()
	subs := c.broadcast[subject]
	handlers := make([]BroadcastHandler, 0, len(subs))
	for _, h := range subs {
		handlers = append(handlers, h)
	}
	c.mu.RUnlock()

	delivered := 0
	for _, h := range handlers {
		if c.safeBroadcast(ctx, h, body) {
			delivered++
		}
	}
	c.logger.Debug("broadcast sent", "coordinator", c.name, "subject", subject,
		"subscribers", len(handlers), "delivered", delivered)
	return nil
}

func (c *Coordinator) safeBroadcast(ctx context.Context, h BroadcastHandler, body any) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			c.emit(observability.EventCoordinatorDeliverFail, map[string]any{"panic": fmt.Sprint(r)})
		}
	}()
	h(ctx, body)
	return true
}

// -- Controller-facing sending surface --------------------------------

// RPCSend delivers msg to recipientID's registered RPC handler and
// returns its reply, per spec.md §6's rpc_send(recipient_id, msg). A
// missing recipient or a handler error is reported as a typed
// *connect.Error so a Controller can distinguish "nobody there"
// (CodeNotFound) from a handler error or panic (CodeInternal, or the
// handler's own *connect.Error unchanged) and from a timeout or
// cancellation (CodeDeadlineExceeded/CodeCanceled), rather than
// string-matching error text.
func (c *Coordinator) RPCSend(ctx context.Context, recipientID string, msg any) (any, error) {
	c.mu.RLock()
	handler, ok := c.rpc[recipientID]
	c.mu.RUnlock()

	if !ok {
		err := connect.NewError(connect.CodeNotFound, fmt.Errorf("coordinator: no rpc subscriber for %q", recipientID))
		c.emit(observability.EventCoordinatorDeliverFail, map[string]any{"id": recipientID, "error": err.Error()})
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	result, err := c.callRPC(ctx, handler, msg)
	if err != nil {
		wrapped := asConnectError(err, ctx)
		c.emit(observability.EventCoordinatorDeliverFail, map[string]any{"id": recipientID, "error": wrapped.Error()})
		return nil, wrapped
	}
	c.emit(observability.EventCoordinatorDeliver, map[string]any{"id": recipientID})
	return result, nil
}

func (c *Coordinator) callRPC(ctx context.Context, handler RPCHandler, msg any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("coordinator: rpc handler panicked: %v", r)
		}
	}()
	return handler(ctx, msg)
}

func (c *Coordinator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.defaultTimeout)
}

func asConnectError(err error, ctx context.Context) *connect.Error {
	if ce, ok := err.(*connect.Error); ok {
		return ce
	}
	if ctx.Err() == context.DeadlineExceeded {
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}
	if ctx.Err() == context.Canceled {
		return connect.NewError(connect.CodeCanceled, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

// AddTaskSubscriber/RemoveTaskSubscriber/TaskSend round out spec.md
// §6's add_task_subscriber/task_send, kept distinct from the RPC
// surface: a task is addressed to a queue name rather than a recipient
// id (task_send(task, no_reply?)). With noReply it is delivered to every
// registered task handler for the queue; otherwise it is delivered to a
// single handler of the queue (which one is not defined when there are
// several) and that handler's reply is returned.
func (c *Coordinator) AddTaskSubscriber(queue, id string, handler TaskHandler) error {
	c.mu.Lock()
	if c.task[queue] == nil {
		c.task[queue] = make(map[string]TaskHandler)
	}
	c.task[queue][id] = handler
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) RemoveTaskSubscriber(queue, id string) error {
	c.mu.Lock()
	if subs, ok := c.task[queue]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(c.task, queue)
		}
	}
	c.mu.Unlock()
	return nil
}

// TaskSend delivers task to queue's subscribers. If noReply, it hands
// the task to every subscriber in the background and returns at once;
// otherwise it calls one subscriber and waits for and returns its reply.
func (c *Coordinator) TaskSend(ctx context.Context, queue string, task any, noReply bool) (any, error) {
	c.mu.RLock()
	subs := c.task[queue]
	handlers := make([]TaskHandler, 0, len(subs))
	for _, h := range subs {
		handlers = append(handlers, h)
	}
	c.mu.RUnlock()

	if len(handlers) == 0 {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("coordinator: no task subscribers for queue %q", queue))
	}

	if noReply {
		for _, h := range handlers {
			go func(h TaskHandler) { _, _ = h(ctx, task) }(h)
		}
		return nil, nil
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	result, err := handlers[0](ctx, task)
	if err != nil {
		return nil, asConnectError(err, ctx)
	}
	return result, nil
}

func (c *Coordinator) emit(typ observability.EventType, data map[string]any) {
	c.observer.OnEvent(context.Background(), observability.Event{
		Type: typ, Level: observability.LevelOf(typ), Timestamp: time.Now(), Source: "coordinator.Coordinator", Data: data,
	})
}

// RecipientIDs returns every id with a live RPC subscription, used by
// the Sync controller to fan broadcast-style mass commands out as
// individual RPCSend calls alongside the broadcast itself (see
// controller/sync.go).
func (c *Coordinator) RecipientIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.rpc))
	for id := range c.rpc {
		out = append(out, id)
	}
	return out
}
