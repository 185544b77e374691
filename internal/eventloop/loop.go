// Package eventloop serializes inbound remote events and client operations
// against one session.
//
// A single goroutine (Run) owns both request channels and all in-memory
// session state, so no two events are ever processed concurrently. Callers
// submit through a Sender, which any number of goroutines may share.
//
// Each iteration drains the remote-event channel before looking at the
// client-operation channel, so protocol events are never starved by a
// backlog of local operations.
//
// State machine:
//
//	Running -> Draining (ctx cancelled, current request finishing) -> Stopped
//
// There is no restart; build a new loop instead.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/courier/internal/model"
)

// DefaultCapacity is the buffer size of each request channel.
const DefaultCapacity = 1024

var (
	// ErrStopped is returned by Sender methods once the loop has stopped.
	ErrStopped = errors.New("event loop stopped")

	// ErrSessionGone is returned by Run when the session was destroyed.
	ErrSessionGone = errors.New("session destroyed")
)

// HandleID identifies a handle queue (out-of-band contact requests).
type HandleID string

// HandleMessage is one encrypted message from a handle queue.
type HandleMessage struct {
	SequenceNumber uint64
	Ciphertext     []byte
}

// Session is the state the loop processes events against.
type Session interface {
	// ProcessQueueMessages decrypts and stores a batch of queue messages.
	// dropped counts messages that could not be processed and were skipped.
	ProcessQueueMessages(ctx context.Context, msgs []QueueMessage) (processed, dropped int, err error)

	// ProcessHandleMessage processes a contact request received on a
	// handle queue and returns the chat it belongs to.
	ProcessHandleMessage(ctx context.Context, handle HandleID, msg HandleMessage) (model.ChatID, error)

	// NotifyWork wakes the outbound service.
	NotifyWork()
}

// SessionRef is a non-owning handle on the session. Upgrade reports false
// once the session has been destroyed.
type SessionRef interface {
	Upgrade() (Session, bool)
}

// State is the lifecycle state of a loop.
type State int32

const (
	Idle State = iota
	Running
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// request is one unit of loop work. close resolves any unsent responder.
type request interface {
	run(ctx context.Context, stream *streamProcessor, s Session)
	close()
}

type queueEventRequest struct {
	event QueueEvent
	resp  *Responder[ProcessResult]
}

func (r *queueEventRequest) run(ctx context.Context, stream *streamProcessor, s Session) {
	r.resp.Send(stream.process(ctx, r.event, s))
}

func (r *queueEventRequest) close() { r.resp.Close() }

type handleMessageRequest struct {
	handle HandleID
	msg    HandleMessage
	resp   *Responder[model.ChatID]
}

func (r *handleMessageRequest) run(ctx context.Context, _ *streamProcessor, s Session) {
	r.resp.Send(s.ProcessHandleMessage(ctx, r.handle, r.msg))
}

func (r *handleMessageRequest) close() { r.resp.Close() }

type replaceResponderOp struct {
	responder ListenResponder
}

func (op *replaceResponderOp) run(_ context.Context, stream *streamProcessor, _ Session) {
	stream.responder = op.responder
}

func (op *replaceResponderOp) close() {}

// EventLoop is the serialization point. Create with New.
type EventLoop struct {
	remote chan request
	client chan request
	quit   chan struct{}
	done   chan struct{}

	closeOnce sync.Once
	state     atomic.Int32
	stream    streamProcessor
}

// New creates a loop with the given channel capacity and a Sender for it.
// capacity <= 0 selects DefaultCapacity.
func New(capacity int) (*EventLoop, Sender) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &EventLoop{
		remote: make(chan request, capacity),
		client: make(chan request, capacity),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	return l, Sender{l: l}
}

// State returns the current lifecycle state.
func (l *EventLoop) State() State { return State(l.state.Load()) }

// Done is closed once Run has returned.
func (l *EventLoop) Done() <-chan struct{} { return l.done }

// Close stops accepting requests. Run finishes the request in progress and
// returns. Safe to call more than once.
func (l *EventLoop) Close() {
	l.closeOnce.Do(func() { close(l.quit) })
}

// Run processes requests until ctx is cancelled, Close is called, or the
// session is gone. It must be called at most once.
func (l *EventLoop) Run(ctx context.Context, ref SessionRef) error {
	if !l.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return fmt.Errorf("run event loop: %w", ErrStopped)
	}
	stopDraining := context.AfterFunc(ctx, func() {
		l.state.CompareAndSwap(int32(Running), int32(Draining))
	})
	defer func() {
		stopDraining()
		l.state.Store(int32(Stopped))
		l.Close()
		l.cancelQueued()
		close(l.done)
	}()

	// Requests in progress finish even if ctx is cancelled meanwhile.
	work := context.WithoutCancel(ctx)
	slog.Info("event loop starting")

	for {
		req, err := l.next(ctx)
		if err != nil {
			slog.Info("event loop stopping", "reason", err)
			if errors.Is(err, ErrStopped) {
				return nil
			}
			return err
		}

		session, ok := ref.Upgrade()
		if !ok {
			req.close()
			slog.Error("event loop stopping: session destroyed")
			return ErrSessionGone
		}
		l.dispatch(work, req, session)
	}
}

// next returns the next request, preferring remote events.
func (l *EventLoop) next(ctx context.Context) (request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case <-l.quit:
		return nil, ErrStopped
	default:
	}

	select {
	case req := <-l.remote:
		return req, nil
	default:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.quit:
		return nil, ErrStopped
	case req := <-l.remote:
		return req, nil
	case req := <-l.client:
		return req, nil
	}
}

func (l *EventLoop) dispatch(ctx context.Context, req request, s Session) {
	defer req.close()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event loop handler panicked", "panic", r, "request", fmt.Sprintf("%T", req))
		}
	}()
	req.run(ctx, &l.stream, s)
}

// cancelQueued resolves requests still buffered after the loop stopped.
func (l *EventLoop) cancelQueued() {
	for {
		select {
		case req := <-l.remote:
			req.close()
		case req := <-l.client:
			req.close()
		default:
			return
		}
	}
}

// Sender submits requests to an EventLoop. The zero value is unusable; the
// value returned by New may be copied freely.
type Sender struct {
	l *EventLoop
}

func (s Sender) submit(ctx context.Context, ch chan request, req request) error {
	select {
	case <-s.l.done:
		return ErrStopped
	case <-s.l.quit:
		return ErrStopped
	default:
	}
	select {
	case ch <- req:
		return nil
	case <-s.l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ProcessQueueEvent submits a listen-stream event and waits for its result.
// Abandoning the wait via ctx does not cancel processing.
func (s Sender) ProcessQueueEvent(ctx context.Context, ev QueueEvent) (ProcessResult, error) {
	r, resp := NewResponder[ProcessResult]()
	if err := s.submit(ctx, s.l.remote, &queueEventRequest{event: ev, resp: r}); err != nil {
		return ProcessResult{}, err
	}
	return wait(ctx, s.l, resp)
}

// ProcessHandleMessage submits a handle-queue message and waits for the
// chat it was processed into.
func (s Sender) ProcessHandleMessage(ctx context.Context, handle HandleID, msg HandleMessage) (model.ChatID, error) {
	r, resp := NewResponder[model.ChatID]()
	if err := s.submit(ctx, s.l.remote, &handleMessageRequest{handle: handle, msg: msg, resp: r}); err != nil {
		return model.ChatID{}, err
	}
	return wait(ctx, s.l, resp)
}

// ReplaceListenResponder swaps the responder used to ack queue messages.
// It returns once the request is queued, not once it is applied.
func (s Sender) ReplaceListenResponder(ctx context.Context, r ListenResponder) error {
	return s.submit(ctx, s.l.client, &replaceResponderOp{responder: r})
}

// wait is Response.Wait that also gives up once the loop has stopped
// without resolving resp.
func wait[T any](ctx context.Context, l *EventLoop, resp *Response[T]) (T, error) {
	select {
	case res := <-resp.ch:
		return res.value, res.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-l.done:
		select {
		case res := <-resp.ch:
			return res.value, res.err
		default:
			var zero T
			return zero, ErrStopped
		}
	}
}
